// Package handler exposes the check-in service over HTTP.
package handler

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"qrattend/internal/archive"
	"qrattend/internal/attendance"
	"qrattend/internal/clock"
	"qrattend/internal/export"
	"qrattend/internal/live"
	"qrattend/internal/mirror"
)

const (
	mimeXLSX = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	mimeCSV  = "text/csv; charset=utf-8"
)

// ArchiveLister reads archived check-ins.
type ArchiveLister interface {
	List(ctx context.Context, f archive.Filter) ([]archive.Entry, error)
}

// HealthCheck reports whether one dependency is reachable.
type HealthCheck func(ctx context.Context) bool

// Options carries the optional collaborators of a Handler.
type Options struct {
	Hub       *live.Hub
	Publisher *mirror.Publisher
	Archive   ArchiveLister
	Exports   export.Recorder
	IDHeaders []string
	Health    map[string]HealthCheck
	Clock     clock.Clock
	Log       *slog.Logger
}

// Handler serves the faculty and student endpoints.
type Handler struct {
	svc  *attendance.Service
	opts Options
	log  *slog.Logger
}

// New creates a handler over svc.
func New(svc *attendance.Service, opts Options) *Handler {
	if opts.Log == nil {
		opts.Log = slog.Default()
	}
	if opts.Clock == nil {
		opts.Clock = clock.Real()
	}
	return &Handler{svc: svc, opts: opts, log: opts.Log}
}

// Register mounts every route on r.
func (h *Handler) Register(r gin.IRouter) {
	r.GET("/qr", h.issue)
	r.POST("/validate", h.validate)
	r.GET("/summary", h.summary)
	r.POST("/reset", h.reset)
	r.GET("/download/excel", h.downloadExcel)
	r.GET("/download/csv", h.downloadCSV)
	r.POST("/export/roster", h.fillRoster)
	r.GET("/archive/records", h.archiveRecords)
	r.GET("/healthz", h.healthz)
	if h.opts.Hub != nil {
		r.GET("/ws/attendance", h.opts.Hub.ServeWS)
	}
}

func (h *Handler) issue(c *gin.Context) {
	code, err := h.svc.Issue()
	if err != nil {
		msg := attendance.MsgGenerationFailed
		var aerr *attendance.Error
		if errors.As(err, &aerr) {
			msg = aerr.Message
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": msg})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"data":       code.Value,
		"image":      code.DataURL(),
		"issued_at":  code.IssuedAt,
		"expires_at": code.ExpiresAt,
		"expires_in": int(h.svc.Window().Seconds()),
	})
}

type validateRequest struct {
	Code        string `json:"qr_code" form:"qr_code"`
	StudentID   string `json:"student_id" form:"student_id"`
	StudentName string `json:"student_name" form:"student_name"`
}

func (h *Handler) validate(c *gin.Context) {
	var req validateRequest
	if err := c.ShouldBind(&req); err != nil {
		// malformed bodies are treated like empty ones
		req = validateRequest{}
	}

	res := h.svc.Validate(req.Code, req.StudentID, req.StudentName)
	if !res.Accepted() {
		c.JSON(http.StatusBadRequest, gin.H{
			"valid":     false,
			"message":   res.Message,
			"reason":    res.Outcome,
			"timestamp": res.Timestamp,
		})
		return
	}

	rec := *res.Record
	h.opts.Publisher.Publish(c.Request.Context(), rec)
	h.opts.Hub.Broadcast(live.Event{Type: live.EventCheckin, Record: &rec, Count: h.svc.Count()})

	c.JSON(http.StatusOK, gin.H{
		"valid":     true,
		"message":   res.Message,
		"timestamp": res.Timestamp,
		"record":    rec,
	})
}

func (h *Handler) summary(c *gin.Context) {
	c.JSON(http.StatusOK, h.svc.Summary())
}

func (h *Handler) reset(c *gin.Context) {
	h.svc.Reset()
	h.opts.Hub.Broadcast(live.Event{Type: live.EventReset})
	c.JSON(http.StatusOK, gin.H{"message": "Attendance session reset"})
}

func (h *Handler) downloadExcel(c *gin.Context) {
	var buf bytes.Buffer
	err := export.WriteReport(&buf, h.svc.Snapshot())
	h.recordExport("xlsx", err)
	if err != nil {
		h.log.Error("report export failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "export failed"})
		return
	}
	h.attachment(c, export.ReportFilename(h.now()), mimeXLSX, buf.Bytes())
}

func (h *Handler) downloadCSV(c *gin.Context) {
	var buf bytes.Buffer
	err := export.WriteCSV(&buf, h.svc.Snapshot())
	h.recordExport("csv", err)
	if err != nil {
		h.log.Error("csv export failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "export failed"})
		return
	}
	h.attachment(c, export.CSVFilename(h.now()), mimeCSV, buf.Bytes())
}

func (h *Handler) fillRoster(c *gin.Context) {
	fh, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "file field required"})
		return
	}
	f, err := fh.Open()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "read file failed"})
		return
	}
	defer f.Close()

	var buf bytes.Buffer
	res, err := export.FillRoster(f, &buf, h.svc.Snapshot(), h.opts.IDHeaders)
	h.recordExport("roster", err)
	if err != nil {
		h.log.Warn("roster fill failed", "file", fh.Filename, "error", err)
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	c.Header("X-Roster-Present", strconv.Itoa(res.Present))
	c.Header("X-Roster-Absent", strconv.Itoa(res.Absent))
	c.Header("X-Roster-Appended", strconv.Itoa(res.Appended))
	name := strings.ReplaceAll(filepath.Base(fh.Filename), `"`, "")
	h.attachment(c, name, mimeXLSX, buf.Bytes())
}

func (h *Handler) archiveRecords(c *gin.Context) {
	if h.opts.Archive == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "archive not configured"})
		return
	}
	f := archive.Filter{
		StudentID: c.Query("student_id"),
		Code:      c.Query("code"),
	}
	if v, err := strconv.Atoi(c.Query("limit")); err == nil {
		f.Limit = v
	}
	if v, err := strconv.Atoi(c.Query("offset")); err == nil {
		f.Offset = v
	}
	entries, err := h.opts.Archive.List(c.Request.Context(), f)
	if err != nil {
		h.log.Error("archive list failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "archive unavailable"})
		return
	}
	if entries == nil {
		entries = []archive.Entry{}
	}
	c.JSON(http.StatusOK, gin.H{"records": entries})
}

func (h *Handler) healthz(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	body := gin.H{"status": "ok", "ledger_records": h.svc.Count(), "live_clients": h.opts.Hub.Clients()}
	status := http.StatusOK
	for name, check := range h.opts.Health {
		ok := check(ctx)
		body[name] = ok
		if !ok {
			status = http.StatusServiceUnavailable
			body["status"] = "degraded"
		}
	}
	c.JSON(status, body)
}

func (h *Handler) attachment(c *gin.Context, filename, contentType string, data []byte) {
	c.Header("Content-Disposition", `attachment; filename="`+filename+`"`)
	c.Data(http.StatusOK, contentType, data)
}

func (h *Handler) recordExport(format string, err error) {
	if h.opts.Exports != nil {
		h.opts.Exports.Exported(format, err)
	}
}

func (h *Handler) now() time.Time { return h.opts.Clock.Now().UTC() }
