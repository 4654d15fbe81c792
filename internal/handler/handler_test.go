package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/xuri/excelize/v2"

	"qrattend/internal/archive"
	"qrattend/internal/attendance"
	"qrattend/internal/clock"
	"qrattend/internal/codes"
	"qrattend/internal/mirror"
	"qrattend/internal/queue"
)

func init() {
	gin.SetMode(gin.TestMode)
}

var epoch = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

type testServer struct {
	router *gin.Engine
	clock  *clock.FakeClock
	queue  *queue.InMemory
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestServer(t *testing.T, opts Options, tokens ...string) *testServer {
	t.Helper()
	clk := clock.Fake(epoch)
	i := 0
	reg := codes.New(
		codes.WithClock(clk),
		codes.WithWindow(30*time.Second),
		codes.WithEncoder(codes.EncoderFunc(func(v string) ([]byte, error) { return []byte("png:" + v), nil })),
		codes.WithGenerator(func(n int) (string, error) {
			if i >= len(tokens) {
				return "", errors.New("out of tokens")
			}
			v := tokens[i]
			i++
			return v, nil
		}),
	)
	svc := attendance.NewService(reg, attendance.NewLedger(), attendance.WithClock(clk), attendance.WithLogger(quietLogger()))

	q := queue.NewInMemory(16)
	if opts.Publisher == nil {
		opts.Publisher = &mirror.Publisher{Queue: q}
	}
	opts.Clock = clk
	opts.Log = quietLogger()

	r := gin.New()
	New(svc, opts).Register(r)
	return &testServer{router: r, clock: clk, queue: q}
}

func (s *testServer) do(method, path string, body io.Reader, contentType string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(method, path, body)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	s.router.ServeHTTP(w, req)
	return w
}

func (s *testServer) submit(code, student string) (*httptest.ResponseRecorder, map[string]any) {
	body, _ := json.Marshal(map[string]string{"qr_code": code, "student_id": student, "student_name": "Student " + student})
	w := s.do(http.MethodPost, "/validate", bytes.NewReader(body), "application/json")
	var out map[string]any
	_ = json.Unmarshal(w.Body.Bytes(), &out)
	return w, out
}

func TestIssueEndpoint(t *testing.T) {
	s := newTestServer(t, Options{}, "AB12x9")
	w := s.do(http.MethodGet, "/qr", nil, "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", w.Code, w.Body)
	}
	var out struct {
		Data      string    `json:"data"`
		Image     string    `json:"image"`
		ExpiresAt time.Time `json:"expires_at"`
		ExpiresIn int       `json:"expires_in"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
		t.Fatalf("Unmarshal() error: %v", err)
	}
	if out.Data != "AB12x9" || out.ExpiresIn != 30 || !out.ExpiresAt.Equal(epoch.Add(30*time.Second)) {
		t.Fatalf("response = %+v", out)
	}
	if !strings.HasPrefix(out.Image, "data:image/png;base64,") {
		t.Fatalf("image = %q", out.Image)
	}
}

func TestIssueGenerationFailure(t *testing.T) {
	s := newTestServer(t, Options{})
	w := s.do(http.MethodGet, "/qr", nil, "")
	if w.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", w.Code)
	}
	if !strings.Contains(w.Body.String(), attendance.MsgGenerationFailed) {
		t.Fatalf("body = %s", w.Body)
	}
}

func TestValidateFlow(t *testing.T) {
	s := newTestServer(t, Options{}, "ZZ99")
	s.do(http.MethodGet, "/qr", nil, "")

	w, out := s.submit("ZZ99", "S1")
	if w.Code != http.StatusOK || out["valid"] != true || out["message"] != attendance.MsgAccepted {
		t.Fatalf("first submit = %d %v", w.Code, out)
	}

	w, out = s.submit("ZZ99", "S1")
	if w.Code != http.StatusBadRequest || out["message"] != attendance.MsgDuplicate || out["reason"] != "duplicate_rejected" {
		t.Fatalf("duplicate = %d %v", w.Code, out)
	}

	w, out = s.submit("ZZ99", "S2")
	if w.Code != http.StatusBadRequest || out["message"] != attendance.MsgCodeUnknown {
		t.Fatalf("consumed code = %d %v", w.Code, out)
	}

	// accepted record was queued for the archive
	select {
	case msg := <-mustConsume(t, s.queue):
		rec, err := msg.Record()
		if err != nil || rec.StudentID != "S1" {
			t.Fatalf("queued = %+v, %v", rec, err)
		}
	case <-time.After(time.Second):
		t.Fatal("accepted record was not published")
	}
}

func mustConsume(t *testing.T, q *queue.InMemory) <-chan queue.Message {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	out, err := q.Consume(ctx)
	if err != nil {
		t.Fatalf("Consume() error: %v", err)
	}
	return out
}

func TestValidateExpired(t *testing.T) {
	s := newTestServer(t, Options{}, "AB12x9")
	s.do(http.MethodGet, "/qr", nil, "")
	s.clock.Advance(31 * time.Second)

	w, out := s.submit("AB12x9", "S1")
	if w.Code != http.StatusBadRequest || out["message"] != attendance.MsgCodeExpired {
		t.Fatalf("expired = %d %v", w.Code, out)
	}
}

func TestValidateMissingAndMalformed(t *testing.T) {
	s := newTestServer(t, Options{})
	w, out := s.submit("", "S1")
	if w.Code != http.StatusBadRequest || out["message"] != attendance.MsgInputMissing {
		t.Fatalf("missing = %d %v", w.Code, out)
	}

	w = s.do(http.MethodPost, "/validate", strings.NewReader("{"), "application/json")
	if w.Code != http.StatusBadRequest || !strings.Contains(w.Body.String(), attendance.MsgInputMissing) {
		t.Fatalf("malformed = %d %s", w.Code, w.Body)
	}
}

func TestValidateAcceptsForm(t *testing.T) {
	s := newTestServer(t, Options{}, "F0RM")
	s.do(http.MethodGet, "/qr", nil, "")
	w := s.do(http.MethodPost, "/validate", strings.NewReader("qr_code=F0RM&student_id=S9"), "application/x-www-form-urlencoded")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", w.Code, w.Body)
	}
}

func TestSummaryAndReset(t *testing.T) {
	s := newTestServer(t, Options{}, "A1", "B2")
	for _, student := range []string{"S1", "S2"} {
		code := map[string]string{"S1": "A1", "S2": "B2"}[student]
		s.do(http.MethodGet, "/qr", nil, "")
		if w, out := s.submit(code, student); w.Code != http.StatusOK {
			t.Fatalf("submit %s = %d %v", student, w.Code, out)
		}
	}

	var sum attendance.Summary
	w := s.do(http.MethodGet, "/summary", nil, "")
	if err := json.Unmarshal(w.Body.Bytes(), &sum); err != nil {
		t.Fatalf("Unmarshal() error: %v", err)
	}
	if sum.Count != 2 || sum.DistinctStudents != 2 || len(sum.Records) != 2 {
		t.Fatalf("summary = %+v", sum)
	}

	if w := s.do(http.MethodPost, "/reset", nil, ""); w.Code != http.StatusOK {
		t.Fatalf("reset status = %d", w.Code)
	}
	w = s.do(http.MethodGet, "/summary", nil, "")
	if !strings.Contains(w.Body.String(), `"total_count":0`) {
		t.Fatalf("summary after reset = %s", w.Body)
	}
}

func TestDownloads(t *testing.T) {
	s := newTestServer(t, Options{}, "ZZ99")
	s.do(http.MethodGet, "/qr", nil, "")
	s.submit("ZZ99", "S1")

	w := s.do(http.MethodGet, "/download/excel", nil, "")
	if w.Code != http.StatusOK {
		t.Fatalf("excel status = %d", w.Code)
	}
	if got := w.Header().Get("Content-Disposition"); !strings.Contains(got, "Attendance_Report_2026-03-02.xlsx") {
		t.Fatalf("Content-Disposition = %q", got)
	}
	if _, err := excelize.OpenReader(w.Body); err != nil {
		t.Fatalf("excel body is not a workbook: %v", err)
	}

	w = s.do(http.MethodGet, "/download/csv", nil, "")
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), "S1,Student S1,ZZ99") {
		t.Fatalf("csv = %d %s", w.Code, w.Body)
	}
}

func TestFillRosterEndpoint(t *testing.T) {
	s := newTestServer(t, Options{}, "ZZ99")
	s.do(http.MethodGet, "/qr", nil, "")
	s.submit("ZZ99", "S1")

	f := excelize.NewFile()
	sheet := f.GetSheetName(0)
	f.SetCellValue(sheet, "A1", "Student ID")
	f.SetCellValue(sheet, "A2", "S1")
	f.SetCellValue(sheet, "A3", "S2")
	var roster bytes.Buffer
	if err := f.Write(&roster); err != nil {
		t.Fatalf("Write() error: %v", err)
	}
	f.Close()

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, _ := mw.CreateFormFile("file", "class-7b.xlsx")
	part.Write(roster.Bytes())
	mw.Close()

	w := s.do(http.MethodPost, "/export/roster", &body, mw.FormDataContentType())
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", w.Code, w.Body)
	}
	if w.Header().Get("X-Roster-Present") != "1" || w.Header().Get("X-Roster-Absent") != "1" {
		t.Fatalf("headers = %v", w.Header())
	}

	w = s.do(http.MethodPost, "/export/roster", nil, "")
	if w.Code != http.StatusBadRequest {
		t.Fatalf("missing file status = %d", w.Code)
	}
}

type fakeArchive struct {
	got     archive.Filter
	entries []archive.Entry
}

func (a *fakeArchive) List(_ context.Context, f archive.Filter) ([]archive.Entry, error) {
	a.got = f
	return a.entries, nil
}

func TestArchiveRecords(t *testing.T) {
	s := newTestServer(t, Options{})
	if w := s.do(http.MethodGet, "/archive/records", nil, ""); w.Code != http.StatusNotFound {
		t.Fatalf("unconfigured status = %d", w.Code)
	}

	arch := &fakeArchive{entries: []archive.Entry{{Record: attendance.Record{ID: "a", StudentID: "S1"}}}}
	s = newTestServer(t, Options{Archive: arch})
	w := s.do(http.MethodGet, "/archive/records?student_id=S1&limit=5&offset=2", nil, "")
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), `"student_id":"S1"`) {
		t.Fatalf("archive = %d %s", w.Code, w.Body)
	}
	if arch.got.StudentID != "S1" || arch.got.Limit != 5 || arch.got.Offset != 2 {
		t.Fatalf("filter = %+v", arch.got)
	}
}

func TestHealthz(t *testing.T) {
	s := newTestServer(t, Options{Health: map[string]HealthCheck{
		"redis": func(context.Context) bool { return false },
	}})
	w := s.do(http.MethodGet, "/healthz", nil, "")
	if w.Code != http.StatusServiceUnavailable || !strings.Contains(w.Body.String(), `"redis":false`) {
		t.Fatalf("healthz = %d %s", w.Code, w.Body)
	}

	s = newTestServer(t, Options{})
	if w := s.do(http.MethodGet, "/healthz", nil, ""); w.Code != http.StatusOK {
		t.Fatalf("healthz without checks = %d", w.Code)
	}
}

func TestValidateRespondsWhenArchiveQueueIsFull(t *testing.T) {
	full := queue.NewInMemory(0)
	s := newTestServer(t, Options{Publisher: &mirror.Publisher{Queue: full, Timeout: 50 * time.Millisecond}}, "ZZ99")
	s.do(http.MethodGet, "/qr", nil, "")

	done := make(chan int, 1)
	go func() {
		w, _ := s.submit("ZZ99", "S1")
		done <- w.Code
	}()
	select {
	case code := <-done:
		if code != http.StatusOK {
			t.Fatalf("status = %d, want 200", code)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("/validate blocked on the archive queue")
	}
}
