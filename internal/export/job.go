package export

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/robfig/cron/v3"

	"qrattend/internal/attendance"
	"qrattend/internal/clock"
	"qrattend/internal/cloudinary"
)

// Source supplies the records to export.
type Source interface {
	Snapshot() []attendance.Record
}

// Uploader stores a finished report somewhere off the host.
type Uploader interface {
	UploadRaw(ctx context.Context, data []byte, filename string) (*cloudinary.UploadResult, error)
}

// Recorder counts export attempts.
type Recorder interface {
	Exported(format string, err error)
}

// Job mirrors the ledger into EXPORT_DIR, an optional roster workbook and an
// optional upload target.
type Job struct {
	Source     Source
	Dir        string
	RosterPath string
	IDHeaders  []string
	Uploader   Uploader
	Recorder   Recorder
	Log        *slog.Logger
	Clock      clock.Clock
}

// Run performs one export. It does nothing when the ledger is empty.
func (j *Job) Run(ctx context.Context) error {
	log := j.logger()
	clk := j.Clock
	if clk == nil {
		clk = clock.Real()
	}

	records := j.Source.Snapshot()
	if len(records) == 0 {
		log.Debug("export skipped, ledger empty")
		return nil
	}

	var buf bytes.Buffer
	err := WriteReport(&buf, records)
	j.record("xlsx", err)
	if err != nil {
		return err
	}

	name := ReportFilename(clk.Now().UTC())
	var errs []error
	if j.Dir != "" {
		if err := os.MkdirAll(j.Dir, 0o755); err != nil {
			errs = append(errs, fmt.Errorf("create export dir: %w", err))
		} else {
			path := filepath.Join(j.Dir, name)
			if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
				errs = append(errs, fmt.Errorf("write report: %w", err))
			} else {
				log.Info("report written", "path", path, "records", len(records))
			}
		}
	}

	if j.RosterPath != "" {
		res, err := FillRosterFile(j.RosterPath, records, j.IDHeaders)
		j.record("roster", err)
		if err != nil {
			errs = append(errs, fmt.Errorf("fill roster: %w", err))
		} else {
			log.Info("roster updated", "path", j.RosterPath, "sheet", res.Sheet,
				"present", res.Present, "absent", res.Absent, "appended", res.Appended)
		}
	}

	if j.Uploader != nil {
		res, err := j.Uploader.UploadRaw(ctx, buf.Bytes(), name)
		j.record("upload", err)
		if err != nil {
			errs = append(errs, err)
		} else {
			log.Info("report uploaded", "url", res.SecureURL)
		}
	}
	return errors.Join(errs...)
}

// Schedule starts a cron that runs the job on schedule. Overlapping runs are
// skipped. Stop the returned cron on shutdown.
func (j *Job) Schedule(schedule string) (*cron.Cron, error) {
	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DefaultLogger)))
	_, err := c.AddFunc(schedule, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
		defer cancel()
		if err := j.Run(ctx); err != nil {
			j.logger().Error("scheduled export failed", "error", err)
		}
	})
	if err != nil {
		return nil, fmt.Errorf("export schedule %q: %w", schedule, err)
	}
	c.Start()
	return c, nil
}

func (j *Job) record(format string, err error) {
	if j.Recorder != nil {
		j.Recorder.Exported(format, err)
	}
}

func (j *Job) logger() *slog.Logger {
	if j.Log == nil {
		return slog.Default()
	}
	return j.Log
}
