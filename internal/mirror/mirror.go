// Package mirror drains the check-in queue into the archive.
package mirror

import (
	"context"
	"log/slog"
	"time"

	"qrattend/internal/attendance"
	"qrattend/internal/queue"
)

// Archiver stores accepted check-ins.
type Archiver interface {
	Insert(ctx context.Context, rec attendance.Record) error
}

// Mirror copies queued check-ins into an Archiver.
type Mirror struct {
	Archive Archiver
	Log     *slog.Logger
	// Retries is how many extra attempts a failed insert gets.
	Retries int
	Backoff time.Duration
}

// New creates a mirror with two retries and a short backoff.
func New(a Archiver, log *slog.Logger) *Mirror {
	if log == nil {
		log = slog.Default()
	}
	return &Mirror{Archive: a, Log: log, Retries: 2, Backoff: 200 * time.Millisecond}
}

// Run consumes msgs until the channel closes or ctx is done and returns how
// many records were archived.
func (m *Mirror) Run(ctx context.Context, msgs <-chan queue.Message) int {
	archived := 0
	for {
		select {
		case <-ctx.Done():
			return archived
		case msg, ok := <-msgs:
			if !ok {
				return archived
			}
			if m.handle(ctx, msg) {
				archived++
			}
		}
	}
}

func (m *Mirror) handle(ctx context.Context, msg queue.Message) bool {
	if msg.Type != queue.TypeCheckin {
		m.Log.Debug("skipping message", "type", msg.Type)
		return false
	}
	rec, err := msg.Record()
	if err != nil {
		m.Log.Warn("undecodable checkin message", "error", err)
		return false
	}

	for attempt := 0; ; attempt++ {
		err = m.Archive.Insert(ctx, rec)
		if err == nil {
			m.Log.Debug("checkin archived", "id", rec.ID, "student_id", rec.StudentID)
			return true
		}
		if attempt >= m.Retries || ctx.Err() != nil {
			break
		}
		select {
		case <-time.After(m.Backoff):
		case <-ctx.Done():
		}
	}
	m.Log.Error("archive insert failed", "id", rec.ID, "error", err)
	return false
}

// DefaultPublishTimeout bounds how long a request waits on the queue.
const DefaultPublishTimeout = 2 * time.Second

// Publisher enqueues accepted check-ins for the mirror.
type Publisher struct {
	Queue   queue.Queue
	Log     *slog.Logger
	Timeout time.Duration
}

// Publish enqueues rec, waiting at most Timeout. Failures are logged, never
// returned, so the live session is unaffected by archive outages.
func (p *Publisher) Publish(ctx context.Context, rec attendance.Record) {
	if p == nil || p.Queue == nil {
		return
	}
	timeout := p.Timeout
	if timeout <= 0 {
		timeout = DefaultPublishTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	msg, err := queue.CheckinMessage(rec)
	if err == nil {
		err = p.Queue.Publish(ctx, msg)
	}
	if err != nil && p.Log != nil {
		p.Log.Warn("checkin not queued for archive", "id", rec.ID, "error", err)
	}
}
