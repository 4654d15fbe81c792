package attendance

import (
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"qrattend/internal/clock"
	"qrattend/internal/codes"
)

// Outcome is the terminal state of one submission.
type Outcome string

const (
	OutcomeAccepted     Outcome = "accepted"
	OutcomeInputMissing Outcome = "input_missing"
	OutcomeDuplicate    Outcome = "duplicate_rejected"
	OutcomeCodeUnknown  Outcome = "code_unknown"
	OutcomeCodeExpired  Outcome = "code_expired"
)

// Result describes how a submission ended.
type Result struct {
	Outcome   Outcome
	Message   string
	Timestamp time.Time
	Record    *Record
}

// Accepted reports whether the submission was recorded.
func (r Result) Accepted() bool { return r.Outcome == OutcomeAccepted }

// Err returns the matching *Error for a rejection, or nil when accepted.
func (r Result) Err() error {
	var kind Kind
	switch r.Outcome {
	case OutcomeAccepted:
		return nil
	case OutcomeInputMissing:
		kind = KindInputMissing
	case OutcomeDuplicate:
		kind = KindDuplicateSubmission
	case OutcomeCodeUnknown:
		kind = KindCodeNotFound
	case OutcomeCodeExpired:
		kind = KindCodeExpired
	}
	return &Error{Kind: kind, Message: r.Message}
}

// Observer receives lifecycle events, typically for metrics.
type Observer interface {
	CodeIssued()
	CodesSwept(n int)
	Validated(outcome Outcome)
	LedgerSize(n int)
}

type nopObserver struct{}

func (nopObserver) CodeIssued()       {}
func (nopObserver) CodesSwept(int)    {}
func (nopObserver) Validated(Outcome) {}
func (nopObserver) LedgerSize(int)    {}

// Service owns the code registry and the ledger and runs the check-in
// workflow. A single mutex spans sweep, duplicate check, consume and
// append, so a code can be accepted at most once.
type Service struct {
	mu       sync.Mutex
	codes    *codes.Registry
	ledger   *Ledger
	clock    clock.Clock
	log      *slog.Logger
	observer Observer
}

// ServiceOption configures a Service.
type ServiceOption func(*Service)

// WithClock sets the clock used for record timestamps. It should be the
// same clock the registry uses.
func WithClock(c clock.Clock) ServiceOption {
	return func(s *Service) { s.clock = c }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) ServiceOption {
	return func(s *Service) {
		if l != nil {
			s.log = l
		}
	}
}

// WithObserver registers an observer.
func WithObserver(o Observer) ServiceOption {
	return func(s *Service) {
		if o != nil {
			s.observer = o
		}
	}
}

// NewService creates a service over registry and ledger.
func NewService(registry *codes.Registry, ledger *Ledger, opts ...ServiceOption) *Service {
	s := &Service{
		codes:    registry,
		ledger:   ledger,
		clock:    clock.Real(),
		log:      slog.Default(),
		observer: nopObserver{},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Window returns the code validity window.
func (s *Service) Window() time.Duration { return s.codes.Window() }

// Issue sweeps expired codes and issues a new one.
func (s *Service) Issue() (codes.Code, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sweep()
	code, err := s.codes.Issue()
	if err != nil {
		s.log.Error("issue code failed", "error", err)
		return codes.Code{}, &Error{Kind: KindGenerationFailure, Message: MsgGenerationFailed, Err: err}
	}
	s.observer.CodeIssued()
	s.log.Debug("code issued", "code", code.Value, "expires_at", code.ExpiresAt)
	return code, nil
}

// Validate runs one submission through the check-in workflow. The
// duplicate check runs before the validity check, so a student repeating
// a code they already used is told it is a duplicate even if the code has
// expired since.
func (s *Service) Validate(code, studentID, studentName string) Result {
	code = strings.TrimSpace(code)
	studentID = strings.TrimSpace(studentID)
	studentName = strings.TrimSpace(studentName)

	if code == "" || studentID == "" {
		return s.finish(Result{Outcome: OutcomeInputMissing, Message: MsgInputMissing, Timestamp: s.now()})
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.sweep()
	now := s.now()

	if s.ledger.HasDuplicate(studentID, code) {
		return s.finish(Result{Outcome: OutcomeDuplicate, Message: MsgDuplicate, Timestamp: now})
	}

	switch s.codes.IsValid(code) {
	case codes.Unknown:
		return s.finish(Result{Outcome: OutcomeCodeUnknown, Message: MsgCodeUnknown, Timestamp: now})
	case codes.Expired:
		s.codes.Purge(code)
		return s.finish(Result{Outcome: OutcomeCodeExpired, Message: MsgCodeExpired, Timestamp: now})
	}

	if !s.codes.Consume(code) {
		return s.finish(Result{Outcome: OutcomeCodeUnknown, Message: MsgCodeUnknown, Timestamp: now})
	}
	rec := Record{
		ID:          uuid.NewString(),
		StudentID:   studentID,
		StudentName: studentName,
		Code:        code,
		Timestamp:   now,
		Status:      StatusPresent,
	}
	s.ledger.Append(rec)
	s.observer.LedgerSize(s.ledger.Len())
	s.log.Info("attendance marked", "student_id", studentID, "code", code)
	return s.finish(Result{Outcome: OutcomeAccepted, Message: MsgAccepted, Timestamp: now, Record: &rec})
}

// Summary returns the ledger aggregate.
func (s *Service) Summary() Summary {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sweep()
	return s.ledger.Summary()
}

// Snapshot returns every record for exporters.
func (s *Service) Snapshot() []Record {
	return s.ledger.Records()
}

// Count returns the number of records in the ledger.
func (s *Service) Count() int {
	return s.ledger.Len()
}

// Reset clears the ledger and the registry to start a fresh session.
func (s *Service) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	dropped := s.ledger.Len()
	s.ledger.Reset()
	s.codes.Reset()
	s.observer.LedgerSize(0)
	s.log.Info("session reset", "records_dropped", dropped)
}

func (s *Service) sweep() {
	if n := s.codes.Sweep(); n > 0 {
		s.observer.CodesSwept(n)
		s.log.Debug("expired codes swept", "count", n)
	}
}

func (s *Service) finish(res Result) Result {
	s.observer.Validated(res.Outcome)
	if !res.Accepted() {
		s.log.Debug("submission rejected", "outcome", string(res.Outcome))
	}
	return res
}

func (s *Service) now() time.Time { return s.clock.Now().UTC() }
