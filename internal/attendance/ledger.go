package attendance

import (
	"sync"
	"time"
)

// StatusPresent is the only status a record ever carries.
const StatusPresent = "present"

// Record is one successful check-in.
type Record struct {
	ID          string    `json:"id"`
	StudentID   string    `json:"student_id"`
	StudentName string    `json:"student_name,omitempty"`
	Code        string    `json:"qr_code"`
	Timestamp   time.Time `json:"timestamp"`
	Status      string    `json:"status"`
}

// Summary is a read-only view of the ledger.
type Summary struct {
	Count            int      `json:"total_count"`
	DistinctStudents int      `json:"distinct_students"`
	Records          []Record `json:"attendance_records"`
}

// Ledger is the append-only record of check-ins for the current session.
type Ledger struct {
	mu      sync.RWMutex
	records []Record
}

// NewLedger creates an empty ledger.
func NewLedger() *Ledger {
	return &Ledger{}
}

// HasDuplicate reports whether studentID already checked in with code.
func (l *Ledger) HasDuplicate(studentID, code string) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	for _, rec := range l.records {
		if rec.StudentID == studentID && rec.Code == code {
			return true
		}
	}
	return false
}

// Append adds rec. Uniqueness is the caller's job; see HasDuplicate.
func (l *Ledger) Append(rec Record) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.records = append(l.records, rec)
}

// Records returns a copy of every record in insertion order.
func (l *Ledger) Records() []Record {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]Record, len(l.records))
	copy(out, l.records)
	return out
}

// Summary aggregates the ledger.
func (l *Ledger) Summary() Summary {
	records := l.Records()
	students := make(map[string]struct{}, len(records))
	for _, rec := range records {
		students[rec.StudentID] = struct{}{}
	}
	return Summary{
		Count:            len(records),
		DistinctStudents: len(students),
		Records:          records,
	}
}

// Len returns the number of records.
func (l *Ledger) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.records)
}

// Reset drops every record.
func (l *Ledger) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.records = nil
}
