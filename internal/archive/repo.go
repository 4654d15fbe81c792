// Package archive keeps an append-only audit copy of accepted check-ins in
// SQL. The live session never reads from it.
package archive

import (
	"context"
	"database/sql"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"qrattend/internal/attendance"
	"qrattend/internal/store"
)

const schema = `
CREATE TABLE IF NOT EXISTS checkins (
	id            TEXT PRIMARY KEY,
	student_id    TEXT NOT NULL,
	student_name  TEXT NOT NULL DEFAULT '',
	code          TEXT NOT NULL,
	status        TEXT NOT NULL,
	checked_in_at TIMESTAMP NOT NULL,
	archived_at   TIMESTAMP NOT NULL
)`

const indexes = `CREATE INDEX IF NOT EXISTS checkins_student_idx ON checkins (student_id)`

// Entry is one archived check-in.
type Entry struct {
	attendance.Record
	ArchivedAt time.Time `json:"archived_at"`
}

// Repository persists check-ins over database/sql.
type Repository struct {
	db     *sql.DB
	driver string
	now    func() time.Time
}

// NewRepository creates a repo. driver selects placeholder syntax.
func NewRepository(db *sql.DB, driver string) *Repository {
	return &Repository{db: db, driver: driver, now: time.Now}
}

// FromStore creates a repo over an opened store.DB.
func FromStore(db *store.DB) *Repository {
	return NewRepository(db.Client, db.Driver)
}

// Migrate creates the table and index when missing.
func (r *Repository) Migrate(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, schema); err != nil {
		return err
	}
	_, err := r.db.ExecContext(ctx, indexes)
	return err
}

// Insert archives a record. Re-inserting the same record id is a no-op, so a
// redelivered queue message is harmless.
func (r *Repository) Insert(ctx context.Context, rec attendance.Record) error {
	if rec.StudentID == "" || rec.Code == "" {
		return errors.New("archive: student id and code required")
	}
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	query := `
		INSERT INTO checkins (id, student_id, student_name, code, status, checked_in_at, archived_at)
		VALUES (` + r.placeholders(1, 7) + `)
		ON CONFLICT (id) DO NOTHING`
	_, err := r.db.ExecContext(ctx, query,
		rec.ID, rec.StudentID, rec.StudentName, rec.Code, rec.Status,
		rec.Timestamp.UTC(), r.now().UTC())
	return err
}

// Filter narrows List. Empty fields match everything.
type Filter struct {
	StudentID string
	Code      string
	Limit     int
	Offset    int
}

// List returns archived check-ins, newest first.
func (r *Repository) List(ctx context.Context, f Filter) ([]Entry, error) {
	if f.Limit <= 0 || f.Limit > 500 {
		f.Limit = 50
	}
	if f.Offset < 0 {
		f.Offset = 0
	}
	query := `SELECT id, student_id, student_name, code, status, checked_in_at, archived_at FROM checkins`
	var args []any
	var clauses []string
	if f.StudentID != "" {
		args = append(args, f.StudentID)
		clauses = append(clauses, "student_id = "+r.placeholder(len(args)))
	}
	if f.Code != "" {
		args = append(args, f.Code)
		clauses = append(clauses, "code = "+r.placeholder(len(args)))
	}
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY checked_in_at DESC LIMIT " + r.placeholder(len(args)+1) + " OFFSET " + r.placeholder(len(args)+2)
	args = append(args, f.Limit, f.Offset)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.ID, &e.StudentID, &e.StudentName, &e.Code, &e.Status, &e.Timestamp, &e.ArchivedAt); err != nil {
			return nil, err
		}
		e.Timestamp = e.Timestamp.UTC()
		e.ArchivedAt = e.ArchivedAt.UTC()
		res = append(res, e)
	}
	return res, rows.Err()
}

// Count returns the number of archived check-ins.
func (r *Repository) Count(ctx context.Context) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM checkins`).Scan(&n)
	return n, err
}

func (r *Repository) placeholder(i int) string {
	if r.driver == store.DriverPostgres {
		return "$" + strconv.Itoa(i)
	}
	return "?"
}

func (r *Repository) placeholders(from, to int) string {
	parts := make([]string, 0, to-from+1)
	for i := from; i <= to; i++ {
		parts = append(parts, r.placeholder(i))
	}
	return strings.Join(parts, ",")
}
