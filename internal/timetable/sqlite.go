package timetable

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"timetabled/internal/domain"
	"timetabled/internal/sms"
)

// EnsureSchema creates tables if they don't exist.
func EnsureSchema(db *sql.DB) error {
	schema := `
PRAGMA journal_mode=WAL;
CREATE TABLE IF NOT EXISTS class_sessions (
  id TEXT PRIMARY KEY,
  unit TEXT NOT NULL,
  start_time INTEGER NOT NULL,
  end_time INTEGER NOT NULL,
  day TEXT NOT NULL CHECK(day IN ('monday','tuesday','wednesday','thursday','friday','saturday','sunday')),
  created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
  CHECK(start_time < end_time)
);
CREATE INDEX IF NOT EXISTS idx_class_sessions_day ON class_sessions(day, start_time);
CREATE TABLE IF NOT EXISTS students (
  id TEXT PRIMARY KEY,
  name TEXT NOT NULL,
  email TEXT NOT NULL UNIQUE,
  phone TEXT NOT NULL,
  student_id TEXT NOT NULL UNIQUE,
  class_name TEXT,
  active INTEGER NOT NULL DEFAULT 1,
  created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_students_active ON students(active);
CREATE TABLE IF NOT EXISTS deliveries (
  id TEXT PRIMARY KEY,
  class_id TEXT,
  lead_minutes INTEGER NOT NULL DEFAULT 0,
  kind TEXT NOT NULL,
  recipients INTEGER NOT NULL,
  success INTEGER NOT NULL,
  detail TEXT,
  created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_deliveries_created ON deliveries(created_at);
`
	_, err := db.Exec(schema)
	return err
}

type Repository interface {
	CreateSession(ctx context.Context, s domain.ClassSession) (domain.ClassSession, error)
	CreateSessions(ctx context.Context, ss []domain.ClassSession) ([]domain.ClassSession, error)
	GetSession(ctx context.Context, id string) (domain.ClassSession, error)
	ListSessions(ctx context.Context) ([]domain.ClassSession, error)
	ListSessionsForDay(ctx context.Context, day string) ([]domain.ClassSession, error)
	DeleteSession(ctx context.Context, id string) error

	// Students back the recipient directory
	CreateStudent(ctx context.Context, s domain.Student) (domain.Student, error)
	ListStudents(ctx context.Context) ([]domain.Student, error)
	SetStudentActive(ctx context.Context, id string, active bool) error
	ListActiveRecipients(ctx context.Context) ([]string, error)

	RecordDelivery(ctx context.Context, d domain.Delivery) error
	ListDeliveries(ctx context.Context, limit int) ([]domain.Delivery, error)
}

type sqliteRepo struct{ db *sql.DB }

func NewSQLiteRepo(db *sql.DB) Repository { return &sqliteRepo{db: db} }

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func insertSession(ctx context.Context, ex execer, s domain.ClassSession) (domain.ClassSession, error) {
	if err := s.Validate(); err != nil {
		return domain.ClassSession{}, err
	}
	if s.ID == "" {
		s.ID = "cls_" + uuid.NewString()
	}
	s.CreatedAt = time.Now().UTC()
	_, err := ex.ExecContext(ctx, `
INSERT INTO class_sessions (id,unit,start_time,end_time,day,created_at)
VALUES (?,?,?,?,?,?)`, s.ID, s.Unit, int(s.StartTime), int(s.EndTime), s.Day, s.CreatedAt)
	if err != nil {
		return domain.ClassSession{}, err
	}
	return s, nil
}

func (r *sqliteRepo) CreateSession(ctx context.Context, s domain.ClassSession) (domain.ClassSession, error) {
	return insertSession(ctx, r.db, s)
}

// CreateSessions inserts all sessions or none.
func (r *sqliteRepo) CreateSessions(ctx context.Context, ss []domain.ClassSession) (out []domain.ClassSession, err error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	out = make([]domain.ClassSession, 0, len(ss))
	for i, s := range ss {
		created, ierr := insertSession(ctx, tx, s)
		if ierr != nil {
			return nil, fmt.Errorf("session %d: %w", i, ierr)
		}
		out = append(out, created)
	}
	if err = tx.Commit(); err != nil {
		return nil, err
	}
	return out, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanSession(row scanner) (domain.ClassSession, error) {
	var s domain.ClassSession
	var start, end int
	if err := row.Scan(&s.ID, &s.Unit, &start, &end, &s.Day, &s.CreatedAt); err != nil {
		return domain.ClassSession{}, err
	}
	s.StartTime = domain.TimeOfDay(start)
	s.EndTime = domain.TimeOfDay(end)
	return s, nil
}

func (r *sqliteRepo) GetSession(ctx context.Context, id string) (domain.ClassSession, error) {
	row := r.db.QueryRowContext(ctx, `
SELECT id,unit,start_time,end_time,day,created_at FROM class_sessions WHERE id=?`, id)
	s, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.ClassSession{}, domain.ErrNotFound
	}
	return s, err
}

func (r *sqliteRepo) listSessions(ctx context.Context, query string, args ...any) ([]domain.ClassSession, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	sessions := []domain.ClassSession{}
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, s)
	}
	return sessions, rows.Err()
}

func (r *sqliteRepo) ListSessions(ctx context.Context) ([]domain.ClassSession, error) {
	return r.listSessions(ctx, `
SELECT id,unit,start_time,end_time,day,created_at FROM class_sessions
ORDER BY CASE day
  WHEN 'monday' THEN 1 WHEN 'tuesday' THEN 2 WHEN 'wednesday' THEN 3 WHEN 'thursday' THEN 4
  WHEN 'friday' THEN 5 WHEN 'saturday' THEN 6 ELSE 7 END, start_time`)
}

func (r *sqliteRepo) ListSessionsForDay(ctx context.Context, day string) ([]domain.ClassSession, error) {
	d, err := domain.NormalizeDay(day)
	if err != nil {
		return nil, err
	}
	return r.listSessions(ctx, `
SELECT id,unit,start_time,end_time,day,created_at FROM class_sessions
WHERE day=? ORDER BY start_time, unit`, d)
}

func (r *sqliteRepo) DeleteSession(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, "DELETE FROM class_sessions WHERE id=?", id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *sqliteRepo) CreateStudent(ctx context.Context, s domain.Student) (domain.Student, error) {
	if s.ID == "" {
		s.ID = "stu_" + uuid.NewString()
	}
	s.Phone = sms.NormalizeAddress(s.Phone)
	s.CreatedAt = time.Now().UTC()
	var className sql.NullString
	if s.ClassName != "" {
		className = sql.NullString{String: s.ClassName, Valid: true}
	}
	_, err := r.db.ExecContext(ctx, `
INSERT INTO students (id,name,email,phone,student_id,class_name,active,created_at)
VALUES (?,?,?,?,?,?,?,?)`, s.ID, s.Name, s.Email, s.Phone, s.StudentID, className, s.Active, s.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.Student{}, fmt.Errorf("student %s: %w", s.StudentID, domain.ErrConflict)
		}
		return domain.Student{}, err
	}
	return s, nil
}

func isUniqueViolation(err error) bool {
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func (r *sqliteRepo) ListStudents(ctx context.Context) ([]domain.Student, error) {
	rows, err := r.db.QueryContext(ctx, `
SELECT id,name,email,phone,student_id,class_name,active,created_at FROM students ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	students := []domain.Student{}
	for rows.Next() {
		var s domain.Student
		var className sql.NullString
		if err := rows.Scan(&s.ID, &s.Name, &s.Email, &s.Phone, &s.StudentID, &className, &s.Active, &s.CreatedAt); err != nil {
			return nil, err
		}
		s.ClassName = className.String
		students = append(students, s)
	}
	return students, rows.Err()
}

func (r *sqliteRepo) SetStudentActive(ctx context.Context, id string, active bool) error {
	res, err := r.db.ExecContext(ctx, "UPDATE students SET active=? WHERE id=?", active, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// ListActiveRecipients returns the normalized, de-duplicated phone numbers of
// active students.
func (r *sqliteRepo) ListActiveRecipients(ctx context.Context) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, "SELECT phone FROM students WHERE active=1 ORDER BY rowid")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var phones []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, err
		}
		phones = append(phones, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return sms.NormalizeAll(phones), nil
}

func (r *sqliteRepo) RecordDelivery(ctx context.Context, d domain.Delivery) error {
	if d.ID == "" {
		d.ID = "dlv_" + uuid.NewString()
	}
	if d.CreatedAt.IsZero() {
		d.CreatedAt = time.Now().UTC()
	}
	_, err := r.db.ExecContext(ctx, `
INSERT INTO deliveries (id,class_id,lead_minutes,kind,recipients,success,detail,created_at)
VALUES (?,?,?,?,?,?,?,?)`, d.ID, d.ClassID, d.LeadMinutes, d.Kind, d.Recipients, d.Success, d.Detail, d.CreatedAt)
	return err
}

func (r *sqliteRepo) ListDeliveries(ctx context.Context, limit int) ([]domain.Delivery, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.db.QueryContext(ctx, `
SELECT id,class_id,lead_minutes,kind,recipients,success,detail,created_at
FROM deliveries ORDER BY rowid DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	deliveries := []domain.Delivery{}
	for rows.Next() {
		var d domain.Delivery
		var classID, detail sql.NullString
		if err := rows.Scan(&d.ID, &classID, &d.LeadMinutes, &d.Kind, &d.Recipients, &d.Success, &detail, &d.CreatedAt); err != nil {
			return nil, err
		}
		if classID.Valid {
			s := classID.String
			d.ClassID = &s
		}
		d.Detail = detail.String
		deliveries = append(deliveries, d)
	}
	return deliveries, rows.Err()
}
