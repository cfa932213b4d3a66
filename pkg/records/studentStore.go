package records

import (
	"context"
	"database/sql"
	"errors"

	"go.opentelemetry.io/otel"
)

// ErrVersionConflict is returned when a write carries a version that no
// longer matches the stored row. The caller should re-read and retry.
var ErrVersionConflict = errors.New("student version conflict")

// ErrStudentNotFound is returned when no student matches the tenant and ID.
var ErrStudentNotFound = errors.New("student not found")

const tracerName = "records-outbox"

// PostgresStudentStore persists students with optimistic concurrency: every
// update is a compare-and-swap on the row's version column.
type PostgresStudentStore struct {
	db *sql.DB
}

func NewPostgresStudentStore(db *sql.DB) *PostgresStudentStore {
	return &PostgresStudentStore{db: db}
}

const studentColumns = `id, tenant_id, first_name, last_name, date_of_birth, gender,
       grade_level, status, enrolled_at, graduated_at, version, updated_at`

func (s *PostgresStudentStore) Get(ctx context.Context, tenantID, studentID string) (*Student, error) {
	tracer := otel.Tracer(tracerName)
	ctx, span := tracer.Start(ctx, "GetStudent")
	defer span.End()

	row := s.db.QueryRowContext(ctx,
		`SELECT `+studentColumns+` FROM students WHERE tenant_id = $1 AND id = $2`,
		tenantID, studentID)

	student, err := scanStudent(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrStudentNotFound
	}
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	return student, nil
}

// insertTx writes a new student row inside the caller's transaction.
func (s *PostgresStudentStore) insertTx(ctx context.Context, tx *sql.Tx, student *Student) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO students
         (id, tenant_id, first_name, last_name, date_of_birth, gender,
          grade_level, status, enrolled_at, version, updated_at)
         VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		student.ID, student.TenantID, student.FirstName, student.LastName,
		student.DateOfBirth, student.Gender, student.GradeLevel, student.Status,
		student.EnrolledAt, student.Version, student.UpdatedAt)
	return err
}

// updateTx writes the student only if the stored version still equals
// expectedVersion, bumping the version on success. Zero rows affected means
// the row moved underneath the caller (or never existed); the follow-up read
// distinguishes the two.
func (s *PostgresStudentStore) updateTx(ctx context.Context, tx *sql.Tx, student *Student, expectedVersion int64) error {
	res, err := tx.ExecContext(ctx,
		`UPDATE students
         SET first_name = $1, last_name = $2, gender = $3, grade_level = $4,
             status = $5, graduated_at = $6, version = version + 1, updated_at = $7
         WHERE tenant_id = $8 AND id = $9 AND version = $10`,
		student.FirstName, student.LastName, student.Gender, student.GradeLevel,
		student.Status, student.GraduatedAt, student.UpdatedAt,
		student.TenantID, student.ID, expectedVersion)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		var current int64
		err := tx.QueryRowContext(ctx,
			`SELECT version FROM students WHERE tenant_id = $1 AND id = $2`,
			student.TenantID, student.ID).Scan(&current)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrStudentNotFound
		}
		if err != nil {
			return err
		}
		return ErrVersionConflict
	}
	student.Version = expectedVersion + 1
	return nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanStudent(row rowScanner) (*Student, error) {
	var student Student
	var graduatedAt sql.NullTime
	err := row.Scan(&student.ID, &student.TenantID, &student.FirstName,
		&student.LastName, &student.DateOfBirth, &student.Gender,
		&student.GradeLevel, &student.Status, &student.EnrolledAt,
		&graduatedAt, &student.Version, &student.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if graduatedAt.Valid {
		t := graduatedAt.Time
		student.GraduatedAt = &t
	}
	return &student, nil
}
