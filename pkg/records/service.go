package records

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/campushub/records-outbox/pkg/config"
	"github.com/campushub/records-outbox/pkg/store"
)

// EventAppender is the slice of the outbox store the service needs: appending
// events inside the transaction that carries the business write.
type EventAppender interface {
	InsertTx(ctx context.Context, tx *sql.Tx, events ...*store.OutboxEvent) error
}

// Service implements the student-records use cases. Every state change writes
// the aggregate row and its outbox event in one transaction, then nudges the
// delivery worker.
type Service struct {
	db         *sql.DB
	students   *PostgresStudentStore
	events     EventAppender
	maxRetries int    // delivery retry ceiling stamped on emitted events
	notify     func() // optional post-commit poll kick
}

func NewService(db *sql.DB, students *PostgresStudentStore, events EventAppender, cfg *config.Settings, notify func()) *Service {
	return &Service{
		db:         db,
		students:   students,
		events:     events,
		maxRetries: cfg.Outbox.MaxRetries,
		notify:     notify,
	}
}

// newEvent builds an outbox event carrying the configured retry ceiling.
func (s *Service) newEvent(eventType, aggregateID, tenantID string, payload []byte) *store.OutboxEvent {
	event := store.NewEvent(eventType, aggregateID, tenantID, payload)
	event.MaxRetries = s.maxRetries
	return event
}

// EnrollStudentCommand carries the data needed to enroll a new student.
type EnrollStudentCommand struct {
	TenantID    string
	FirstName   string
	LastName    string
	DateOfBirth time.Time
	Gender      Gender
	GradeLevel  int
}

// UpdateStudentCommand carries a full update of mutable student fields plus
// the version the caller read. A stale version fails with ErrVersionConflict.
type UpdateStudentCommand struct {
	TenantID   string
	StudentID  string
	Version    int64
	FirstName  string
	LastName   string
	Gender     Gender
	GradeLevel int
}

func (s *Service) Enroll(ctx context.Context, cmd EnrollStudentCommand) (*Student, error) {
	now := time.Now()
	student := &Student{
		ID:          uuid.NewString(),
		TenantID:    cmd.TenantID,
		FirstName:   cmd.FirstName,
		LastName:    cmd.LastName,
		DateOfBirth: cmd.DateOfBirth,
		Gender:      cmd.Gender,
		GradeLevel:  cmd.GradeLevel,
		Status:      StatusEnrolled,
		EnrolledAt:  now,
		Version:     1,
		UpdatedAt:   now,
	}

	payload, err := json.Marshal(StudentEnrolled{
		StudentID:  student.ID,
		TenantID:   student.TenantID,
		FirstName:  student.FirstName,
		LastName:   student.LastName,
		GradeLevel: student.GradeLevel,
		EnrolledAt: student.EnrolledAt,
	})
	if err != nil {
		return nil, err
	}

	err = s.withinTx(ctx, func(tx *sql.Tx) error {
		if err := s.students.insertTx(ctx, tx, student); err != nil {
			return err
		}
		event := s.newEvent(EventStudentEnrolled, student.ID, student.TenantID, payload)
		return s.events.InsertTx(ctx, tx, event)
	})
	if err != nil {
		return nil, err
	}
	return student, nil
}

func (s *Service) Update(ctx context.Context, cmd UpdateStudentCommand) (*Student, error) {
	student, err := s.students.Get(ctx, cmd.TenantID, cmd.StudentID)
	if err != nil {
		return nil, err
	}

	student.FirstName = cmd.FirstName
	student.LastName = cmd.LastName
	student.Gender = cmd.Gender
	student.GradeLevel = cmd.GradeLevel
	student.UpdatedAt = time.Now()

	err = s.withinTx(ctx, func(tx *sql.Tx) error {
		if err := s.students.updateTx(ctx, tx, student, cmd.Version); err != nil {
			return err
		}
		payload, err := json.Marshal(StudentUpdated{
			StudentID:  student.ID,
			TenantID:   student.TenantID,
			FirstName:  student.FirstName,
			LastName:   student.LastName,
			GradeLevel: student.GradeLevel,
			Version:    student.Version,
		})
		if err != nil {
			return err
		}
		event := s.newEvent(EventStudentUpdated, student.ID, student.TenantID, payload)
		return s.events.InsertTx(ctx, tx, event)
	})
	if err != nil {
		return nil, err
	}
	return student, nil
}

// Graduate moves an enrolled student to graduated. Any other starting status
// is rejected.
func (s *Service) Graduate(ctx context.Context, tenantID, studentID string, version int64) (*Student, error) {
	student, err := s.students.Get(ctx, tenantID, studentID)
	if err != nil {
		return nil, err
	}
	if student.Status != StatusEnrolled {
		return nil, fmt.Errorf("cannot graduate student in status %q", student.Status)
	}

	now := time.Now()
	student.Status = StatusGraduated
	student.GraduatedAt = &now
	student.UpdatedAt = now

	payload, err := json.Marshal(StudentGraduated{
		StudentID:   student.ID,
		TenantID:    student.TenantID,
		GraduatedAt: now,
	})
	if err != nil {
		return nil, err
	}

	err = s.withinTx(ctx, func(tx *sql.Tx) error {
		if err := s.students.updateTx(ctx, tx, student, version); err != nil {
			return err
		}
		event := s.newEvent(EventStudentGraduated, student.ID, student.TenantID, payload)
		return s.events.InsertTx(ctx, tx, event)
	})
	if err != nil {
		return nil, err
	}
	return student, nil
}

func (s *Service) withinTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	if s.notify != nil {
		s.notify()
	}
	return nil
}
