// Package records holds the student-records domain: the Student aggregate,
// its version-checked persistence, and the use cases that emit outbox events
// alongside their writes.
package records

import (
	"database/sql/driver"
	"fmt"
	"time"
)

// EnrollmentStatus is the lifecycle state of a student.
type EnrollmentStatus string

const (
	StatusEnrolled  EnrollmentStatus = "enrolled"
	StatusSuspended EnrollmentStatus = "suspended"
	StatusWithdrawn EnrollmentStatus = "withdrawn"
	StatusGraduated EnrollmentStatus = "graduated"
)

// Value encodes the status for storage. Unknown variants are rejected rather
// than written through, so the table never holds an unmapped status.
func (s EnrollmentStatus) Value() (driver.Value, error) {
	switch s {
	case StatusEnrolled, StatusSuspended, StatusWithdrawn, StatusGraduated:
		return string(s), nil
	default:
		return nil, fmt.Errorf("unknown enrollment status: %q", string(s))
	}
}

func (s *EnrollmentStatus) Scan(src interface{}) error {
	v, ok := src.(string)
	if !ok {
		if b, ok := src.([]byte); ok {
			v = string(b)
		} else {
			return fmt.Errorf("cannot scan %T into EnrollmentStatus", src)
		}
	}
	switch EnrollmentStatus(v) {
	case StatusEnrolled, StatusSuspended, StatusWithdrawn, StatusGraduated:
		*s = EnrollmentStatus(v)
		return nil
	default:
		return fmt.Errorf("unknown enrollment status: %q", v)
	}
}

// Gender is recorded as declared by the student or guardian.
type Gender string

const (
	GenderFemale      Gender = "female"
	GenderMale        Gender = "male"
	GenderNonBinary   Gender = "non_binary"
	GenderUndisclosed Gender = "undisclosed"
)

func (g Gender) Value() (driver.Value, error) {
	switch g {
	case GenderFemale, GenderMale, GenderNonBinary, GenderUndisclosed:
		return string(g), nil
	default:
		return nil, fmt.Errorf("unknown gender: %q", string(g))
	}
}

func (g *Gender) Scan(src interface{}) error {
	v, ok := src.(string)
	if !ok {
		if b, ok := src.([]byte); ok {
			v = string(b)
		} else {
			return fmt.Errorf("cannot scan %T into Gender", src)
		}
	}
	switch Gender(v) {
	case GenderFemale, GenderMale, GenderNonBinary, GenderUndisclosed:
		*g = Gender(v)
		return nil
	default:
		return fmt.Errorf("unknown gender: %q", v)
	}
}

// Student is the aggregate root of the records context. Version increments on
// every accepted write; a write carrying a stale version is rejected with
// ErrVersionConflict.
type Student struct {
	ID          string           `json:"id"`
	TenantID    string           `json:"tenant_id"`
	FirstName   string           `json:"first_name"`
	LastName    string           `json:"last_name"`
	DateOfBirth time.Time        `json:"date_of_birth"`
	Gender      Gender           `json:"gender"`
	GradeLevel  int              `json:"grade_level"`
	Status      EnrollmentStatus `json:"status"`
	EnrolledAt  time.Time        `json:"enrolled_at"`
	GraduatedAt *time.Time       `json:"graduated_at,omitempty"`
	Version     int64            `json:"version"`
	UpdatedAt   time.Time        `json:"updated_at"`
}
