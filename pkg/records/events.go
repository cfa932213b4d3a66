package records

import "time"

// Event types emitted by the records service.
const (
	EventStudentEnrolled  = "student.enrolled"
	EventStudentUpdated   = "student.updated"
	EventStudentGraduated = "student.graduated"
)

// StudentEnrolled is the payload of a student.enrolled event.
type StudentEnrolled struct {
	StudentID  string    `json:"student_id"`
	TenantID   string    `json:"tenant_id"`
	FirstName  string    `json:"first_name"`
	LastName   string    `json:"last_name"`
	GradeLevel int       `json:"grade_level"`
	EnrolledAt time.Time `json:"enrolled_at"`
}

// StudentUpdated is the payload of a student.updated event.
type StudentUpdated struct {
	StudentID  string `json:"student_id"`
	TenantID   string `json:"tenant_id"`
	FirstName  string `json:"first_name"`
	LastName   string `json:"last_name"`
	GradeLevel int    `json:"grade_level"`
	Version    int64  `json:"version"`
}

// StudentGraduated is the payload of a student.graduated event.
type StudentGraduated struct {
	StudentID   string    `json:"student_id"`
	TenantID    string    `json:"tenant_id"`
	GraduatedAt time.Time `json:"graduated_at"`
}
