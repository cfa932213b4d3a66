package records

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEnrollmentStatus_Value(t *testing.T) {
	for _, status := range []EnrollmentStatus{StatusEnrolled, StatusSuspended, StatusWithdrawn, StatusGraduated} {
		v, err := status.Value()
		assert.NoError(t, err)
		assert.Equal(t, string(status), v)
	}

	_, err := EnrollmentStatus("expelled").Value()
	assert.Error(t, err)
}

func TestEnrollmentStatus_Scan(t *testing.T) {
	var status EnrollmentStatus
	assert.NoError(t, status.Scan("graduated"))
	assert.Equal(t, StatusGraduated, status)

	assert.NoError(t, status.Scan([]byte("enrolled")))
	assert.Equal(t, StatusEnrolled, status)

	assert.Error(t, status.Scan("unknown"))
	assert.Error(t, status.Scan(42))
}

func TestGender_Value(t *testing.T) {
	for _, gender := range []Gender{GenderFemale, GenderMale, GenderNonBinary, GenderUndisclosed} {
		v, err := gender.Value()
		assert.NoError(t, err)
		assert.Equal(t, string(gender), v)
	}

	_, err := Gender("M").Value()
	assert.Error(t, err)
}

func TestGender_Scan(t *testing.T) {
	var gender Gender
	assert.NoError(t, gender.Scan("undisclosed"))
	assert.Equal(t, GenderUndisclosed, gender)

	assert.Error(t, gender.Scan("M"))
}
