package apperr

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInvalid_Unwraps(t *testing.T) {
	err := fmt.Errorf("register: %w", Invalid("Validation failed", "email is invalid"))

	var verr *ValidationError
	require.True(t, errors.As(err, &verr))
	assert.Equal(t, "Validation failed", verr.Message)
	assert.Equal(t, []string{"email is invalid"}, verr.Details)
	assert.Equal(t, "register: Validation failed: email is invalid", err.Error())
}

func TestInvalid_NoDetails(t *testing.T) {
	assert.Equal(t, "Text is required", Invalid("Text is required").Error())
}

func TestValidationError_Cause(t *testing.T) {
	sentinel := errors.New("unsupported file type")
	err := fmt.Errorf("submit: %w", &ValidationError{Message: "File type .exe not allowed", Cause: sentinel})

	assert.ErrorIs(t, err, sentinel)
	var verr *ValidationError
	assert.True(t, errors.As(err, &verr))
}

func TestNotFound(t *testing.T) {
	errJob := NotFound("Job not found")
	err := fmt.Errorf("status: %w", errJob)

	assert.ErrorIs(t, err, errJob)
	var nf *NotFoundError
	require.True(t, errors.As(err, &nf))
	assert.Equal(t, "Job not found", nf.Message)
}
