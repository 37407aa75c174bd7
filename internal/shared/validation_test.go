package shared

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sampleInput struct {
	Name  string `json:"name" validate:"required,max=5"`
	Email string `json:"email" validate:"omitempty,email"`
	Color string `json:"color" validate:"omitempty,hexcolor"`
	Count int    `validate:"gte=0"`
}

func TestValidatorReportsJSONFieldNames(t *testing.T) {
	err := NewValidator().Struct(sampleInput{Name: "too long", Email: "nope", Color: "red", Count: -1})
	var verr *ValidationError
	require.True(t, errors.As(err, &verr))
	assert.Equal(t, map[string]string{
		"name":  "must be at most 5 characters",
		"email": "must be a valid email address",
		"color": "must be a hex color such as #1f2937",
		"Count": "must be greater than or equal to 0",
	}, verr.Fields)
	assert.ErrorIs(t, err, ErrValidation)
	assert.Equal(t, "validation failed: Count must be greater than or equal to 0; color must be a hex color such as #1f2937; email must be a valid email address; name must be at most 5 characters", err.Error())
}

func TestValidatorMaxBytesCountsBytes(t *testing.T) {
	type secret struct {
		Password string `json:"password" validate:"maxbytes=8"`
	}
	v := NewValidator()
	assert.NoError(t, v.Struct(secret{Password: "12345678"}))
	err := v.Struct(secret{Password: "ééééé"})
	var verr *ValidationError
	require.True(t, errors.As(err, &verr), "five runes, ten bytes")
	assert.Equal(t, "must be at most 8 bytes", verr.Fields["password"])
}

func TestValidatorAcceptsValid(t *testing.T) {
	assert.NoError(t, NewValidator().Struct(sampleInput{Name: "ok", Color: "#fff"}))
}

func TestUserSafeMessage(t *testing.T) {
	assert.Empty(t, UserSafeMessage(nil))
	assert.Equal(t, "The requested record does not exist.", UserSafeMessage(fmt.Errorf("get role: %w", ErrNotFound)))
	assert.Equal(t, "System roles cannot be renamed or deleted.", UserSafeMessage(ErrSystemRole))
	assert.Equal(t, "Something went wrong. Please try again.", UserSafeMessage(errors.New("pq: connection refused")))
	assert.Equal(t, "validation failed: name is required", UserSafeMessage(NewValidationError("name", "is required")))
}
