package errors

import (
	stdErrors "errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWrapKeepsCauseAndCode(t *testing.T) {
	cause := stdErrors.New("connection reset")
	err := Wrap(CodeUpstreamHTTP, cause, "")

	assert.Equal(t, CodeUpstreamHTTP, err.Code())
	assert.Equal(t, "upstream request failed", err.Message())
	assert.Equal(t, "connection reset", err.Detail())
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, "[UPSTREAM_HTTP_ERROR] upstream request failed: connection reset", err.Error())
}

func TestFromFindsWrappedError(t *testing.T) {
	inner := New(CodeTimeout, "deadline hit")
	outer := fmt.Errorf("dispatch: %w", inner)

	got, ok := From(outer)
	require.True(t, ok)
	assert.Equal(t, CodeTimeout, got.Code())
	assert.Equal(t, CodeTimeout, CodeOf(outer))
	assert.True(t, stdErrors.Is(outer, New(CodeTimeout, "")))
	assert.False(t, stdErrors.Is(outer, New(CodeUnexpected, "")))
}

func TestCodeOfPlainError(t *testing.T) {
	assert.Equal(t, CodeUnknown, CodeOf(stdErrors.New("plain")))
	assert.Equal(t, CodeUnknown, CodeOf(nil))
	assert.Equal(t, SeverityCritical, SeverityOf(stdErrors.New("plain")))
}

func TestSeverityOverride(t *testing.T) {
	err := New(CodeTimeout, "", WithSeverity(SeverityInfo), WithMetadata("task_id", "t-1"))

	assert.Equal(t, SeverityInfo, err.Severity())
	assert.Equal(t, map[string]string{"task_id": "t-1"}, err.Metadata())
	assert.Equal(t, SeverityWarning, New(CodeTimeout, "").Severity())
}

func TestRegisterCustomCode(t *testing.T) {
	code := Code("TEST_CUSTOM")
	Register(code, Attributes{Message: "custom", Severity: SeverityInfo})

	err := New(code, "")
	assert.Equal(t, "custom", err.Message())
	assert.Equal(t, SeverityInfo, err.Severity())
	assert.Equal(t, AttributesOf(CodeUnknown), AttributesOf(Code("NEVER_REGISTERED")))
}
