package errors_test

import (
	"errors"
	"fmt"
	"testing"

	sentinelerrors "flowsentinel/backend/pkg/errors"

	"github.com/stretchr/testify/assert"
)

func TestPlatformUnreachableError(t *testing.T) {
	cause := errors.New("dial tcp: connection refused")
	err := &sentinelerrors.PlatformUnreachableError{Op: "getVersion", Cause: cause}

	assert.Equal(t, "platform unreachable during getVersion: dial tcp: connection refused", err.Error())
	assert.ErrorIs(t, err, cause)

	withStatus := &sentinelerrors.PlatformUnreachableError{Op: "listNodeTypes", StatusCode: 503}
	assert.Equal(t, "platform unreachable during listNodeTypes (status 503)", withStatus.Error())

	wrapped := fmt.Errorf("sync failed: %w", err)
	var target *sentinelerrors.PlatformUnreachableError
	assert.True(t, errors.As(wrapped, &target))
	assert.Equal(t, "getVersion", target.Op)
}

func TestPlatformError(t *testing.T) {
	err := &sentinelerrors.PlatformError{Op: "createWorkflow", StatusCode: 400, Message: "request/body must NOT have additional properties"}
	assert.Equal(t, "platform rejected createWorkflow (status 400): request/body must NOT have additional properties", err.Error())
}

func TestNotFoundError(t *testing.T) {
	err := fmt.Errorf("lookup: %w", &sentinelerrors.NotFoundError{Resource: "workflow", ID: "42"})

	assert.Equal(t, "lookup: workflow not found: 42", err.Error())
	assert.ErrorIs(t, err, &sentinelerrors.NotFoundError{})
}

func TestConflictError(t *testing.T) {
	err := &sentinelerrors.ConflictError{
		PatternID:     "p1",
		ConflictsWith: []string{"p2"},
		Relationships: []string{"a -feeds-> b"},
	}
	assert.Equal(t, "pattern p1 conflicts with p2 over a -feeds-> b", err.Error())
}
