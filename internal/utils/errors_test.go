package utils

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAppErrorKindsSurviveWrapping(t *testing.T) {
	base := ContractViolation("verdict.analyse", "expected 3 verdicts, got 2")
	wrapped := fmt.Errorf("funnel: %w", base)

	require.True(t, errors.Is(wrapped, ErrContractViolation))
	assert.False(t, errors.Is(wrapped, ErrServiceError))
	assert.Equal(t, "contract_violation", KindOf(wrapped))
}

func TestAppErrorUnwrapsCause(t *testing.T) {
	cause := errors.New("disk full")
	err := PersistenceFailure("index.save", "write vectors", cause)

	assert.True(t, errors.Is(err, cause))
	assert.True(t, errors.Is(err, ErrPersistenceFailure))
	assert.Equal(t, "index.save: write vectors: disk full", err.Error())
}

func TestKindOf(t *testing.T) {
	assert.Equal(t, "none", KindOf(nil))
	assert.Equal(t, "service_unavailable", KindOf(Unavailable("graph", "not configured", nil)))
	assert.Equal(t, "service_error", KindOf(ServiceFailure("llm", "bad json", nil)))
	assert.Equal(t, "internal", KindOf(errors.New("boom")))
	assert.Equal(t, "internal", KindOf(NewAppError("op", "msg", nil)))
}
