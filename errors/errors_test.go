package errors

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWrap(t *testing.T) {
	base := errors.New("boom")

	err := Wrap(base, "Tracker", "Enable", "registry lookup")
	require.Error(t, err)
	assert.Equal(t, "Tracker.Enable: registry lookup failed: boom", err.Error())
	assert.True(t, errors.Is(err, base))

	assert.NoError(t, Wrap(nil, "Tracker", "Enable", "registry lookup"))
}

func TestClassifiedWrappers(t *testing.T) {
	tests := []struct {
		name  string
		wrap  func(error, string, string, string) error
		class ErrorClass
	}{
		{"transient", WrapTransient, ErrorTransient},
		{"invalid", WrapInvalid, ErrorInvalid},
		{"fatal", WrapFatal, ErrorFatal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.wrap(ErrServiceGone, "Registry", "Get", "service lookup")
			require.Error(t, err)

			var ce *ClassifiedError
			require.True(t, errors.As(err, &ce))
			assert.Equal(t, tt.class, ce.Class)
			assert.Equal(t, "Registry", ce.Component)
			assert.Equal(t, "Get", ce.Operation)
			assert.True(t, errors.Is(err, ErrServiceGone))
			assert.Equal(t, tt.class, Classify(err))
		})
	}

	assert.Nil(t, WrapFatal(nil, "a", "b", "c"))
}

func TestClassifyUnclassified(t *testing.T) {
	tests := []struct {
		err       error
		transient bool
		invalid   bool
		fatal     bool
	}{
		{ErrServiceGone, true, false, false},
		{ErrConnectionLost, true, false, false},
		{context.DeadlineExceeded, true, false, false},
		{fmt.Errorf("dial: connection refused"), true, false, false},
		{ErrInvalidFilter, false, true, false},
		{fmt.Errorf("parse: %w", ErrInvalidDescriptor), false, true, false},
		{ErrDisposed, false, false, true},
		{nil, false, false, false},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.transient, IsTransient(tt.err), "transient %v", tt.err)
		assert.Equal(t, tt.invalid, IsInvalid(tt.err), "invalid %v", tt.err)
		assert.Equal(t, tt.fatal, IsFatal(tt.err), "fatal %v", tt.err)
	}
}

func TestErrorClassString(t *testing.T) {
	assert.Equal(t, "transient", ErrorTransient.String())
	assert.Equal(t, "invalid", ErrorInvalid.String())
	assert.Equal(t, "fatal", ErrorFatal.String())
	assert.Equal(t, "unknown", ErrorClass(42).String())
}
