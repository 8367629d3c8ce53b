package util

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBackoff(t *testing.T) {
	t.Parallel()

	b := NewBackoff(100*time.Millisecond, 500*time.Millisecond)
	assert.Equal(t, 100*time.Millisecond, b.Next())
	assert.Equal(t, 200*time.Millisecond, b.Next())
	assert.Equal(t, 400*time.Millisecond, b.Next())
	assert.Equal(t, 500*time.Millisecond, b.Next())
	assert.Equal(t, 500*time.Millisecond, b.Current())

	b.Reset()
	assert.Equal(t, 100*time.Millisecond, b.Next())
}

func TestWrapError(t *testing.T) {
	t.Parallel()

	assert.NoError(t, WrapError("record chunk", nil))

	base := errors.New("device busy")
	err := WrapError("record chunk", base)
	require.Error(t, err)
	assert.ErrorIs(t, err, base)
	assert.Equal(t, "failed to record chunk: device busy", err.Error())
}

func TestExtractLines(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		input string
		first string
		last  string
	}{
		{"empty", "", "", ""},
		{"single", "boom", "boom", "boom"},
		{"multi", "\nfirst\n\nsecond\n", "first", "second"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.first, ExtractFirstLine(tt.input))
			assert.Equal(t, tt.last, ExtractLastError(tt.input))
		})
	}

	long := strings.Repeat("x", maxErrorLineLength+10)
	assert.Len(t, ExtractFirstLine(long), maxErrorLineLength+3)
}

func TestFormatDuration(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "45s", FormatDuration(45*time.Second))
	assert.Equal(t, "2m 34s", FormatDuration(154*time.Second))
	assert.Equal(t, "1h 23m", FormatDuration(83*time.Minute))
}

func TestValidatePath(t *testing.T) {
	t.Parallel()

	assert.NoError(t, ValidatePath("log", "/var/log/soundwatch.jsonl"))
	assert.Error(t, ValidatePath("log", ""))
	assert.Error(t, ValidatePath("log", "/var/../etc/passwd"))
	assert.NoError(t, ValidatePath("log", "/var/log/alerts..jsonl"))
	assert.True(t, IsConfigured("a", "b"))
	assert.False(t, IsConfigured("a", ""))
}
