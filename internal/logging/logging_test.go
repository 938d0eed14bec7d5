package logging

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	tests := []struct {
		level, format string
		wantErr       bool
	}{
		{"info", "text", false},
		{"DEBUG", "json", false},
		{"warn", "", false},
		{"verbose", "text", true},
	}
	for _, tc := range tests {
		logger, sync, err := New(tc.level, tc.format)
		if tc.wantErr {
			assert.Error(t, err, "level %q", tc.level)
			continue
		}
		require.NoError(t, err, "level %q", tc.level)
		assert.NotNil(t, logger)
		assert.NotNil(t, sync)
	}
}

func TestOrDiscard(t *testing.T) {
	l := OrDiscard(nil)
	require.NotNil(t, l)
	l.Info("dropped", "k", "v")

	own := Discard()
	assert.Same(t, own, OrDiscard(own))
}
