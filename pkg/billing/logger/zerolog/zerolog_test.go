package zerolog

import (
	"bytes"
	"encoding/json"
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mihaimyh/subsync/pkg/billing"
)

func TestZerologLogger_Levels(t *testing.T) {
	tests := []struct {
		name  string
		level string
		log   func(l *Logger)
	}{
		{"debug", "debug", func(l *Logger) { l.Debug("msg", billing.F("key", "value")) }},
		{"info", "info", func(l *Logger) { l.Info("msg", billing.F("key", "value")) }},
		{"warn", "warn", func(l *Logger) { l.Warn("msg", billing.F("key", "value")) }},
		{"error", "error", func(l *Logger) { l.Error("msg", billing.F("key", "value")) }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var output bytes.Buffer
			zlog := zerolog.New(&output)
			tt.log(NewLogger(&zlog))

			var entry map[string]interface{}
			require.NoError(t, json.Unmarshal(output.Bytes(), &entry))
			assert.Equal(t, tt.level, entry["level"])
			assert.Equal(t, "msg", entry["message"])
			assert.Equal(t, "value", entry["key"])
		})
	}
}

func TestZerologLogger_ErrorField(t *testing.T) {
	var output bytes.Buffer
	zlog := zerolog.New(&output)
	logger := NewLogger(&zlog)

	logger.Error("reconcile failed", billing.F("error", errors.New("boom")), billing.F("customer_id", "cus_1"))

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(output.Bytes(), &entry))
	assert.Equal(t, "boom", entry["error"])
	assert.Equal(t, "cus_1", entry["customer_id"])
}

func TestZerologLogger_LevelFiltered(t *testing.T) {
	var output bytes.Buffer
	zlog := zerolog.New(&output).Level(zerolog.WarnLevel)
	logger := NewLogger(&zlog)

	logger.Info("dropped")
	assert.Equal(t, 0, output.Len())

	logger.Warn("kept")
	assert.NotEqual(t, 0, output.Len())
}
