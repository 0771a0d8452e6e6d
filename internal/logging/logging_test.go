package logging

import (
	"bytes"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTextLoggerWritesKeyValues(t *testing.T) {
	var buf bytes.Buffer
	logger := NewTextLogger(&buf, slog.LevelInfo)

	logger.Info("run starting", "run_id", "r-1", "nodes", 3)
	out := buf.String()
	assert.Contains(t, out, "run starting")
	assert.Contains(t, out, "run_id=r-1")
	assert.Contains(t, out, "nodes=3")
}

func TestTextLoggerHonorsLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := NewTextLogger(&buf, slog.LevelWarn)

	logger.Debug("hidden")
	logger.Info("also hidden")
	logger.Warn("shown")
	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, "shown")
}

func TestJSONLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := NewJSONLogger(&buf, slog.LevelInfo)

	logger.Error("dispatch failed", "agent_id", "a-1")
	out := buf.String()
	assert.Contains(t, out, `"msg":"dispatch failed"`)
	assert.Contains(t, out, `"agent_id":"a-1"`)
}

func TestOrDefault(t *testing.T) {
	assert.NotNil(t, OrDefault(nil))

	sentinel := NoOpLogger{}
	assert.Equal(t, sentinel, OrDefault(sentinel))
}
