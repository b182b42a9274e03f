package main

import (
	"bytes"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoggerForFormats(t *testing.T) {
	tests := []struct {
		format string
		tty    bool
		want   string
	}{
		{format: "json", want: `"msg":"hello"`},
		{format: "auto", want: `"msg":"hello"`},
		{format: "text", want: "msg=hello"},
		{format: "pretty", want: "hello"},
		{format: "auto", tty: true, want: "hello"},
	}
	for _, tt := range tests {
		var buf bytes.Buffer
		log, err := loggerFor(&buf, tt.tty, slog.LevelInfo, tt.format)
		require.NoError(t, err, tt.format)
		log.Info("hello", "k", 1)
		assert.Contains(t, buf.String(), tt.want, tt.format)
	}
}

func TestLoggerForLevelFilters(t *testing.T) {
	var buf bytes.Buffer
	log, err := loggerFor(&buf, false, slog.LevelWarn, "json")
	require.NoError(t, err)
	log.Info("quiet")
	assert.Empty(t, buf.String())
	log.Warn("loud")
	assert.Contains(t, buf.String(), "loud")
}

func TestLoggerForUnknownFormat(t *testing.T) {
	_, err := loggerFor(&bytes.Buffer{}, false, slog.LevelInfo, "xml")
	require.Error(t, err)
}
