package logging

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/hashicorp/go-hclog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/repoctx-mcp/internal/config"
)

func TestParseLevel(t *testing.T) {
	assert.Equal(t, hclog.Debug, ParseLevel("debug"))
	assert.Equal(t, hclog.Warn, ParseLevel(" WARN "))
	assert.Equal(t, hclog.Off, ParseLevel("off"))
	assert.Equal(t, hclog.Info, ParseLevel(""))
	assert.Equal(t, hclog.Info, ParseLevel("chatty"))
}

func TestNew_Text(t *testing.T) {
	var buf bytes.Buffer
	logger := New(config.LoggingConfig{Level: "warn", Format: "text"}, &buf)

	logger.Info("hidden")
	logger.Named("syncer").Warn("shown", "path", "a.go")

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, "repoctx.syncer: shown")
	assert.Contains(t, out, "path=a.go")
}

func TestNew_JSON(t *testing.T) {
	var buf bytes.Buffer
	logger := New(config.LoggingConfig{Level: "debug", Format: "json"}, &buf)
	logger.With("run", "01J").Debug("started", "branch", "main")

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "started", line["@message"])
	assert.Equal(t, "repoctx", line["@module"])
	assert.Equal(t, "01J", line["run"])
	assert.Equal(t, "main", line["branch"])
}
