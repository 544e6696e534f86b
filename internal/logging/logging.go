// Package logging builds the process-wide hclog logger.
package logging

import (
	"io"
	"os"
	"strings"

	"github.com/hashicorp/go-hclog"

	"github.com/dshills/repoctx-mcp/internal/config"
)

// AppName names the root logger.
const AppName = "repoctx"

// New creates a logger for cfg writing to w. A nil w writes to stderr, which
// keeps stdout free for the MCP stdio transport.
func New(cfg config.LoggingConfig, w io.Writer) hclog.Logger {
	if w == nil {
		w = os.Stderr
	}
	return hclog.New(&hclog.LoggerOptions{
		Name:       AppName,
		Level:      ParseLevel(cfg.Level),
		Output:     w,
		JSONFormat: strings.EqualFold(cfg.Format, "json"),
	})
}

// ParseLevel maps a level name onto hclog, defaulting to Info.
func ParseLevel(name string) hclog.Level {
	level := hclog.LevelFromString(strings.TrimSpace(name))
	if level == hclog.NoLevel {
		return hclog.Info
	}
	return level
}
