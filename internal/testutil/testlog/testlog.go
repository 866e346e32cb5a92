package testlog

import (
	"bytes"
	"strings"
	"sync"
	"testing"

	"github.com/danmuck/amprelay/internal/logging"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func Start(t *testing.T) {
	t.Helper()
	logging.ConfigureTests()
	log.Info().Str("test", t.Name()).Msg("test start")
}

// Capture is a goroutine-safe JSON log sink for asserting on emitted records.
type Capture struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (c *Capture) Write(p []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.buf.Write(p)
}

// Logger returns a debug-level logger writing into the capture.
func (c *Capture) Logger() zerolog.Logger {
	return zerolog.New(c).Level(zerolog.DebugLevel)
}

// Lines returns the emitted records.
func (c *Capture) Lines() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	raw := strings.TrimSpace(c.buf.String())
	if raw == "" {
		return nil
	}
	return strings.Split(raw, "\n")
}

// Count returns how many records contain substr.
func (c *Capture) Count(substr string) int {
	n := 0
	for _, line := range c.Lines() {
		if strings.Contains(line, substr) {
			n++
		}
	}
	return n
}

// NewNop returns a logger that discards everything.
func NewNop() zerolog.Logger {
	return zerolog.Nop()
}
