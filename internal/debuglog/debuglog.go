package debuglog

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// Sink is the plaintext debug trace, separate from the structured audit
// table. The file is append-only and named by service version, so upgrades
// rotate to a fresh file without touching old traces. Entries are written
// already masked; writes are best-effort and never fail the payment flow.
type Sink struct {
	mu      sync.Mutex
	dir     string
	version string
	enabled bool
}

// New creates a Sink writing under dir. When enabled is false every write is
// a no-op but the operator read/clear actions still work.
func New(dir, version string, enabled bool) *Sink {
	return &Sink{dir: dir, version: version, enabled: enabled}
}

// Enabled reports whether the debug flag is on.
func (s *Sink) Enabled() bool { return s.enabled }

func (s *Sink) path() string {
	return filepath.Join(s.dir, fmt.Sprintf("qnbpay_debug_%s.log", s.version))
}

// Write appends one masked entry to the trace file.
func (s *Sink) Write(orderID int64, action string, payload json.RawMessage) {
	if !s.enabled {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		log.Warn().Err(err).Msg("debug log dir create failed")
		return
	}
	f, err := os.OpenFile(s.path(), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		log.Warn().Err(err).Msg("debug log open failed")
		return
	}
	defer f.Close()

	line := fmt.Sprintf("[%s] order=%d action=%s payload=%s\n",
		time.Now().Format(time.RFC3339), orderID, action, string(payload))
	if _, err := f.WriteString(line); err != nil {
		log.Warn().Err(err).Msg("debug log write failed")
	}
}

// Read returns the current trace file contents for operator download.
func (s *Sink) Read() ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path())
	if os.IsNotExist(err) {
		return []byte{}, nil
	}
	return data, err
}

// Clear removes the current trace file.
func (s *Sink) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	err := os.Remove(s.path())
	if os.IsNotExist(err) {
		return nil
	}
	return err
}
