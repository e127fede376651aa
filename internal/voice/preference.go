package voice

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Preference persists the selected synthesis model across calls. A single
// value on disk, read at call setup and replaced atomically on write.
type Preference struct {
	dir          string
	defaultModel string
}

func NewPreference(dir, defaultModel string) *Preference {
	return &Preference{dir: dir, defaultModel: defaultModel}
}

func (p *Preference) path() string {
	return filepath.Join(p.dir, "voice.txt")
}

// Read returns the saved model, falling back to the configured default when
// the file is missing or empty.
func (p *Preference) Read() string {
	raw, err := os.ReadFile(p.path())
	if err != nil {
		return p.defaultModel
	}
	model := strings.TrimSpace(string(raw))
	if model == "" {
		return p.defaultModel
	}
	return model
}

// Write persists a model id. Temp file plus rename keeps concurrent readers
// from ever seeing a partial value.
func (p *Preference) Write(model string) error {
	if err := os.MkdirAll(p.dir, 0o755); err != nil {
		return fmt.Errorf("create preference dir: %w", err)
	}
	tmp, err := os.CreateTemp(p.dir, "voice-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp preference: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.WriteString(model + "\n"); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write preference: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close preference: %w", err)
	}
	if err := os.Rename(tmpName, p.path()); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("replace preference: %w", err)
	}
	return nil
}
