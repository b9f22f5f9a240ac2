package jobs

import (
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"

	"predictd/internal/common/fsutil"
)

// ArtifactState is the durable view of an async job derived from marker
// files alone. It stays answerable after the worker that ran the job is
// gone, and after the broker document has expired.
type ArtifactState string

const (
	ArtifactRequested ArtifactState = "REQUESTED"
	ArtifactRunning   ArtifactState = "RUNNING"
	ArtifactFinished  ArtifactState = "FINISHED"
	ArtifactUnknown   ArtifactState = "UNKNOWN"
)

const (
	extRequest = ".request"
	extRunning = ".running"
	extResult  = ".result"
)

// Artifacts manages the marker files of async jobs under one directory.
type Artifacts struct {
	dir string
	log zerolog.Logger
}

// NewArtifacts creates the directory if needed.
func NewArtifacts(dir string, log zerolog.Logger) (*Artifacts, error) {
	if dir == "" {
		return nil, fmt.Errorf("artifacts dir must not be empty")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create artifacts dir: %w", err)
	}
	return &Artifacts{dir: dir, log: log}, nil
}

// Dir returns the artifact root.
func (a *Artifacts) Dir() string { return a.dir }

func (a *Artifacts) path(id, ext string) string {
	return filepath.Join(a.dir, id+ext)
}

// WriteRequest persists the submission header so the request survives
// broker expiry.
func (a *Artifacts) WriteRequest(doc *Document) error {
	return a.writeJSON(a.path(doc.ID, extRequest), doc)
}

// WriteRunning marks the job as claimed by a worker.
func (a *Artifacts) WriteRunning(id string) error {
	f, err := os.Create(a.path(id, extRunning))
	if err != nil {
		return fmt.Errorf("write running marker: %w", err)
	}
	return f.Close()
}

// WriteResult persists the terminal outcome.
func (a *Artifacts) WriteResult(id string, outcome any) error {
	return a.writeJSON(a.path(id, extResult), outcome)
}

func (a *Artifacts) writeJSON(path string, v any) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encode artifact: %w", err)
	}
	if err := os.WriteFile(path, b, 0o644); err != nil {
		return fmt.Errorf("write artifact: %w", err)
	}
	return nil
}

// Status derives the job state from marker presence. A result marker wins
// over a running marker, which wins over the request header.
func (a *Artifacts) Status(id string) ArtifactState {
	switch {
	case fsutil.PathExists(a.path(id, extResult)):
		return ArtifactFinished
	case fsutil.PathExists(a.path(id, extRunning)):
		return ArtifactRunning
	case fsutil.PathExists(a.path(id, extRequest)):
		return ArtifactRequested
	}
	return ArtifactUnknown
}

// ReadResult decodes the result marker of a finished job.
func (a *Artifacts) ReadResult(id string, dest any) error {
	b, err := os.ReadFile(a.path(id, extResult))
	if err != nil {
		if os.IsNotExist(err) {
			return notFoundError{id: id}
		}
		return fmt.Errorf("read result artifact: %w", err)
	}
	return json.Unmarshal(b, dest)
}

// Sweep removes artifacts older than maxAge and prunes directories left
// empty, returning the number of files removed.
func (a *Artifacts) Sweep(maxAge time.Duration) int {
	cutoff := time.Now().Add(-maxAge)
	removed := 0
	var dirs []string

	err := filepath.WalkDir(a.dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			if path != a.dir {
				dirs = append(dirs, path)
			}
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		if info.ModTime().Before(cutoff) {
			if err := os.Remove(path); err == nil {
				removed++
			}
		}
		return nil
	})
	if err != nil {
		a.log.Warn().Err(err).Str("dir", a.dir).Msg("artifact sweep walk failed")
	}

	// Deepest first so a chain of empty directories collapses in one pass.
	for i := len(dirs) - 1; i >= 0; i-- {
		_ = os.Remove(dirs[i]) // fails when non-empty, which is fine
	}
	if removed > 0 {
		a.log.Info().Int("removed", removed).Str("dir", a.dir).Msg("swept old artifacts")
	}
	return removed
}
