package recording

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// Store writes raw uploads and synthesized replies under two directories.
// Files are diagnostic only; nothing reads them back.
type Store struct {
	recordingsDir string
	responsesDir  string
	now           func() time.Time
}

// NewStore creates both directories if needed.
func NewStore(recordingsDir, responsesDir string) (*Store, error) {
	for _, dir := range []string{recordingsDir, responsesDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, errors.Wrapf(err, "create %s", dir)
		}
	}
	return &Store{
		recordingsDir: recordingsDir,
		responsesDir:  responsesDir,
		now:           time.Now,
	}, nil
}

func (s *Store) SaveRecording(audio []byte) (string, error) {
	return s.write(s.recordingsDir, "recording", "wav", audio)
}

func (s *Store) SaveResponse(audio []byte) (string, error) {
	return s.write(s.responsesDir, "response", "mp3", audio)
}

func (s *Store) write(dir, prefix, ext string, data []byte) (string, error) {
	// uuid suffix keeps same-millisecond uploads apart
	name := fmt.Sprintf("%s_%s_%s.%s", prefix, s.now().UTC().Format("20060102T150405.000Z"), uuid.NewString()[:8], ext)
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", errors.Wrapf(err, "write %s", path)
	}
	return path, nil
}
