package persist

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"unicode"

	"pkt.systems/pslog"
)

// Keys of the persisted state slices.
const (
	KeyLogs      = "logs"
	KeyExpanded  = "expanded_groups"
	KeyTerminals = "terminals"
	KeyTheme     = "theme"
)

// KV is a durable key/value store.
type KV interface {
	Load(key string) ([]byte, bool, error)
	Save(key string, value []byte) error
	Clear(key string) error
}

// FileStore persists each key as a JSON file under a directory.
type FileStore struct {
	dir string
	log pslog.Logger
}

// NewFileStore constructs a file store at the given directory.
func NewFileStore(dir string) (*FileStore, error) {
	return NewFileStoreWithLogger(dir, nil)
}

// NewFileStoreWithLogger constructs a file store with logging.
func NewFileStoreWithLogger(dir string, logger pslog.Logger) (*FileStore, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, errors.New("state directory is required")
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, err
	}
	if logger != nil {
		logger = logger.With("state_dir", dir)
	}
	return &FileStore{dir: dir, log: logger}, nil
}

// Load reads the raw value stored under key.
func (s *FileStore) Load(key string) ([]byte, bool, error) {
	data, err := os.ReadFile(s.pathForKey(key))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			if s.log != nil {
				s.log.Debug("state load miss", "key", key)
			}
			return nil, false, nil
		}
		if s.log != nil {
			s.log.Warn("state load failed", "key", key, "err", err)
		}
		return nil, false, err
	}
	if s.log != nil {
		s.log.Debug("state load ok", "key", key, "bytes", len(data))
	}
	return data, true, nil
}

// Save atomically replaces the value stored under key.
func (s *FileStore) Save(key string, value []byte) error {
	path := s.pathForKey(key)
	if err := s.writeAtomic(path, value); err != nil {
		if s.log != nil {
			s.log.Warn("state save failed", "key", key, "err", err)
		}
		return err
	}
	if s.log != nil {
		s.log.Trace("state save ok", "key", key, "bytes", len(value))
	}
	return nil
}

// Clear removes the value stored under key.
func (s *FileStore) Clear(key string) error {
	if err := os.Remove(s.pathForKey(key)); err != nil && !errors.Is(err, os.ErrNotExist) {
		if s.log != nil {
			s.log.Warn("state clear failed", "key", key, "err", err)
		}
		return err
	}
	if s.log != nil {
		s.log.Debug("state clear ok", "key", key)
	}
	return nil
}

func (s *FileStore) writeAtomic(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), "state-*.json")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return err
	}
	if err := os.Chmod(tmp.Name(), 0o600); err != nil {
		_ = os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), path)
}

func (s *FileStore) pathForKey(key string) string {
	name := sanitize(key)
	if name == "" {
		name = "unknown"
	}
	return filepath.Join(s.dir, name+".json")
}

func sanitize(value string) string {
	var b strings.Builder
	for _, r := range value {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
			continue
		}
		if r == '-' || r == '_' || r == '.' {
			b.WriteRune(r)
			continue
		}
		b.WriteRune('_')
	}
	return b.String()
}
