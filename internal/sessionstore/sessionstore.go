// Package sessionstore manages the on-disk directory of saved play
// sessions, adapted from the teacher's internal/multistore id-validation
// and root-path/meta.yaml bookkeeping (internal/multistore/storeid.go,
// manager.go) narrowed from "many isolated sqlite-backed stores, lazily
// loaded and kept open" to "many independent session JSON envelopes,
// opened one at a time by internal/session.Load/Save."
package sessionstore

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	// MaxIDLength bounds a session id's length.
	MaxIDLength = 128
	// sessionFileName is the envelope internal/session.Save/Load writes.
	sessionFileName = "session.json"
	// metaFileName is the small sidecar this package owns, so ListSessions
	// can enumerate without opening every envelope.
	metaFileName = "meta.yaml"
)

var (
	// ErrInvalidID indicates a session id failed validation.
	ErrInvalidID = errors.New("invalid session id")
	// ErrSessionNotFound indicates the requested session does not exist.
	ErrSessionNotFound = errors.New("session not found")
	// ErrSessionAlreadyExists indicates a session already exists during creation.
	ErrSessionAlreadyExists = errors.New("session already exists")
)

var idPattern = regexp.MustCompile(`^[a-z0-9]+(-[a-z0-9]+)*$`)

// ValidateID validates a session id against format rules: lowercase
// alphanumeric segments joined by single hyphens, same shape as the
// teacher's store id segments.
func ValidateID(id string) error {
	if id == "" {
		return fmt.Errorf("%w: empty session id", ErrInvalidID)
	}
	if len(id) > MaxIDLength {
		return fmt.Errorf("%w: exceeds %d characters", ErrInvalidID, MaxIDLength)
	}
	if !idPattern.MatchString(id) {
		return fmt.Errorf("%w: %q must be lowercase alphanumeric segments joined by hyphens", ErrInvalidID, id)
	}
	return nil
}

// Meta is the small sidecar record kept next to each session envelope.
type Meta struct {
	Created      time.Time `yaml:"created"`
	LastAccessed time.Time `yaml:"last_accessed"`
	Description  string    `yaml:"description,omitempty"`
}

// Info summarizes one session for listing, without loading its envelope.
type Info struct {
	ID           string
	Path         string
	Created      time.Time
	LastAccessed time.Time
	Description  string
	SizeBytes    int64
}

// Store locates session directories under a root path.
type Store struct {
	rootPath string
}

// Open resolves rootPath (expanding a leading "~/") and ensures it exists.
func Open(rootPath string) (*Store, error) {
	if strings.HasPrefix(rootPath, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("sessionstore: resolve home directory: %w", err)
		}
		rootPath = filepath.Join(home, rootPath[2:])
	}
	if err := os.MkdirAll(rootPath, 0o755); err != nil {
		return nil, fmt.Errorf("sessionstore: create sessions root: %w", err)
	}
	return &Store{rootPath: rootPath}, nil
}

func (s *Store) dir(id string) string         { return filepath.Join(s.rootPath, id) }
func (s *Store) envelopePath(id string) string { return filepath.Join(s.dir(id), sessionFileName) }
func (s *Store) metaPath(id string) string     { return filepath.Join(s.dir(id), metaFileName) }

// EnvelopePath returns the path internal/session.Save/Load should use for
// the given session id, creating the session's directory and a fresh meta
// sidecar the first time it is called for that id.
func (s *Store) EnvelopePath(id, description string) (string, error) {
	if err := ValidateID(id); err != nil {
		return "", err
	}
	dir := s.dir(id)
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return "", fmt.Errorf("sessionstore: create session directory: %w", err)
		}
		now := time.Now().UTC()
		if err := s.writeMeta(id, Meta{Created: now, LastAccessed: now, Description: description}); err != nil {
			return "", err
		}
	} else {
		if err := s.touchAccessed(id); err != nil {
			return "", err
		}
	}
	return s.envelopePath(id), nil
}

// Create registers a new, empty session id, failing if one already exists.
// The caller still must Save an envelope to it before it holds real data.
func (s *Store) Create(id, description string) error {
	if err := ValidateID(id); err != nil {
		return err
	}
	dir := s.dir(id)
	if _, err := os.Stat(dir); err == nil {
		return ErrSessionAlreadyExists
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("sessionstore: create session directory: %w", err)
	}
	now := time.Now().UTC()
	return s.writeMeta(id, Meta{Created: now, LastAccessed: now, Description: description})
}

// Delete removes a session's directory and all its data.
func (s *Store) Delete(id string) error {
	if err := ValidateID(id); err != nil {
		return err
	}
	dir := s.dir(id)
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		return ErrSessionNotFound
	}
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("sessionstore: remove session directory: %w", err)
	}
	return nil
}

// List returns summary info for every saved session, sorted by id.
func (s *Store) List() ([]Info, error) {
	entries, err := os.ReadDir(s.rootPath)
	if err != nil {
		return nil, fmt.Errorf("sessionstore: read sessions root: %w", err)
	}

	var out []Info
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		id := entry.Name()
		meta, err := s.readMeta(id)
		if err != nil {
			continue
		}
		var size int64
		if info, err := os.Stat(s.envelopePath(id)); err == nil {
			size = info.Size()
		}
		out = append(out, Info{
			ID:           id,
			Path:         s.envelopePath(id),
			Created:      meta.Created,
			LastAccessed: meta.LastAccessed,
			Description:  meta.Description,
			SizeBytes:    size,
		})
	}
	return out, nil
}

func (s *Store) writeMeta(id string, meta Meta) error {
	data, err := yaml.Marshal(&meta)
	if err != nil {
		return fmt.Errorf("sessionstore: marshal meta: %w", err)
	}
	if err := os.WriteFile(s.metaPath(id), data, 0o644); err != nil {
		return fmt.Errorf("sessionstore: write meta: %w", err)
	}
	return nil
}

func (s *Store) readMeta(id string) (Meta, error) {
	data, err := os.ReadFile(s.metaPath(id))
	if err != nil {
		return Meta{}, err
	}
	var meta Meta
	if err := yaml.Unmarshal(data, &meta); err != nil {
		return Meta{}, fmt.Errorf("sessionstore: parse meta: %w", err)
	}
	return meta, nil
}

func (s *Store) touchAccessed(id string) error {
	meta, err := s.readMeta(id)
	if err != nil {
		return err
	}
	meta.LastAccessed = time.Now().UTC()
	return s.writeMeta(id, meta)
}
