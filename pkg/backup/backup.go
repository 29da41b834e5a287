package backup

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"
)

const (
	namePrefix = "snapshot-"
	nameSuffix = ".json"
	timeLayout = "20060102-150405.000"
)

// ErrNoSnapshot is returned by Latest when storage holds no snapshot.
var ErrNoSnapshot = errors.New("no snapshot found")

// Snapshot is one saved copy of service state. Each section holds the JSON
// of one collection.
type Snapshot struct {
	Version   string                     `json:"version"`
	Timestamp time.Time                  `json:"timestamp"`
	Sections  map[string]json.RawMessage `json:"sections"`
	Metadata  map[string]interface{}     `json:"metadata,omitempty"`
}

// Put encodes v into the named section.
func (s *Snapshot) Put(section string, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode section %s: %w", section, err)
	}
	if s.Sections == nil {
		s.Sections = make(map[string]json.RawMessage)
	}
	s.Sections[section] = raw
	return nil
}

// Get decodes the named section into v and reports whether it was present.
func (s *Snapshot) Get(section string, v any) (bool, error) {
	raw, ok := s.Sections[section]
	if !ok {
		return false, nil
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return true, fmt.Errorf("decode section %s: %w", section, err)
	}
	return true, nil
}

// Storage defines interface for backup storage
type Storage interface {
	Save(ctx context.Context, name string, data io.Reader) error
	Load(ctx context.Context, name string) (io.ReadCloser, error)
	List(ctx context.Context, prefix string) ([]string, error)
	Delete(ctx context.Context, name string) error
}

// Service writes and reads timestamped snapshots.
type Service struct {
	storage Storage
	version string
	now     func() time.Time
}

func NewService(storage Storage, version string) *Service {
	return &Service{
		storage: storage,
		version: version,
		now:     time.Now,
	}
}

// Create stamps and saves snap, returning its name.
func (s *Service) Create(ctx context.Context, snap *Snapshot) (string, error) {
	snap.Version = s.version
	snap.Timestamp = s.now().UTC()

	data, err := json.Marshal(snap)
	if err != nil {
		return "", fmt.Errorf("failed to marshal snapshot: %w", err)
	}

	name := namePrefix + snap.Timestamp.Format(timeLayout) + nameSuffix
	if err := s.storage.Save(ctx, name, bytes.NewReader(data)); err != nil {
		return "", fmt.Errorf("failed to save snapshot: %w", err)
	}
	return name, nil
}

func (s *Service) Restore(ctx context.Context, name string) (*Snapshot, error) {
	reader, err := s.storage.Load(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("failed to load snapshot: %w", err)
	}
	defer reader.Close()

	var snap Snapshot
	if err := json.NewDecoder(reader).Decode(&snap); err != nil {
		return nil, fmt.Errorf("failed to decode snapshot %s: %w", name, err)
	}
	if snap.Version == "" {
		return nil, fmt.Errorf("invalid snapshot %s: missing version", name)
	}
	return &snap, nil
}

// List returns snapshot names oldest first.
func (s *Service) List(ctx context.Context) ([]string, error) {
	names, err := s.storage.List(ctx, namePrefix)
	if err != nil {
		return nil, err
	}
	out := names[:0]
	for _, n := range names {
		if strings.HasSuffix(n, nameSuffix) {
			out = append(out, n)
		}
	}
	sort.Strings(out)
	return out, nil
}

// Latest returns the name of the newest snapshot.
func (s *Service) Latest(ctx context.Context) (string, error) {
	names, err := s.List(ctx)
	if err != nil {
		return "", err
	}
	if len(names) == 0 {
		return "", ErrNoSnapshot
	}
	return names[len(names)-1], nil
}

func (s *Service) Delete(ctx context.Context, name string) error {
	return s.storage.Delete(ctx, name)
}

// Prune deletes snapshots taken before cutoff, always keeping the newest,
// and returns how many were removed.
func (s *Service) Prune(ctx context.Context, cutoff time.Time) (int, error) {
	names, err := s.List(ctx)
	if err != nil {
		return 0, err
	}
	removed := 0
	var errs []error
	for i, name := range names {
		if i == len(names)-1 {
			break
		}
		ts, ok := timestampOf(name)
		if !ok || !ts.Before(cutoff) {
			continue
		}
		if err := s.storage.Delete(ctx, name); err != nil {
			errs = append(errs, err)
			continue
		}
		removed++
	}
	return removed, errors.Join(errs...)
}

func timestampOf(name string) (time.Time, bool) {
	raw := strings.TrimSuffix(strings.TrimPrefix(name, namePrefix), nameSuffix)
	ts, err := time.Parse(timeLayout, raw)
	return ts, err == nil
}
