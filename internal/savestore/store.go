// Package savestore persists the RTI side of federation saves so a later
// restore can bring a federation back to a labelled state.
package savestore

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/howeyc/crc16"
)

var (
	ErrNotFound = errors.New("save record not found")
	ErrCorrupt  = errors.New("save record checksum mismatch")
	ErrBadInput = errors.New("invalid save record")
)

// Record is one labelled federation save. Payload is opaque to the store.
type Record struct {
	Federation string    `json:"federation"`
	Label      string    `json:"label"`
	SavedAt    time.Time `json:"savedAt"`
	Payload    []byte    `json:"payload"`
	Checksum   uint16    `json:"checksum"`
}

// Seal stamps the payload checksum.
func (r *Record) Seal() { r.Checksum = checksum(r.Payload) }

// Verify reports ErrCorrupt when the payload no longer matches its checksum.
func (r *Record) Verify() error {
	if checksum(r.Payload) != r.Checksum {
		return fmt.Errorf("%w: %s/%s", ErrCorrupt, r.Federation, r.Label)
	}
	return nil
}

func (r *Record) validate() error {
	if r == nil || r.Federation == "" || r.Label == "" {
		return fmt.Errorf("%w: federation and label are required", ErrBadInput)
	}
	return nil
}

func checksum(data []byte) uint16 { return crc16.Checksum(data, crc16.IBMTable) }

// Store keeps save records keyed by federation name and label.
type Store interface {
	Put(ctx context.Context, rec *Record) error
	Get(ctx context.Context, federation, label string) (*Record, error)
	Labels(ctx context.Context, federation string) ([]string, error)
	Delete(ctx context.Context, federation, label string) error
	Close() error
}

// MemoryStore is a Store held in process memory.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]map[string]Record
}

// NewMemoryStore returns an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]map[string]Record)}
}

func (s *MemoryStore) Put(_ context.Context, rec *Record) error {
	if err := rec.validate(); err != nil {
		return err
	}
	cp := *rec
	cp.Payload = append([]byte(nil), rec.Payload...)
	cp.Seal()

	s.mu.Lock()
	defer s.mu.Unlock()
	byLabel, ok := s.records[rec.Federation]
	if !ok {
		byLabel = make(map[string]Record)
		s.records[rec.Federation] = byLabel
	}
	byLabel[rec.Label] = cp
	return nil
}

func (s *MemoryStore) Get(_ context.Context, federation, label string) (*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[federation][label]
	if !ok {
		return nil, fmt.Errorf("%w: %s/%s", ErrNotFound, federation, label)
	}
	rec.Payload = append([]byte(nil), rec.Payload...)
	return &rec, rec.Verify()
}

func (s *MemoryStore) Labels(_ context.Context, federation string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.records[federation]))
	for label := range s.records[federation] {
		out = append(out, label)
	}
	sort.Strings(out)
	return out, nil
}

func (s *MemoryStore) Delete(_ context.Context, federation, label string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.records[federation][label]; !ok {
		return fmt.Errorf("%w: %s/%s", ErrNotFound, federation, label)
	}
	delete(s.records[federation], label)
	return nil
}

func (s *MemoryStore) Close() error { return nil }
