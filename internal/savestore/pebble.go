package savestore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/cockroachdb/pebble"
)

const keyPrefix = "save:"

// PebbleStore keeps save records in a pebble database so they survive
// node restarts.
type PebbleStore struct {
	db *pebble.DB
}

// OpenPebble opens or creates the database at dir.
func OpenPebble(dir string) (*PebbleStore, error) {
	db, err := pebble.Open(dir, &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("open save store %q: %w", dir, err)
	}
	return &PebbleStore{db: db}, nil
}

func recordKey(federation, label string) []byte {
	return []byte(keyPrefix + federation + "\x00" + label)
}

func federationPrefix(federation string) []byte {
	return []byte(keyPrefix + federation + "\x00")
}

func (s *PebbleStore) Put(_ context.Context, rec *Record) error {
	if err := rec.validate(); err != nil {
		return err
	}
	cp := *rec
	cp.Seal()
	buf, err := json.Marshal(&cp)
	if err != nil {
		return fmt.Errorf("encode save record: %w", err)
	}
	return s.db.Set(recordKey(rec.Federation, rec.Label), buf, pebble.Sync)
}

func (s *PebbleStore) Get(_ context.Context, federation, label string) (*Record, error) {
	val, closer, err := s.db.Get(recordKey(federation, label))
	if err != nil {
		if errors.Is(err, pebble.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s/%s", ErrNotFound, federation, label)
		}
		return nil, err
	}
	defer closer.Close()

	var rec Record
	if err := json.Unmarshal(val, &rec); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	return &rec, rec.Verify()
}

func (s *PebbleStore) Labels(_ context.Context, federation string) ([]string, error) {
	prefix := federationPrefix(federation)
	upper := append(append([]byte(nil), prefix[:len(prefix)-1]...), 0x01)
	iter, err := s.db.NewIter(&pebble.IterOptions{LowerBound: prefix, UpperBound: upper})
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	var out []string
	for ok := iter.First(); ok; ok = iter.Next() {
		out = append(out, strings.TrimPrefix(string(iter.Key()), string(prefix)))
	}
	return out, iter.Error()
}

func (s *PebbleStore) Delete(ctx context.Context, federation, label string) error {
	if _, err := s.Get(ctx, federation, label); errors.Is(err, ErrNotFound) {
		return err
	}
	return s.db.Delete(recordKey(federation, label), pebble.Sync)
}

func (s *PebbleStore) Close() error { return s.db.Close() }
