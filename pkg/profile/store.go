// Package profile remembers which entry addresses were translated, so a
// later run can warm its cache before executing guest code.
package profile

import (
	"encoding/binary"
	"fmt"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/cockroachdb/pebble"
	"github.com/cockroachdb/pebble/vfs"
	"github.com/fxamacker/cbor/v2"
)

// Record summarizes one successful translation
type Record struct {
	Entry        uint64   `cbor:"1,keyasint"`
	Fingerprint  [32]byte `cbor:"2,keyasint"`
	Instructions int      `cbor:"3,keyasint"`
	Exits        int      `cbor:"4,keyasint"`
	CompiledAt   int64    `cbor:"5,keyasint"`
}

// CompiledTime returns CompiledAt as a time
func (r Record) CompiledTime() time.Time { return time.Unix(0, r.CompiledAt) }

var keyPrefix = []byte("unit/")

// ErrNotFound is returned by Get for unknown entries
var ErrNotFound = errors.New("profile record not found")

var encMode cbor.EncMode

func init() {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("profile: failed to create CBOR enc mode: %v", err))
	}
	encMode = em
}

// Store is a pebble-backed set of Records keyed by entry address
type Store struct {
	db *pebble.DB
}

// Open opens or creates the store in dir
func Open(dir string) (*Store, error) {
	return open(dir, &pebble.Options{})
}

// OpenInMemory returns a store that lives only as long as the process
func OpenInMemory() (*Store, error) {
	return open("", &pebble.Options{FS: vfs.NewMem()})
}

func open(dir string, opts *pebble.Options) (*Store, error) {
	db, err := pebble.Open(dir, opts)
	if err != nil {
		return nil, errors.Wrapf(err, "open profile store %q", dir)
	}
	return &Store{db: db}, nil
}

func key(entry uint64) []byte {
	k := make([]byte, len(keyPrefix)+8)
	copy(k, keyPrefix)
	binary.BigEndian.PutUint64(k[len(keyPrefix):], entry)
	return k
}

// upperBound is the first key after every record key
func upperBound() []byte {
	b := append([]byte(nil), keyPrefix...)
	b[len(b)-1]++
	return b
}

// Put stores rec, replacing any record for the same entry
func (s *Store) Put(rec Record) error {
	data, err := encMode.Marshal(rec)
	if err != nil {
		return errors.Wrap(err, "encode profile record")
	}
	return s.db.Set(key(rec.Entry), data, pebble.Sync)
}

// Get returns the record of entry, or ErrNotFound
func (s *Store) Get(entry uint64) (Record, error) {
	data, closer, err := s.db.Get(key(entry))
	if errors.Is(err, pebble.ErrNotFound) {
		return Record{}, ErrNotFound
	}
	if err != nil {
		return Record{}, err
	}
	defer closer.Close()

	var rec Record
	if err := cbor.Unmarshal(data, &rec); err != nil {
		return Record{}, errors.Wrapf(err, "decode profile record 0x%x", entry)
	}
	return rec, nil
}

// Records returns every record in ascending entry order
func (s *Store) Records() ([]Record, error) {
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: keyPrefix,
		UpperBound: upperBound(),
	})
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	var recs []Record
	for iter.First(); iter.Valid(); iter.Next() {
		var rec Record
		if err := cbor.Unmarshal(iter.Value(), &rec); err != nil {
			return nil, errors.Wrapf(err, "decode profile record %x", iter.Key())
		}
		recs = append(recs, rec)
	}
	return recs, iter.Error()
}

// Delete removes the record of entry, if any
func (s *Store) Delete(entry uint64) error {
	return s.db.Delete(key(entry), pebble.Sync)
}

// Clear removes every record
func (s *Store) Clear() error {
	return s.db.DeleteRange(keyPrefix, upperBound(), pebble.Sync)
}

// Close closes the database
func (s *Store) Close() error {
	return s.db.Close()
}
