package levelstore

import (
	"encoding/binary"
	"fmt"
	"math"
	"strings"

	"github.com/dgraph-io/badger/v4"
)

// Level is one level's pose keyspace. Implements posestore.Level.
type Level struct {
	db *badger.DB
	id string
}

// ID returns the level id.
func (l *Level) ID() string { return l.id }

func (l *Level) posePrefix() string      { return rootPrefix + l.id + "/pose/" }
func (l *Level) tolerancePrefix() string { return rootPrefix + l.id + "/tolerance/" }

func (l *Level) poseKey(poseID string) []byte {
	return []byte(l.posePrefix() + poseID)
}

func (l *Level) toleranceKey(poseID string) []byte {
	return []byte(l.tolerancePrefix() + poseID)
}

// PutPose stores the serialized pose blob.
func (l *Level) PutPose(poseID string, blob []byte) error {
	if err := validID(poseID); err != nil {
		return err
	}
	return l.db.Update(func(txn *badger.Txn) error {
		return txn.Set(l.poseKey(poseID), blob)
	})
}

// DeletePose removes the pose blob.
func (l *Level) DeletePose(poseID string) error {
	return l.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(l.poseKey(poseID))
	})
}

// SetTolerance stores the authoritative tolerance for poseID.
func (l *Level) SetTolerance(poseID string, pct float64) error {
	if err := validID(poseID); err != nil {
		return err
	}
	return l.db.Update(func(txn *badger.Txn) error {
		return txn.Set(l.toleranceKey(poseID), encodeFloat(pct))
	})
}

// DeleteTolerance removes the tolerance entry.
func (l *Level) DeleteTolerance(poseID string) error {
	return l.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(l.toleranceKey(poseID))
	})
}

// Load reads the level's pose blobs and tolerance map, ready for
// posestore.Store.Hydrate. A tolerance value of the wrong size is skipped.
func (l *Level) Load() (map[string][]byte, map[string]float64, error) {
	blobs := make(map[string][]byte)
	tolerances := make(map[string]float64)

	err := l.db.View(func(txn *badger.Txn) error {
		if err := scan(txn, l.posePrefix(), func(poseID string, val []byte) {
			blobs[poseID] = val
		}); err != nil {
			return err
		}
		return scan(txn, l.tolerancePrefix(), func(poseID string, val []byte) {
			if pct, ok := decodeFloat(val); ok {
				tolerances[poseID] = pct
			}
		})
	})
	if err != nil {
		return nil, nil, fmt.Errorf("levelstore: load level %q: %w", l.id, err)
	}
	return blobs, tolerances, nil
}

// Replace atomically swaps the level's contents for the given library.
func (l *Level) Replace(blobs map[string][]byte, tolerances map[string]float64) error {
	for id := range blobs {
		if err := validID(id); err != nil {
			return err
		}
	}

	return l.db.Update(func(txn *badger.Txn) error {
		if err := l.deleteAll(txn); err != nil {
			return err
		}
		for id, blob := range blobs {
			if err := txn.Set(l.poseKey(id), blob); err != nil {
				return err
			}
		}
		for id, pct := range tolerances {
			if _, ok := blobs[id]; !ok {
				continue
			}
			if err := txn.Set(l.toleranceKey(id), encodeFloat(pct)); err != nil {
				return err
			}
		}
		return nil
	})
}

// Clear removes every entry of the level.
func (l *Level) Clear() error {
	return l.db.Update(l.deleteAll)
}

func (l *Level) deleteAll(txn *badger.Txn) error {
	var keys [][]byte

	opts := badger.DefaultIteratorOptions
	opts.PrefetchValues = false
	opts.Prefix = []byte(rootPrefix + l.id + "/")

	it := txn.NewIterator(opts)
	for it.Rewind(); it.Valid(); it.Next() {
		keys = append(keys, it.Item().KeyCopy(nil))
	}
	it.Close()

	for _, k := range keys {
		if err := txn.Delete(k); err != nil {
			return err
		}
	}
	return nil
}

func scan(txn *badger.Txn, prefix string, fn func(id string, val []byte)) error {
	opts := badger.DefaultIteratorOptions
	opts.Prefix = []byte(prefix)

	it := txn.NewIterator(opts)
	defer it.Close()

	for it.Rewind(); it.Valid(); it.Next() {
		item := it.Item()
		val, err := item.ValueCopy(nil)
		if err != nil {
			return err
		}
		fn(strings.TrimPrefix(string(item.Key()), prefix), val)
	}
	return nil
}

func encodeFloat(v float64) []byte {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], math.Float64bits(v))
	return b[:]
}

func decodeFloat(b []byte) (float64, bool) {
	if len(b) != 8 {
		return 0, false
	}
	return math.Float64frombits(binary.BigEndian.Uint64(b)), true
}
