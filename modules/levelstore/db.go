package levelstore

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"
)

const rootPrefix = "level/"

// ErrInvalidID is returned for empty ids or ids containing '/'.
var ErrInvalidID = errors.New("levelstore: invalid id")

// DB is the level database.
type DB struct {
	db *badger.DB

	stopGC chan struct{}
	gcDone chan struct{}
	once   sync.Once
}

// Open opens (creating if needed) the database described by cfg.
func Open(cfg Config) (*DB, error) {
	if !cfg.InMemory && cfg.Path == "" {
		return nil, errors.New("levelstore: path is required for persistent database")
	}

	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(cfg.Path, 0o750); err != nil {
			return nil, fmt.Errorf("levelstore: create directory %s: %w", cfg.Path, err)
		}
		opts = badger.DefaultOptions(cfg.Path)
	}

	opts = opts.WithSyncWrites(cfg.SyncWrites).WithNumVersionsToKeep(1)
	if cfg.Logger != nil {
		opts = opts.WithLogger(&badgerLogger{logger: cfg.Logger})
	} else {
		opts = opts.WithLogger(nil)
	}

	bdb, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("levelstore: open badger: %w", err)
	}

	d := &DB{db: bdb}
	if cfg.GCInterval > 0 && !cfg.InMemory {
		d.stopGC = make(chan struct{})
		d.gcDone = make(chan struct{})
		go d.runGC(cfg.GCInterval, cfg.GCDiscardRatio)
	}

	slog.Info("level store opened",
		"path", cfg.Path,
		"in_memory", cfg.InMemory,
	)
	return d, nil
}

// OpenInMemory opens an ephemeral database.
func OpenInMemory() (*DB, error) {
	return Open(InMemoryConfig())
}

func (d *DB) runGC(interval time.Duration, ratio float64) {
	defer close(d.gcDone)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-d.stopGC:
			return
		case <-ticker.C:
			// ErrNoRewrite means nothing to collect
			if err := d.db.RunValueLogGC(ratio); err != nil && !errors.Is(err, badger.ErrNoRewrite) {
				slog.Warn("level store value log GC failed", "error", err)
			}
		}
	}
}

// Close stops GC and closes the database. Safe to call multiple times.
func (d *DB) Close() error {
	var err error
	d.once.Do(func() {
		if d.stopGC != nil {
			close(d.stopGC)
			<-d.gcDone
		}
		err = d.db.Close()
	})
	return err
}

// Level returns the handle for levelID.
func (d *DB) Level(levelID string) (*Level, error) {
	if err := validID(levelID); err != nil {
		return nil, err
	}
	return &Level{db: d.db, id: levelID}, nil
}

// ListLevels returns the ids of levels with at least one stored entry.
func (d *DB) ListLevels() ([]string, error) {
	seen := make(map[string]struct{})

	err := d.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = []byte(rootPrefix)

		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			rest := strings.TrimPrefix(string(it.Item().Key()), rootPrefix)
			if id, _, ok := strings.Cut(rest, "/"); ok {
				seen[id] = struct{}{}
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("levelstore: list levels: %w", err)
	}

	ids := make([]string, 0, len(seen))
	for id := range seen {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids, nil
}

func validID(id string) error {
	if id == "" || strings.Contains(id, "/") {
		return fmt.Errorf("%w: %q", ErrInvalidID, id)
	}
	return nil
}
