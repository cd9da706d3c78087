package boltdb

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/lexlapax/saga/pkg/entity"
	"github.com/lexlapax/saga/pkg/log"
	"github.com/lexlapax/saga/pkg/mem/ltm"
	bolt "go.etcd.io/bbolt"
)

var gamesBucket = []byte("games")

// BoltStore implements the ltm.Store interface using a BoltDB database.
// Each game owns a nested bucket keyed by record ID.
type BoltStore struct {
	db *bolt.DB
}

// NewBoltStore creates a new BoltStore with the given database connection.
func NewBoltStore(db *bolt.DB) *BoltStore {
	store := &BoltStore{
		db: db,
	}

	log.Debug("Initialized BoltDB LTM store adapter",
		"db_path", db.Path(),
		"read_only", db.IsReadOnly(),
	)

	return store
}

// Open opens (or creates) the database at path and returns an initialized store.
func Open(ctx context.Context, path string) (*BoltStore, error) {
	db, err := bolt.Open(path, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open bolt database %s: %w", path, err)
	}
	store := NewBoltStore(db)
	if err := store.Initialize(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return store, nil
}

// Close releases the underlying database.
func (b *BoltStore) Close() error {
	return b.db.Close()
}

// Initialize creates the required buckets if they don't exist.
// Store creates them lazily as well, so calling this is optional.
func (b *BoltStore) Initialize(ctx context.Context) error {
	log.DebugContext(ctx, "Initializing BoltDB store buckets")

	err := b.db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(gamesBucket)
		return err
	})
	if err != nil {
		log.ErrorContext(ctx, "Failed to initialize BoltDB buckets", "error", err)
		return err
	}
	return nil
}

// getGameBucket gets or creates a bucket for the specified game.
func (b *BoltStore) getGameBucket(tx *bolt.Tx, gameID entity.GameID) (*bolt.Bucket, error) {
	games, err := tx.CreateBucketIfNotExists(gamesBucket)
	if err != nil {
		return nil, fmt.Errorf("failed to create games bucket: %w", err)
	}

	gameBucket, err := games.CreateBucketIfNotExists([]byte(gameID))
	if err != nil {
		return nil, fmt.Errorf("failed to create game bucket for %s: %w", gameID, err)
	}

	return gameBucket, nil
}

// lookupGameBucket returns the game's bucket or nil when nothing was stored yet.
func lookupGameBucket(tx *bolt.Tx, gameID entity.GameID) *bolt.Bucket {
	games := tx.Bucket(gamesBucket)
	if games == nil {
		return nil
	}
	return games.Bucket([]byte(gameID))
}

// Store persists a memory record to the BoltDB database.
func (b *BoltStore) Store(ctx context.Context, record ltm.MemoryRecord) (string, error) {
	record, err := ltm.PrepareRecord(ctx, record)
	if err != nil {
		return "", err
	}

	err = b.db.Update(func(tx *bolt.Tx) error {
		gameBucket, err := b.getGameBucket(tx, record.GameID)
		if err != nil {
			return err
		}

		data, err := json.Marshal(record)
		if err != nil {
			return fmt.Errorf("failed to marshal record: %w", err)
		}

		return gameBucket.Put([]byte(record.ID), data)
	})
	if err != nil {
		return "", fmt.Errorf("failed to store record: %w", err)
	}

	log.DebugContext(ctx, "Stored memory record in BoltDB",
		"record_id", record.ID,
		"sequence_id", record.SequenceID,
	)
	return record.ID, nil
}

// List fetches the game's records that pass filter, ordered by sequence.
func (b *BoltStore) List(ctx context.Context, filter ltm.Filter) ([]ltm.MemoryRecord, error) {
	gameID, err := ltm.GameFromContext(ctx)
	if err != nil {
		return nil, err
	}

	records := []ltm.MemoryRecord{}
	err = b.db.View(func(tx *bolt.Tx) error {
		gameBucket := lookupGameBucket(tx, gameID)
		if gameBucket == nil {
			return nil
		}
		return gameBucket.ForEach(func(k, v []byte) error {
			var record ltm.MemoryRecord
			if err := json.Unmarshal(v, &record); err != nil {
				return fmt.Errorf("failed to unmarshal record %s: %w", k, err)
			}
			if filter.Matches(record) {
				records = append(records, record)
			}
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list records: %w", err)
	}

	sort.Slice(records, func(i, j int) bool {
		if records[i].SequenceID != records[j].SequenceID {
			return records[i].SequenceID < records[j].SequenceID
		}
		return records[i].ID < records[j].ID
	})
	return records, nil
}

// Exists reports whether any record of the game has exactly this text.
func (b *BoltStore) Exists(ctx context.Context, text string) (bool, error) {
	gameID, err := ltm.GameFromContext(ctx)
	if err != nil {
		return false, err
	}

	found := false
	err = b.db.View(func(tx *bolt.Tx) error {
		gameBucket := lookupGameBucket(tx, gameID)
		if gameBucket == nil {
			return nil
		}
		c := gameBucket.Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			var record ltm.MemoryRecord
			if err := json.Unmarshal(v, &record); err != nil {
				return fmt.Errorf("failed to unmarshal record %s: %w", k, err)
			}
			if record.Text == text {
				found = true
				return nil
			}
		}
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("failed to check record existence: %w", err)
	}
	return found, nil
}

// DeleteByText removes every record of the game with exactly this text.
func (b *BoltStore) DeleteByText(ctx context.Context, text string) (int, error) {
	return b.deleteWhere(ctx, func(r ltm.MemoryRecord) bool { return r.Text == text })
}

// DeleteFromSequence removes every record with SequenceID >= seq.
func (b *BoltStore) DeleteFromSequence(ctx context.Context, seq int64) (int, error) {
	return b.deleteWhere(ctx, func(r ltm.MemoryRecord) bool { return r.SequenceID >= seq })
}

// DeleteSequence removes every record with SequenceID == seq.
func (b *BoltStore) DeleteSequence(ctx context.Context, seq int64) (int, error) {
	return b.deleteWhere(ctx, func(r ltm.MemoryRecord) bool { return r.SequenceID == seq })
}

// Clear drops the game's bucket.
func (b *BoltStore) Clear(ctx context.Context) error {
	gameID, err := ltm.GameFromContext(ctx)
	if err != nil {
		return err
	}

	err = b.db.Update(func(tx *bolt.Tx) error {
		games := tx.Bucket(gamesBucket)
		if games == nil || games.Bucket([]byte(gameID)) == nil {
			return nil
		}
		return games.DeleteBucket([]byte(gameID))
	})
	if err != nil {
		return fmt.Errorf("failed to clear game %s: %w", gameID, err)
	}
	return nil
}

// deleteWhere removes matching records in a single transaction so a
// partial delete is never visible.
func (b *BoltStore) deleteWhere(ctx context.Context, match func(ltm.MemoryRecord) bool) (int, error) {
	gameID, err := ltm.GameFromContext(ctx)
	if err != nil {
		return 0, err
	}

	removed := 0
	err = b.db.Update(func(tx *bolt.Tx) error {
		gameBucket := lookupGameBucket(tx, gameID)
		if gameBucket == nil {
			return nil
		}

		// bbolt forbids deleting while iterating with ForEach
		var doomed [][]byte
		err := gameBucket.ForEach(func(k, v []byte) error {
			var record ltm.MemoryRecord
			if err := json.Unmarshal(v, &record); err != nil {
				return fmt.Errorf("failed to unmarshal record %s: %w", k, err)
			}
			if match(record) {
				doomed = append(doomed, append([]byte(nil), k...))
			}
			return nil
		})
		if err != nil {
			return err
		}
		for _, k := range doomed {
			if err := gameBucket.Delete(k); err != nil {
				return err
			}
		}
		removed = len(doomed)
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("failed to delete records: %w", err)
	}

	log.DebugContext(ctx, "Deleted memory records from BoltDB", "count", removed)
	return removed, nil
}
