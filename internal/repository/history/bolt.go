package history

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/oshokin/tuya-alarm/internal/domain/alarm"
)

const (
	// DefaultRetention bounds how many records are kept.
	DefaultRetention = 1000

	filePermissions = 0o600
	openTimeout     = 5 * time.Second
)

var bucketCommands = []byte("commands")

// ErrNilRecord is returned when saving a nil record.
var ErrNilRecord = errors.New("history record is nil")

// Repository defines persistence operations for the command audit trail.
type Repository interface {
	Save(ctx context.Context, record *alarm.CommandRecord) error
	List(ctx context.Context, limit int) ([]*alarm.CommandRecord, error)
}

// BoltRepository keeps command records in a bbolt file, oldest first.
type BoltRepository struct {
	db        *bolt.DB
	retention int
}

// Open opens or creates the history database. retention <= 0 means DefaultRetention.
func Open(path string, retention int) (*BoltRepository, error) {
	if retention <= 0 {
		retention = DefaultRetention
	}

	db, err := bolt.Open(filepath.Clean(path), filePermissions, &bolt.Options{Timeout: openTimeout})
	if err != nil {
		return nil, fmt.Errorf("open history db: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketCommands)

		return err
	})
	if err != nil {
		_ = db.Close()

		return nil, fmt.Errorf("create history bucket: %w", err)
	}

	return &BoltRepository{db: db, retention: retention}, nil
}

// Save appends a record and trims the oldest ones beyond the retention.
func (r *BoltRepository) Save(_ context.Context, record *alarm.CommandRecord) error {
	if record == nil {
		return ErrNilRecord
	}

	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("encode history record: %w", err)
	}

	return r.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketCommands)

		seq, err := b.NextSequence()
		if err != nil {
			return fmt.Errorf("next history sequence: %w", err)
		}

		if err := b.Put(sequenceKey(seq), data); err != nil {
			return fmt.Errorf("put history record: %w", err)
		}

		return trim(b, r.retention)
	})
}

// List returns up to limit records, newest first. limit <= 0 returns all of them.
func (r *BoltRepository) List(_ context.Context, limit int) ([]*alarm.CommandRecord, error) {
	var records []*alarm.CommandRecord

	err := r.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketCommands).Cursor()

		for k, v := c.Last(); k != nil; k, v = c.Prev() {
			if limit > 0 && len(records) >= limit {
				break
			}

			var record alarm.CommandRecord
			if err := json.Unmarshal(v, &record); err != nil {
				return fmt.Errorf("decode history record %d: %w", binary.BigEndian.Uint64(k), err)
			}

			records = append(records, &record)
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	return records, nil
}

// Close releases the database file.
func (r *BoltRepository) Close() error {
	return r.db.Close()
}

// trim deletes the oldest keys until at most keep remain.
func trim(b *bolt.Bucket, keep int) error {
	var keys [][]byte

	c := b.Cursor()
	for k, _ := c.First(); k != nil; k, _ = c.Next() {
		keys = append(keys, append([]byte(nil), k...))
	}

	for _, k := range keys[:max(len(keys)-keep, 0)] {
		if err := b.Delete(k); err != nil {
			return fmt.Errorf("trim history: %w", err)
		}
	}

	return nil
}

func sequenceKey(seq uint64) []byte {
	key := make([]byte, 8) //nolint:mnd // uint64 width.
	binary.BigEndian.PutUint64(key, seq)

	return key
}
