// Package history keeps an audit trail of runner invocations in bbolt.
//
// Records are stored under big-endian sequence keys so iteration order is
// run order. The history is write-mostly: the runner only appends, and
// nothing read back from it influences a later run.
package history

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/doughall/backup-runner/internal/runner"
)

const runsBucket = "runs"

// DefaultRetention is the number of records kept when no limit is given.
const DefaultRetention = 500

// Store provides persistent storage for run records.
type Store struct {
	db        *bolt.DB
	retention int
}

// Open opens or creates the history database at dbPath.
// retention caps the number of stored records; values <= 0 use DefaultRetention.
func Open(dbPath string, retention int) (*Store, error) {
	db, err := bolt.Open(dbPath, 0600, &bolt.Options{
		Timeout: 1 * time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open history %s: %w", dbPath, err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(runsBucket))
		return err
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	if retention <= 0 {
		retention = DefaultRetention
	}
	return &Store{db: db, retention: retention}, nil
}

// Append stores a record, assigning its ID, and trims the oldest entries
// beyond the retention limit in the same transaction.
func (s *Store) Append(rec *runner.Record) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(runsBucket))

		id, err := b.NextSequence()
		if err != nil {
			return err
		}
		rec.ID = id

		data, err := json.Marshal(rec)
		if err != nil {
			return err
		}
		if err := b.Put(itob(id), data); err != nil {
			return err
		}

		return trim(b, s.retention)
	})
}

// Report implements runner.Reporter.
func (s *Store) Report(ctx context.Context, rec *runner.Record) error {
	return s.Append(rec)
}

// Recent returns up to limit records, newest first.
func (s *Store) Recent(limit int) ([]*runner.Record, error) {
	var records []*runner.Record

	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket([]byte(runsBucket)).Cursor()
		for k, v := c.Last(); k != nil && len(records) < limit; k, v = c.Prev() {
			var rec runner.Record
			if err := json.Unmarshal(v, &rec); err != nil {
				continue // Skip invalid entries
			}
			records = append(records, &rec)
		}
		return nil
	})

	return records, err
}

// Last returns the most recent record, or nil if none exist.
func (s *Store) Last() (*runner.Record, error) {
	records, err := s.Recent(1)
	if err != nil || len(records) == 0 {
		return nil, err
	}
	return records[0], nil
}

// Count returns the number of stored records.
func (s *Store) Count() (int, error) {
	var count int
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(runsBucket)).ForEach(func(k, v []byte) error {
			count++
			return nil
		})
	})
	return count, err
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Shutdown closes the database; it lets the store join coordinated shutdown.
func (s *Store) Shutdown(ctx context.Context) error {
	return s.Close()
}

// trim deletes the oldest records until at most keep remain.
func trim(b *bolt.Bucket, keep int) error {
	n := 0
	if err := b.ForEach(func(k, v []byte) error {
		n++
		return nil
	}); err != nil {
		return err
	}

	excess := n - keep
	if excess <= 0 {
		return nil
	}

	var stale [][]byte
	c := b.Cursor()
	for k, _ := c.First(); k != nil && len(stale) < excess; k, _ = c.Next() {
		stale = append(stale, append([]byte(nil), k...))
	}
	for _, k := range stale {
		if err := b.Delete(k); err != nil {
			return err
		}
	}
	return nil
}

// itob converts uint64 to big-endian bytes for ordered keys
func itob(v uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, v)
	return b
}
