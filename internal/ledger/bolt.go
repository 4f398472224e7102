package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"gender-classifier/internal/ml"

	"go.etcd.io/bbolt"
)

const (
	ledgerBucket = "ledger" // Bucket holding the ledger document
	ledgerKey    = "current"
)

// BoltStore keeps the ledger as a single JSON document in a BoltDB bucket.
// Updates run inside one read-write transaction, so a crash never leaves a
// half-applied ledger.
type BoltStore struct {
	db *bbolt.DB
}

// NewBoltStore opens or creates the database at path and makes sure the
// ledger bucket exists.
func NewBoltStore(path string) (*BoltStore, error) {
	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists([]byte(ledgerBucket)); err != nil {
			return fmt.Errorf("create ledger bucket: %w", err)
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &BoltStore{db: db}, nil
}

// Close closes the database.
func (s *BoltStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

func (s *BoltStore) Load(ctx context.Context) (Ledger, error) {
	if err := ctx.Err(); err != nil {
		return Ledger{}, err
	}

	var l Ledger
	err := s.db.View(func(tx *bbolt.Tx) error {
		var err error
		l, err = getLedger(tx.Bucket([]byte(ledgerBucket)))
		return err
	})
	if err != nil {
		return Ledger{}, wrapBoltErr(err)
	}
	return l, nil
}

func (s *BoltStore) Update(ctx context.Context, fn func(*Ledger) error) (Ledger, error) {
	if err := ctx.Err(); err != nil {
		return Ledger{}, err
	}

	var out Ledger
	var fnErr error
	err := s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(ledgerBucket))

		l, err := getLedger(b)
		if err != nil {
			return err
		}
		if fnErr = fn(&l); fnErr != nil {
			return fnErr
		}

		data, err := json.Marshal(l)
		if err != nil {
			return fmt.Errorf("marshal ledger: %w", err)
		}
		if err := b.Put([]byte(ledgerKey), data); err != nil {
			return err
		}
		out = l
		return nil
	})
	if fnErr != nil {
		return Ledger{}, fnErr
	}
	if err != nil {
		return Ledger{}, wrapBoltErr(err)
	}
	return out, nil
}

func getLedger(b *bbolt.Bucket) (Ledger, error) {
	var l Ledger
	data := b.Get([]byte(ledgerKey))
	if data == nil {
		return l, nil
	}
	if err := json.Unmarshal(data, &l); err != nil {
		return Ledger{}, fmt.Errorf("unmarshal ledger: %w", err)
	}
	return l, nil
}

func wrapBoltErr(err error) error {
	if errors.Is(err, bbolt.ErrDatabaseNotOpen) {
		return ErrClosed
	}
	return fmt.Errorf("%w: %v", ml.ErrPersistence, err)
}
