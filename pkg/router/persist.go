package router

import (
	"encoding/json"
	"fmt"
	"path/filepath"

	bolt "go.etcd.io/bbolt"

	"github.com/moltbot/pool/pkg/types"
)

var bucketRouting = []byte("routing")
var keySnapshot = []byte("snapshot")

// BoltPersister stores one RouterState snapshot in a BoltDB bucket, letting
// the sticky assignment cache survive a supervisor restart. This does not
// persist in-flight requests — spec.md's Non-goals exclude durable request
// persistence only, not durable routing-assignment persistence.
type BoltPersister struct {
	db *bolt.DB
}

// NewBoltPersister opens (creating if needed) a BoltDB file under dataDir.
func NewBoltPersister(dataDir string) (*BoltPersister, error) {
	path := filepath.Join(dataDir, "router.db")
	db, err := bolt.Open(path, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("router: open bolt store: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketRouting)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("router: create bucket: %w", err)
	}

	return &BoltPersister{db: db}, nil
}

// Close closes the underlying database.
func (p *BoltPersister) Close() error {
	return p.db.Close()
}

// Save persists state, overwriting any prior snapshot.
func (p *BoltPersister) Save(state types.RouterState) error {
	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("router: marshal state: %w", err)
	}
	return p.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketRouting).Put(keySnapshot, data)
	})
}

// Load returns the persisted snapshot, if any.
func (p *BoltPersister) Load() (types.RouterState, bool, error) {
	var state types.RouterState
	var found bool

	err := p.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketRouting).Get(keySnapshot)
		if data == nil {
			return nil
		}
		found = true
		return json.Unmarshal(data, &state)
	})
	if err != nil {
		return types.RouterState{}, false, fmt.Errorf("router: load state: %w", err)
	}
	return state, found, nil
}
