package inbox

import (
	"context"
	"sync"
	"time"

	"github.com/overtonx/eventrelay/storage"
)

type txKey struct{}

// memTx buffers writes until commit.
type memTx struct {
	reserved []storage.InboxRecord
	effects  []string
}

// memDB is an in-memory ledger with transactional semantics and a unique key on (consumer type, message id).
// A key reserved by an open transaction conflicts immediately, like a unique index would once the holder commits.
type memDB struct {
	mu        sync.Mutex
	rows      map[storage.InboxKey]time.Time
	reserved  map[storage.InboxKey]bool
	effects   []string
	commits   int
	rollbacks int
}

func newMemDB() *memDB {
	return &memDB{
		rows:     make(map[storage.InboxKey]time.Time),
		reserved: make(map[storage.InboxKey]bool),
	}
}

func (db *memDB) Execute(ctx context.Context, _ string, op func(ctx context.Context) error) error {
	tx := &memTx{}
	err := op(context.WithValue(ctx, txKey{}, tx))

	db.mu.Lock()
	defer db.mu.Unlock()
	for _, record := range tx.reserved {
		delete(db.reserved, record.InboxKey)
	}
	if err != nil {
		db.rollbacks++
		return err
	}
	for _, record := range tx.reserved {
		db.rows[record.InboxKey] = record.ConsumedAt
	}
	db.effects = append(db.effects, tx.effects...)
	db.commits++
	return nil
}

func (db *memDB) Exists(_ context.Context, key storage.InboxKey) (bool, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	_, ok := db.rows[key]
	return ok, nil
}

func (db *memDB) Record(ctx context.Context, record storage.InboxRecord) error {
	tx, _ := ctx.Value(txKey{}).(*memTx)

	db.mu.Lock()
	defer db.mu.Unlock()
	if _, ok := db.rows[record.InboxKey]; ok || db.reserved[record.InboxKey] {
		return storage.ErrAlreadyRecorded
	}
	if tx == nil {
		db.rows[record.InboxKey] = record.ConsumedAt
		return nil
	}
	db.reserved[record.InboxKey] = true
	tx.reserved = append(tx.reserved, record)
	return nil
}

func (db *memDB) DeleteConsumedBefore(_ context.Context, cutoff time.Time) (int64, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	var deleted int64
	for key, consumedAt := range db.rows {
		if consumedAt.Before(cutoff) {
			delete(db.rows, key)
			deleted++
		}
	}
	return deleted, nil
}

// apply records a business side effect in the transaction carried by ctx.
func apply(ctx context.Context, effect string) {
	if tx, ok := ctx.Value(txKey{}).(*memTx); ok {
		tx.effects = append(tx.effects, effect)
	}
}

func (db *memDB) committedEffects() []string {
	db.mu.Lock()
	defer db.mu.Unlock()
	return append([]string(nil), db.effects...)
}

// fakeTxManager runs fn directly and counts outcomes.
type fakeTxManager struct {
	mu         sync.Mutex
	committed  int
	rolledBack int
}

func (m *fakeTxManager) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	err := fn(ctx)
	m.mu.Lock()
	defer m.mu.Unlock()
	if err != nil {
		m.rolledBack++
		return err
	}
	m.committed++
	return nil
}
