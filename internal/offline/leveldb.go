package offline

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/opt"
	"github.com/syndtr/goleveldb/leveldb/util"
)

// leveldbStore persists pending operations under big-endian sequence keys so
// iteration order is insertion order. Writes are synced; an enqueue that
// returned success must survive a crash immediately after.
type leveldbStore struct {
	db *leveldb.DB

	mu  sync.Mutex
	seq uint64
}

const (
	opKeyPrefix = "op:"
	seqKey      = "seq"
)

var syncWrite = &opt.WriteOptions{Sync: true}

// NewLevelDB opens (or creates) the durable queue at path.
func NewLevelDB(path string) (Store, error) {
	db, err := leveldb.OpenFile(path, nil)
	if err != nil {
		return nil, fmt.Errorf("offline: open %s: %w", path, err)
	}
	s := &leveldbStore{db: db}
	if raw, err := db.Get([]byte(seqKey), nil); err == nil && len(raw) == 8 {
		s.seq = binary.BigEndian.Uint64(raw)
	} else if err != nil && err != leveldb.ErrNotFound {
		_ = db.Close()
		return nil, fmt.Errorf("offline: read sequence: %w", err)
	}
	return s, nil
}

func opKey(id uint64) []byte {
	key := make([]byte, len(opKeyPrefix)+8)
	copy(key, opKeyPrefix)
	binary.BigEndian.PutUint64(key[len(opKeyPrefix):], id)
	return key
}

func (s *leveldbStore) Append(_ context.Context, op Operation) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := s.seq + 1
	record := PendingOperation{ID: id, URL: op.URL, Method: op.Method, Data: op.Data}
	payload, err := json.Marshal(record)
	if err != nil {
		return 0, fmt.Errorf("offline: marshal operation: %w", err)
	}

	seqRaw := make([]byte, 8)
	binary.BigEndian.PutUint64(seqRaw, id)

	batch := new(leveldb.Batch)
	batch.Put(opKey(id), payload)
	batch.Put([]byte(seqKey), seqRaw)
	if err := s.db.Write(batch, syncWrite); err != nil {
		return 0, fmt.Errorf("offline: append: %w", err)
	}
	s.seq = id
	return id, nil
}

func (s *leveldbStore) List(_ context.Context) ([]PendingOperation, error) {
	it := s.db.NewIterator(util.BytesPrefix([]byte(opKeyPrefix)), nil)
	defer it.Release()

	var ops []PendingOperation
	for it.Next() {
		var op PendingOperation
		if err := json.Unmarshal(it.Value(), &op); err != nil {
			return nil, fmt.Errorf("offline: decode record: %w", err)
		}
		ops = append(ops, op)
	}
	if err := it.Error(); err != nil {
		return nil, fmt.Errorf("offline: iterate: %w", err)
	}
	return ops, nil
}

func (s *leveldbStore) Delete(_ context.Context, id uint64) error {
	if err := s.db.Delete(opKey(id), syncWrite); err != nil {
		return fmt.Errorf("offline: delete %d: %w", id, err)
	}
	return nil
}

func (s *leveldbStore) Len(ctx context.Context) (int, error) {
	ops, err := s.List(ctx)
	if err != nil {
		return 0, err
	}
	return len(ops), nil
}

func (s *leveldbStore) Close() error {
	return s.db.Close()
}
