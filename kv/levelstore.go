package kv

import (
	"context"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/util"
)

// LevelStore is a goleveldb-backed Coordination KV, the persistent default
// for a single running node, extended with the lease/CAS machinery the
// abstract Store contract requires. All serialization still happens behind
// one process
// mutex, since goleveldb itself does not expose a CAS primitive; this
// matches the single-writer-per-node deployment model in §5.
type LevelStore struct {
	mu      sync.Mutex
	db      *leveldb.DB
	leaseOf map[string]LeaseID
	leases  map[LeaseID]time.Time
	nextID  uint64
	stop    chan struct{}
}

// NewLevelStore opens (or creates) a LevelDB database at path.
func NewLevelStore(path string) (*LevelStore, error) {
	db, err := leveldb.OpenFile(path, nil)
	if err != nil {
		return nil, err
	}
	s := &LevelStore{
		db:      db,
		leaseOf: make(map[string]LeaseID),
		leases:  make(map[LeaseID]time.Time),
		stop:    make(chan struct{}),
	}
	go s.sweepLoop()
	return s, nil
}

func (s *LevelStore) sweepLoop() {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-s.stop:
			return
		case now := <-ticker.C:
			s.reapExpired(now)
		}
	}
}

func (s *LevelStore) reapExpired(now time.Time) {
	s.mu.Lock()
	var toDelete []string
	for lease, deadline := range s.leases {
		if now.Before(deadline) {
			continue
		}
		delete(s.leases, lease)
		for k, l := range s.leaseOf {
			if l == lease {
				toDelete = append(toDelete, k)
				delete(s.leaseOf, k)
			}
		}
	}
	s.mu.Unlock()
	for _, k := range toDelete {
		_ = s.db.Delete([]byte(k), nil)
	}
}

func (s *LevelStore) Get(_ context.Context, k string) ([]byte, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, err := s.db.Get([]byte(k), nil)
	if err == leveldb.ErrNotFound {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return v, true, nil
}

func (s *LevelStore) Put(_ context.Context, k string, v []byte, lease LeaseID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.db.Put([]byte(k), v, nil); err != nil {
		return err
	}
	if lease != 0 {
		s.leaseOf[k] = lease
	} else {
		delete(s.leaseOf, k)
	}
	return nil
}

func (s *LevelStore) Delete(_ context.Context, k string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.leaseOf, k)
	return s.db.Delete([]byte(k), nil)
}

func (s *LevelStore) PrefixScan(_ context.Context, prefix string) ([]Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	iter := s.db.NewIterator(util.BytesPrefix([]byte(prefix)), nil)
	defer iter.Release()
	var out []Entry
	for iter.Next() {
		out = append(out, Entry{
			Key:   string(iter.Key()),
			Value: append([]byte(nil), iter.Value()...),
		})
	}
	return out, iter.Error()
}

func (s *LevelStore) AcquireLease(_ context.Context, ttl time.Duration) (LeaseID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := LeaseID(atomic.AddUint64(&s.nextID, 1))
	s.leases[id] = time.Now().Add(ttl)
	return id, nil
}

func (s *LevelStore) CompareAndCreate(_ context.Context, k string, v []byte, lease LeaseID) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.Get([]byte(k), nil)
	if err == nil {
		return false, nil
	}
	if err != leveldb.ErrNotFound {
		return false, err
	}
	if err := s.db.Put([]byte(k), v, nil); err != nil {
		return false, err
	}
	if lease != 0 {
		s.leaseOf[k] = lease
	}
	return true, nil
}

func (s *LevelStore) DeletePrefix(_ context.Context, prefix string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	iter := s.db.NewIterator(util.BytesPrefix([]byte(prefix)), nil)
	defer iter.Release()
	batch := new(leveldb.Batch)
	for iter.Next() {
		key := append([]byte(nil), iter.Key()...)
		batch.Delete(key)
		delete(s.leaseOf, string(key))
	}
	if err := iter.Error(); err != nil {
		return err
	}
	return s.db.Write(batch, nil)
}

// IncrementCounter atomically increments the textual counter at k.
func (s *LevelStore) IncrementCounter(_ context.Context, k string) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, err := s.db.Get([]byte(k), nil)
	if err != nil && err != leveldb.ErrNotFound {
		return 0, err
	}
	v := parseCounter(existing, err == nil)
	v++
	if err := s.db.Put([]byte(k), []byte(strconv.FormatUint(v, 10)), nil); err != nil {
		return 0, err
	}
	return v, nil
}

func (s *LevelStore) Close() error {
	close(s.stop)
	return s.db.Close()
}

var _ CounterStore = (*MemStore)(nil)
var _ CounterStore = (*LevelStore)(nil)
