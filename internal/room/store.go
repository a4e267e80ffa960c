package room

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/keizars/keizar-go/internal/board"
	"github.com/keizars/keizar-go/internal/game"
	"github.com/keizars/keizar-go/internal/protocol"
)

// Record is the persisted form of a room, enough to rebuild it on another process.
type Record struct {
	Number     uint64                 `json:"number"`
	State      protocol.RoomState     `json:"state"`
	Properties *board.BoardProperties `json:"properties"`
	Players    []PlayerInfo           `json:"players"`
	Snapshot   *game.GameSnapshot     `json:"snapshot,omitempty"`
	UpdatedAt  time.Time              `json:"updated_at"`
}

// Store persists room records. Load returns nil, nil for an unknown room.
type Store interface {
	Save(ctx context.Context, rec *Record) error
	Load(ctx context.Context, number uint64) (*Record, error)
	Delete(ctx context.Context, number uint64) error
	List(ctx context.Context) ([]uint64, error)
}

// MemoryStore keeps records in process. It is the default when no Redis is configured.
type MemoryStore struct {
	mu   sync.RWMutex
	recs map[uint64]*Record
}

func NewMemoryStore() *MemoryStore { return &MemoryStore{recs: make(map[uint64]*Record)} }

func (s *MemoryStore) Save(_ context.Context, rec *Record) error {
	if rec == nil {
		return nil
	}
	cp := *rec
	s.mu.Lock()
	s.recs[rec.Number] = &cp
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) Load(_ context.Context, number uint64) (*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.recs[number]
	if !ok {
		return nil, nil
	}
	cp := *rec
	return &cp, nil
}

func (s *MemoryStore) Delete(_ context.Context, number uint64) error {
	s.mu.Lock()
	delete(s.recs, number)
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) List(_ context.Context) ([]uint64, error) {
	s.mu.RLock()
	out := make([]uint64, 0, len(s.recs))
	for n := range s.recs {
		out = append(out, n)
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}
