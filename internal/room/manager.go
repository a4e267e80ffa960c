package room

import (
	"context"
	"crypto/rand"
	"math/big"
	"sync"

	"github.com/keizars/keizar-go/internal/board"
	"github.com/keizars/keizar-go/internal/obslog"
	"go.uber.org/zap"
)

const defaultMaxRooms = 1000

// Manager is the registry of live rooms of this process.
type Manager struct {
	mu       sync.Mutex
	rooms    map[uint64]*Room
	opts     Options
	maxRooms int
	log      *zap.Logger
}

// NewManager builds a registry. opts is the template for every room; its OnFinished is
// chained after the manager's own bookkeeping.
func NewManager(opts Options, maxRooms int) *Manager {
	if maxRooms <= 0 {
		maxRooms = defaultMaxRooms
	}
	if opts.Logger == nil {
		opts.Logger = obslog.L()
	}
	return &Manager{rooms: make(map[uint64]*Room), opts: opts, maxRooms: maxRooms, log: opts.Logger}
}

func (m *Manager) roomOptions() Options {
	o := m.opts
	next := m.opts.OnFinished
	o.OnFinished = func(number uint64) {
		m.remove(number)
		if next != nil {
			next(number)
		}
	}
	return o
}

// Create opens room number on props. A nil props means a standard board on a random seed.
func (m *Manager) Create(number uint64, props *board.BoardProperties) (*Room, error) {
	if props == nil {
		props = board.StandardProperties(randomSeed())
	}
	if err := props.Validate(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.rooms[number]; ok {
		return nil, ErrRoomExists
	}
	if len(m.rooms) >= m.maxRooms {
		return nil, ErrTooManyRooms
	}
	r := New(number, props, m.roomOptions())
	m.rooms[number] = r
	m.log.Info("room_create", zap.Uint64("room", number), zap.Int64("seed", props.Seed))
	return r, nil
}

func (m *Manager) Get(number uint64) (*Room, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rooms[number]
	return r, ok
}

// GetOrRestore returns the live room or rebuilds it from the store.
func (m *Manager) GetOrRestore(ctx context.Context, number uint64) (*Room, error) {
	if r, ok := m.Get(number); ok {
		return r, nil
	}
	if m.opts.Store == nil {
		return nil, ErrRoomNotFound
	}
	rec, err := m.opts.Store.Load(ctx, number)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, ErrRoomNotFound
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if r, ok := m.rooms[number]; ok {
		return r, nil
	}
	if len(m.rooms) >= m.maxRooms {
		return nil, ErrTooManyRooms
	}
	r, err := Restore(rec, m.roomOptions())
	if err != nil {
		return nil, err
	}
	m.rooms[number] = r
	return r, nil
}

// RestoreAll brings back every room the store knows about. Records that cannot be restored
// are logged and skipped.
func (m *Manager) RestoreAll(ctx context.Context) (int, error) {
	if m.opts.Store == nil {
		return 0, nil
	}
	numbers, err := m.opts.Store.List(ctx)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, number := range numbers {
		if _, err := m.GetOrRestore(ctx, number); err != nil {
			m.log.Warn("room_restore_error", zap.Uint64("room", number), zap.Error(err))
			continue
		}
		n++
	}
	return n, nil
}

func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.rooms)
}

func (m *Manager) remove(number uint64) {
	m.mu.Lock()
	delete(m.rooms, number)
	m.mu.Unlock()
	m.log.Info("room_removed", zap.Uint64("room", number))
}

// Shutdown stops every room, keeping their records, and waits for them.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	rooms := make([]*Room, 0, len(m.rooms))
	for _, r := range m.rooms {
		rooms = append(rooms, r)
	}
	m.mu.Unlock()

	for _, r := range rooms {
		r.Shutdown()
	}
	for _, r := range rooms {
		select {
		case <-r.Done():
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

func randomSeed() int64 {
	n, err := rand.Int(rand.Reader, big.NewInt(1<<31))
	if err != nil {
		return 0
	}
	return n.Int64()
}
