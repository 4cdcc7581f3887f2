package store

import (
	"container/list"
	"context"
	"sync"

	"github.com/whatsapp-agent-gateway/gateway/internal/models"
)

// MemoryStore is the required in-memory MessageStore: a per-user mutex
// guards that user's pending log and processed-ID LRU, so there is no
// cross-user contention.
type MemoryStore struct {
	maxProcessedIDs int

	mu    sync.Mutex
	users map[string]*userState
}

type userState struct {
	mu      sync.Mutex
	pending []models.Message
	lru     *list.List               // front = most recently inserted
	index   map[string]*list.Element // messageID -> element (holds messageID as Value)
}

func newUserState() *userState {
	return &userState{
		lru:   list.New(),
		index: make(map[string]*list.Element),
	}
}

// NewMemoryStore constructs an empty MemoryStore. maxProcessedIDs bounds
// the per-user processed-ID LRU (spec default 5000).
func NewMemoryStore(maxProcessedIDs int) *MemoryStore {
	if maxProcessedIDs <= 0 {
		maxProcessedIDs = 5000
	}
	return &MemoryStore{
		maxProcessedIDs: maxProcessedIDs,
		users:           make(map[string]*userState),
	}
}

func (s *MemoryStore) stateFor(userID string) *userState {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[userID]
	if !ok {
		u = newUserState()
		s.users[userID] = u
	}
	return u
}

func (s *MemoryStore) Store(_ context.Context, userID string, msg models.Message) error {
	u := s.stateFor(userID)
	u.mu.Lock()
	defer u.mu.Unlock()
	u.pending = append(u.pending, msg)
	return nil
}

func (s *MemoryStore) Retrieve(_ context.Context, userID string) ([]models.Message, error) {
	u := s.stateFor(userID)
	u.mu.Lock()
	defer u.mu.Unlock()
	snap := make([]models.Message, len(u.pending))
	copy(snap, u.pending)
	return snap, nil
}

func (s *MemoryStore) Remove(_ context.Context, userID string) error {
	u := s.stateFor(userID)
	u.mu.Lock()
	defer u.mu.Unlock()
	u.pending = nil
	return nil
}

func (s *MemoryStore) HasProcessed(_ context.Context, userID, msgID string) (bool, error) {
	u := s.stateFor(userID)
	u.mu.Lock()
	defer u.mu.Unlock()
	_, ok := u.index[msgID]
	return ok, nil
}

func (s *MemoryStore) MarkProcessed(_ context.Context, userID, msgID string) error {
	u := s.stateFor(userID)
	u.mu.Lock()
	defer u.mu.Unlock()

	if _, ok := u.index[msgID]; ok {
		return nil
	}

	el := u.lru.PushFront(msgID)
	u.index[msgID] = el

	for u.lru.Len() > s.maxProcessedIDs {
		oldest := u.lru.Back()
		if oldest == nil {
			break
		}
		u.lru.Remove(oldest)
		delete(u.index, oldest.Value.(string))
	}
	return nil
}

// RemoveUser drops all state for userID, including the processed-ID LRU.
// BatchingService's idle-eviction sweep does not call it.
func (s *MemoryStore) RemoveUser(userID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.users, userID)
}
