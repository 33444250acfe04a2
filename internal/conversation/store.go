// Package conversation holds per-thread chat history in memory.
package conversation

import (
	"sort"
	"sync"
	"time"

	"github.com/starford/ragsync/internal/models"
)

// DefaultWindow is the number of prior messages fed back to the agent.
const DefaultWindow = 3

// Thread is a snapshot of one conversation.
type Thread struct {
	ID        string           `json:"thread_id"`
	Messages  []models.Message `json:"messages"`
	CreatedAt time.Time        `json:"created_at"`
	UpdatedAt time.Time        `json:"updated_at"`
}

type thread struct {
	messages  []models.Message
	createdAt time.Time
	updatedAt time.Time
}

// Store is the shared thread map. The map itself is guarded by one mutex;
// Lock additionally serializes whole turns per thread id.
type Store struct {
	window int
	now    func() time.Time

	mu      sync.Mutex
	threads map[string]*thread
	turns   map[string]*sync.Mutex
}

// NewStore creates an empty Store. window <= 0 selects DefaultWindow.
func NewStore(window int) *Store {
	if window <= 0 {
		window = DefaultWindow
	}
	return &Store{
		window:  window,
		now:     time.Now,
		threads: make(map[string]*thread),
		turns:   make(map[string]*sync.Mutex),
	}
}

// Window returns the configured context window.
func (s *Store) Window() int { return s.window }

// Lock acquires the turn lock for id and returns its release function.
func (s *Store) Lock(id string) func() {
	s.mu.Lock()
	m, ok := s.turns[id]
	if !ok {
		m = &sync.Mutex{}
		s.turns[id] = m
	}
	s.mu.Unlock()

	m.Lock()
	return m.Unlock
}

// GetOrCreate returns the thread for id, creating an empty one if needed.
func (s *Store) GetOrCreate(id string) Thread {
	s.mu.Lock()
	defer s.mu.Unlock()
	return snapshot(id, s.getOrCreateLocked(id))
}

// Get returns the thread for id if it exists.
func (s *Store) Get(id string) (Thread, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.threads[id]
	if !ok {
		return Thread{}, false
	}
	return snapshot(id, t), true
}

// Append adds a message to the thread, creating it if needed.
func (s *Store) Append(id, role, content string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := s.getOrCreateLocked(id)
	t.messages = append(t.messages, models.Message{Role: role, Content: content})
	t.updatedAt = s.now()
}

// Context returns the last n messages of the thread in original order.
// n <= 0 selects the configured window. Unknown threads yield an empty slice.
func (s *Store) Context(id string, n int) []models.Message {
	if n <= 0 {
		n = s.window
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.threads[id]
	if !ok {
		return []models.Message{}
	}
	start := max(len(t.messages)-n, 0)
	return append([]models.Message{}, t.messages[start:]...)
}

// Clear resets the thread to an empty history. It reports whether the
// thread existed.
func (s *Store) Clear(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.threads[id]; !ok {
		return false
	}
	now := s.now()
	s.threads[id] = &thread{createdAt: now, updatedAt: now}
	return true
}

// IDs returns every known thread id, sorted.
func (s *Store) IDs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(s.threads))
	for id := range s.threads {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (s *Store) getOrCreateLocked(id string) *thread {
	t, ok := s.threads[id]
	if !ok {
		now := s.now()
		t = &thread{createdAt: now, updatedAt: now}
		s.threads[id] = t
	}
	return t
}

func snapshot(id string, t *thread) Thread {
	return Thread{
		ID:        id,
		Messages:  append([]models.Message{}, t.messages...),
		CreatedAt: t.createdAt,
		UpdatedAt: t.updatedAt,
	}
}
