package httpapi

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"meshd/internal/facade"
	"meshd/pkg/types"
)

// entry is one mesh handle. queue bounds the callers waiting for the handle;
// slot is the single in-flight call.
type entry struct {
	id      string
	mesh    *facade.Mesh
	created time.Time
	queue   chan struct{}
	slot    chan struct{}
}

func (e *entry) info() (types.MeshInfo, error) {
	nv, err := e.mesh.NVerts()
	if err != nil {
		return types.MeshInfo{}, err
	}
	ne, _ := e.mesh.NElems()
	nf, _ := e.mesh.NFaces()
	return types.MeshInfo{ID: e.id, Kind: e.mesh.Kind().String(), NVerts: nv, NElems: ne, NFaces: nf}, nil
}

// store maps handle ids to meshes.
type store struct {
	mu      sync.RWMutex
	entries map[string]*entry
}

func newStore() *store { return &store{entries: make(map[string]*entry)} }

func (s *store) put(m *facade.Mesh) *entry {
	e := &entry{
		id:      uuid.NewString(),
		mesh:    m,
		created: time.Now(),
		queue:   make(chan struct{}, maxQueueDepth),
		slot:    make(chan struct{}, 1),
	}
	s.mu.Lock()
	s.entries[e.id] = e
	s.mu.Unlock()
	meshesOpen.Inc()
	return e
}

func (s *store) remove(id string) {
	s.mu.Lock()
	_, ok := s.entries[id]
	delete(s.entries, id)
	s.mu.Unlock()
	if ok {
		meshesOpen.Dec()
	}
}

// list returns the live entries, oldest first.
func (s *store) list() []*entry {
	s.mu.RLock()
	out := make([]*entry, 0, len(s.entries))
	for _, e := range s.entries {
		out = append(out, e)
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].created.Equal(out[j].created) {
			return out[i].id < out[j].id
		}
		return out[i].created.Before(out[j].created)
	})
	return out
}

// acquire reserves a queue slot and then the single in-flight slot of the
// handle. The returned release func must be called once the call is done.
func (s *store) acquire(ctx context.Context, id string) (*entry, func(), error) {
	s.mu.RLock()
	e := s.entries[id]
	s.mu.RUnlock()
	if e == nil {
		return nil, func() {}, meshNotFoundError{id: id}
	}
	if err := ctx.Err(); err != nil {
		return nil, func() {}, err
	}

	// A full queue fails at once.
	select {
	case e.queue <- struct{}{}:
	default:
		return nil, func() {}, tooBusyError{id: id, reason: "queue"}
	}

	acquired := false
	defer func() {
		if !acquired {
			<-e.queue
		}
	}()
	timer := time.NewTimer(maxWait)
	defer timer.Stop()
	select {
	case e.slot <- struct{}{}:
		acquired = true
		return e, func() { <-e.slot; <-e.queue }, nil
	case <-ctx.Done():
		return nil, func() {}, ctx.Err()
	case <-timer.C:
		return nil, func() {}, tooBusyError{id: id, reason: "wait"}
	}
}
