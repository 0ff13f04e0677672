package registry

import (
	"context"
	"sort"
	"time"

	"github.com/gastroline/backoffice/internal/actor"
	"github.com/gastroline/backoffice/internal/domain"
	"github.com/gastroline/backoffice/internal/eventlog"
)

// Location is one node of a site's storage location tree. Path is the
// cached `/a/b/c` form built from ancestor names.
type Location struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	ParentID string `json:"parentId,omitempty"`
	Path     string `json:"path"`
}

// LocationState is the location tree aggregate state.
type LocationState struct {
	Nodes map[string]*Location `json:"nodes,omitempty"`
}

func (s *LocationState) children(parentID string) []*Location {
	var out []*Location
	for _, n := range s.Nodes {
		if n.ParentID == parentID {
			out = append(out, n)
		}
	}
	return out
}

// inSubtree reports whether candidate is id itself or one of its
// descendants. Used by move to reject cycles.
func (s *LocationState) inSubtree(id, candidate string) bool {
	if id == candidate {
		return true
	}
	for _, child := range s.children(id) {
		if s.inSubtree(child.ID, candidate) {
			return true
		}
	}
	return false
}

// rebuildPaths recomputes the cached path of id and its whole subtree.
func (s *LocationState) rebuildPaths(id string) {
	n, ok := s.Nodes[id]
	if !ok {
		return
	}
	prefix := ""
	if parent, ok := s.Nodes[n.ParentID]; ok {
		prefix = parent.Path
	}
	n.Path = prefix + "/" + n.Name
	for _, child := range s.children(id) {
		s.rebuildPaths(child.ID)
	}
}

// ============================================================================
// EVENTS
// ============================================================================

type LocationAdded struct {
	ID       string    `json:"id"`
	Name     string    `json:"name"`
	ParentID string    `json:"parentId,omitempty"`
	At       time.Time `json:"at"`
}

func (LocationAdded) EventType() string { return "locations.Added" }

type LocationRenamed struct {
	ID   string    `json:"id"`
	Name string    `json:"name"`
	At   time.Time `json:"at"`
}

func (LocationRenamed) EventType() string { return "locations.Renamed" }

type LocationMoved struct {
	ID          string    `json:"id"`
	NewParentID string    `json:"newParentId,omitempty"`
	At          time.Time `json:"at"`
}

func (LocationMoved) EventType() string { return "locations.Moved" }

type LocationRemoved struct {
	ID string    `json:"id"`
	At time.Time `json:"at"`
}

func (LocationRemoved) EventType() string { return "locations.Removed" }

// NewLocationCodec registers the location tree event types.
func NewLocationCodec() *eventlog.Codec {
	c := eventlog.NewCodec()
	eventlog.RegisterEvent[LocationAdded](c)
	eventlog.RegisterEvent[LocationRenamed](c)
	eventlog.RegisterEvent[LocationMoved](c)
	eventlog.RegisterEvent[LocationRemoved](c)
	return c
}

// LocationTransition applies one journal event and keeps cached paths
// consistent.
func LocationTransition(s *LocationState, ev eventlog.Event) {
	switch e := ev.(type) {
	case LocationAdded:
		if s.Nodes == nil {
			s.Nodes = make(map[string]*Location)
		}
		s.Nodes[e.ID] = &Location{ID: e.ID, Name: e.Name, ParentID: e.ParentID}
		s.rebuildPaths(e.ID)

	case LocationRenamed:
		if n, ok := s.Nodes[e.ID]; ok {
			n.Name = e.Name
			s.rebuildPaths(e.ID)
		}

	case LocationMoved:
		if n, ok := s.Nodes[e.ID]; ok {
			n.ParentID = e.NewParentID
			s.rebuildPaths(e.ID)
		}

	case LocationRemoved:
		delete(s.Nodes, e.ID)
	}
}

// ============================================================================
// ACTOR
// ============================================================================

// LocationRegistry is the per-site location tree aggregate.
type LocationRegistry struct {
	key   actor.Key
	agg   *eventlog.Aggregate[LocationState]
	clock func() time.Time
}

// NewLocationRegistryFactory returns the factory for location tree actors.
func NewLocationRegistryFactory(journal eventlog.JournalStore) actor.Factory {
	codec := NewLocationCodec()
	return func(key actor.Key) (actor.Actor, error) {
		return &LocationRegistry{
			key:   key,
			agg:   eventlog.NewAggregate[LocationState](key.String(), journal, codec, LocationTransition),
			clock: time.Now,
		}, nil
	}
}

func (r *LocationRegistry) Activate(ctx context.Context) error { return r.agg.Load(ctx) }

func (r *LocationRegistry) Deactivate(context.Context) error { return nil }

func (r *LocationRegistry) state() *LocationState { return r.agg.State() }

// Add creates a node under parentID ("" for a root).
func (r *LocationRegistry) Add(ctx context.Context, id, name, parentID string) error {
	if id == "" || name == "" {
		return domain.Precondition("location id and name must not be empty")
	}
	s := r.state()
	if _, ok := s.Nodes[id]; ok {
		return domain.Conflict("location %s already exists", id)
	}
	if parentID != "" {
		if _, ok := s.Nodes[parentID]; !ok {
			return domain.NotFound("parent location %s", parentID)
		}
	}
	r.agg.Raise(LocationAdded{ID: id, Name: name, ParentID: parentID, At: r.clock().UTC()})
	return r.agg.ConfirmEvents(ctx)
}

// Rename changes a node's name and rebuilds the paths of its subtree.
func (r *LocationRegistry) Rename(ctx context.Context, id, name string) error {
	if name == "" {
		return domain.Precondition("location name must not be empty")
	}
	if _, ok := r.state().Nodes[id]; !ok {
		return domain.NotFound("location %s", id)
	}
	r.agg.Raise(LocationRenamed{ID: id, Name: name, At: r.clock().UTC()})
	return r.agg.ConfirmEvents(ctx)
}

// Move re-parents a node. The new parent must not lie in the subtree of the
// node being moved; the tree stays acyclic.
func (r *LocationRegistry) Move(ctx context.Context, id, newParentID string) error {
	s := r.state()
	if _, ok := s.Nodes[id]; !ok {
		return domain.NotFound("location %s", id)
	}
	if newParentID != "" {
		if _, ok := s.Nodes[newParentID]; !ok {
			return domain.NotFound("parent location %s", newParentID)
		}
		if s.inSubtree(id, newParentID) {
			return domain.Precondition("cannot move location %s under its own subtree node %s", id, newParentID)
		}
	}
	r.agg.Raise(LocationMoved{ID: id, NewParentID: newParentID, At: r.clock().UTC()})
	return r.agg.ConfirmEvents(ctx)
}

// Remove deletes a leaf node.
func (r *LocationRegistry) Remove(ctx context.Context, id string) error {
	s := r.state()
	if _, ok := s.Nodes[id]; !ok {
		return domain.NotFound("location %s", id)
	}
	if len(s.children(id)) > 0 {
		return domain.Precondition("location %s has children", id)
	}
	r.agg.Raise(LocationRemoved{ID: id, At: r.clock().UTC()})
	return r.agg.ConfirmEvents(ctx)
}

// Get returns one node.
func (r *LocationRegistry) Get(id string) (Location, bool) {
	if n, ok := r.state().Nodes[id]; ok {
		return *n, true
	}
	return Location{}, false
}

// List returns all nodes ordered by path.
func (r *LocationRegistry) List() []Location {
	s := r.state()
	out := make([]Location, 0, len(s.Nodes))
	for _, n := range s.Nodes {
		out = append(out, *n)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out
}
