// Package anchors keeps annotation identifiers attached to text while the
// document is edited. The Tracker maintains the mapping from each identifier
// to the live marker handles currently carrying it, driven purely by marker
// lifecycle events from the editor, never by comment-store events.
package anchors

import (
	"sort"
	"sync"

	"marginalia/internal/editor"
)

// Tracker owns the identifier -> marker-handle registry plus the side table
// of each handle's last-known ids, needed because a destroyed marker can no
// longer be asked for its own ids.
type Tracker struct {
	mu        sync.Mutex
	ed        editor.Editor
	markers   map[string]map[editor.Handle]struct{}
	handleIDs map[editor.Handle][]string

	activeIDs    []string
	activeAnchor editor.Handle
	hasAnchor    bool

	unregister []func()
}

func NewTracker(ed editor.Editor) *Tracker {
	t := &Tracker{
		ed:        ed,
		markers:   make(map[string]map[editor.Handle]struct{}),
		handleIDs: make(map[editor.Handle][]string),
	}
	// Merged marker regions keep the union of both id sets.
	ed.SetMergeResolver(func(from, to editor.Marker) {
		for _, id := range from.IDs() {
			to.AddID(id)
		}
	})
	t.unregister = append(t.unregister,
		ed.RegisterMarkerListener(t.applyMutations),
		ed.RegisterUpdateListener(t.readSelection),
	)
	return t
}

// Close detaches the tracker from the editor.
func (t *Tracker) Close() {
	for _, fn := range t.unregister {
		fn()
	}
	t.unregister = nil
}

func (t *Tracker) applyMutations(mutations []editor.Mutation) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, m := range mutations {
		if m.Kind == editor.MarkerDestroyed {
			for _, id := range t.handleIDs[m.Handle] {
				t.detach(id, m.Handle)
			}
			delete(t.handleIDs, m.Handle)
			continue
		}

		marker := t.ed.MarkerByHandle(m.Handle)
		if marker == nil {
			continue
		}
		ids := marker.IDs()
		// An id the marker no longer carries must lose this handle, or the
		// registry would keep pointing a retracted identifier at live text.
		for _, prev := range t.handleIDs[m.Handle] {
			if !contains(ids, prev) {
				t.detach(prev, m.Handle)
			}
		}
		t.handleIDs[m.Handle] = ids
		for _, id := range ids {
			handles := t.markers[id]
			if handles == nil {
				handles = make(map[editor.Handle]struct{})
				t.markers[id] = handles
			}
			handles[m.Handle] = struct{}{}
		}
	}
}

// detach removes a handle from an identifier's set, dropping the entry when
// it empties; no dangling empty sets.
func (t *Tracker) detach(id string, h editor.Handle) {
	handles := t.markers[id]
	if handles == nil {
		return
	}
	delete(handles, h)
	if len(handles) == 0 {
		delete(t.markers, id)
	}
}

func contains(ids []string, id string) bool {
	for _, existing := range ids {
		if existing == id {
			return true
		}
	}
	return false
}

func (t *Tracker) readSelection() {
	sel := t.ed.Selection()
	t.mu.Lock()
	defer t.mu.Unlock()
	t.activeIDs = sel.IDs
	if !sel.Collapsed && sel.Anchor != "" {
		t.activeAnchor = sel.Anchor
		t.hasAnchor = true
	} else {
		t.activeAnchor = ""
		t.hasAnchor = false
	}
}

// MarkersFor returns the live marker handles carrying id, sorted for
// deterministic iteration.
func (t *Tracker) MarkersFor(id string) []editor.Handle {
	t.mu.Lock()
	defer t.mu.Unlock()
	handles := make([]editor.Handle, 0, len(t.markers[id]))
	for h := range t.markers[id] {
		handles = append(handles, h)
	}
	sort.Slice(handles, func(i, j int) bool { return handles[i] < handles[j] })
	return handles
}

// ActiveIDs returns the annotation ids at the current selection anchor. The
// result drives which thread is visually active.
func (t *Tracker) ActiveIDs() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	ids := make([]string, len(t.activeIDs))
	copy(ids, t.activeIDs)
	return ids
}

// ActiveAnchor returns the node holding a non-collapsed selection's anchor,
// where the floating add-comment affordance renders.
func (t *Tracker) ActiveAnchor() (editor.Handle, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.activeAnchor, t.hasAnchor
}

// Unmark retracts id from every marker carrying it, unwrapping markers whose
// id set empties. The work is deferred past the current update cycle so a
// handler reacting to a document read never mutates the tree underneath
// itself.
func (t *Tracker) Unmark(id string) {
	handles := t.MarkersFor(id)
	if len(handles) == 0 {
		return
	}
	t.ed.Defer(func() {
		t.ed.Update(func() {
			for _, h := range handles {
				marker := t.ed.MarkerByHandle(h)
				if marker == nil {
					continue
				}
				marker.DeleteID(id)
				if len(marker.IDs()) == 0 {
					marker.Unwrap()
				}
			}
		})
	})
}
