package comments

import (
	"context"
	"log"
	"sync"

	"marginalia/internal/ident"
)

// Syncer persists store state to the remote comments API. Implementations
// absorb transport failures: LoadComments returns an empty collection on
// failure and SaveComment reports false instead of an error.
type Syncer interface {
	LoadComments(ctx context.Context, documentID string) Comments
	SaveComment(ctx context.Context, entry Entry, thread *Thread, documentID string) bool
}

// Deletion describes a comment removed from a thread: the tombstone to show
// in its place and the index it was removed from.
type Deletion struct {
	Marked *Comment
	Index  int
}

type listener struct {
	token int
	fn    func()
}

// Store is the in-memory authoritative client-side model for one open
// document: an ordered collection of threads and standalone comments, with
// change notification, optimistic remote persistence and full reload.
//
// Every mutation swaps the collection reference for a new one; a snapshot
// returned by Comments never changes underneath its holder.
type Store struct {
	mu         sync.Mutex
	comments   Comments
	listeners  []listener
	nextToken  int
	generation int
	documentID string

	ids  *ident.Registry
	sync Syncer
}

func NewStore(documentID string, ids *ident.Registry, syncer Syncer) *Store {
	return &Store{documentID: documentID, ids: ids, sync: syncer}
}

// Comments returns the current collection snapshot. Callers must not mutate.
func (s *Store) Comments() Comments {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.comments
}

// RegisterOnChange adds a change listener and returns a closure that removes
// just that listener. Listeners fire synchronously after every mutation, in
// registration order; debouncing expensive work is the caller's job.
func (s *Store) RegisterOnChange(fn func()) func() {
	s.mu.Lock()
	token := s.nextToken
	s.nextToken++
	s.listeners = append(s.listeners, listener{token: token, fn: fn})
	s.mu.Unlock()
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		for i, l := range s.listeners {
			if l.token == token {
				s.listeners = append(s.listeners[:i:i], s.listeners[i+1:]...)
				return
			}
		}
	}
}

// AddComment inserts a comment or thread into the collection. offset < 0
// appends.
//
// With a target thread, the comment goes into a copy-on-write clone of that
// thread, skipped if the thread already holds a comment with the same id.
// A target thread that no longer exists is a silent no-op; it defends
// against races with a concurrent thread deletion.
//
// Without a target, threads are deduplicated by id but standalone comments
// are not. The asymmetry is deliberate and load-bearing for reload behavior.
func (s *Store) AddComment(entry Entry, thread *Thread, offset int) {
	s.mu.Lock()
	changed := s.addLocked(entry, thread, offset)
	fns := s.listenerFnsLocked()
	s.mu.Unlock()
	if changed {
		notify(fns)
	}
}

func (s *Store) addLocked(entry Entry, thread *Thread, offset int) bool {
	next := append(Comments(nil), s.comments...)

	if c, ok := entry.(*Comment); ok && thread != nil {
		for i, existing := range next {
			t, ok := existing.(*Thread)
			if !ok || t.ID != thread.ID {
				continue
			}
			if t.HasComment(c) {
				return false
			}
			clone := CloneThread(t)
			at := offset
			if at < 0 || at > len(clone.Comments) {
				at = len(clone.Comments)
			}
			clone.Comments = append(clone.Comments[:at:at], append([]*Comment{c}, clone.Comments[at:]...)...)
			next[i] = clone
			s.comments = next
			return true
		}
		// Target thread is gone; benign race, not an error.
		return false
	}

	if t, ok := entry.(*Thread); ok {
		if next.ThreadByID(t.ID) != nil {
			return false
		}
	}
	at := offset
	if at < 0 || at > len(next) {
		at = len(next)
	}
	next = append(next[:at:at], append(Comments{entry}, next[at:]...)...)
	s.comments = next
	return true
}

// DeleteCommentOrThread removes a comment or thread from the collection.
//
// Deleting a comment inside a thread clones the thread, removes the comment
// by id, and returns the tombstone plus the index it held. Deleting a
// standalone comment returns a tombstone with its top-level index. Deleting
// a thread as a unit removes the whole entry and returns nil.
//
// Listeners fire after every call, matching the observable behavior of the
// original store even when nothing was removed.
func (s *Store) DeleteCommentOrThread(entry Entry, thread *Thread) *Deletion {
	s.mu.Lock()
	result := s.deleteLocked(entry, thread)
	fns := s.listenerFnsLocked()
	s.mu.Unlock()
	notify(fns)
	return result
}

func (s *Store) deleteLocked(entry Entry, thread *Thread) *Deletion {
	next := append(Comments(nil), s.comments...)
	index := -1

	if thread != nil {
		for i, existing := range next {
			t, ok := existing.(*Thread)
			if !ok || t.ID != thread.ID {
				continue
			}
			clone := CloneThread(t)
			for j, c := range clone.Comments {
				if c.ID == entry.EntryID() {
					index = j
					clone.Comments = append(clone.Comments[:j:j], clone.Comments[j+1:]...)
					break
				}
			}
			next[i] = clone
			break
		}
	} else {
		for i, existing := range next {
			if existing == entry {
				index = i
				next = append(next[:i:i], next[i+1:]...)
				break
			}
		}
	}
	s.comments = next

	if c, ok := entry.(*Comment); ok {
		return &Deletion{Marked: MarkDeleted(c), Index: index}
	}
	return nil
}

// LoadComments clears the collection and the identifier registry, fetches
// the document's unresolved comments and rebuilds the collection from them,
// then notifies listeners exactly once. It never fails: a fetch error leaves
// an empty collection and listeners still fire.
//
// Overlapping loads are resolved call-order-wins: a load that was superseded
// by a later call discards its result silently.
func (s *Store) LoadComments(ctx context.Context, documentID string) {
	s.mu.Lock()
	s.generation++
	generation := s.generation
	s.documentID = documentID
	s.comments = nil
	s.mu.Unlock()

	s.ids.Clear()
	loaded := s.sync.LoadComments(ctx, documentID)

	s.mu.Lock()
	if generation != s.generation {
		// A newer load owns the collection now.
		s.mu.Unlock()
		return
	}
	s.comments = loaded
	fns := s.listenerFnsLocked()
	s.mu.Unlock()
	notify(fns)
}

// SaveComment applies the mutation locally first, so the UI sees it
// immediately, then persists it. A remote failure is logged and does not
// roll back the optimistic local state; there is no compensating
// transaction.
func (s *Store) SaveComment(ctx context.Context, entry Entry, thread *Thread) {
	s.AddComment(entry, thread, -1)

	s.mu.Lock()
	documentID := s.documentID
	s.mu.Unlock()
	if ok := s.sync.SaveComment(ctx, entry, thread, documentID); !ok {
		log.Printf("comments: save failed for %s (local state kept)", entry.EntryID())
	}
}

func (s *Store) listenerFnsLocked() []func() {
	fns := make([]func(), len(s.listeners))
	for i, l := range s.listeners {
		fns[i] = l.fn
	}
	return fns
}

// notify runs outside the store lock so a listener may call back into the
// store.
func notify(fns []func()) {
	for _, fn := range fns {
		fn()
	}
}
