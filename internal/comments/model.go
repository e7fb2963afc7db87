// Package comments holds the client-side model for inline annotations: the
// Comment and Thread value objects, the factory that constructs them, and the
// Store that keeps the per-document collection consistent for every observer.
package comments

// DeletedPlaceholder replaces the content of a tombstoned comment.
const DeletedPlaceholder = "[Deleted Comment]"

// Comment is a single authored annotation. Comments are never mutated in
// place; deletion replaces a comment with a tombstone copy.
type Comment struct {
	ID        string
	Author    string
	Content   string
	TimeStamp int64 // milliseconds since the Unix epoch
	Deleted   bool
}

// Thread is an ordered group of comments anchored to one quoted span of text.
// Structural changes go through copy-on-write: a mutated thread is a new
// Thread wrapping a new slice, so prior snapshots stay untouched.
type Thread struct {
	ID       string
	Quote    string
	Comments []*Comment
}

// Entry is a top-level item in the collection: either a *Thread or a
// standalone *Comment.
type Entry interface {
	EntryID() string
}

func (c *Comment) EntryID() string { return c.ID }
func (t *Thread) EntryID() string { return t.ID }

// Comments is the ordered top-level collection. Order is insertion/load
// order, not document order. Callers must treat it as read-only.
type Comments []Entry

// ThreadByID returns the thread with the given id, or nil.
func (cs Comments) ThreadByID(id string) *Thread {
	for _, entry := range cs {
		if t, ok := entry.(*Thread); ok && t.ID == id {
			return t
		}
	}
	return nil
}

// HasComment reports whether the thread already contains a comment with the
// same id. Guards against duplicate delivery from concurrent save/reload.
func (t *Thread) HasComment(c *Comment) bool {
	for _, existing := range t.Comments {
		if existing.ID == c.ID {
			return true
		}
	}
	return false
}
