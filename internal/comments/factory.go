package comments

import (
	"time"

	"marginalia/internal/ident"
)

// Factory constructs Comment and Thread values. Every id it mints or restores
// is registered with the shared identifier registry so later mints cannot
// collide with ids loaded from the server.
type Factory struct {
	ids *ident.Registry
}

func NewFactory(ids *ident.Registry) *Factory {
	return &Factory{ids: ids}
}

// IDs returns the registry shared with the rest of the session.
func (f *Factory) IDs() *ident.Registry { return f.ids }

// NewComment builds a fresh comment with a minted id and the current instant.
func (f *Factory) NewComment(content, author string) *Comment {
	return &Comment{
		ID:        f.ids.NewID(),
		Author:    author,
		Content:   content,
		TimeStamp: time.Now().UnixMilli(),
	}
}

// RestoreComment rebuilds a comment from a persisted record. An empty id
// mints one; a non-positive timestamp falls back to the current instant.
func (f *Factory) RestoreComment(content, author, id string, timeStamp int64, deleted bool) *Comment {
	if id == "" {
		id = f.ids.NewID()
	} else {
		f.ids.Register(id)
	}
	if timeStamp <= 0 {
		timeStamp = time.Now().UnixMilli()
	}
	return &Comment{
		ID:        id,
		Author:    author,
		Content:   content,
		TimeStamp: timeStamp,
		Deleted:   deleted,
	}
}

// NewThread builds a thread around its opening comments. Threads are never
// created empty.
func (f *Factory) NewThread(quote string, cs []*Comment) *Thread {
	return &Thread{ID: f.ids.NewID(), Quote: quote, Comments: cs}
}

// RestoreThread rebuilds a thread from persisted records under its server id.
func (f *Factory) RestoreThread(quote string, cs []*Comment, id string) *Thread {
	if id == "" {
		id = f.ids.NewID()
	} else {
		f.ids.Register(id)
	}
	return &Thread{ID: id, Quote: quote, Comments: cs}
}

// CloneThread returns a shallow copy with a new backing slice, the
// copy-on-write step taken before any structural change to a thread.
func CloneThread(t *Thread) *Thread {
	cs := make([]*Comment, len(t.Comments))
	copy(cs, t.Comments)
	return &Thread{ID: t.ID, Quote: t.Quote, Comments: cs}
}

// MarkDeleted returns the tombstone for a comment: placeholder content,
// Deleted set, id and timestamp preserved.
func MarkDeleted(c *Comment) *Comment {
	return &Comment{
		ID:        c.ID,
		Author:    c.Author,
		Content:   DeletedPlaceholder,
		TimeStamp: c.TimeStamp,
		Deleted:   true,
	}
}
