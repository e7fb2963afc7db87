// Package plugin wires user actions to the comment store, the anchor
// tracker and the remote sync service, and owns the transient UI state of
// the commenting surfaces: composer visibility, panel visibility, and the
// active thread derived from the selection. Rendering stays with the host;
// the plugin only exposes state.
package plugin

import (
	"context"
	"sync"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"

	"marginalia/internal/anchors"
	"marginalia/internal/comments"
	"marginalia/internal/editor"
)

// maxQuoteRunes bounds the displayed quote snapshot; longer selections are
// truncated with an ellipsis at creation time, not re-derived on render.
const maxQuoteRunes = 100

const maxContentLength = 10000

// Resolver is the slice of the remote sync service the plugin needs for
// soft-deletes.
type Resolver interface {
	MarkResolved(ctx context.Context, id string) bool
	ResolveThread(ctx context.Context, threadID string)
}

// Plugin is one commenting session over one open editor instance.
type Plugin struct {
	ed      editor.Editor
	store   *comments.Store
	tracker *anchors.Tracker
	remote  Resolver
	factory *comments.Factory
	author  string

	mu           sync.Mutex
	showComments bool
	showComposer bool
	pendingSel   *editor.Selection

	unregister []func()
}

// New attaches a commenting session to the editor. author is the current
// user's display identifier (their email), resolved to a backend identity
// only at save time.
func New(ed editor.Editor, store *comments.Store, tracker *anchors.Tracker, remote Resolver, factory *comments.Factory, author string) *Plugin {
	p := &Plugin{
		ed:      ed,
		store:   store,
		tracker: tracker,
		remote:  remote,
		factory: factory,
		author:  author,
	}
	p.unregister = append(p.unregister,
		ed.RegisterCommand(editor.CommandInsertComment, p.onInsertComment, editor.PriorityCritical),
		ed.RegisterCommand(editor.CommandToggleComments, p.onToggleComments, editor.PriorityCritical),
		ed.RegisterCommand(editor.CommandEscape, p.onEscape, editor.PriorityLow),
	)
	return p
}

// Close detaches the command handlers.
func (p *Plugin) Close() {
	for _, fn := range p.unregister {
		fn()
	}
	p.unregister = nil
}

func (p *Plugin) onInsertComment(_ any) bool {
	sel := p.ed.Selection()
	p.mu.Lock()
	p.pendingSel = &sel
	p.showComposer = true
	p.mu.Unlock()
	return true
}

func (p *Plugin) onToggleComments(_ any) bool {
	p.mu.Lock()
	p.showComments = !p.showComments
	p.mu.Unlock()
	return true
}

func (p *Plugin) onEscape(_ any) bool {
	p.mu.Lock()
	open := p.showComposer
	p.mu.Unlock()
	if !open {
		return false
	}
	p.CancelAddComment()
	return true
}

// InsertComment opens the inline composer over the current selection.
func (p *Plugin) InsertComment() bool {
	return p.ed.DispatchCommand(editor.CommandInsertComment, nil)
}

// ToggleComments flips the side panel visibility.
func (p *Plugin) ToggleComments() bool {
	return p.ed.DispatchCommand(editor.CommandToggleComments, nil)
}

// CancelAddComment closes the composer and drops the captured selection.
func (p *Plugin) CancelAddComment() {
	p.mu.Lock()
	p.showComposer = false
	p.pendingSel = nil
	p.mu.Unlock()
}

// CommentsVisible reports whether the side panel is shown.
func (p *Plugin) CommentsVisible() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.showComments
}

// ComposerOpen reports whether the inline composer is shown.
func (p *Plugin) ComposerOpen() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.showComposer
}

// ActiveIDs exposes the annotation ids under the selection anchor.
func (p *Plugin) ActiveIDs() []string { return p.tracker.ActiveIDs() }

// ActiveAnchor exposes the node holding a non-collapsed selection's anchor.
func (p *Plugin) ActiveAnchor() (editor.Handle, bool) { return p.tracker.ActiveAnchor() }

type commentInput struct {
	Content string
	Author  string
}

func (in commentInput) Validate() error {
	return validation.ValidateStruct(&in,
		validation.Field(&in.Content, validation.Required, validation.Length(1, maxContentLength)),
		validation.Field(&in.Author, validation.Required, is.EmailFormat),
	)
}

// SubmitAddComment submits the composer. With a thread it appends a reply;
// without one it opens a new inline thread on the selection captured when
// the composer opened, wrapping that span with the thread id. The store
// applies the change locally first and persists in the background of the
// user's flow.
func (p *Plugin) SubmitAddComment(ctx context.Context, content string, thread *comments.Thread) error {
	if err := (commentInput{Content: content, Author: p.author}).Validate(); err != nil {
		return err
	}

	if thread != nil {
		p.store.SaveComment(ctx, p.factory.NewComment(content, p.author), thread)
		return nil
	}

	p.mu.Lock()
	sel := p.pendingSel
	p.showComposer = false
	p.pendingSel = nil
	p.mu.Unlock()

	quote := ""
	if sel != nil {
		quote = truncateQuote(sel.Text)
	}
	newThread := p.factory.NewThread(quote, []*comments.Comment{p.factory.NewComment(content, p.author)})
	p.store.SaveComment(ctx, newThread, nil)

	if sel != nil && !sel.Collapsed {
		p.ed.Update(func() {
			p.ed.WrapSelection(newThread.ID)
		})
	}
	return nil
}

// DeleteCommentOrThread deletes a comment or a whole thread.
//
// A comment delete tombstones: the store removes it, the remote record is
// resolved, and the tombstone is re-inserted at the comment's prior index.
// A thread delete removes the unit from the collection, bulk-resolves its
// records, and retracts the thread id from its inline markers.
func (p *Plugin) DeleteCommentOrThread(ctx context.Context, entry comments.Entry, thread *comments.Thread) *comments.Deletion {
	if c, ok := entry.(*comments.Comment); ok {
		if c.Deleted {
			// Deleting a tombstone is a no-op.
			return nil
		}
		deletion := p.store.DeleteCommentOrThread(c, thread)
		if deletion == nil {
			return nil
		}
		p.remote.MarkResolved(ctx, c.ID)
		p.store.AddComment(deletion.Marked, thread, deletion.Index)
		return deletion
	}

	t, ok := entry.(*comments.Thread)
	if !ok {
		return nil
	}
	p.store.DeleteCommentOrThread(t, nil)
	p.remote.ResolveThread(ctx, t.ID)
	p.tracker.Unmark(t.ID)
	return nil
}

func truncateQuote(text string) string {
	runes := []rune(text)
	if len(runes) <= maxQuoteRunes {
		return text
	}
	return string(runes[:maxQuoteRunes-1]) + "…"
}
