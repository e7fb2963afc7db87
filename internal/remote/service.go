package remote

import (
	"context"
	"encoding/json"
	"log"
	"sync"
	"time"

	"marginalia/internal/comments"
	"marginalia/internal/ident"
)

// unknownAuthor is the display fallback when no author can be read off a
// record.
const unknownAuthor = "Unknown"

// Service translates store intents into persistence calls and back. It holds
// no business logic beyond request shaping and result interpretation, and it
// never lets a transport failure escape: every method degrades to a benign
// fallback value and logs.
type Service struct {
	client  *Client
	factory *comments.Factory
	ids     *ident.Registry
}

func NewService(client *Client, factory *comments.Factory, ids *ident.Registry) *Service {
	return &Service{client: client, factory: factory, ids: ids}
}

// LoadComments fetches the document's unresolved comments with author
// expansion and rebuilds the client collection: records grouped by threadId
// in first-seen order, one thread per group, the quote taken from the
// group's earliest non-deleted comment. Groups without one are skipped. On
// failure the result is simply empty.
func (s *Service) LoadComments(ctx context.Context, documentID string) comments.Comments {
	records, err := s.client.ListComments(ctx, map[string]string{
		"documentId": documentID,
		"resolved":   "false",
	}, 2)
	if err != nil {
		log.Printf("remote: load comments for %s: %v", documentID, err)
		return nil
	}

	var threadOrder []string
	groups := make(map[string][]*comments.Comment)
	for _, rec := range records {
		if rec.ThreadID == "" {
			continue
		}
		c := s.factory.RestoreComment(
			rec.Content,
			authorEmail(rec.Author),
			rec.ID,
			parseInstant(rec.CreatedAt),
			rec.Resolved,
		)
		group, seen := groups[rec.ThreadID]
		if !seen {
			threadOrder = append(threadOrder, rec.ThreadID)
		}
		if containsComment(group, c.ID) {
			continue
		}
		groups[rec.ThreadID] = append(group, c)
	}

	var collection comments.Comments
	for _, threadID := range threadOrder {
		group := groups[threadID]
		opening := firstLive(group)
		if opening == nil {
			continue
		}
		quote := ""
		for _, rec := range records {
			if rec.ID == opening.ID {
				quote = rec.Quote
				break
			}
		}
		collection = append(collection, s.factory.RestoreThread(quote, group, threadID))
	}
	return collection
}

// SaveComment persists a thread comment by comment, or a lone comment into
// its given thread. A comment whose author cannot be resolved to a backend
// user fails alone; the rest of the thread still saves. Reports whether
// every comment persisted.
func (s *Service) SaveComment(ctx context.Context, entry comments.Entry, thread *comments.Thread, documentID string) bool {
	switch v := entry.(type) {
	case *comments.Thread:
		s.ids.Register(v.ID)
		ok := true
		for _, c := range v.Comments {
			s.ids.Register(c.ID)
			if !s.saveThreadComment(ctx, c, v, documentID) {
				ok = false
			}
		}
		return ok
	case *comments.Comment:
		s.ids.Register(v.ID)
		if thread == nil {
			return false
		}
		return s.saveThreadComment(ctx, v, thread, documentID)
	}
	return false
}

func (s *Service) saveThreadComment(ctx context.Context, c *comments.Comment, thread *comments.Thread, documentID string) bool {
	userID := s.FindUserByEmail(ctx, c.Author)
	if userID == "" {
		log.Printf("remote: no user for author %q, comment %s not saved", c.Author, c.ID)
		return false
	}
	err := s.client.CreateComment(ctx, saveCommentRequest{
		DocumentID: documentID,
		ThreadID:   thread.ID,
		Content:    c.Content,
		Author:     userID,
		Quote:      thread.Quote,
		Range:      nil,
	})
	if err != nil {
		log.Printf("remote: save comment %s in thread %s: %v", c.ID, thread.ID, err)
		return false
	}
	return true
}

// FindUserByEmail resolves a display email to a backend user id by exact
// match, first hit wins. Not-found and transport failure both come back as
// "" — the caller cannot tell them apart.
func (s *Service) FindUserByEmail(ctx context.Context, email string) string {
	users, err := s.client.ListUsers(ctx, email)
	if err != nil {
		log.Printf("remote: find user %q: %v", email, err)
		return ""
	}
	if len(users) == 0 {
		return ""
	}
	return users[0].ID
}

// MarkResolved soft-deletes one comment record.
func (s *Service) MarkResolved(ctx context.Context, id string) bool {
	if err := s.client.PatchComment(ctx, id, map[string]any{"resolved": true}); err != nil {
		log.Printf("remote: resolve comment %s: %v", id, err)
		return false
	}
	return true
}

// ResolveThread soft-deletes every record in a thread: fetch all comments
// with this threadId, then patch each concurrently and wait for all. Each
// unit failure is logged on its own; there is no rollback of the ones that
// succeeded.
func (s *Service) ResolveThread(ctx context.Context, threadID string) {
	records, err := s.client.ListComments(ctx, map[string]string{"threadId": threadID}, 0)
	if err != nil {
		log.Printf("remote: list thread %s for resolve: %v", threadID, err)
		return
	}
	var wg sync.WaitGroup
	for _, rec := range records {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			s.MarkResolved(ctx, id)
		}(rec.ID)
	}
	wg.Wait()
}

// authorEmail prefers the embedded related record's email, falls back to the
// raw string value, then to the sentinel.
func authorEmail(raw json.RawMessage) string {
	if len(raw) == 0 {
		return unknownAuthor
	}
	var embedded struct {
		Email string `json:"email"`
	}
	if err := json.Unmarshal(raw, &embedded); err == nil && embedded.Email != "" {
		return embedded.Email
	}
	var plain string
	if err := json.Unmarshal(raw, &plain); err == nil && plain != "" {
		return plain
	}
	return unknownAuthor
}

func parseInstant(value string) int64 {
	if value == "" {
		return 0
	}
	t, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return 0
	}
	return t.UnixMilli()
}

func containsComment(group []*comments.Comment, id string) bool {
	for _, c := range group {
		if c.ID == id {
			return true
		}
	}
	return false
}

func firstLive(group []*comments.Comment) *comments.Comment {
	for _, c := range group {
		if !c.Deleted {
			return c
		}
	}
	return nil
}
