package remote

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"marginalia/internal/comments"
	"marginalia/internal/ident"
)

// fakeCMS is a minimal stand-in for the CMS persistence API: paginated
// list-by-filter, create, and patch-by-id over flat comment records.
type fakeCMS struct {
	mu       sync.Mutex
	comments []map[string]any
	users    []map[string]any
	created  []map[string]any
	patched  map[string]map[string]any
	failAll  bool
}

func newFakeCMS() *fakeCMS {
	return &fakeCMS{patched: make(map[string]map[string]any)}
}

func (f *fakeCMS) handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		if f.failAll {
			http.Error(w, "boom", http.StatusInternalServerError)
			return
		}
		switch {
		case r.Method == http.MethodGet && r.URL.Path == "/api/users":
			email := r.URL.Query().Get("where[email][equals]")
			var docs []map[string]any
			for _, u := range f.users {
				if u["email"] == email {
					docs = append(docs, u)
				}
			}
			writeDocs(w, docs)
		case r.Method == http.MethodGet && r.URL.Path == "/api/comments":
			q := r.URL.Query()
			var docs []map[string]any
			for _, c := range f.comments {
				if v := q.Get("where[documentId][equals]"); v != "" && c["documentId"] != v {
					continue
				}
				if v := q.Get("where[threadId][equals]"); v != "" && c["threadId"] != v {
					continue
				}
				if v := q.Get("where[resolved][equals]"); v != "" && fmt.Sprint(c["resolved"]) != v {
					continue
				}
				docs = append(docs, c)
			}
			writeDocs(w, docs)
		case r.Method == http.MethodPost && r.URL.Path == "/api/comments":
			var body map[string]any
			_ = json.NewDecoder(r.Body).Decode(&body)
			f.created = append(f.created, body)
			w.WriteHeader(http.StatusCreated)
		case r.Method == http.MethodPatch && strings.HasPrefix(r.URL.Path, "/api/comments/"):
			id := strings.TrimPrefix(r.URL.Path, "/api/comments/")
			var body map[string]any
			_ = json.NewDecoder(r.Body).Decode(&body)
			f.patched[id] = body
			w.WriteHeader(http.StatusOK)
		default:
			http.NotFound(w, r)
		}
	})
}

func writeDocs(w http.ResponseWriter, docs []map[string]any) {
	if docs == nil {
		docs = []map[string]any{}
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{"docs": docs})
}

func newTestService(t *testing.T, cms *fakeCMS) *Service {
	t.Helper()
	srv := httptest.NewServer(cms.handler())
	t.Cleanup(srv.Close)
	ids := ident.NewRegistry()
	client := NewClient(srv.URL, "", "comments", "users", srv.Client())
	return NewService(client, comments.NewFactory(ids), ids)
}

func record(id, documentID, threadID, content string, author any, quote string) map[string]any {
	return map[string]any{
		"id":         id,
		"documentId": documentID,
		"threadId":   threadID,
		"content":    content,
		"author":     author,
		"quote":      quote,
		"resolved":   false,
		"createdAt":  "2024-05-01T10:00:00Z",
	}
}

func TestLoadCommentsGroupsByThread(t *testing.T) {
	cms := newFakeCMS()
	author := map[string]any{"id": "u1", "email": "alice@example.com"}
	cms.comments = []map[string]any{
		record("c1", "doc-1", "t1", "first", author, "the quote"),
		record("c2", "doc-1", "t2", "other", author, "second quote"),
		record("c3", "doc-1", "t1", "reply", author, ""),
	}
	svc := newTestService(t, cms)

	collection := svc.LoadComments(context.Background(), "doc-1")

	if len(collection) != 2 {
		t.Fatalf("collection length = %d, want 2", len(collection))
	}
	t1 := collection.ThreadByID("t1")
	if t1 == nil || len(t1.Comments) != 2 {
		t.Fatalf("t1 = %+v", t1)
	}
	if t1.Quote != "the quote" {
		t.Fatalf("t1 quote = %q", t1.Quote)
	}
	t2 := collection.ThreadByID("t2")
	if t2 == nil || len(t2.Comments) != 1 {
		t.Fatalf("t2 = %+v", t2)
	}
	if t1.Comments[0].Author != "alice@example.com" {
		t.Fatalf("author = %q", t1.Comments[0].Author)
	}
}

func TestLoadCommentsRegistersSeenIDs(t *testing.T) {
	cms := newFakeCMS()
	cms.comments = []map[string]any{
		record("c1", "doc-1", "t1", "first", "u1", "q"),
	}
	srv := httptest.NewServer(cms.handler())
	t.Cleanup(srv.Close)
	ids := ident.NewRegistry()
	svc := NewService(NewClient(srv.URL, "", "comments", "users", srv.Client()), comments.NewFactory(ids), ids)

	svc.LoadComments(context.Background(), "doc-1")

	if !ids.Has("c1") || !ids.Has("t1") {
		t.Fatal("loaded comment and thread ids not registered")
	}
}

func TestLoadCommentsAuthorFallbacks(t *testing.T) {
	cms := newFakeCMS()
	cms.comments = []map[string]any{
		record("c1", "doc-1", "t1", "embedded", map[string]any{"id": "u1", "email": "alice@example.com"}, "q1"),
		record("c2", "doc-1", "t2", "raw", "u2", "q2"),
		record("c3", "doc-1", "t3", "absent", nil, "q3"),
	}
	svc := newTestService(t, cms)

	collection := svc.LoadComments(context.Background(), "doc-1")

	want := map[string]string{"t1": "alice@example.com", "t2": "u2", "t3": "Unknown"}
	for threadID, author := range want {
		thread := collection.ThreadByID(threadID)
		if thread == nil {
			t.Fatalf("thread %s missing", threadID)
		}
		if got := thread.Comments[0].Author; got != author {
			t.Errorf("thread %s author = %q, want %q", threadID, got, author)
		}
	}
}

func TestLoadCommentsFailSoft(t *testing.T) {
	cms := newFakeCMS()
	cms.failAll = true
	svc := newTestService(t, cms)

	collection := svc.LoadComments(context.Background(), "doc-1")

	if len(collection) != 0 {
		t.Fatalf("collection = %+v, want empty on failure", collection)
	}
}

func TestFindUserByEmail(t *testing.T) {
	cms := newFakeCMS()
	cms.users = []map[string]any{{"id": "u1", "email": "alice@example.com"}}
	svc := newTestService(t, cms)
	ctx := context.Background()

	if got := svc.FindUserByEmail(ctx, "alice@example.com"); got != "u1" {
		t.Fatalf("found id = %q, want u1", got)
	}
	if got := svc.FindUserByEmail(ctx, "nobody@example.com"); got != "" {
		t.Fatalf("missing user id = %q, want empty", got)
	}

	cms.mu.Lock()
	cms.failAll = true
	cms.mu.Unlock()
	if got := svc.FindUserByEmail(ctx, "alice@example.com"); got != "" {
		t.Fatalf("id on transport failure = %q, want empty", got)
	}
}

func TestSaveCommentThread(t *testing.T) {
	cms := newFakeCMS()
	cms.users = []map[string]any{{"id": "u1", "email": "alice@example.com"}}
	svc := newTestService(t, cms)

	ids := ident.NewRegistry()
	factory := comments.NewFactory(ids)
	thread := factory.NewThread("a quote", []*comments.Comment{
		factory.NewComment("first", "alice@example.com"),
		factory.NewComment("second", "alice@example.com"),
	})

	if !svc.SaveComment(context.Background(), thread, nil, "doc-1") {
		t.Fatal("save reported failure")
	}

	cms.mu.Lock()
	defer cms.mu.Unlock()
	if len(cms.created) != 2 {
		t.Fatalf("%d records created, want 2", len(cms.created))
	}
	first := cms.created[0]
	if first["documentId"] != "doc-1" || first["threadId"] != thread.ID {
		t.Fatalf("created record = %+v", first)
	}
	if first["author"] != "u1" {
		t.Fatalf("author = %v, want resolved user id", first["author"])
	}
	if first["quote"] != "a quote" {
		t.Fatalf("quote = %v", first["quote"])
	}
	if rng, present := first["range"]; !present || rng != nil {
		t.Fatalf("range = %v, want explicit null", rng)
	}
}

func TestSaveCommentUnknownAuthorFailsAlone(t *testing.T) {
	cms := newFakeCMS()
	cms.users = []map[string]any{{"id": "u1", "email": "alice@example.com"}}
	svc := newTestService(t, cms)

	ids := ident.NewRegistry()
	factory := comments.NewFactory(ids)
	thread := factory.NewThread("q", []*comments.Comment{
		factory.NewComment("from ghost", "ghost@example.com"),
		factory.NewComment("from alice", "alice@example.com"),
	})

	if svc.SaveComment(context.Background(), thread, nil, "doc-1") {
		t.Fatal("save reported success despite an unresolvable author")
	}

	cms.mu.Lock()
	defer cms.mu.Unlock()
	// The unresolvable author's comment fails alone; the other still saves.
	if len(cms.created) != 1 {
		t.Fatalf("%d records created, want 1", len(cms.created))
	}
	if cms.created[0]["content"] != "from alice" {
		t.Fatalf("created record = %+v", cms.created[0])
	}
}

func TestSaveLoneCommentIntoThread(t *testing.T) {
	cms := newFakeCMS()
	cms.users = []map[string]any{{"id": "u1", "email": "alice@example.com"}}
	svc := newTestService(t, cms)

	ids := ident.NewRegistry()
	factory := comments.NewFactory(ids)
	thread := factory.NewThread("q", []*comments.Comment{factory.NewComment("opening", "alice@example.com")})
	reply := factory.NewComment("a reply", "alice@example.com")

	if !svc.SaveComment(context.Background(), reply, thread, "doc-1") {
		t.Fatal("save reported failure")
	}
	cms.mu.Lock()
	defer cms.mu.Unlock()
	if len(cms.created) != 1 || cms.created[0]["threadId"] != thread.ID {
		t.Fatalf("created = %+v", cms.created)
	}
}

func TestSaveLoneCommentWithoutThreadFails(t *testing.T) {
	cms := newFakeCMS()
	svc := newTestService(t, cms)
	ids := ident.NewRegistry()
	factory := comments.NewFactory(ids)

	if svc.SaveComment(context.Background(), factory.NewComment("orphan", "alice@example.com"), nil, "doc-1") {
		t.Fatal("orphan comment save reported success")
	}
}

func TestMarkResolved(t *testing.T) {
	cms := newFakeCMS()
	svc := newTestService(t, cms)

	if !svc.MarkResolved(context.Background(), "c1") {
		t.Fatal("resolve reported failure")
	}
	cms.mu.Lock()
	defer cms.mu.Unlock()
	if patch := cms.patched["c1"]; patch == nil || patch["resolved"] != true {
		t.Fatalf("patch = %+v", patch)
	}
}

func TestResolveThreadFansOut(t *testing.T) {
	cms := newFakeCMS()
	cms.comments = []map[string]any{
		record("c1", "doc-1", "t1", "first", "u1", "q"),
		record("c2", "doc-1", "t1", "second", "u1", ""),
		record("c3", "doc-1", "t2", "other", "u1", "q"),
	}
	svc := newTestService(t, cms)

	svc.ResolveThread(context.Background(), "t1")

	cms.mu.Lock()
	defer cms.mu.Unlock()
	if len(cms.patched) != 2 {
		t.Fatalf("%d records patched, want 2", len(cms.patched))
	}
	for _, id := range []string{"c1", "c2"} {
		if patch := cms.patched[id]; patch == nil || patch["resolved"] != true {
			t.Fatalf("patch for %s = %+v", id, patch)
		}
	}
}
