package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"time"

	"github.com/joho/godotenv"

	"marginalia/internal/anchors"
	"marginalia/internal/comments"
	"marginalia/internal/config"
	"marginalia/internal/editor/memory"
	"marginalia/internal/ident"
	"marginalia/internal/plugin"
	"marginalia/internal/remote"
)

func main() {
	_ = godotenv.Load()
	cfg := config.Load()

	docID := flag.String("doc", "", "document id")
	author := flag.String("author", cfg.Author, "author email for new comments")
	flag.Usage = usage
	flag.Parse()

	ids := ident.NewRegistry()
	factory := comments.NewFactory(ids)
	client := remote.NewClient(cfg.APIBaseURL, cfg.APIToken, cfg.CommentsCollection, cfg.UsersCollection,
		&http.Client{Timeout: cfg.HTTPTimeout})
	service := remote.NewService(client, factory, ids)

	ctx := context.Background()
	switch flag.Arg(0) {
	case "list":
		if *docID == "" {
			log.Fatal("list requires -doc")
		}
		store := comments.NewStore(*docID, ids, service)
		store.LoadComments(ctx, *docID)
		printComments(store.Comments())
	case "resolve":
		threadID := flag.Arg(1)
		if threadID == "" {
			log.Fatal("usage: commentctl resolve <thread-id>")
		}
		service.ResolveThread(ctx, threadID)
		fmt.Printf("resolved thread %s\n", threadID)
	case "demo":
		runDemo(ctx, *author)
	default:
		usage()
		os.Exit(2)
	}
}

func usage() {
	fmt.Fprintf(os.Stderr, `usage: commentctl [flags] <command>

commands:
  list                 load and print a document's comment threads (-doc required)
  resolve <thread-id>  soft-delete every comment in a thread
  demo                 run an offline annotation session against an in-memory editor

flags:
`)
	flag.PrintDefaults()
}

func printComments(collection comments.Comments) {
	if len(collection) == 0 {
		fmt.Println("no unresolved comments")
		return
	}
	for _, entry := range collection {
		switch v := entry.(type) {
		case *comments.Thread:
			fmt.Printf("thread %s  %q\n", v.ID, v.Quote)
			for _, c := range v.Comments {
				printComment(c, "  ")
			}
		case *comments.Comment:
			printComment(v, "")
		}
	}
}

func printComment(c *comments.Comment, indent string) {
	when := time.UnixMilli(c.TimeStamp).Format(time.RFC822)
	fmt.Printf("%s%s  %s  %s\n", indent, c.ID, c.Author, when)
	fmt.Printf("%s  %s\n", indent, c.Content)
}

// noopSyncer keeps the demo session fully offline.
type noopSyncer struct{}

func (noopSyncer) LoadComments(context.Context, string) comments.Comments { return nil }
func (noopSyncer) SaveComment(context.Context, comments.Entry, *comments.Thread, string) bool {
	return true
}

type noopResolver struct{}

func (noopResolver) MarkResolved(context.Context, string) bool { return true }
func (noopResolver) ResolveThread(context.Context, string)     {}

// runDemo walks one annotation lifecycle against the in-memory editor:
// select, comment, reply, edit the text around the marker, delete the
// thread, and show the marker unwrap.
func runDemo(ctx context.Context, author string) {
	if author == "" {
		author = "reviewer@example.com"
	}

	ids := ident.NewRegistry()
	factory := comments.NewFactory(ids)
	store := comments.NewStore("demo-doc", ids, noopSyncer{})
	ed := memory.New("The quick brown fox jumps over the lazy dog.")
	tracker := anchors.NewTracker(ed)
	defer tracker.Close()
	p := plugin.New(ed, store, tracker, noopResolver{}, factory, author)
	defer p.Close()

	ed.SetSelection(4, 19) // "quick brown fox"
	p.InsertComment()
	if err := p.SubmitAddComment(ctx, "Is this fox verified?", nil); err != nil {
		log.Fatalf("submit failed: %v", err)
	}

	collection := store.Comments()
	thread := collection[0].(*comments.Thread)
	if err := p.SubmitAddComment(ctx, "Confirmed, very quick.", thread); err != nil {
		log.Fatalf("reply failed: %v", err)
	}

	fmt.Println("document:", ed.Text())
	for _, m := range ed.Markers() {
		start, end := m.Span()
		fmt.Printf("marker %v spans %q carrying %v\n", m.Handle(), ed.Text()[start:end], m.IDs())
	}
	printComments(store.Comments())
	fmt.Println("active ids at selection:", tracker.ActiveIDs())

	// Editing next to the marker keeps the annotation attached.
	ed.DeleteRange(0, 4)
	for _, m := range ed.Markers() {
		start, end := m.Span()
		fmt.Printf("after edit, marker spans %q\n", ed.Text()[start:end])
	}

	thread = store.Comments()[0].(*comments.Thread)
	p.DeleteCommentOrThread(ctx, thread, nil)
	fmt.Println("threads after delete:", len(store.Comments()))
	fmt.Println("markers after delete:", len(ed.Markers()))
}
