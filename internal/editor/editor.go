// Package editor defines the contract the host rich-text editor must expose
// for inline commenting: marker spans carrying annotation ids, marker and
// update notifications, selection access, and prioritized command dispatch.
// The editor engine itself lives in the host CMS; this package only names
// the capabilities the commenting core consumes.
package editor

// Handle identifies a live node inside the document tree. A destroyed node's
// handle can no longer be resolved to a Marker.
type Handle string

// MutationKind classifies a marker lifecycle notification.
type MutationKind int

const (
	MarkerCreated MutationKind = iota
	MarkerUpdated
	MarkerDestroyed
)

// Mutation is one marker lifecycle event.
type Mutation struct {
	Handle Handle
	Kind   MutationKind
}

// Marker is an inline span carrying a set of annotation ids. Mutating calls
// (AddID, DeleteID, Unwrap) must run inside an editor update.
type Marker interface {
	Handle() Handle
	IDs() []string
	AddID(id string)
	DeleteID(id string)
	// Unwrap removes the marker entirely, reverting its span to plain text.
	Unwrap()
}

// Selection is a snapshot of the cursor state taken on a document read.
type Selection struct {
	// IDs are the annotation ids at the selection's anchor point, empty when
	// the anchor is not inside a marked span.
	IDs []string
	// Anchor is the node holding the anchor point, "" when there is none.
	Anchor Handle
	// Collapsed reports whether the selection covers no text.
	Collapsed bool
	// Text is the selected text, used for quote capture.
	Text string
}

// Priority orders command handlers for the same command. Critical handlers
// run before low ones; within a tier, registration order holds.
type Priority int

const (
	PriorityLow Priority = iota
	PriorityCritical
)

// Commands dispatched by the commenting core. Escape stays in the low tier
// so feature-specific critical handlers are not starved.
const (
	CommandInsertComment  = "comments.insert"
	CommandToggleComments = "comments.toggle-panel"
	CommandEscape         = "key.escape"
)

type (
	// MarkerListener receives batched marker lifecycle events.
	MarkerListener func(mutations []Mutation)
	// UpdateListener runs after every document update, once per update.
	UpdateListener func()
	// CommandHandler handles a dispatched command; returning true stops
	// propagation to later handlers.
	CommandHandler func(payload any) bool
	// MergeResolver combines two markers when their regions become one
	// contiguous span during a structural edit. The surviving marker (to)
	// must end up carrying the union of both id sets.
	MergeResolver func(from, to Marker)
)

// Editor is the capability surface the host editor exposes to the
// commenting core. Register* calls return closures that remove the
// registration.
type Editor interface {
	RegisterMarkerListener(fn MarkerListener) func()
	RegisterUpdateListener(fn UpdateListener) func()
	RegisterCommand(command string, fn CommandHandler, priority Priority) func()
	DispatchCommand(command string, payload any) bool

	// SetMergeResolver installs the marker merge rule applied on structural
	// edits.
	SetMergeResolver(fn MergeResolver)

	// MarkerByHandle resolves a handle to its live marker, nil if destroyed
	// or unknown.
	MarkerByHandle(h Handle) Marker
	Selection() Selection

	// WrapSelection wraps the current selection in a marker carrying id and
	// returns the new marker's handle. Must run inside an update.
	WrapSelection(id string) Handle

	// Update runs fn with mutation access to the document tree, then flushes
	// marker and update notifications.
	Update(fn func())
	// Defer schedules fn after the current update cycle completes, so a
	// handler reacting to a document read never mutates the tree it is
	// reading.
	Defer(fn func())
}
