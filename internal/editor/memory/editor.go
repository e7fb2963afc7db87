// Package memory is an in-memory reference implementation of the editor
// contract: a flat text buffer with marker spans, selection, prioritized
// command dispatch and a deferred-work queue. It backs the package tests and
// the commentctl demo session; the production collaborator is the host CMS
// editor.
package memory

import (
	"sort"
	"strconv"

	"github.com/google/uuid"

	"marginalia/internal/editor"
)

// Marker is a span of the buffer carrying annotation ids.
type Marker struct {
	ed         *Editor
	handle     editor.Handle
	start, end int
	ids        []string
	destroyed  bool
}

func (m *Marker) Handle() editor.Handle { return m.handle }

func (m *Marker) IDs() []string {
	ids := make([]string, len(m.ids))
	copy(ids, m.ids)
	return ids
}

func (m *Marker) AddID(id string) {
	if m.destroyed {
		return
	}
	for _, existing := range m.ids {
		if existing == id {
			return
		}
	}
	m.ids = append(m.ids, id)
	m.ed.record(editor.Mutation{Handle: m.handle, Kind: editor.MarkerUpdated})
}

func (m *Marker) DeleteID(id string) {
	if m.destroyed {
		return
	}
	for i, existing := range m.ids {
		if existing == id {
			m.ids = append(m.ids[:i:i], m.ids[i+1:]...)
			m.ed.record(editor.Mutation{Handle: m.handle, Kind: editor.MarkerUpdated})
			return
		}
	}
}

func (m *Marker) Unwrap() {
	if m.destroyed {
		return
	}
	m.ed.destroy(m)
}

// Span reports the marker's current range in the buffer.
func (m *Marker) Span() (start, end int) { return m.start, m.end }

type commandReg struct {
	token    int
	fn       editor.CommandHandler
	priority editor.Priority
}

type tokenFn[T any] struct {
	token int
	fn    T
}

// Editor is the in-memory document. It is not safe for concurrent use; like
// the host editor it assumes a single interaction goroutine.
type Editor struct {
	text             string
	markers          []*Marker
	byHandle         map[editor.Handle]*Marker
	selStart, selEnd int

	markerListeners []tokenFn[editor.MarkerListener]
	updateListeners []tokenFn[editor.UpdateListener]
	commands        map[string][]commandReg
	nextToken       int
	resolver        editor.MergeResolver

	depth    int
	flushing bool
	updated  bool
	pending  []editor.Mutation
	deferred []func()
}

var _ editor.Editor = (*Editor)(nil)

func New(text string) *Editor {
	return &Editor{
		text:     text,
		byHandle: make(map[editor.Handle]*Marker),
		commands: make(map[string][]commandReg),
	}
}

func (e *Editor) RegisterMarkerListener(fn editor.MarkerListener) func() {
	token := e.nextToken
	e.nextToken++
	e.markerListeners = append(e.markerListeners, tokenFn[editor.MarkerListener]{token, fn})
	return func() {
		for i, l := range e.markerListeners {
			if l.token == token {
				e.markerListeners = append(e.markerListeners[:i:i], e.markerListeners[i+1:]...)
				return
			}
		}
	}
}

func (e *Editor) RegisterUpdateListener(fn editor.UpdateListener) func() {
	token := e.nextToken
	e.nextToken++
	e.updateListeners = append(e.updateListeners, tokenFn[editor.UpdateListener]{token, fn})
	return func() {
		for i, l := range e.updateListeners {
			if l.token == token {
				e.updateListeners = append(e.updateListeners[:i:i], e.updateListeners[i+1:]...)
				return
			}
		}
	}
}

func (e *Editor) RegisterCommand(command string, fn editor.CommandHandler, priority editor.Priority) func() {
	token := e.nextToken
	e.nextToken++
	e.commands[command] = append(e.commands[command], commandReg{token: token, fn: fn, priority: priority})
	return func() {
		regs := e.commands[command]
		for i, reg := range regs {
			if reg.token == token {
				e.commands[command] = append(regs[:i:i], regs[i+1:]...)
				return
			}
		}
	}
}

// DispatchCommand runs critical-tier handlers before low-tier ones, each
// tier in registration order, stopping at the first handler that returns
// true.
func (e *Editor) DispatchCommand(command string, payload any) bool {
	for _, tier := range []editor.Priority{editor.PriorityCritical, editor.PriorityLow} {
		for _, reg := range e.commands[command] {
			if reg.priority != tier {
				continue
			}
			if reg.fn(payload) {
				return true
			}
		}
	}
	return false
}

func (e *Editor) SetMergeResolver(fn editor.MergeResolver) { e.resolver = fn }

func (e *Editor) MarkerByHandle(h editor.Handle) editor.Marker {
	m, ok := e.byHandle[h]
	if !ok || m.destroyed {
		return nil
	}
	return m
}

// Text returns the current buffer contents.
func (e *Editor) Text() string { return e.text }

// Markers returns the live markers ordered by span start.
func (e *Editor) Markers() []*Marker {
	live := make([]*Marker, 0, len(e.markers))
	for _, m := range e.markers {
		if !m.destroyed {
			live = append(live, m)
		}
	}
	sort.Slice(live, func(i, j int) bool { return live[i].start < live[j].start })
	return live
}

// SetText replaces the whole buffer and destroys every marker.
func (e *Editor) SetText(text string) {
	e.Update(func() {
		e.text = text
		for _, m := range e.markers {
			if !m.destroyed {
				e.destroy(m)
			}
		}
		e.selStart, e.selEnd = 0, 0
	})
}

// SetSelection moves the selection, clamped to the buffer, and notifies
// update listeners.
func (e *Editor) SetSelection(start, end int) {
	e.Update(func() {
		e.selStart = clamp(start, 0, len(e.text))
		e.selEnd = clamp(end, e.selStart, len(e.text))
	})
}

func (e *Editor) Selection() editor.Selection {
	sel := editor.Selection{
		Collapsed: e.selStart == e.selEnd,
		Text:      e.text[e.selStart:e.selEnd],
	}
	for _, m := range e.Markers() {
		if m.start <= e.selStart && e.selStart < m.end {
			sel.IDs = append(sel.IDs, m.ids...)
		}
	}
	if len(e.text) > 0 {
		sel.Anchor = editor.Handle("text@" + strconv.Itoa(e.runStart(e.selStart)))
	}
	return sel
}

func (e *Editor) WrapSelection(id string) editor.Handle {
	if e.selStart == e.selEnd {
		return ""
	}
	m := &Marker{
		ed:     e,
		handle: editor.Handle("mark_" + uuid.NewString()),
		start:  e.selStart,
		end:    e.selEnd,
		ids:    []string{id},
	}
	e.markers = append(e.markers, m)
	e.byHandle[m.handle] = m
	e.record(editor.Mutation{Handle: m.handle, Kind: editor.MarkerCreated})
	return m.handle
}

// DeleteRange removes [start, end) from the buffer, shrinking or destroying
// markers that overlap it. Markers whose spans become contiguous are merged
// through the configured resolver, the surviving marker keeping the union of
// both id sets.
func (e *Editor) DeleteRange(start, end int) {
	e.Update(func() {
		start = clamp(start, 0, len(e.text))
		end = clamp(end, start, len(e.text))
		if start == end {
			return
		}
		e.text = e.text[:start] + e.text[end:]
		for _, m := range e.markers {
			if m.destroyed {
				continue
			}
			m.start = shift(m.start, start, end)
			m.end = shift(m.end, start, end)
			if m.start >= m.end {
				e.destroy(m)
			}
		}
		e.selStart = shift(e.selStart, start, end)
		e.selEnd = shift(e.selEnd, start, end)
		e.mergeContiguous()
	})
}

func (e *Editor) mergeContiguous() {
	if e.resolver == nil {
		return
	}
	live := e.Markers()
	for i := 0; i+1 < len(live); i++ {
		a, b := live[i], live[i+1]
		if a.destroyed || b.destroyed || a.end != b.start {
			continue
		}
		e.resolver(b, a)
		a.end = b.end
		e.destroy(b)
		e.record(editor.Mutation{Handle: a.handle, Kind: editor.MarkerUpdated})
		live[i+1] = a
	}
}

func (e *Editor) Update(fn func()) {
	e.depth++
	fn()
	e.depth--
	if e.depth > 0 {
		return
	}
	if e.flushing {
		// Nested update from a drained deferred function; the flush loop
		// runs the notification pass for it.
		e.updated = true
		return
	}
	e.flush()
}

// Defer queues while an update or its notification pass is running, so a
// listener-originated deferral never executes inside the listener.
func (e *Editor) Defer(fn func()) {
	if e.depth > 0 || e.flushing {
		e.deferred = append(e.deferred, fn)
		return
	}
	fn()
}

// flush notifies listeners, then drains the deferred queue. A deferred
// function that performs an update gets its own notification pass, so its
// mutations are observed exactly once and update listeners never re-enter.
func (e *Editor) flush() {
	e.flushing = true
	defer func() { e.flushing = false }()
	notify := true
	for {
		if notify {
			if muts := e.pending; len(muts) > 0 {
				e.pending = nil
				for _, l := range e.markerListeners {
					l.fn(muts)
				}
			}
			for _, l := range e.updateListeners {
				l.fn()
			}
		}
		if len(e.deferred) == 0 {
			return
		}
		fn := e.deferred[0]
		e.deferred = e.deferred[1:]
		e.updated = false
		fn()
		notify = e.updated
	}
}

func (e *Editor) record(m editor.Mutation) {
	e.pending = append(e.pending, m)
}

func (e *Editor) destroy(m *Marker) {
	m.destroyed = true
	delete(e.byHandle, m.handle)
	e.record(editor.Mutation{Handle: m.handle, Kind: editor.MarkerDestroyed})
}

// runStart is the start offset of the text run holding pos; runs are split
// by marker boundaries.
func (e *Editor) runStart(pos int) int {
	run := 0
	for _, m := range e.Markers() {
		if m.start <= pos && m.start > run {
			run = m.start
		}
		if m.end <= pos && m.end > run {
			run = m.end
		}
	}
	return run
}

func shift(pos, delStart, delEnd int) int {
	switch {
	case pos <= delStart:
		return pos
	case pos >= delEnd:
		return pos - (delEnd - delStart)
	default:
		return delStart
	}
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
