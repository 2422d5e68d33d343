// Package editor implements the drawing session for sketching a route line
// over a topo photo: a small state machine that accumulates points, supports
// undo, freezes the line on finish, and tags save operations so stale results
// can be discarded after the user switches records.
package editor

import (
	"errors"
	"sync"

	"cragline/core"

	"github.com/oklog/ulid/v2"
)

// State is the lifecycle phase of a drawing session. Guarded transitions
// replace the drawingMode/finished flag pair so that invalid combinations
// (drawing a finished line, saving an unfinished one) cannot be reached.
type State int

const (
	// StateIdle: no record selected.
	StateIdle State = iota
	// StateLoading: record selected, base image load in flight.
	StateLoading
	// StateNoImage: the base image failed to load. Not fatal; the session
	// stays usable but drawing is unavailable.
	StateNoImage
	// StateReady: base image loaded, not drawing.
	StateReady
	// StateDrawing: accumulating points.
	StateDrawing
	// StateFinished: a line with >= 2 points has been committed.
	StateFinished
	// StateSaving: a save is in flight for the finished line.
	StateSaving
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateLoading:
		return "loading"
	case StateNoImage:
		return "no-image"
	case StateReady:
		return "ready"
	case StateDrawing:
		return "drawing"
	case StateFinished:
		return "finished"
	case StateSaving:
		return "saving"
	}
	return "unknown"
}

var (
	ErrNoImage       = errors.New("editor: no base image loaded")
	ErrNotDrawing    = errors.New("editor: not in drawing mode")
	ErrTooFewPoints  = errors.New("editor: a line needs at least two points")
	ErrNotFinished   = errors.New("editor: no finished line to save")
	ErrSaveInFlight  = errors.New("editor: a save is already in flight")
	ErrBadTransition = errors.New("editor: operation not valid in current state")
)

// SaveTicket tags one asynchronous save with the record it targets. The
// session only applies a completion whose record id still matches, which
// closes the stale-result race when the user switches records mid-save.
type SaveTicket struct {
	ID       string
	RecordID string
	Table    core.Table
	Path     core.Path
}

// Session owns the state for annotating one selected record. Methods are
// safe for concurrent use; save completions arrive from another goroutine.
type Session struct {
	mu sync.Mutex

	state    State
	table    core.Table
	recordID string

	points   core.Path // working buffer, mutable while drawing
	finished core.Path // committed line, immutable until reset

	savedLineURL string // last persisted line image, with cache-buster
}

// NewSession returns an idle session with no record selected.
func NewSession() *Session {
	return &Session{state: StateIdle}
}

// Select switches the session to a new record. Everything belonging to the
// previous selection is dropped, including a previously loaded saved-line
// image. An empty id deselects.
func (s *Session) Select(table core.Table, recordID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.table = table
	s.recordID = recordID
	s.points = nil
	s.finished = nil
	s.savedLineURL = ""
	if recordID == "" {
		s.state = StateIdle
	} else {
		s.state = StateLoading
	}
}

// ImageLoaded marks the base image as available. savedLineURL carries the
// record's existing line image, if any.
func (s *Session) ImageLoaded(savedLineURL string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateLoading {
		return
	}
	s.savedLineURL = savedLineURL
	s.state = StateReady
}

// ImageFailed marks the base image load as failed. The session degrades to
// "no image available" rather than erroring out.
func (s *Session) ImageFailed() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateLoading {
		return
	}
	s.state = StateNoImage
}

// EnterDrawing starts a new line. Valid once an image is loaded; entering
// from a finished state discards the committed line and starts over.
func (s *Session) EnterDrawing() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.state {
	case StateReady, StateFinished:
		s.points = nil
		s.finished = nil
		s.state = StateDrawing
		return nil
	case StateIdle, StateLoading, StateNoImage:
		return ErrNoImage
	default:
		return ErrBadTransition
	}
}

// ExitDrawing abandons the in-progress line and returns to ready.
func (s *Session) ExitDrawing() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateDrawing {
		return
	}
	s.points = nil
	s.finished = nil
	s.state = StateReady
}

// AddPoint appends one point to the working line. Only valid while drawing.
func (s *Session) AddPoint(p core.Point) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateDrawing {
		return ErrNotDrawing
	}
	s.points = append(s.points, p)
	return nil
}

// UndoPoint removes the most recently added point. Removing is only
// permitted while at least two points exist, and dropping below two clears
// the whole working line instead of leaving a single dangling point. The
// source application behaves this way; reproduced here pending product
// confirmation that a 1-point remainder was never intended.
func (s *Session) UndoPoint() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateDrawing || len(s.points) < core.MinPathPoints {
		return
	}
	s.points = s.points[:len(s.points)-1]
	if len(s.points) < core.MinPathPoints {
		s.points = nil
	}
}

// FinishLine commits the working line. Requires drawing mode and at least
// two points; on success the committed path is frozen, the working buffer
// is cleared and drawing mode ends.
func (s *Session) FinishLine() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateDrawing {
		return ErrNotDrawing
	}
	if !s.points.Valid() {
		return ErrTooFewPoints
	}
	s.finished = s.points.Clone()
	s.points = nil
	s.state = StateFinished
	return nil
}

// BeginSave reserves the session for one save round-trip and returns the
// ticket identifying it. A second save cannot start until the first one
// completes or fails.
func (s *Session) BeginSave() (SaveTicket, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.state {
	case StateSaving:
		return SaveTicket{}, ErrSaveInFlight
	case StateFinished:
	default:
		return SaveTicket{}, ErrNotFinished
	}

	s.state = StateSaving
	return SaveTicket{
		ID:       ulid.Make().String(),
		RecordID: s.recordID,
		Table:    s.table,
		Path:     s.finished.Clone(),
	}, nil
}

// CompleteSave applies a successful save result. Returns false and changes
// nothing when the session has moved to a different record since the ticket
// was issued.
func (s *Session) CompleteSave(t SaveTicket, url string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if t.RecordID != s.recordID {
		return false
	}
	s.savedLineURL = url
	if s.state == StateSaving {
		s.state = StateFinished
	}
	return true
}

// FailSave releases the session after a failed save. The finished line is
// kept so the user can retry. Stale failures are discarded like stale
// completions.
func (s *Session) FailSave(t SaveTicket) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if t.RecordID != s.recordID {
		return false
	}
	if s.state == StateSaving {
		s.state = StateFinished
	}
	return true
}

// State returns the current lifecycle phase.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// RecordID returns the currently selected record id, or "".
func (s *Session) RecordID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.recordID
}

// Points returns a copy of the in-progress working line.
func (s *Session) Points() core.Path {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.points.Clone()
}

// FinishedPath returns a copy of the committed line, or nil.
func (s *Session) FinishedPath() core.Path {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.finished.Clone()
}

// SavedLineURL returns the public URL of the last persisted line image.
func (s *Session) SavedLineURL() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.savedLineURL
}
