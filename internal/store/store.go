// Package store holds the loaded diagnostic capture and the user's
// timeline/snapshot selection. A Store is constructed explicitly and passed
// to every consumer; there is no ambient shared instance.
package store

import (
	"log/slog"
	"os"
	"sync"

	"github.com/rtcstack/rtc-triage/internal/models"
	"github.com/rtcstack/rtc-triage/internal/utils"
)

// Store owns the current document and selection. The document is immutable
// once loaded and replaced wholesale on a new load; the selection mutates in
// response to user toggles.
type Store struct {
	mu     sync.RWMutex
	logger *slog.Logger
	doc    *models.LogDocument
	sel    Selection
}

// New constructs an empty Store.
func New(logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{logger: logger}
}

// Load parses a raw capture and replaces the current document. On parse
// failure the previously loaded document and selection stay untouched.
func (s *Store) Load(data []byte) (*models.LogDocument, error) {
	doc, err := models.ParseDocument(data)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.doc = doc
	s.sel = Selection{}
	s.mu.Unlock()

	s.logger.Info("capture loaded",
		slog.Int("timelines", len(doc.Timelines)),
		slog.Int("snapshots", len(doc.Snapshots)))
	return doc, nil
}

// LoadFile reads and loads a capture from disk.
func (s *Store) LoadFile(path string) (*models.LogDocument, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, utils.NewAppError("store.load", "reading capture "+path, err)
	}
	return s.Load(data)
}

// Document returns the current document, or nil before any load.
func (s *Store) Document() *models.LogDocument {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.doc
}

// Selection returns a copy of the current selection.
func (s *Store) Selection() Selection {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sel.Clone()
}

// SetSelection replaces the current selection.
func (s *Store) SetSelection(sel Selection) {
	s.mu.Lock()
	s.sel = sel.Clone()
	s.mu.Unlock()
}

// Filtered returns the current document narrowed by the current selection.
func (s *Store) Filtered() *models.LogDocument {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.doc == nil {
		return nil
	}
	return Filter(s.doc, s.sel)
}
