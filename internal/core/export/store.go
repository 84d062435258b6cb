package export

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/go-playground/validator/v10"
)

// ErrInvalidBook is returned when a book fails validation on upsert.
var ErrInvalidBook = errors.New("invalid book")

// ErrMalformedStore is returned when a store file decodes but lacks the
// run or books key.
var ErrMalformedStore = errors.New("store is missing expected keys")

var validate = validator.New(validator.WithRequiredStructEnabled())

// NewState returns an empty store that has never been written.
func NewState() *State {
	return &State{Books: []Book{}}
}

// Read strictly loads the store at path. A missing file yields an empty
// state; an unreadable or corrupt file, or one without both the run and
// books keys, is an error.
func Read(path string) (*State, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return NewState(), nil
		}
		return nil, fmt.Errorf("failed to read store %s: %w", path, err)
	}

	var keys map[string]json.RawMessage
	if err := json.Unmarshal(data, &keys); err != nil {
		return nil, fmt.Errorf("failed to decode store %s: %w", path, err)
	}
	for _, key := range []string{"run", "books"} {
		if _, ok := keys[key]; !ok {
			return nil, fmt.Errorf("%w: %s has no %q", ErrMalformedStore, path, key)
		}
	}

	state := NewState()
	if err := json.Unmarshal(data, state); err != nil {
		return nil, fmt.Errorf("failed to decode store %s: %w", path, err)
	}
	if state.Books == nil {
		state.Books = []Book{}
	}
	return state, nil
}

// Load reads the store at path for a scrape session. It never fails: a
// missing file is a fresh state and a corrupt one is replaced by a fresh
// state after logging a warning.
func Load(path string) *State {
	state, err := Read(path)
	if err != nil {
		slog.Warn("could not load existing store, starting fresh", "path", path, "error", err)
		return NewState()
	}
	return state
}

// ExistingASINs returns the set of ASINs already captured.
func (s *State) ExistingASINs() map[string]struct{} {
	out := make(map[string]struct{}, len(s.Books))
	for _, b := range s.Books {
		out[b.ASIN] = struct{}{}
	}
	return out
}

// Find returns the stored book with the given ASIN.
func (s *State) Find(asin string) (Book, bool) {
	for _, b := range s.Books {
		if b.ASIN == asin {
			return b, true
		}
	}
	return Book{}, false
}

// Upsert replaces the book with the same ASIN in place, or appends it when
// absent, and refreshes the run timestamp. It reports whether an existing
// entry was replaced.
func (s *State) Upsert(book Book, now time.Time) (bool, error) {
	if err := validate.Struct(book); err != nil {
		return false, fmt.Errorf("%w %q: %v", ErrInvalidBook, book.ASIN, err)
	}
	if book.Highlights == nil {
		book.Highlights = []Highlight{}
	}

	replaced := false
	for i := range s.Books {
		if s.Books[i].ASIN == book.ASIN {
			s.Books[i] = book
			replaced = true
			break
		}
	}
	if !replaced {
		s.Books = append(s.Books, book)
	}

	ts := now.UTC().Format(time.RFC3339)
	s.Run.Timestamp = &ts
	return replaced, nil
}

// Persist writes the state to path as indented JSON, creating parent
// directories as needed. The file is replaced atomically via rename.
func Persist(s *State, path string) error {
	if s.Books == nil {
		s.Books = []Book{}
	}
	for i := range s.Books {
		if s.Books[i].Highlights == nil {
			s.Books[i].Highlights = []Highlight{}
		}
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(s); err != nil {
		return fmt.Errorf("failed to encode store: %w", err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create store directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(buf.Bytes()); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to write store: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to replace store: %w", err)
	}
	return nil
}

// SaveBook runs one full load-modify-write cycle for a single book, so a
// crash loses at most the book in flight.
func SaveBook(path string, book Book, now time.Time) (bool, error) {
	state := Load(path)
	replaced, err := state.Upsert(book, now)
	if err != nil {
		return false, err
	}
	if err := Persist(state, path); err != nil {
		return false, err
	}
	if replaced {
		slog.Info("updated book", "asin", book.ASIN, "title", book.Title, "highlights", len(book.Highlights))
	} else {
		slog.Info("added book", "asin", book.ASIN, "title", book.Title, "highlights", len(book.Highlights))
	}
	return replaced, nil
}
