// Package instructions serves named markdown instruction documents from a
// directory: "<dir>/<name>.md" is available as name. The set is loaded into
// memory on Open and can be reloaded explicitly or on filesystem changes.
package instructions

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
)

const (
	ext         = ".md"
	maxDocBytes = 1 << 20
)

var (
	// ErrNotFound is returned by Get for a well-formed name with no document.
	ErrNotFound = errors.New("instructions: not found")
	// ErrInvalidName is returned by Get for names that could escape the
	// library directory or are otherwise not valid document names.
	ErrInvalidName = errors.New("instructions: invalid name")
)

var validName = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_-]{0,63}$`)

// Library is safe for concurrent use; readers never block on a reload.
type Library struct {
	dir      string
	log      *slog.Logger
	onReload func(names []string)

	docs atomic.Pointer[map[string]string]
}

// Option configures a Library.
type Option func(*Library)

// WithLogger sets the logger used for reload and watch events.
func WithLogger(l *slog.Logger) Option {
	return func(lib *Library) {
		if l != nil {
			lib.log = l
		}
	}
}

// WithOnReload registers a callback invoked with the new names after every
// successful reload triggered by Watch.
func WithOnReload(fn func(names []string)) Option {
	return func(lib *Library) { lib.onReload = fn }
}

// Open loads every valid "<name>.md" file directly under dir.
func Open(dir string, opts ...Option) (*Library, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("instructions: %w", err)
	}
	lib := &Library{dir: abs, log: slog.New(slog.NewTextHandler(io.Discard, nil))}
	for _, opt := range opts {
		opt(lib)
	}
	if err := lib.Reload(); err != nil {
		return nil, err
	}
	return lib, nil
}

// Dir returns the absolute directory backing the library.
func (l *Library) Dir() string { return l.dir }

// Get returns the document called name.
func (l *Library) Get(name string) (string, error) {
	if !validName.MatchString(name) {
		return "", fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	doc, ok := (*l.docs.Load())[name]
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrNotFound, name)
	}
	return doc, nil
}

// Names returns the available names, sorted.
func (l *Library) Names() []string {
	docs := *l.docs.Load()
	names := make([]string, 0, len(docs))
	for n := range docs {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Reload rereads the directory and swaps in the new set. On error the
// previous set stays in place.
func (l *Library) Reload() error {
	entries, err := os.ReadDir(l.dir)
	if err != nil {
		return fmt.Errorf("instructions: read dir: %w", err)
	}
	docs := make(map[string]string, len(entries))
	for _, e := range entries {
		if !e.Type().IsRegular() || !strings.HasSuffix(e.Name(), ext) {
			continue
		}
		name := strings.TrimSuffix(e.Name(), ext)
		if !validName.MatchString(name) {
			l.log.Debug("instructions.skip", slog.String("file", e.Name()))
			continue
		}
		b, err := readLimited(filepath.Join(l.dir, e.Name()))
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return err
		}
		docs[name] = string(b)
	}
	l.docs.Store(&docs)
	return nil
}

func readLimited(path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	b, err := io.ReadAll(io.LimitReader(f, maxDocBytes+1))
	if err != nil {
		return nil, fmt.Errorf("instructions: read %s: %w", filepath.Base(path), err)
	}
	if len(b) > maxDocBytes {
		return nil, fmt.Errorf("instructions: %s exceeds %d bytes", filepath.Base(path), maxDocBytes)
	}
	return b, nil
}

// Watch reloads the library whenever a markdown file in the directory is
// created, written, removed or renamed. It blocks until ctx is done.
func (l *Library) Watch(ctx context.Context) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("instructions: watch: %w", err)
	}
	defer func() {
		_ = w.Close()
	}()
	if err := w.Add(l.dir); err != nil {
		return fmt.Errorf("instructions: watch %s: %w", l.dir, err)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if !strings.HasSuffix(ev.Name, ext) {
				continue
			}
			if !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Remove) && !ev.Has(fsnotify.Rename) {
				continue
			}
			if err := l.Reload(); err != nil {
				l.log.WarnContext(ctx, "instructions.reload.fail", slog.String("err", err.Error()))
				continue
			}
			names := l.Names()
			l.log.InfoContext(ctx, "instructions.reload.ok", slog.Int("count", len(names)))
			if l.onReload != nil {
				l.onReload(names)
			}
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			l.log.WarnContext(ctx, "instructions.watch.error", slog.String("err", err.Error()))
		}
	}
}
