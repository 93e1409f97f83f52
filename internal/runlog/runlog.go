// Package runlog renders the operator-facing provisioning transcript.
//
// Every record is written as a plain line in the form
//
//	2025-07-14 09:21:03 - created directory path=/srv/sftp/shared
//
// to both the console and the run-log file. The format is part of the
// tool's contract; operators grep these transcripts, so the handler keeps
// them stable instead of using slog's text or JSON output.
package runlog

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"
)

// TimeFormat is the timestamp layout for run-log lines.
const TimeFormat = "2006-01-02 15:04:05"

// DefaultFile is the run-log file written next to the working directory
// when no path is configured.
const DefaultFile = "sftpjail.log"

// Options configures a Handler.
type Options struct {
	// Level is the minimum record level that will be logged.
	// Defaults to slog.LevelInfo.
	Level slog.Leveler
}

// Handler is a slog.Handler producing run-log lines. Warnings and errors
// carry a marker in the message position; attributes render as trailing
// key=value pairs. Safe for concurrent use.
type Handler struct {
	opts   Options
	mu     *sync.Mutex
	w      io.Writer
	attrs  string
	groups []string
}

// NewHandler creates a Handler writing to w.
func NewHandler(w io.Writer, opts *Options) *Handler {
	h := &Handler{
		w:  w,
		mu: &sync.Mutex{},
	}
	if opts != nil {
		h.opts = *opts
	}
	if h.opts.Level == nil {
		h.opts.Level = slog.LevelInfo
	}
	return h
}

// Enabled reports whether records at the given level are logged.
func (h *Handler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.opts.Level.Level()
}

// Handle renders a record as a single run-log line.
func (h *Handler) Handle(_ context.Context, r slog.Record) error {
	var b strings.Builder

	ts := r.Time
	if ts.IsZero() {
		ts = time.Now()
	}
	b.WriteString(ts.Format(TimeFormat))
	b.WriteString(" - ")

	switch {
	case r.Level >= slog.LevelError:
		b.WriteString("ERROR: ")
	case r.Level >= slog.LevelWarn:
		b.WriteString("WARNING: ")
	}

	b.WriteString(r.Message)
	b.WriteString(h.attrs)

	prefix := strings.Join(h.groups, ".")
	r.Attrs(func(a slog.Attr) bool {
		appendAttr(&b, prefix, a)
		return true
	})

	b.WriteByte('\n')

	h.mu.Lock()
	defer h.mu.Unlock()
	_, err := io.WriteString(h.w, b.String())
	return err
}

// WithAttrs returns a handler whose lines carry the given attributes.
func (h *Handler) WithAttrs(attrs []slog.Attr) slog.Handler {
	if len(attrs) == 0 {
		return h
	}

	h2 := *h
	var b strings.Builder
	b.WriteString(h.attrs)
	prefix := strings.Join(h.groups, ".")
	for _, a := range attrs {
		appendAttr(&b, prefix, a)
	}
	h2.attrs = b.String()
	return &h2
}

// WithGroup returns a handler that prefixes subsequent attribute keys
// with the group name.
func (h *Handler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}

	h2 := *h
	h2.groups = append(append([]string{}, h.groups...), name)
	return &h2
}

func appendAttr(b *strings.Builder, prefix string, a slog.Attr) {
	a.Value = a.Value.Resolve()
	if a.Equal(slog.Attr{}) {
		return
	}

	if a.Value.Kind() == slog.KindGroup {
		groupPrefix := a.Key
		if groupPrefix == "" {
			groupPrefix = prefix
		} else if prefix != "" {
			groupPrefix = prefix + "." + groupPrefix
		}
		for _, ga := range a.Value.Group() {
			appendAttr(b, groupPrefix, ga)
		}
		return
	}

	if a.Key == "" {
		return
	}

	key := a.Key
	if prefix != "" {
		key = prefix + "." + key
	}

	b.WriteByte(' ')
	b.WriteString(key)
	b.WriteByte('=')

	val := a.Value.String()
	if needsQuoting(val) {
		val = strconv.Quote(val)
	}
	b.WriteString(val)
}

func needsQuoting(s string) bool {
	return s == "" || strings.ContainsAny(s, " \t\n\"=")
}

// Open opens (or creates) the run-log file in append mode and returns a
// logger that writes each line to both the console and the file. The
// returned close function releases the file.
func Open(console io.Writer, path string, level slog.Leveler) (*slog.Logger, func() error, error) {
	file, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, nil, fmt.Errorf("opening run log %s: %w", path, err)
	}

	handler := NewHandler(io.MultiWriter(console, file), &Options{Level: level})
	return slog.New(handler), file.Close, nil
}
