package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"
)

// consoleSink is shared by every handler derived from one logger so that
// concurrent records never interleave.
type consoleSink struct {
	mu        sync.Mutex
	w         io.Writer
	level     *slog.LevelVar
	addSource bool
}

// consoleHandler writes a header line per record followed by indented
// fields. Info lines show a curated field set; debug lines show everything.
type consoleHandler struct {
	sink   *consoleSink
	bound  []kv
	prefix string
}

func newConsoleHandler(w io.Writer, lvl *slog.LevelVar, addSource bool) slog.Handler {
	return &consoleHandler{sink: &consoleSink{w: w, level: lvl, addSource: addSource}}
}

func (h *consoleHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.sink.level.Level()
}

func (h *consoleHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	if len(attrs) == 0 {
		return h
	}
	bound := slices.Clip(h.bound)
	for _, a := range attrs {
		bound = appendFlat(bound, h.prefix, a)
	}
	return &consoleHandler{sink: h.sink, bound: bound, prefix: h.prefix}
}

func (h *consoleHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	return &consoleHandler{sink: h.sink, bound: h.bound, prefix: h.prefix + name + "."}
}

func (h *consoleHandler) Handle(_ context.Context, rec slog.Record) error {
	if !h.Enabled(context.Background(), rec.Level) {
		return nil
	}
	fields := slices.Clone(h.bound)
	rec.Attrs(func(a slog.Attr) bool {
		fields = appendFlat(fields, h.prefix, a)
		return true
	})
	fields = lastWins(fields)

	var hdr recordHeader
	hdr.level = rec.Level
	hdr.at = rec.Time
	if hdr.at.IsZero() {
		hdr.at = time.Now()
	}
	hdr.msg = strings.TrimSpace(rec.Message)
	if hdr.msg == "" {
		hdr.msg = "(no message)"
	}
	if h.sink.addSource {
		hdr.src = rec.Source()
	}
	shown := fields[:0:0]
	for _, f := range fields {
		switch f.key {
		case FieldComponent:
			hdr.component = plainValue(f.value)
			continue
		case FieldCohort:
			hdr.cohort = plainValue(f.value)
		case FieldSubject:
			hdr.subject = plainValue(f.value)
		case FieldStage:
			hdr.stage = plainValue(f.value)
		}
		shown = append(shown, f)
	}

	var b strings.Builder
	hdr.render(&b)
	if rec.Level < slog.LevelInfo {
		renderAllFields(&b, fields)
	} else {
		renderCuratedFields(&b, shown)
	}

	h.sink.mu.Lock()
	defer h.sink.mu.Unlock()
	_, err := io.WriteString(h.sink.w, b.String())
	return err
}

type recordHeader struct {
	at                                time.Time
	level                             slog.Level
	component, cohort, subject, stage string
	msg                               string
	src                               *slog.Source
}

func (hdr recordHeader) render(b *strings.Builder) {
	fmt.Fprintf(b, "%s %s", formatTimestamp(hdr.at), levelName(hdr.level))
	if hdr.component != "" {
		fmt.Fprintf(b, " [%s]", hdr.component)
	}
	if who := composeSubject(hdr.cohort, hdr.subject, hdr.stage); who != "" {
		b.WriteString(" " + who)
	}
	b.WriteString(" – " + hdr.msg)
	if hdr.src != nil && hdr.src.File != "" {
		fmt.Fprintf(b, " [%s:%d]", filepath.Base(hdr.src.File), hdr.src.Line)
	}
	b.WriteByte('\n')
}

func renderCuratedFields(b *strings.Builder, fields []kv) {
	picked, hidden := selectInfoFields(fields, infoAttrLimit)
	for _, f := range picked {
		fmt.Fprintf(b, "    - %s: %s\n", f.label, f.value)
	}
	switch {
	case hidden == 1:
		b.WriteString("    + 1 more field hidden\n")
	case hidden > 1:
		fmt.Fprintf(b, "    + %d more fields hidden\n", hidden)
	}
}

func renderAllFields(b *strings.Builder, fields []kv) {
	for _, f := range fields {
		fmt.Fprintf(b, "    %s: %s\n", f.key, quotedValue(f.value))
	}
}

// composeSubject builds the "Scan2 · sub-10231 (mriqc)" prefix shown after the level.
func composeSubject(cohort, subject, stage string) string {
	cohort = strings.TrimSpace(cohort)
	subject = strings.TrimSpace(subject)
	stage = strings.TrimSpace(stage)
	if subject != "" && !strings.HasPrefix(subject, "sub-") {
		subject = "sub-" + subject
	}
	who := subject
	if stage != "" {
		if who == "" {
			who = stage
		} else {
			who += " (" + stage + ")"
		}
	}
	if cohort == "" {
		return who
	}
	if who == "" {
		return capitalizeASCII(cohort)
	}
	return capitalizeASCII(cohort) + " · " + who
}

type kv struct {
	key   string
	value slog.Value
}

// appendFlat resolves a and appends it to dst, expanding groups into dotted
// keys under prefix.
func appendFlat(dst []kv, prefix string, a slog.Attr) []kv {
	if a.Equal(slog.Attr{}) {
		return dst
	}
	v := a.Value.Resolve()
	if v.Kind() != slog.KindGroup {
		if a.Key == "" {
			return dst
		}
		return append(dst, kv{key: prefix + a.Key, value: v})
	}
	inner := prefix
	if a.Key != "" {
		inner += a.Key + "."
	}
	for _, member := range v.Group() {
		dst = appendFlat(dst, inner, member)
	}
	return dst
}

// lastWins keeps the first position of each key with its most recent value.
func lastWins(fields []kv) []kv {
	if len(fields) < 2 {
		return fields
	}
	index := make(map[string]int, len(fields))
	out := fields[:0:0]
	for _, f := range fields {
		if i, seen := index[f.key]; seen {
			out[i].value = f.value
			continue
		}
		index[f.key] = len(out)
		out = append(out, f)
	}
	return out
}

func levelName(level slog.Level) string {
	switch {
	case level >= slog.LevelError:
		return "ERROR"
	case level >= slog.LevelWarn:
		return "WARN"
	case level >= slog.LevelInfo:
		return "INFO"
	}
	return "DEBUG"
}
