package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"time"
)

// PrettyJSONHandler prints each record as an indented JSON object. Keys keep
// the order they were logged in, after time, level and msg, so a match log
// reads top to bottom. Geared toward watching a terminal, not throughput.
type PrettyJSONHandler struct {
	w         io.Writer
	mu        *sync.Mutex
	level     slog.Leveler
	addSource bool

	// pre holds attrs added with WithAttrs, already nested under groups.
	pre    []field
	groups []string
}

// field is one ordered key in the output. Exactly one of val or kids is used.
type field struct {
	key  string
	val  any
	kids []field
}

func NewPrettyJSONHandler(w io.Writer, opts *slog.HandlerOptions) slog.Handler {
	var level slog.Leveler = slog.LevelInfo
	addSource := false
	if opts != nil {
		if opts.Level != nil {
			level = opts.Level
		}
		addSource = opts.AddSource
	}
	return &PrettyJSONHandler{w: w, mu: &sync.Mutex{}, level: level, addSource: addSource}
}

func (h *PrettyJSONHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level.Level()
}

func (h *PrettyJSONHandler) Handle(_ context.Context, r slog.Record) error {
	when := r.Time
	if when.IsZero() {
		when = time.Now()
	}
	out := []field{
		{key: "time", val: when.Format(time.RFC3339Nano)},
		{key: "level", val: r.Level.String()},
		{key: "msg", val: r.Message},
	}
	if h.addSource {
		if src := sourceFromPC(r.PC); src != "" {
			out = append(out, field{key: "source", val: src})
		}
	}

	var own []field
	r.Attrs(func(a slog.Attr) bool {
		own = appendAttr(own, a)
		return true
	})
	out = append(out, h.pre...)
	out = merge(out, nest(h.groups, own))

	var buf bytes.Buffer
	writeObject(&buf, out, "")
	buf.WriteByte('\n')

	h.mu.Lock()
	defer h.mu.Unlock()
	_, err := h.w.Write(buf.Bytes())
	return err
}

func (h *PrettyJSONHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	var fs []field
	for _, a := range attrs {
		fs = appendAttr(fs, a)
	}
	clone := *h
	clone.pre = merge(append([]field(nil), h.pre...), nest(h.groups, fs))
	return &clone
}

func (h *PrettyJSONHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	clone := *h
	clone.groups = append(append([]string(nil), h.groups...), name)
	return &clone
}

// nest wraps fs in the open groups, innermost last.
func nest(groups []string, fs []field) []field {
	if len(fs) == 0 {
		return nil
	}
	for i := len(groups) - 1; i >= 0; i-- {
		fs = []field{{key: groups[i], kids: fs}}
	}
	return fs
}

// merge appends add to dst, folding groups that already exist.
func merge(dst, add []field) []field {
	for _, f := range add {
		merged := false
		if f.kids != nil {
			for i := range dst {
				if dst[i].key == f.key && dst[i].kids != nil {
					dst[i].kids = merge(append([]field(nil), dst[i].kids...), f.kids)
					merged = true
					break
				}
			}
		}
		if !merged {
			dst = append(dst, f)
		}
	}
	return dst
}

func appendAttr(fs []field, a slog.Attr) []field {
	v := a.Value.Resolve()
	if v.Kind() == slog.KindGroup {
		var kids []field
		for _, ga := range v.Group() {
			kids = appendAttr(kids, ga)
		}
		if len(kids) == 0 {
			return fs
		}
		// An unnamed group inlines its members.
		if a.Key == "" {
			return append(fs, kids...)
		}
		return append(fs, field{key: a.Key, kids: kids})
	}
	if a.Key == "" {
		return fs
	}
	return append(fs, field{key: a.Key, val: valueToAny(v)})
}

func valueToAny(v slog.Value) any {
	switch v.Kind() {
	case slog.KindString:
		return v.String()
	case slog.KindInt64:
		return v.Int64()
	case slog.KindUint64:
		return v.Uint64()
	case slog.KindFloat64:
		return v.Float64()
	case slog.KindBool:
		return v.Bool()
	case slog.KindDuration:
		return v.Duration().String()
	case slog.KindTime:
		return v.Time().Format(time.RFC3339Nano)
	case slog.KindAny:
		if err, ok := v.Any().(error); ok {
			return err.Error()
		}
		return v.Any()
	default:
		return v.String()
	}
}

func writeObject(buf *bytes.Buffer, fs []field, indent string) {
	inner := indent + "  "
	buf.WriteString("{\n")
	for i, f := range fs {
		buf.WriteString(inner)
		buf.WriteString(strconv.Quote(f.key))
		buf.WriteString(": ")
		if f.kids != nil {
			writeObject(buf, f.kids, inner)
		} else {
			b, err := json.MarshalIndent(f.val, inner, "  ")
			if err != nil {
				b = []byte(strconv.Quote(err.Error()))
			}
			buf.Write(b)
		}
		if i < len(fs)-1 {
			buf.WriteByte(',')
		}
		buf.WriteByte('\n')
	}
	buf.WriteString(indent)
	buf.WriteByte('}')
}

func sourceFromPC(pc uintptr) string {
	if pc == 0 {
		return ""
	}
	frames := runtime.CallersFrames([]uintptr{pc})
	f, _ := frames.Next()
	if f.File == "" {
		return ""
	}
	file := f.File
	if idx := strings.LastIndexByte(file, '/'); idx >= 0 {
		file = file[idx+1:]
	}
	return file + ":" + strconv.Itoa(f.Line)
}
