package logging

import (
	"context"
	"log/slog"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"time"
)

const timeLayout = "2006-01-02 15:04:05"

// lineHandler writes one logfmt-style line per record:
//
//	2026-03-14 09:00:01 INFO  capture gate-a/3f2c9a1b: code accepted participant_id=S-1
//
// Component, station and session attributes form the line prefix. Everything
// else follows the message as key=value pairs.
type lineHandler struct {
	out       *sink
	level     *slog.LevelVar
	preset    []field
	group     string
	addSource bool
}

type field struct {
	key   string
	value slog.Value
}

type line struct {
	when      time.Time
	level     slog.Level
	message   string
	component string
	station   string
	session   string
	source    string
	fields    []field
}

func newLineHandler(out *sink, lvl *slog.LevelVar, addSource bool) slog.Handler {
	return &lineHandler{out: out, level: lvl, addSource: addSource}
}

func (h *lineHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level.Level()
}

func (h *lineHandler) Handle(_ context.Context, r slog.Record) error {
	fields := make([]field, len(h.preset), len(h.preset)+r.NumAttrs())
	copy(fields, h.preset)
	r.Attrs(func(a slog.Attr) bool {
		fields = appendField(fields, h.group, a)
		return true
	})

	ln := line{when: r.Time, level: r.Level, message: strings.TrimSpace(r.Message)}
	if ln.when.IsZero() {
		ln.when = time.Now()
	}
	for _, f := range lastWins(fields) {
		switch f.key {
		case FieldComponent:
			ln.component = valueText(f.value)
		case FieldStationID:
			ln.station = valueText(f.value)
		case FieldSessionID:
			ln.session = valueText(f.value)
		default:
			ln.fields = append(ln.fields, f)
		}
	}
	if h.addSource && r.PC != 0 {
		if src := r.Source(); src != nil {
			ln.source = filepath.Base(src.File) + ":" + strconv.Itoa(src.Line)
		}
	}
	return h.out.writeLine(ln)
}

func (h *lineHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	if len(attrs) == 0 {
		return h
	}
	clone := *h
	clone.preset = slices.Clip(h.preset)
	for _, a := range attrs {
		clone.preset = appendField(clone.preset, h.group, a)
	}
	return &clone
}

func (h *lineHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	clone := *h
	clone.group = h.group + name + "."
	return &clone
}

func (ln line) appendTo(buf []byte, color bool) []byte {
	buf = ln.when.In(time.Local).AppendFormat(buf, timeLayout)
	buf = append(buf, ' ')
	buf = appendLevel(buf, ln.level, color)
	if ln.component != "" {
		buf = append(buf, ' ')
		buf = append(buf, ln.component...)
	}
	if subject := subjectOf(ln.station, ln.session); subject != "" {
		buf = append(buf, ' ')
		buf = append(buf, subject...)
	}
	buf = append(buf, ": "...)
	if ln.message == "" {
		buf = append(buf, "(no message)"...)
	} else {
		buf = append(buf, ln.message...)
	}
	for _, f := range ln.fields {
		buf = append(buf, ' ')
		buf = append(buf, f.key...)
		buf = append(buf, '=')
		buf = appendValue(buf, f.value)
	}
	if ln.source != "" {
		buf = append(buf, " src="...)
		buf = append(buf, ln.source...)
	}
	return append(buf, '\n')
}

var levelTags = [...]struct{ label, color string }{
	{"DEBUG", "\x1b[90m"},
	{"INFO ", "\x1b[32m"},
	{"WARN ", "\x1b[33m"},
	{"ERROR", "\x1b[31m"},
}

func appendLevel(buf []byte, level slog.Level, color bool) []byte {
	idx := 0
	switch {
	case level >= slog.LevelError:
		idx = 3
	case level >= slog.LevelWarn:
		idx = 2
	case level >= slog.LevelInfo:
		idx = 1
	}
	tag := levelTags[idx]
	if !color {
		return append(buf, tag.label...)
	}
	buf = append(buf, tag.color...)
	buf = append(buf, tag.label...)
	return append(buf, "\x1b[0m"...)
}

// subjectOf joins the station with a shortened session id.
func subjectOf(station, session string) string {
	station = strings.TrimSpace(station)
	session = strings.TrimSpace(session)
	if len(session) > 8 {
		session = session[:8]
	}
	switch {
	case station != "" && session != "":
		return station + "/" + session
	case station != "":
		return station
	default:
		return session
	}
}

func appendField(dst []field, prefix string, a slog.Attr) []field {
	if a.Equal(slog.Attr{}) {
		return dst
	}
	a.Value = a.Value.Resolve()
	if a.Value.Kind() == slog.KindGroup {
		if a.Key != "" {
			prefix += a.Key + "."
		}
		for _, member := range a.Value.Group() {
			dst = appendField(dst, prefix, member)
		}
		return dst
	}
	if a.Key == "" {
		return dst
	}
	return append(dst, field{key: prefix + a.Key, value: a.Value})
}

// lastWins keeps the first position of each key with its latest value.
func lastWins(fields []field) []field {
	if len(fields) < 2 {
		return fields
	}
	index := make(map[string]int, len(fields))
	out := make([]field, 0, len(fields))
	for _, f := range fields {
		if i, ok := index[f.key]; ok {
			out[i].value = f.value
			continue
		}
		index[f.key] = len(out)
		out = append(out, f)
	}
	return out
}

func valueText(v slog.Value) string {
	v = v.Resolve()
	switch v.Kind() {
	case slog.KindTime:
		return v.Time().In(time.Local).Format(timeLayout)
	case slog.KindAny:
		if err, ok := v.Any().(error); ok {
			return err.Error()
		}
	}
	return v.String()
}

func appendValue(buf []byte, v slog.Value) []byte {
	text := valueText(v)
	if text == "" || strings.IndexFunc(text, func(r rune) bool { return r <= ' ' || r == '"' || r == '=' }) >= 0 {
		return strconv.AppendQuote(buf, text)
	}
	return append(buf, text...)
}
