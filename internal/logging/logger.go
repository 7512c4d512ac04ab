package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/mattn/go-isatty"

	"qrattend/internal/config"
)

// Options describes logger construction parameters.
type Options struct {
	Level       string
	Format      string
	OutputPaths []string
	Development bool
}

// New constructs a slog logger using the provided options. Console output
// to an interactive stdout gets coloured level tags unless NO_COLOR is set.
func New(opts Options) (*slog.Logger, error) {
	levelVar := new(slog.LevelVar)
	levelVar.Set(parseLevel(opts.Level))
	addSource := opts.Development || levelVar.Level() <= slog.LevelDebug

	paths := opts.OutputPaths
	if len(paths) == 0 {
		paths = []string{"stdout"}
	}
	out, err := openSink(paths)
	if err != nil {
		return nil, err
	}

	switch format := strings.ToLower(strings.TrimSpace(opts.Format)); format {
	case "", "console":
		return slog.New(newLineHandler(out, levelVar, addSource)), nil
	case "json":
		return slog.New(newJSONHandler(out, levelVar, addSource)), nil
	default:
		return nil, fmt.Errorf("log format: unsupported value %q", opts.Format)
	}
}

// NewFromConfig creates a logger writing to stdout and, when paths.log_dir is
// set, to qrattend.log inside it.
func NewFromConfig(cfg *config.Config) (*slog.Logger, error) {
	if cfg == nil {
		return New(Options{Level: "info"})
	}
	outputs := []string{"stdout"}
	if cfg.Paths.LogDir != "" {
		outputs = append(outputs, filepath.Join(cfg.Paths.LogDir, "qrattend.log"))
	}
	return New(Options{
		Level:       cfg.Logging.Level,
		Format:      cfg.Logging.Format,
		OutputPaths: outputs,
	})
}

func parseLevel(level string) slog.Level {
	var parsed slog.Level
	switch value := strings.ToLower(strings.TrimSpace(level)); value {
	case "warning":
		return slog.LevelWarn
	case "":
		return slog.LevelInfo
	default:
		if err := parsed.UnmarshalText([]byte(value)); err != nil {
			return slog.LevelInfo
		}
		return parsed
	}
}

// sink fans log output out to files and terminals. Terminal writers receive
// the coloured rendering of console lines.
type sink struct {
	mu    sync.Mutex
	plain []io.Writer
	term  []io.Writer
}

func openSink(paths []string) (*sink, error) {
	out := &sink{}
	seen := make(map[string]bool, len(paths))
	for _, raw := range paths {
		path := strings.TrimSpace(raw)
		if path == "" || seen[path] {
			continue
		}
		seen[path] = true
		switch path {
		case "stdout":
			out.add(os.Stdout)
		case "stderr":
			out.add(os.Stderr)
		default:
			if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
				return nil, fmt.Errorf("create log dir for %s: %w", path, err)
			}
			file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o664)
			if err != nil {
				return nil, fmt.Errorf("open log file %s: %w", path, err)
			}
			out.plain = append(out.plain, file)
		}
	}
	if len(out.plain) == 0 && len(out.term) == 0 {
		out.add(os.Stdout)
	}
	return out, nil
}

func (s *sink) add(f *os.File) {
	if os.Getenv("NO_COLOR") == "" && isatty.IsTerminal(f.Fd()) {
		s.term = append(s.term, f)
		return
	}
	s.plain = append(s.plain, f)
}

// Write sends p unchanged to every output.
func (s *sink) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(p), s.fanOut(p, s.plain, s.term)
}

func (s *sink) writeLine(ln line) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var err error
	if len(s.plain) > 0 {
		err = s.fanOut(ln.appendTo(nil, false), s.plain)
	}
	if len(s.term) > 0 {
		if termErr := s.fanOut(ln.appendTo(nil, true), s.term); err == nil {
			err = termErr
		}
	}
	return err
}

func (s *sink) fanOut(p []byte, groups ...[]io.Writer) error {
	var first error
	for _, writers := range groups {
		for _, w := range writers {
			if _, err := w.Write(p); err != nil && first == nil {
				first = err
			}
		}
	}
	return first
}
