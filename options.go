package allureboard

import (
	"log/slog"

	"github.com/spf13/afero"
)

// WithHook registers a hook in addition to the ones enabled by the
// configuration.
func WithHook(h Hook) Option {
	return func(s *Server) {
		s.extraHooks = append(s.extraHooks, h)
	}
}

// WithFs replaces the filesystem results and attachments are read from.
// The results directory watcher always uses the os filesystem, disable it
// when passing anything else.
func WithFs(fs afero.Fs) Option {
	return func(s *Server) {
		s.fs = fs
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(s *Server) {
		s.log = l
	}
}
