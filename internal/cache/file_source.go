package cache

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/raphi011/allureboard/internal/aggregate"
	"github.com/raphi011/allureboard/internal/model"
	"github.com/raphi011/allureboard/internal/report"
	"github.com/spf13/afero"
	"golang.org/x/sync/errgroup"
)

const (
	DefaultReadTimeout      = 10 * time.Second
	DefaultAttachmentPrefix = "data/test-results/"
)

// FileSource reads every *.json report below a results directory. Each file
// becomes one run group.
type FileSource struct {
	fs  afero.Fs
	dir string

	attachmentPrefix string
	readTimeout      time.Duration
	parallelism      int

	log *slog.Logger
}

type FileSourceOption func(*FileSource)

func WithAttachmentPrefix(prefix string) FileSourceOption {
	return func(s *FileSource) {
		s.attachmentPrefix = prefix
	}
}

// WithReadTimeout bounds reading a single file. A file that times out is
// counted as a failure, the other files are still loaded.
func WithReadTimeout(d time.Duration) FileSourceOption {
	return func(s *FileSource) {
		s.readTimeout = d
	}
}

func WithParallelism(n int) FileSourceOption {
	return func(s *FileSource) {
		if n > 0 {
			s.parallelism = n
		}
	}
}

func WithFileSourceLogger(l *slog.Logger) FileSourceOption {
	return func(s *FileSource) {
		s.log = l
	}
}

func NewFileSource(fsys afero.Fs, dir string, opts ...FileSourceOption) *FileSource {
	s := &FileSource{
		fs:               fsys,
		dir:              dir,
		attachmentPrefix: DefaultAttachmentPrefix,
		readTimeout:      DefaultReadTimeout,
		parallelism:      runtime.GOMAXPROCS(0),
		log:              slog.Default(),
	}

	for _, o := range opts {
		o(s)
	}

	return s
}

func (s *FileSource) Mode() model.SourceMode {
	return model.SourceModeFile
}

// Dir returns the results directory.
func (s *FileSource) Dir() string {
	return s.dir
}

func (s *FileSource) Load(ctx context.Context) (Batch, error) {
	files, failures, err := s.listFiles(ctx)
	if err != nil {
		return Batch{}, err
	}

	parsed := make([][]*model.Result, len(files))
	failed := make([]bool, len(files))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.parallelism)

	for i, file := range files {
		i, file := i, file

		g.Go(func() error {
			results, err := s.parseFile(gctx, file)
			if err != nil {
				s.log.Warn("Skipping result file", "source", file, "error", err)
				failed[i] = true
				return nil
			}

			parsed[i] = results
			return nil
		})
	}

	// errors are recorded per file
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return Batch{}, fmt.Errorf("loading result files: %w", err)
	}

	batch := Batch{
		Results:  []*model.Result{},
		Group:    aggregate.GroupByFile,
		Failures: failures,
	}

	for i := range files {
		if failed[i] {
			batch.Failures++
			continue
		}

		batch.Results = append(batch.Results, parsed[i]...)
	}

	return batch, nil
}

// listFiles returns the json files below the results directory in lexical
// order. Entries that cannot be read are counted and skipped.
func (s *FileSource) listFiles(ctx context.Context) ([]string, int, error) {
	if _, err := s.fs.Stat(s.dir); err != nil {
		if errors.Is(err, fs.ErrNotExist) || os.IsNotExist(err) {
			return nil, 0, model.SourceUnavailableError{Source: s.dir, Err: err}
		}

		return nil, 0, fmt.Errorf("accessing results directory %s: %w", s.dir, err)
	}

	files := []string{}
	failures := 0

	err := afero.Walk(s.fs, s.dir, func(path string, info fs.FileInfo, err error) error {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}

		if err != nil {
			s.log.Warn("Skipping unreadable path", "source", path, "error", err)
			failures++
			return nil
		}

		if info.IsDir() || !strings.EqualFold(filepath.Ext(path), ".json") {
			return nil
		}

		files = append(files, path)

		return nil
	})
	if err != nil {
		return nil, 0, fmt.Errorf("listing results directory %s: %w", s.dir, err)
	}

	return files, failures, nil
}

func (s *FileSource) parseFile(ctx context.Context, path string) ([]*model.Result, error) {
	data, err := s.readFile(ctx, path)
	if err != nil {
		return nil, model.ParseError{Source: path, Err: err}
	}

	return report.Parse(data, report.Options{
		Source:           path,
		AttachmentPrefix: s.attachmentPrefix,
	})
}

type readResult struct {
	data []byte
	err  error
}

func (s *FileSource) readFile(ctx context.Context, path string) ([]byte, error) {
	if s.readTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.readTimeout)
		defer cancel()
	}

	done := make(chan readResult, 1)

	go func() {
		data, err := afero.ReadFile(s.fs, path)
		done <- readResult{data: data, err: err}
	}()

	select {
	case r := <-done:
		return r.data, r.err
	case <-ctx.Done():
		return nil, fmt.Errorf("reading file: %w", ctx.Err())
	}
}
