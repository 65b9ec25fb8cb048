package allureboard

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/raphi011/allureboard/internal/attachment"
	"github.com/raphi011/allureboard/internal/cache"
	"github.com/raphi011/allureboard/internal/config"
	"github.com/raphi011/allureboard/internal/dashboard"
	"github.com/raphi011/allureboard/internal/hook"
	"github.com/raphi011/allureboard/internal/ingest"
	"github.com/raphi011/allureboard/internal/model"
	"github.com/raphi011/allureboard/internal/storage"
	"github.com/raphi011/allureboard/internal/watch"
	"github.com/robfig/cron/v3"
	"github.com/spf13/afero"
)

const shutdownTimeout = 10 * time.Second

// Server serves the test result dashboard. It owns the result cache, the
// optional sqlite store and every refresh trigger.
type Server struct {
	config config.Config
	fs     afero.Fs

	storage     *storage.Storage
	cache       *cache.Cache
	dashboard   *dashboard.Service
	attachments *attachment.Store
	ingest      *ingest.Job

	hooks      *hookManager
	extraHooks []Hook
	schedules  []scheduledRun
	cron       *cron.Cron

	httpServer *http.Server
	port       int
	ready      chan struct{}
	readyOnce  sync.Once
	cancel     context.CancelFunc
	shutdown   sync.Once

	log *slog.Logger
}

type Option func(s *Server)

// New configures a new Server. Nothing is started before Run is called.
func New(cfg config.Config, opts ...Option) *Server {
	s := &Server{
		config:    cfg,
		fs:        afero.NewOsFs(),
		schedules: []scheduledRun{},
		ready:     make(chan struct{}),
		log:       slog.Default(),
	}

	for _, o := range opts {
		o(s)
	}

	s.hooks = newHookManager(s.extraHooks, s.log)

	return s
}

// Run starts the server and blocks until ctx is cancelled or the http
// server stops. The server is shut down before Run returns.
func (s *Server) Run(ctx context.Context) error {
	ctx, s.cancel = context.WithCancel(ctx)
	defer s.Shutdown()

	if err := s.init(); err != nil {
		return err
	}

	if err := s.cache.Refresh(ctx); err != nil {
		s.log.Warn("Initial refresh failed", "error", err)
	}

	if err := s.startSchedules(ctx); err != nil {
		return err
	}

	if s.config.Watch.Enabled && s.config.Source.Mode == model.SourceModeFile {
		w := watch.New(s.config.EffectiveResultsDir(), s.cache.Refresh,
			watch.WithSettleDelay(s.config.Watch.SettleDelay),
			watch.WithLogger(s.log.With("component", "watch")))

		go func() {
			if err := w.Run(ctx); err != nil {
				s.log.Error("Watching results directory failed", "error", err)
			}
		}()
	}

	l, err := s.listen()
	if err != nil {
		return err
	}

	s.httpServer = &http.Server{Handler: s.router()}
	s.markReady()

	s.log.Info("Listening", "port", s.port, "mode", s.config.Source.Mode)

	errs := make(chan error, 1)

	go func() {
		if err := s.httpServer.Serve(l); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errs <- err
		}
	}()

	select {
	case <-ctx.Done():
		return nil
	case err := <-errs:
		return err
	}
}

func (s *Server) init() error {
	if s.config.Source.Mode == model.SourceModeDatabase || s.config.Ingest.Enabled {
		st, err := storage.New(s.config.Database.Path, s.log.With("component", "storage"))
		if err != nil {
			return err
		}

		s.storage = st
	}

	if err := s.initHooks(); err != nil {
		return err
	}

	if err := s.hooks.init(); err != nil {
		return err
	}

	var src cache.Source

	switch s.config.Source.Mode {
	case model.SourceModeDatabase:
		src = cache.NewDBSource(s.storage, s.log.With("component", "db-source"))
	default:
		src = cache.NewFileSource(s.fs, s.config.EffectiveResultsDir(),
			cache.WithAttachmentPrefix(s.config.AttachmentPrefix),
			cache.WithReadTimeout(s.config.Refresh.ReadTimeout),
			cache.WithParallelism(s.config.Refresh.Parallelism),
			cache.WithFileSourceLogger(s.log.With("component", "file-source")))
	}

	s.cache = cache.New(src,
		cache.WithLogger(s.log.With("component", "cache")),
		cache.WithRefreshTimeout(s.config.Refresh.Timeout),
		cache.WithRefreshListener(s.hooks.notifyRefreshFinished))

	s.dashboard = dashboard.New(s.cache, s.log.With("component", "dashboard"))
	s.attachments = attachment.NewStore(s.fs, s.config.ReportsPath)

	if s.storage != nil {
		s.ingest = ingest.New(s.fs, s.config.EffectiveIngestDir(), s.storage,
			ingest.WithLogger(s.log.With("component", "ingest")))
	}

	return nil
}

// initHooks adds the hooks enabled by the configuration to the ones
// passed with WithHook.
func (s *Server) initHooks() error {
	slackConfig := s.config.Hooks.Slack
	if slackConfig.Enabled() {
		s.hooks.all = append(s.hooks.all, hook.NewSlackHook(
			slackConfig.Channel, slackConfig.Token, slackConfig.DashboardURL,
			s.log.With("hook", "slack")))
	}

	elasticConfig := s.config.Hooks.Elastic
	if elasticConfig.Enabled() {
		h, err := hook.NewElasticSearchHook(elasticsearch.Config{
			Addresses: elasticConfig.Addresses,
			Username:  elasticConfig.Username,
			Password:  elasticConfig.Password,
		}, elasticConfig.Index, s.log.With("hook", "elastic-search"))
		if err != nil {
			return err
		}

		s.hooks.all = append(s.hooks.all, h)
	}

	return nil
}

func (s *Server) startSchedules(ctx context.Context) error {
	s.cron = cron.New(cron.WithSeconds())

	if s.config.Refresh.Schedule != "" {
		s.schedules = append(s.schedules, scheduledRun{
			Name:     "refresh",
			Schedule: s.config.Refresh.Schedule,
			run:      s.cache.Refresh,
		})
	}

	if s.config.Ingest.Enabled {
		s.schedules = append(s.schedules, scheduledRun{
			Name:     "ingest",
			Schedule: s.config.Ingest.Schedule,
			run: func(ctx context.Context) error {
				_, err := s.runIngest(ctx)
				return err
			},
		})
	}

	for i := range s.schedules {
		schedule := s.schedules[i]

		entryID, err := s.cron.AddFunc(schedule.Schedule, func() {
			s.log.Info("Starting scheduled run", "name", schedule.Name)

			if err := schedule.run(ctx); err != nil {
				s.log.Warn("Scheduled run failed", "name", schedule.Name, "error", err)
			}
		})
		if err != nil {
			return fmt.Errorf("adding scheduled run %q: %w", schedule.Name, err)
		}

		s.schedules[i].EntryID = entryID
	}

	s.cron.Start()

	return nil
}

// runIngest persists new result files and, in database mode, refreshes the
// cache afterwards.
func (s *Server) runIngest(ctx context.Context) (ingest.Summary, error) {
	if s.ingest == nil {
		return ingest.Summary{}, model.NotFoundError{}
	}

	summary, err := s.ingest.Run(ctx)
	if err != nil {
		return summary, err
	}

	if summary.Persisted > 0 && s.config.Source.Mode == model.SourceModeDatabase {
		return summary, s.cache.Refresh(ctx)
	}

	return summary, nil
}

func (s *Server) markReady() {
	s.readyOnce.Do(func() { close(s.ready) })
}

// WaitForStartup blocks until the http server accepts connections or the
// server was shut down before it could start.
func (s *Server) WaitForStartup() {
	<-s.ready
}

// ServerPort returns the port the http server listens on. Only valid after
// WaitForStartup returned.
func (s *Server) ServerPort() int {
	return s.port
}

// Shutdown stops the schedules and the http server and waits for running
// async hooks to finish. It is safe to call more than once.
func (s *Server) Shutdown() {
	s.shutdown.Do(func() {
		if s.cancel != nil {
			s.cancel()
		}

		s.markReady()

		if s.cron != nil {
			<-s.cron.Stop().Done()
		}

		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		if s.httpServer != nil {
			if err := s.httpServer.Shutdown(ctx); err != nil {
				s.log.Warn("Shutting down http server failed", "error", err)
			}
		}

		select {
		case <-s.hooks.shutdown().Done():
		case <-ctx.Done():
			s.log.Warn("Timed out waiting for hooks to finish")
			s.hooks.abort()
		}

		if s.storage != nil {
			if err := s.storage.Close(); err != nil {
				s.log.Warn("Closing storage failed", "error", err)
			}
		}
	})
}

func (s *Server) listen() (net.Listener, error) {
	addr := net.JoinHostPort(s.config.Host, strconv.Itoa(s.config.Port))

	l, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listening on %s: %w", addr, err)
	}

	s.port = l.Addr().(*net.TCPAddr).Port

	return l, nil
}
