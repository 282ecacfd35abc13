// Package server wires mcwarden together from its configuration and serves the HTTP API.
package server

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/reedfamily/mcwarden/internal/api"
	"github.com/reedfamily/mcwarden/internal/auth"
	"github.com/reedfamily/mcwarden/internal/backup"
	"github.com/reedfamily/mcwarden/internal/config"
	"github.com/reedfamily/mcwarden/internal/console"
	"github.com/reedfamily/mcwarden/internal/db"
	"github.com/reedfamily/mcwarden/internal/docker"
	"github.com/reedfamily/mcwarden/internal/game"
	"github.com/reedfamily/mcwarden/internal/game/minecraft"
	"github.com/reedfamily/mcwarden/internal/instance"
	"github.com/reedfamily/mcwarden/internal/journal"
	"github.com/reedfamily/mcwarden/internal/metrics"
	"github.com/reedfamily/mcwarden/internal/netwatch"
	"github.com/reedfamily/mcwarden/internal/notify"
	"github.com/reedfamily/mcwarden/internal/publish"
	"github.com/reedfamily/mcwarden/internal/scheduler"
	"github.com/reedfamily/mcwarden/internal/stats"
	"github.com/reedfamily/mcwarden/internal/supervisor"
	"github.com/reedfamily/mcwarden/internal/worker"
)

const sessionPurgeInterval = time.Hour

type Server struct {
	cfg *config.Config
	log *zap.SugaredLogger

	db        *sql.DB
	metrics   *metrics.Metrics
	auth      *auth.Service
	catalog   *game.Catalog
	hub       *console.Hub
	inst      *instance.Instance
	journal   *journal.Journal
	collector *stats.Collector
	backups   *backup.Service
	scheduler *scheduler.Scheduler
	notifier  *notify.Notifier
	publisher *publish.Publisher
	watcher   *netwatch.Watcher
	docker    *docker.Client
	router    chi.Router

	background []*worker.Worker
}

// Catalog builds the Minecraft base catalog plus the configured macros and event types.
func Catalog(cfg *config.Config) (*game.Catalog, error) {
	catalog, err := game.Build(&minecraft.Adapter{})
	if err != nil {
		return nil, fmt.Errorf("base catalog: %w", err)
	}
	if err := cfg.ApplyEvents(catalog); err != nil {
		return nil, err
	}
	return catalog, nil
}

func SupervisorConfig(cfg *config.Config) supervisor.Config {
	return supervisor.Config{
		Executable:  cfg.Server.Executable,
		Runtime:     cfg.Server.Runtime,
		MinHeap:     cfg.Server.MinHeap,
		MaxHeap:     cfg.Server.MaxHeap,
		Options:     cfg.Server.Options,
		StopCommand: cfg.Server.StopCommand,
	}
}

// Options are the parts of a Server tests and the CLI may replace.
type Options struct {
	// Launcher overrides the launcher chosen by server.launcher.
	Launcher supervisor.Launcher
}

func New(ctx context.Context, cfg *config.Config, log *zap.SugaredLogger, opts Options) (_ *Server, err error) {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	s := &Server{cfg: cfg, log: log, metrics: metrics.New("mcwarden")}
	defer func() {
		if err != nil {
			s.close()
		}
	}()

	s.db, err = db.Open(db.Memory)
	if err != nil {
		return nil, err
	}
	s.auth = auth.NewService(s.db, cfg.HTTP.SessionTTL)
	if err := s.auth.EnsureAdmin(ctx, cfg.HTTP.AdminUser, cfg.HTTP.AdminPass); err != nil {
		return nil, fmt.Errorf("ensure admin user: %w", err)
	}

	s.catalog, err = Catalog(cfg)
	if err != nil {
		return nil, err
	}
	s.hub = console.NewHub(game.NewDecoder(s.catalog),
		console.WithLogger(log),
		console.WithRecorder(s.metrics))

	launcher := opts.Launcher
	var sampler stats.Sampler
	if launcher == nil {
		launcher, sampler, err = s.launcher()
		if err != nil {
			return nil, err
		}
	}

	sup, err := supervisor.New(SupervisorConfig(cfg),
		supervisor.WithLauncher(launcher), supervisor.WithLogger(log), supervisor.WithHooks(s.metrics))
	if err != nil {
		return nil, err
	}
	workerOpts := []worker.Option{worker.WithObserver(s.metrics)}
	s.inst = instance.New(sup, s.hub, instance.Config{
		ShowUI:       cfg.Server.ShowUI,
		StopTimeout:  cfg.Server.StopTimeout,
		BufferSize:   cfg.Server.BufferSize,
		AutoRestart:  cfg.Server.AutoRestart,
		RestartDelay: cfg.Server.RestartDelay,
	}, log, s.metrics, workerOpts...)

	s.journal = journal.New(s.db, cfg.Journal.MaxRows, sup.RunID, log)
	s.collector = stats.NewCollector(sampler, 0, s.metrics, log)
	s.hub.OnEvent(s.journal.HandleEvent)
	s.hub.OnEvent(s.collector.HandleEvent)
	s.inst.OnExit(func(*supervisor.Exit) { s.collector.Reset() })

	if cfg.Notify.DiscordWebhook != "" {
		s.notifier = notify.New(notify.NewClient(cfg.Notify.DiscordWebhook, nil), notify.Config{
			Templates:   cfg.Notify.Events,
			Rate:        cfg.Notify.Rate,
			Burst:       cfg.Notify.Burst,
			MaxAttempts: cfg.Notify.MaxAttempts,
			Username:    "mcwarden",
		}, notify.WithLogger(log), notify.WithRecorder(s.metrics), notify.WithWorkerOptions(workerOpts...))
		s.hub.OnEvent(s.notifier.HandleEvent)
		s.inst.OnExit(s.notifyExit)
	}

	if cfg.NATS.URL != "" {
		s.publisher, err = publish.Connect(publish.Config{
			URL:           cfg.NATS.URL,
			SubjectPrefix: cfg.NATS.SubjectPrefix,
			Server:        cfg.Docker.Name,
		}, log, s.metrics)
		if err != nil {
			return nil, err
		}
		s.hub.OnEvent(s.publisher.HandleEvent)
	}

	backupDir, err := cfg.EnsureBackupDir()
	if err != nil {
		return nil, fmt.Errorf("backup directory: %w", err)
	}
	s.backups = backup.NewService(backup.Config{
		WorldDir:   cfg.WorldDir(),
		Dir:        backupDir,
		Keep:       cfg.Backup.Keep,
		SavedEvent: minecraft.GameSaved,
	}, s.inst, log, s.metrics)

	jobs := make([]scheduler.Job, 0, len(cfg.Schedules))
	for _, sc := range cfg.Schedules {
		job, err := scheduler.NewJob(sc.Name, sc.Cron, sc.Action, sc.Command)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	s.scheduler, err = scheduler.New(jobs, actions{Instance: s.inst, backups: s.backups},
		scheduler.WithLogger(log),
		scheduler.WithRecorder(s.metrics),
		scheduler.WithWorkerOptions(workerOpts...))
	if err != nil {
		return nil, err
	}

	if cfg.IPWatch.Enabled {
		var resolver netwatch.Resolver = netwatch.DNSResolver{Server: cfg.IPWatch.DNSServer}
		if cfg.IPWatch.Resolver == "command" {
			resolver = netwatch.CommandResolver{Command: cfg.IPWatch.Command}
		}
		s.watcher = netwatch.NewWatcher(resolver, cfg.IPWatch.Interval, s.addressChanged, log)
	}

	s.router = s.routes()
	return s, nil
}

// launcher picks the launcher named by server.launcher. The docker launcher also samples
// container usage for the stats collector.
func (s *Server) launcher() (supervisor.Launcher, stats.Sampler, error) {
	if s.cfg.Server.Launcher != "docker" {
		return supervisor.ExecLauncher{}, nil, nil
	}
	ports, err := docker.ParsePortMappings(s.cfg.Docker.Ports)
	if err != nil {
		return nil, nil, err
	}
	s.docker, err = docker.NewClient()
	if err != nil {
		return nil, nil, err
	}
	l := docker.NewContainerLauncher(s.docker, docker.ContainerConfig{
		Image:       s.cfg.Docker.Image,
		Name:        s.cfg.Docker.Name,
		Ports:       ports,
		MemoryLimit: int64(s.cfg.Docker.Memory.Bytes()),
	}, s.log)
	return l, l, nil
}

func (s *Server) notifyExit(exit *supervisor.Exit) {
	if exit.Requested {
		return
	}
	msg := fmt.Sprintf("Server exited unexpectedly (code %d)", exit.Code)
	if s.cfg.Server.AutoRestart {
		msg += fmt.Sprintf(", restarting in %s", s.cfg.Server.RestartDelay)
	}
	s.notifier.Send(msg)
}

func (s *Server) addressChanged(old, current string) {
	s.metrics.PublicAddressChanged()
	if old == "" {
		s.log.Infow("public address", "address", current)
		return
	}
	s.log.Infow("public address changed", "old", old, "new", current)
	if s.notifier != nil {
		s.notifier.Send(fmt.Sprintf("Public address changed from %s to %s", old, current))
	}
	if s.cfg.IPWatch.Announce != "" && s.inst.Running() {
		if err := s.inst.Send(strings.ReplaceAll(s.cfg.IPWatch.Announce, "{0}", current)); err != nil {
			s.log.Warnw("announce address", "error", err)
		}
	}
}

func (s *Server) routes() chi.Router {
	authHandler := api.NewAuthHandler(s.auth, s.log)
	serverHandler := api.NewServerHandler(s.inst, s.cfg.Server.StopTimeout+30*time.Second, s.log)
	eventHandler := api.NewEventHandler(s.journal, s.catalog, s.log)
	consoleHandler := api.NewConsoleHandler(s.hub, s.inst, s.log)
	statsHandler := api.NewStatsHandler(s.collector, s.log)
	backupHandler := api.NewBackupHandler(s.backups, s.log)
	scheduleHandler := api.NewScheduleHandler(s.scheduler)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(s.log))
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   s.cfg.HTTP.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		_, _ = w.Write([]byte("ok\n"))
	})
	r.Handle("/metrics", s.metrics.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		// Public routes
		r.Post("/auth/login", authHandler.Login)

		// Protected routes
		r.Group(func(r chi.Router) {
			r.Use(api.AuthMiddleware(s.auth))

			r.Post("/auth/logout", authHandler.Logout)
			r.Get("/auth/me", authHandler.Me)

			r.Route("/server", func(r chi.Router) {
				r.Get("/", serverHandler.Status)
				r.Post("/start", serverHandler.Start)
				r.Post("/stop", serverHandler.Stop)
				r.Post("/restart", serverHandler.Restart)
				r.Post("/kill", serverHandler.Kill)
				r.Post("/command", serverHandler.Command)
				r.Get("/console", consoleHandler.Handle)

				r.Get("/stats", statsHandler.Latest)
				r.Get("/stats/live", statsHandler.Live)
			})

			r.Get("/events", eventHandler.List)
			r.Get("/event-types", eventHandler.Types)

			r.Get("/backups", backupHandler.List)
			r.Post("/backups", backupHandler.Create)
			r.Get("/backups/{backupId}/download", backupHandler.Download)
			r.Delete("/backups/{backupId}", backupHandler.Delete)
			r.Post("/backups/{backupId}/restore", backupHandler.Restore)

			r.Get("/schedules", scheduleHandler.List)
			r.Post("/schedules/{name}/run", scheduleHandler.Run)
		})
	})
	return r
}

// requestLogger is chi's request log written through zap.
func requestLogger(log *zap.SugaredLogger) func(http.Handler) http.Handler {
	log = log.Named("http")
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			defer func() {
				log.Debugw("request",
					"method", r.Method,
					"path", r.URL.Path,
					"status", ww.Status(),
					"bytes", ww.BytesWritten(),
					"took", time.Since(start),
					"request_id", middleware.GetReqID(r.Context()),
				)
			}()
			next.ServeHTTP(ww, r)
		})
	}
}

func (s *Server) Router() chi.Router              { return s.router }
func (s *Server) Instance() *instance.Instance    { return s.inst }
func (s *Server) Hub() *console.Hub               { return s.hub }
func (s *Server) Metrics() *metrics.Metrics       { return s.metrics }
func (s *Server) Scheduler() *scheduler.Scheduler { return s.scheduler }

// Run starts the background workers and serves HTTP until ctx is cancelled, then shuts
// everything down, the Minecraft server included.
func (s *Server) Run(ctx context.Context) error {
	s.StartBackground()

	httpServer := &http.Server{
		Addr:         s.cfg.HTTP.Listen,
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	serveErr := make(chan error, 1)
	go func() {
		s.log.Infow("mcwarden listening", "addr", s.cfg.HTTP.Listen)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	var err error
	select {
	case <-ctx.Done():
	case err = <-serveErr:
	}

	s.log.Infow("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.Server.StopTimeout+10*time.Second)
	defer cancel()
	if herr := httpServer.Shutdown(shutdownCtx); herr != nil {
		s.log.Warnw("http shutdown", "error", herr)
	}
	return errors.Join(err, s.Shutdown(shutdownCtx))
}

// StartBackground starts the periodic workers. Shutdown stops them.
func (s *Server) StartBackground() {
	opts := func(name string) []worker.Option {
		return []worker.Option{worker.WithName(name), worker.WithLogger(s.log), worker.WithObserver(s.metrics)}
	}
	s.background = append(s.background,
		worker.Started(s.scheduler.Task(), opts("scheduler")...),
		worker.Started(s.collector.Task(), opts("stats")...),
		worker.Started(s.purgeSessionsTask(), opts("session-purge")...),
	)
	if s.watcher != nil {
		s.background = append(s.background, worker.Started(s.watcher.Task(), opts("netwatch")...))
	}
}

func (s *Server) purgeSessionsTask() worker.Task {
	return func(ctx context.Context) error {
		ticker := time.NewTicker(sessionPurgeInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-ticker.C:
				n, err := s.auth.PurgeExpired(ctx)
				if err != nil {
					s.log.Warnw("purge sessions", "error", err)
				} else if n > 0 {
					s.log.Debugw("purged sessions", "count", n)
				}
			}
		}
	}
}

// Shutdown stops the Minecraft server and the background workers and releases every
// connection. It is safe to call on a Server whose Run never started.
func (s *Server) Shutdown(ctx context.Context) error {
	err := s.inst.Stop(ctx)
	for _, w := range s.background {
		_ = w.Interrupt()
	}
	for _, w := range s.background {
		_ = w.Wait(ctx)
	}
	s.background = nil
	s.close()
	return err
}

func (s *Server) close() {
	if s.publisher != nil {
		if err := s.publisher.Close(); err != nil {
			s.log.Warnw("close nats", "error", err)
		}
	}
	if s.docker != nil {
		s.docker.Close()
	}
	if s.db != nil {
		s.db.Close()
	}
}

// actions lets schedules drive the instance and take backups.
type actions struct {
	*instance.Instance
	backups *backup.Service
}

func (a actions) Backup(ctx context.Context) error {
	_, err := a.backups.Create(ctx)
	return err
}
