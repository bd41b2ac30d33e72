package kconsole

import (
	"context"
	"errors"
	"sync"

	"golang.org/x/sync/errgroup"

	"pkt.systems/kconsole/core"
	"pkt.systems/kconsole/httpapi"
	"pkt.systems/kconsole/internal/backend"
	"pkt.systems/kconsole/internal/pushclient"
	"pkt.systems/kconsole/schema"
	"pkt.systems/pslog"
)

// Server composes the console loop with its HTTP, push and polling services.
type Server interface {
	Start(ctx context.Context) error
	Wait() error
	Stop(ctx context.Context) error
}

// ServerConfig configures the compositor.
type ServerConfig struct {
	Service schema.ServiceConfig
	HTTP    httpapi.Config
	Backend backend.Config
	Push    pushclient.Config
}

// ServerDeps captures dependencies required to build the server.
type ServerDeps struct {
	ServiceDeps core.ServiceDeps
}

// ServerOption toggles compositor components.
type ServerOption func(*serverOptions)

type serverOptions struct {
	enableHTTP bool
	enablePush bool
	enablePoll bool
}

// WithHTTP enables the HTTP API server.
func WithHTTP() ServerOption {
	return func(o *serverOptions) { o.enableHTTP = true }
}

// WithPush enables the websocket log push client.
func WithPush() ServerOption {
	return func(o *serverOptions) { o.enablePush = true }
}

// WithPolling enables periodic task registry refresh.
func WithPolling() ServerOption {
	return func(o *serverOptions) { o.enablePoll = true }
}

// New constructs a composable console server. The console loop always runs;
// options select the services around it.
func New(cfg ServerConfig, deps ServerDeps, opts ...ServerOption) (Server, error) {
	options := serverOptions{}
	for _, opt := range opts {
		opt(&options)
	}
	if !options.enableHTTP && !options.enablePush && !options.enablePoll {
		return nil, errors.New("no services enabled")
	}
	normalized, err := schema.NormalizeServiceConfig(cfg.Service)
	if err != nil {
		return nil, err
	}
	cfg.Service = normalized

	serviceDeps := deps.ServiceDeps
	logger := serviceDeps.Logger
	if logger == nil {
		logger = pslog.Ctx(context.Background())
	}

	var hub *httpapi.Hub
	if options.enableHTTP {
		hub = httpapi.NewHub(cfg.HTTP.HubHistory)
	}
	serviceDeps.EventSink = fanout(serviceDeps.EventSink, hub)

	if serviceDeps.Backend == nil && (options.enablePoll || options.enableHTTP) {
		client, err := backend.NewHTTPClient(cfg.Backend, logger)
		if err != nil {
			return nil, err
		}
		serviceDeps.Backend = client
	}

	service, err := core.NewService(cfg.Service, serviceDeps)
	if err != nil {
		return nil, err
	}

	srv := &compositeServer{
		cfg:     cfg,
		options: options,
		service: service,
	}
	if options.enableHTTP {
		srv.httpSrv = httpapi.NewServer(cfg.HTTP, service, hub)
	}
	if options.enablePush {
		push, err := pushclient.New(cfg.Push, service.IngestPush, service.SetPushStatus, logger)
		if err != nil {
			_ = service.Close()
			return nil, err
		}
		srv.push = push
	}
	return srv, nil
}

func fanout(base core.EventSink, hub *httpapi.Hub) core.EventSink {
	sinks := make([]core.EventSink, 0, 2)
	if base != nil {
		sinks = append(sinks, base)
	}
	if hub != nil {
		sinks = append(sinks, hub)
	}
	switch len(sinks) {
	case 0:
		return nil
	case 1:
		return sinks[0]
	default:
		return eventFanout{sinks: sinks}
	}
}

type compositeServer struct {
	cfg     ServerConfig
	options serverOptions
	service core.Service
	httpSrv *httpapi.Server
	push    *pushclient.Client
	logger  pslog.Logger

	mu      sync.Mutex
	ctx     context.Context
	cancel  context.CancelFunc
	group   *errgroup.Group
	done    chan struct{}
	err     error
	started bool
}

func (s *compositeServer) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		pslog.Ctx(ctx).Warn("server start rejected", "reason", "already started")
		return errors.New("server already started")
	}
	s.ctx, s.cancel = context.WithCancel(ctx)
	group, groupCtx := errgroup.WithContext(s.ctx)
	s.group = group
	s.done = make(chan struct{})
	s.started = true
	s.logger = pslog.Ctx(s.ctx)
	s.mu.Unlock()

	log := s.logger
	log.Info(
		"server start",
		"http", s.options.enableHTTP,
		"push", s.options.enablePush,
		"poll", s.options.enablePoll,
		"http_addr", s.cfg.HTTP.Addr,
		"http_base_path", s.cfg.HTTP.BasePath,
		"backend", s.cfg.Backend.BaseURL,
		"push_url", s.cfg.Push.URL,
	)
	group.Go(func() error {
		return s.service.Run(groupCtx)
	})
	if s.options.enablePoll {
		group.Go(func() error {
			return ignoreCanceled(s.service.Poll(groupCtx))
		})
	}
	if s.push != nil {
		group.Go(func() error {
			if err := s.push.Run(groupCtx); err != nil {
				log.Error("push client failed", "err", err)
				return err
			}
			return nil
		})
	}
	if s.httpSrv != nil {
		group.Go(func() error {
			if err := httpapi.ListenAndServe(groupCtx, s.cfg.HTTP.Addr, s.httpSrv.Handler()); err != nil {
				log.Error("http server failed", "err", err)
				return err
			}
			return nil
		})
	}
	go func() {
		err := group.Wait()
		if closeErr := s.service.Close(); closeErr != nil {
			log.Warn("server state close failed", "err", closeErr)
		}
		s.mu.Lock()
		s.err = ignoreCanceled(err)
		s.mu.Unlock()
		close(s.done)
	}()
	return nil
}

func (s *compositeServer) Wait() error {
	s.mu.Lock()
	done := s.done
	started := s.started
	s.mu.Unlock()
	if !started {
		return errors.New("server not started")
	}
	<-done
	s.mu.Lock()
	err := s.err
	s.mu.Unlock()
	if err != nil {
		s.logger.Error("server stopped", "err", err)
	}
	return err
}

func (s *compositeServer) Stop(ctx context.Context) error {
	s.mu.Lock()
	cancel := s.cancel
	started := s.started
	done := s.done
	log := s.logger
	s.mu.Unlock()
	if !started {
		return nil
	}
	if log == nil {
		log = pslog.Ctx(context.Background())
	}
	log.Info("server stop requested")
	if cancel != nil {
		cancel()
	}
	if ctx == nil {
		log.Info("server stop completed")
		return nil
	}
	select {
	case <-ctx.Done():
		log.Warn("server stop timed out", "err", ctx.Err())
		return ctx.Err()
	case <-done:
		log.Info("server stopped")
		return nil
	}
}

func ignoreCanceled(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
