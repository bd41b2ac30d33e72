package main

import (
	"context"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"pkt.systems/kconsole"
	"pkt.systems/kconsole/core"
	"pkt.systems/kconsole/httpapi"
	"pkt.systems/kconsole/internal/appconfig"
	"pkt.systems/kconsole/internal/backend"
	"pkt.systems/kconsole/internal/pushclient"
	"pkt.systems/kconsole/schema"
	"pkt.systems/pslog"
)

type serveFlags struct {
	cfgPath   string
	httpAddr  string
	ephemeral bool
	noPush    bool
}

func newServeCmd() *cobra.Command {
	var flags serveFlags
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the console: task polling, log push and the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := pslog.Ctx(cmd.Context())
			cfg, err := appconfig.Load(flags.cfgPath)
			if err != nil {
				return err
			}
			serverCfg := toServerConfig(cfg, flags)
			opts := []kconsole.ServerOption{kconsole.WithHTTP(), kconsole.WithPolling()}
			if !flags.noPush {
				opts = append(opts, kconsole.WithPush())
			}
			server, err := kconsole.New(serverCfg, kconsole.ServerDeps{
				ServiceDeps: core.ServiceDeps{Logger: logger},
			}, opts...)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			go func() {
				<-ctx.Done()
				stopCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()
				if err := server.Stop(stopCtx); err != nil {
					logger.Warn("server stop failed", "err", err)
				}
			}()
			logger.Info("console state", "backend", serverCfg.Service.StateBackend, "dir", serverCfg.Service.StateDir)
			if err := server.Start(ctx); err != nil {
				return err
			}
			return server.Wait()
		},
	}
	cmd.Flags().StringVarP(&flags.cfgPath, "config", "c", "", "path to config file")
	cmd.Flags().StringVar(&flags.httpAddr, "http-addr", "", "override http.addr")
	cmd.Flags().BoolVar(&flags.ephemeral, "ephemeral", false, "keep console state in memory only")
	cmd.Flags().BoolVar(&flags.noPush, "no-push", false, "disable the websocket log push client")
	return cmd
}

func toServerConfig(cfg appconfig.Config, flags serveFlags) kconsole.ServerConfig {
	service := cfg.ServiceConfig()
	if flags.ephemeral {
		service.StateBackend = schema.StateBackendMemory
		service.StateDir = ""
	}
	httpCfg := httpapi.Config{
		Addr:       cfg.HTTP.Addr,
		BasePath:   cfg.HTTP.BasePath,
		HubHistory: cfg.HTTP.HubHistory,
	}
	if addr := strings.TrimSpace(flags.httpAddr); addr != "" {
		httpCfg.Addr = addr
	}
	return kconsole.ServerConfig{
		Service: service,
		HTTP:    httpCfg,
		Backend: toBackendConfig(cfg),
		Push: pushclient.Config{
			URL:            cfg.Push.URL,
			ReconnectDelay: cfg.ReconnectDelay(),
		},
	}
}

func toBackendConfig(cfg appconfig.Config) backend.Config {
	return backend.Config{
		BaseURL:    cfg.Backend.BaseURL,
		Timeout:    cfg.BackendTimeout(),
		RetryCount: cfg.Backend.RetryCount,
	}
}
