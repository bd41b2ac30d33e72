package main

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"pkt.systems/kconsole/core"
	"pkt.systems/kconsole/internal/appconfig"
	"pkt.systems/kconsole/internal/backend"
	"pkt.systems/kconsole/internal/format"
	"pkt.systems/kconsole/schema"
	"pkt.systems/pslog"
)

func newGroupsCmd() *cobra.Command {
	var cfgPath string
	var all bool
	var offline bool
	cmd := &cobra.Command{
		Use:   "groups",
		Short: "Print the reconciled log groups once",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := pslog.Ctx(cmd.Context())
			cfg, err := appconfig.Load(cfgPath)
			if err != nil {
				return err
			}
			deps := core.ServiceDeps{Logger: logger}
			if !offline {
				client, err := backend.NewHTTPClient(toBackendConfig(cfg), logger)
				if err != nil {
					return err
				}
				deps.Backend = client
			}
			groups, err := loadGroups(cmd.Context(), cfg.ServiceConfig(), deps)
			if err != nil {
				return err
			}
			return renderGroups(cmd.OutOrStdout(), groups, all)
		},
	}
	cmd.Flags().StringVarP(&cfgPath, "config", "c", "", "path to config file")
	cmd.Flags().BoolVar(&all, "all", false, "print records of collapsed groups too")
	cmd.Flags().BoolVar(&offline, "offline", false, "skip the task fetch and group persisted logs only")
	return cmd
}

// loadGroups runs a short-lived console loop over the persisted state,
// refreshes tasks once when a backend is set and returns the grouped view.
func loadGroups(ctx context.Context, cfg schema.ServiceConfig, deps core.ServiceDeps) ([]schema.DisplayGroup, error) {
	svc, err := core.NewService(cfg, deps)
	if err != nil {
		return nil, err
	}
	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan error, 1)
	go func() { done <- svc.Run(runCtx) }()
	defer func() {
		cancel()
		<-done
		_ = svc.Close()
	}()
	if deps.Backend != nil {
		if err := svc.RefreshTasks(runCtx); err != nil {
			pslog.Ctx(ctx).Warn("task fetch failed; grouping logs only", "err", err)
		}
	}
	return svc.Groups(runCtx)
}

func renderGroups(w io.Writer, groups []schema.DisplayGroup, all bool) error {
	if len(groups) == 0 {
		_, err := fmt.Fprintln(w, "no log groups")
		return err
	}
	renderer := format.NewPlainRenderer()
	for _, group := range groups {
		for _, line := range renderer.FormatGroup(group, all) {
			if _, err := fmt.Fprintln(w, line); err != nil {
				return err
			}
		}
	}
	return nil
}
