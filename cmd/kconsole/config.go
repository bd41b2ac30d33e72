package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"pkt.systems/kconsole/internal/appconfig"
	"pkt.systems/pslog"
)

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage the console configuration file",
	}
	cmd.AddCommand(newConfigInitCmd())
	cmd.AddCommand(newConfigShowCmd())
	return cmd
}

func newConfigInitCmd() *cobra.Command {
	var path string
	var overwrite bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write the default config file",
		RunE: func(cmd *cobra.Command, args []string) error {
			written, err := appconfig.WriteDefault(path, overwrite)
			if err != nil {
				return err
			}
			pslog.Ctx(cmd.Context()).Info("config wrote", "path", written)
			return nil
		},
	}
	cmd.Flags().StringVarP(&path, "config", "c", "", "path to config file")
	cmd.Flags().BoolVar(&overwrite, "force", false, "overwrite an existing file")
	return cmd
}

func newConfigShowCmd() *cobra.Command {
	var path string
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := appconfig.Load(path)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			lines := []string{
				fmt.Sprintf("state_dir: %s", cfg.StateDir),
				fmt.Sprintf("state_backend: %s", cfg.StateBackend),
				fmt.Sprintf("backend.base_url: %s", cfg.Backend.BaseURL),
				fmt.Sprintf("backend.poll_interval_seconds: %d", cfg.Backend.PollIntervalSeconds),
				fmt.Sprintf("push.url: %s", cfg.Push.URL),
				fmt.Sprintf("http.addr: %s", cfg.HTTP.Addr),
			}
			for _, line := range lines {
				if _, err := fmt.Fprintln(out, line); err != nil {
					return err
				}
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&path, "config", "c", "", "path to config file")
	return cmd
}
