package main

import "github.com/spf13/cobra"

func buildMultibotCmd(e *env) *cobra.Command {
	var botsFile string
	cmd := &cobra.Command{
		Use:   "multibot",
		Short: "Run and inspect the multi-bot gateway",
	}
	cmd.PersistentFlags().StringVarP(&botsFile, "bots", "b", "", "Path to the multibot config; defaults to gateway.bots_file")

	resolve := func() string {
		if botsFile != "" {
			return botsFile
		}
		return e.cfg.Gateway.BotsFile
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "start",
			Short: "Start every enabled bot and block until interrupted",
			Args:  cobra.NoArgs,
			RunE: e.run(func(cmd *cobra.Command, _ []string) error {
				return runMultibotStart(cmd, e, resolve())
			}),
		},
		buildMultibotStatusCmd(e, resolve),
	)
	return cmd
}

func buildMultibotStatusCmd(e *env, resolve func() string) *cobra.Command {
	var check bool
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show configured bots and tool servers",
		Args:  cobra.NoArgs,
		RunE: e.run(func(cmd *cobra.Command, _ []string) error {
			return runMultibotStatus(cmd, e, resolve(), check)
		}),
	}
	cmd.Flags().BoolVar(&check, "check", false, "Check every tool server with health checks enabled")
	return cmd
}
