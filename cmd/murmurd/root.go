package main

import (
	"github.com/spf13/cobra"
)

type rootFlags struct {
	configPath string
	dataDir    string
	tcpPort    int
	logLevel   string
}

func newRootCmd() *cobra.Command {
	flags := &rootFlags{}

	root := &cobra.Command{
		Use:   "murmurd",
		Short: "murmurd runs the opportunistic peer message exchange engine",
	}
	root.PersistentFlags().StringVar(&flags.configPath, "config", "", "path to a YAML config file (optional)")
	root.PersistentFlags().StringVar(&flags.dataDir, "data-dir", "./murmur-data", "directory for the durable stores")
	root.PersistentFlags().StringVar(&flags.logLevel, "log-level", "info", "silent|error|info|debug")

	root.AddCommand(newRunCmd(flags))
	root.AddCommand(newIDCmd(flags))
	root.AddCommand(newFriendCmd(flags))

	return root
}

func newRunCmd(flags *rootFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "start the daemon: discovery, scheduler, and exchange loops",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDaemon(flags)
		},
	}
	cmd.Flags().IntVar(&flags.tcpPort, "lan-port", 0, "TCP port for the LAN exchange listener (0 = pick any free port)")
	return cmd
}
