// Command notifier consumes email or push notification requests from NSQ
// and delivers them through the configured provider.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/austindbirch/harbor_notify/internal/config"
	"github.com/austindbirch/harbor_notify/internal/db"
	"github.com/austindbirch/harbor_notify/internal/notification"
)

var cfgFile string

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "notifier",
		Short: "Harbor Notify delivery worker",
		Long: `notifier runs one delivery pipeline per process. Start it with the
channel to serve, e.g. "notifier email" or "notifier push".

Configuration is read from the optional --config file and NOTIFY_*
environment variables (NOTIFY_REDIS_ADDR, NOTIFY_NSQ_NSQD_TCP_ADDR, ...).`,
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (yaml, json or toml)")

	root.AddCommand(
		channelCmd(notification.ChannelEmail, "Consume the email queue and deliver through SendGrid"),
		channelCmd(notification.ChannelPush, "Consume the push queue and deliver through OneSignal"),
		migrateCmd(),
	)
	return root
}

func channelCmd(ch notification.Channel, short string) *cobra.Command {
	return &cobra.Command{
		Use:   string(ch),
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(cfgFile)
			if err != nil {
				return err
			}
			return run(cmd.Context(), cfg, ch)
		},
	}
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply dead-letter archive migrations to Postgres",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(cfgFile)
			if err != nil {
				return err
			}
			if err := db.Migrate(cfg.DSN()); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "migrations applied")
			return nil
		},
	}
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
