// Package app builds the vendhub server command.
package app

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/vendhub-io/vendhub/cmd/vendhub/app/options"
	"github.com/vendhub-io/vendhub/internal/hub"
	"github.com/vendhub-io/vendhub/pkg/log"
)

const commandDesc = `The vendhub server dispatches remote commands to a fleet of vending
devices and reconciles the results they report back. Commands are pushed
over MQTT when the device holds a broker connection and served over the
HTTP fallback poll channel otherwise; every command resolves exactly once
to completed, failed or expired.`

// NewCommand creates the root cobra command.
func NewCommand() *cobra.Command {
	opts := options.NewHubOptions()
	var configFile string

	cmd := &cobra.Command{
		Use:          "vendhub",
		Short:        "Launch the vending device command dispatch server",
		Long:         commandDesc,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := loadConfig(cmd, configFile, opts); err != nil {
				return err
			}
			if err := opts.Validate(); err != nil {
				return err
			}
			return run(opts)
		},
	}

	cmd.Flags().StringVarP(&configFile, "config", "c", "", "Path to the configuration file (yaml).")
	opts.AddFlags(cmd.Flags())
	return cmd
}

// loadConfig layers the configuration: flags override the config file,
// which overrides VENDHUB_* environment variables.
func loadConfig(cmd *cobra.Command, configFile string, opts *options.HubOptions) error {
	v := viper.New()
	v.SetEnvPrefix("VENDHUB")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("read config %s: %w", configFile, err)
		}
		v.OnConfigChange(func(e fsnotify.Event) {
			log.Info("configuration file changed, restart to apply", "file", e.Name)
		})
		v.WatchConfig()
	}

	if err := v.BindPFlags(cmd.Flags()); err != nil {
		return err
	}
	return v.Unmarshal(opts)
}

func run(opts *options.HubOptions) error {
	log.Init(opts.Log)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	h, err := hub.New(opts.Config(), log.Std())
	if err != nil {
		return fmt.Errorf("build hub: %w", err)
	}

	log.Info("vendhub starting", "pid", os.Getpid())
	if err := h.Run(ctx); err != nil {
		return fmt.Errorf("hub: %w", err)
	}
	log.Info("vendhub stopped")
	return nil
}
