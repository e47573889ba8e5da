package app

import (
	"context"
	"fmt"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/drclink-io/drclink/cmd/drclink-agent/app/options"
	"github.com/drclink-io/drclink/pkg/log"
)

const commandDesc = `The drclink agent holds a DRC control link to one vehicle gateway:
it claims flight control authority, keeps the link alive with a keepalive
beat, caches the telemetry stream, and recovers the link when telemetry
goes silent. Liveness, readiness and Prometheus metrics are served over HTTP.`

func NewAgentCommand(ctx context.Context) *cobra.Command {
	opts := options.NewAgentOptions()
	cfgFile := ""

	cmd := &cobra.Command{
		Use:          "drclink-agent",
		Long:         commandDesc,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := loadConfig(cmd, cfgFile, opts); err != nil {
				return err
			}

			log.Init(opts.Log)

			if err := opts.Validate(); err != nil {
				return err
			}

			cfg, err := opts.Config()
			if err != nil {
				return fmt.Errorf("failed to load configuration: %w", err)
			}

			agent, err := cfg.NewAgent()
			if err != nil {
				return fmt.Errorf("failed to create agent: %w", err)
			}

			return agent.Run(ctx)
		},
	}

	fs := cmd.Flags()
	fs.StringVarP(&cfgFile, "config", "c", "", "Path to the agent configuration file.")
	opts.AddFlags(fs)

	return cmd
}

// loadConfig layers the configuration: explicitly set flags override the
// config file, which overrides flag defaults. With --config set, the file
// is also watched so the log level follows edits at runtime.
func loadConfig(cmd *cobra.Command, cfgFile string, opts *options.AgentOptions) error {
	v := viper.New()
	if err := v.BindPFlags(cmd.Flags()); err != nil {
		return err
	}

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("failed to read config %s: %w", cfgFile, err)
		}

		v.OnConfigChange(func(e fsnotify.Event) {
			level := v.GetString("log.level")
			if err := log.SetLevel(level); err != nil {
				log.Error(err, "Ignoring bad log level from config reload", "config", e.Name)
				return
			}
			log.Info("Config reloaded", "config", e.Name, "logLevel", level)
		})
		v.WatchConfig()
	}

	return v.Unmarshal(opts)
}
