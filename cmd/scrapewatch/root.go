package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/Darkweaver2535/scrapewatch/internal/client"
	"github.com/Darkweaver2535/scrapewatch/internal/config"
	"github.com/Darkweaver2535/scrapewatch/internal/logger"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const envPrefix = "SCRAPEWATCH"

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "scrapewatch",
		Short:         "Drive and monitor remote scraping sessions",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.CompletionOptions.DisableDefaultCmd = true

	f := root.PersistentFlags()
	f.String("config", "scrapewatch.yaml", "Path to config file")
	f.String("base-url", "", "Job API base URL")
	f.String("token", "", "Bearer token sent to the job API")
	f.String("transport", "", "Event stream transport: sse or websocket")
	f.String("log-level", "", "Log level: debug, info, warn, error")
	f.Bool("log-pretty", false, "Human-readable log output")
	f.String("log-file", "", "Write logs to this file")

	root.AddCommand(newWatchCmd())
	root.AddCommand(newRunCmd())
	root.AddCommand(newMockServerCmd())
	root.AddCommand(newReplayCmd())
	return root
}

// flagKeys maps persistent flags onto config keys.
var flagKeys = map[string]string{
	"base-url":   "api.base_url",
	"token":      "api.token",
	"transport":  "stream.transport",
	"log-level":  "log.level",
	"log-pretty": "log.pretty",
	"log-file":   "log.file",
}

// loadConfig reads the YAML file, then applies SCRAPEWATCH_* environment
// variables and explicitly set flags on top of it.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}

	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("api.base_url", cfg.API.BaseURL)
	v.SetDefault("api.token", cfg.API.Token)
	v.SetDefault("api.timeout", cfg.API.Timeout)
	v.SetDefault("stream.transport", cfg.Stream.Transport)
	v.SetDefault("log.level", cfg.Log.Level)
	v.SetDefault("log.pretty", cfg.Log.Pretty)
	v.SetDefault("log.file", cfg.Log.File)
	v.SetDefault("mock.host", cfg.Mock.Host)
	v.SetDefault("mock.port", cfg.Mock.Port)
	v.SetDefault("mock.tick", cfg.Mock.Tick)
	v.SetDefault("mock.scenario", cfg.Mock.Scenario)

	for name, key := range flagKeys {
		if fl := cmd.Flags().Lookup(name); fl != nil {
			if err := v.BindPFlag(key, fl); err != nil {
				return nil, fmt.Errorf("binding --%s: %w", name, err)
			}
		}
	}

	var out config.Config
	if err := v.Unmarshal(&out); err != nil {
		return nil, fmt.Errorf("decoding config: %w", err)
	}
	if err := out.Validate(); err != nil {
		return nil, err
	}
	return &out, nil
}

// setupLogging configures the global logger. fallback receives output when
// no log file is configured. The returned func closes the log file.
func setupLogging(cfg *config.Config, fallback io.Writer) (func(), error) {
	out := fallback
	closeFn := func() {}
	if cfg.Log.File != "" {
		f, err := os.OpenFile(cfg.Log.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, fmt.Errorf("opening log file: %w", err)
		}
		out = f
		closeFn = func() { f.Close() }
	}
	logger.Configure(logger.ParseLevel(cfg.Log.Level), cfg.Log.Pretty, out)
	return closeFn, nil
}

func newStream(cfg *config.Config, api *client.HTTPClient, log zerolog.Logger) client.EventStream {
	if cfg.Stream.Transport == config.TransportWebSocket {
		return client.NewWSStream(api.EventsURL, api.Token(), log)
	}
	return client.NewSSEStream(api.EventsURL, api.Token(), log)
}
