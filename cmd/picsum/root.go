package main

import (
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/Sternrassler/picsum-client/internal/config"
	"github.com/Sternrassler/picsum-client/pkg/logging"
)

// rootOptions are the persistent flags. Flags override the config file and
// environment when set.
type rootOptions struct {
	configPath string
	baseURL    string
	redisURL   string
	workers    int
	logLevel   string
	pretty     bool

	cfg config.Config
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:   "picsum",
		Short: "Browse and export images from the Lorem Picsum catalog",
		Long: `picsum fetches the Lorem Picsum image listing page by page, resolves
images at thumbnail, large or full size through a shared cache, and exports
full-size JPEGs to disk.

Configuration is read from defaults, an optional YAML file (--config), the
environment (PICSUM_*, REDIS_URL, LOG_LEVEL, ...; a .env file is loaded if
present) and finally command-line flags.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			// Load .env file if present (ignore errors)
			_ = godotenv.Load()
			return opts.load(cmd)
		},
	}

	flags := cmd.PersistentFlags()
	flags.StringVar(&opts.configPath, "config", "", "YAML config file")
	flags.StringVar(&opts.baseURL, "base-url", "", "catalog base URL (PICSUM_BASE_URL)")
	flags.StringVar(&opts.redisURL, "redis-url", "", "Redis URL for a shared image cache (REDIS_URL)")
	flags.IntVar(&opts.workers, "workers", 0, "concurrent image downloads (PICSUM_WORKERS)")
	flags.StringVar(&opts.logLevel, "log-level", "", "debug, info, warn or error (LOG_LEVEL)")
	flags.BoolVar(&opts.pretty, "pretty", false, "human-readable logs (LOG_PRETTY)")

	cmd.AddCommand(newListCmd(opts))
	cmd.AddCommand(newExportCmd(opts))
	cmd.AddCommand(newServeCmd(opts))

	return cmd
}

func (o *rootOptions) load(cmd *cobra.Command) error {
	cfg, err := config.Load(o.configPath)
	if err != nil {
		return err
	}

	flags := cmd.Flags()
	if flags.Changed("base-url") {
		cfg.BaseURL = o.baseURL
	}
	if flags.Changed("redis-url") {
		cfg.RedisURL = o.redisURL
	}
	if flags.Changed("workers") {
		cfg.Workers = o.workers
	}
	if flags.Changed("log-level") {
		cfg.LogLevel = o.logLevel
	}
	if flags.Changed("pretty") {
		cfg.LogPretty = o.pretty
	}

	if err := cfg.Validate(); err != nil {
		return err
	}

	logCfg := cfg.Logging()
	logCfg.Output = cmd.ErrOrStderr()
	logging.Setup(logCfg)

	o.cfg = cfg
	return nil
}
