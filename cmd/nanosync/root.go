package main

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/arthur-debert/nanosync/nanosync"
	"github.com/arthur-debert/nanosync/nanosync/cache"
	"github.com/arthur-debert/nanosync/nanosync/store"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// CLI holds the command tree and its configuration
type CLI struct {
	rootCmd   *cobra.Command
	viperInst *viper.Viper
	logger    *slog.Logger
	closeLog  func() error
}

func newCLI() *CLI {
	cli := &CLI{
		viperInst: viper.New(),
		logger:    slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn})),
	}
	cli.setupViperConfig()
	cli.createRootCommand()
	cli.addCommands()
	return cli
}

// Execute runs the command tree
func (cli *CLI) Execute() error {
	return cli.rootCmd.Execute()
}

// setupViperConfig configures defaults, environment variables and the
// config file locations
func (cli *CLI) setupViperConfig() {
	v := cli.viperInst
	v.SetDefault("db", "nanosync.json")
	v.SetDefault("format", "json")
	v.SetDefault("log-level", "warn")
	v.SetDefault("cache.ttl", 10*time.Minute)
	v.SetDefault("cache.capacity", 10_000)
	v.SetDefault("latency-compensation", false)

	// NANOSYNC_DB, NANOSYNC_CACHE_TTL, NANOSYNC_LATENCY_COMPENSATION, ...
	v.SetEnvPrefix("NANOSYNC")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	v.AutomaticEnv()
}

// readConfig loads the config file if there is one
func (cli *CLI) readConfig() error {
	v := cli.viperInst
	if configFile := os.Getenv("NANOSYNC_CONFIG"); configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("nanosync")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.nanosync")
	}

	err := v.ReadInConfig()
	var notFound viper.ConfigFileNotFoundError
	if err != nil && !errors.As(err, &notFound) {
		return NewConfigError("read configuration", err.Error(),
			"Check the YAML syntax of your nanosync.yaml",
			"Unset NANOSYNC_CONFIG to use the default locations")
	}
	return nil
}

func (cli *CLI) createRootCommand() {
	cli.rootCmd = &cobra.Command{
		Use:   "nanosync",
		Short: "nanosync CLI - cached, coherent access to a document store",
		Long: `nanosync keeps a client-side cache of documents and queries coherent
with a JSON document store, and exposes it from the command line.

Configuration Sources (in order of precedence):
1. Command line flags
2. Environment variables (NANOSYNC_*)
3. Configuration file (NANOSYNC_CONFIG, ./nanosync.yaml, ~/.nanosync/nanosync.yaml)

Examples:
  nanosync set users/alice --data '{"name": "Alice"}'
  nanosync add users/alice/posts --data '[{"title": "Hello"}, {"title": "Again"}]'
  nanosync list users/alice/posts --where 'likes>=10' --order-by likes:desc
  nanosync list todos --order-by rank --limit 10 --pages 3 --format yaml
  nanosync watch users/alice`,
		SilenceUsage:  true,
		SilenceErrors: true,

		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if err := cli.readConfig(); err != nil {
				return err
			}

			var mirror io.Writer
			if cli.viperInst.GetBool("verbose") {
				mirror = cmd.ErrOrStderr()
			}
			logger, closeLog, err := initLogging(cli.viperInst.GetString("log-level"), mirror)
			if err != nil {
				// keep the stderr logger
				cli.logger.Warn("file logging unavailable", "error", err)
				return nil
			}
			cli.logger, cli.closeLog = logger, closeLog
			return nil
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			if cli.closeLog != nil {
				return cli.closeLog()
			}
			return nil
		},
	}

	cli.addGlobalFlags()
}

// addGlobalFlags adds persistent flags and binds them to their config keys
func (cli *CLI) addGlobalFlags() {
	flags := cli.rootCmd.PersistentFlags()

	flags.StringP("db", "d", "nanosync.json", "Database file path")
	flags.StringP("format", "f", "json", "Output format (json|yaml)")
	flags.String("log-level", "warn", "Log level (debug|info|warn|error)")
	flags.BoolP("verbose", "v", false, "Mirror logs to stderr")
	flags.Duration("cache-ttl", 10*time.Minute, "How long untouched cache entries live (0 disables expiry)")
	flags.Uint64("cache-capacity", 10_000, "Maximum number of cache entries (0 is unbounded)")
	flags.Bool("latency-compensation", false, "Echo local writes to listeners before they are saved")

	bind := func(key, flag string) {
		_ = cli.viperInst.BindPFlag(key, flags.Lookup(flag))
	}
	flags.VisitAll(func(f *pflag.Flag) {
		bind(f.Name, f.Name)
	})
	bind("cache.ttl", "cache-ttl")
	bind("cache.capacity", "cache-capacity")
}

// env is an open store with a client over it
type env struct {
	store  *store.JSONStore
	client *nanosync.Client
}

func (e *env) Close() {
	_ = e.client.Close()
	_ = e.store.Close()
}

// open opens the configured store and builds a client over it
func (cli *CLI) open(operation string) (*env, error) {
	v := cli.viperInst
	dbPath := v.GetString("db")
	if dbPath == "" {
		return nil, NewConfigError(operation, "no database path",
			"Pass --db <file>",
			"Set NANOSYNC_DB or 'db' in nanosync.yaml")
	}
	absPath, err := filepath.Abs(dbPath)
	if err != nil {
		return nil, NewValidationError(operation, "database path", dbPath)
	}

	st, err := store.Open(absPath,
		store.WithLogger(cli.logger),
		store.WithLatencyCompensation(v.GetBool("latency-compensation")),
	)
	if err != nil {
		return nil, NewStoreError(operation, err,
			fmt.Sprintf("Check that %s is writable", filepath.Dir(absPath)))
	}

	client := nanosync.New(st,
		nanosync.WithLogger(cli.logger),
		nanosync.WithCacheConfig(cache.Config{
			TTL:      v.GetDuration("cache.ttl"),
			Capacity: v.GetUint64("cache.capacity"),
		}),
	)
	cli.logger.Debug("store opened", "db", absPath)
	return &env{store: st, client: client}, nil
}

func (cli *CLI) addCommands() {
	cli.rootCmd.AddCommand(
		cli.getCommand(),
		cli.listCommand(),
		cli.setCommand(),
		cli.updateCommand(),
		cli.deleteCommand(),
		cli.addCommand(),
		cli.watchCommand(),
	)
}
