package main

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mitchellh/go-homedir"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/cryguy/jsbridge"
	"github.com/cryguy/jsbridge/internal/journal"
	"github.com/cryguy/jsbridge/internal/observability"
)

// config is the file/env/flag configuration of every subcommand.
type config struct {
	Bridge  bridgeConfig            `mapstructure:"bridge"`
	Log     observability.LogConfig `mapstructure:"log"`
	Journal string                  `mapstructure:"journal"`
}

type bridgeConfig struct {
	GlobalObject       string        `mapstructure:"global_object"`
	PoolSize           int           `mapstructure:"pool_size"`
	MemoryLimitMB      int           `mapstructure:"memory_limit_mb"`
	EvaluateTimeout    time.Duration `mapstructure:"evaluate_timeout"`
	MaxConcurrentCalls int           `mapstructure:"max_concurrent_calls"`
	CompressAbove      int           `mapstructure:"compress_above"`
	LargePayloadBytes  int           `mapstructure:"large_payload_bytes"`
	MaxFrameBytes      int           `mapstructure:"max_frame_bytes"`
}

func (c bridgeConfig) toBridge() jsbridge.Config {
	return jsbridge.Config{
		GlobalObjectName:  c.GlobalObject,
		PoolSize:          c.PoolSize,
		MemoryLimitMB:     c.MemoryLimitMB,
		EvaluateTimeout:   c.EvaluateTimeout,
		MaxConcurrentCall: c.MaxConcurrentCalls,
		CompressAbove:     c.CompressAbove,
		LargePayloadBytes: c.LargePayloadBytes,
		MaxFrameBytes:     c.MaxFrameBytes,
	}.WithDefaults()
}

func setDefaults(v *viper.Viper) {
	d := jsbridge.DefaultConfig()
	v.SetDefault("bridge.global_object", d.GlobalObjectName)
	v.SetDefault("bridge.pool_size", d.PoolSize)
	v.SetDefault("bridge.memory_limit_mb", d.MemoryLimitMB)
	v.SetDefault("bridge.evaluate_timeout", 30*time.Second)
	v.SetDefault("bridge.max_concurrent_calls", d.MaxConcurrentCall)
	v.SetDefault("bridge.compress_above", d.CompressAbove)
	v.SetDefault("bridge.large_payload_bytes", d.LargePayloadBytes)
	v.SetDefault("bridge.max_frame_bytes", d.MaxFrameBytes)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")
	v.SetDefault("log.max_size_mb", 100)
	v.SetDefault("log.max_backups", 3)
	v.SetDefault("log.max_age_days", 28)
}

// app carries what PersistentPreRunE resolved to the subcommands.
type app struct {
	v       *viper.Viper
	cfgFile string
	cfg     config
	log     *zap.Logger
}

func newApp() *app {
	a := &app{v: viper.New()}
	setDefaults(a.v)
	return a
}

func newRootCmd() *cobra.Command {
	a := newApp()

	root := &cobra.Command{
		Use:           "jsbridge",
		Short:         "Cross-process JavaScript to Go call bridge",
		Version:       jsbridge.EngineName,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.load(cmd)
		},
		PersistentPostRun: func(*cobra.Command, []string) {
			if a.log != nil {
				_ = a.log.Sync()
			}
		},
	}
	root.SetVersionTemplate("jsbridge ({{.Version}} engine)\n")

	pf := root.PersistentFlags()
	pf.StringVarP(&a.cfgFile, "config", "c", "", "config file (default ./jsbridge.yaml)")
	pf.String("log-level", "", "log level (debug, info, warn, error)")
	pf.String("log-format", "", "log format (console or json)")
	pf.String("journal", "", "SQLite journal of bridge traffic")
	_ = a.v.BindPFlag("log.level", pf.Lookup("log-level"))
	_ = a.v.BindPFlag("log.format", pf.Lookup("log-format"))
	_ = a.v.BindPFlag("journal", pf.Lookup("journal"))

	root.AddCommand(newServeCmd(a), newEvalCmd(a), newJournalCmd(a))
	return root
}

// load reads the config file and environment, then builds the logger.
func (a *app) load(cmd *cobra.Command) error {
	if a.cfgFile != "" {
		a.v.SetConfigFile(a.cfgFile)
	} else {
		a.v.AddConfigPath(".")
		a.v.SetConfigName("jsbridge")
	}
	a.v.SetEnvPrefix("JSBRIDGE")
	a.v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	a.v.AutomaticEnv()

	if err := a.v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return fmt.Errorf("reading config: %w", err)
		}
	}
	if err := a.v.Unmarshal(&a.cfg); err != nil {
		return fmt.Errorf("decoding config: %w", err)
	}
	for _, p := range []*string{&a.cfg.Journal, &a.cfg.Log.File} {
		expanded, err := homedir.Expand(*p)
		if err != nil {
			return fmt.Errorf("expanding %q: %w", *p, err)
		}
		*p = expanded
	}
	a.log = observability.Build("jsbridge", a.cfg.Log, zapcore.Lock(zapcore.AddSync(cmd.ErrOrStderr())))
	return nil
}

// openJournal returns the configured journal, or nil when none is set.
func (a *app) openJournal() (*journal.Journal, error) {
	if a.cfg.Journal == "" {
		return nil, nil
	}
	return journal.Open(a.cfg.Journal, a.log)
}
