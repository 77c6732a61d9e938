package cmd

import (
	"context"
	"errors"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/spigell/hireboard/internal/app"
	"github.com/spigell/hireboard/internal/backend"
	"github.com/spigell/hireboard/internal/logger"
	"github.com/spigell/hireboard/internal/output"
	"github.com/spigell/hireboard/internal/querycache"
	"github.com/spigell/hireboard/internal/scoring"
	"github.com/spigell/hireboard/internal/secrets"
	"github.com/spigell/hireboard/internal/session"
)

const (
	appName = "hireboard"
	envName = "HIREBOARD"
)

type Config struct {
	Backend     BackendConfig  `mapstructure:"backend"`
	SessionFile string         `mapstructure:"session-file"`
	ExcludeFile string         `mapstructure:"exclude-file"`
	Cache       CacheConfig    `mapstructure:"cache"`
	Realtime    RealtimeConfig `mapstructure:"realtime"`
	Scoring     ScoringConfig  `mapstructure:"scoring"`
	AI          AIConfig       `mapstructure:"ai"`
	Jobs        JobsConfig     `mapstructure:"jobs"`
}

type BackendConfig struct {
	URL               string        `mapstructure:"url"`
	AnonKey           string        `mapstructure:"anon-key"`
	AnonKeyFile       string        `mapstructure:"anon-key-file"`
	UserAgent         string        `mapstructure:"user-agent"`
	Timeout           time.Duration `mapstructure:"timeout"`
	RequestsPerSecond float64       `mapstructure:"requests-per-second"`
	Burst             int           `mapstructure:"burst"`
}

type CacheConfig struct {
	MaxEntries int `mapstructure:"max-entries"`
	Retries    int `mapstructure:"retries"`
}

type RealtimeConfig struct {
	Disabled      bool          `mapstructure:"disabled"`
	Heartbeat     time.Duration `mapstructure:"heartbeat"`
	MaxReconnects int           `mapstructure:"max-reconnects"`
}

type ScoringConfig struct {
	URL     string        `mapstructure:"url"`
	Timeout time.Duration `mapstructure:"timeout"`
}

type AIConfig struct {
	Delay time.Duration `mapstructure:"delay"`
}

type JobsConfig struct {
	ExcludeCompanies []string `mapstructure:"exclude-companies"`
	EmploymentTypes  []string `mapstructure:"employment-types"`
}

var (
	// Used for flags.
	cfgFile string

	rootCmd = &cobra.Command{
		Use:   appName,
		Short: "hireboard is a cli for browsing jobs, applying and managing candidates",
	}
)

// Execute executes the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	if err := viper.BindEnv("backend.anon-key-file", envName+"_ANON_KEY_FILE"); err != nil {
		log.Fatalf("binding %s_ANON_KEY_FILE environment variable: %v", envName, err)
	}

	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "a config file (default is hireboard.yaml in current directory)")
	rootCmd.PersistentFlags().BoolP("debug", "d", false, "verbose/debug output")
	rootCmd.PersistentFlags().BoolP("json", "j", false, "json format for logging")

	viper.BindPFlag("debug", rootCmd.PersistentFlags().Lookup("debug"))
	viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
}

func setDefaults() {
	sessionFile := ".hireboard-session.json"
	if dir, err := os.UserConfigDir(); err == nil {
		sessionFile = filepath.Join(dir, appName, "session.json")
	}

	viper.SetDefault("backend.url", "")
	viper.SetDefault("backend.anon-key", "")
	viper.SetDefault("backend.timeout", 10*time.Second)
	viper.SetDefault("session-file", sessionFile)
	viper.SetDefault("exclude-file", "")
	viper.SetDefault("cache.max-entries", 512)
	viper.SetDefault("cache.retries", 3)
	viper.SetDefault("realtime.disabled", false)
	viper.SetDefault("realtime.max-reconnects", 10)
	viper.SetDefault("scoring.url", scoring.DefaultURL)
	viper.SetDefault("ai.delay", 2*time.Second)
}

func initConfig() {
	setDefaults()

	viper.SetEnvPrefix(envName)
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	viper.AutomaticEnv()

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.AddConfigPath(".")
		viper.SetConfigName(appName)
		viper.SetConfigType("yaml")
	}

	// The file is optional unless given explicitly; env can carry everything.
	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if cfgFile != "" || !errors.As(err, &notFound) {
			log.Fatal(err)
		}
	}
}

func getConfig() (*Config, error) {
	var config *Config
	err := viper.Unmarshal(&config)
	if err != nil {
		return config, err
	}

	return config, nil
}

func resolveAnonKey(cfg BackendConfig) (string, error) {
	return secrets.Load(secrets.Source{
		Name:  "backend anon key",
		File:  cfg.AnonKeyFile,
		Value: cfg.AnonKey,
		Env:   envName + "_ANON_KEY",
	})
}

// runtime is what every data command works with.
type runtime struct {
	ctx    context.Context
	logger *zap.Logger
	config *Config
	app    *app.App
	stop   func()
}

func (r *runtime) close() {
	if err := r.app.Close(); err != nil {
		r.logger.Warn("closing", zap.Error(err))
	}
	r.stop()
}

// render prints a table; a failure is logged, not fatal.
func (r *runtime) render(t *output.Table) {
	if err := t.Render(); err != nil {
		r.logger.Error("rendering table", zap.Error(err))
	}
}

// state returns the settled session state.
func (r *runtime) state() session.State {
	state, err := r.app.Session.WaitReady(r.ctx)
	if err != nil {
		r.logger.Warn("profile is not available", zap.Error(err))
	}
	return state
}

// mustIdentity stops the command when nobody is signed in.
func (r *runtime) mustIdentity() session.State {
	state := r.state()
	if state.UserID() == "" {
		r.logger.Fatal("not signed in", zap.String("hint", "run '"+appName+" login' first"))
	}
	return state
}

// zeroMeansNone maps a zero attempt count from the config file to the
// negative value the libraries read as "none"; they read zero as default.
func zeroMeansNone(n int) int {
	if n == 0 {
		return -1
	}
	return n
}

// newRuntime builds the logger, reads the config and starts the app. Any
// failure ends the process.
func newRuntime() *runtime {
	logger, err := logger.New(viper.GetBool("json"), viper.GetBool("debug"))
	if err != nil {
		log.Fatalf("creating a logger: %s", err)
	}

	config, err := getConfig()
	if err != nil {
		logger.Fatal("getting a config", zap.Error(err))
	}
	if config == nil {
		logger.Fatal("config is required")
	}

	anonKey, err := resolveAnonKey(config.Backend)
	if err != nil {
		logger.Fatal("loading backend anon key",
			zap.Error(err),
			zap.String("hint", "set "+envName+"_ANON_KEY_FILE or the 'backend.anon-key-file' key in the configuration file"),
		)
	}

	if config.SessionFile != "" {
		if err := os.MkdirAll(filepath.Dir(config.SessionFile), 0o700); err != nil {
			logger.Fatal("creating session directory", zap.Error(err))
		}
	}


	a, err := app.New(app.Config{
		Backend: backend.Config{
			URL:               config.Backend.URL,
			AnonKey:           anonKey,
			UserAgent:         config.Backend.UserAgent,
			Timeout:           config.Backend.Timeout,
			RequestsPerSecond: config.Backend.RequestsPerSecond,
			Burst:             config.Backend.Burst,
		},
		SessionFile: config.SessionFile,
		Cache: querycache.Config{
			MaxEntries: config.Cache.MaxEntries,
			Retries:    zeroMeansNone(config.Cache.Retries),
		},
		Realtime: app.RealtimeConfig{
			Disabled:      config.Realtime.Disabled,
			Heartbeat:     config.Realtime.Heartbeat,
			MaxReconnects: zeroMeansNone(config.Realtime.MaxReconnects),
		},
		Scoring: scoring.Config{
			URL:       config.Scoring.URL,
			Timeout:   config.Scoring.Timeout,
			UserAgent: config.Backend.UserAgent,
		},
		AIDelay: config.AI.Delay,
	}, logger)
	if err != nil {
		logger.Fatal("building the client", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)

	if err := a.Start(ctx); err != nil {
		stop()
		logger.Fatal("restoring the session", zap.Error(err))
	}

	return &runtime{ctx: ctx, logger: logger, config: config, app: a, stop: stop}
}
