package cmd

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/hireloop/cv-screener/internal/ai/gemini"
	"github.com/hireloop/cv-screener/internal/broker"
	"github.com/hireloop/cv-screener/internal/logger"
	"github.com/hireloop/cv-screener/internal/rag"
	"github.com/hireloop/cv-screener/internal/secrets"
	"github.com/hireloop/cv-screener/internal/store"
)

const (
	app = "cv-screener"
)

type Config struct {
	Server  *ServerConfig  `mapstructure:"server"`
	Redis   *RedisConfig   `mapstructure:"redis"`
	Store   *StoreConfig   `mapstructure:"store"`
	Index   *IndexConfig   `mapstructure:"index"`
	AI      *AIConfig      `mapstructure:"ai"`
	Sweeper *SweeperConfig `mapstructure:"sweeper"`
}

type ServerConfig struct {
	Addr      string `mapstructure:"addr"`
	UploadDir string `mapstructure:"upload-dir"`
}

type RedisConfig struct {
	URL string `mapstructure:"url"`
}

type StoreConfig struct {
	Path string `mapstructure:"path"`
}

type IndexConfig struct {
	Dir        string `mapstructure:"dir"`
	Dimensions int    `mapstructure:"dimensions"`
}

type AIConfig struct {
	Gemini *GeminiConfig `mapstructure:"gemini"`
}

type GeminiConfig struct {
	APIKeyFile     string `mapstructure:"api-key-file"`
	Model          string `mapstructure:"model"`
	EmbeddingModel string `mapstructure:"embedding-model"`
	MaxLogLength   int    `mapstructure:"max-log-length"`
}

type SweeperConfig struct {
	Enabled   bool          `mapstructure:"enabled"`
	Schedule  string        `mapstructure:"schedule"`
	Threshold time.Duration `mapstructure:"threshold"`
}

var (
	// Used for flags.
	cfgFile string

	rootCmd = &cobra.Command{
		Use:   app,
		Short: "cv-screener evaluates candidate CVs and project reports asynchronously with AI scoring",
	}
)

// Execute executes the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	if err := viper.BindEnv("ai.gemini.api-key-file", "GEMINI_API_KEY_FILE"); err != nil {
		log.Fatalf("binding GEMINI_API_KEY_FILE environment variable: %v", err)
	}
	if err := viper.BindEnv("redis.url", "REDIS_URL"); err != nil {
		log.Fatalf("binding REDIS_URL environment variable: %v", err)
	}

	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "a config file (default is cv-screener.yaml in current directory)")
	rootCmd.PersistentFlags().BoolP("debug", "d", false, "verbose/debug output")
	rootCmd.PersistentFlags().BoolP("json", "j", false, "json format for logging")

	viper.BindPFlag("debug", rootCmd.PersistentFlags().Lookup("debug"))
	viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
}

func initConfig() {
	// Config needed only for the serve and worker commands.
	if serveCmd.CalledAs() == "" && workerCmd.CalledAs() == "" {
		return
	}

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.AddConfigPath(".")
		viper.SetConfigName(app + ".yaml")
	}

	if err := viper.ReadInConfig(); err != nil {
		// Defaults cover everything except the API key, so a missing file
		// is fine unless one was named explicitly.
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) && cfgFile == "" {
			return
		}
		log.Fatal(err)
	}
}

func getConfig() (*Config, error) {
	config := &Config{}

	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook:       mapstructure.StringToTimeDurationHookFunc(),
		WeaklyTypedInput: true,
		Result:           config,
	})
	if err != nil {
		return nil, err
	}
	if err := decoder.Decode(viper.AllSettings()); err != nil {
		return nil, err
	}

	if config.Server == nil {
		config.Server = &ServerConfig{}
	}
	if config.Server.Addr == "" {
		config.Server.Addr = ":8080"
	}
	if config.Server.UploadDir == "" {
		config.Server.UploadDir = "uploads"
	}

	if config.Redis == nil {
		config.Redis = &RedisConfig{}
	}
	if config.Redis.URL == "" {
		config.Redis.URL = "redis://localhost:6379/0"
	}

	if config.Store == nil {
		config.Store = &StoreConfig{}
	}
	if config.Store.Path == "" {
		config.Store.Path = "cv-screener.db"
	}

	if config.Index == nil {
		config.Index = &IndexConfig{}
	}
	if config.Index.Dir == "" {
		config.Index.Dir = "index"
	}

	if config.AI == nil {
		config.AI = &AIConfig{}
	}
	if config.AI.Gemini == nil {
		config.AI.Gemini = &GeminiConfig{}
	}

	if config.Sweeper == nil {
		config.Sweeper = &SweeperConfig{Enabled: true}
	}

	return config, nil
}

// newGenerator builds the Gemini generator from the configured key file.
func newGenerator(ctx context.Context, cfg *GeminiConfig) (*gemini.Generator, error) {
	apiKey, err := secrets.Load(secrets.Source{
		Name: "gemini api key",
		File: cfg.APIKeyFile,
	})
	if err != nil {
		return nil, err
	}

	return gemini.NewGenerator(ctx, apiKey, cfg.Model)
}

// openStores opens the record store, the broker and the similarity index
// shared by serve and worker.
func openStores(ctx context.Context, config *Config, generator *gemini.Generator, lgr *zap.Logger) (*store.Store, *broker.Broker, *rag.Index, error) {
	st, err := store.Open(config.Store.Path, lgr)
	if err != nil {
		return nil, nil, nil, err
	}

	br, err := broker.Connect(ctx, config.Redis.URL, lgr)
	if err != nil {
		st.Close()
		return nil, nil, nil, err
	}

	idx, err := rag.Open(config.Index.Dir, config.Index.Dimensions, generator.Embedder(config.AI.Gemini.EmbeddingModel), lgr)
	if err != nil {
		st.Close()
		br.Close()
		return nil, nil, nil, err
	}

	return st, br, idx, nil
}

func newLogger() *zap.Logger {
	lgr, err := logger.New(viper.GetBool("json"), viper.GetBool("debug"))
	if err != nil {
		log.Fatalf("creating a logger: %s", err)
	}
	return lgr
}
