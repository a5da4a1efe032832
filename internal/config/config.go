package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/strrl/worktrack/internal/registry"
	"github.com/strrl/worktrack/internal/store"
)

const (
	dirName  = ".worktrack"
	fileName = "config.yaml"
)

// Config holds every tunable of the tracker
type Config struct {
	DataDir          string            `mapstructure:"data_dir"`
	ProjectsDir      string            `mapstructure:"projects_dir"`
	Command          string            `mapstructure:"command"`
	TerminateTimeout time.Duration     `mapstructure:"terminate_timeout"`
	Idle             IdleConfig        `mapstructure:"idle"`
	RecordStore      RecordStoreConfig `mapstructure:"record_store"`
	Notify           NotifyConfig      `mapstructure:"notify"`
	Summarizer       SummarizerConfig  `mapstructure:"summarizer"`
}

type IdleConfig struct {
	PollInterval   time.Duration `mapstructure:"poll_interval"`
	Threshold      time.Duration `mapstructure:"threshold"`
	ActivityWindow time.Duration `mapstructure:"activity_window"`
	Watch          bool          `mapstructure:"watch"`
}

type RecordStoreConfig struct {
	URL   string `mapstructure:"url"`
	Token string `mapstructure:"token"`
}

type NotifyConfig struct {
	WebhookURL string `mapstructure:"webhook_url"`
}

// SummarizerConfig selects the optional LLM used to summarize conversations.
// An empty provider disables it.
type SummarizerConfig struct {
	Provider string `mapstructure:"provider"`
	Model    string `mapstructure:"model"`
	APIKey   string `mapstructure:"api_key"`
}

// defaults are keyed by dotted viper path
var defaults = map[string]any{
	"data_dir":             "~/" + dirName,
	"projects_dir":         "~/.claude/projects",
	"command":              "claude",
	"terminate_timeout":    "10s",
	"idle.poll_interval":   "30s",
	"idle.threshold":       "10m",
	"idle.activity_window": "60s",
	"idle.watch":           true,
	"record_store.url":     "",
	"record_store.token":   "",
	"notify.webhook_url":   "",
	"summarizer.provider":  "",
	"summarizer.model":     "",
	"summarizer.api_key":   "",
}

// Load reads the explicit config file when given, otherwise the global file
// followed by the project file in cwd. A .env in cwd is loaded first so its
// values reach the WORKTRACK_* overrides.
func Load(explicit string) (*Config, error) {
	_ = godotenv.Load()

	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return nil, fmt.Errorf("failed to read config %s: %w", explicit, err)
		}
		return LoadFiles(explicit)
	}

	cwd, err := os.Getwd()
	if err != nil {
		return LoadFiles(GlobalConfigPath())
	}
	return LoadFiles(GlobalConfigPath(), ProjectConfigPath(cwd))
}

// LoadFiles merges the given YAML files in order over the defaults. Missing
// files are skipped.
func LoadFiles(paths ...string) (*Config, error) {
	v := viper.New()
	for key, value := range defaults {
		v.SetDefault(key, value)
	}
	v.SetConfigType("yaml")
	v.SetEnvPrefix("WORKTRACK")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	for _, path := range paths {
		if path == "" {
			continue
		}
		if _, err := os.Stat(path); os.IsNotExist(err) {
			continue
		}
		v.SetConfigFile(path)
		if err := v.MergeInConfig(); err != nil {
			return nil, fmt.Errorf("failed to load config %s: %w", path, err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}

	cfg.DataDir = expandHome(cfg.DataDir)
	cfg.ProjectsDir = expandHome(cfg.ProjectsDir)
	if cfg.Summarizer.APIKey == "" {
		cfg.Summarizer.APIKey = apiKeyFromEnv(cfg.Summarizer.Provider)
	}
	return cfg, nil
}

func apiKeyFromEnv(provider string) string {
	switch strings.ToLower(provider) {
	case "anthropic":
		return os.Getenv("ANTHROPIC_API_KEY")
	case "openai":
		return os.Getenv("OPENAI_API_KEY")
	}
	return ""
}

func expandHome(path string) string {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~"))
}

// GlobalDir returns ~/.worktrack
func GlobalDir() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, dirName)
}

// GlobalConfigPath returns the path to the global config file
func GlobalConfigPath() string {
	return filepath.Join(GlobalDir(), fileName)
}

// ProjectConfigPath returns the path to the project config file under dir
func ProjectConfigPath(dir string) string {
	return filepath.Join(dir, dirName, fileName)
}

func (c *Config) RegistryPath() string {
	return filepath.Join(c.DataDir, registry.DefaultFileName)
}

func (c *Config) StorePath() string {
	return filepath.Join(c.DataDir, store.DefaultFileName)
}

func (c *Config) LogPath() string {
	return filepath.Join(c.DataDir, "worktrack.log")
}
