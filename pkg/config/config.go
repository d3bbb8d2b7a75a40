// Package config loads saipling settings from flags, SAIPLING_* environment
// variables, .env files and config.yaml through viper.
package config

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/mitchellh/mapstructure"
	"github.com/pkg/errors"
	"github.com/spf13/viper"

	"github.com/TenVexAI/saipling/pkg/db"
	"github.com/TenVexAI/saipling/pkg/telemetry"
)

// EnvPrefix prefixes every environment override, e.g. SAIPLING_MODEL.
const EnvPrefix = "SAIPLING"

// ServerConfig configures the local HTTP bridge.
type ServerConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port" validate:"gte=0,lte=65535"`
	// AllowedOrigins lists the browser origins allowed to call the API.
	// Empty means same-origin only.
	AllowedOrigins []string `mapstructure:"allowed_origins" validate:"dive,url"`
}

// ProfileConfig holds overrides selected with --profile.
type ProfileConfig map[string]any

// Config is the resolved configuration.
type Config struct {
	Workspace     string   `mapstructure:"workspace"`
	Model         string   `mapstructure:"model"`
	MaxTokens     int      `mapstructure:"max_tokens" validate:"gte=0"`
	ContextBudget int      `mapstructure:"context_budget" validate:"gte=0"`
	Exclude       []string `mapstructure:"exclude"`
	SkillsDirs    []string `mapstructure:"skills_dirs"`
	AllowedSkills []string `mapstructure:"allowed_skills"`

	PricingFile string `mapstructure:"pricing_file"`
	LedgerPath  string `mapstructure:"ledger_path"`

	LogLevel  string `mapstructure:"log_level"`
	LogFormat string `mapstructure:"log_format" validate:"omitempty,oneof=text json"`

	AnthropicAPIKey string `mapstructure:"anthropic_api_key"`
	OpenAIAPIKey    string `mapstructure:"openai_api_key"`
	OpenAIBaseURL   string `mapstructure:"openai_base_url"`
	GoogleAPIKey    string `mapstructure:"google_api_key"`

	Tracing telemetry.Config `mapstructure:"tracing"`
	Server  ServerConfig     `mapstructure:"server"`

	Aliases  map[string]string        `mapstructure:"aliases"`
	Profile  string                   `mapstructure:"profile"`
	Profiles map[string]ProfileConfig `mapstructure:"profiles"`
}

// Defaults used when neither the config file nor the environment sets a key.
var defaults = map[string]any{
	"workspace":       ".",
	"model":           "claude-sonnet-4",
	"max_tokens":      8192,
	"context_budget":  60000,
	"log_level":       "info",
	"log_format":      "text",
	"tracing.enabled": false,
	"tracing.sampler": "ratio",
	"tracing.ratio":   1.0,
	"server.host":     "localhost",
	"server.port":     8765,
}

// DefaultAliases maps short names to model ids.
var DefaultAliases = map[string]string{
	"sonnet": "claude-sonnet-4",
	"haiku":  "claude-3-5-haiku-latest",
	"opus":   "claude-opus-4-1",
}

// Init prepares the global viper instance: defaults, environment binding and
// the config file. A missing config file is not an error. configFile, when
// set, replaces the search in ~/.saipling and the working directory.
func Init(configFile string) error {
	for key, value := range defaults {
		viper.SetDefault(key, value)
	}

	viper.SetEnvPrefix(EnvPrefix)
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()
	// Unmarshal only sees environment values for keys viper already knows.
	for _, key := range []string{"anthropic_api_key", "openai_api_key", "openai_base_url", "google_api_key", "pricing_file", "ledger_path", "profile"} {
		if err := viper.BindEnv(key); err != nil {
			return errors.Wrapf(err, "failed to bind %s", key)
		}
	}

	if configFile != "" {
		viper.SetConfigFile(configFile)
	} else {
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
		viper.AddConfigPath("$HOME/.saipling")
		viper.AddConfigPath(".")
	}

	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			return nil
		}
		return errors.Wrap(err, "failed to read config file")
	}
	return nil
}

// LoadDotEnv loads the given .env files into the process environment,
// skipping files that do not exist. Variables already set win.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	var existing []string
	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			existing = append(existing, p)
		}
	}
	if len(existing) == 0 {
		return nil
	}
	return errors.Wrap(godotenv.Load(existing...), "failed to load .env")
}

// GetConfigFromViper unmarshals the global viper settings, applies the
// active profile, resolves model aliases and validates the result.
func GetConfigFromViper() (Config, error) {
	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return config, errors.Wrap(err, "failed to unmarshal configuration")
	}

	if name := activeProfile(config.Profile); name != "" {
		profile, ok := config.Profiles[name]
		if !ok {
			return config, errors.Errorf("profile %q is not defined", name)
		}
		if err := applyProfile(&config, profile); err != nil {
			return config, err
		}
	}

	config.Model = ResolveModelAlias(config.Model, config.Aliases)

	if config.AnthropicAPIKey == "" {
		config.AnthropicAPIKey = os.Getenv("ANTHROPIC_API_KEY")
	}
	if config.OpenAIAPIKey == "" {
		config.OpenAIAPIKey = os.Getenv("OPENAI_API_KEY")
	}
	for _, env := range []string{"GEMINI_API_KEY", "GOOGLE_API_KEY"} {
		if config.GoogleAPIKey == "" {
			config.GoogleAPIKey = os.Getenv(env)
		}
	}

	if err := validator.New().Struct(config); err != nil {
		return config, errors.Wrap(err, "invalid configuration")
	}
	return config, nil
}

func activeProfile(name string) string {
	if name == "default" {
		return ""
	}
	return name
}

func applyProfile(config *Config, profile ProfileConfig) error {
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           config,
		WeaklyTypedInput: true,
		ZeroFields:       false,
	})
	if err != nil {
		return errors.Wrap(err, "failed to create profile decoder")
	}
	if err := decoder.Decode(map[string]any(profile)); err != nil {
		return errors.Wrap(err, "failed to apply profile configuration")
	}
	return nil
}

// ResolveModelAlias maps alias to a model id using aliases, then the
// built-in aliases. Unknown names are returned unchanged.
func ResolveModelAlias(model string, aliases map[string]string) string {
	if resolved, ok := aliases[model]; ok {
		return resolved
	}
	if resolved, ok := DefaultAliases[model]; ok {
		return resolved
	}
	return model
}

// WorkspaceRoot returns the absolute workspace directory.
func (c Config) WorkspaceRoot() (string, error) {
	root := c.Workspace
	if root == "" {
		root = "."
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return "", errors.Wrapf(err, "failed to resolve workspace %s", root)
	}
	return abs, nil
}

// LedgerFile returns the cost ledger location: ledger_path when set,
// otherwise .saipling/ledger.db inside the workspace.
func (c Config) LedgerFile() (string, error) {
	if c.LedgerPath != "" {
		return c.LedgerPath, nil
	}
	root, err := c.WorkspaceRoot()
	if err != nil {
		return "", err
	}
	return db.ProjectPath(root), nil
}
