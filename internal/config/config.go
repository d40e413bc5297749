package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/sjawhar/ghost-puppet/internal/command"
	"github.com/sjawhar/ghost-puppet/internal/llm"
	"github.com/sjawhar/ghost-puppet/internal/scene"
)

// EnvPrefix is the namespace prefix for all Ghost Puppet environment variables.
const EnvPrefix = "GHOST_PUPPET_"

// CommandConfig is one entry of the voice command table as written in YAML.
type CommandConfig struct {
	Name     string   `yaml:"name" validate:"required"`
	Keywords []string `yaml:"keywords" validate:"required,min=1,dive,required"`
	Match    string   `yaml:"match" validate:"omitempty,oneof=substring prefix word"`
	Message  string   `yaml:"message"`
	Color    string   `yaml:"color"`
}

// Config holds all application configuration. Secrets (API keys) are loaded
// exclusively from environment variables and never appear in the config file.
type Config struct {
	HTTPAddr string `yaml:"http_addr"`
	LogLevel string `yaml:"log_level"`
	LogFile  string `yaml:"log_file"`

	DBPath        string `yaml:"db_path"`
	TranscriptDir string `yaml:"transcript_dir"`
	ModelsDir     string `yaml:"models_dir"`

	Language     string          `yaml:"language"`
	RevertDelay  string          `yaml:"revert_delay"`
	RestartDelay string          `yaml:"restart_delay"`
	MaxRestarts  int             `yaml:"max_restarts"`
	Commands     []CommandConfig `yaml:"commands" validate:"omitempty,unique=Name,dive"`

	DeepgramModel  string `yaml:"deepgram_model"`
	MicSampleRate  int    `yaml:"mic_sample_rate"`
	MicSampleRates []int  `yaml:"mic_sample_rates"`

	AssistantModel    string  `yaml:"assistant_model"`
	ReplyUnmatched    bool    `yaml:"reply_unmatched"`
	AssistantRequests float64 `yaml:"assistant_requests_per_minute"`

	GDriveFolderID        string `yaml:"gdrive_folder_id"`
	GoogleCredentialsFile string `yaml:"google_credentials_file"`
	GDriveSyncInterval    string `yaml:"gdrive_sync_interval"`

	Scene scene.Layout `yaml:"scene"`

	// Secrets: env vars only, never serialized to YAML.
	DeepgramAPIKey  string `yaml:"-"`
	GeminiAPIKey    string `yaml:"-"`
	OpenAIAPIKey    string `yaml:"-"`
	AnthropicAPIKey string `yaml:"-"`
}

func defaults() Config {
	return Config{
		HTTPAddr:              ":8080",
		LogLevel:              "info",
		DBPath:                "data/ghost-puppet.db",
		TranscriptDir:         "data/transcripts",
		ModelsDir:             "models",
		Language:              "en-US",
		RevertDelay:           "2s",
		RestartDelay:          "100ms",
		MaxRestarts:           5,
		DeepgramModel:         "nova-2",
		MicSampleRate:         16000,
		MicSampleRates:        []int{48000, 44100, 32000, 24000},
		AssistantModel:        "gemini/gemini-2.5-flash",
		AssistantRequests:     10,
		GoogleCredentialsFile: "./service-account.json",
		GDriveSyncInterval:    "5m",
		Scene:                 scene.DefaultLayout(),
	}
}

// Load reads configuration from a YAML file (if it exists), applies
// environment variable overrides, loads secrets, and validates the result.
// It returns the config, any validation warnings, and an error if the file
// exists but cannot be read or parsed, or if the command table is invalid.
func Load(path string) (Config, []string, error) {
	cfg := defaults()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return cfg, nil, fmt.Errorf("read config file: %w", err)
			}
		} else {
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return cfg, nil, fmt.Errorf("parse config file: %w", err)
			}
		}
	}

	applyEnvOverrides(&cfg)
	loadSecrets(&cfg)
	cfg.Scene = cfg.Scene.WithDefaults()

	if err := validator.New().Struct(cfg); err != nil {
		return cfg, nil, fmt.Errorf("invalid commands: %w", err)
	}

	warnings := validate(&cfg)
	return cfg, warnings, nil
}

// CommandTable compiles the configured commands, or the built-in table when
// none are configured.
func (c *Config) CommandTable() (*command.Table, error) {
	if len(c.Commands) == 0 {
		return command.Default(), nil
	}

	rules := make([]command.Rule, 0, len(c.Commands))
	for _, cc := range c.Commands {
		rules = append(rules, command.Rule{
			Name:     command.Command(cc.Name),
			Keywords: cc.Keywords,
			Match:    command.MatchMode(cc.Match),
			Message:  cc.Message,
			Color:    cc.Color,
		})
	}
	return command.NewTable(rules)
}

// ParsedRevertDelay returns RevertDelay as a time.Duration, falling back to
// 2s if the value is invalid.
func (c *Config) ParsedRevertDelay() time.Duration {
	return parseDuration(c.RevertDelay, 2*time.Second)
}

// ParsedRestartDelay returns RestartDelay as a time.Duration, falling back to
// 100ms if the value is invalid.
func (c *Config) ParsedRestartDelay() time.Duration {
	return parseDuration(c.RestartDelay, 100*time.Millisecond)
}

// ParsedSyncInterval returns GDriveSyncInterval, falling back to 5m.
func (c *Config) ParsedSyncInterval() time.Duration {
	return parseDuration(c.GDriveSyncInterval, 5*time.Minute)
}

// SlogLevel maps LogLevel onto slog, defaulting to info.
func (c *Config) SlogLevel() slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return slog.LevelInfo
	}
	return level
}

// SampleRateCandidates returns a deduplicated ordered list of sample rates
// to try: preferred rate first, then configured alternatives, then defaults.
func (c *Config) SampleRateCandidates() []int {
	hardcoded := []int{16000, 48000, 44100, 32000, 24000}

	combined := make([]int, 0, 1+len(c.MicSampleRates)+len(hardcoded))
	combined = append(combined, c.MicSampleRate)
	combined = append(combined, c.MicSampleRates...)
	combined = append(combined, hardcoded...)

	seen := make(map[int]struct{}, len(combined))
	result := make([]int, 0, len(combined))
	for _, rate := range combined {
		if rate <= 0 {
			continue
		}
		if _, ok := seen[rate]; ok {
			continue
		}
		seen[rate] = struct{}{}
		result = append(result, rate)
	}
	return result
}

// AssistantKey returns the API key for the provider named in AssistantModel,
// or "" when the model string is malformed.
func (c *Config) AssistantKey() string {
	provider, _, err := llm.ParseModel(c.AssistantModel)
	if err != nil {
		return ""
	}
	return c.LLMKeys().For(provider)
}

// LLMKeys bundles the provider secrets for llm.FromModel.
func (c *Config) LLMKeys() llm.Keys {
	return llm.Keys{Gemini: c.GeminiAPIKey, OpenAI: c.OpenAIAPIKey, Anthropic: c.AnthropicAPIKey}
}

func applyEnvOverrides(cfg *Config) {
	strs := map[string]*string{
		"HTTP_ADDR":               &cfg.HTTPAddr,
		"LOG_LEVEL":               &cfg.LogLevel,
		"LOG_FILE":                &cfg.LogFile,
		"DB_PATH":                 &cfg.DBPath,
		"TRANSCRIPT_DIR":          &cfg.TranscriptDir,
		"MODELS_DIR":              &cfg.ModelsDir,
		"LANGUAGE":                &cfg.Language,
		"REVERT_DELAY":            &cfg.RevertDelay,
		"RESTART_DELAY":           &cfg.RestartDelay,
		"DEEPGRAM_MODEL":          &cfg.DeepgramModel,
		"ASSISTANT_MODEL":         &cfg.AssistantModel,
		"GDRIVE_FOLDER_ID":        &cfg.GDriveFolderID,
		"GOOGLE_CREDENTIALS_FILE": &cfg.GoogleCredentialsFile,
		"GDRIVE_SYNC_INTERVAL":    &cfg.GDriveSyncInterval,
	}
	for key, dst := range strs {
		if v := os.Getenv(EnvPrefix + key); v != "" {
			*dst = v
		}
	}

	if v := os.Getenv(EnvPrefix + "MAX_RESTARTS"); v != "" {
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil && n > 0 {
			cfg.MaxRestarts = n
		}
	}
	if v := os.Getenv(EnvPrefix + "MIC_SAMPLE_RATE"); v != "" {
		if rate, err := strconv.Atoi(strings.TrimSpace(v)); err == nil && rate > 0 {
			cfg.MicSampleRate = rate
		}
	}
	if v := os.Getenv(EnvPrefix + "MIC_SAMPLE_RATES"); v != "" {
		cfg.MicSampleRates = parseSampleRates(v)
	}
	if v := os.Getenv(EnvPrefix + "REPLY_UNMATCHED"); v != "" {
		if b, err := strconv.ParseBool(strings.TrimSpace(v)); err == nil {
			cfg.ReplyUnmatched = b
		}
	}
}

func loadSecrets(cfg *Config) {
	cfg.DeepgramAPIKey = os.Getenv(EnvPrefix + "DEEPGRAM_API_KEY")
	cfg.GeminiAPIKey = os.Getenv(EnvPrefix + "GEMINI_API_KEY")
	cfg.OpenAIAPIKey = os.Getenv(EnvPrefix + "OPENAI_API_KEY")
	cfg.AnthropicAPIKey = os.Getenv(EnvPrefix + "ANTHROPIC_API_KEY")
}

func validate(cfg *Config) []string {
	var warnings []string

	if cfg.DeepgramAPIKey == "" {
		warnings = append(warnings, "Deepgram API key not configured; voice commands are disabled. Set "+EnvPrefix+"DEEPGRAM_API_KEY.")
	}
	if cfg.AssistantKey() == "" {
		warnings = append(warnings, fmt.Sprintf("No API key for assistant model %q; assistant replies are disabled.", cfg.AssistantModel))
	}
	for name, value := range map[string]string{
		"revert_delay":         cfg.RevertDelay,
		"restart_delay":        cfg.RestartDelay,
		"gdrive_sync_interval": cfg.GDriveSyncInterval,
	} {
		if _, err := time.ParseDuration(value); err != nil {
			warnings = append(warnings, fmt.Sprintf("Invalid %s %q; using default.", name, value))
		}
	}
	if _, err := cfg.CommandTable(); err != nil {
		warnings = append(warnings, fmt.Sprintf("Invalid command table (%v); using built-in commands.", err))
		cfg.Commands = nil
	}

	return warnings
}

func parseDuration(raw string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(raw)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}

func parseSampleRates(raw string) []int {
	parts := strings.Split(raw, ",")
	seen := make(map[int]struct{}, len(parts))
	result := make([]int, 0, len(parts))

	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed == "" {
			continue
		}
		rate, err := strconv.Atoi(trimmed)
		if err != nil || rate <= 0 {
			continue
		}
		if _, ok := seen[rate]; ok {
			continue
		}
		seen[rate] = struct{}{}
		result = append(result, rate)
	}

	return result
}
