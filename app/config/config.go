package config

import (
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/samber/oops"
	"gopkg.in/yaml.v3"
)

const (
	ProviderOpenAI    = "openai"
	ProviderLangChain = "langchain"
	ProviderAnthropic = "anthropic"

	ReplyCheckAdvisory   = "advisory"
	ReplyCheckEnforce    = "enforce"
	ReplyCheckRegenerate = "regenerate"
)

type Config struct {
	Log          Log          `yaml:"log"`
	LLM          LLM          `yaml:"llm"`
	Conversation Conversation `yaml:"conversation"`
	Twitch       Twitch       `yaml:"twitch"`
	HTTP         HTTP         `yaml:"http"`
	NATS         NATS         `yaml:"nats"`
	Archive      Archive      `yaml:"archive"`
	Knowledge    Knowledge    `yaml:"knowledge"`
	Sender       Sender       `yaml:"sender"`
}

type LLM struct {
	Planner ModelConfig `yaml:"planner" validate:"required"`
	Goal    ModelConfig `yaml:"goal" validate:"required"`
	Reply   ModelConfig `yaml:"reply" validate:"required"`
	Check   ModelConfig `yaml:"check" validate:"required"`
	// Used by the knowledge fetcher when no MCP server is configured
	Knowledge ModelConfig `yaml:"knowledge" validate:"required"`
	// Token used for every model config that does not set its own
	Token string `yaml:"token" env:"PFC_LLM_TOKEN"`
	// Base URL used for every model config that does not set its own
	BaseURL string `yaml:"base_url" env:"PFC_LLM_BASE_URL"`
}

type ModelConfig struct {
	// One of openai, langchain, anthropic
	Provider string `yaml:"provider" example:"openai" validate:"required,oneof=openai langchain anthropic"`
	// OpenAI compatible base url
	BaseURL string `yaml:"base_url" example:"https://openrouter.ai/api/v1"`
	// API token
	Token string `yaml:"token" example:"sk-proj-abc123456789DEF789ghi012JKL345mno678PQR901stu234VWX" validate:"required"`
	// Model name
	Model string `yaml:"model" example:"deepseek/deepseek-chat-v3-0324:free" validate:"required"`
	// Sampling temperature
	Temperature float64 `yaml:"temperature" example:"0.7" validate:"gte=0,lte=2"`
	// Completion token limit
	MaxTokens int `yaml:"max_tokens" example:"1000" validate:"gte=0"`
	// Upper bound for a single request
	RequestTimeout time.Duration `yaml:"request_timeout" example:"30s"`
}

type Conversation struct {
	// Identity of the bot in chat; messages from it count as bot speech
	BotID string `yaml:"bot_id" example:"pogchamp123" env:"PFC_BOT_ID"`
	// Name the bot uses for itself in prompts
	BotName string `yaml:"bot_name" example:"Durka" validate:"required"`
	// Free-form personality description injected into prompts
	Personality string `yaml:"personality"`
	// How long a caller waits for a concurrent initialization
	InitWaitTimeout time.Duration `yaml:"init_wait_timeout" example:"10s" validate:"gt=0"`
	// How long the loop waits for the observer to settle
	RefreshTimeout time.Duration `yaml:"refresh_timeout" example:"5s" validate:"gt=0"`
	// Observer start-up grace period before the first goal analysis
	ObserverWarmup time.Duration `yaml:"observer_warmup" example:"1s" validate:"gte=0"`
	// Waiter poll granularity
	WaitPollInterval time.Duration `yaml:"wait_poll_interval" example:"1s" validate:"gt=0"`
	// Waiter ceiling
	WaitTimeout time.Duration `yaml:"wait_timeout" example:"300s" validate:"gt=0"`
	// Pause before dispatching a fallback plan
	FallbackBackoff time.Duration `yaml:"fallback_backoff" example:"5s" validate:"gte=0"`
	// Idle time after which the chat is considered cold
	ColdChatAfter time.Duration `yaml:"cold_chat_after" example:"60s" validate:"gt=0"`
	// What to do with a rejected reply: advisory, enforce, regenerate
	ReplyCheckPolicy string `yaml:"reply_check_policy" example:"advisory" validate:"oneof=advisory enforce regenerate"`
	// Regeneration attempts for the regenerate policy
	MaxReplyRetries int `yaml:"max_reply_retries" example:"3" validate:"gte=1"`
	// Sent before a conversation ends because nobody answered
	TimeoutMessage string `yaml:"timeout_message" validate:"required"`
}

type Twitch struct {
	// Connect to Twitch chat
	Enabled bool `yaml:"enabled" example:"true" env:"PFC_TWITCH_ENABLED"`
	// ClientID of the twitch application
	ClientID string `yaml:"client_id" example:"a1b2c3d4e5f6g7h8i9j0k1l2m3n4o5p" env:"PFC_TWITCH_CLIENT_ID" validate:"required_if=Enabled true"`
	// Client secret of the twitch application
	ClientSecret string `yaml:"client_secret" example:"abc123def456ghi789jkl012mno345pqr678stu901" env:"PFC_TWITCH_CLIENT_SECRET" validate:"required_if=Enabled true"`
	// Username of the bot account
	Username string `yaml:"username" example:"PogChamp123" validate:"required_if=Enabled true"`
	// Channel name of the channel
	Channel string `yaml:"channel" example:"PogChamp123" validate:"required_if=Enabled true"`
	// User refresh token of the bot account
	RefreshToken string `yaml:"refresh_token" example:"v1.abc123def456ghi789jkl012mno345pqr678stu901vwx234yz567" env:"PFC_TWITCH_REFRESH_TOKEN" validate:"required_if=Enabled true"`
	// Disable notifications
	DisableNotifications bool `yaml:"disable_notifications" example:"false"`
	// Ignore chat
	IgnoreChat bool `yaml:"ignore_chat" example:"false"`
}

type HTTP struct {
	// Listen address of the ingress API
	Listen string `yaml:"listen" example:":8080" env:"PFC_HTTP_LISTEN"`
}

type NATS struct {
	Enabled bool   `yaml:"enabled" env:"PFC_NATS_ENABLED"`
	URL     string `yaml:"url" example:"nats://localhost:4222" env:"PFC_NATS_URL" validate:"required_if=Enabled true"`
	Token   string `yaml:"token" env:"PFC_NATS_TOKEN"`
	// Subject prefix for inbound, notify, outbound and action subjects
	SubjectPrefix string `yaml:"subject_prefix" example:"pfc"`
}

type Archive struct {
	// bbolt database file holding the message archive
	Path string `yaml:"path" example:"data/messages.bolt" env:"PFC_ARCHIVE_PATH" validate:"required"`
	// Messages kept in memory per stream
	HistorySize int `yaml:"history_size" example:"100" validate:"gt=0"`
}

type Knowledge struct {
	MCP MCP `yaml:"mcp"`
}

type MCP struct {
	// Command starting a stdio MCP server; empty disables MCP
	Command string   `yaml:"command" example:"docker"`
	Args    []string `yaml:"args"`
	// Tool to call with {"query": ...}
	Tool string `yaml:"tool" example:"search" validate:"required_with=Command"`
}

type Sender struct {
	// Sustained messages per second per stream
	RatePerSecond float64 `yaml:"rate_per_second" example:"0.5" validate:"gt=0"`
	// Burst size per stream
	Burst int `yaml:"burst" example:"2" validate:"gt=0"`
}

type Log struct {
	// slog level name, optionally with an offset such as info+2
	Level string `yaml:"level" example:"debug" validate:"omitempty,slog_level"`
	// Telegram logging config
	Telegram TelegramLog `yaml:"telegram"`
}

type TelegramLog struct {
	// Chat bot token, obtain it via BotFather
	Token string `yaml:"token" example:"1234567890:ABCdefGHIjklMNopQRstUVwxyZ-123456789" env:"PFC_TELEGRAM_TOKEN"`
	// Chat ID to send messages to
	ChatID string `yaml:"chat_id" example:"1001234567890" env:"PFC_TELEGRAM_CHAT_ID"`
}

func Load() (*Config, error) {
	return LoadFile("config.yaml")
}

func LoadFile(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, oops.In("config").Wrapf(err, "failed to load .env file")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, oops.In("config").With("path", path).Wrapf(err, "failed to read config file")
	}

	return Parse(data)
}

// Parse decodes YAML, applies environment overrides and defaults, then validates.
func Parse(data []byte) (*Config, error) {
	var result Config

	if err := yaml.Unmarshal(data, &result); err != nil {
		return nil, oops.In("config").Wrapf(err, "failed to parse YAML config")
	}

	if err := env.Parse(&result); err != nil {
		return nil, oops.In("config").Wrapf(err, "failed to apply environment overrides")
	}

	applyDefaults(&result)

	validate := validator.New(validator.WithRequiredStructEnabled())
	if err := validate.RegisterValidation("slog_level", validateLevel); err != nil {
		return nil, oops.In("config").Wrapf(err, "failed to register validation")
	}

	if err := validate.Struct(result); err != nil {
		return nil, oops.In("config").Wrapf(err, "failed to validate config")
	}

	return &result, nil
}

func validateLevel(fl validator.FieldLevel) bool {
	var level slog.Level
	return level.UnmarshalText([]byte(fl.Field().String())) == nil
}

func applyDefaults(cfg *Config) {
	for _, model := range []*ModelConfig{
		&cfg.LLM.Planner,
		&cfg.LLM.Goal,
		&cfg.LLM.Reply,
		&cfg.LLM.Check,
		&cfg.LLM.Knowledge,
	} {
		if model.Provider == "" {
			model.Provider = ProviderOpenAI
		}
		if model.Token == "" {
			model.Token = cfg.LLM.Token
		}
		if model.BaseURL == "" {
			model.BaseURL = cfg.LLM.BaseURL
		}
		if model.Temperature == 0 {
			model.Temperature = 0.7
		}
		if model.MaxTokens == 0 {
			model.MaxTokens = 1000
		}
		if model.RequestTimeout == 0 {
			model.RequestTimeout = 30 * time.Second
		}
	}

	c := &cfg.Conversation
	if c.BotName == "" {
		c.BotName = "bot"
	}
	if c.BotID == "" {
		c.BotID = c.BotName
	}
	if c.InitWaitTimeout == 0 {
		c.InitWaitTimeout = 10 * time.Second
	}
	if c.RefreshTimeout == 0 {
		c.RefreshTimeout = 5 * time.Second
	}
	if c.ObserverWarmup == 0 {
		c.ObserverWarmup = time.Second
	}
	if c.WaitPollInterval == 0 {
		c.WaitPollInterval = time.Second
	}
	if c.WaitTimeout == 0 {
		c.WaitTimeout = 300 * time.Second
	}
	if c.FallbackBackoff == 0 {
		c.FallbackBackoff = 5 * time.Second
	}
	if c.ColdChatAfter == 0 {
		c.ColdChatAfter = 60 * time.Second
	}
	if c.ReplyCheckPolicy == "" {
		c.ReplyCheckPolicy = ReplyCheckAdvisory
	}
	if c.MaxReplyRetries == 0 {
		c.MaxReplyRetries = 3
	}
	if c.TimeoutMessage == "" {
		c.TimeoutMessage = "Sorry, I've been waiting for too long and need to go. Let's talk later!"
	}

	if cfg.HTTP.Listen == "" {
		cfg.HTTP.Listen = ":8080"
	}
	if cfg.NATS.SubjectPrefix == "" {
		cfg.NATS.SubjectPrefix = "pfc"
	}
	if cfg.Archive.Path == "" {
		cfg.Archive.Path = "data/messages.bolt"
	}
	if cfg.Archive.HistorySize == 0 {
		cfg.Archive.HistorySize = 100
	}
	if cfg.Sender.RatePerSecond == 0 {
		cfg.Sender.RatePerSecond = 0.5
	}
	if cfg.Sender.Burst == 0 {
		cfg.Sender.Burst = 2
	}
}
