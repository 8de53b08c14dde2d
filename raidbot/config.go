//nolint:lll // struct tags can't be split
package raidbot

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/gin-contrib/cors"
	openai "github.com/sashabaranov/go-openai"
)

const (
	EnvvarSetEnvPrefix = "RAIDBOT_ENV_PREFIX"
	DefaultEnvPrefix   = "RAIDBOT"

	DefaultDatabaseType = "sqlite"
	DefaultDatabase     = "raidbot.sqlite3"
	DefaultLogLevel     = slog.LevelInfo

	DefaultStartupTimeout  = 30 * time.Second
	DefaultShutdownTimeout = 60 * time.Second

	DefaultOpenAIModel                 = openai.GPT4o
	DefaultOpenAITemperature           = 0.0
	DefaultOpenAIMaxTokens             = 1000
	DefaultOpenAIMaxRequestsPerSecond  = 1
	DefaultLostarkMaxRequestsPerSecond = 2
	DefaultLostarkBaseURL              = "https://developer-lostark.game.onstove.com"
	DefaultLostarkMinItemLevel         = 1600.0

	// DefaultMaxIntentsPerCommand caps how many structured intents a single
	// chat command may expand into. "20딜" should not balloon into twenty
	// schedule mutations.
	DefaultMaxIntentsPerCommand = 10

	DefaultCacheHorizon       = 30 * 24 * time.Hour
	DefaultCacheSweepInterval = 6 * time.Hour

	DefaultDatabaseSlowThreshold = 200 * time.Millisecond
	DefaultDatabaseLogLevel      = slog.LevelInfo
	DefaultDiscordgoLogLevel     = slog.LevelWarn
	DefaultDiscordLogLevel       = slog.LevelWarn
	DefaultOpenAILogLevel        = slog.LevelInfo
	DefaultLostarkLogLevel       = slog.LevelInfo
	DefaultAPILogLevel           = slog.LevelInfo

	DefaultDiscordGatewayIntent = discordgo.IntentsAllWithoutPrivileged | discordgo.IntentMessageContent
	DefaultDiscordErrorMessage  = "처리 중 오류가 발생했습니다."
	DefaultDiscordStartupMessage = "레이드 봇이 준비되었습니다!"

	DefaultThreadHistoryLimit        = 100
	DefaultThreadAutoArchiveDuration = 10080 // minutes (7 days)

	DefaultAPIListen         = "127.0.0.1:5000"
	defaultListenNetwork     = "tcp"
	DefaultReadTimeout       = 5 * time.Second
	DefaultReadHeaderTimeout = 5 * time.Second
	DefaultWriteTimeout      = 10 * time.Second
	DefaultIdleTimeout       = 30 * time.Second

	DefaultRaidsConfigPath      = "configs/raids_config.yaml"
	DefaultMembersConfigPath    = "configs/members_config.yaml"
	DefaultMemberCharactersPath = "data/member_characters.json"
)

var (
	DefaultCORSAllowMethods = []string{
		http.MethodGet,
		http.MethodHead,
		http.MethodOptions,
	}
	DefaultCORSAllowHeaders = []string{
		"Origin",
		"Content-Length",
		"Content-Type",
		"Accept",
		"Cache-Control",
	}
	DefaultCORSMaxAge = 12 * time.Hour
)

type Config struct {
	// Database connection string
	Database string `yaml:"database" mapstructure:"database" json:"database"`

	// DatabaseType specifies the type of database, either 'sqlite' or 'postgres'
	DatabaseType string `yaml:"database_type" mapstructure:"database_type" json:"database_type" binding:"oneof=sqlite postgres"`

	// DatabaseLogLevel sets the log level for database operations
	DatabaseLogLevel *slog.LevelVar `yaml:"database_log_level" mapstructure:"database_log_level" json:"database_log_level"`

	// DatabaseSlowThreshold is the duration threshold for identifying slow database queries
	DatabaseSlowThreshold time.Duration `yaml:"database_slow_threshold" mapstructure:"database_slow_threshold" json:"database_slow_threshold"`

	// OpenAI holds the configuration for the intent-extraction integration
	OpenAI *OpenAIConfig `yaml:"openai" mapstructure:"openai" json:"openai"`

	// Lostark configures the game character-lookup API client
	Lostark *LostarkConfig `yaml:"lostark" mapstructure:"lostark" json:"lostark"`

	// Discord configures aspects of the Discord bot itself
	Discord *DiscordConfig `yaml:"discord" mapstructure:"discord" json:"discord"`

	// API configures the health/status API server
	API *APIConfig `yaml:"api" mapstructure:"api" json:"api"`

	// Cache configures the extraction-result cache
	Cache *CacheConfig `yaml:"cache" mapstructure:"cache" json:"cache"`

	// Roster configures where raid/member definitions are loaded from
	Roster *RosterConfig `yaml:"roster" mapstructure:"roster" json:"roster"`

	// LogLevel is the base log level, for the default logger
	LogLevel *slog.LevelVar `yaml:"log_level" mapstructure:"log_level" json:"log_level"`

	// StartupTimeout sets a limit on the amount of time the bot has to
	// initialize. If this is passed, the bot will abort startup.
	StartupTimeout time.Duration `yaml:"startup_timeout" mapstructure:"startup_timeout" json:"startup_timeout"`

	// ShutdownTimeout is the time to allow for a graceful shutdown. After this
	// elapses, the bot will force close all connections and exit.
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" mapstructure:"shutdown_timeout" json:"shutdown_timeout"`

	HTTPClient *http.Client `log:"[redacted]"`
}

func (c Config) LogValue() slog.Value {
	return structToSlogValue(c)
}

// OpenAIConfig configures the intent-extraction API integration
type OpenAIConfig struct {
	// OpenAI API token
	Token string `yaml:"token" mapstructure:"token" json:"token" log:"[redacted]" binding:"required"`

	// Chat completion model used for intent extraction
	Model string `yaml:"model" mapstructure:"model" json:"model"`

	// Sampling temperature. Kept at zero so repeated extractions of the
	// same thread text stay cache-friendly.
	Temperature float32 `yaml:"temperature" mapstructure:"temperature" json:"temperature"`

	// Maximum completion tokens per extraction call
	MaxTokens int `yaml:"max_tokens" mapstructure:"max_tokens" json:"max_tokens"`

	// Maximum API requests per second
	MaxRequestsPerSecond int `yaml:"max_requests_per_second" mapstructure:"max_requests_per_second" json:"max_requests_per_second"`

	// Hard cap on intents produced by one extraction
	MaxIntentsPerCommand int `yaml:"max_intents_per_command" mapstructure:"max_intents_per_command" json:"max_intents_per_command"`

	// OpenAI base log level
	LogLevel *slog.LevelVar `yaml:"log_level" mapstructure:"log_level" json:"log_level"`
}

// LostarkConfig configures the Lost Ark open-API client
type LostarkConfig struct {
	// Lost Ark developer API token
	Token string `yaml:"token" mapstructure:"token" json:"token" log:"[redacted]"`

	// API base URL (overridden in tests)
	BaseURL string `yaml:"base_url" mapstructure:"base_url" json:"base_url"`

	// Characters below this item level are dropped from roster listings
	MinItemLevel float64 `yaml:"min_item_level" mapstructure:"min_item_level" json:"min_item_level"`

	// Maximum API requests per second
	MaxRequestsPerSecond int `yaml:"max_requests_per_second" mapstructure:"max_requests_per_second" json:"max_requests_per_second"`

	// Lost Ark client log level
	LogLevel *slog.LevelVar `yaml:"log_level" mapstructure:"log_level" json:"log_level"`
}

// DiscordConfig configures the discord bot itself.
//
//nolint:lll // can't break tags
type DiscordConfig struct {
	// Discord bot token (from the 'Bot' tab in the discord dev portal)
	Token string `yaml:"token" mapstructure:"token" json:"token" log:"[redacted]" binding:"required"`

	// Discord application ID (from the 'General Information' tab in the discord dev portal)
	ApplicationID string `yaml:"application_id" mapstructure:"application_id" json:"application_id"`

	// GuildID of the guild whose raid channel the bot manages
	GuildID string `yaml:"guild_id" mapstructure:"guild_id" json:"guild_id"`

	// ScheduleChannelID is the channel where raid starter messages and
	// their threads live
	ScheduleChannelID string `yaml:"schedule_channel_id" mapstructure:"schedule_channel_id" json:"schedule_channel_id"`

	// If set, this message is posted to the schedule channel whenever the
	// gateway connects
	StartupMessage string `yaml:"startup_message" mapstructure:"startup_message" json:"startup_message"`

	// ErrorMessage is the generic failure reply for command errors
	ErrorMessage string `yaml:"error_message" mapstructure:"error_message" json:"error_message"`

	// Number of thread messages fed to intent extraction
	ThreadHistoryLimit int `yaml:"thread_history_limit" mapstructure:"thread_history_limit" json:"thread_history_limit"`

	// Base discord logging level
	LogLevel *slog.LevelVar `yaml:"log_level" mapstructure:"log_level" json:"log_level"`

	// Log level for the `discordgo` library's logger
	DiscordGoLogLevel *slog.LevelVar `yaml:"discordgo_log_level" mapstructure:"discordgo_log_level" json:"discordgo_log_level"`

	// Discord gateway intents. See: https://discord.com/developers/docs/topics/gateway#gateway-intents
	GatewayIntents discordgo.Intent `yaml:"gateway_intents" mapstructure:"gateway_intents" json:"gateway_intents"`

	httpClient *http.Client
}

// APIConfig configures the health/status API server
type APIConfig struct {
	// Enabled determines whether the API server is started at all
	Enabled bool `yaml:"enabled" mapstructure:"enabled" json:"enabled"`

	// The address and port on which the server should listen (e.g., "127.0.0.1:5000").
	Listen string `yaml:"listen" mapstructure:"listen" json:"listen" binding:"required_if=Enabled true,hostname|filepath"`

	// The network type for listening (e.g., "tcp", "tcp4", "tcp6", "unix").
	ListenNetwork string `yaml:"listen_network" mapstructure:"listen_network" json:"listen_network" binding:"required_if=Enabled true,oneof=tcp tcp4 tcp6 unix"`

	// The logging level for the API server.
	LogLevel *slog.LevelVar `yaml:"log_level" mapstructure:"log_level" json:"log_level"`

	// Cross-origin configuration
	CORS CORSConfig `yaml:"cors" mapstructure:"cors" json:"cors"`

	// Maximum duration for reading the entire request, including the body.
	ReadTimeout time.Duration `yaml:"read_timeout" mapstructure:"read_timeout" json:"read_timeout" binding:"required_if=Enabled true,min=1s"`

	// Amount of time allowed to read request headers.
	ReadHeaderTimeout time.Duration `yaml:"read_header_timeout" mapstructure:"read_header_timeout" json:"read_header_timeout" binding:"required_if=Enabled true,min=1s"`

	// Maximum duration before timing out writes of the response.
	WriteTimeout time.Duration `yaml:"write_timeout" mapstructure:"write_timeout" json:"write_timeout" binding:"required_if=Enabled true,min=1s"`

	// Maximum amount of time to wait for the next request when keep-alives are enabled.
	IdleTimeout time.Duration `yaml:"idle_timeout" mapstructure:"idle_timeout" json:"idle_timeout" binding:"required_if=Enabled true,min=1s"`
}

// CacheConfig configures the extraction-result cache
type CacheConfig struct {
	// Entries older than this are purged by the sweep. There is no other
	// invalidation: extraction is deterministic for identical input.
	Horizon time.Duration `yaml:"horizon" mapstructure:"horizon" json:"horizon"`

	// How often the sweep runs
	SweepInterval time.Duration `yaml:"sweep_interval" mapstructure:"sweep_interval" json:"sweep_interval"`
}

// RosterConfig points at the raid/member definition files
type RosterConfig struct {
	// RaidsPath is the raid definition YAML (name, levels, party size)
	RaidsPath string `yaml:"raids_path" mapstructure:"raids_path" json:"raids_path"`

	// MembersPath is the guild member YAML (discord IDs, main characters)
	MembersPath string `yaml:"members_path" mapstructure:"members_path" json:"members_path"`

	// CharactersPath is the collected character-info JSON store
	CharactersPath string `yaml:"characters_path" mapstructure:"characters_path" json:"characters_path"`
}

// CORSConfig specifies cross-origin resource sharing settings
type CORSConfig struct {
	AllowOrigins     []string      `yaml:"allow_origins" mapstructure:"allow_origins" json:"allow_origins"`
	AllowMethods     []string      `yaml:"allow_methods" mapstructure:"allow_methods" json:"allow_methods"`
	AllowHeaders     []string      `yaml:"allow_headers" mapstructure:"allow_headers" json:"allow_headers"`
	AllowCredentials bool          `yaml:"allow_credentials" mapstructure:"allow_credentials" json:"allow_credentials"`
	MaxAge           time.Duration `yaml:"max_age" mapstructure:"max_age" json:"max_age"`
}

func (c CORSConfig) GINConfig() cors.Config {
	return cors.Config{
		AllowOrigins:     c.AllowOrigins,
		AllowMethods:     c.AllowMethods,
		AllowHeaders:     c.AllowHeaders,
		MaxAge:           c.MaxAge,
		AllowCredentials: c.AllowCredentials,
	}
}

func DefaultCORSConfig() CORSConfig {
	defaultMethods := make([]string, len(DefaultCORSAllowMethods))
	copy(defaultMethods, DefaultCORSAllowMethods)

	defaultHeaders := make([]string, len(DefaultCORSAllowHeaders))
	copy(defaultHeaders, DefaultCORSAllowHeaders)

	return CORSConfig{
		AllowOrigins: []string{},
		AllowMethods: defaultMethods,
		AllowHeaders: defaultHeaders,
		MaxAge:       DefaultCORSMaxAge,
	}
}

// DefaultConfig returns a Config with all default settings populated
func DefaultConfig() *Config {
	mainLogLevel := &slog.LevelVar{}
	openaiLogLevel := &slog.LevelVar{}
	lostarkLogLevel := &slog.LevelVar{}
	discordLogLevel := &slog.LevelVar{}
	discordgoLogLevel := &slog.LevelVar{}
	dbLogLevel := &slog.LevelVar{}
	apiLogLevel := &slog.LevelVar{}

	mainLogLevel.Set(DefaultLogLevel)
	openaiLogLevel.Set(DefaultOpenAILogLevel)
	lostarkLogLevel.Set(DefaultLostarkLogLevel)
	discordLogLevel.Set(DefaultDiscordLogLevel)
	discordgoLogLevel.Set(DefaultDiscordgoLogLevel)
	dbLogLevel.Set(DefaultDatabaseLogLevel)
	apiLogLevel.Set(DefaultAPILogLevel)

	return &Config{
		DatabaseType:          DefaultDatabaseType,
		Database:              DefaultDatabase,
		DatabaseLogLevel:      dbLogLevel,
		DatabaseSlowThreshold: DefaultDatabaseSlowThreshold,
		LogLevel:              mainLogLevel,
		StartupTimeout:        DefaultStartupTimeout,
		ShutdownTimeout:       DefaultShutdownTimeout,
		OpenAI: &OpenAIConfig{
			Model:                DefaultOpenAIModel,
			Temperature:          DefaultOpenAITemperature,
			MaxTokens:            DefaultOpenAIMaxTokens,
			MaxRequestsPerSecond: DefaultOpenAIMaxRequestsPerSecond,
			MaxIntentsPerCommand: DefaultMaxIntentsPerCommand,
			LogLevel:             openaiLogLevel,
		},
		Lostark: &LostarkConfig{
			BaseURL:              DefaultLostarkBaseURL,
			MinItemLevel:         DefaultLostarkMinItemLevel,
			MaxRequestsPerSecond: DefaultLostarkMaxRequestsPerSecond,
			LogLevel:             lostarkLogLevel,
		},
		Discord: &DiscordConfig{
			GatewayIntents:     DefaultDiscordGatewayIntent,
			LogLevel:           discordLogLevel,
			DiscordGoLogLevel:  discordgoLogLevel,
			StartupMessage:     DefaultDiscordStartupMessage,
			ErrorMessage:       DefaultDiscordErrorMessage,
			ThreadHistoryLimit: DefaultThreadHistoryLimit,
		},
		API: &APIConfig{
			Listen:            DefaultAPIListen,
			ListenNetwork:     defaultListenNetwork,
			LogLevel:          apiLogLevel,
			ReadHeaderTimeout: DefaultReadHeaderTimeout,
			ReadTimeout:       DefaultReadTimeout,
			WriteTimeout:      DefaultWriteTimeout,
			IdleTimeout:       DefaultIdleTimeout,
			CORS:              DefaultCORSConfig(),
		},
		Cache: &CacheConfig{
			Horizon:       DefaultCacheHorizon,
			SweepInterval: DefaultCacheSweepInterval,
		},
		Roster: &RosterConfig{
			RaidsPath:      DefaultRaidsConfigPath,
			MembersPath:    DefaultMembersConfigPath,
			CharactersPath: DefaultMemberCharactersPath,
		},
	}
}
