package cmd

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"reflect"
	"strings"
	"syscall"

	"github.com/LeeHyeonKyu/dwarf-discord-bot/raidbot"
	"github.com/joho/godotenv"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	cfg        = raidbot.DefaultConfig()
	configFile string
)

var rootCmd = &cobra.Command{
	Use: "raidbot [flags]",
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		err := viper.Unmarshal(
			cfg,
			viper.DecodeHook(
				mapstructure.ComposeDecodeHookFunc(
					mapstructure.StringToTimeDurationHookFunc(),
					LevelToStringHookFunc(),
				),
			),
		)
		if err != nil {
			log.Fatalln(err)
		}
	},
}

func getLogLevel(level string) (slog.Level, error) {
	switch level {
	case slog.LevelDebug.String():
		return slog.LevelDebug, nil
	case slog.LevelInfo.String():
		return slog.LevelInfo, nil
	case slog.LevelWarn.String():
		return slog.LevelWarn, nil
	case slog.LevelError.String():
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("invalid log level: %s", level)
	}
}

func LevelToStringHookFunc() mapstructure.DecodeHookFuncType {
	return func(
		f reflect.Type,
		t reflect.Type,
		data any,
	) (any, error) {
		if f.Kind() != reflect.String {
			return data, nil
		}
		if t.Kind() != reflect.Ptr {
			return data, nil
		}

		typ := t.Elem()

		if typ != reflect.TypeOf(slog.LevelVar{}) {
			return data, nil
		}
		lvl, err := getLogLevel(data.(string))
		if err != nil {
			return nil, fmt.Errorf("invalid log level: %s", data)
		}
		lvlVar := &slog.LevelVar{}
		lvlVar.Set(lvl)
		return lvlVar, nil
	}
}

func Execute() {
	ctx, cancel := context.WithCancel(context.Background())
	rootCmd.SetContext(ctx)
	signals := make(chan os.Signal, 1)
	signal.Notify(
		signals,
		os.Interrupt,
		syscall.SIGHUP,
		syscall.SIGTERM,
		syscall.SIGINT,
	)
	defer func() {
		signal.Stop(signals)
		cancel()
	}()
	go func() {
		select {
		case <-signals:
			cancel()
		case <-ctx.Done():
			//
		}
	}()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

func initConfig() {
	if configFile == "" {
		if err := godotenv.Load(); err != nil {
			log.Println("No .env file found")
		}
	} else {
		fmt.Println("loading env from file", configFile)
		if err := godotenv.Load(configFile); err != nil {
			log.Println("No .env file found")
		}
	}

	viper.SetDefault("database", raidbot.DefaultDatabase)
	viper.SetDefault("database_type", raidbot.DefaultDatabaseType)
	viper.SetDefault(
		"database_slow_threshold",
		raidbot.DefaultDatabaseSlowThreshold,
	)
	viper.SetDefault(
		"database_log_level",
		raidbot.DefaultDatabaseLogLevel.String(),
	)

	viper.SetDefault("log_level", raidbot.DefaultLogLevel.String())
	viper.SetDefault("startup_timeout", raidbot.DefaultStartupTimeout)
	viper.SetDefault("shutdown_timeout", raidbot.DefaultShutdownTimeout)

	// OpenAI config
	viper.SetDefault("openai.log_level", raidbot.DefaultOpenAILogLevel.String())
	viper.SetDefault("openai.token", "")
	viper.SetDefault("openai.model", raidbot.DefaultOpenAIModel)
	viper.SetDefault("openai.temperature", raidbot.DefaultOpenAITemperature)
	viper.SetDefault("openai.max_tokens", raidbot.DefaultOpenAIMaxTokens)
	viper.SetDefault(
		"openai.max_requests_per_second",
		raidbot.DefaultOpenAIMaxRequestsPerSecond,
	)
	viper.SetDefault(
		"openai.max_intents_per_command",
		raidbot.DefaultMaxIntentsPerCommand,
	)

	// Lost Ark config
	viper.SetDefault("lostark.log_level", raidbot.DefaultLostarkLogLevel.String())
	viper.SetDefault("lostark.token", "")
	viper.SetDefault("lostark.base_url", raidbot.DefaultLostarkBaseURL)
	viper.SetDefault("lostark.min_item_level", raidbot.DefaultLostarkMinItemLevel)
	viper.SetDefault(
		"lostark.max_requests_per_second",
		raidbot.DefaultLostarkMaxRequestsPerSecond,
	)

	// Discord config
	viper.SetDefault("discord.token", "")
	viper.SetDefault("discord.application_id", "")
	viper.SetDefault("discord.guild_id", "")
	viper.SetDefault("discord.schedule_channel_id", "")
	viper.SetDefault(
		"discord.log_level",
		raidbot.DefaultDiscordLogLevel.String(),
	)
	viper.SetDefault(
		"discord.discordgo_log_level",
		raidbot.DefaultDiscordgoLogLevel.String(),
	)
	viper.SetDefault(
		"discord.gateway_intents",
		raidbot.DefaultDiscordGatewayIntent,
	)
	viper.SetDefault("discord.startup_message", raidbot.DefaultDiscordStartupMessage)
	viper.SetDefault("discord.error_message", raidbot.DefaultDiscordErrorMessage)
	viper.SetDefault(
		"discord.thread_history_limit",
		raidbot.DefaultThreadHistoryLimit,
	)

	// API config
	viper.SetDefault("api.enabled", true)
	viper.SetDefault("api.listen", raidbot.DefaultAPIListen)
	viper.SetDefault("api.listen_network", "tcp")
	viper.SetDefault("api.log_level", raidbot.DefaultAPILogLevel.String())
	viper.SetDefault("api.read_timeout", raidbot.DefaultReadTimeout)
	viper.SetDefault(
		"api.read_header_timeout",
		raidbot.DefaultReadHeaderTimeout,
	)
	viper.SetDefault("api.write_timeout", raidbot.DefaultWriteTimeout)
	viper.SetDefault("api.idle_timeout", raidbot.DefaultIdleTimeout)

	// API: CORS config
	viper.SetDefault(
		"api.cors.allow_headers",
		raidbot.DefaultCORSAllowHeaders,
	)
	viper.SetDefault(
		"api.cors.allow_methods",
		raidbot.DefaultCORSAllowMethods,
	)
	viper.SetDefault("api.cors.allow_origins", []string{})
	viper.SetDefault("api.cors.max_age", raidbot.DefaultCORSMaxAge)
	viper.SetDefault("api.cors.allow_credentials", false)

	// Cache config
	viper.SetDefault("cache.horizon", raidbot.DefaultCacheHorizon)
	viper.SetDefault("cache.sweep_interval", raidbot.DefaultCacheSweepInterval)

	// Roster config
	viper.SetDefault("roster.raids_path", raidbot.DefaultRaidsConfigPath)
	viper.SetDefault("roster.members_path", raidbot.DefaultMembersConfigPath)
	viper.SetDefault(
		"roster.characters_path",
		raidbot.DefaultMemberCharactersPath,
	)

	envPrefix := os.Getenv(raidbot.EnvvarSetEnvPrefix)
	if envPrefix == "" {
		envPrefix = raidbot.DefaultEnvPrefix
	}
	viper.SetEnvPrefix(envPrefix)

	replacer := strings.NewReplacer(".", "_")
	viper.SetEnvKeyReplacer(replacer)
	viper.AutomaticEnv()

	// Convert values to correct types
	viper.Set(
		"api.cors.allow_headers",
		viper.GetStringSlice("api.cors.allow_headers"),
	)
	viper.Set(
		"api.cors.allow_origins",
		viper.GetStringSlice("api.cors.allow_origins"),
	)
	viper.Set(
		"api.cors.allow_methods",
		viper.GetStringSlice("api.cors.allow_methods"),
	)

	for _, key := range []string{
		"log_level",
		"database_log_level",
		"discord.log_level",
		"discord.discordgo_log_level",
		"openai.log_level",
		"lostark.log_level",
		"api.log_level",
	} {
		logLevelVar, err := levelStringToLevelVar(viper.GetString(key))
		if err != nil {
			log.Fatalf("error parsing %s: %v", key, err)
		}
		viper.Set(key, logLevelVar)
	}
}

func levelStringToLevelVar(lvl string) (*slog.LevelVar, error) {
	level := &slog.LevelVar{}
	err := level.UnmarshalText([]byte(lvl))
	return level, err
}

//goland:noinspection GoLinter,GoLinter
func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(
		&configFile,
		"config",
		"",
		"Config file to use",
	)
}
