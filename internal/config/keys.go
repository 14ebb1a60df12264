package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

type keyType int

const (
	kString keyType = iota
	kInt
	kBool
	kFloat
)

type keySpec struct {
	key     string
	typ     keyType
	env     string
	secret  bool
	apply   func(cfg *Config, v any)
	extract func(cfg Config) any
}

// account is the secrets-file entry name of a secret key.
func (s keySpec) account() string {
	return strings.ReplaceAll(s.key, ".", "_")
}

var specs = []keySpec{
	{
		key: "provider.base_url", typ: kString, env: "JARVIS_PROVIDER_BASE_URL",
		apply:   func(cfg *Config, v any) { cfg.Provider.BaseURL = v.(string) },
		extract: func(cfg Config) any { return cfg.Provider.BaseURL },
	},
	{
		key: "provider.api_key", typ: kString, env: "JARVIS_PROVIDER_API_KEY",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.Provider.APIKey = v.(string) },
		extract: func(cfg Config) any { return cfg.Provider.APIKey },
	},
	{
		key: "provider.text_model", typ: kString, env: "JARVIS_PROVIDER_TEXT_MODEL",
		apply:   func(cfg *Config, v any) { cfg.Provider.TextModel = v.(string) },
		extract: func(cfg Config) any { return cfg.Provider.TextModel },
	},
	{
		key: "provider.vision_model", typ: kString, env: "JARVIS_PROVIDER_VISION_MODEL",
		apply:   func(cfg *Config, v any) { cfg.Provider.VisionModel = v.(string) },
		extract: func(cfg Config) any { return cfg.Provider.VisionModel },
	},
	{
		key: "provider.temperature", typ: kFloat, env: "JARVIS_PROVIDER_TEMPERATURE",
		apply:   func(cfg *Config, v any) { cfg.Provider.Temperature = v.(float64) },
		extract: func(cfg Config) any { return cfg.Provider.Temperature },
	},
	{
		key: "provider.max_tokens", typ: kInt, env: "JARVIS_PROVIDER_MAX_TOKENS",
		apply:   func(cfg *Config, v any) { cfg.Provider.MaxTokens = v.(int) },
		extract: func(cfg Config) any { return cfg.Provider.MaxTokens },
	},
	{
		key: "provider.timeout", typ: kString, env: "JARVIS_PROVIDER_TIMEOUT",
		apply:   func(cfg *Config, v any) { cfg.Provider.Timeout = v.(string) },
		extract: func(cfg Config) any { return cfg.Provider.Timeout },
	},
	{
		key: "conversation.backend", typ: kString, env: "JARVIS_CONVERSATION_BACKEND",
		apply:   func(cfg *Config, v any) { cfg.Conversation.Backend = v.(string) },
		extract: func(cfg Config) any { return cfg.Conversation.Backend },
	},
	{
		key: "conversation.file", typ: kString, env: "JARVIS_CONVERSATION_FILE",
		apply:   func(cfg *Config, v any) { cfg.Conversation.File = v.(string) },
		extract: func(cfg Config) any { return cfg.Conversation.File },
	},
	{
		key: "conversation.bolt_path", typ: kString, env: "JARVIS_CONVERSATION_BOLT_PATH",
		apply:   func(cfg *Config, v any) { cfg.Conversation.BoltPath = v.(string) },
		extract: func(cfg Config) any { return cfg.Conversation.BoltPath },
	},
	{
		key: "conversation.redis_url", typ: kString, env: "JARVIS_CONVERSATION_REDIS_URL",
		apply:   func(cfg *Config, v any) { cfg.Conversation.RedisURL = v.(string) },
		extract: func(cfg Config) any { return cfg.Conversation.RedisURL },
	},
	{
		key: "conversation.max_age", typ: kInt, env: "JARVIS_CONVERSATION_MAX_AGE",
		apply:   func(cfg *Config, v any) { cfg.Conversation.MaxAge = v.(int) },
		extract: func(cfg Config) any { return cfg.Conversation.MaxAge },
	},
	{
		key: "conversation.max_messages", typ: kInt, env: "JARVIS_CONVERSATION_MAX_MESSAGES",
		apply:   func(cfg *Config, v any) { cfg.Conversation.MaxMessages = v.(int) },
		extract: func(cfg Config) any { return cfg.Conversation.MaxMessages },
	},
	{
		key: "storage.data_dir", typ: kString, env: "JARVIS_STORAGE_DATA_DIR",
		apply:   func(cfg *Config, v any) { cfg.Storage.DataDir = v.(string) },
		extract: func(cfg Config) any { return cfg.Storage.DataDir },
	},
	{
		key: "home.backend", typ: kString, env: "JARVIS_HOME_BACKEND",
		apply:   func(cfg *Config, v any) { cfg.Home.Backend = v.(string) },
		extract: func(cfg Config) any { return cfg.Home.Backend },
	},
	{
		key: "home.url", typ: kString, env: "JARVIS_HOME_URL",
		apply:   func(cfg *Config, v any) { cfg.Home.URL = v.(string) },
		extract: func(cfg Config) any { return cfg.Home.URL },
	},
	{
		key: "home.api_key", typ: kString, env: "JARVIS_HOME_API_KEY",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.Home.APIKey = v.(string) },
		extract: func(cfg Config) any { return cfg.Home.APIKey },
	},
	{
		key: "home.registry_file", typ: kString, env: "JARVIS_HOME_REGISTRY_FILE",
		apply:   func(cfg *Config, v any) { cfg.Home.RegistryFile = v.(string) },
		extract: func(cfg Config) any { return cfg.Home.RegistryFile },
	},
	{
		key: "home.rooms", typ: kString, env: "JARVIS_HOME_ROOMS",
		apply:   func(cfg *Config, v any) { cfg.Home.Rooms = v.(string) },
		extract: func(cfg Config) any { return cfg.Home.Rooms },
	},
	{
		key: "home.excluded_equipment", typ: kString, env: "JARVIS_HOME_EXCLUDED_EQUIPMENT",
		apply:   func(cfg *Config, v any) { cfg.Home.ExcludedEquipment = v.(string) },
		extract: func(cfg Config) any { return cfg.Home.ExcludedEquipment },
	},
	{
		key: "home.action_categories", typ: kString, env: "JARVIS_HOME_ACTION_CATEGORIES",
		apply:   func(cfg *Config, v any) { cfg.Home.ActionCategories = v.(string) },
		extract: func(cfg Config) any { return cfg.Home.ActionCategories },
	},
	{
		key: "home.excluded_commands", typ: kString, env: "JARVIS_HOME_EXCLUDED_COMMANDS",
		apply:   func(cfg *Config, v any) { cfg.Home.ExcludedCommands = v.(string) },
		extract: func(cfg Config) any { return cfg.Home.ExcludedCommands },
	},
	{
		key: "assistant.default_profile", typ: kString, env: "JARVIS_ASSISTANT_DEFAULT_PROFILE",
		apply:   func(cfg *Config, v any) { cfg.Assistant.DefaultProfile = v.(string) },
		extract: func(cfg Config) any { return cfg.Assistant.DefaultProfile },
	},
	{
		key: "assistant.room_inference", typ: kBool, env: "JARVIS_ASSISTANT_ROOM_INFERENCE",
		apply:   func(cfg *Config, v any) { cfg.Assistant.RoomInference = v.(bool) },
		extract: func(cfg Config) any { return cfg.Assistant.RoomInference },
	},
	{
		key: "assistant.dry_run", typ: kBool, env: "JARVIS_ASSISTANT_DRY_RUN",
		apply:   func(cfg *Config, v any) { cfg.Assistant.DryRun = v.(bool) },
		extract: func(cfg Config) any { return cfg.Assistant.DryRun },
	},
	{
		key: "assistant.debug", typ: kBool, env: "JARVIS_ASSISTANT_DEBUG",
		apply:   func(cfg *Config, v any) { cfg.Assistant.Debug = v.(bool) },
		extract: func(cfg Config) any { return cfg.Assistant.Debug },
	},
	{
		key: "notify.backend", typ: kString, env: "JARVIS_NOTIFY_BACKEND",
		apply:   func(cfg *Config, v any) { cfg.Notify.Backend = v.(string) },
		extract: func(cfg Config) any { return cfg.Notify.Backend },
	},
	{
		key: "notify.scenario_id", typ: kInt, env: "JARVIS_NOTIFY_SCENARIO_ID",
		apply:   func(cfg *Config, v any) { cfg.Notify.ScenarioID = v.(int) },
		extract: func(cfg Config) any { return cfg.Notify.ScenarioID },
	},
	{
		key: "notify.telegram_token", typ: kString, env: "JARVIS_NOTIFY_TELEGRAM_TOKEN",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.Notify.TelegramToken = v.(string) },
		extract: func(cfg Config) any { return cfg.Notify.TelegramToken },
	},
	{
		key: "notify.telegram_chats", typ: kString, env: "JARVIS_NOTIFY_TELEGRAM_CHATS",
		apply:   func(cfg *Config, v any) { cfg.Notify.TelegramChats = v.(string) },
		extract: func(cfg Config) any { return cfg.Notify.TelegramChats },
	},
	{
		key: "server.port", typ: kInt, env: "JARVIS_SERVER_PORT",
		apply:   func(cfg *Config, v any) { cfg.Server.Port = v.(int) },
		extract: func(cfg Config) any { return cfg.Server.Port },
	},
	{
		key: "server.token", typ: kString, env: "JARVIS_SERVER_TOKEN",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.Server.Token = v.(string) },
		extract: func(cfg Config) any { return cfg.Server.Token },
	},
	{
		key: "server.rate_limit", typ: kFloat, env: "JARVIS_SERVER_RATE_LIMIT",
		apply:   func(cfg *Config, v any) { cfg.Server.RateLimit = v.(float64) },
		extract: func(cfg Config) any { return cfg.Server.RateLimit },
	},
	{
		key: "log.level", typ: kString, env: "JARVIS_LOG_LEVEL",
		apply:   func(cfg *Config, v any) { cfg.Log.Level = v.(string) },
		extract: func(cfg Config) any { return cfg.Log.Level },
	},
	{
		key: "log.file", typ: kString, env: "JARVIS_LOG_FILE",
		apply:   func(cfg *Config, v any) { cfg.Log.File = v.(string) },
		extract: func(cfg Config) any { return cfg.Log.File },
	},
}

func applyBackend(cfg *Config, b ConfigBackend) error {
	for _, s := range specs {
		if s.secret {
			continue
		}
		switch s.typ {
		case kString:
			v, ok, err := b.GetString(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
		case kInt:
			v, ok, err := b.GetInt(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
		case kBool:
			v, ok, err := b.GetString(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok && v != "" {
				if bv, err := strconv.ParseBool(v); err == nil {
					s.apply(cfg, bv)
				} else {
					fmt.Fprintf(os.Stderr, "[WARN] could not parse bool from config key %s=%q: %v. Using default value.\n", s.key, v, err)
				}
			}
		case kFloat:
			v, ok, err := b.GetString(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok && v != "" {
				if f, err := strconv.ParseFloat(v, 64); err == nil {
					s.apply(cfg, f)
				} else {
					fmt.Fprintf(os.Stderr, "[WARN] could not parse float from config key %s=%q: %v. Using default value.\n", s.key, v, err)
				}
			}
		}
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	for _, s := range specs {
		raw := os.Getenv(s.env)
		if raw == "" {
			continue
		}
		switch s.typ {
		case kString:
			s.apply(cfg, raw)
		case kInt:
			if i, err := strconv.Atoi(raw); err == nil {
				s.apply(cfg, i)
			} else {
				fmt.Fprintf(os.Stderr, "[WARN] could not parse integer from env var %s=%q: %v. Using default value.\n", s.env, raw, err)
			}
		case kBool:
			if b, err := strconv.ParseBool(raw); err == nil {
				s.apply(cfg, b)
			} else {
				fmt.Fprintf(os.Stderr, "[WARN] could not parse bool from env var %s=%q: %v. Using default value.\n", s.env, raw, err)
			}
		case kFloat:
			if f, err := strconv.ParseFloat(raw, 64); err == nil {
				s.apply(cfg, f)
			} else {
				fmt.Fprintf(os.Stderr, "[WARN] could not parse float from env var %s=%q: %v. Using default value.\n", s.env, raw, err)
			}
		}
	}
}
