package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Provider     ProviderConfig
	Conversation ConversationConfig
	Storage      StorageConfig
	Home         HomeConfig
	Assistant    AssistantConfig
	Notify       NotifyConfig
	Server       ServerConfig
	Log          LogConfig
}

type ProviderConfig struct {
	BaseURL     string
	APIKey      string
	TextModel   string
	VisionModel string
	Temperature float64
	MaxTokens   int
	Timeout     string
}

type ConversationConfig struct {
	Backend     string
	File        string
	BoltPath    string
	RedisURL    string
	MaxAge      int // seconds
	MaxMessages int
}

type StorageConfig struct {
	DataDir string
}

type HomeConfig struct {
	Backend           string
	URL               string
	APIKey            string
	RegistryFile      string
	Rooms             string
	ExcludedEquipment string
	ActionCategories  string
	ExcludedCommands  string
}

type AssistantConfig struct {
	DefaultProfile string
	RoomInference  bool
	DryRun         bool
	Debug          bool
}

type NotifyConfig struct {
	Backend       string
	ScenarioID    int
	TelegramToken string
	TelegramChats string
}

type ServerConfig struct {
	Port      int
	Token     string
	RateLimit float64
}

type LogConfig struct {
	Level string
	File  string
}

const (
	defaultRooms = "Maison,Jardin,Piscine,Consos,Entrée,Salon,Salle à manger,Cuisine,Garage," +
		"Demi Niveau,Bibliothèque,Salle de bain,Chambre Parents,Bureau,Etage,Chambre Evan,Chambre Eliott"
	defaultExcludedEquipment = "Prise,Volets,Résumé,Dodo,Eteindre,Météo Bischwiller,Pollens,Caméra Tablette Salon"
)

func defaults() Config {
	dataDir := defaultDataDir()
	return Config{
		Provider: ProviderConfig{
			BaseURL:     "https://api.openai.com/v1",
			TextModel:   "gpt-4o-mini",
			VisionModel: "gpt-4o",
			Temperature: 0.7,
			MaxTokens:   2000,
			Timeout:     "60s",
		},
		Conversation: ConversationConfig{
			Backend:     "file",
			File:        "/tmp/jeedom_ai_config.json",
			BoltPath:    dataDir + "/conversations.bolt",
			MaxAge:      3600,
			MaxMessages: 20,
		},
		Storage: StorageConfig{
			DataDir: dataDir,
		},
		Home: HomeConfig{
			Backend:           "jeedom",
			URL:               "http://localhost",
			Rooms:             defaultRooms,
			ExcludedEquipment: defaultExcludedEquipment,
			ActionCategories:  "light,opening,heating,security",
			ExcludedCommands:  "Rafraichir,binaire,Thumbnail",
		},
		Assistant: AssistantConfig{
			DefaultProfile: "Franck",
		},
		Notify: NotifyConfig{
			Backend:    "jeedom",
			ScenarioID: 387,
		},
		Server: ServerConfig{
			Port:      4100,
			RateLimit: 2,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load reads configuration from a .env file in the working directory, the
// JSON config file at $XDG_CONFIG_HOME/jarvis/config.json, JARVIS_*
// environment variables, and the secrets file for keys still unset.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		slog.Warn("could not load .env file", "error", err)
	}
	return loadWith(newPlatformBackend(), secretsFile{})
}

// secretStore abstracts the secrets file for testing.
type secretStore interface {
	Get(service, account string) (string, error)
}

func loadWith(b ConfigBackend, secrets secretStore) (Config, error) {
	cfg := defaults()

	if err := applyBackend(&cfg, b); err != nil {
		return Config{}, err
	}

	applyEnvOverrides(&cfg)
	applySecrets(&cfg, secrets)

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// applySecrets fills secret keys that neither the environment nor the
// backend provided.
func applySecrets(cfg *Config, secrets secretStore) {
	for _, s := range specs {
		if !s.secret || s.extract(*cfg) != "" {
			continue
		}
		if v, err := secrets.Get("jarvis", s.account()); err == nil && v != "" {
			s.apply(cfg, v)
		}
	}
}

func (cfg Config) validate() error {
	var missing []string
	if cfg.Provider.APIKey == "" {
		missing = append(missing, "provider API key (JARVIS_PROVIDER_API_KEY)")
	}
	switch cfg.Home.Backend {
	case "jeedom":
		if cfg.Home.APIKey == "" {
			missing = append(missing, "Jeedom API key (JARVIS_HOME_API_KEY)")
		}
	case "file":
		if cfg.Home.RegistryFile == "" {
			missing = append(missing, "registry file (home.registry_file)")
		}
	default:
		return fmt.Errorf("invalid home.backend %q (want jeedom or file)", cfg.Home.Backend)
	}
	switch cfg.Notify.Backend {
	case "jeedom", "log":
	case "telegram":
		if cfg.Notify.TelegramToken == "" {
			missing = append(missing, "Telegram bot token (JARVIS_NOTIFY_TELEGRAM_TOKEN)")
		}
	default:
		return fmt.Errorf("invalid notify.backend %q (want jeedom, telegram or log)", cfg.Notify.Backend)
	}
	if _, err := time.ParseDuration(cfg.Provider.Timeout); err != nil {
		return fmt.Errorf("invalid provider.timeout %q: %w", cfg.Provider.Timeout, err)
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required config: %s. Set it via environment variable or %s",
			strings.Join(missing, ", "), secretsFilePath())
	}
	return nil
}

// ProviderTimeout returns the parsed provider timeout.
func (cfg Config) ProviderTimeout() time.Duration {
	d, _ := time.ParseDuration(cfg.Provider.Timeout)
	return d
}

// ConversationMaxAge returns the idle age after which a conversation is
// dropped.
func (cfg Config) ConversationMaxAge() time.Duration {
	return time.Duration(cfg.Conversation.MaxAge) * time.Second
}

// List splits a comma-separated config value, trimming blanks.
func List(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
