package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/kalambet/jarvis/internal/assistant"
	"github.com/kalambet/jarvis/internal/collector"
	"github.com/kalambet/jarvis/internal/config"
	"github.com/kalambet/jarvis/internal/conversation"
	"github.com/kalambet/jarvis/internal/devices"
	"github.com/kalambet/jarvis/internal/dispatch"
	"github.com/kalambet/jarvis/internal/notify"
	"github.com/kalambet/jarvis/internal/orchestrator"
	"github.com/kalambet/jarvis/internal/provider"
	"github.com/kalambet/jarvis/internal/storage"
)

// controller is what jarvis needs from the home-automation backend.
type controller interface {
	devices.Registry
	devices.ScenarioRunner
}

// app holds the wired components shared by the commands.
type app struct {
	cfg          config.Config
	store        *storage.Store
	history      conversation.Store
	llm          *provider.Client
	notifier     notify.Notifier
	orchestrator *orchestrator.Orchestrator
}

func newRegistry(cfg config.HomeConfig) (controller, error) {
	switch cfg.Backend {
	case "jeedom", "":
		return devices.NewJeedomClient(cfg.URL, cfg.APIKey), nil
	case "file":
		return devices.LoadFileRegistry(cfg.RegistryFile)
	default:
		return nil, fmt.Errorf("unknown home backend %q", cfg.Backend)
	}
}

// snapshotNotifier sends text notifications and pushes camera stills.
type snapshotNotifier interface {
	notify.Notifier
	dispatch.SnapshotPusher
}

type scenarioNotifier struct {
	*notify.Scenario
	dispatch.CameraCommandPusher
}

func newNotifier(cfg config.NotifyConfig, home controller) (snapshotNotifier, error) {
	switch cfg.Backend {
	case "jeedom", "":
		return scenarioNotifier{
			Scenario:            notify.NewScenario(home, cfg.ScenarioID),
			CameraCommandPusher: dispatch.CameraCommandPusher{Registry: home},
		}, nil
	case "telegram":
		chats, err := notify.ParseChats(cfg.TelegramChats)
		if err != nil {
			return nil, err
		}
		return notify.NewTelegram(cfg.TelegramToken, chats)
	case "log":
		return notify.Log{}, nil
	default:
		return nil, fmt.Errorf("unknown notify backend %q", cfg.Backend)
	}
}

// openHistory opens the storage database and the configured conversation
// backend. Commands that only manage history use it without the provider.
func openHistory(ctx context.Context, cfg config.Config) (*storage.Store, conversation.Store, error) {
	store, err := storage.Open(cfg.Storage.DataDir)
	if err != nil {
		return nil, nil, fmt.Errorf("opening storage: %w", err)
	}
	history, err := conversation.New(ctx, conversation.Config{
		Backend:  cfg.Conversation.Backend,
		File:     cfg.Conversation.File,
		BoltPath: cfg.Conversation.BoltPath,
		RedisURL: cfg.Conversation.RedisURL,
		Options: conversation.Options{
			MaxMessages: cfg.Conversation.MaxMessages,
			MaxAge:      cfg.ConversationMaxAge(),
		},
	}, store)
	if err != nil {
		store.Close()
		return nil, nil, fmt.Errorf("opening conversation store: %w", err)
	}
	return store, history, nil
}

func newProvider(cfg config.Config) *provider.Client {
	llm := provider.NewClientWithBaseURL(cfg.Provider.APIKey, cfg.Provider.BaseURL)
	llm.SetTimeout(cfg.ProviderTimeout())
	llm.SetDebug(cfg.Assistant.Debug)
	return llm
}

func newApp(ctx context.Context, cfg config.Config) (*app, error) {
	home, err := newRegistry(cfg.Home)
	if err != nil {
		return nil, err
	}
	notifier, err := newNotifier(cfg.Notify, home)
	if err != nil {
		return nil, err
	}
	store, history, err := openHistory(ctx, cfg)
	if err != nil {
		return nil, err
	}

	llm := newProvider(cfg)
	snap := collector.New(home, collector.Config{
		Rooms:             config.List(cfg.Home.Rooms),
		ExcludedEquipment: config.List(cfg.Home.ExcludedEquipment),
		ActionCategories:  config.List(cfg.Home.ActionCategories),
		ExcludedCommands:  config.List(cfg.Home.ExcludedCommands),
	})
	asst := assistant.New(llm, history, snap, assistant.Config{
		TextModel:   cfg.Provider.TextModel,
		VisionModel: cfg.Provider.VisionModel,
		Temperature: cfg.Provider.Temperature,
		MaxTokens:   cfg.Provider.MaxTokens,
	})
	disp := dispatch.New(home, asst, notifier, cfg.Assistant.DryRun)
	orch := orchestrator.New(asst, disp, notifier, snap, store, orchestrator.Config{
		DefaultProfile: cfg.Assistant.DefaultProfile,
		RoomInference:  cfg.Assistant.RoomInference,
	})

	slog.Debug("components wired",
		"home", cfg.Home.Backend, "notify", cfg.Notify.Backend,
		"conversation", cfg.Conversation.Backend, "dry_run", cfg.Assistant.DryRun)

	return &app{cfg: cfg, store: store, history: history, llm: llm, notifier: notifier, orchestrator: orch}, nil
}

func (a *app) Close() error {
	return errors.Join(a.history.Close(), a.store.Close())
}
