package main

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/kalambet/jarvis/internal/api"
	"github.com/kalambet/jarvis/internal/config"
	"github.com/kalambet/jarvis/internal/dispatch"
	"github.com/kalambet/jarvis/internal/interpret"
	"github.com/kalambet/jarvis/internal/orchestrator"
	"github.com/kalambet/jarvis/internal/provider"
	"github.com/kalambet/jarvis/internal/storage"
)

// --- ask ---

var askCmd = &cobra.Command{
	Use:   "ask <question>",
	Short: "Ask the assistant once and notify the answer",
	Long: `Ask the assistant once. The answer is sent to the profile's notification
channel and printed on stdout.

Examples:
  jarvis ask --profile Franck "Quelle est la température du salon ?"
  jarvis ask --profile Evan --mode action "Allume la lumière de ma chambre"
  jarvis ask --rooms Jardin --image /tmp/portail.jpg "Qui est au portail ?"
  jarvis ask --remote "Est-ce que le garage est fermé ?"`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		req, err := askRequestFromFlags(cmd, args)
		if err != nil {
			return err
		}
		asJSON, _ := cmd.Flags().GetBool("json")
		remote, _ := cmd.Flags().GetBool("remote")

		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		defer setupLogging(cfg).Close()

		var res orchestrator.Result
		if remote {
			res, err = askRemote(cmd, cfg, req)
			if err != nil {
				return err
			}
		} else {
			a, err := newApp(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer a.Close()
			res = a.orchestrator.Process(cmd.Context(), req)
			if !res.Success {
				msg := failurePrefix + res.Error
				if err := a.notifier.Notify(cmd.Context(), notifyTarget(req.Profile, cfg), msg, req.NotifyCommand); err != nil {
					printWarning("could not notify the failure: %v", err)
				}
			}
		}

		out := cmd.OutOrStdout()
		if asJSON {
			enc := json.NewEncoder(out)
			enc.SetIndent("", "  ")
			enc.SetEscapeHTML(false)
			if err := enc.Encode(res); err != nil {
				return err
			}
		} else if res.Success {
			fmt.Fprintln(out, res.Message)
		}
		if !res.Success {
			return fmt.Errorf("request %s failed: %s", res.RequestID, res.Error)
		}
		if !res.NotificationSent {
			printWarning("answer was not delivered to %s", notifyTarget(req.Profile, cfg))
		}
		return nil
	},
}

func init() {
	askCmd.Flags().String("profile", "", "household member asking (default: assistant.default_profile)")
	askCmd.Flags().String("rooms", "", "comma-separated rooms to include in the device snapshot")
	askCmd.Flags().String("mode", string(interpret.ModeAction), "info or action")
	askCmd.Flags().String("notify-command", "", "controller command used to send camera snapshots")
	askCmd.Flags().StringArray("image", nil, "JPEG file to send with the question (repeatable)")
	askCmd.Flags().Bool("infer-rooms", false, "let the model pick the rooms")
	askCmd.Flags().Bool("json", false, "print the full result as JSON")
	askCmd.Flags().Bool("remote", false, "send the request to the running server")
}

const failurePrefix = "❌ Erreur scénario: "

func notifyTarget(profile string, cfg config.Config) string {
	if profile == "" || profile == dispatch.UnknownProfile {
		return cfg.Assistant.DefaultProfile
	}
	return profile
}

func askRequestFromFlags(cmd *cobra.Command, args []string) (orchestrator.Request, error) {
	profile, _ := cmd.Flags().GetString("profile")
	rooms, _ := cmd.Flags().GetString("rooms")
	mode, _ := cmd.Flags().GetString("mode")
	notifyCommand, _ := cmd.Flags().GetString("notify-command")
	images, _ := cmd.Flags().GetStringArray("image")
	inferRooms, _ := cmd.Flags().GetBool("infer-rooms")

	req := orchestrator.Request{
		Profile:       profile,
		Question:      strings.TrimSpace(strings.Join(args, " ")),
		Rooms:         config.List(rooms),
		Mode:          interpret.Mode(mode),
		NotifyCommand: notifyCommand,
		InferRooms:    inferRooms,
	}
	if req.Question == "" {
		return req, errors.New("question is required")
	}
	switch req.Mode {
	case "", interpret.ModeInfo, interpret.ModeAction:
	default:
		return req, fmt.Errorf("--mode must be info or action, got %q", mode)
	}
	for _, path := range images {
		data, err := os.ReadFile(path)
		if err != nil {
			return req, fmt.Errorf("reading image: %w", err)
		}
		req.Images = append(req.Images, provider.Image{Data: data, Filename: filepath.Base(path)})
	}
	return req, nil
}

func askRemote(cmd *cobra.Command, cfg config.Config, req orchestrator.Request) (orchestrator.Result, error) {
	body := api.AskRequest{
		Profile:       req.Profile,
		Question:      req.Question,
		Rooms:         req.Rooms,
		Mode:          req.Mode,
		NotifyCommand: req.NotifyCommand,
		InferRooms:    req.InferRooms,
	}
	for _, img := range req.Images {
		body.Images = append(body.Images, api.AskImage{
			Filename: img.Filename,
			Data:     base64.StdEncoding.EncodeToString(img.Data),
		})
	}

	var res orchestrator.Result
	resp, err := newAPIClient(cfg).post(cmd.Context(), "/v1/ask", body)
	if err != nil {
		return res, err
	}
	// A failed request comes back as 502 with a result body.
	if resp.StatusCode == http.StatusBadGateway {
		defer resp.Body.Close()
		err = json.NewDecoder(resp.Body).Decode(&res)
		return res, err
	}
	return res, decodeJSON(resp, &res)
}

// --- reset ---

var resetCmd = &cobra.Command{
	Use:   "reset [profile]",
	Short: "Forget the conversation history of a profile",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		all, _ := cmd.Flags().GetBool("all")
		if !all && len(args) == 0 {
			return errors.New("a profile or --all is required")
		}

		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		store, history, err := openHistory(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer store.Close()
		defer history.Close()

		if all {
			if err := history.ResetAll(cmd.Context()); err != nil {
				return err
			}
			printSuccess("All conversations reset")
			return nil
		}
		if err := history.Reset(cmd.Context(), args[0]); err != nil {
			return err
		}
		printSuccess("Conversation of %s reset", args[0])
		return nil
	},
}

func init() {
	resetCmd.Flags().Bool("all", false, "reset every profile")
}

// --- history ---

var historyCmd = &cobra.Command{
	Use:   "history [profile]",
	Short: "List conversations, or show the messages of one profile",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		store, history, err := openHistory(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer store.Close()
		defer history.Close()

		out := cmd.OutOrStdout()
		if len(args) == 1 {
			msgs, err := history.History(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if len(msgs) == 0 {
				fmt.Fprintf(out, "No history for %s.\n", args[0])
				return nil
			}
			for _, m := range msgs {
				fmt.Fprintf(out, "%s  %-9s  %s\n",
					time.Unix(m.Timestamp, 0).Format("2006-01-02 15:04:05"),
					colorize(colorCyan, m.Role),
					m.Content,
				)
			}
			return nil
		}

		records, err := history.Profiles(cmd.Context())
		if err != nil {
			return err
		}
		if len(records) == 0 {
			fmt.Fprintln(out, "No conversations.")
			return nil
		}
		for _, rec := range records {
			fmt.Fprintf(out, "%s  %d messages  last used %s\n",
				colorize(colorBold, rec.Profile),
				len(rec.Messages),
				time.Unix(rec.LastUsed, 0).Format("2006-01-02 15:04:05"),
			)
		}
		return nil
	},
}

// --- interactions ---

var interactionsCmd = &cobra.Command{
	Use:   "interactions",
	Short: "Browse the interaction log",
}

var interactionsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recent interactions",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")
		profile, _ := cmd.Flags().GetString("profile")

		store, err := openStorage()
		if err != nil {
			return err
		}
		defer store.Close()

		items, err := store.GetRecentInteractions(profile, limit)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		if len(items) == 0 {
			fmt.Fprintln(out, "No interactions found.")
			return nil
		}
		for _, ix := range items {
			status := colorize(colorGreen, ix.Status)
			if ix.Status != "completed" {
				status = colorize(colorRed, ix.Status)
			}
			fmt.Fprintf(out, "%s  %s  %-8s  %s  %s\n",
				colorize(colorCyan, ix.ID[:min(8, len(ix.ID))]),
				ix.CreatedAt.Local().Format("2006-01-02 15:04:05"),
				ix.Profile,
				status,
				truncate(ix.Question, 80),
			)
		}
		return nil
	},
}

var interactionsShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show a single interaction",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openStorage()
		if err != nil {
			return err
		}
		defer store.Close()

		ix, err := store.GetInteraction(args[0])
		if errors.Is(err, storage.ErrNotFound) {
			return fmt.Errorf("interaction %s not found", args[0])
		}
		if err != nil {
			return err
		}
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		enc.SetEscapeHTML(false)
		return enc.Encode(ix)
	},
}

func init() {
	interactionsListCmd.Flags().Int("limit", 20, "maximum number of interactions to list")
	interactionsListCmd.Flags().String("profile", "", "only list this profile")
	interactionsCmd.AddCommand(interactionsListCmd)
	interactionsCmd.AddCommand(interactionsShowCmd)
}

func openStorage() (*storage.Store, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	return storage.Open(cfg.Storage.DataDir)
}

// --- models ---

var modelsCmd = &cobra.Command{
	Use:   "models",
	Short: "List the models exposed by the provider",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		models, err := newProvider(cfg).ListModels(cmd.Context())
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		for _, m := range models {
			marker := "  "
			if m.ID == cfg.Provider.TextModel || m.ID == cfg.Provider.VisionModel {
				marker = colorize(colorGreen, "* ")
			}
			fmt.Fprintf(out, "%s%s\n", marker, m.ID)
		}
		return nil
	},
}

// --- config ---

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or update configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		for _, k := range config.ShowAll(cfg) {
			fmt.Fprintf(out, "  %s = %s\n", colorize(colorBold, k.Key), k.Value)
		}
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Long:  "Set a configuration value. Valid keys:\n  " + strings.Join(config.ValidKeys(), "\n  "),
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, value := args[0], args[1]

		if err := config.SetKey(key, value); err != nil {
			return err
		}

		printSuccess("Set %s = %s", key, value)
		return nil
	},
}

var configSetSecretCmd = &cobra.Command{
	Use:   "set-secret <key> [value]",
	Short: "Store a secret (read from stdin when value is omitted)",
	Long:  "Store a secret in the secrets file. Secret keys:\n  " + strings.Join(config.SecretKeys(), "\n  "),
	Args:  cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key := args[0]
		var value string
		if len(args) == 2 {
			value = args[1]
		} else {
			data, err := io.ReadAll(cmd.InOrStdin())
			if err != nil {
				return fmt.Errorf("reading secret: %w", err)
			}
			value = strings.TrimSpace(string(data))
		}
		if value == "" {
			return errors.New("secret value is empty")
		}

		if err := config.SetSecret(key, value); err != nil {
			return err
		}
		printSuccess("Stored %s", key)
		return nil
	},
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
	configCmd.AddCommand(configSetSecretCmd)
}
