package notify

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"

	"github.com/kalambet/jarvis/internal/devices"
)

// ErrUnknownRecipient is returned when a profile has no chat configured.
var ErrUnknownRecipient = errors.New("no chat configured for profile")

// Telegram sends notifications and camera snapshots through a Telegram bot.
type Telegram struct {
	bot   *bot.Bot
	chats map[string]int64
}

// NewTelegram creates the bot client. chats maps profiles to chat ids.
func NewTelegram(token string, chats map[string]int64, opts ...bot.Option) (*Telegram, error) {
	opts = append([]bot.Option{bot.WithSkipGetMe()}, opts...)
	b, err := bot.New(token, opts...)
	if err != nil {
		return nil, fmt.Errorf("creating telegram bot: %w", err)
	}
	return &Telegram{bot: b, chats: chats}, nil
}

func (t *Telegram) chat(profile string) (int64, error) {
	id, ok := t.chats[profile]
	if !ok {
		return 0, fmt.Errorf("%w: %q", ErrUnknownRecipient, profile)
	}
	return id, nil
}

// Notify sends message to the profile's chat. command is ignored.
func (t *Telegram) Notify(ctx context.Context, profile, message, _ string) error {
	chatID, err := t.chat(profile)
	if err != nil {
		return err
	}
	if _, err := t.bot.SendMessage(ctx, &bot.SendMessageParams{
		ChatID: chatID,
		Text:   message,
	}); err != nil {
		return fmt.Errorf("sending telegram message: %w", err)
	}
	slog.Debug("telegram notification sent", "profile", profile, "chat", chatID)
	return nil
}

// PushSnapshot sends the camera still as a photo captioned with the camera
// name. Missing stills are reported as text.
func (t *Telegram) PushSnapshot(ctx context.Context, profile string, camera devices.Equipment, still []byte, _ string) error {
	chatID, err := t.chat(profile)
	if err != nil {
		return err
	}
	if len(still) == 0 {
		return t.Notify(ctx, profile, "📷 "+camera.HumanName()+" : aucune image", "")
	}
	if _, err := t.bot.SendPhoto(ctx, &bot.SendPhotoParams{
		ChatID:  chatID,
		Photo:   &models.InputFileUpload{Filename: "camera-" + camera.ID + ".jpg", Data: bytes.NewReader(still)},
		Caption: camera.HumanName(),
	}); err != nil {
		return fmt.Errorf("sending telegram photo: %w", err)
	}
	return nil
}

// ParseChats parses "Profile:chatID,Profile:chatID".
func ParseChats(s string) (map[string]int64, error) {
	chats := make(map[string]int64)
	for _, entry := range strings.Split(s, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		profile, id, ok := strings.Cut(entry, ":")
		if !ok || strings.TrimSpace(profile) == "" {
			return nil, fmt.Errorf("invalid chat entry %q (want Profile:chatID)", entry)
		}
		n, err := strconv.ParseInt(strings.TrimSpace(id), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid chat id in %q: %w", entry, err)
		}
		chats[strings.TrimSpace(profile)] = n
	}
	return chats, nil
}
