package telegram

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/kyuhyong/surveillance-camera/internal/handoff"
)

// DefaultCooldown limits clip alerts to one per window.
const DefaultCooldown = 30 * time.Second

// ErrNotConnected is returned before Connect succeeds.
var ErrNotConnected = errors.New("telegram bot not connected")

// API is the part of the bot API used here (allows mocking).
type API interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
	StopReceivingUpdates()
}

// BotFactory creates API instances (allows mocking)
type BotFactory func(token, apiEndpoint string, client *http.Client) (API, error)

var defaultBotFactory BotFactory = func(token, apiEndpoint string, client *http.Client) (API, error) {
	return tgbotapi.NewBotAPIWithClient(token, apiEndpoint, client)
}

// Config holds Telegram bot configuration
type Config struct {
	Token       string
	ChatID      int64
	Cooldown    time.Duration
	APIEndpoint string
}

// Bot is the authorized connection shared by the notifier and the command
// handler. Only ChatID is ever talked to.
type Bot struct {
	cfg     Config
	factory BotFactory
	logger  *slog.Logger

	mu  sync.RWMutex
	api API
}

// NewBot creates an unconnected bot.
func NewBot(cfg Config, logger *slog.Logger) *Bot {
	return NewBotWithFactory(cfg, logger, defaultBotFactory)
}

// NewBotWithFactory creates a Bot with a custom factory (for testing)
func NewBotWithFactory(cfg Config, logger *slog.Logger, factory BotFactory) *Bot {
	if cfg.Cooldown == 0 {
		cfg.Cooldown = DefaultCooldown
	}
	if cfg.APIEndpoint == "" {
		cfg.APIEndpoint = tgbotapi.APIEndpoint
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Bot{cfg: cfg, factory: factory, logger: logger.With("component", "telegram")}
}

// Connect authorizes the bot token.
func (b *Bot) Connect(ctx context.Context) error {
	if b.cfg.Token == "" || b.cfg.ChatID == 0 {
		return errors.New("telegram bot token or chat ID not configured")
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	api, err := b.factory(b.cfg.Token, b.cfg.APIEndpoint, &http.Client{Timeout: 60 * time.Second})
	if err != nil {
		return fmt.Errorf("create telegram bot: %w", err)
	}

	b.mu.Lock()
	b.api = api
	b.mu.Unlock()
	b.logger.Info("telegram bot authorized", "chat_id", b.cfg.ChatID)
	return nil
}

func (b *Bot) client() (API, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.api == nil {
		return nil, ErrNotConnected
	}
	return b.api, nil
}

// SendMessage sends an HTML text message to the configured chat.
func (b *Bot) SendMessage(text string) error {
	api, err := b.client()
	if err != nil {
		return err
	}
	m := tgbotapi.NewMessage(b.cfg.ChatID, text)
	m.ParseMode = tgbotapi.ModeHTML
	if _, err := api.Send(m); err != nil {
		return fmt.Errorf("telegram send failed: %w", err)
	}
	return nil
}

// SendPhoto sends a JPEG with an HTML caption to the configured chat.
func (b *Bot) SendPhoto(name string, data []byte, caption string) error {
	api, err := b.client()
	if err != nil {
		return err
	}
	p := tgbotapi.NewPhoto(b.cfg.ChatID, tgbotapi.FileBytes{Name: name, Bytes: data})
	p.Caption = caption
	p.ParseMode = tgbotapi.ModeHTML
	if _, err := api.Send(p); err != nil {
		return fmt.Errorf("telegram send failed: %w", err)
	}
	return nil
}

// Notifier sends a photo alert with the clip thumbnail for every new clip,
// at most once per cooldown window. It is a relay listener.
type Notifier struct {
	bot       *Bot
	imagesDir string
	now       func() time.Time

	mu       sync.Mutex
	lastSent time.Time
}

// NewNotifier creates a notifier reading thumbnails from imagesDir.
func NewNotifier(bot *Bot, imagesDir string) *Notifier {
	return &Notifier{bot: bot, imagesDir: imagesDir, now: time.Now}
}

// Name implements relay.Listener.
func (n *Notifier) Name() string { return "telegram" }

// Notify sends the alert. Events inside the cooldown window are dropped.
func (n *Notifier) Notify(ctx context.Context, note handoff.Notification) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	now := n.now()
	if !n.lastSent.IsZero() && now.Sub(n.lastSent) < n.bot.cfg.Cooldown {
		n.bot.logger.Debug("alert suppressed by cooldown", "video", note.VideoFilename)
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	caption := AlertCaption(note)
	var err error
	photo, readErr := os.ReadFile(filepath.Join(n.imagesDir, note.ImageFilename))
	if readErr == nil && len(photo) > 0 {
		err = n.bot.SendPhoto(note.ImageFilename, photo, caption)
	} else {
		n.bot.logger.Debug("thumbnail unavailable, sending text alert", "image", note.ImageFilename, "error", readErr)
		err = n.bot.SendMessage(caption)
	}
	if err != nil {
		return err
	}
	n.lastSent = now
	return nil
}

// AlertCaption formats the alert text for a clip.
func AlertCaption(note handoff.Notification) string {
	return fmt.Sprintf("🚨 <b>Motion recorded</b>\n\n🕐 Time: %s\n🎞 Clip: %s", note.Timestamp, note.VideoFilename)
}
