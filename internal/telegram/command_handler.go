package telegram

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/kyuhyong/surveillance-camera/internal/state"
)

// StateStore reads and writes the control state.
type StateStore interface {
	Load(ctx context.Context) (state.ControlState, error)
	Save(ctx context.Context, s state.ControlState) error
}

// CommandHandler polls the bot for chat commands that change the control
// state. Messages from any chat other than the configured one are ignored.
type CommandHandler struct {
	bot      *Bot
	store    StateStore
	recorder func() string
	snapshot func() []byte
}

// NewCommandHandler creates a handler. recorder and snapshot may be nil.
func NewCommandHandler(bot *Bot, store StateStore, recorder func() string, snapshot func() []byte) *CommandHandler {
	return &CommandHandler{bot: bot, store: store, recorder: recorder, snapshot: snapshot}
}

// Run handles updates until ctx is done.
func (h *CommandHandler) Run(ctx context.Context) error {
	api, err := h.bot.client()
	if err != nil {
		return err
	}

	u := tgbotapi.NewUpdate(0)
	u.Timeout = 30
	updates := api.GetUpdatesChan(u)
	defer api.StopReceivingUpdates()

	h.bot.logger.Info("telegram command polling started")
	for {
		select {
		case <-ctx.Done():
			return nil
		case update, ok := <-updates:
			if !ok {
				return nil
			}
			if update.Message != nil {
				h.handleMessage(ctx, update.Message)
			}
		}
	}
}

func (h *CommandHandler) handleMessage(ctx context.Context, msg *tgbotapi.Message) {
	if msg.Chat == nil || msg.Chat.ID != h.bot.cfg.ChatID {
		h.bot.logger.Warn("ignoring message from unauthorized chat", "chat", chatID(msg))
		return
	}
	if msg.Text == "" || !strings.HasPrefix(msg.Text, "/") {
		return
	}

	parts := strings.Fields(msg.Text)
	command := strings.ToLower(parts[0])
	if at := strings.Index(command, "@"); at != -1 {
		command = command[:at]
	}

	if command == "/snapshot" {
		h.handleSnapshot()
		return
	}

	response := h.Handle(ctx, command, parts[1:])
	if err := h.bot.SendMessage(response); err != nil {
		h.bot.logger.Warn("failed to send reply", "command", command, "error", err)
	}
}

// Handle executes a text command and returns the reply.
func (h *CommandHandler) Handle(ctx context.Context, command string, args []string) string {
	switch command {
	case "/start", "/help":
		return helpText
	case "/status":
		return h.handleStatus(ctx)
	case "/arm":
		return h.update(ctx, func(s *state.ControlState) { s.Armed = true })
	case "/disarm":
		return h.update(ctx, func(s *state.ControlState) { s.Armed = false })
	case "/sensitivity":
		if len(args) != 1 {
			return "Usage: /sensitivity N"
		}
		n, err := strconv.Atoi(args[0])
		if err != nil || n < 0 {
			return fmt.Sprintf("Invalid sensitivity %q: expected a non-negative integer", args[0])
		}
		return h.update(ctx, func(s *state.ControlState) { s.Sensitivity = n })
	default:
		return fmt.Sprintf("Unknown command: %s\nUse /help to see available commands.", command)
	}
}

const helpText = "<b>Commands</b>\n" +
	"/status - armed flag, sensitivity and recorder state\n" +
	"/arm - start recording on motion\n" +
	"/disarm - stop recording\n" +
	"/sensitivity N - motion regions that must be exceeded\n" +
	"/snapshot - latest preview frame"

func (h *CommandHandler) handleStatus(ctx context.Context) string {
	st, err := h.store.Load(ctx)
	if err != nil {
		return fmt.Sprintf("Failed to read state: %v", err)
	}
	return h.statusText(st)
}

func (h *CommandHandler) statusText(st state.ControlState) string {
	armed := "disarmed"
	if st.Armed {
		armed = "armed"
	}
	text := fmt.Sprintf("<b>Status</b>\nSystem: %s\nSensitivity: %d", armed, st.Sensitivity)
	if h.recorder != nil {
		text += "\nRecorder: " + h.recorder()
	}
	return text
}

func (h *CommandHandler) update(ctx context.Context, change func(*state.ControlState)) string {
	st, err := h.store.Load(ctx)
	if err != nil {
		return fmt.Sprintf("Failed to read state: %v", err)
	}
	change(&st)
	if err := h.store.Save(ctx, st); err != nil {
		return fmt.Sprintf("Failed to save state: %v", err)
	}
	h.bot.logger.Info("control state updated from telegram", "armed", st.Armed, "sensitivity", st.Sensitivity)
	return h.statusText(st)
}

func (h *CommandHandler) handleSnapshot() {
	var frame []byte
	if h.snapshot != nil {
		frame = h.snapshot()
	}
	if len(frame) == 0 {
		if err := h.bot.SendMessage("No frame available"); err != nil {
			h.bot.logger.Warn("failed to send reply", "command", "/snapshot", "error", err)
		}
		return
	}
	caption := "📷 " + time.Now().Format("2006-01-02 15:04:05")
	if err := h.bot.SendPhoto("snapshot.jpg", frame, caption); err != nil {
		h.bot.logger.Warn("failed to send snapshot", "error", err)
	}
}

func chatID(msg *tgbotapi.Message) int64 {
	if msg.Chat == nil {
		return 0
	}
	return msg.Chat.ID
}
