// Package bot runs the Telegram side of the gateway: the long-poll update
// loop, command handling, the allow-list gate, and the hand-off of classified
// submissions and button presses to the dispatcher.
package bot

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/Ivan-Kuzmichev/tg-qbt-bot/internal/classify"
	"github.com/Ivan-Kuzmichev/tg-qbt-bot/internal/dispatcher"
	"github.com/Ivan-Kuzmichev/tg-qbt-bot/internal/logctx"
	"github.com/Ivan-Kuzmichev/tg-qbt-bot/internal/notifier"
	"github.com/Ivan-Kuzmichev/tg-qbt-bot/internal/telemetry"
	"github.com/Ivan-Kuzmichev/tg-qbt-bot/internal/transfer"
)

const (
	pollTimeoutSeconds = 30
	pollRetryDelay     = 3 * time.Second
)

const helpText = `Send me:
• a magnet link
• a .torrent file
• a URL to a .torrent file

Append options to the message or caption: category=… savepath=… tags=… paused=true

Commands:
/status — check the qBittorrent connection
/list — list all torrents`

// API is everything the bot needs from the Telegram client.
type API interface {
	notifier.Notifier
	notifier.FileFetcher

	GetUpdates(ctx context.Context, offset int64, timeoutSeconds int) ([]notifier.Update, error)
	SetMyCommands(ctx context.Context, commands []notifier.BotCommand) error
}

// Bot consumes Telegram updates and routes them to the dispatcher.
type Bot struct {
	api        API
	client     transfer.Client
	dispatcher *dispatcher.Dispatcher
	telemetry  *telemetry.Telemetry
	defaults   classify.Defaults
	allowed    map[int64]struct{}
}

func New(api API, client transfer.Client, d *dispatcher.Dispatcher, tel *telemetry.Telemetry, defaults classify.Defaults, allowedUserIDs []int64) *Bot {
	var allowed map[int64]struct{}

	if len(allowedUserIDs) > 0 {
		allowed = make(map[int64]struct{}, len(allowedUserIDs))
		for _, id := range allowedUserIDs {
			allowed[id] = struct{}{}
		}
	}

	return &Bot{
		api:        api,
		client:     client,
		dispatcher: d,
		telemetry:  tel,
		defaults:   defaults,
		allowed:    allowed,
	}
}

// Run registers the command menu and long-polls for updates until ctx is
// cancelled. Each update is handled in its own goroutine; the core components
// underneath are safe for that.
func (b *Bot) Run(ctx context.Context) error {
	logger := logctx.LoggerFromContext(ctx)

	if err := b.api.SetMyCommands(ctx, []notifier.BotCommand{
		{Command: "start", Description: "Show help"},
		{Command: "help", Description: "How to use the bot"},
		{Command: "status", Description: "Check the qBittorrent connection"},
		{Command: "list", Description: "List all torrents"},
	}); err != nil {
		logger.Warn("failed to register command menu", "err", err)
	}

	logger.Info("bot started, waiting for updates")

	var offset int64

	for {
		updates, err := b.api.GetUpdates(ctx, offset, pollTimeoutSeconds)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}

			logger.Error("failed to fetch updates", "err", err)

			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(pollRetryDelay):
			}

			continue
		}

		for _, update := range updates {
			if update.UpdateID >= offset {
				offset = update.UpdateID + 1
			}

			go b.handleUpdate(ctx, update)
		}
	}
}

func (b *Bot) handleUpdate(ctx context.Context, update notifier.Update) {
	switch {
	case update.CallbackQuery != nil:
		b.handleCallback(ctx, update.CallbackQuery)
	case update.Message != nil:
		b.handleMessage(ctx, update.Message)
	}
}

// authorized is the access gate evaluated before any core operation. An empty
// allow-list grants access to everyone.
func (b *Bot) authorized(from *notifier.User) bool {
	if b.allowed == nil {
		return true
	}

	if from == nil {
		return false
	}

	_, ok := b.allowed[from.ID]

	return ok
}

func (b *Bot) handleCallback(ctx context.Context, cb *notifier.CallbackQuery) {
	logger := logctx.LoggerFromContext(ctx)

	if !b.authorized(cb.From) {
		if err := b.api.AnswerCallback(ctx, cb.ID, "⛔ Access denied.", true); err != nil {
			logger.Error("failed to answer callback", "err", err)
		}

		return
	}

	if cb.Message == nil {
		return
	}

	err := b.dispatcher.HandleControl(ctx, dispatcher.Callback{
		ID:        cb.ID,
		ChatID:    cb.Message.Chat.ID,
		MessageID: cb.Message.MessageID,
		Data:      cb.Data,
	})
	if err != nil {
		logger.Error("control action failed", "err", err)
	}
}

func (b *Bot) handleMessage(ctx context.Context, msg *notifier.Message) {
	logger := logctx.LoggerFromContext(ctx).With("chat_id", msg.Chat.ID)

	if !b.authorized(msg.From) {
		b.reply(ctx, msg.Chat.ID, "⛔ Access denied.")

		return
	}

	if msg.Document != nil {
		b.handleDocument(ctx, msg)

		return
	}

	text := strings.TrimSpace(msg.Text)
	if text == "" {
		return
	}

	switch {
	case strings.HasPrefix(text, "/start"), strings.HasPrefix(text, "/help"):
		b.telemetry.RecordCommand(ctx, "help")
		b.reply(ctx, msg.Chat.ID, helpText)
	case strings.HasPrefix(text, "/status"):
		b.telemetry.RecordCommand(ctx, "status")
		b.handleStatus(ctx, msg.Chat.ID)
	case strings.HasPrefix(text, "/list"):
		b.telemetry.RecordCommand(ctx, "list")
		b.handleList(ctx, msg.Chat.ID)
	case classify.IsMagnet(text) || classify.IsTorrentURL(text):
		b.telemetry.RecordCommand(ctx, "submit_link")

		err := b.dispatcher.Submit(ctx, dispatcher.Request{
			ChatID:  msg.Chat.ID,
			URL:     text,
			Options: classify.AddOptions(text, b.defaults),
		})
		if err != nil {
			logger.Error("submission failed", "err", err)
			b.reply(ctx, msg.Chat.ID, "❌ Error: "+err.Error())
		}
	default:
		// Plain chatter is ignored.
	}
}

func (b *Bot) handleDocument(ctx context.Context, msg *notifier.Message) {
	logger := logctx.LoggerFromContext(ctx).With("chat_id", msg.Chat.ID, "filename", msg.Document.FileName)

	if !classify.IsTorrentFilename(msg.Document.FileName) {
		b.reply(ctx, msg.Chat.ID, "Send a .torrent file or a magnet link.")

		return
	}

	b.telemetry.RecordCommand(ctx, "submit_file")

	content, err := b.api.Resolve(ctx, msg.Document.FileID)
	if err != nil {
		logger.Error("failed to fetch uploaded file", "err", err)
		b.reply(ctx, msg.Chat.ID, "❌ Error: "+err.Error())

		return
	}

	err = b.dispatcher.Submit(ctx, dispatcher.Request{
		ChatID:   msg.Chat.ID,
		Content:  content,
		Filename: msg.Document.FileName,
		Options:  classify.AddOptions(msg.Caption, b.defaults),
	})
	if err != nil {
		logger.Error("submission failed", "err", err)
		b.reply(ctx, msg.Chat.ID, "❌ Error: "+err.Error())
	}
}

func (b *Bot) handleStatus(ctx context.Context, chatID int64) {
	version, err := b.client.Version(ctx)
	if err != nil {
		b.reply(ctx, chatID, "❌ No connection: "+err.Error())

		return
	}

	b.reply(ctx, chatID, "✅ qBittorrent OK. Version: "+version)
}

func (b *Bot) handleList(ctx context.Context, chatID int64) {
	transfers, err := b.client.Transfers(ctx)
	if err != nil {
		b.reply(ctx, chatID, "❌ Error: "+err.Error())

		return
	}

	if len(transfers) == 0 {
		b.reply(ctx, chatID, "📭 No torrents.")

		return
	}

	lines := make([]string, 0, len(transfers))
	for _, t := range transfers {
		lines = append(lines, fmt.Sprintf("📄 %s — %.1f%% (%s, %s)",
			t.Name, t.Progress*100, t.State, humanize.Bytes(uint64(t.Size))))
	}

	b.reply(ctx, chatID, strings.Join(lines, "\n"))
}

func (b *Bot) reply(ctx context.Context, chatID int64, text string) {
	if _, err := b.api.Send(ctx, chatID, text, nil); err != nil {
		logctx.LoggerFromContext(ctx).Error("failed to send message", "chat_id", chatID, "err", err)
	}
}
