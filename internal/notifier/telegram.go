package notifier

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/Ivan-Kuzmichev/tg-qbt-bot/internal/logctx"
)

const defaultAPIBaseURL = "https://api.telegram.org"

// Telegram is a Bot API client implementing Notifier and FileFetcher, plus
// the long-poll update feed the bot loop consumes. It talks to the HTTP API
// directly; callers share one instance across goroutines.
type Telegram struct {
	token      string
	baseURL    string
	httpClient *http.Client
}

type TelegramOption func(*Telegram)

// WithBaseURL overrides the API host, used by tests.
func WithBaseURL(baseURL string) TelegramOption {
	return func(t *Telegram) {
		t.baseURL = baseURL
	}
}

func NewTelegram(token string, opts ...TelegramOption) *Telegram {
	t := &Telegram{
		token:   token,
		baseURL: defaultAPIBaseURL,
		// Long polls hold the connection open for up to the poll timeout,
		// so the client timeout has to sit above it.
		httpClient: &http.Client{Timeout: 60 * time.Second},
	}

	for _, opt := range opts {
		opt(t)
	}

	return t
}

var (
	_ Notifier    = (*Telegram)(nil)
	_ FileFetcher = (*Telegram)(nil)
)

// Update is one inbound event from getUpdates.
type Update struct {
	UpdateID      int64          `json:"update_id"`
	Message       *Message       `json:"message"`
	CallbackQuery *CallbackQuery `json:"callback_query"`
}

type Message struct {
	MessageID int64     `json:"message_id"`
	From      *User     `json:"from"`
	Chat      Chat      `json:"chat"`
	Text      string    `json:"text"`
	Caption   string    `json:"caption"`
	Document  *Document `json:"document"`
}

type User struct {
	ID int64 `json:"id"`
}

type Chat struct {
	ID int64 `json:"id"`
}

type Document struct {
	FileID   string `json:"file_id"`
	FileName string `json:"file_name"`
}

type CallbackQuery struct {
	ID      string   `json:"id"`
	From    *User    `json:"from"`
	Message *Message `json:"message"`
	Data    string   `json:"data"`
}

// BotCommand is one entry for setMyCommands.
type BotCommand struct {
	Command     string `json:"command"`
	Description string `json:"description"`
}

type inlineKeyboardButton struct {
	Text         string `json:"text"`
	CallbackData string `json:"callback_data"`
}

type inlineKeyboardMarkup struct {
	InlineKeyboard [][]inlineKeyboardButton `json:"inline_keyboard"`
}

func replyMarkup(kb Keyboard) *inlineKeyboardMarkup {
	if kb == nil {
		return nil
	}

	markup := &inlineKeyboardMarkup{InlineKeyboard: make([][]inlineKeyboardButton, 0, len(kb))}

	for _, row := range kb {
		buttons := make([]inlineKeyboardButton, 0, len(row))
		for _, b := range row {
			buttons = append(buttons, inlineKeyboardButton{Text: b.Text, CallbackData: b.Data})
		}

		markup.InlineKeyboard = append(markup.InlineKeyboard, buttons)
	}

	return markup
}

// Send posts a new Markdown message and returns its message id.
func (t *Telegram) Send(ctx context.Context, chatID int64, text string, kb Keyboard) (int64, error) {
	payload := map[string]any{
		"chat_id":    chatID,
		"text":       text,
		"parse_mode": "Markdown",
	}
	if markup := replyMarkup(kb); markup != nil {
		payload["reply_markup"] = markup
	}

	var sent Message
	if err := t.call(ctx, "sendMessage", payload, &sent); err != nil {
		return 0, err
	}

	return sent.MessageID, nil
}

// Edit replaces the text and keyboard of an existing message.
func (t *Telegram) Edit(ctx context.Context, chatID, messageID int64, text string, kb Keyboard) error {
	payload := map[string]any{
		"chat_id":    chatID,
		"message_id": messageID,
		"text":       text,
		"parse_mode": "Markdown",
	}
	if markup := replyMarkup(kb); markup != nil {
		payload["reply_markup"] = markup
	}

	return t.call(ctx, "editMessageText", payload, nil)
}

// AnswerCallback acknowledges a button press.
func (t *Telegram) AnswerCallback(ctx context.Context, callbackID, text string, showAlert bool) error {
	payload := map[string]any{
		"callback_query_id": callbackID,
		"text":              text,
		"show_alert":        showAlert,
	}

	return t.call(ctx, "answerCallbackQuery", payload, nil)
}

// Resolve downloads the content of an uploaded file by its file id.
func (t *Telegram) Resolve(ctx context.Context, fileID string) ([]byte, error) {
	var file struct {
		FilePath string `json:"file_path"`
	}

	if err := t.call(ctx, "getFile", map[string]any{"file_id": fileID}, &file); err != nil {
		return nil, err
	}

	if file.FilePath == "" {
		return nil, fmt.Errorf("telegram getFile returned no file path for %s", fileID)
	}

	url := fmt.Sprintf("%s/file/bot%s/%s", t.baseURL, t.token, file.FilePath)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create file request: %w", err)
	}

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to download file: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("failed to download file: %s", resp.Status)
	}

	return io.ReadAll(resp.Body)
}

// GetUpdates long-polls for new updates starting at offset.
func (t *Telegram) GetUpdates(ctx context.Context, offset int64, timeoutSeconds int) ([]Update, error) {
	payload := map[string]any{
		"offset":  offset,
		"timeout": timeoutSeconds,
	}

	var updates []Update
	if err := t.call(ctx, "getUpdates", payload, &updates); err != nil {
		return nil, err
	}

	return updates, nil
}

// SetMyCommands registers the bot's command menu.
func (t *Telegram) SetMyCommands(ctx context.Context, commands []BotCommand) error {
	return t.call(ctx, "setMyCommands", map[string]any{"commands": commands}, nil)
}

// call posts a JSON request to one Bot API method and decodes the standard
// {ok, result, description} envelope.
func (t *Telegram) call(ctx context.Context, method string, payload any, result any) error {
	logger := logctx.LoggerFromContext(ctx).With("method", method)

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal %s payload: %w", method, err)
	}

	url := fmt.Sprintf("%s/bot%s/%s", t.baseURL, t.token, method)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create %s request: %w", method, err)
	}

	req.Header.Set("Content-Type", "application/json")

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("telegram %s failed: %w", method, err)
	}
	defer resp.Body.Close()

	var envelope struct {
		OK          bool            `json:"ok"`
		Result      json.RawMessage `json:"result"`
		Description string          `json:"description"`
	}

	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return fmt.Errorf("failed to decode %s response: %w", method, err)
	}

	if !envelope.OK {
		logger.Debug("api call rejected", "description", envelope.Description)

		return fmt.Errorf("telegram %s failed: %s", method, envelope.Description)
	}

	if result != nil && len(envelope.Result) > 0 {
		if err := json.Unmarshal(envelope.Result, result); err != nil {
			return fmt.Errorf("failed to decode %s result: %w", method, err)
		}
	}

	return nil
}
