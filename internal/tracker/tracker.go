package tracker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/Ivan-Kuzmichev/tg-qbt-bot/internal/logctx"
	"github.com/Ivan-Kuzmichev/tg-qbt-bot/internal/notifier"
	"github.com/Ivan-Kuzmichev/tg-qbt-bot/internal/telemetry"
	"github.com/Ivan-Kuzmichev/tg-qbt-bot/internal/transfer"
)

// Key identifies one tracking session: the chat message it keeps updated.
// The same transfer hash may be tracked under several keys at once; those
// sessions run and stop independently.
type Key struct {
	ChatID    int64
	MessageID int64
}

type session struct {
	key  Key
	hash string
	name string

	// last rendered values, compared each tick to suppress redundant edits.
	// Only the session's own goroutine touches them.
	lastText  string
	lastState string

	cancel context.CancelFunc
	stop   sync.Once
	done   chan struct{}
}

// stopOnce cancels the session's polling loop; safe to call any number of
// times from any goroutine.
func (s *session) stopOnce() {
	s.stop.Do(s.cancel)
}

// Tracker owns the registry of active tracking sessions. Each session polls
// the daemon on its own ticker and edits its chat message until the transfer
// completes, vanishes from the daemon, or a poll fails.
type Tracker struct {
	client    transfer.Client
	notifier  notifier.Notifier
	telemetry *telemetry.Telemetry
	interval  time.Duration

	mu       sync.Mutex
	sessions map[Key]*session
}

func New(client transfer.Client, n notifier.Notifier, tel *telemetry.Telemetry, interval time.Duration) *Tracker {
	return &Tracker{
		client:    client,
		notifier:  n,
		telemetry: tel,
		interval:  interval,
		sessions:  make(map[Key]*session),
	}
}

// Track starts a polling session for the given transfer, keyed by the chat
// message it renders into. An existing session under the same key is stopped
// and replaced. The session ends when ctx is cancelled or the session reaches
// a terminal state.
func (t *Tracker) Track(ctx context.Context, chatID, messageID int64, hash, name string) {
	key := Key{ChatID: chatID, MessageID: messageID}

	ctx, cancel := context.WithCancel(ctx)
	s := &session{
		key:    key,
		hash:   hash,
		name:   name,
		cancel: cancel,
		done:   make(chan struct{}),
	}

	t.mu.Lock()
	if prev, ok := t.sessions[key]; ok {
		prev.stopOnce()
	}

	t.sessions[key] = s
	t.mu.Unlock()

	t.telemetry.AddActiveSessions(ctx, 1)

	go t.run(ctx, s)
}

// Stop ends the session rendering into the given message, if one is active.
func (t *Tracker) Stop(chatID, messageID int64) {
	t.mu.Lock()
	s, ok := t.sessions[Key{ChatID: chatID, MessageID: messageID}]
	t.mu.Unlock()

	if ok {
		s.stopOnce()
	}
}

// Active reports the number of running sessions.
func (t *Tracker) Active() int {
	t.mu.Lock()
	defer t.mu.Unlock()

	return len(t.sessions)
}

// run is the session's polling loop. Ticks execute sequentially inside this
// goroutine, so a slow tick can never be overtaken by the next one and edits
// apply in order.
func (t *Tracker) run(ctx context.Context, s *session) {
	logger := logctx.LoggerFromContext(ctx).With(
		"transfer_hash", s.hash,
		"chat_id", s.key.ChatID,
		"message_id", s.key.MessageID,
	)

	defer close(s.done)
	defer t.remove(ctx, s)

	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Debug("tracking session cancelled")

			return
		case <-ticker.C:
			done, err := t.tick(ctx, s)
			if err != nil {
				// Poll failures end this session only; the user keeps the
				// last rendered message.
				logger.Error("tracking session failed", "err", err)

				return
			}

			if done {
				logger.Debug("tracking session finished")

				return
			}
		}
	}
}

// tick advances the session one poll. It returns done=true on any terminal
// transition and an error when the poll itself failed.
func (t *Tracker) tick(ctx context.Context, s *session) (bool, error) {
	transfers, err := t.client.Transfers(ctx, s.hash)
	if err != nil {
		return true, fmt.Errorf("failed to poll transfer: %w", err)
	}

	// Transfer vanished from the daemon: stop silently, the last rendered
	// message stays as it was.
	if len(transfers) == 0 {
		return true, nil
	}

	tr := transfers[0]

	if tr.IsComplete() {
		if err := t.edit(ctx, s, renderCompleted(s.name), nil); err != nil {
			return true, fmt.Errorf("failed to render completion: %w", err)
		}

		return true, nil
	}

	text := renderProgress(s.name, tr)
	if text == s.lastText && tr.State == s.lastState {
		return false, nil
	}

	if err := t.edit(ctx, s, text, ControlKeyboard(tr)); err != nil {
		return true, fmt.Errorf("failed to render progress: %w", err)
	}

	s.lastText = text
	s.lastState = tr.State

	return false, nil
}

func (t *Tracker) edit(ctx context.Context, s *session, text string, kb notifier.Keyboard) error {
	err := t.notifier.Edit(ctx, s.key.ChatID, s.key.MessageID, text, kb)

	status := "success"
	if err != nil {
		status = "error"
	}

	t.telemetry.RecordNotification(ctx, "progress_edit", status)

	return err
}

func (t *Tracker) remove(ctx context.Context, s *session) {
	s.stopOnce()

	t.mu.Lock()
	// Only drop the registry entry if it is still ours; Track may have
	// already replaced this session under the same key.
	if current, ok := t.sessions[s.key]; ok && current == s {
		delete(t.sessions, s.key)
	}
	t.mu.Unlock()

	t.telemetry.AddActiveSessions(ctx, -1)
}

func renderProgress(name string, tr *transfer.Transfer) string {
	return fmt.Sprintf("⬇️ *%s*\nProgress: %.1f%%\nStatus: %s", name, tr.Progress*100, tr.State)
}

func renderCompleted(name string) string {
	return fmt.Sprintf("✅ Download complete\n📄 *%s*", name)
}

// ControlKeyboard builds the inline controls for an in-progress transfer:
// the primary button resumes a stopped transfer and pauses anything else,
// followed by the two delete variants.
func ControlKeyboard(tr *transfer.Transfer) notifier.Keyboard {
	primary := notifier.Button{Text: "⏸ Pause", Data: transfer.VerbPause.Callback(tr.Hash)}
	if tr.IsStopped() {
		primary = notifier.Button{Text: "▶️ Resume", Data: transfer.VerbResume.Callback(tr.Hash)}
	}

	return notifier.Keyboard{
		{primary},
		{
			{Text: "🗑 Delete", Data: transfer.VerbDelete.Callback(tr.Hash)},
			{Text: "🗑 Delete with files", Data: transfer.VerbDeleteFiles.Callback(tr.Hash)},
		},
	}
}
