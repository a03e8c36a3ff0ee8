package dispatcher

import (
	"context"
	"fmt"

	"github.com/Ivan-Kuzmichev/tg-qbt-bot/internal/logctx"
	"github.com/Ivan-Kuzmichev/tg-qbt-bot/internal/notifier"
	"github.com/Ivan-Kuzmichev/tg-qbt-bot/internal/tracker"
	"github.com/Ivan-Kuzmichev/tg-qbt-bot/internal/transfer"
)

// Request is one classified download submission.
type Request struct {
	ChatID int64

	// URL holds a magnet link or hosted .torrent URL; when Content is set
	// the submission is a raw .torrent upload instead and URL is empty.
	URL      string
	Content  []byte
	Filename string

	Options transfer.AddOptions
}

// Dispatcher turns classified requests into daemon calls and starts a
// tracking session for each accepted transfer.
type Dispatcher struct {
	client   transfer.Client
	notifier notifier.Notifier
	tracker  *tracker.Tracker
}

func New(client transfer.Client, n notifier.Notifier, t *tracker.Tracker) *Dispatcher {
	return &Dispatcher{
		client:   client,
		notifier: n,
		tracker:  t,
	}
}

// Submit adds the requested transfer, posts the initial progress message and
// starts tracking it. The daemon's add endpoint does not return the new
// transfer's identity, so Submit lists everything and picks the transfer with
// the latest creation timestamp; see transfer.MostRecent for the caveat.
//
// ctx should be the application context: the tracking session it starts
// outlives the inbound update that triggered it.
func (d *Dispatcher) Submit(ctx context.Context, req Request) error {
	logger := logctx.LoggerFromContext(ctx).With("chat_id", req.ChatID)

	var err error
	if len(req.Content) > 0 {
		err = d.client.AddTransferByBytes(ctx, req.Content, req.Filename, req.Options)
	} else {
		err = d.client.AddTransferByURL(ctx, req.URL, req.Options)
	}

	if err != nil {
		return fmt.Errorf("failed to add transfer: %w", err)
	}

	transfers, err := d.client.Transfers(ctx)
	if err != nil {
		return fmt.Errorf("failed to list transfers after add: %w", err)
	}

	latest := transfer.MostRecent(transfers)
	if latest == nil {
		return &transfer.NotFoundError{}
	}

	logger.Info("transfer submitted", "transfer_hash", latest.Hash, "transfer_name", latest.Name)

	messageID, err := d.notifier.Send(ctx, req.ChatID, renderQueued(latest.Name), nil)
	if err != nil {
		return fmt.Errorf("failed to send progress message: %w", err)
	}

	d.tracker.Track(ctx, req.ChatID, messageID, latest.Hash, latest.Name)

	return nil
}

// Callback is one inbound control button press.
type Callback struct {
	ID        string
	ChatID    int64
	MessageID int64
	Data      string
}

// HandleControl executes the control action encoded in the callback data and
// acknowledges the press. Delete verbs also replace the source message with a
// terminal notice; a tracking session still polling that transfer will see it
// vanish on its next tick and end silently.
func (d *Dispatcher) HandleControl(ctx context.Context, cb Callback) error {
	logger := logctx.LoggerFromContext(ctx).With("chat_id", cb.ChatID, "message_id", cb.MessageID)

	verb, hash, err := transfer.ParseCallback(cb.Data)
	if err != nil {
		return d.fail(ctx, cb, err)
	}

	logger.Debug("control action", "verb", string(verb), "transfer_hash", hash)

	switch verb {
	case transfer.VerbPause:
		if err := d.client.StopTransfers(ctx, hash); err != nil {
			return d.fail(ctx, cb, err)
		}

		return d.notifier.AnswerCallback(ctx, cb.ID, "Paused", false)
	case transfer.VerbResume:
		if err := d.client.StartTransfers(ctx, hash); err != nil {
			return d.fail(ctx, cb, err)
		}

		return d.notifier.AnswerCallback(ctx, cb.ID, "Resumed", false)
	case transfer.VerbDelete:
		return d.remove(ctx, cb, hash, false)
	case transfer.VerbDeleteFiles:
		return d.remove(ctx, cb, hash, true)
	}

	return nil
}

func (d *Dispatcher) remove(ctx context.Context, cb Callback, hash string, deleteFiles bool) error {
	if err := d.client.RemoveTransfers(ctx, []string{hash}, deleteFiles); err != nil {
		return d.fail(ctx, cb, err)
	}

	notice, confirmation := "❌ Torrent deleted", "Deleted"
	if deleteFiles {
		notice, confirmation = "❌🗑 Torrent deleted with files", "Deleted with files"
	}

	if err := d.notifier.AnswerCallback(ctx, cb.ID, confirmation, false); err != nil {
		return err
	}

	return d.notifier.Edit(ctx, cb.ChatID, cb.MessageID, notice, nil)
}

// fail reports a control-action failure back through the callback answer and
// returns the original error for logging.
func (d *Dispatcher) fail(ctx context.Context, cb Callback, err error) error {
	if answerErr := d.notifier.AnswerCallback(ctx, cb.ID, "Error: "+err.Error(), true); answerErr != nil {
		logctx.LoggerFromContext(ctx).Error("failed to answer callback", "err", answerErr)
	}

	return err
}

func renderQueued(name string) string {
	return fmt.Sprintf("⬇️ %s\nProgress: 0%%", name)
}
