package notifier

import "context"

// Button is one inline keyboard button; Data travels back in the
// callback query when the button is pressed.
type Button struct {
	Text string
	Data string
}

// Keyboard is an inline keyboard layout, rows of buttons. A nil Keyboard
// means the message carries no buttons.
type Keyboard [][]Button

// Notifier sends and mutates the chat messages the bot uses as progress
// displays.
type Notifier interface {
	// Send posts a new message and returns its message id.
	Send(ctx context.Context, chatID int64, text string, kb Keyboard) (int64, error)
	// Edit replaces the text and keyboard of an existing message.
	Edit(ctx context.Context, chatID, messageID int64, text string, kb Keyboard) error
	// AnswerCallback acknowledges a button press with a short notice.
	AnswerCallback(ctx context.Context, callbackID, text string, showAlert bool) error
}

// FileFetcher resolves an uploaded file id into its raw content.
type FileFetcher interface {
	Resolve(ctx context.Context, fileID string) ([]byte, error)
}
