package tracker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ivan-Kuzmichev/tg-qbt-bot/internal/notifier"
	"github.com/Ivan-Kuzmichev/tg-qbt-bot/internal/transfer"
)

const (
	tickInterval = 5 * time.Millisecond
	waitFor      = 2 * time.Second
	pollEvery    = time.Millisecond
)

// fakeClient serves canned transfer listings; each poll consumes the next
// entry and the last one repeats.
type fakeClient struct {
	mu      sync.Mutex
	polls   int
	results [][]*transfer.Transfer
	err     error
}

func (f *fakeClient) Transfers(ctx context.Context, hashes ...string) ([]*transfer.Transfer, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.err != nil {
		return nil, f.err
	}

	idx := f.polls
	if idx >= len(f.results) {
		idx = len(f.results) - 1
	}

	f.polls++

	return f.results[idx], nil
}

func (f *fakeClient) pollCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.polls
}

func (f *fakeClient) Authenticate(ctx context.Context) error { return nil }

func (f *fakeClient) Version(ctx context.Context) (string, error) { return "test", nil }

func (f *fakeClient) AddTransferByURL(ctx context.Context, url string, opts transfer.AddOptions) error {
	return nil
}

func (f *fakeClient) AddTransferByBytes(ctx context.Context, content []byte, filename string, opts transfer.AddOptions) error {
	return nil
}

func (f *fakeClient) StopTransfers(ctx context.Context, hashes ...string) error { return nil }

func (f *fakeClient) StartTransfers(ctx context.Context, hashes ...string) error { return nil }

func (f *fakeClient) RemoveTransfers(ctx context.Context, hashes []string, deleteFiles bool) error {
	return nil
}

type recordedEdit struct {
	chatID    int64
	messageID int64
	text      string
	kb        notifier.Keyboard
}

type fakeNotifier struct {
	mu      sync.Mutex
	edits   []recordedEdit
	editErr error
}

func (f *fakeNotifier) Send(ctx context.Context, chatID int64, text string, kb notifier.Keyboard) (int64, error) {
	return 1, nil
}

func (f *fakeNotifier) Edit(ctx context.Context, chatID, messageID int64, text string, kb notifier.Keyboard) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.editErr != nil {
		return f.editErr
	}

	f.edits = append(f.edits, recordedEdit{chatID: chatID, messageID: messageID, text: text, kb: kb})

	return nil
}

func (f *fakeNotifier) AnswerCallback(ctx context.Context, callbackID, text string, showAlert bool) error {
	return nil
}

func (f *fakeNotifier) editCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()

	return len(f.edits)
}

func (f *fakeNotifier) lastEdit() recordedEdit {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.edits[len(f.edits)-1]
}

func downloading(hash string, progress float64) []*transfer.Transfer {
	return []*transfer.Transfer{{Hash: hash, Name: "ubuntu.iso", Progress: progress, State: "downloading"}}
}

func TestTracker_FirstTickRendersProgress(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	client := &fakeClient{results: [][]*transfer.Transfer{downloading("abc", 0)}}
	n := &fakeNotifier{}

	trk := New(client, n, nil, tickInterval)
	trk.Track(ctx, 10, 20, "abc", "ubuntu.iso")

	require.Eventually(t, func() bool { return n.editCount() >= 1 }, waitFor, pollEvery)

	edit := n.lastEdit()
	assert.Equal(t, int64(10), edit.chatID)
	assert.Equal(t, int64(20), edit.messageID)
	assert.Contains(t, edit.text, "0.0%")
	assert.Contains(t, edit.text, "downloading")

	require.Len(t, edit.kb, 2)
	require.Len(t, edit.kb[0], 1)
	assert.Equal(t, "⏸ Pause", edit.kb[0][0].Text)
	assert.Equal(t, "pause:abc", edit.kb[0][0].Data)

	require.Len(t, edit.kb[1], 2)
	assert.Equal(t, "delete:abc", edit.kb[1][0].Data)
	assert.Equal(t, "deletef:abc", edit.kb[1][1].Data)
}

func TestTracker_ResumeButtonWhenStopped(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	client := &fakeClient{results: [][]*transfer.Transfer{
		{{Hash: "abc", Name: "ubuntu.iso", Progress: 0.4, State: transfer.StateStoppedDL}},
	}}
	n := &fakeNotifier{}

	trk := New(client, n, nil, tickInterval)
	trk.Track(ctx, 10, 20, "abc", "ubuntu.iso")

	require.Eventually(t, func() bool { return n.editCount() >= 1 }, waitFor, pollEvery)

	edit := n.lastEdit()
	assert.Equal(t, "▶️ Resume", edit.kb[0][0].Text)
	assert.Equal(t, "resume:abc", edit.kb[0][0].Data)
}

// TestTracker_Debounce verifies that consecutive ticks with identical
// rendered content issue no additional edits.
func TestTracker_Debounce(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	client := &fakeClient{results: [][]*transfer.Transfer{downloading("abc", 0.123)}}
	n := &fakeNotifier{}

	trk := New(client, n, nil, tickInterval)
	trk.Track(ctx, 10, 20, "abc", "ubuntu.iso")

	// Let several polls happen, then confirm only the first produced an edit.
	require.Eventually(t, func() bool { return client.pollCount() >= 5 }, waitFor, pollEvery)
	assert.Equal(t, 1, n.editCount())
}

func TestTracker_ProgressChangeTriggersEdit(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	client := &fakeClient{results: [][]*transfer.Transfer{
		downloading("abc", 0.10),
		downloading("abc", 0.10),
		downloading("abc", 0.20),
	}}
	n := &fakeNotifier{}

	trk := New(client, n, nil, tickInterval)
	trk.Track(ctx, 10, 20, "abc", "ubuntu.iso")

	require.Eventually(t, func() bool { return n.editCount() >= 2 }, waitFor, pollEvery)

	assert.Contains(t, n.lastEdit().text, "20.0%")
}

// TestTracker_Completion verifies the terminal contract: exactly one
// completion edit, no buttons, and no further edits afterwards.
func TestTracker_Completion(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	client := &fakeClient{results: [][]*transfer.Transfer{downloading("abc", 1.0)}}
	n := &fakeNotifier{}

	trk := New(client, n, nil, tickInterval)
	trk.Track(ctx, 10, 20, "abc", "ubuntu.iso")

	require.Eventually(t, func() bool { return trk.Active() == 0 }, waitFor, pollEvery)

	require.Equal(t, 1, n.editCount())

	edit := n.lastEdit()
	assert.Contains(t, edit.text, "Download complete")
	assert.Contains(t, edit.text, "ubuntu.iso")
	assert.Nil(t, edit.kb)

	// The session is gone; give the clock a few more intervals and confirm
	// nothing else is rendered.
	time.Sleep(5 * tickInterval)
	assert.Equal(t, 1, n.editCount())
}

func TestTracker_Vanished(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	client := &fakeClient{results: [][]*transfer.Transfer{{}}}
	n := &fakeNotifier{}

	trk := New(client, n, nil, tickInterval)
	trk.Track(ctx, 10, 20, "abc", "ubuntu.iso")

	require.Eventually(t, func() bool { return trk.Active() == 0 }, waitFor, pollEvery)

	// The transfer disappeared before the first render: the session ends
	// without touching the message.
	assert.Zero(t, n.editCount())
}

func TestTracker_PollErrorEndsSession(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	client := &fakeClient{err: errors.New("daemon unreachable")}
	n := &fakeNotifier{}

	trk := New(client, n, nil, tickInterval)
	trk.Track(ctx, 10, 20, "abc", "ubuntu.iso")

	require.Eventually(t, func() bool { return trk.Active() == 0 }, waitFor, pollEvery)
	assert.Zero(t, n.editCount())
}

func TestTracker_EditErrorEndsSession(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	client := &fakeClient{results: [][]*transfer.Transfer{downloading("abc", 0.5)}}
	n := &fakeNotifier{editErr: errors.New("message to edit not found")}

	trk := New(client, n, nil, tickInterval)
	trk.Track(ctx, 10, 20, "abc", "ubuntu.iso")

	require.Eventually(t, func() bool { return trk.Active() == 0 }, waitFor, pollEvery)
}

// TestTracker_IndependentSessions verifies that stopping one session leaves
// another one polling.
func TestTracker_IndependentSessions(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	clientA := &fakeClient{results: [][]*transfer.Transfer{downloading("abc", 0.1)}}

	n := &fakeNotifier{}

	trk := New(clientA, n, nil, tickInterval)
	trk.Track(ctx, 10, 20, "abc", "ubuntu.iso")
	trk.Track(ctx, 10, 21, "def", "fedora.iso")

	require.Equal(t, 2, trk.Active())

	trk.Stop(10, 20)

	require.Eventually(t, func() bool { return trk.Active() == 1 }, waitFor, pollEvery)

	// The surviving session keeps polling.
	before := clientA.pollCount()
	require.Eventually(t, func() bool { return clientA.pollCount() > before+2 }, waitFor, pollEvery)
}

// TestTracker_StopIsIdempotent verifies that stopping an already-stopped
// session is a no-op.
func TestTracker_StopIsIdempotent(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	client := &fakeClient{results: [][]*transfer.Transfer{downloading("abc", 0.1)}}
	n := &fakeNotifier{}

	trk := New(client, n, nil, tickInterval)
	trk.Track(ctx, 10, 20, "abc", "ubuntu.iso")

	trk.Stop(10, 20)
	trk.Stop(10, 20)

	require.Eventually(t, func() bool { return trk.Active() == 0 }, waitFor, pollEvery)

	trk.Stop(10, 20)
}

func TestTracker_ReplaceSessionForSameMessage(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	client := &fakeClient{results: [][]*transfer.Transfer{downloading("abc", 0.1)}}
	n := &fakeNotifier{}

	trk := New(client, n, nil, tickInterval)
	trk.Track(ctx, 10, 20, "abc", "ubuntu.iso")
	trk.Track(ctx, 10, 20, "def", "fedora.iso")

	// Only one session per (chat, message) pair survives.
	require.Eventually(t, func() bool { return trk.Active() == 1 }, waitFor, pollEvery)

	time.Sleep(5 * tickInterval)
	assert.Equal(t, 1, trk.Active())
}

func TestTracker_ContextCancelStopsAll(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	client := &fakeClient{results: [][]*transfer.Transfer{downloading("abc", 0.1)}}
	n := &fakeNotifier{}

	trk := New(client, n, nil, tickInterval)
	trk.Track(ctx, 10, 20, "abc", "ubuntu.iso")
	trk.Track(ctx, 11, 21, "def", "fedora.iso")

	cancel()

	require.Eventually(t, func() bool { return trk.Active() == 0 }, waitFor, pollEvery)
}
