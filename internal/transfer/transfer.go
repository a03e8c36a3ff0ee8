package transfer

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// StateStoppedDL is the state label qBittorrent reports for a download that
// has been stopped by the user. The rendered controls switch from "pause" to
// "resume" when a transfer is in this state.
const StateStoppedDL = "stoppedDL"

// Transfer is one torrent as reported by the daemon.
type Transfer struct {
	Hash     string
	Name     string
	Progress float64
	State    string
	AddedOn  time.Time
	Size     int64
	DLSpeed  int64
}

func (t *Transfer) IsComplete() bool {
	return t.Progress >= 1.0
}

func (t *Transfer) IsStopped() bool {
	return t.State == StateStoppedDL
}

// AddOptions carries the optional torrent creation settings. Zero-valued
// fields are not sent to the daemon, so its own defaults apply.
type AddOptions struct {
	Category string
	SavePath string
	Tags     string
	Paused   *bool
}

// Client is the authenticated surface of the download daemon.
type Client interface {
	Authenticate(ctx context.Context) error
	Version(ctx context.Context) (string, error)
	Transfers(ctx context.Context, hashes ...string) ([]*Transfer, error)
	AddTransferByURL(ctx context.Context, url string, opts AddOptions) error
	AddTransferByBytes(ctx context.Context, content []byte, filename string, opts AddOptions) error
	StopTransfers(ctx context.Context, hashes ...string) error
	StartTransfers(ctx context.Context, hashes ...string) error
	RemoveTransfers(ctx context.Context, hashes []string, deleteFiles bool) error
}

// MostRecent returns the transfer with the latest AddedOn timestamp, or nil
// for an empty list. The daemon's add endpoint does not return the new
// transfer's hash, so callers list everything and use this to find the
// transfer they just added. A transfer added concurrently with an equal or
// later timestamp can win instead; that race is inherent to the API.
func MostRecent(transfers []*Transfer) *Transfer {
	var latest *Transfer

	for _, t := range transfers {
		if latest == nil || t.AddedOn.After(latest.AddedOn) {
			latest = t
		}
	}

	return latest
}

// ControlVerb is an action requested through an inline button press.
type ControlVerb string

const (
	VerbPause       ControlVerb = "pause"
	VerbResume      ControlVerb = "resume"
	VerbDelete      ControlVerb = "delete"
	VerbDeleteFiles ControlVerb = "deletef"
)

// Callback encodes the verb and transfer hash into callback data.
func (v ControlVerb) Callback(hash string) string {
	return string(v) + ":" + hash
}

// ParseCallback decodes callback data produced by ControlVerb.Callback.
func ParseCallback(data string) (ControlVerb, string, error) {
	verb, hash, ok := strings.Cut(data, ":")
	if !ok || hash == "" {
		return "", "", fmt.Errorf("malformed callback data: %q", data)
	}

	switch v := ControlVerb(verb); v {
	case VerbPause, VerbResume, VerbDelete, VerbDeleteFiles:
		return v, hash, nil
	default:
		return "", "", fmt.Errorf("unknown control verb: %q", verb)
	}
}
