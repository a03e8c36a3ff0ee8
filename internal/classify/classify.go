// Package classify decides what an inbound message is (magnet link, hosted
// torrent URL, torrent file) and extracts inline submission options from its
// text. It is pure string processing; all daemon interaction happens after
// classification.
package classify

import (
	"regexp"
	"strings"

	"github.com/Ivan-Kuzmichev/tg-qbt-bot/internal/transfer"
)

var (
	magnetRe     = regexp.MustCompile(`(?i)^magnet:\?xt=urn:btih:[a-z0-9]{32,}.*$`)
	torrentURLRe = regexp.MustCompile(`(?i)^https?://.+\.torrent(\?.*)?$`)
	optionRe     = regexp.MustCompile(`(?i)\b(category|savepath|tags|paused)=(\S+)`)
)

// IsMagnet reports whether text is a magnet URI with a BitTorrent info-hash.
func IsMagnet(text string) bool {
	return magnetRe.MatchString(strings.TrimSpace(text))
}

// IsTorrentURL reports whether text is an HTTP(S) URL pointing at a .torrent file.
func IsTorrentURL(text string) bool {
	return torrentURLRe.MatchString(strings.TrimSpace(text))
}

// IsTorrentFilename reports whether an uploaded file name looks like a
// torrent file.
func IsTorrentFilename(name string) bool {
	return strings.HasSuffix(strings.ToLower(name), ".torrent")
}

// Defaults are the configured fallback submission options, applied for every
// field a message does not override inline.
type Defaults struct {
	Category string
	SavePath string
	Tags     string
	Paused   string
}

// AddOptions parses inline key=value overrides out of the message text and
// merges them over the configured defaults.
func AddOptions(text string, defaults Defaults) transfer.AddOptions {
	category := defaults.Category
	savePath := defaults.SavePath
	tags := defaults.Tags
	paused := defaults.Paused

	for _, m := range optionRe.FindAllStringSubmatch(text, -1) {
		switch strings.ToLower(m[1]) {
		case "category":
			category = m[2]
		case "savepath":
			savePath = m[2]
		case "tags":
			tags = m[2]
		case "paused":
			paused = m[2]
		}
	}

	return transfer.AddOptions{
		Category: category,
		SavePath: savePath,
		Tags:     tags,
		Paused:   ParsePaused(paused),
	}
}

// ParsePaused maps a textual paused flag onto the tri-state the daemon add
// call expects: nil (not sent), true, or false. Only "1" and "true" count as
// true, matching the daemon's own form encoding.
func ParsePaused(val string) *bool {
	if val == "" {
		return nil
	}

	paused := false

	switch strings.ToLower(val) {
	case "1", "true":
		paused = true
	}

	return &paused
}
