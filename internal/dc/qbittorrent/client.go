package qbittorrent

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/Ivan-Kuzmichev/tg-qbt-bot/internal/logctx"
	"github.com/Ivan-Kuzmichev/tg-qbt-bot/internal/transfer"
)

const apiPrefix = "/api/v2"

// maxSessionAttempts bounds the session retry policy: every daemon call gets
// at most one login plus one retry when the first attempt fails with an
// authentication error. A failure surviving the retry goes to the caller
// unchanged.
const maxSessionAttempts = 2

// Client talks to the qBittorrent WebUI API. The session cookie issued by
// auth/login lives in the http.Client's cookie jar, which is safe under
// concurrent logins (last cookie wins, and login is idempotent).
type Client struct {
	BaseURL    string
	Username   string
	Password   string
	httpClient *http.Client
}

func NewClient(baseURL, username, password string, timeout time.Duration) *Client {
	jar, _ := cookiejar.New(nil)

	return &Client{
		BaseURL:  strings.TrimRight(baseURL, "/"),
		Username: username,
		Password: password,
		httpClient: &http.Client{
			Timeout: timeout,
			Jar:     jar,
		},
	}
}

var _ transfer.Client = (*Client)(nil)

// Authenticate performs auth/login and stores the returned session cookie.
// qBittorrent answers 200 with body "Ok." on success and "Fails." on bad
// credentials.
func (c *Client) Authenticate(ctx context.Context) error {
	logger := logctx.LoggerFromContext(ctx).With("method", "auth.login")

	form := url.Values{}
	form.Set("username", c.Username)
	form.Set("password", c.Password)

	body, err := c.postForm(ctx, "auth_login", "/auth/login", form)
	if err != nil {
		return err
	}

	if !strings.HasPrefix(string(body), "Ok") {
		logger.Debug("login rejected", "body", string(body))

		return &transfer.AuthenticationError{Operation: "auth_login"}
	}

	logger.Debug("session established")

	return nil
}

// Version reports the daemon version. It logs in first so the call doubles
// as a credential check.
func (c *Client) Version(ctx context.Context) (string, error) {
	if err := c.Authenticate(ctx); err != nil {
		return "", err
	}

	body, err := c.get(ctx, "app_version", "/app/version", nil)
	if err != nil {
		return "", err
	}

	return strings.TrimSpace(string(body)), nil
}

type torrentInfo struct {
	Hash     string  `json:"hash"`
	Name     string  `json:"name"`
	Progress float64 `json:"progress"`
	State    string  `json:"state"`
	AddedOn  int64   `json:"added_on"`
	Size     int64   `json:"size"`
	DLSpeed  int64   `json:"dlspeed"`
}

// Transfers lists torrents known to the daemon, optionally filtered by hash.
func (c *Client) Transfers(ctx context.Context, hashes ...string) ([]*transfer.Transfer, error) {
	const op = "list_transfers"

	query := url.Values{}
	if len(hashes) > 0 {
		// qBittorrent separates multiple hashes with "|".
		query.Set("hashes", strings.Join(hashes, "|"))
	}

	var body []byte

	err := c.withSession(ctx, func(ctx context.Context) error {
		var err error
		body, err = c.get(ctx, op, "/torrents/info", query)

		return err
	})
	if err != nil {
		return nil, err
	}

	var infos []torrentInfo
	if err := json.Unmarshal(body, &infos); err != nil {
		return nil, &transfer.ProtocolError{Operation: op, Reason: "response is not a torrent list", Err: err}
	}

	transfers := make([]*transfer.Transfer, 0, len(infos))
	for _, info := range infos {
		transfers = append(transfers, &transfer.Transfer{
			Hash:     info.Hash,
			Name:     info.Name,
			Progress: info.Progress,
			State:    info.State,
			AddedOn:  time.Unix(info.AddedOn, 0),
			Size:     info.Size,
			DLSpeed:  info.DLSpeed,
		})
	}

	return transfers, nil
}

// AddTransferByURL submits a magnet link or hosted .torrent URL. The link is
// expected to be validated by the caller.
func (c *Client) AddTransferByURL(ctx context.Context, link string, opts transfer.AddOptions) error {
	logger := logctx.LoggerFromContext(ctx).With("method", "torrents.add")

	form := url.Values{}
	form.Set("urls", link)
	encodeAddOptions(form.Set, opts)

	logger.Debug("adding transfer by url")

	return c.withSession(ctx, func(ctx context.Context) error {
		_, err := c.postForm(ctx, "add_transfer", "/torrents/add", form)

		return err
	})
}

// AddTransferByBytes submits raw .torrent file content as a multipart upload.
func (c *Client) AddTransferByBytes(ctx context.Context, content []byte, filename string, opts transfer.AddOptions) error {
	logger := logctx.LoggerFromContext(ctx).With("method", "torrents.add", "filename", filename)

	if filename == "" {
		filename = "upload.torrent"
	}

	logger.Debug("adding transfer by file upload", "size_bytes", len(content))

	return c.withSession(ctx, func(ctx context.Context) error {
		var buf bytes.Buffer

		mw := multipart.NewWriter(&buf)

		fw, err := mw.CreateFormFile("torrents", filename)
		if err != nil {
			return &transfer.NetworkError{Operation: "add_transfer", APIMessage: err.Error(), Err: err}
		}

		if _, err := fw.Write(content); err != nil {
			return &transfer.NetworkError{Operation: "add_transfer", APIMessage: err.Error(), Err: err}
		}

		encodeAddOptions(func(key, value string) { mw.WriteField(key, value) }, opts)

		if err := mw.Close(); err != nil {
			return &transfer.NetworkError{Operation: "add_transfer", APIMessage: err.Error(), Err: err}
		}

		_, err = c.post(ctx, "add_transfer", "/torrents/add", mw.FormDataContentType(), buf.Bytes())

		return err
	})
}

// StopTransfers pauses the given torrents.
func (c *Client) StopTransfers(ctx context.Context, hashes ...string) error {
	return c.controlTransfers(ctx, "stop_transfers", "/torrents/stop", hashes)
}

// StartTransfers resumes the given torrents.
func (c *Client) StartTransfers(ctx context.Context, hashes ...string) error {
	return c.controlTransfers(ctx, "start_transfers", "/torrents/start", hashes)
}

// RemoveTransfers deletes the given torrents from the daemon, optionally
// removing downloaded data from disk.
func (c *Client) RemoveTransfers(ctx context.Context, hashes []string, deleteFiles bool) error {
	form := url.Values{}
	form.Set("hashes", strings.Join(hashes, "|"))
	form.Set("deleteFiles", strconv.FormatBool(deleteFiles))

	return c.withSession(ctx, func(ctx context.Context) error {
		_, err := c.postForm(ctx, "remove_transfers", "/torrents/delete", form)

		return err
	})
}

func (c *Client) controlTransfers(ctx context.Context, op, path string, hashes []string) error {
	form := url.Values{}
	form.Set("hashes", strings.Join(hashes, "|"))

	return c.withSession(ctx, func(ctx context.Context) error {
		_, err := c.postForm(ctx, op, path, form)

		return err
	})
}

// withSession runs fn against the current session. When fn fails with an
// authentication error, the client logs in once and retries fn once; any
// other failure, and any failure of the retry, is returned as-is.
func (c *Client) withSession(ctx context.Context, fn func(context.Context) error) error {
	var err error

	for attempt := 1; ; attempt++ {
		err = fn(ctx)

		var authErr *transfer.AuthenticationError
		if err == nil || !errors.As(err, &authErr) || attempt == maxSessionAttempts {
			return err
		}

		logctx.LoggerFromContext(ctx).Debug("session expired, logging in again")

		if loginErr := c.Authenticate(ctx); loginErr != nil {
			return loginErr
		}
	}
}

func encodeAddOptions(set func(key, value string), opts transfer.AddOptions) {
	if opts.Category != "" {
		set("category", opts.Category)
	}

	if opts.SavePath != "" {
		set("savepath", opts.SavePath)
	}

	if opts.Tags != "" {
		set("tags", opts.Tags)
	}

	if opts.Paused != nil {
		set("paused", strconv.FormatBool(*opts.Paused))
	}
}

func (c *Client) get(ctx context.Context, op, path string, query url.Values) ([]byte, error) {
	endpoint := c.BaseURL + apiPrefix + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, &transfer.NetworkError{Operation: op, APIMessage: err.Error(), Err: err}
	}

	return c.send(op, req)
}

func (c *Client) postForm(ctx context.Context, op, path string, form url.Values) ([]byte, error) {
	return c.post(ctx, op, path, "application/x-www-form-urlencoded", []byte(form.Encode()))
}

func (c *Client) post(ctx context.Context, op, path, contentType string, body []byte) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+apiPrefix+path, bytes.NewReader(body))
	if err != nil {
		return nil, &transfer.NetworkError{Operation: op, APIMessage: err.Error(), Err: err}
	}

	req.Header.Set("Content-Type", contentType)

	return c.send(op, req)
}

// send executes the request and maps the response onto the error kinds the
// rest of the bot branches on: 401/403 is an authentication failure (retryable
// through withSession), any other non-2xx a network failure.
func (c *Client) send(op string, req *http.Request) ([]byte, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &transfer.NetworkError{Operation: op, APIMessage: err.Error(), Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &transfer.NetworkError{Operation: op, APIMessage: err.Error(), Err: err}
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, &transfer.AuthenticationError{
			Operation: op,
			Err:       fmt.Errorf("daemon rejected session (HTTP %d)", resp.StatusCode),
		}
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return nil, &transfer.NetworkError{
			Operation:  op,
			StatusCode: resp.StatusCode,
			APIMessage: strings.TrimSpace(string(body)),
		}
	}

	return body, nil
}
