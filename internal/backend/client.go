// Package backend is the REST client for the coaching service: SDP signaling,
// turn upload, live feedback and session completion.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"coachvoice/internal/domain"
)

// ErrStatus is wrapped by every non-2xx response.
var ErrStatus = errors.New("unexpected backend status")

const maxErrorBody = 4 << 10

// StatusError carries the HTTP status and a prefix of the response body.
type StatusError struct {
	Op     string
	Status int
	Body   string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("%s: backend returned %d", e.Op, e.Status)
	}
	return fmt.Sprintf("%s: backend returned %d: %s", e.Op, e.Status, e.Body)
}

func (e *StatusError) Unwrap() error { return ErrStatus }

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient overrides the HTTP client used for requests.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithToken sets the bearer token sent on every request.
func WithToken(token string) Option {
	return func(c *Client) { c.token = strings.TrimSpace(token) }
}

func WithLogger(log logrus.FieldLogger) Option {
	return func(c *Client) { c.log = log }
}

// Client implements ports.Signaling, ports.TurnUploader,
// ports.FeedbackSource and ports.SessionBackend.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
	log     logrus.FieldLogger
}

func NewClient(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		http:    &http.Client{Timeout: 30 * time.Second},
		log:     logrus.StandardLogger(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// ExchangeSDP posts the local offer and returns the remote answer verbatim.
func (c *Client) ExchangeSDP(ctx context.Context, sessionID string, offer string) (string, error) {
	req, err := c.newRequest(ctx, http.MethodPost, c.sessionURL(sessionID, "realtime"), strings.NewReader(offer))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/sdp")
	req.Header.Set("Accept", "application/sdp")

	body, err := c.do(req, "exchange sdp")
	if err != nil {
		return "", err
	}
	answer := string(body)
	if strings.TrimSpace(answer) == "" {
		return "", errors.New("exchange sdp: empty answer")
	}
	return answer, nil
}

// UploadTurn posts one complete turn as multipart form data. The turn id is
// sent as the idempotency key.
func (c *Client) UploadTurn(ctx context.Context, turn domain.Turn) error {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)

	fields := []struct{ name, value string }{
		{"session_id", turn.SessionID},
		{"speaker", string(turn.Speaker)},
		{"text", turn.Text},
		{"start_offset_ms", strconv.FormatInt(turn.StartOffsetMs, 10)},
		{"end_offset_ms", strconv.FormatInt(turn.EndOffsetMs, 10)},
	}
	for _, f := range fields {
		if err := mw.WriteField(f.name, f.value); err != nil {
			return fmt.Errorf("write %s field: %w", f.name, err)
		}
	}

	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", fmt.Sprintf(`form-data; name="audio_file"; filename=%q`, turn.AudioFileName()))
	mime := turn.AudioMIME
	if mime == "" {
		mime = "application/octet-stream"
	}
	header.Set("Content-Type", mime)
	fw, err := mw.CreatePart(header)
	if err != nil {
		return fmt.Errorf("create audio part: %w", err)
	}
	if _, err := fw.Write(turn.Audio); err != nil {
		return fmt.Errorf("write audio part: %w", err)
	}
	if err := mw.Close(); err != nil {
		return fmt.Errorf("close multipart writer: %w", err)
	}

	req, err := c.newRequest(ctx, http.MethodPost, c.sessionURL(turn.SessionID, "turns"), &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	if turn.ID != "" {
		req.Header.Set("Idempotency-Key", turn.ID)
	}

	_, err = c.do(req, "upload turn")
	return err
}

// FetchLiveFeedback lists feedback items newest first. Both a bare JSON array
// and an {"items": [...]} envelope are accepted.
func (c *Client) FetchLiveFeedback(ctx context.Context, sessionID string) ([]domain.LiveFeedbackItem, error) {
	req, err := c.newRequest(ctx, http.MethodGet, c.sessionURL(sessionID, "live-feedback"), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	body, err := c.do(req, "fetch live feedback")
	if err != nil {
		return nil, err
	}

	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return nil, nil
	}
	var items []domain.LiveFeedbackItem
	if trimmed[0] == '[' {
		if err := json.Unmarshal(trimmed, &items); err != nil {
			return nil, fmt.Errorf("decode live feedback: %w", err)
		}
		return items, nil
	}
	var envelope struct {
		Items []domain.LiveFeedbackItem `json:"items"`
	}
	if err := json.Unmarshal(trimmed, &envelope); err != nil {
		return nil, fmt.Errorf("decode live feedback: %w", err)
	}
	return envelope.Items, nil
}

// CompleteSession moves the backend session record to its completed state.
func (c *Client) CompleteSession(ctx context.Context, sessionID string) error {
	payload, err := json.Marshal(map[string]string{"status": "completed"})
	if err != nil {
		return fmt.Errorf("encode session status: %w", err)
	}
	req, err := c.newRequest(ctx, http.MethodPatch, c.sessionURL(sessionID), bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	_, err = c.do(req, "complete session")
	return err
}

func (c *Client) sessionURL(sessionID string, parts ...string) string {
	segments := append([]string{"sessions", url.PathEscape(sessionID)}, parts...)
	return c.baseURL + "/" + strings.Join(segments, "/")
}

func (c *Client) newRequest(ctx context.Context, method, target string, body io.Reader) (*http.Request, error) {
	if c.baseURL == "" {
		return nil, errors.New("backend base url is not configured")
	}
	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	req.Header.Set("X-Request-ID", uuid.NewString())
	return req, nil
}

func (c *Client) do(req *http.Request, op string) ([]byte, error) {
	started := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer resp.Body.Close()

	c.log.WithFields(logrus.Fields{
		"op":          op,
		"status":      resp.StatusCode,
		"request_id":  req.Header.Get("X-Request-ID"),
		"duration_ms": time.Since(started).Milliseconds(),
	}).Debug("backend request")

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, &StatusError{Op: op, Status: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%s: read response: %w", op, err)
	}
	return body, nil
}
