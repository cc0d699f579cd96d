// Package gmail reads booking confirmation emails through the Gmail REST API.
package gmail

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/oauth2"
)

const (
	DefaultBaseURL  = "https://gmail.googleapis.com/gmail/v1/users/me"
	DefaultTokenURL = "https://oauth2.googleapis.com/token"
	defaultAuthURL  = "https://accounts.google.com/o/oauth2/auth"
	readonlyScope   = "https://www.googleapis.com/auth/gmail.readonly"
)

type Config struct {
	ClientID     string
	ClientSecret string
	RefreshToken string
	BaseURL      string
	TokenURL     string
	Timeout      time.Duration
}

// Configured reports whether refresh-token credentials are present.
func (c Config) Configured() bool {
	return c.ClientID != "" && c.ClientSecret != "" && c.RefreshToken != ""
}

// Message is one fetched email with its decoded bodies.
type Message struct {
	ID         string
	HTML       string
	Text       string
	Subject    string
	ReceivedAt *time.Time
}

type Client struct {
	http    *http.Client
	baseURL string
	logger  *slog.Logger
}

// NewClient returns a client whose transport refreshes access tokens from
// the configured refresh token.
func NewClient(ctx context.Context, cfg Config, logger *slog.Logger) *Client {
	tokenURL := cfg.TokenURL
	if tokenURL == "" {
		tokenURL = DefaultTokenURL
	}
	oc := &oauth2.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		Endpoint: oauth2.Endpoint{
			AuthURL:   defaultAuthURL,
			TokenURL:  tokenURL,
			AuthStyle: oauth2.AuthStyleInParams,
		},
		Scopes: []string{readonlyScope},
	}
	hc := oc.Client(ctx, &oauth2.Token{RefreshToken: cfg.RefreshToken})
	if cfg.Timeout > 0 {
		hc.Timeout = cfg.Timeout
	} else {
		hc.Timeout = 30 * time.Second
	}
	return NewClientWithHTTP(hc, cfg.BaseURL, logger)
}

// NewClientWithHTTP uses hc as is; it must already authorize requests.
func NewClientWithHTTP(hc *http.Client, baseURL string, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Client{
		http:    hc,
		baseURL: strings.TrimRight(baseURL, "/"),
		logger:  logger,
	}
}

type listResponse struct {
	Messages []struct {
		ID string `json:"id"`
	} `json:"messages"`
	NextPageToken string `json:"nextPageToken"`
}

// Search returns up to max message ids matching query, newest first.
func (c *Client) Search(ctx context.Context, query string, max int) ([]string, error) {
	var ids []string
	pageToken := ""
	for {
		q := url.Values{}
		q.Set("q", query)
		q.Set("maxResults", strconv.Itoa(max-len(ids)))
		if pageToken != "" {
			q.Set("pageToken", pageToken)
		}
		var out listResponse
		if err := c.get(ctx, "/messages?"+q.Encode(), &out); err != nil {
			return nil, fmt.Errorf("searching messages: %w", err)
		}
		for _, m := range out.Messages {
			ids = append(ids, m.ID)
		}
		if out.NextPageToken == "" || len(ids) >= max {
			break
		}
		pageToken = out.NextPageToken
	}
	if len(ids) > max {
		ids = ids[:max]
	}
	return ids, nil
}

type messagePart struct {
	MimeType string `json:"mimeType"`
	Headers  []struct {
		Name  string `json:"name"`
		Value string `json:"value"`
	} `json:"headers"`
	Body struct {
		Data string `json:"data"`
	} `json:"body"`
	Parts []messagePart `json:"parts"`
}

type messageResponse struct {
	ID           string      `json:"id"`
	InternalDate string      `json:"internalDate"`
	Payload      messagePart `json:"payload"`
}

// Fetch loads one message and decodes its text/html and text/plain bodies.
func (c *Client) Fetch(ctx context.Context, id string) (*Message, error) {
	var out messageResponse
	if err := c.get(ctx, "/messages/"+url.PathEscape(id)+"?format=full", &out); err != nil {
		return nil, fmt.Errorf("fetching message %s: %w", id, err)
	}

	msg := &Message{ID: out.ID}
	if msg.ID == "" {
		msg.ID = id
	}
	if ms, err := strconv.ParseInt(out.InternalDate, 10, 64); err == nil && ms > 0 {
		t := time.UnixMilli(ms).UTC()
		msg.ReceivedAt = &t
	}
	for _, h := range out.Payload.Headers {
		if strings.EqualFold(h.Name, "Subject") {
			msg.Subject = h.Value
		}
	}

	var html, text []string
	walkParts(out.Payload, func(p messagePart) {
		if p.Body.Data == "" {
			return
		}
		body, err := decodeBase64URL(p.Body.Data)
		if err != nil {
			c.logger.Warn("gmail.part.decode_error", "message_id", id, "mime_type", p.MimeType, "error", err)
			return
		}
		switch strings.ToLower(p.MimeType) {
		case "text/html":
			html = append(html, body)
		case "text/plain":
			text = append(text, body)
		}
	})
	msg.HTML = strings.Join(html, "\n")
	msg.Text = strings.Join(text, "\n")
	return msg, nil
}

// walkParts visits p and every nested part depth first.
func walkParts(p messagePart, fn func(messagePart)) {
	fn(p)
	for _, child := range p.Parts {
		walkParts(child, fn)
	}
}

func decodeBase64URL(s string) (string, error) {
	s = strings.TrimRight(s, "=")
	b, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func (c *Client) get(ctx context.Context, path string, out any) error {
	reqID := uuid.New().String()
	start := time.Now()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		c.logger.Error("gmail.http.send_error", "req_id", reqID, "error", err, "elapsed_ms", time.Since(start).Milliseconds())
		return err
	}
	defer func(Body io.ReadCloser) {
		if err := Body.Close(); err != nil {
			c.logger.Warn("gmail.http.response_body_close_error", "req_id", reqID, "error", err)
		}
	}(resp.Body)

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 16<<20))
	if err != nil {
		return err
	}
	c.logger.Debug("gmail.http.response",
		"req_id", reqID,
		"status", resp.StatusCode,
		"bytes", len(raw),
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	if resp.StatusCode/100 != 2 {
		return fmt.Errorf("non-2xx status: %d: %s", resp.StatusCode, truncate(string(raw), 200))
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
