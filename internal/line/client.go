// Package line talks to the LINE Messaging API: webhook payload types,
// signature verification and the reply endpoint.
package line

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"
)

const (
	DefaultEndpoint = "https://api.line.me"
	// SignatureHeader carries the base64 HMAC-SHA256 of the request body.
	SignatureHeader = "X-Line-Signature"
	// MaxTextRunes is the LINE limit for one text message.
	MaxTextRunes = 5000
)

// Webhook is the body LINE posts to the webhook endpoint.
type Webhook struct {
	Destination string  `json:"destination"`
	Events      []Event `json:"events"`
}

// Event is one webhook event. Only text message events are acted on.
type Event struct {
	Type       string   `json:"type"`
	ReplyToken string   `json:"replyToken"`
	Source     Source   `json:"source"`
	Message    *Message `json:"message,omitempty"`
	Timestamp  int64    `json:"timestamp"`
}

// Source identifies who sent an event.
type Source struct {
	Type    string `json:"type"`
	UserID  string `json:"userId"`
	GroupID string `json:"groupId,omitempty"`
	RoomID  string `json:"roomId,omitempty"`
}

// Message is an incoming message.
type Message struct {
	ID   string `json:"id"`
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

// TextMessage returns the text and true when e is a text message event.
func (e Event) TextMessage() (string, bool) {
	if e.Type != "message" || e.Message == nil || e.Message.Type != "text" {
		return "", false
	}
	return e.Message.Text, true
}

// ThreadID returns the conversation key for the event: the user id, falling
// back to the group or room id.
func (e Event) ThreadID() string {
	switch {
	case e.Source.UserID != "":
		return e.Source.UserID
	case e.Source.GroupID != "":
		return e.Source.GroupID
	default:
		return e.Source.RoomID
	}
}

// VerifySignature checks signature against the channel secret.
func VerifySignature(secret string, body []byte, signature string) bool {
	decoded, err := base64.StdEncoding.DecodeString(signature)
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hmac.Equal(decoded, mac.Sum(nil))
}

// Sign returns the signature LINE would send for body.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

// Config configures a Client.
type Config struct {
	Endpoint    string
	AccessToken string
	Timeout     time.Duration
	HTTPClient  *http.Client
}

// Client sends replies.
type Client struct {
	endpoint string
	token    string
	http     *http.Client
}

// New creates a Client.
func New(cfg Config) *Client {
	if cfg.Endpoint == "" {
		cfg.Endpoint = DefaultEndpoint
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	hc := cfg.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: cfg.Timeout}
	}
	return &Client{endpoint: strings.TrimRight(cfg.Endpoint, "/"), token: cfg.AccessToken, http: hc}
}

type replyRequest struct {
	ReplyToken string        `json:"replyToken"`
	Messages   []textMessage `json:"messages"`
}

type textMessage struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// Reply answers a webhook event with one text message. Text beyond
// MaxTextRunes is cut.
func (c *Client) Reply(ctx context.Context, replyToken, text string) error {
	if utf8.RuneCountInString(text) > MaxTextRunes {
		text = string([]rune(text)[:MaxTextRunes])
	}
	body, err := json.Marshal(replyRequest{
		ReplyToken: replyToken,
		Messages:   []textMessage{{Type: "text", Text: text}},
	})
	if err != nil {
		return fmt.Errorf("line: marshal reply: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint+"/v2/bot/message/reply", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("line: new request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("line: reply: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("line: reply status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}
	return nil
}
