// Package host - chatclient.go is the HTTP-backed ChatService.
//
// Accessor failures return zero values: the tracker treats a missing count
// as "recount it" or "estimate", so a flaky host API degrades accounting
// instead of breaking it.
package host

import (
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/tidwall/gjson"
)

// Client reads chat state from the host's HTTP API.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// ClientOption configures the Client.
type ClientOption func(*Client)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(c *http.Client) ClientOption {
	return func(client *Client) { client.httpClient = c }
}

// NewClient creates a chat state client.
func NewClient(baseURL string, opts ...ClientOption) *Client {
	c := &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: 5 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Message implements ChatService.
func (c *Client) Message(index int) (Message, bool) {
	body, err := c.get(fmt.Sprintf("/api/chat/messages/%d", index))
	if err != nil {
		log.Debug().Err(err).Int("index", index).Msg("host: message fetch failed")
		return Message{}, false
	}
	return parseMessage(body), true
}

// LastMessage implements ChatService.
func (c *Client) LastMessage() (Message, bool) {
	body, err := c.get("/api/chat/messages/last")
	if err != nil {
		log.Debug().Err(err).Msg("host: last message fetch failed")
		return Message{}, false
	}
	return parseMessage(body), true
}

// StreamingText implements ChatService.
func (c *Client) StreamingText() string {
	body, err := c.get("/api/chat/streaming")
	if err != nil {
		return ""
	}
	return gjson.GetBytes(body, "text").String()
}

// CurrentChatID implements ChatService.
func (c *Client) CurrentChatID() string { return c.stateField("chatId") }

// CurrentModelID implements ChatService.
func (c *Client) CurrentModelID() string { return c.stateField("modelId") }

// CurrentSourceID implements ChatService.
func (c *Client) CurrentSourceID() string { return c.stateField("sourceId") }

func (c *Client) stateField(field string) string {
	body, err := c.get("/api/state")
	if err != nil {
		log.Debug().Err(err).Str("field", field).Msg("host: state fetch failed")
		return ""
	}
	return gjson.GetBytes(body, field).String()
}

func (c *Client) get(path string) ([]byte, error) {
	resp, err := c.httpClient.Get(c.baseURL + path)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("host API: HTTP %d for %s", resp.StatusCode, path)
	}
	return io.ReadAll(resp.Body)
}

func parseMessage(body []byte) Message {
	return Message{
		Text:       gjson.GetBytes(body, "text").String(),
		Reasoning:  gjson.GetBytes(body, "reasoning").String(),
		TokenCount: int(gjson.GetBytes(body, "tokenCount").Int()),
		IsUser:     gjson.GetBytes(body, "isUser").Bool(),
		IsSystem:   gjson.GetBytes(body, "isSystem").Bool(),
	}
}
