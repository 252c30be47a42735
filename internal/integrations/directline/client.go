package directline

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"copilot-connector/internal/domain"
)

const defaultEndpoint = "https://directline.botframework.com/v3/directline"

// conversationResponse is the minimal response shape of the start-conversation call.
type conversationResponse struct {
	ConversationID string `json:"conversationId"`
	Token          string `json:"token,omitempty"`
	ExpiresIn      int    `json:"expires_in,omitempty"`
}

// secretPayload is the optional JSON shape of the secret stored in SSM.
type secretPayload struct {
	Secret string `json:"secret"`
}

// SecretStore resolves the Direct Line secret by name.
type SecretStore interface {
	GetParameter(ctx context.Context, name string) (string, error)
}

// HTTPStatusError captures non-2xx Direct Line responses.
type HTTPStatusError struct {
	StatusCode int
	URL        string
	Body       string
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("directline: unexpected status %d from %s: %s", e.StatusCode, e.URL, e.Body)
}

func (e *HTTPStatusError) HTTPStatusCode() int {
	return e.StatusCode
}

// Client talks to the Direct Line v3 REST API on behalf of a single bot.
type Client struct {
	endpoint   string
	httpClient *http.Client

	secret     string
	store      SecretStore
	secretName string
}

type Option func(*Client)

func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

// WithSecret uses a fixed bot secret.
func WithSecret(secret string) Option {
	return func(c *Client) {
		c.secret = strings.TrimSpace(secret)
	}
}

// WithSecretStore resolves the bot secret from store on every call. Stores are
// expected to cache.
func WithSecretStore(store SecretStore, name string) Option {
	return func(c *Client) {
		c.store = store
		c.secretName = strings.TrimSpace(name)
	}
}

// NewClient creates a Client for the given Direct Line endpoint. One of
// WithSecret or WithSecretStore is required.
func NewClient(endpoint string, opts ...Option) (*Client, error) {
	endpoint = strings.TrimRight(strings.TrimSpace(endpoint), "/")
	if endpoint == "" {
		endpoint = defaultEndpoint
	}
	if _, err := url.ParseRequestURI(endpoint); err != nil {
		return nil, fmt.Errorf("directline: invalid endpoint %q: %w", endpoint, err)
	}
	c := &Client{
		endpoint:   endpoint,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.secret == "" && c.store == nil {
		return nil, errors.New("directline: a secret or secret store is required")
	}
	if c.store != nil && c.secret == "" && c.secretName == "" {
		return nil, errors.New("directline: secret parameter name must not be empty")
	}
	return c, nil
}

// StartConversation opens a new conversation and returns its id.
func (c *Client) StartConversation(ctx context.Context) (string, error) {
	u := c.endpoint + "/conversations"
	raw, err := c.do(ctx, http.MethodPost, u, nil)
	if err != nil {
		return "", fmt.Errorf("directline: start conversation: %w", err)
	}

	var payload conversationResponse
	if err := json.Unmarshal(raw, &payload); err != nil {
		return "", fmt.Errorf("directline: decode conversation: %w", err)
	}
	if payload.ConversationID == "" {
		return "", errors.New("directline: no conversationId in response")
	}
	return payload.ConversationID, nil
}

// PostActivity sends an activity to an existing conversation.
func (c *Client) PostActivity(ctx context.Context, conversationID string, activity domain.OutboundActivity) error {
	if strings.TrimSpace(conversationID) == "" {
		return errors.New("directline: conversation id must not be empty")
	}
	body, err := json.Marshal(activity)
	if err != nil {
		return fmt.Errorf("directline: marshal activity: %w", err)
	}
	if _, err := c.do(ctx, http.MethodPost, c.activitiesURL(conversationID, ""), body); err != nil {
		return fmt.Errorf("directline: post activity: %w", err)
	}
	return nil
}

// GetActivities returns the activities after watermark. An empty watermark
// fetches the conversation from the start.
func (c *Client) GetActivities(ctx context.Context, conversationID, watermark string) (domain.ActivitySet, error) {
	if strings.TrimSpace(conversationID) == "" {
		return domain.ActivitySet{}, errors.New("directline: conversation id must not be empty")
	}
	raw, err := c.do(ctx, http.MethodGet, c.activitiesURL(conversationID, watermark), nil)
	if err != nil {
		return domain.ActivitySet{}, fmt.Errorf("directline: get activities: %w", err)
	}

	var set domain.ActivitySet
	if err := json.Unmarshal(raw, &set); err != nil {
		if !errors.Is(err, domain.ErrMalformedActivities) {
			err = fmt.Errorf("%w: %v", domain.ErrMalformedActivities, err)
		}
		return domain.ActivitySet{}, fmt.Errorf("directline: decode activities: %w", err)
	}
	return set, nil
}

// Close releases idle connections held by the underlying transport.
func (c *Client) Close() {
	if c.httpClient != nil {
		c.httpClient.CloseIdleConnections()
	}
}

func (c *Client) activitiesURL(conversationID, watermark string) string {
	u := c.endpoint + "/conversations/" + url.PathEscape(conversationID) + "/activities"
	if watermark != "" {
		u += "?watermark=" + url.QueryEscape(watermark)
	}
	return u
}

func (c *Client) resolveSecret(ctx context.Context) (string, error) {
	if c.secret != "" {
		return c.secret, nil
	}
	raw, err := c.store.GetParameter(ctx, c.secretName)
	if err != nil {
		return "", fmt.Errorf("directline: fetch secret: %w", err)
	}
	return decodeSecret(raw)
}

// decodeSecret accepts either the bare secret or {"secret": "..."}.
func decodeSecret(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if strings.HasPrefix(raw, "{") {
		var sp secretPayload
		if err := json.Unmarshal([]byte(raw), &sp); err != nil {
			return "", fmt.Errorf("directline: unmarshal secret value as JSON: %w", err)
		}
		raw = strings.TrimSpace(sp.Secret)
	}
	if raw == "" {
		return "", errors.New("directline: secret is empty")
	}
	return raw, nil
}

func (c *Client) do(ctx context.Context, method, u string, body []byte) ([]byte, error) {
	secret, err := c.resolveSecret(ctx)
	if err != nil {
		return nil, err
	}

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, u, reader)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+secret)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	httpClient := c.httpClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	res, err := httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = res.Body.Close() }()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		buf, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		return nil, &HTTPStatusError{
			StatusCode: res.StatusCode,
			URL:        u,
			Body:       string(buf),
		}
	}

	buf, err := io.ReadAll(io.LimitReader(res.Body, 4<<20))
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}
	return buf, nil
}
