// ABOUTME: HTTP client for the hostchat-gateway REST API
// ABOUTME: Decodes JSON error bodies into APIError, which unwraps to the matching domain sentinel

package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/2389/hostchat/internal/api"
	"github.com/2389/hostchat/internal/auth"
	"github.com/2389/hostchat/internal/conversation"
	"github.com/2389/hostchat/internal/profile"
	"github.com/2389/hostchat/internal/store"
)

// DefaultTimeout bounds each REST call when no http.Client is supplied.
const DefaultTimeout = 30 * time.Second

// Credentials identify the caller. Token takes precedence; UserID is only
// honoured by gateways running without a jwt_secret.
type Credentials struct {
	Token  string
	UserID string
}

// APIError is a non-2xx response from the gateway.
type APIError struct {
	Status  int
	Code    string
	Message string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("gateway error (%d %s): %s", e.Status, e.Code, e.Message)
	}
	return fmt.Sprintf("gateway returned status %d: %s", e.Status, e.Message)
}

// Retryable reports whether the same request may succeed if sent again.
func (e *APIError) Retryable() bool {
	return api.Retryable(e.Code)
}

// Unwrap maps the wire code back to its sentinel so callers can use errors.Is.
func (e *APIError) Unwrap() error {
	switch e.Code {
	case api.CodeInvalidParticipants:
		return conversation.ErrInvalidParticipants
	case api.CodeInvalidMessage:
		return conversation.ErrInvalidMessage
	case api.CodeForbidden:
		return conversation.ErrNotParticipant
	case api.CodeNotFound:
		return store.ErrNotFound
	case api.CodePersistence:
		return conversation.ErrPersistence
	default:
		return nil
	}
}

// Client communicates with the hostchat-gateway HTTP API.
type Client struct {
	baseURL string
	creds   Credentials
	client  *http.Client
}

// NewClient creates a new gateway client. A nil httpClient uses one with DefaultTimeout.
func NewClient(baseURL string, creds Credentials, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: DefaultTimeout}
	}
	return &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		creds:   creds,
		client:  httpClient,
	}
}

// BaseURL returns the gateway URL without a trailing slash.
func (c *Client) BaseURL() string {
	return c.baseURL
}

func (c *Client) authorize(h http.Header) {
	if c.creds.Token != "" {
		h.Set("Authorization", "Bearer "+c.creds.Token)
	} else if c.creds.UserID != "" {
		h.Set(auth.UserIDHeader, c.creds.UserID)
	}
}

// do sends a request and decodes a 2xx JSON response into out.
func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("marshaling request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	c.authorize(req.Header)

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("sending request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return decodeError(resp)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}

// decodeError extracts the error from a non-2xx response.
func decodeError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))

	var errResp api.ErrorResponse
	if json.Unmarshal(body, &errResp) == nil && errResp.Error != "" {
		return &APIError{Status: resp.StatusCode, Code: errResp.Code, Message: errResp.Error}
	}
	return &APIError{Status: resp.StatusCode, Message: strings.TrimSpace(string(body))}
}

// Resolve returns the conversation between the caller and participants.
func (c *Client) Resolve(ctx context.Context, participants []string) (*api.Conversation, error) {
	var conv api.Conversation
	if err := c.do(ctx, http.MethodPost, "/api/conversations", api.ResolveRequest{Participants: participants}, &conv); err != nil {
		return nil, err
	}
	return &conv, nil
}

// Conversations returns the caller's inbox.
func (c *Client) Conversations(ctx context.Context) ([]*api.Conversation, error) {
	var resp api.ConversationsResponse
	if err := c.do(ctx, http.MethodGet, "/api/conversations", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Conversations, nil
}

// Conversation returns one conversation by ID.
func (c *Client) Conversation(ctx context.Context, id string) (*api.Conversation, error) {
	var conv api.Conversation
	if err := c.do(ctx, http.MethodGet, "/api/conversations/"+url.PathEscape(id), nil, &conv); err != nil {
		return nil, err
	}
	return &conv, nil
}

// Messages returns a conversation's history after afterSeq, in Seq order.
func (c *Client) Messages(ctx context.Context, conversationID string, afterSeq int64) ([]*api.Message, error) {
	path := "/api/messages/" + url.PathEscape(conversationID)
	if afterSeq > 0 {
		path += "?after_seq=" + strconv.FormatInt(afterSeq, 10)
	}

	var resp api.MessagesResponse
	if err := c.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Messages, nil
}

// Send appends a message as the caller. Returns once the gateway has stored it.
func (c *Client) Send(ctx context.Context, req api.SendMessageRequest) (*api.Message, error) {
	var msg api.Message
	if err := c.do(ctx, http.MethodPost, "/api/messages", req, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

// MarkDelivered acknowledges every message up to upToSeq.
func (c *Client) MarkDelivered(ctx context.Context, conversationID string, upToSeq int64) (int64, error) {
	var resp api.DeliveredResponse
	path := "/api/messages/" + url.PathEscape(conversationID) + "/delivered"
	if err := c.do(ctx, http.MethodPost, path, api.DeliveredRequest{UpToSeq: upToSeq}, &resp); err != nil {
		return 0, err
	}
	return resp.Updated, nil
}

// GetProfile implements profile.Lookup through the gateway.
func (c *Client) GetProfile(ctx context.Context, userID string) (*profile.Profile, error) {
	var p api.Profile
	err := c.do(ctx, http.MethodGet, "/api/profiles/"+url.PathEscape(userID), nil, &p)
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.Status == http.StatusNotFound {
		return nil, fmt.Errorf("user %s: %w", userID, profile.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return p.ToProfile(), nil
}

var _ profile.Lookup = (*Client)(nil)
