// ABOUTME: HTTP client for the marketplace user service
// ABOUTME: Fetches GET {base}/user/{id} and maps the user record to a Profile

package profile

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// userRecord is the user service's JSON representation.
type userRecord struct {
	ID       string `json:"_id"`
	Fullname string `json:"fullname"`
	ImgURL   string `json:"imgUrl"`
}

// HTTPLookup resolves profiles from the marketplace user service.
type HTTPLookup struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewHTTPLookup creates a lookup against baseURL (for example "http://localhost:3030/api").
func NewHTTPLookup(baseURL string, timeout time.Duration, logger *slog.Logger) *HTTPLookup {
	if logger == nil {
		logger = slog.Default()
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &HTTPLookup{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: timeout,
		},
		logger: logger.With("component", "profile"),
	}
}

// GetProfile fetches the user record for userID.
func (h *HTTPLookup) GetProfile(ctx context.Context, userID string) (*Profile, error) {
	reqURL := h.baseURL + "/user/" + url.PathEscape(userID)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := h.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching profile: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, userID)
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("user service returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var rec userRecord
	if err := json.NewDecoder(resp.Body).Decode(&rec); err != nil {
		return nil, fmt.Errorf("decoding profile: %w", err)
	}
	if rec.ID == "" {
		rec.ID = userID
	}

	h.logger.Debug("profile fetched", "user_id", rec.ID)
	return &Profile{
		UserID:      rec.ID,
		DisplayName: rec.Fullname,
		AvatarURL:   rec.ImgURL,
	}, nil
}
