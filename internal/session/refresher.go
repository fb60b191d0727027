package session

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

type Refresher interface {
	Refresh(ctx context.Context, tokens Tokens) (Tokens, error)
}

type RefresherFunc func(ctx context.Context, tokens Tokens) (Tokens, error)

func (f RefresherFunc) Refresh(ctx context.Context, tokens Tokens) (Tokens, error) {
	return f(ctx, tokens)
}

type RefreshError struct {
	StatusCode int
	Body       string
}

func (e *RefreshError) Error() string {
	return fmt.Sprintf("refresh rejected: status=%d body=%s", e.StatusCode, e.Body)
}

// HTTPRefresher exchanges the stored pair at POST {BaseURL}/auth/refresh. It
// must use a client that does not route through Transport.
type HTTPRefresher struct {
	BaseURL string
	Client  *http.Client
}

func NewHTTPRefresher(baseURL string, timeout time.Duration) *HTTPRefresher {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &HTTPRefresher{
		BaseURL: strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		Client:  &http.Client{Timeout: timeout},
	}
}

func (r *HTTPRefresher) Refresh(ctx context.Context, tokens Tokens) (Tokens, error) {
	payload, err := json.Marshal(tokens)
	if err != nil {
		return Tokens{}, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.BaseURL+"/auth/refresh", bytes.NewReader(payload))
	if err != nil {
		return Tokens{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	client := r.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return Tokens{}, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return Tokens{}, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return Tokens{}, &RefreshError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}
	var fresh Tokens
	if err := json.Unmarshal(body, &fresh); err != nil {
		return Tokens{}, fmt.Errorf("decode refresh response: %w", err)
	}
	if !fresh.Complete() {
		return Tokens{}, ErrIncompleteTokens
	}
	return fresh, nil
}
