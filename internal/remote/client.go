// Package remote is the REST client for the learning-platform API. It maps
// transport failures and server rejections onto the engine's error taxonomy:
// errors that wrap [model.ErrNetworkUnavailable] mean the request never
// reached the server, [*APIError] means the server said no.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/courserelay/courserelay/internal/model"
)

const defaultTimeout = 30 * time.Second

// Client calls the learning-platform REST API. Create one with [NewClient].
type Client struct {
	baseURL string
	token   string
	hc      *http.Client
	log     *slog.Logger
}

// NewClient creates a Client for the API at baseURL, authenticating with the
// given bearer token. A zero timeout means 30s per request.
func NewClient(baseURL, token string, timeout time.Duration, logger *slog.Logger) (*Client, error) {
	u, err := url.ParseRequestURI(baseURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return nil, fmt.Errorf("base URL %q must be a valid http or https URL", baseURL)
	}
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		hc:      &http.Client{Timeout: timeout},
		log:     logger,
	}, nil
}

// Ping validates connectivity and the token with retry. Intended for startup.
func (c *Client) Ping(ctx context.Context) error {
	err := Retry(ctx, defaultMaxAttempts, func() error {
		return c.do(ctx, http.MethodGet, "/api/v1/health", nil, nil)
	})
	if err != nil {
		return fmt.Errorf("ping API: %w", err)
	}
	return nil
}

// FetchPage retrieves one page of the module catalog. filters become query
// parameters verbatim (e.g. "category", "page", "limit").
func (c *Client) FetchPage(ctx context.Context, filters map[string]string) (*model.ModulePage, error) {
	path := "/api/v1/modules"
	if len(filters) > 0 {
		q := url.Values{}
		for k, v := range filters {
			q.Set(k, v)
		}
		path += "?" + q.Encode()
	}

	var page model.ModulePage
	if err := c.do(ctx, http.MethodGet, path, nil, &page); err != nil {
		return nil, fmt.Errorf("fetching modules: %w", err)
	}
	return &page, nil
}

// FetchByID retrieves a single module.
func (c *Client) FetchByID(ctx context.Context, id string) (*model.Module, error) {
	var m model.Module
	if err := c.do(ctx, http.MethodGet, "/api/v1/modules/"+url.PathEscape(id), nil, &m); err != nil {
		return nil, fmt.Errorf("fetching module %q: %w", id, err)
	}
	return &m, nil
}

// CompleteLesson marks a lesson as finished on the server.
func (c *Client) CompleteLesson(ctx context.Context, lessonID string) error {
	path := "/api/v1/lessons/" + url.PathEscape(lessonID) + "/complete"
	if err := c.do(ctx, http.MethodPost, path, nil, nil); err != nil {
		return fmt.Errorf("completing lesson %q: %w", lessonID, err)
	}
	return nil
}

// SubmitQuiz submits quiz answers.
func (c *Client) SubmitQuiz(ctx context.Context, quizID string, answers []int, timeSpentSec int) error {
	body := map[string]any{"answers": answers, "time_spent_sec": timeSpentSec}
	path := "/api/v1/quizzes/" + url.PathEscape(quizID) + "/submit"
	if err := c.do(ctx, http.MethodPost, path, body, nil); err != nil {
		return fmt.Errorf("submitting quiz %q: %w", quizID, err)
	}
	return nil
}

// UpdateProgress records lesson progress.
func (c *Client) UpdateProgress(ctx context.Context, lessonID string, progress float64) error {
	body := map[string]any{"progress": progress}
	path := "/api/v1/lessons/" + url.PathEscape(lessonID) + "/progress"
	if err := c.do(ctx, http.MethodPut, path, body, nil); err != nil {
		return fmt.Errorf("updating progress for lesson %q: %w", lessonID, err)
	}
	return nil
}

// EnrollModule enrolls the current user in a module.
func (c *Client) EnrollModule(ctx context.Context, moduleID string) error {
	path := "/api/v1/modules/" + url.PathEscape(moduleID) + "/enroll"
	if err := c.do(ctx, http.MethodPost, path, nil, nil); err != nil {
		return fmt.Errorf("enrolling in module %q: %w", moduleID, err)
	}
	return nil
}

// do executes one request. body (if non-nil) is JSON-encoded; out (if
// non-nil) receives the decoded response body.
func (c *Client) do(ctx context.Context, method, path string, body any, out any) error {
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encoding request body: %w", err)
		}
		reader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.hc.Do(req)
	if err != nil {
		// Transport-level failure: DNS, refused connection, timeout. The
		// request never got an answer, so this is a network problem.
		return fmt.Errorf("%s %s: %w: %w", method, path, model.ErrNetworkUnavailable, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 400 {
		var payload struct {
			Message string `json:"message"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&payload)
		return &APIError{StatusCode: resp.StatusCode, Message: payload.Message}
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decoding %s %s response: %w", method, path, err)
		}
	}
	return nil
}
