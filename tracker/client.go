package tracker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"
	"time"

	"trace-triage/logger"
)

const (
	searchPath = "/rest/api/latest/search"
	issuePath  = "/rest/api/latest/issue"
)

// searchFields lists the issue fields requested on every search call.
var searchFields = []string{
	"id", "key", "created", "status", "labels",
	"summary", "description", "environment", "fixVersions",
}

// Config holds the tracker connection and project settings. All of it is
// injected at construction; the client carries no process-wide state.
type Config struct {
	BaseURL            string
	Username           string
	Password           string
	Project            string
	BoardID            int
	IssueType          string
	Labels             []string
	TransitionReopenID string
	Timeout            time.Duration
}

// Client talks to the external issue tracker's REST API. Calls are plain
// blocking requests with no retry; any unexpected status code is fatal for
// the current request, except on attach and transition.
type Client struct {
	cfg        Config
	httpClient *http.Client
	log        logger.Logger
}

// NewClient creates a tracker client.
func NewClient(cfg Config, log logger.Logger) *Client {
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.IssueType == "" {
		cfg.IssueType = "Bug"
	}
	if cfg.TransitionReopenID == "" {
		cfg.TransitionReopenID = "3"
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		log:        log,
	}
}

// APIError reports an unexpected status code from a tracker call.
type APIError struct {
	Op         string
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("tracker %s returned status %d: %s", e.Op, e.StatusCode, e.Body)
}

// FindBySummary returns every issue of the configured project and type whose
// summary fuzzy-matches the given sanitized text, accumulating search pages
// until the reported total is reached.
func (c *Client) FindBySummary(ctx context.Context, sanitizedSummary string) ([]Issue, error) {
	jql := fmt.Sprintf("project=%s&issuetype=%s&summary ~ '%s'",
		c.cfg.Project, c.cfg.IssueType, sanitizedSummary)

	var all []Issue
	startAt := 0
	for {
		query := map[string]any{
			"jql":     jql,
			"startAt": strconv.Itoa(startAt),
			"fields":  searchFields,
		}
		var page SearchResult
		if err := c.doJSON(ctx, http.MethodPost, c.cfg.BaseURL+searchPath, query, http.StatusOK, &page, "search"); err != nil {
			return nil, err
		}
		all = append(all, page.Issues...)
		if page.MaxResults <= 0 || startAt+page.MaxResults >= page.Total {
			return all, nil
		}
		startAt += page.MaxResults
	}
}

// OpenIssues returns the raw search response listing all open issues of the
// configured project, passed through to the caller unmodified.
func (c *Client) OpenIssues(ctx context.Context) (json.RawMessage, error) {
	jql := fmt.Sprintf(`project=%s&status in (Open,"In Progress",Reopened)&issuetype=%s`,
		c.cfg.Project, c.cfg.IssueType)
	query := map[string]any{
		"jql":    jql,
		"fields": searchFields,
	}
	var raw json.RawMessage
	if err := c.doJSON(ctx, http.MethodPost, c.cfg.BaseURL+searchPath, query, http.StatusOK, &raw, "open issue search"); err != nil {
		return nil, err
	}
	return raw, nil
}

// Create files a new issue and returns its key.
func (c *Client) Create(ctx context.Context, title, description string) (string, error) {
	labels := c.cfg.Labels
	if labels == nil {
		labels = []string{}
	}
	fields := map[string]any{
		"fields": map[string]any{
			"project":     map[string]string{"key": c.cfg.Project},
			"summary":     title,
			"description": description,
			"issuetype":   map[string]string{"name": c.cfg.IssueType},
			"labels":      labels,
		},
	}

	var created struct {
		Key string `json:"key"`
	}
	if err := c.doJSON(ctx, http.MethodPost, c.cfg.BaseURL+issuePath, fields, http.StatusCreated, &created, "create issue"); err != nil {
		return "", err
	}
	c.log.Info("tracker.issue_created", logger.String("issue", created.Key))
	return created.Key, nil
}

// UpdateEnvironment replaces an issue's environment field.
func (c *Client) UpdateEnvironment(ctx context.Context, issueKey, environment string) error {
	patch := map[string]any{
		"update": map[string]any{
			"environment": []map[string]any{{"set": environment}},
		},
	}
	url := c.cfg.BaseURL + issuePath + "/" + issueKey
	if err := c.doJSON(ctx, http.MethodPut, url, patch, http.StatusNoContent, nil, "update issue"); err != nil {
		return err
	}
	c.log.Info("tracker.issue_updated", logger.String("issue", issueKey))
	return nil
}

// Transition moves an issue through the configured reopen transition. The
// tracker's response is logged but not checked; a failed transition leaves
// the counter update intact.
func (c *Client) Transition(ctx context.Context, issueKey string) error {
	payload := map[string]any{
		"transition": map[string]string{"id": c.cfg.TransitionReopenID},
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal transition payload: %w", err)
	}

	url := c.cfg.BaseURL + issuePath + "/" + issueKey + "/transitions"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create transition request: %w", err)
	}
	req.SetBasicAuth(c.cfg.Username, c.cfg.Password)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("transition issue: %w", err)
	}
	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	resp.Body.Close()

	c.log.Debug("tracker.transition_response",
		logger.String("issue", issueKey),
		logger.Int("status", resp.StatusCode),
		logger.String("body", strings.TrimSpace(string(respBody))),
	)
	return nil
}

// ActiveSprint returns the name of the board's active sprint. The board is
// assumed to have exactly one; the first entry wins.
func (c *Client) ActiveSprint(ctx context.Context) (string, error) {
	url := fmt.Sprintf("%s/rest/agile/1.0/board/%d/sprint?state=active", c.cfg.BaseURL, c.cfg.BoardID)

	var out struct {
		Values []Sprint `json:"values"`
	}
	if err := c.doJSON(ctx, http.MethodGet, url, nil, http.StatusOK, &out, "active sprint"); err != nil {
		return "", err
	}
	if len(out.Values) == 0 {
		return "", fmt.Errorf("board %d has no active sprint", c.cfg.BoardID)
	}
	c.log.Info("tracker.active_sprint", logger.String("sprint", out.Values[0].Name))
	return out.Values[0].Name, nil
}

// Attach uploads one file to an issue. Attach errors are returned for the
// caller to log; they must never fail the overall request.
func (c *Client) Attach(ctx context.Context, issueKey, filename string, data []byte) error {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	part, err := w.CreateFormFile("file", filename)
	if err != nil {
		return fmt.Errorf("create form file: %w", err)
	}
	if _, err := part.Write(data); err != nil {
		return fmt.Errorf("write form file: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("close multipart writer: %w", err)
	}

	url := c.cfg.BaseURL + issuePath + "/" + issueKey + "/attachments"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, &buf)
	if err != nil {
		return fmt.Errorf("create attach request: %w", err)
	}
	req.SetBasicAuth(c.cfg.Username, c.cfg.Password)
	req.Header.Set("Content-Type", w.FormDataContentType())
	req.Header.Set("X-Atlassian-Token", "no-check")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("post attachment: %w", err)
	}
	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return &APIError{Op: "attach", StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(respBody))}
	}
	c.log.Info("tracker.attachment_posted",
		logger.String("issue", issueKey),
		logger.String("filename", filename),
		logger.Int("bytes", len(data)),
	)
	return nil
}

// doJSON performs one JSON request against the tracker, enforcing the
// expected status code and optionally decoding the response into out.
func (c *Client) doJSON(ctx context.Context, method, url string, payload any, want int, out any, op string) error {
	var body io.Reader
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("marshal %s payload: %w", op, err)
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return fmt.Errorf("create %s request: %w", op, err)
	}
	req.SetBasicAuth(c.cfg.Username, c.cfg.Password)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	resp.Body.Close()

	if resp.StatusCode != want {
		return &APIError{Op: op, StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(respBody))}
	}
	if out != nil {
		if err := json.Unmarshal(respBody, out); err != nil {
			return fmt.Errorf("decode %s response: %w", op, err)
		}
	}
	return nil
}
