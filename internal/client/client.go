// Package client provides a REST client for the matgraph server.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/raphaelgruber/matgraph/internal/models"
)

// Client talks to the matgraph HTTP API.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// New creates a new client.
// If baseURL is empty, uses MATGRAPH_SERVER_URL or defaults to localhost:8484.
// Timeout can be configured via MATGRAPH_CLIENT_TIMEOUT (default 2m).
func New(baseURL string) *Client {
	if baseURL == "" {
		baseURL = os.Getenv("MATGRAPH_SERVER_URL")
	}
	if baseURL == "" {
		baseURL = "http://localhost:8484"
	}

	timeout := 2 * time.Minute
	if t := os.Getenv("MATGRAPH_CLIENT_TIMEOUT"); t != "" {
		if d, err := time.ParseDuration(t); err == nil {
			timeout = d
		}
	}

	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// APIError is a non-2xx answer from the server.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("server error: %d %s - %s", e.StatusCode, http.StatusText(e.StatusCode), e.Message)
}

// IsNotFound reports whether err is a 404 from the server.
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound
}

// do sends a request and decodes a JSON answer into result.
func (c *Client) do(ctx context.Context, method, path string, query url.Values, body io.Reader, contentType string, result any) error {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("execute request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode >= 300 {
		var e struct {
			Error string `json:"error"`
		}
		msg := strings.TrimSpace(string(data))
		if json.Unmarshal(data, &e) == nil && e.Error != "" {
			msg = e.Error
		}
		return &APIError{StatusCode: resp.StatusCode, Message: msg}
	}

	if result != nil && len(data) > 0 {
		if err := json.Unmarshal(data, result); err != nil {
			return fmt.Errorf("unmarshal response: %w", err)
		}
	}
	return nil
}

func processParams(userID, processID string) url.Values {
	q := url.Values{}
	q.Set("user_id", userID)
	q.Set("process_id", processID)
	return q
}

// =============================================================================
// TYPES
// =============================================================================

// Submission acknowledges a queued stage or match.
type Submission struct {
	ProcessID string        `json:"process_id"`
	Status    models.Status `json:"status"`
}

// ProcessStatus is the progress view of a process.
type ProcessStatus struct {
	ProcessID string            `json:"process_id"`
	Status    models.Status     `json:"status"`
	Error     *string           `json:"error"`
	Completed []models.StageKey `json:"completed"`
	UpdatedAt time.Time         `json:"updated_at"`
}

// Report is one stage output. Output is empty while the process is busy.
type Report struct {
	Status models.Status
	Error  *string
	Output json.RawMessage
}

// =============================================================================
// INGESTION
// =============================================================================

// UploadInput starts an ingestion from a local table file.
type UploadInput struct {
	UserID      string
	ProcessID   string
	CallbackURL string
	Context     string
	Path        string
}

// Upload sends the file and starts label extraction.
func (c *Client) Upload(ctx context.Context, in UploadInput) (*Submission, error) {
	f, err := os.Open(in.Path)
	if err != nil {
		return nil, fmt.Errorf("open file: %w", err)
	}
	defer f.Close()

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", filepath.Base(in.Path))
	if err != nil {
		return nil, fmt.Errorf("create form file: %w", err)
	}
	if _, err := io.Copy(part, f); err != nil {
		return nil, fmt.Errorf("read file: %w", err)
	}
	if err := mw.WriteField("context", in.Context); err != nil {
		return nil, fmt.Errorf("write context: %w", err)
	}
	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("close multipart: %w", err)
	}

	q := url.Values{}
	q.Set("user_id", in.UserID)
	if in.ProcessID != "" {
		q.Set("process_id", in.ProcessID)
	}
	if in.CallbackURL != "" {
		q.Set("callback_url", in.CallbackURL)
	}

	var sub Submission
	if err := c.do(ctx, http.MethodPost, "/import/label-extract", q, &buf, mw.FormDataContentType(), &sub); err != nil {
		return nil, err
	}
	return &sub, nil
}

var stagePaths = map[models.StageKey]string{
	models.KeyAttributes: "/import/attribute-extract",
	models.KeyNodes:      "/import/node-extract",
	models.KeyGraph:      "/import/graph-extract",
	models.KeyDataset:    "/import/graph-import",
}

// SubmitStage queues the stage producing key. A non-empty override
// replaces the stage's input first.
func (c *Client) SubmitStage(ctx context.Context, key models.StageKey, userID, processID string, override json.RawMessage, force bool) (models.Status, error) {
	path, ok := stagePaths[key]
	if !ok {
		return 0, fmt.Errorf("no route submits %q", key)
	}
	q := processParams(userID, processID)
	if force {
		q.Set("force", strconv.FormatBool(force))
	}

	var body io.Reader
	contentType := ""
	if len(override) > 0 {
		body = bytes.NewReader(override)
		contentType = "application/json"
	}

	var resp struct {
		Status models.Status `json:"status"`
	}
	if err := c.do(ctx, http.MethodPost, path, q, body, contentType, &resp); err != nil {
		return 0, err
	}
	return resp.Status, nil
}

// Status returns the progress of a process.
func (c *Client) Status(ctx context.Context, userID, processID string) (*ProcessStatus, error) {
	var st ProcessStatus
	if err := c.do(ctx, http.MethodGet, "/import/status", processParams(userID, processID), nil, "", &st); err != nil {
		return nil, err
	}
	return &st, nil
}

// Report fetches the output stored under key.
func (c *Client) Report(ctx context.Context, userID, processID, key string) (*Report, error) {
	q := processParams(userID, processID)
	q.Set("key", key)

	var raw map[string]json.RawMessage
	if err := c.do(ctx, http.MethodGet, "/import/report", q, nil, "", &raw); err != nil {
		return nil, err
	}

	rep := &Report{}
	if err := json.Unmarshal(raw["status"], &rep.Status); err != nil {
		return nil, fmt.Errorf("decode status: %w", err)
	}
	if e, ok := raw["error"]; ok {
		if err := json.Unmarshal(e, &rep.Error); err != nil {
			return nil, fmt.Errorf("decode error: %w", err)
		}
	}
	rep.Output = raw[strings.ToLower(strings.TrimSpace(key))]
	return rep, nil
}

// Cancel requests cancellation of the running stage.
func (c *Client) Cancel(ctx context.Context, userID, processID string) (models.Status, error) {
	var resp struct {
		Status models.Status `json:"status"`
	}
	if err := c.do(ctx, http.MethodPatch, "/import/cancel", processParams(userID, processID), nil, "", &resp); err != nil {
		return 0, err
	}
	return resp.Status, nil
}

// Delete removes a process.
func (c *Client) Delete(ctx context.Context, userID, processID string) error {
	return c.do(ctx, http.MethodDelete, "/import/delete", processParams(userID, processID), nil, "", nil)
}

// ListProcesses lists the user's processes, newest first.
func (c *Client) ListProcesses(ctx context.Context, userID string, limit int) ([]models.ProcessSummary, error) {
	q := url.Values{}
	q.Set("user_id", userID)
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}

	var resp struct {
		Processes []models.ProcessSummary `json:"processes"`
	}
	if err := c.do(ctx, http.MethodGet, "/import/processes", q, nil, "", &resp); err != nil {
		return nil, err
	}
	return resp.Processes, nil
}

// =============================================================================
// MATCHING
// =============================================================================

// Match queues a fabrication workflow query.
func (c *Client) Match(ctx context.Context, userID, callbackURL string, query models.QueryGraph) (*Submission, error) {
	body, err := json.Marshal(query)
	if err != nil {
		return nil, fmt.Errorf("marshal query: %w", err)
	}
	q := url.Values{}
	q.Set("user_id", userID)
	if callbackURL != "" {
		q.Set("callback_url", callbackURL)
	}

	var sub Submission
	if err := c.do(ctx, http.MethodPost, "/match/fabrication-workflow", q, bytes.NewReader(body), "application/json", &sub); err != nil {
		return nil, err
	}
	return &sub, nil
}
