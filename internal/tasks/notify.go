package tasks

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"strconv"
	"time"

	"github.com/raphaelgruber/matgraph/internal/metrics"
	"github.com/raphaelgruber/matgraph/internal/models"
)

// DatasetFilename is the name of the CSV part sent with dataset callbacks.
const DatasetFilename = "data_extract.csv"

// Callback is the JSON body posted to a process's callback URL.
type Callback struct {
	UserID    string          `json:"user_id"`
	ProcessID string          `json:"process_id"`
	Key       models.StageKey `json:"key"`
	Status    models.Status   `json:"status"`
	Message   string          `json:"message"`
	Results   json.RawMessage `json:"results"`

	// CachedGraph is set on a label callback when the table was imported before.
	CachedGraph json.RawMessage `json:"cached_graph,omitempty"`
}

// Notifier posts terminal-state callbacks. Delivery is attempted once;
// failures are logged and never affect the process.
type Notifier struct {
	client  *http.Client
	apiKey  string
	metrics *metrics.Collector
	logger  *slog.Logger
}

// NewNotifier creates a notifier. A nil client gets a 30s timeout.
func NewNotifier(client *http.Client, apiKey string, collector *metrics.Collector, logger *slog.Logger) *Notifier {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &Notifier{client: client, apiKey: apiKey, metrics: collector, logger: logger.With("component", "notifier")}
}

// Notify posts the state of p for key to its callback URL.
func (n *Notifier) Notify(ctx context.Context, p *models.Process, key models.StageKey, message string) {
	n.NotifyWithCache(ctx, p, key, message, nil)
}

// NotifyWithCache is Notify with a cached graph attached to a JSON callback.
func (n *Notifier) NotifyWithCache(ctx context.Context, p *models.Process, key models.StageKey, message string, cached json.RawMessage) {
	if n == nil || p == nil {
		return
	}
	if p.CallbackURL == "" {
		n.logger.Debug("no callback url", "process_id", p.ProcessID)
		return
	}
	defer n.metrics.Since(metrics.OpCallback, time.Now())

	body, contentType, err := n.payload(p, key, message, cached)
	if err != nil {
		n.logger.Warn("failed to build callback", "process_id", p.ProcessID, "error", err)
		return
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.CallbackURL, body)
	if err != nil {
		n.logger.Warn("failed to create callback request", "process_id", p.ProcessID, "error", err)
		return
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("X-API-KEY", n.apiKey)

	resp, err := n.client.Do(req)
	if err != nil {
		n.logger.Warn("callback failed", "process_id", p.ProcessID, "url", p.CallbackURL, "error", err)
		return
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode >= 300 {
		n.logger.Warn("callback rejected", "process_id", p.ProcessID, "status", resp.Status)
		return
	}
	n.logger.Debug("callback delivered", "process_id", p.ProcessID, "key", key, "status", p.Status)
}

func (n *Notifier) payload(p *models.Process, key models.StageKey, message string, cached json.RawMessage) (io.Reader, string, error) {
	if key == models.KeyDataset {
		return datasetPayload(p, message)
	}
	cb := Callback{
		UserID:    p.UserID,
		ProcessID: p.ProcessID,
		Key:       key,
		Status:    p.Status,
		Message:   message,
		Results:   json.RawMessage("null"),

		CachedGraph: cached,
	}
	if raw := p.Output(key); raw != nil && p.Status == models.StatusCompleted {
		cb.Results = json.RawMessage(*raw)
	}
	data, err := json.Marshal(cb)
	if err != nil {
		return nil, "", fmt.Errorf("marshal callback: %w", err)
	}
	return bytes.NewReader(data), "application/json", nil
}

func datasetPayload(p *models.Process, message string) (io.Reader, string, error) {
	var summary models.ImportSummary
	if p.Status == models.StatusCompleted && p.Dataset != nil {
		if err := p.DecodeOutput(models.KeyDataset, &summary); err != nil {
			return nil, "", err
		}
	}
	csvData, err := summary.CSV()
	if err != nil {
		return nil, "", fmt.Errorf("render dataset csv: %w", err)
	}

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	fields := [][2]string{
		{"user_id", p.UserID},
		{"process_id", p.ProcessID},
		{"key", string(models.KeyDataset)},
		{"status", strconv.Itoa(int(p.Status))},
		{"message", message},
	}
	for _, f := range fields {
		if err := w.WriteField(f[0], f[1]); err != nil {
			return nil, "", err
		}
	}
	part, err := w.CreateFormFile("results", DatasetFilename)
	if err != nil {
		return nil, "", err
	}
	if _, err := part.Write(csvData); err != nil {
		return nil, "", err
	}
	if err := w.Close(); err != nil {
		return nil, "", err
	}
	return &buf, w.FormDataContentType(), nil
}
