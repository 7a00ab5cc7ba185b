package db

import (
	"context"
	"fmt"
	"time"

	"github.com/raphaelgruber/matgraph/internal/metrics"
	"github.com/raphaelgruber/matgraph/internal/models"
	"github.com/surrealdb/surrealdb.go"
)

// processQuery runs sql and returns the records of its last statement.
func (c *Client) processQuery(ctx context.Context, op, sql string, vars map[string]any) ([]models.Process, error) {
	defer c.metrics.Since(metrics.OpRegistry, time.Now())

	results, err := surrealdb.Query[[]models.Process](ctx, c.db, sql, vars)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, wrapQueryError(err))
	}
	if results == nil || len(*results) == 0 {
		return nil, nil
	}
	return (*results)[len(*results)-1].Result, nil
}

// outputField returns the escaped column for a stage output key.
func outputField(key models.StageKey) (string, error) {
	switch key {
	case models.KeyLabels, models.KeyAttributes, models.KeyNodes, models.KeyGraph, models.KeyDataset, models.KeyMatch:
		return "`" + string(key) + "`", nil
	default:
		return "", fmt.Errorf("unknown stage key %q", key)
	}
}

// CreateProcess inserts a Ready process with the next sequence number.
// Returns ErrEntityAlreadyExists if the process id is taken and
// ErrSequenceConflict if the counter has drifted behind the table.
func (c *Client) CreateProcess(ctx context.Context, in models.ProcessInput) (*models.Process, error) {
	records, err := c.processQuery(ctx, "create process", `
		LET $seq = (UPSERT sequence:process SET value = (value ?? 0) + 1 RETURN AFTER)[0].value;
		CREATE type::record("process", $process_id) CONTENT {
			process_id: $process_id,
			seq: $seq,
			user_id: $user_id,
			callback_url: $callback_url,
			file_id: $file_id,
			context: $context,
			status: $status
		};
	`, map[string]any{
		"process_id":   in.ProcessID,
		"user_id":      in.UserID,
		"callback_url": in.CallbackURL,
		"file_id":      in.FileID,
		"context":      in.Context,
		"status":       int(models.StatusReady),
	})
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("create process: no record returned")
	}
	return &records[0], nil
}

// RepairProcessSequence resets the process counter to the highest seq in use.
func (c *Client) RepairProcessSequence(ctx context.Context) error {
	defer c.metrics.Since(metrics.OpRegistry, time.Now())

	_, err := surrealdb.Query[any](ctx, c.db, `
		LET $max = math::max((SELECT VALUE seq FROM process)) ?? 0;
		UPSERT sequence:process SET value = $max;
	`, nil)
	if err != nil {
		return fmt.Errorf("repair process sequence: %w", wrapQueryError(err))
	}
	c.logger.Warn("process sequence repaired")
	return nil
}

// GetProcess loads a process. Returns ErrNotFound if it does not exist.
func (c *Client) GetProcess(ctx context.Context, processID string) (*models.Process, error) {
	records, err := c.processQuery(ctx, "get process", `
		SELECT * FROM type::record("process", $id)
	`, map[string]any{"id": processID})
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("%w: process %s", ErrNotFound, processID)
	}
	return &records[0], nil
}

// transition applies a guarded status update. When the guard rejects the
// update, it reports ErrNotFound or ErrProcessBusy depending on whether the
// process exists.
func (c *Client) transition(ctx context.Context, op, processID, set, where string, vars map[string]any) (*models.Process, error) {
	vars["id"] = processID
	records, err := c.processQuery(ctx, op, fmt.Sprintf(`
		UPDATE type::record("process", $id) SET %s WHERE %s RETURN AFTER
	`, set, where), vars)
	if err != nil {
		return nil, err
	}
	if len(records) > 0 {
		return &records[0], nil
	}
	if _, err := c.GetProcess(ctx, processID); err != nil {
		return nil, err
	}
	return nil, fmt.Errorf("%s: %w", op, ErrProcessBusy)
}

// ClaimProcess moves a process to Pending unless a stage is already queued
// or running. The check and the update happen in one statement.
func (c *Client) ClaimProcess(ctx context.Context, processID string) (*models.Process, error) {
	return c.transition(ctx, "claim process", processID,
		"status = $pending, error_message = NONE",
		"status NOT IN [$pending, $processing]",
		map[string]any{"pending": int(models.StatusPending), "processing": int(models.StatusProcessing)})
}

// StartProcess moves a claimed process from Pending to Processing.
func (c *Client) StartProcess(ctx context.Context, processID string) (*models.Process, error) {
	return c.transition(ctx, "start process", processID,
		"status = $processing",
		"status = $pending",
		map[string]any{"pending": int(models.StatusPending), "processing": int(models.StatusProcessing)})
}

// CompleteStage stores a stage output and marks the process Completed.
// It only applies while the process is Processing, so a concurrent cancel
// wins and the output is discarded.
func (c *Client) CompleteStage(ctx context.Context, processID string, key models.StageKey, output string) (*models.Process, error) {
	field, err := outputField(key)
	if err != nil {
		return nil, err
	}
	return c.transition(ctx, "complete stage", processID,
		fmt.Sprintf("%s = $output, status = $completed, error_message = NONE", field),
		"status = $processing",
		map[string]any{
			"output":     output,
			"completed":  int(models.StatusCompleted),
			"processing": int(models.StatusProcessing),
		})
}

// FailProcess marks an active process Failed with msg.
func (c *Client) FailProcess(ctx context.Context, processID, msg string) (*models.Process, error) {
	return c.transition(ctx, "fail process", processID,
		"status = $failed, error_message = $msg",
		"status IN [$pending, $processing]",
		map[string]any{
			"msg":        msg,
			"failed":     int(models.StatusFailed),
			"pending":    int(models.StatusPending),
			"processing": int(models.StatusProcessing),
		})
}

// CancelProcess marks an active process Cancelled.
func (c *Client) CancelProcess(ctx context.Context, processID string) (*models.Process, error) {
	return c.transition(ctx, "cancel process", processID,
		"status = $cancelled, error_message = NONE",
		"status IN [$pending, $processing]",
		map[string]any{
			"cancelled":  int(models.StatusCancelled),
			"pending":    int(models.StatusPending),
			"processing": int(models.StatusProcessing),
		})
}

// ReplaceOutput overwrites a stage output with a client-supplied value.
// Rejected with ErrProcessBusy while a stage is queued or running.
func (c *Client) ReplaceOutput(ctx context.Context, processID string, key models.StageKey, output string) (*models.Process, error) {
	field, err := outputField(key)
	if err != nil {
		return nil, err
	}
	return c.transition(ctx, "replace output", processID,
		fmt.Sprintf("%s = $output", field),
		"status NOT IN [$pending, $processing]",
		map[string]any{
			"output":     output,
			"pending":    int(models.StatusPending),
			"processing": int(models.StatusProcessing),
		})
}

// MarkInterrupted fails every Pending or Processing process and returns them.
func (c *Client) MarkInterrupted(ctx context.Context, msg string) ([]models.Process, error) {
	return c.processQuery(ctx, "mark interrupted", `
		UPDATE process SET status = $failed, error_message = $msg
		WHERE status IN [$pending, $processing]
		RETURN AFTER
	`, map[string]any{
		"msg":        msg,
		"failed":     int(models.StatusFailed),
		"pending":    int(models.StatusPending),
		"processing": int(models.StatusProcessing),
	})
}

// DeleteProcess removes a process. Returns the number of deleted records.
func (c *Client) DeleteProcess(ctx context.Context, processID string) (int, error) {
	records, err := c.processQuery(ctx, "delete process", `
		DELETE type::record("process", $id) RETURN BEFORE
	`, map[string]any{"id": processID})
	if err != nil {
		return 0, err
	}
	return len(records), nil
}

// ListProcesses returns a user's processes, most recently updated first.
func (c *Client) ListProcesses(ctx context.Context, userID string, limit int) ([]models.ProcessSummary, error) {
	defer c.metrics.Since(metrics.OpRegistry, time.Now())

	if limit <= 0 {
		limit = 100
	}
	results, err := surrealdb.Query[[]models.ProcessSummary](ctx, c.db, `
		SELECT process_id, status, updated_at FROM process
		WHERE user_id = $user_id
		ORDER BY updated_at DESC
		LIMIT $limit
	`, map[string]any{"user_id": userID, "limit": limit})
	if err != nil {
		return nil, fmt.Errorf("list processes: %w", wrapQueryError(err))
	}
	if results == nil || len(*results) == 0 {
		return []models.ProcessSummary{}, nil
	}
	return (*results)[0].Result, nil
}

// CreateUpload stores blob metadata and returns the record.
func (c *Client) CreateUpload(ctx context.Context, name, link, blobKey string) (*models.UploadedFile, error) {
	defer c.metrics.Since(metrics.OpRegistry, time.Now())

	results, err := surrealdb.Query[[]models.UploadedFile](ctx, c.db, `
		CREATE upload CONTENT {
			name: $name,
			link: $link,
			blob_key: $blob_key
		}
	`, map[string]any{"name": name, "link": link, "blob_key": blobKey})
	if err != nil {
		return nil, fmt.Errorf("create upload: %w", wrapQueryError(err))
	}
	if results == nil || len(*results) == 0 || len((*results)[0].Result) == 0 {
		return nil, fmt.Errorf("create upload: no record returned")
	}
	return &(*results)[0].Result[0], nil
}

// GetUpload loads upload metadata by record id.
func (c *Client) GetUpload(ctx context.Context, id string) (*models.UploadedFile, error) {
	defer c.metrics.Since(metrics.OpRegistry, time.Now())

	results, err := surrealdb.Query[[]models.UploadedFile](ctx, c.db, `
		SELECT * FROM type::record("upload", $id)
	`, map[string]any{"id": id})
	if err != nil {
		return nil, fmt.Errorf("get upload: %w", wrapQueryError(err))
	}
	if results == nil || len(*results) == 0 || len((*results)[0].Result) == 0 {
		return nil, fmt.Errorf("%w: upload %s", ErrNotFound, id)
	}
	return &(*results)[0].Result[0], nil
}
