package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/raphaelgruber/matgraph/internal/db"
	"github.com/raphaelgruber/matgraph/internal/models"
	"github.com/raphaelgruber/matgraph/internal/service"
	"github.com/raphaelgruber/matgraph/internal/tasks"
)

// ErrorResponse is the body of every non-2xx answer.
type ErrorResponse struct {
	Error string `json:"error"`
}

// ProcessResponse acknowledges a submission.
type ProcessResponse struct {
	ProcessID string        `json:"process_id"`
	Status    models.Status `json:"status"`
}

// StatusResponse reports the status of a process.
type StatusResponse struct {
	Status models.Status `json:"status"`
}

// ProcessStatusResponse is the progress view of a process. Completed lists
// the stage outputs that are set, in pipeline order.
type ProcessStatusResponse struct {
	ProcessID string            `json:"process_id"`
	Status    models.Status     `json:"status"`
	Error     *string           `json:"error"`
	Completed []models.StageKey `json:"completed"`
	UpdatedAt time.Time         `json:"updated_at"`
}

// processQuery holds the query parameters shared by process routes.
type processQuery struct {
	UserID    string `form:"user_id" binding:"required"`
	ProcessID string `form:"process_id" binding:"required"`
}

// statusFor maps service errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, service.ErrInvalidInput),
		errors.Is(err, service.ErrMissingStageInput),
		errors.Is(err, models.ErrInvalidRecord):
		return http.StatusBadRequest
	case errors.Is(err, db.ErrNotFound), errors.Is(err, service.ErrNotOwned):
		return http.StatusNotFound
	case errors.Is(err, tasks.ErrAlreadyProcessing),
		errors.Is(err, tasks.ErrNoActiveTask),
		errors.Is(err, service.ErrAlreadyImported),
		errors.Is(err, db.ErrEntityAlreadyExists):
		return http.StatusConflict
	case errors.Is(err, tasks.ErrQueueFull), errors.Is(err, tasks.ErrShutdown):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) fail(c *gin.Context, err error) {
	code := statusFor(err)
	if code >= http.StatusInternalServerError {
		_ = c.Error(err)
	}
	c.AbortWithStatusJSON(code, ErrorResponse{Error: err.Error()})
}

func badRequest(c *gin.Context, msg string) {
	c.AbortWithStatusJSON(http.StatusBadRequest, ErrorResponse{Error: msg})
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// handleStats reports per-operation timings and LLM token usage.
func (s *Server) handleStats(c *gin.Context) {
	c.JSON(http.StatusOK, s.metrics.Snapshot())
}

// handleUpload stores the table and starts label extraction.
//
//	POST /import/label-extract?user_id=&process_id=&callback_url=
//	multipart: file, context
func (s *Server) handleUpload(c *gin.Context) {
	header, err := c.FormFile("file")
	if err != nil {
		badRequest(c, "file is required")
		return
	}
	f, err := header.Open()
	if err != nil {
		badRequest(c, "unreadable file: "+err.Error())
		return
	}
	defer f.Close()

	p, err := s.pipeline.Upload(c.Request.Context(), service.UploadRequest{
		UserID:      c.Query("user_id"),
		ProcessID:   c.Query("process_id"),
		CallbackURL: c.Query("callback_url"),
		Context:     c.PostForm("context"),
		Filename:    header.Filename,
		File:        f,
	})
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusAccepted, ProcessResponse{ProcessID: p.ProcessID, Status: p.Status})
}

// handleStage submits the stage producing key. The optional JSON body
// replaces the stage's input first.
func (s *Server) handleStage(key models.StageKey) gin.HandlerFunc {
	return func(c *gin.Context) {
		var q processQuery
		if err := c.ShouldBindQuery(&q); err != nil {
			badRequest(c, "user_id and process_id are required")
			return
		}
		body, err := c.GetRawData()
		if err != nil {
			badRequest(c, "unreadable body: "+err.Error())
			return
		}
		if len(body) > 0 && !json.Valid(body) {
			badRequest(c, "body is not valid JSON")
			return
		}
		force, _ := strconv.ParseBool(c.Query("force"))

		p, err := s.pipeline.Submit(c.Request.Context(), key, service.StageRequest{
			UserID:    q.UserID,
			ProcessID: q.ProcessID,
			Override:  body,
			Force:     force,
		})
		if err != nil {
			s.fail(c, err)
			return
		}
		c.JSON(http.StatusAccepted, StatusResponse{Status: p.Status})
	}
}

func (s *Server) handleCancel(c *gin.Context) {
	var q processQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		badRequest(c, "user_id and process_id are required")
		return
	}
	p, err := s.pipeline.Cancel(c.Request.Context(), q.UserID, q.ProcessID)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, StatusResponse{Status: p.Status})
}

func (s *Server) handleStatus(c *gin.Context) {
	var q processQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		badRequest(c, "user_id and process_id are required")
		return
	}
	p, err := s.pipeline.Status(c.Request.Context(), q.UserID, q.ProcessID)
	if err != nil {
		s.fail(c, err)
		return
	}
	done := []models.StageKey{}
	for _, key := range slices.Concat(models.StageKeys, []models.StageKey{models.KeyMatch}) {
		if p.Output(key) != nil {
			done = append(done, key)
		}
	}
	c.JSON(http.StatusOK, ProcessStatusResponse{
		ProcessID: p.ProcessID,
		Status:    p.Status,
		Error:     p.ErrorMessage,
		Completed: done,
		UpdatedAt: p.UpdatedAt,
	})
}

// handleReport returns {status, error, <key>}. The payload is omitted
// while the process is queued or running.
func (s *Server) handleReport(c *gin.Context) {
	var q processQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		badRequest(c, "user_id and process_id are required")
		return
	}
	key, err := models.ParseReportKey(c.Query("key"))
	if err != nil {
		badRequest(c, err.Error())
		return
	}
	rep, err := s.pipeline.Report(c.Request.Context(), q.UserID, q.ProcessID, key)
	if err != nil {
		s.fail(c, err)
		return
	}
	body := gin.H{"status": rep.Status, "error": rep.Error}
	if rep.Output != nil {
		body[strings.ToLower(strings.TrimSpace(c.Query("key")))] = rep.Output
	}
	c.JSON(http.StatusOK, body)
}

func (s *Server) handleDelete(c *gin.Context) {
	var q processQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		badRequest(c, "user_id and process_id are required")
		return
	}
	if err := s.pipeline.Delete(c.Request.Context(), q.UserID, q.ProcessID); err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "deleted"})
}

func (s *Server) handleList(c *gin.Context) {
	limit := 50
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			badRequest(c, "limit must be a positive integer")
			return
		}
		limit = n
	}
	list, err := s.pipeline.List(c.Request.Context(), c.Query("user_id"), limit)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"processes": list})
}

// handleMatch queues a fabrication workflow query.
//
//	POST /match/fabrication-workflow?user_id=&callback_url=
func (s *Server) handleMatch(c *gin.Context) {
	var q models.QueryGraph
	if err := c.ShouldBindJSON(&q); err != nil {
		badRequest(c, "invalid query graph: "+err.Error())
		return
	}
	p, err := s.matches.Submit(c.Request.Context(), service.MatchRequest{
		UserID:      c.Query("user_id"),
		ProcessID:   c.Query("process_id"),
		CallbackURL: c.Query("callback_url"),
		Query:       q,
	})
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusAccepted, ProcessResponse{ProcessID: p.ProcessID, Status: p.Status})
}
