package tasks

import (
	"encoding/json"
	"io"
	"log/slog"
	"mime"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// received is one callback as seen by the client endpoint.
type received struct {
	Header   http.Header
	Callback Callback
	Fields   map[string]string
	File     string
	Filename string
}

// callbackSink records every callback it receives.
type callbackSink struct {
	*httptest.Server
	mu   sync.Mutex
	got  []received
	seen chan struct{}
}

func newCallbackSink(t *testing.T) *callbackSink {
	t.Helper()
	s := &callbackSink{seen: make(chan struct{}, 16)}
	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := received{Header: r.Header.Clone(), Fields: map[string]string{}}
		mediaType, params, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
		if mediaType == "multipart/form-data" {
			mr := multipart.NewReader(r.Body, params["boundary"])
			for {
				part, err := mr.NextPart()
				if err != nil {
					break
				}
				data, _ := io.ReadAll(part)
				if part.FileName() != "" {
					rec.Filename = part.FileName()
					rec.File = string(data)
				} else {
					rec.Fields[part.FormName()] = string(data)
				}
			}
		} else {
			_ = json.NewDecoder(r.Body).Decode(&rec.Callback)
		}
		s.mu.Lock()
		s.got = append(s.got, rec)
		s.mu.Unlock()
		s.seen <- struct{}{}
	}))
	t.Cleanup(s.Close)
	return s
}

func (s *callbackSink) all() []received {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.got)
}

func (s *callbackSink) wait(t *testing.T) {
	t.Helper()
	select {
	case <-s.seen:
	case <-time.After(5 * time.Second):
		require.FailNow(t, "no callback received")
	}
}
