package router

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/cuongbtq/dvt-pipeline/internal/api/dto"
	"github.com/cuongbtq/dvt-pipeline/internal/api/handler"
	"github.com/cuongbtq/dvt-pipeline/internal/blobstore"
	"github.com/cuongbtq/dvt-pipeline/internal/domain"
	"github.com/cuongbtq/dvt-pipeline/internal/ingest"
	"github.com/cuongbtq/dvt-pipeline/internal/jobstore"
	"github.com/cuongbtq/dvt-pipeline/internal/queue"
	"github.com/cuongbtq/dvt-pipeline/shared/logger"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testEnv struct {
	jobs   *jobstore.MemoryStore
	queue  *queue.MemoryQueue
	source *blobstore.MemoryStore
	stage  *blobstore.MemoryStore
	router *gin.Engine
	deps   *handler.Dependencies
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	env := &testEnv{
		jobs:   jobstore.NewMemoryStore(),
		queue:  queue.NewMemoryQueue(),
		source: blobstore.NewMemoryStore(),
		stage:  blobstore.NewMemoryStore(),
	}
	log := logger.NewDiscard()
	env.deps = &handler.Dependencies{
		Logger: log,
		Trigger: ingest.NewTrigger(&ingest.TriggerConfig{
			Logger:          log,
			Jobs:            env.jobs,
			ValidationQueue: env.queue,
			Delay:           0,
		}),
		Stager:       ingest.NewStager(env.source, "uploads", env.stage, "staged", env.jobs, log),
		Source:       env.source,
		SourceBucket: "uploads",
	}
	env.router = SetupRouter(env.deps)
	return env
}

func (e *testEnv) do(method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"healthy"`)

	env.deps.HealthCheck = func(context.Context) error { return errors.New("db down") }
	env.router = SetupRouter(env.deps)

	w = env.do(http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Contains(t, w.Body.String(), "db down")
}

func TestHandleEvent(t *testing.T) {
	env := newTestEnv(t)
	doc := `{"Records":[
		{"s3":{"bucket":{"name":"uploads"},"object":{"key":"a+b.csv","versionId":"v1"}}},
		{"s3":{"bucket":{"name":"uploads"},"object":{"key":"c.csv","versionId":"v2"}}}
	]}`

	w := env.do(http.MethodPost, "/api/v1/events", doc)
	require.Equal(t, http.StatusOK, w.Code)

	var resp dto.EventResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Len(t, resp.Results, 2)
	assert.Equal(t, "a b.csv", resp.Results[0].Key)
	assert.NotEmpty(t, resp.Results[0].JobID)
	assert.Empty(t, resp.Results[0].Error)

	job, err := env.jobs.Get(context.Background(), resp.Results[1].JobID)
	require.NoError(t, err)
	assert.Equal(t, "c.csv", job.Filename)
	assert.Equal(t, "v2", job.FilenameVersion)
	assert.Equal(t, 2, env.queue.Len())
}

func TestHandleEvent_Invalid(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(http.MethodPost, "/api/v1/events", `{"Records":`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, 0, env.queue.Len())
}

func TestHandleEvent_EmptyKeyRejected(t *testing.T) {
	env := newTestEnv(t)
	doc := `{"Records":[
		{"s3":{"object":{"key":"ok.csv","versionId":"v1"}}},
		{"s3":{"object":{"key":"","versionId":"v2"}}}
	]}`

	w := env.do(http.MethodPost, "/api/v1/events", doc)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, 0, env.queue.Len())
}

type downQueue struct{}

func (downQueue) Send(context.Context, string, map[string]string, time.Duration) error {
	return errors.New("queue unavailable")
}

func (downQueue) Receive(context.Context, time.Duration, time.Duration) (*queue.Message, error) {
	return nil, nil
}

func (downQueue) Delete(context.Context, string) error { return nil }

func TestHandleEvent_EnqueueFailure(t *testing.T) {
	env := newTestEnv(t)
	env.deps.Trigger = ingest.NewTrigger(&ingest.TriggerConfig{
		Logger:          logger.NewDiscard(),
		Jobs:            env.jobs,
		ValidationQueue: downQueue{},
	})
	env.router = SetupRouter(env.deps)

	doc := `{"Records":[{"s3":{"object":{"key":"a.csv","versionId":"v1"}}}]}`
	w := env.do(http.MethodPost, "/api/v1/events", doc)
	require.Equal(t, http.StatusInternalServerError, w.Code)

	var resp dto.EventResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Len(t, resp.Results, 1)
	assert.Contains(t, resp.Results[0].Error, "queue unavailable")
	assert.NotEmpty(t, resp.Results[0].JobID)
}

func TestUploadObject(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(http.MethodPut, "/api/v1/objects/reports/2024/q1.csv", "id,name\n1,ab\n")
	require.Equal(t, http.StatusCreated, w.Code)

	var resp dto.UploadResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "reports/2024/q1.csv", resp.Key)
	assert.NotEmpty(t, resp.Version)

	job, err := env.jobs.Get(context.Background(), resp.JobID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusPending, job.Status)
	assert.Equal(t, resp.Version, job.FilenameVersion)
	assert.Equal(t, "id,name\n1,ab\n", string(env.source.Bytes("uploads", "reports/2024/q1.csv")))

	msgs := env.queue.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, resp.JobID, msgs[0].Body)
}

func TestUploadObject_MissingKey(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(http.MethodPut, "/api/v1/objects/", "data")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestStageObject(t *testing.T) {
	env := newTestEnv(t)

	upload := env.do(http.MethodPut, "/api/v1/objects/in.csv", "a,b\n1,2\n")
	require.Equal(t, http.StatusCreated, upload.Code)
	var up dto.UploadResponse
	require.NoError(t, json.Unmarshal(upload.Body.Bytes(), &up))

	body := `{"source_object":"in.csv","source_version":"` + up.Version + `","job_id":"` + up.JobID + `"}`
	w := env.do(http.MethodPost, "/api/v1/stage", body)
	require.Equal(t, http.StatusOK, w.Code)

	assert.Equal(t, "a,b\n1,2\n", string(env.stage.Bytes("staged", "in.csv")))
	job, err := env.jobs.Get(context.Background(), up.JobID)
	require.NoError(t, err)
	assert.Equal(t, domain.StagedYes, job.Staged)
}

func TestStageObject_Errors(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(http.MethodPost, "/api/v1/stage", `{"source_object":"in.csv"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = env.do(http.MethodPost, "/api/v1/stage", `{"source_object":"in.csv","source_version":"v1"}`)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestCORSPreflight(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(http.MethodOptions, "/api/v1/events", "")
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
}

func TestRequestID(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(http.MethodGet, "/health", "")
	assert.NotEmpty(t, w.Header().Get(RequestIDHeader))

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set(RequestIDHeader, "evt-42")
	w = httptest.NewRecorder()
	env.router.ServeHTTP(w, req)
	assert.Equal(t, "evt-42", w.Header().Get(RequestIDHeader))
}
