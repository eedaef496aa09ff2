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

	"github.com/cuongbtq/compute-jobs/internal/api/handler"
	"github.com/cuongbtq/compute-jobs/internal/job"
	"github.com/cuongbtq/compute-jobs/internal/store"
	"github.com/cuongbtq/compute-jobs/shared/logger"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeJobs struct {
	jobs      map[uuid.UUID]*job.Job
	order     []uuid.UUID
	submitErr error
	getErr    error
	submitted []job.Payload
	webhooks  []*string
	filters   []store.Filter
}

func newFakeJobs() *fakeJobs {
	return &fakeJobs{jobs: make(map[uuid.UUID]*job.Job)}
}

func (f *fakeJobs) add(j *job.Job) {
	f.jobs[j.ID] = j
	f.order = append(f.order, j.ID)
}

func (f *fakeJobs) Submit(_ context.Context, request job.Payload, webhookURL *string) (*job.Job, error) {
	if f.submitErr != nil {
		return nil, f.submitErr
	}
	f.submitted = append(f.submitted, request)
	f.webhooks = append(f.webhooks, webhookURL)
	j := job.New(request, webhookURL)
	f.add(j)
	return j, nil
}

func (f *fakeJobs) Get(_ context.Context, id uuid.UUID) (*job.Job, error) {
	if f.getErr != nil {
		return nil, f.getErr
	}
	j, ok := f.jobs[id]
	if !ok {
		return nil, job.ErrJobNotFound
	}
	return j, nil
}

// List returns jobs in insertion order, newest last, honouring the page size
func (f *fakeJobs) List(_ context.Context, filter store.Filter) ([]job.Job, error) {
	f.filters = append(f.filters, filter)
	var out []job.Job
	for i := len(f.order) - 1; i >= 0 && len(out) < filter.PageSize+1; i-- {
		out = append(out, *f.jobs[f.order[i]])
	}
	return out, nil
}

type checkFunc func(ctx context.Context) error

func (f checkFunc) HealthCheck(ctx context.Context) error { return f(ctx) }

func setupTestRouter(t *testing.T, jobs *fakeJobs, checks map[string]handler.HealthChecker) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	r, err := SetupRouter(&handler.Dependencies{
		Logger:      logger.NewNop(),
		ServiceName: "compute-jobs-api",
		Submitter:   jobs,
		Reader:      jobs,
		Lister:      jobs,
		Checks:      checks,
	})
	require.NoError(t, err)
	return r
}

func do(r http.Handler, method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestCreateJob(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		submitErr  error
		wantStatus int
		wantError  string
	}{
		{name: "accepted", body: `{"prompt":"a cat"}`, wantStatus: http.StatusAccepted},
		{name: "validation failure", body: `{"prompt":"a cat","height":100}`, wantStatus: http.StatusBadRequest, wantError: "Invalid request body"},
		{name: "bad json", body: `{"prompt":`, wantStatus: http.StatusBadRequest, wantError: "Invalid request body"},
		{name: "queue full", body: `{"prompt":"a cat"}`, submitErr: job.ErrOverloaded, wantStatus: http.StatusServiceUnavailable, wantError: "Too many pending jobs"},
		{name: "store down", body: `{"prompt":"a cat"}`, submitErr: job.ErrPersistence, wantStatus: http.StatusServiceUnavailable, wantError: "Job store unavailable"},
		{name: "unexpected", body: `{"prompt":"a cat"}`, submitErr: errors.New("boom"), wantStatus: http.StatusInternalServerError, wantError: "Failed to create job"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			jobs := newFakeJobs()
			jobs.submitErr = tt.submitErr
			r := setupTestRouter(t, jobs, nil)

			w := do(r, http.MethodPost, "/api/v1/jobs", tt.body)
			assert.Equal(t, tt.wantStatus, w.Code)

			var resp map[string]any
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))

			if tt.wantError != "" {
				assert.Contains(t, resp["error"], tt.wantError)
				assert.Empty(t, jobs.submitted)
				return
			}

			_, err := uuid.Parse(resp["id"].(string))
			require.NoError(t, err)
			require.Len(t, jobs.submitted, 1)
			assert.JSONEq(t,
				`{"prompt":"a cat","height":1024,"width":1024,"num_inference_steps":35,"guidance_scale":5}`,
				string(jobs.submitted[0]),
			)
		})
	}
}

func TestCreateJob_ValidationDetails(t *testing.T) {
	r := setupTestRouter(t, newFakeJobs(), nil)

	w := do(r, http.MethodPost, "/api/v1/jobs", `{"prompt":"x","width":20}`)
	require.Equal(t, http.StatusBadRequest, w.Code)

	var resp struct {
		Details []struct {
			Field   string `json:"field"`
			Message string `json:"message"`
		} `json:"details"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Len(t, resp.Details, 1)
	assert.Equal(t, "width", resp.Details[0].Field)
	assert.Equal(t, "must be divisible by 8", resp.Details[0].Message)
}

func TestCreateJob_WebhookIsNotPartOfRequestData(t *testing.T) {
	jobs := newFakeJobs()
	r := setupTestRouter(t, jobs, nil)

	w := do(r, http.MethodPost, "/api/v1/jobs", `{"prompt":"a cat","webhook_url":"https://example.com/hook"}`)
	require.Equal(t, http.StatusAccepted, w.Code)

	require.Len(t, jobs.webhooks, 1)
	require.NotNil(t, jobs.webhooks[0])
	assert.Equal(t, "https://example.com/hook", *jobs.webhooks[0])
	assert.NotContains(t, string(jobs.submitted[0]), "webhook")
}

func TestGetJob(t *testing.T) {
	jobs := newFakeJobs()

	pending := job.New(job.Payload(`{"prompt":"cat"}`), nil)
	jobs.add(pending)

	completed := job.New(job.Payload(`{"prompt":"cat"}`), nil)
	completed.Status = job.StatusCompleted
	completed.ResponseData = job.Payload(`"https://blob/cat.png"`)
	jobs.add(completed)

	reason := "out of memory"
	failed := job.New(job.Payload(`{"prompt":"cat"}`), nil)
	failed.Status = job.StatusFailed
	failed.ErrorMessage = &reason
	jobs.add(failed)

	r := setupTestRouter(t, jobs, nil)

	tests := []struct {
		name         string
		path         string
		wantCode     int
		wantStatus   string
		wantResponse string
		wantError    string
	}{
		{name: "pending", path: "/api/v1/jobs/" + pending.ID.String(), wantCode: 200, wantStatus: "PENDING", wantResponse: "null"},
		{name: "completed", path: "/api/v1/jobs/" + completed.ID.String(), wantCode: 200, wantStatus: "COMPLETED", wantResponse: `"https://blob/cat.png"`},
		{name: "failed", path: "/api/v1/jobs/" + failed.ID.String(), wantCode: 200, wantStatus: "FAILED", wantResponse: "null", wantError: reason},
		{name: "unknown", path: "/api/v1/jobs/00000000-0000-0000-0000-000000000000", wantCode: 404},
		{name: "invalid id", path: "/api/v1/jobs/nope", wantCode: 400},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := do(r, http.MethodGet, tt.path, "")
			require.Equal(t, tt.wantCode, w.Code)
			if tt.wantCode != http.StatusOK {
				return
			}

			var resp struct {
				Status   string          `json:"status"`
				Response json.RawMessage `json:"response"`
				Error    string          `json:"error"`
			}
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
			assert.Equal(t, tt.wantStatus, resp.Status)
			assert.JSONEq(t, tt.wantResponse, string(resp.Response))
			assert.Equal(t, tt.wantError, resp.Error)
		})
	}
}

func TestGetJob_StoreError(t *testing.T) {
	jobs := newFakeJobs()
	jobs.getErr = errors.New("connection reset")
	r := setupTestRouter(t, jobs, nil)

	w := do(r, http.MethodGet, "/api/v1/jobs/"+uuid.New().String(), "")
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.NotContains(t, w.Body.String(), "connection reset")
}

func TestListJobs(t *testing.T) {
	jobs := newFakeJobs()
	base := time.Now().Add(-time.Hour)
	for i := 0; i < 3; i++ {
		j := job.New(job.Payload(`{"prompt":"cat"}`), nil)
		j.CreatedAt = base.Add(time.Duration(i) * time.Minute)
		jobs.add(j)
	}
	r := setupTestRouter(t, jobs, nil)

	w := do(r, http.MethodGet, "/api/v1/jobs?page_size=2&status=PENDING", "")
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Jobs       []map[string]any `json:"jobs"`
		NextCursor string           `json:"next_cursor"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Len(t, resp.Jobs, 2)
	require.NotEmpty(t, resp.NextCursor)

	require.Len(t, jobs.filters, 1)
	assert.Equal(t, job.StatusPending, jobs.filters[0].Status)
	assert.Equal(t, 2, jobs.filters[0].PageSize)

	w = do(r, http.MethodGet, "/api/v1/jobs?cursor="+resp.NextCursor, "")
	require.Equal(t, http.StatusOK, w.Code)
	require.Len(t, jobs.filters, 2)
	require.NotNil(t, jobs.filters[1].Cursor)
	assert.Equal(t, 20, jobs.filters[1].PageSize)

	t.Run("invalid parameters", func(t *testing.T) {
		for _, q := range []string{"?page_size=-1", "?page_size=101", "?status=DONE", "?cursor=!!!"} {
			w := do(r, http.MethodGet, "/api/v1/jobs"+q, "")
			assert.Equal(t, http.StatusBadRequest, w.Code, q)
		}
	})
}

func TestLegacyRoutes(t *testing.T) {
	jobs := newFakeJobs()
	r := setupTestRouter(t, jobs, nil)

	w := do(r, http.MethodPost, "/stable_diffusion/generate-image", `{"prompt":"a cat"}`)
	require.Equal(t, http.StatusOK, w.Code)

	var submitted struct {
		Message string `json:"message"`
		ID      string `json:"id"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &submitted))
	assert.Equal(t, "Image generation request submitted successfully", submitted.Message)

	id := uuid.MustParse(submitted.ID)
	path := "/stable_diffusion/image/" + submitted.ID

	w = do(r, http.MethodGet, path, "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "still processing")

	jobs.jobs[id].Status = job.StatusCompleted
	jobs.jobs[id].ResponseData = job.Payload(`"https://blob/cat.png"`)

	w = do(r, http.MethodGet, path, "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `"https://blob/cat.png"`, w.Body.String())

	reason := "model crashed"
	jobs.jobs[id].Status = job.StatusFailed
	jobs.jobs[id].ResponseData = nil
	jobs.jobs[id].ErrorMessage = &reason

	w = do(r, http.MethodGet, path, "")
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.Contains(t, w.Body.String(), reason)

	w = do(r, http.MethodGet, "/stable_diffusion/image/"+uuid.New().String(), "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestLegacyRoutes_ResultWithoutArtifact(t *testing.T) {
	jobs := newFakeJobs()
	r := setupTestRouter(t, jobs, nil)

	j := job.New(job.Payload(`{"prompt":"a cat"}`), nil)
	jobs.add(j)
	path := "/stable_diffusion/image/" + j.ID.String()

	// a worker reporting success with a null response ends up FAILED
	msg, err := job.DecodeResultMessage([]byte(`{"id":"` + j.ID.String() + `","response":null,"status":"completed"}`))
	require.NoError(t, err)
	j.Status = msg.TerminalStatus()
	j.ResponseData = msg.Response
	j.ErrorMessage = msg.Reason()

	w := do(r, http.MethodGet, path, "")
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.True(t, json.Valid(w.Body.Bytes()))
	assert.Contains(t, w.Body.String(), job.MissingArtifactReason)

	// a COMPLETED row without response data never yields an empty body
	j.Status = job.StatusCompleted
	j.ErrorMessage = nil

	w = do(r, http.MethodGet, path, "")
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.True(t, json.Valid(w.Body.Bytes()))
	assert.Contains(t, w.Body.String(), job.MissingArtifactReason)
}

func TestHealthRoutes(t *testing.T) {
	ok := checkFunc(func(context.Context) error { return nil })
	down := checkFunc(func(context.Context) error { return errors.New("connection refused") })

	t.Run("health", func(t *testing.T) {
		r := setupTestRouter(t, newFakeJobs(), nil)
		w := do(r, http.MethodGet, "/health", "")
		assert.Equal(t, http.StatusOK, w.Code)
		assert.Contains(t, w.Body.String(), "compute-jobs-api")
	})

	t.Run("ready", func(t *testing.T) {
		r := setupTestRouter(t, newFakeJobs(), map[string]handler.HealthChecker{"database": ok, "rabbitmq": ok})
		w := do(r, http.MethodGet, "/ready", "")
		assert.Equal(t, http.StatusOK, w.Code)
	})

	t.Run("not ready", func(t *testing.T) {
		r := setupTestRouter(t, newFakeJobs(), map[string]handler.HealthChecker{"database": ok, "rabbitmq": down})
		w := do(r, http.MethodGet, "/ready", "")
		assert.Equal(t, http.StatusServiceUnavailable, w.Code)

		var resp struct {
			Status string            `json:"status"`
			Checks map[string]string `json:"checks"`
		}
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.Equal(t, "not ready", resp.Status)
		assert.Equal(t, "ok", resp.Checks["database"])
		assert.Equal(t, "connection refused", resp.Checks["rabbitmq"])
	})
}

func TestCORSPreflight(t *testing.T) {
	r := setupTestRouter(t, newFakeJobs(), nil)

	w := do(r, http.MethodOptions, "/api/v1/jobs", "")
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
}
