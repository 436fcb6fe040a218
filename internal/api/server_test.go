package api

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/vendor-review-pipeline/internal/config"
	eventMemory "github.com/JakeFAU/vendor-review-pipeline/internal/eventlog/memory"
	queueMemory "github.com/JakeFAU/vendor-review-pipeline/internal/queue/memory"
	registryMemory "github.com/JakeFAU/vendor-review-pipeline/internal/registry/memory"
	"github.com/JakeFAU/vendor-review-pipeline/internal/review"
	sessionMemory "github.com/JakeFAU/vendor-review-pipeline/internal/session/memory"
)

type fakeIDGen struct {
	mu  sync.Mutex
	ids []string
}

func (f *fakeIDGen) NewID() (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.ids) == 0 {
		return "id-default", nil
	}
	id := f.ids[0]
	f.ids = f.ids[1:]
	return id, nil
}

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time { return c.now }

type testEnv struct {
	server   *Server
	queue    *queueMemory.Queue
	sessions *sessionMemory.Store
	events   *eventMemory.Log
	registry *registryMemory.Registry
}

func newTestEnv(t *testing.T, cfg config.Config) *testEnv {
	t.Helper()
	env := &testEnv{
		queue:    queueMemory.NewQueue(10),
		sessions: sessionMemory.NewStore(),
		events:   eventMemory.NewLog(),
		registry: registryMemory.NewRegistry(),
	}
	env.server = NewServer(
		env.queue,
		env.sessions,
		env.events,
		env.registry,
		&fakeIDGen{ids: []string{"id-1", "id-2", "id-3"}},
		&fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)},
		cfg,
		zap.NewNop(),
	)
	return env
}

func (env *testEnv) seedSession(t *testing.T, session review.Session) {
	t.Helper()
	require.NoError(t, env.sessions.Create(context.Background(), session))
}

func (env *testEnv) do(method, path, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, bytes.NewBufferString(body))
	}
	rec := httptest.NewRecorder()
	env.server.Handler().ServeHTTP(rec, req)
	return rec
}

func TestServer_OpenReview_EnqueuesTrigger(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, config.Config{})
	rec := env.do(http.MethodPost, "/v1/reviews", `{
		"vendor_name": "Example Inc",
		"seeds": [{"url": "https://vendor.example/legal"}],
		"profile": {"company_name": "Acme", "data_processor": true}
	}`)

	require.Equal(t, http.StatusAccepted, rec.Code)
	require.Contains(t, rec.Body.String(), "id-1")

	trigger, err := env.queue.Dequeue(context.Background())
	require.NoError(t, err)
	require.Equal(t, review.TriggerRequestOpened, trigger.Kind)
	require.Equal(t, "id-1", trigger.SessionID)
	require.NotNil(t, trigger.Request)
	require.Equal(t, "Example Inc", trigger.Request.VendorName)
	require.Len(t, trigger.Request.Seeds, 1)
	require.True(t, trigger.Request.Profile.DataProcessor)
	require.False(t, trigger.DeliveredAt.IsZero())
}

func TestServer_OpenReview_Validation(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, config.Config{})

	rec := env.do(http.MethodPost, "/v1/reviews", `{invalid`)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(http.MethodPost, "/v1/reviews", `{"seeds":[{"url":"https://x"}]}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Contains(t, rec.Body.String(), "vendor_name")

	rec = env.do(http.MethodPost, "/v1/reviews", `{"vendor_name":"Example Inc","seeds":[]}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Contains(t, rec.Body.String(), "seed")
}

func TestServer_ConfirmReview_ParsesChecklist(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, config.Config{})
	env.seedSession(t, review.Session{ID: "s1", VendorName: "Example Inc", Stage: review.StageAwaitingReview})

	body := `{"checklist": "- [x] **Legal**: [` + "`Terms`" + `](memory://t) (` + "`https://vendor.example/terms`" + `)"}`
	rec := env.do(http.MethodPost, "/v1/reviews/s1/confirm", body)

	require.Equal(t, http.StatusAccepted, rec.Code)
	trigger, err := env.queue.Dequeue(context.Background())
	require.NoError(t, err)
	require.Equal(t, review.TriggerReviewConfirmed, trigger.Kind)
	require.Equal(t, "s1", trigger.SessionID)
	require.Len(t, trigger.Overrides, 1)
	require.Equal(t, "https://vendor.example/terms", trigger.Overrides[0].CanonicalURL)
	require.True(t, trigger.Overrides[0].Included)
}

func TestServer_ConfirmReview_RequiresChecklistState(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, config.Config{})
	env.seedSession(t, review.Session{ID: "s1", Stage: review.StageAwaitingReview})

	rec := env.do(http.MethodPost, "/v1/reviews/s1/confirm", `{}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestServer_ConfirmReview_UnknownSession(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, config.Config{})
	rec := env.do(http.MethodPost, "/v1/reviews/nope/confirm", `{"overrides":[{"canonical_url":"https://x","included":true}]}`)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestServer_ApproveAndRefreshAndAbort(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, config.Config{})
	env.seedSession(t, review.Session{ID: "s1", Stage: review.StageAwaitingApproval})

	rec := env.do(http.MethodPost, "/v1/reviews/s1/approve", "")
	require.Equal(t, http.StatusAccepted, rec.Code)
	trigger, err := env.queue.Dequeue(context.Background())
	require.NoError(t, err)
	require.Equal(t, review.TriggerDecisionApproved, trigger.Kind)

	rec = env.do(http.MethodPost, "/v1/reviews/s1/refresh", "")
	require.Equal(t, http.StatusAccepted, rec.Code)
	trigger, err = env.queue.Dequeue(context.Background())
	require.NoError(t, err)
	require.Equal(t, review.TriggerRefreshRequested, trigger.Kind)

	rec = env.do(http.MethodPost, "/v1/reviews/s1/abort", `{"reason":"vendor dropped"}`)
	require.Equal(t, http.StatusAccepted, rec.Code)
	trigger, err = env.queue.Dequeue(context.Background())
	require.NoError(t, err)
	require.Equal(t, review.TriggerReviewAborted, trigger.Kind)
	require.Equal(t, "vendor dropped", trigger.Reason)
}

func TestServer_GetAndListReviews(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, config.Config{})
	env.seedSession(t, review.Session{
		ID:         "s1",
		VendorName: "Example Inc",
		Stage:      review.StageAwaitingReview,
		Manifest: review.Manifest{Documents: []review.DocumentRecord{
			{CanonicalURL: "https://vendor.example/terms", Included: true},
		}},
	})

	rec := env.do(http.MethodGet, "/v1/reviews/s1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "awaiting_review")

	rec = env.do(http.MethodGet, "/v1/reviews/missing", "")
	require.Equal(t, http.StatusNotFound, rec.Code)

	rec = env.do(http.MethodGet, "/v1/reviews", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"documents":1`)
}

func TestServer_PostCommentAndListEvents(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, config.Config{})
	env.seedSession(t, review.Session{ID: "s1", Stage: review.StageAwaitingApproval})

	rec := env.do(http.MethodPost, "/v1/reviews/s1/events", `{"author":"alex","body":"looks fine"}`)
	require.Equal(t, http.StatusCreated, rec.Code)

	events, err := env.events.List(context.Background(), "s1")
	require.NoError(t, err)
	require.Len(t, events, 1)
	require.Equal(t, "alex", events[0].Author)
	require.Equal(t, review.EventComment, events[0].Kind)

	rec = env.do(http.MethodGet, "/v1/reviews/s1/events", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "looks fine")

	rec = env.do(http.MethodPost, "/v1/reviews/s1/events", `{"author":"alex","body":""}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestServer_RegistryEndpoints(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, config.Config{})
	_, err := env.registry.Commit(context.Background(), review.RegistryEntry{
		VendorKey: "example-inc",
		SessionID: "s1",
		Decision:  review.DecisionRecord{ProcessorName: "Example Inc", RiskRating: review.RiskLow},
	})
	require.NoError(t, err)

	rec := env.do(http.MethodGet, "/v1/registry/example-inc", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "Example Inc")

	rec = env.do(http.MethodGet, "/v1/registry/unknown", "")
	require.Equal(t, http.StatusNotFound, rec.Code)

	rec = env.do(http.MethodGet, "/v1/registry", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "example-inc")
}

func TestServer_APIKeyMiddleware(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, config.Config{
		Auth: config.AuthConfig{Enabled: true, APIKey: "secret"},
	})

	rec := env.do(http.MethodGet, "/healthz", "")
	require.Equal(t, http.StatusForbidden, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("X-API-Key", "secret")
	okRec := httptest.NewRecorder()
	env.server.Handler().ServeHTTP(okRec, req)
	require.Equal(t, http.StatusOK, okRec.Code)
}

func TestServer_RequestIDHeaderSet(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, config.Config{})
	rec := env.do(http.MethodGet, "/healthz", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}

func TestServer_HealthAndReady(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, config.Config{})
	rec := env.do(http.MethodGet, "/readyz", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "ready")

	rec = env.do(http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
}
