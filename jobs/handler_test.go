package jobs

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeInspector struct {
	info    *asynq.QueueInfo
	entries []*asynq.SchedulerEntry
	err     error
}

func (f fakeInspector) GetQueueInfo(queue string) (*asynq.QueueInfo, error) {
	return f.info, f.err
}

func (f fakeInspector) SchedulerEntries() ([]*asynq.SchedulerEntry, error) {
	return f.entries, f.err
}

func serveJobs(t *testing.T, inspector QueueInspector, path string) *httptest.ResponseRecorder {
	t.Helper()
	r := chi.NewRouter()
	r.Route("/jobs", NewHandler(inspector, nil).MountRoutes)
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, path, nil))
	return rr
}

func TestJobsHealthReportsQueueCounters(t *testing.T) {
	rr := serveJobs(t, fakeInspector{info: &asynq.QueueInfo{Queue: QueueDefault, Pending: 3, Retry: 1}}, "/jobs/health")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"queue":"default","pending":3,"active":0,"scheduled":0,"retry":1,"archived":0,"paused":false}`, rr.Body.String())

	rr = serveJobs(t, fakeInspector{err: errors.New("redis down")}, "/jobs/health")
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
}

func TestJobsScheduleListsEntries(t *testing.T) {
	integrity, err := NewStockIntegrityTask(72 * time.Hour)
	require.NoError(t, err)
	next := time.Date(2026, 3, 14, 12, 30, 0, 0, time.UTC)
	rr := serveJobs(t, fakeInspector{entries: []*asynq.SchedulerEntry{
		{ID: "a1", Spec: "*/30 * * * *", Task: integrity, Next: next},
		nil,
	}}, "/jobs/schedule")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `[{"id":"a1","spec":"*/30 * * * *","task_type":"stock:integrity","next_run":"2026-03-14T12:30:00Z"}]`, rr.Body.String())

	rr = serveJobs(t, nil, "/jobs/schedule")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `[]`, rr.Body.String())
}
