package generation

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// jobServer simulates the staged generation backend: one job whose status
// advances on every poll.
type jobServer struct {
	t   *testing.T
	srv *httptest.Server

	mu       sync.Mutex
	statuses []jobStatus
	polls    int
	lastReq  Request
	apiKeys  []string
}

func newJobServer(t *testing.T, statuses []jobStatus) *jobServer {
	t.Helper()
	j := &jobServer{t: t, statuses: statuses}
	mux := http.NewServeMux()
	mux.HandleFunc("POST /jobs", j.handleSubmit)
	mux.HandleFunc("GET /jobs/", j.handlePoll)
	j.srv = httptest.NewServer(mux)
	t.Cleanup(j.srv.Close)
	return j
}

func (j *jobServer) handleSubmit(w http.ResponseWriter, r *http.Request) {
	j.mu.Lock()
	j.apiKeys = append(j.apiKeys, r.Header.Get("x-api-key"))
	_ = json.NewDecoder(r.Body).Decode(&j.lastReq)
	j.mu.Unlock()
	_ = json.NewEncoder(w).Encode(submitResponse{JobID: "job-1"})
}

func (j *jobServer) handlePoll(w http.ResponseWriter, r *http.Request) {
	j.mu.Lock()
	idx := j.polls
	if idx >= len(j.statuses) {
		idx = len(j.statuses) - 1
	}
	status := j.statuses[idx]
	j.polls++
	j.mu.Unlock()
	_ = json.NewEncoder(w).Encode(status)
}

func b64(s string) string { return base64.StdEncoding.EncodeToString([]byte(s)) }

func collectStages(t *testing.T, ch <-chan StageEvent) []StageEvent {
	t.Helper()
	var got []StageEvent
	timeout := time.After(5 * time.Second)
	for {
		select {
		case ev, ok := <-ch:
			if !ok {
				return got
			}
			got = append(got, ev)
		case <-timeout:
			t.Fatalf("stage stream never closed; got %d events", len(got))
		}
	}
}

func TestHTTPService_StagedDelivery(t *testing.T) {
	server := newJobServer(t, []jobStatus{
		{State: "running"},
		{State: "running", ImageB64: b64("img")},
		{State: "running", ImageB64: b64("img"), BaseMeshB64: b64("base")},
		{State: "done", ImageB64: b64("img"), BaseMeshB64: b64("base"), MeshB64: b64("refined")},
	})

	svc := NewHTTPService(server.srv.URL, "key-1")
	svc.PollInterval = 5 * time.Millisecond

	stages, err := svc.Submit(context.Background(), NewRequest("a red hat"))
	require.NoError(t, err)

	got := collectStages(t, stages)
	require.Len(t, got, 3)
	assert.Equal(t, StageImage, got[0].Stage)
	assert.Equal(t, []byte("img"), got[0].Data)
	assert.Equal(t, StageBaseMesh, got[1].Stage)
	assert.Equal(t, StageRefinedMesh, got[2].Stage)
	assert.Equal(t, []byte("refined"), got[2].Data)

	server.mu.Lock()
	defer server.mu.Unlock()
	assert.Equal(t, NewRequest("a red hat"), server.lastReq)
	assert.Equal(t, "key-1", server.apiKeys[0])
}

func TestHTTPService_CumulativeStatusInOneReply(t *testing.T) {
	// All artifacts appear at once; the stage order is still preserved.
	server := newJobServer(t, []jobStatus{
		{State: "done", ImageB64: b64("img"), BaseMeshB64: b64("base"), MeshB64: b64("refined")},
	})

	svc := NewHTTPService(server.srv.URL, "k")
	svc.PollInterval = 5 * time.Millisecond

	stages, err := svc.Submit(context.Background(), NewRequest("a hat"))
	require.NoError(t, err)

	got := collectStages(t, stages)
	require.Len(t, got, 3)
	assert.Equal(t, []Stage{StageImage, StageBaseMesh, StageRefinedMesh},
		[]Stage{got[0].Stage, got[1].Stage, got[2].Stage})
}

func TestHTTPService_FailedJob(t *testing.T) {
	server := newJobServer(t, []jobStatus{
		{State: "running", ImageB64: b64("img")},
		{State: "failed", Error: "content policy"},
	})

	svc := NewHTTPService(server.srv.URL, "k")
	svc.PollInterval = 5 * time.Millisecond

	stages, err := svc.Submit(context.Background(), NewRequest("a hat"))
	require.NoError(t, err)

	got := collectStages(t, stages)
	require.Len(t, got, 2)
	assert.Equal(t, StageImage, got[0].Stage)
	assert.Equal(t, StageFailed, got[1].Stage)
	assert.Contains(t, got[1].Err.Error(), "content policy")
}

func TestHTTPService_DoneWithoutMeshFails(t *testing.T) {
	server := newJobServer(t, []jobStatus{
		{State: "done", ImageB64: b64("img")},
	})

	svc := NewHTTPService(server.srv.URL, "k")
	svc.PollInterval = 5 * time.Millisecond

	stages, err := svc.Submit(context.Background(), NewRequest("a hat"))
	require.NoError(t, err)

	got := collectStages(t, stages)
	require.NotEmpty(t, got)
	last := got[len(got)-1]
	assert.Equal(t, StageFailed, last.Stage)
}

func TestHTTPService_SubmitRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "invalid prompt", http.StatusBadRequest)
	}))
	defer srv.Close()

	svc := NewHTTPService(srv.URL, "k")
	_, err := svc.Submit(context.Background(), NewRequest("a hat"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "400")
}

func TestHTTPService_ContextCancelStopsPolling(t *testing.T) {
	server := newJobServer(t, []jobStatus{{State: "running"}})

	svc := NewHTTPService(server.srv.URL, "k")
	svc.PollInterval = 5 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	stages, err := svc.Submit(ctx, NewRequest("a hat"))
	require.NoError(t, err)
	cancel()

	// The stream must terminate instead of polling forever.
	timeout := time.After(2 * time.Second)
	for {
		select {
		case _, ok := <-stages:
			if !ok {
				return
			}
		case <-timeout:
			t.Fatal("stage stream never closed after cancel")
		}
	}
}

func TestHTTPService_DefaultBaseURL(t *testing.T) {
	svc := NewHTTPService("", "k")
	assert.Equal(t, defaultBaseURL, svc.BaseURL)
}
