package httpapi

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	natsserver "github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/ballotd/internal/events"
	"github.com/fyrsmithlabs/ballotd/internal/research"
	"github.com/fyrsmithlabs/ballotd/internal/results"
	"github.com/fyrsmithlabs/ballotd/internal/search"
	"github.com/fyrsmithlabs/ballotd/internal/stance"
	"github.com/fyrsmithlabs/ballotd/internal/synthesis"
)

// startTestNATSServer starts an embedded NATS server for testing.
func startTestNATSServer(t *testing.T) *natsserver.Server {
	t.Helper()
	opts := &natsserver.Options{
		Host:   "127.0.0.1",
		Port:   -1, // Random port
		NoLog:  true,
		NoSigs: true,
	}

	server, err := natsserver.NewServer(opts)
	require.NoError(t, err)

	go server.Start()

	if !server.ReadyForConnections(5 * time.Second) {
		t.Fatal("NATS server not ready")
	}

	t.Cleanup(func() {
		server.Shutdown()
		server.WaitForShutdown()
	})

	return server
}

type stubSearcher struct {
	results []search.Result
	block   chan struct{}
}

func (s *stubSearcher) Search(ctx context.Context, req *search.Request) (*search.Response, error) {
	if s.block != nil {
		select {
		case <-s.block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return &search.Response{Results: s.results}, nil
}

type stubSynthesizer struct {
	cards []stance.StanceCard
}

func (s *stubSynthesizer) Synthesize(ctx context.Context, req *synthesis.Request) ([]stance.StanceCard, error) {
	return s.cards, nil
}

func balancedCard(id string) stance.StanceCard {
	return stance.StanceCard{
		ID:       id,
		Question: "Should the city streamline housing permits?",
		Alignments: []stance.CandidateAlignment{
			{Candidate: "London Breed", Alignment: stance.AlignmentSupports},
			{Candidate: "Daniel Lurie", Alignment: stance.AlignmentSupports},
			{Candidate: "Aaron Peskin", Alignment: stance.AlignmentOpposes},
		},
	}
}

type testEnv struct {
	server  *Server
	orch    *research.Orchestrator
	stances *stance.Store
}

func setupTestServer(t *testing.T, cfg research.Config, searcher search.Searcher, synth synthesis.Synthesizer) *testEnv {
	t.Helper()

	ns := startTestNATSServer(t)
	nc, err := nats.Connect(ns.ClientURL())
	require.NoError(t, err)
	t.Cleanup(nc.Close)

	broadcaster := events.NewBroadcaster(nc, zap.NewNop())
	store, err := results.NewStore(t.TempDir(), zap.NewNop())
	require.NoError(t, err)
	stances := stance.NewStore(zap.NewNop())

	orch := research.NewOrchestrator(cfg, stances, searcher, synth, broadcaster, store, zap.NewNop())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = orch.Shutdown(ctx)
	})

	server, err := NewServer(orch, stances, broadcaster, zap.NewNop(), nil)
	require.NoError(t, err)

	return &testEnv{server: server, orch: orch, stances: stances}
}

func quickEnv(t *testing.T) *testEnv {
	return setupTestServer(t, research.Config{},
		&stubSearcher{results: []search.Result{{Title: "A", URL: "https://example.com/a", Score: 0.8}}},
		&stubSynthesizer{cards: []stance.StanceCard{balancedCard("london-breed-housing-01")}})
}

func doJSON(t *testing.T, env *testEnv, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set(echoHeaderContentType, "application/json")
	rec := httptest.NewRecorder()
	env.server.echo.ServeHTTP(rec, req)
	return rec
}

const echoHeaderContentType = "Content-Type"

func submitAndWait(t *testing.T, env *testEnv) string {
	t.Helper()
	rec := doJSON(t, env, http.MethodPost, "/api/v1/research/candidate/London%20Breed",
		ResearchRequest{Issues: []string{"housing"}, Depth: "quick"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var accepted ResearchAccepted
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &accepted))

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		snap, err := env.orch.Status(accepted.ResearchID)
		require.NoError(t, err)
		if snap.Status.Terminal() {
			require.Equal(t, research.StatusCompleted, snap.Status)
			return accepted.ResearchID
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("research never completed")
	return ""
}

func TestHandleHealth(t *testing.T) {
	env := quickEnv(t)

	rec := doJSON(t, env, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	var resp HealthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, "dev", resp.Version)
	assert.Equal(t, 0, resp.ActiveResearch)
	assert.Equal(t, 0, resp.CompletedResearch)

	submitAndWait(t, env)

	rec = doJSON(t, env, http.MethodGet, "/health", nil)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 1, resp.CompletedResearch, "finished research shows up in the counters")
}

func TestHandleCandidates(t *testing.T) {
	env := quickEnv(t)

	t.Run("list", func(t *testing.T) {
		rec := doJSON(t, env, http.MethodGet, "/api/v1/candidates", nil)
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), "London Breed")
	})

	t.Run("lookup is case-insensitive", func(t *testing.T) {
		rec := doJSON(t, env, http.MethodGet, "/api/v1/candidates/london%20breed", nil)
		assert.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("unknown candidate", func(t *testing.T) {
		rec := doJSON(t, env, http.MethodGet, "/api/v1/candidates/nobody", nil)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}

func TestHandleSubmitResearch(t *testing.T) {
	env := quickEnv(t)

	t.Run("accepted", func(t *testing.T) {
		rec := doJSON(t, env, http.MethodPost, "/api/v1/research/candidate/London%20Breed",
			ResearchRequest{Issues: []string{"housing"}, Depth: "quick"})
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

		var accepted ResearchAccepted
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &accepted))
		assert.Equal(t, "processing", accepted.Status)
		assert.Equal(t, "/api/v1/research/stream/"+accepted.ResearchID, accepted.StreamURL)
		assert.Equal(t, 30, accepted.EstimatedSeconds)
	})

	t.Run("unknown candidate", func(t *testing.T) {
		rec := doJSON(t, env, http.MethodPost, "/api/v1/research/candidate/Nobody%20Real",
			ResearchRequest{Issues: []string{"housing"}})
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("unknown issue", func(t *testing.T) {
		rec := doJSON(t, env, http.MethodPost, "/api/v1/research/candidate/London%20Breed",
			ResearchRequest{Issues: []string{"weather"}})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestHandleSubmitResearch_Capacity(t *testing.T) {
	block := make(chan struct{})
	defer close(block)
	env := setupTestServer(t, research.Config{MaxConcurrent: 1},
		&stubSearcher{block: block}, &stubSynthesizer{})

	rec := doJSON(t, env, http.MethodPost, "/api/v1/research/candidate/London%20Breed",
		ResearchRequest{Issues: []string{"housing"}, Depth: "quick"})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, env, http.MethodPost, "/api/v1/research/candidate/Aaron%20Peskin",
		ResearchRequest{Issues: []string{"housing"}, Depth: "quick"})
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
}

func TestHandleSubmitComparison(t *testing.T) {
	env := quickEnv(t)

	t.Run("accepted", func(t *testing.T) {
		rec := doJSON(t, env, http.MethodPost, "/api/v1/research/compare",
			CompareRequest{Candidates: []string{"London Breed", "Aaron Peskin"}, Issue: "housing", Depth: "quick"})
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

		var accepted ResearchAccepted
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &accepted))
		assert.Equal(t, 120, accepted.EstimatedSeconds, "one minute per compared candidate")
	})

	t.Run("estimate scales with roster", func(t *testing.T) {
		rec := doJSON(t, env, http.MethodPost, "/api/v1/research/compare",
			CompareRequest{Candidates: []string{"London Breed", "Aaron Peskin", "Daniel Lurie"}, Issue: "housing", Depth: "quick"})
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

		var accepted ResearchAccepted
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &accepted))
		assert.Equal(t, 180, accepted.EstimatedSeconds)
	})

	t.Run("one subject rejected", func(t *testing.T) {
		rec := doJSON(t, env, http.MethodPost, "/api/v1/research/compare",
			CompareRequest{Candidates: []string{"London Breed"}, Issue: "housing"})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestHandleResearchLifecycle(t *testing.T) {
	env := quickEnv(t)
	taskID := submitAndWait(t, env)

	t.Run("status", func(t *testing.T) {
		rec := doJSON(t, env, http.MethodGet, "/api/v1/research/status/"+taskID, nil)
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), `"completed"`)
	})

	t.Run("results", func(t *testing.T) {
		rec := doJSON(t, env, http.MethodGet, "/api/v1/research/results/"+taskID, nil)
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), "london-breed-housing-01")
	})

	t.Run("unknown status", func(t *testing.T) {
		rec := doJSON(t, env, http.MethodGet, "/api/v1/research/status/missing", nil)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("unknown results", func(t *testing.T) {
		rec := doJSON(t, env, http.MethodGet, "/api/v1/research/results/missing", nil)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}

func TestHandleResearchResults_InProgress(t *testing.T) {
	block := make(chan struct{})
	defer close(block)
	env := setupTestServer(t, research.Config{}, &stubSearcher{block: block}, &stubSynthesizer{})

	rec := doJSON(t, env, http.MethodPost, "/api/v1/research/candidate/London%20Breed",
		ResearchRequest{Issues: []string{"housing"}, Depth: "quick"})
	require.Equal(t, http.StatusOK, rec.Code)

	var accepted ResearchAccepted
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &accepted))

	rec = doJSON(t, env, http.MethodGet, "/api/v1/research/results/"+accepted.ResearchID, nil)
	assert.Equal(t, http.StatusAccepted, rec.Code)
}

func TestHandleCancel(t *testing.T) {
	block := make(chan struct{})
	defer close(block)
	env := setupTestServer(t, research.Config{}, &stubSearcher{block: block}, &stubSynthesizer{})

	rec := doJSON(t, env, http.MethodPost, "/api/v1/research/candidate/London%20Breed",
		ResearchRequest{Issues: []string{"housing"}, Depth: "quick"})
	require.Equal(t, http.StatusOK, rec.Code)

	var accepted ResearchAccepted
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &accepted))

	rec = doJSON(t, env, http.MethodDelete, "/api/v1/research/"+accepted.ResearchID, nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	// Idempotent
	rec = doJSON(t, env, http.MethodDelete, "/api/v1/research/"+accepted.ResearchID, nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, env, http.MethodDelete, "/api/v1/research/missing", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandleListActive(t *testing.T) {
	block := make(chan struct{})
	defer close(block)
	env := setupTestServer(t, research.Config{}, &stubSearcher{block: block}, &stubSynthesizer{})

	rec := doJSON(t, env, http.MethodPost, "/api/v1/research/candidate/London%20Breed",
		ResearchRequest{Issues: []string{"housing"}, Depth: "quick"})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, env, http.MethodGet, "/api/v1/research/active", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "London Breed")
}

func TestHandleStancesAndMatch(t *testing.T) {
	env := quickEnv(t)
	submitAndWait(t, env)

	rec := doJSON(t, env, http.MethodGet, "/api/v1/stances", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "london-breed-housing-01")

	t.Run("match ranks candidates", func(t *testing.T) {
		rec := doJSON(t, env, http.MethodPost, "/api/v1/match",
			MatchRequest{Choices: map[string]string{"london-breed-housing-01": "supports"}})
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

		var resp MatchResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		require.Len(t, resp.Matches, 3)
		assert.Equal(t, 1, resp.StancesScored)
		// Both supporters precede the opponent; names break the tie.
		assert.Equal(t, "Daniel Lurie", resp.Matches[0].Candidate)
		assert.Equal(t, "London Breed", resp.Matches[1].Candidate)
		assert.Equal(t, "Aaron Peskin", resp.Matches[2].Candidate)
	})

	t.Run("invalid choice rejected", func(t *testing.T) {
		rec := doJSON(t, env, http.MethodPost, "/api/v1/match",
			MatchRequest{Choices: map[string]string{"london-breed-housing-01": "maybe"}})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("empty choices rejected", func(t *testing.T) {
		rec := doJSON(t, env, http.MethodPost, "/api/v1/match", MatchRequest{})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestHandleResearchStream(t *testing.T) {
	block := make(chan struct{})
	env := setupTestServer(t, research.Config{},
		&stubSearcher{block: block, results: []search.Result{{Title: "A", URL: "https://example.com/a"}}},
		&stubSynthesizer{cards: []stance.StanceCard{balancedCard("london-breed-housing-01")}})

	srv := httptest.NewServer(env.server.echo)
	t.Cleanup(srv.Close)

	rec := doJSON(t, env, http.MethodPost, "/api/v1/research/candidate/London%20Breed",
		ResearchRequest{Issues: []string{"housing"}, Depth: "quick"})
	require.Equal(t, http.StatusOK, rec.Code)

	var accepted ResearchAccepted
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &accepted))

	resp, err := http.Get(srv.URL + "/api/v1/research/stream/" + accepted.ResearchID)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	// Release the task only once the stream is attached.
	close(block)

	var eventTypes []string
	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		line := scanner.Text()
		if strings.HasPrefix(line, "event: ") {
			eventTypes = append(eventTypes, strings.TrimPrefix(line, "event: "))
			if eventTypes[len(eventTypes)-1] == "complete" {
				break
			}
		}
	}

	require.NotEmpty(t, eventTypes)
	assert.Equal(t, "complete", eventTypes[len(eventTypes)-1])
	assert.Contains(t, eventTypes, "progress")
}

func TestHandleResearchStream_UnknownTask(t *testing.T) {
	env := quickEnv(t)

	rec := doJSON(t, env, http.MethodGet, "/api/v1/research/stream/missing", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
