package server

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/mohammad-safakhou/deepsearch/config"
	"github.com/mohammad-safakhou/deepsearch/internal/agent/core"
	"github.com/mohammad-safakhou/deepsearch/internal/agent/status"
	"github.com/mohammad-safakhou/deepsearch/internal/runtime"
	"github.com/mohammad-safakhou/deepsearch/internal/session"
	"github.com/mohammad-safakhou/deepsearch/provider"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testPlan = `1. Review current international climate agreements
2. Analyze national emission reduction targets`

// phaseGateway answers plan, branch and synthesis prompts differently.
func phaseGateway(planGate <-chan struct{}) provider.Gateway {
	return provider.GatewayFunc(func(ctx context.Context, credential, modelID, prompt string) (string, error) {
		switch {
		case strings.Contains(prompt, "create a detailed, actionable plan"):
			if planGate != nil {
				<-planGate
			}
			return testPlan, nil
		case strings.HasPrefix(prompt, "Using Google Search results"):
			return "finding", nil
		default:
			return "## Answer", nil
		}
	})
}

func testConfig() *config.Config {
	cfg := &config.Config{}
	cfg.LLM.DefaultModel = "gemini-2.0-flash"
	cfg.LLM.Models = []string{"gemini-2.0-flash", "gemini-2.5-pro"}
	return cfg
}

func newTestServer(t *testing.T, gw provider.Gateway, secret []byte) (*Server, *session.Manager) {
	t.Helper()
	cfg := testConfig()
	mgr := session.NewManager(config.SessionConfig{TTL: time.Hour}, session.NewFactory(cfg, gw, nil, nil, nil), nil)
	return New(Options{Config: cfg, Sessions: mgr, JWTSecret: secret}), mgr
}

func request(t *testing.T, s *Server, method, path, body string, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func createSession(t *testing.T, s *Server, headers map[string]string) string {
	t.Helper()
	rec := request(t, s, http.MethodPost, "/api/sessions", "", headers)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var out struct {
		SessionID string `json:"session_id"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	require.NotEmpty(t, out.SessionID)
	return out.SessionID
}

func TestHealthAndModels(t *testing.T) {
	s, _ := newTestServer(t, phaseGateway(nil), nil)

	rec := request(t, s, http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", rec.Body.String())

	rec = request(t, s, http.MethodGet, "/api/models", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var out struct {
		Default string   `json:"default"`
		Models  []string `json:"models"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	assert.Equal(t, "gemini-2.0-flash", out.Default)
	assert.Equal(t, []string{"gemini-2.0-flash", "gemini-2.5-pro"}, out.Models)

	rec = request(t, s, http.MethodGet, "/api/stats", "", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestSearchHappyPath(t *testing.T) {
	s, mgr := newTestServer(t, phaseGateway(nil), nil)
	id := createSession(t, s, nil)

	rec := request(t, s, http.MethodPost, "/api/sessions/"+id+"/search",
		`{"query":"climate policy","model":"gemini-2.5-pro"}`,
		map[string]string{apiKeyHeader: "k"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var out searchResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	assert.NotEmpty(t, out.RunID)
	assert.Equal(t, core.StateDone, out.State)
	assert.Equal(t, "gemini-2.5-pro", out.Model)
	assert.Equal(t, "## Answer", out.Answer)
	assert.Empty(t, out.Error)
	assert.GreaterOrEqual(t, len(out.Queries), 5)
	require.Len(t, out.Outcomes, len(out.Queries))
	for _, oc := range out.Outcomes {
		assert.False(t, oc.Failed)
		assert.Equal(t, "finding", oc.Result)
	}

	sess, ok := mgr.Get(id)
	require.True(t, ok)
	assert.Equal(t, 2, sess.Orchestrator.Store().Len())

	rec = request(t, s, http.MethodGet, "/api/sessions/"+id+"/history", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var hist struct {
		Turns []core.Turn `json:"turns"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &hist))
	assert.Equal(t, []core.Turn{
		{Role: core.RoleUser, Content: "climate policy"},
		{Role: core.RoleModel, Content: "## Answer"},
	}, hist.Turns)

	rec = request(t, s, http.MethodGet, "/api/sessions/"+id+"/status", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var st struct {
		Busy    bool           `json:"busy"`
		Entries []status.Entry `json:"entries"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &st))
	assert.False(t, st.Busy)
	assert.NotEmpty(t, st.Entries)
}

func TestSearchFailureIsReportedInBody(t *testing.T) {
	gw := provider.GatewayFunc(func(ctx context.Context, credential, modelID, prompt string) (string, error) {
		return "", assert.AnError
	})
	s, _ := newTestServer(t, gw, nil)
	id := createSession(t, s, nil)

	rec := request(t, s, http.MethodPost, "/api/sessions/"+id+"/search", `{"query":"climate policy","api_key":"k"}`, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var out searchResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	assert.Equal(t, core.StateFailed, out.State)
	assert.Contains(t, out.Error, "failed to generate plan")
	assert.Equal(t, provider.KindUnknown, out.ErrorKind)
}

func TestSearchValidation(t *testing.T) {
	s, _ := newTestServer(t, phaseGateway(nil), nil)
	id := createSession(t, s, nil)
	path := "/api/sessions/" + id + "/search"

	assert.Equal(t, http.StatusBadRequest, request(t, s, http.MethodPost, path, `{"query":"  ","api_key":"k"}`, nil).Code)
	assert.Equal(t, http.StatusBadRequest, request(t, s, http.MethodPost, path, `{"query":"climate"}`, nil).Code)
	assert.Equal(t, http.StatusBadRequest, request(t, s, http.MethodPost, path, `{"query":"climate","api_key":"k","model":"gpt-4"}`, nil).Code)
	assert.Equal(t, http.StatusNotFound, request(t, s, http.MethodPost, "/api/sessions/nope/search", `{"query":"climate","api_key":"k"}`, nil).Code)

	rec := request(t, s, http.MethodGet, "/api/sessions/"+id+"/history", "", nil)
	assert.Contains(t, rec.Body.String(), `"turns":[]`)
}

func TestSearchConflictWhileInFlight(t *testing.T) {
	gate := make(chan struct{})
	s, mgr := newTestServer(t, phaseGateway(gate), nil)
	id := createSession(t, s, nil)
	sess, _ := mgr.Get(id)
	path := "/api/sessions/" + id + "/search"

	first := make(chan *httptest.ResponseRecorder, 1)
	go func() {
		first <- request(t, s, http.MethodPost, path, `{"query":"climate policy","api_key":"k"}`, nil)
	}()
	require.Eventually(t, sess.Orchestrator.Busy, time.Second, 5*time.Millisecond)

	rec := request(t, s, http.MethodPost, path, `{"query":"another","api_key":"k"}`, nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Contains(t, rec.Body.String(), core.ErrRunInProgress.Error())

	close(gate)
	select {
	case rec := <-first:
		assert.Equal(t, http.StatusOK, rec.Code)
	case <-time.After(5 * time.Second):
		t.Fatal("first search never finished")
	}
	assert.Equal(t, 2, sess.Orchestrator.Store().Len())
}

func TestResetEndpoint(t *testing.T) {
	s, mgr := newTestServer(t, phaseGateway(nil), nil)
	id := createSession(t, s, nil)
	rec := request(t, s, http.MethodPost, "/api/sessions/"+id+"/search", `{"query":"climate policy","api_key":"k"}`, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = request(t, s, http.MethodDelete, "/api/sessions/"+id+"/history", "", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	sess, ok := mgr.Get(id)
	require.True(t, ok)
	assert.Equal(t, 0, sess.Orchestrator.Store().Len())
	assert.Empty(t, sess.Orchestrator.Tracker().Entries())

	assert.Equal(t, http.StatusNoContent, request(t, s, http.MethodDelete, "/api/sessions/"+id, "", nil).Code)
	assert.Equal(t, http.StatusNotFound, request(t, s, http.MethodDelete, "/api/sessions/"+id, "", nil).Code)
	assert.Equal(t, http.StatusNotFound, request(t, s, http.MethodGet, "/api/sessions/"+id+"/history", "", nil).Code)
}

func TestJWTEnforcement(t *testing.T) {
	secret := []byte("server-test-secret")
	s, _ := newTestServer(t, phaseGateway(nil), secret)

	assert.Equal(t, http.StatusOK, request(t, s, http.MethodGet, "/healthz", "", nil).Code)
	assert.Equal(t, http.StatusUnauthorized, request(t, s, http.MethodGet, "/api/models", "", nil).Code)
	assert.Equal(t, http.StatusUnauthorized, request(t, s, http.MethodPost, "/api/sessions", "", nil).Code)

	reader, err := runtime.SignJWT("reader", secret, time.Hour, "read")
	require.NoError(t, err)
	researcher, err := runtime.SignJWT("researcher", secret, time.Hour, runtime.ScopeResearch)
	require.NoError(t, err)

	readerHeaders := map[string]string{"Authorization": "Bearer " + reader}
	id := createSession(t, s, readerHeaders)
	body := `{"query":"climate policy","api_key":"k"}`
	assert.Equal(t, http.StatusForbidden, request(t, s, http.MethodPost, "/api/sessions/"+id+"/search", body, readerHeaders).Code)
	assert.Equal(t, http.StatusForbidden, request(t, s, http.MethodDelete, "/api/sessions/"+id+"/history", "", readerHeaders).Code)

	rec := request(t, s, http.MethodPost, "/api/sessions/"+id+"/search", body, map[string]string{"Authorization": "Bearer " + researcher})
	assert.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
}

func TestStatusStream(t *testing.T) {
	s, mgr := newTestServer(t, phaseGateway(nil), nil)
	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	id := createSession(t, s, nil)
	sess, _ := mgr.Get(id)
	sess.Orchestrator.Tracker().Add("plan", "Generating plan...", status.Working)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL+"/api/sessions/"+id+"/status/stream", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	lines := bufio.NewScanner(resp.Body)
	next := func() (string, string) {
		t.Helper()
		var event, data string
		for lines.Scan() {
			line := lines.Text()
			switch {
			case strings.HasPrefix(line, "event: "):
				event = strings.TrimPrefix(line, "event: ")
			case strings.HasPrefix(line, "data: "):
				data = strings.TrimPrefix(line, "data: ")
			case line == "" && event != "":
				return event, data
			}
		}
		t.Fatal("stream ended early")
		return "", ""
	}

	event, data := next()
	assert.Equal(t, "status", event)
	var entry status.Entry
	require.NoError(t, json.Unmarshal([]byte(data), &entry))
	assert.Equal(t, "plan", entry.ID)
	assert.Equal(t, status.Working, entry.State)

	sess.Orchestrator.Tracker().Update("plan", "Plan generated.", status.Done)
	event, data = next()
	assert.Equal(t, "status", event)
	assert.Contains(t, data, "Plan generated.")

	sess.Orchestrator.Tracker().Clear()
	event, _ = next()
	assert.Equal(t, "cleared", event)
}
