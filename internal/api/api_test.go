// ABOUTME: HTTP API tests driving the router against a real supervisor
// ABOUTME: Covers tenant header enforcement and the error taxonomy to status code mapping

package api

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shreyanshjain7174/agent-runtime/internal/adapter"
	"github.com/shreyanshjain7174/agent-runtime/internal/registry"
	"github.com/shreyanshjain7174/agent-runtime/internal/store"
	"github.com/shreyanshjain7174/agent-runtime/internal/supervisor"
)

func setupTestRouter(t *testing.T) *Router {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	slog.SetDefault(logger)

	st, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	defs := registry.New(logger)
	require.NoError(t, defs.Register(&registry.Definition{
		ID:          "support-triage",
		Version:     "1.0.0",
		Runtime:     adapter.RuntimeInProcess,
		Permissions: []string{"read_messages"},
		Active:      true,
	}))

	factory := adapter.NewFactory(logger)
	factory.Register(adapter.RuntimeInProcess, func() (adapter.Adapter, error) {
		return adapter.NewInProcess(func(_ context.Context, payload []byte) ([]byte, error) {
			return nil, nil
		}), nil
	})

	sup := supervisor.New(st, defs, factory, supervisor.Config{
		TokenSecret:       "test-secret",
		QueuePollInterval: 10 * time.Millisecond,
	}, logger)
	t.Cleanup(sup.Close)

	return NewRouter(sup)
}

// doRequest performs a request with the tenant headers set.
func doRequest(r *Router, method, path string, body any) *httptest.ResponseRecorder {
	var payload *bytes.Reader
	if body != nil {
		data, _ := json.Marshal(body)
		payload = bytes.NewReader(data)
	} else {
		payload = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, payload)
	req.Header.Set("X-Business-ID", "biz-1")
	req.Header.Set("X-Actor-ID", "user-1")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	w := httptest.NewRecorder()
	r.Engine().ServeHTTP(w, req)
	return w
}

func installViaAPI(t *testing.T, r *Router) string {
	t.Helper()
	w := doRequest(r, http.MethodPost, "/api/v1/agents/install", map[string]any{
		"agent_id":    "support-triage",
		"permissions": []string{"read_messages"},
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var inst struct {
		ID string `json:"id"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &inst))
	require.NotEmpty(t, inst.ID)
	return inst.ID
}

func TestHealthz(t *testing.T) {
	r := setupTestRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	w := httptest.NewRecorder()
	r.Engine().ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
}

func TestTenantHeaderRequired(t *testing.T) {
	r := setupTestRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/agents", nil)
	w := httptest.NewRecorder()
	r.Engine().ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "X-Business-ID")
}

func TestInstallAgentEndpoint(t *testing.T) {
	r := setupTestRouter(t)

	w := doRequest(r, http.MethodPost, "/api/v1/agents/install", map[string]any{
		"agent_id":    "support-triage",
		"permissions": []string{"read_messages"},
	})
	require.Equal(t, http.StatusCreated, w.Code)

	var inst struct {
		ID     string `json:"id"`
		Status string `json:"status"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &inst))
	assert.NotEmpty(t, inst.ID)
	assert.Equal(t, "active", inst.Status)

	// Listed under the tenant
	w = doRequest(r, http.MethodGet, "/api/v1/agents", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var list struct {
		Installations []struct {
			ID string `json:"id"`
		} `json:"installations"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &list))
	require.Len(t, list.Installations, 1)
	assert.Equal(t, inst.ID, list.Installations[0].ID)
}

func TestInstallAgent_MissingPermissions403(t *testing.T) {
	r := setupTestRouter(t)

	w := doRequest(r, http.MethodPost, "/api/v1/agents/install", map[string]any{
		"agent_id": "support-triage",
	})
	require.Equal(t, http.StatusForbidden, w.Code)

	var resp struct {
		Missing []string `json:"missing_permissions"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, []string{"read_messages"}, resp.Missing)
}

func TestInstallAgent_Duplicate409(t *testing.T) {
	r := setupTestRouter(t)

	installViaAPI(t, r)
	w := doRequest(r, http.MethodPost, "/api/v1/agents/install", map[string]any{
		"agent_id":    "support-triage",
		"permissions": []string{"read_messages"},
	})
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestInstallAgent_UnknownAgent404(t *testing.T) {
	r := setupTestRouter(t)

	w := doRequest(r, http.MethodPost, "/api/v1/agents/install", map[string]any{
		"agent_id": "no-such-agent",
	})
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestInstallAgent_MissingAgentID400(t *testing.T) {
	r := setupTestRouter(t)

	w := doRequest(r, http.MethodPost, "/api/v1/agents/install", map[string]any{})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestSessionLifecycleEndpoints(t *testing.T) {
	r := setupTestRouter(t)
	instID := installViaAPI(t, r)

	w := doRequest(r, http.MethodPost, "/api/v1/agents/"+instID+"/start", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var sess struct {
		ID     string `json:"id"`
		Status string `json:"status"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &sess))
	assert.Equal(t, "running", sess.Status)

	w = doRequest(r, http.MethodGet, "/api/v1/sessions", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var sessions struct {
		Sessions []struct {
			ID string `json:"id"`
		} `json:"sessions"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &sessions))
	require.Len(t, sessions.Sessions, 1)

	w = doRequest(r, http.MethodPost, "/api/v1/agents/"+instID+"/pause", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	// Pausing twice conflicts with the paused state
	w = doRequest(r, http.MethodPost, "/api/v1/agents/"+instID+"/pause", nil)
	assert.Equal(t, http.StatusConflict, w.Code)

	w = doRequest(r, http.MethodPost, "/api/v1/agents/"+instID+"/resume", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = doRequest(r, http.MethodPost, "/api/v1/agents/"+instID+"/heartbeat", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = doRequest(r, http.MethodPost, "/api/v1/agents/"+instID+"/stop", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestStartAgent_Unknown404(t *testing.T) {
	r := setupTestRouter(t)

	w := doRequest(r, http.MethodPost, "/api/v1/agents/missing/start", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestSendEvent_NoSession409(t *testing.T) {
	r := setupTestRouter(t)
	instID := installViaAPI(t, r)

	w := doRequest(r, http.MethodPost, "/api/v1/agents/"+instID+"/events", map[string]any{
		"event_type": "ticket.created",
		"payload":    map[string]any{"ticket": 17},
	})
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestSendAndListEvents(t *testing.T) {
	r := setupTestRouter(t)
	instID := installViaAPI(t, r)

	w := doRequest(r, http.MethodPost, "/api/v1/agents/"+instID+"/start", nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = doRequest(r, http.MethodPost, "/api/v1/agents/"+instID+"/events", map[string]any{
		"event_type": "ticket.created",
		"payload":    map[string]any{"ticket": 17},
	})
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())

	w = doRequest(r, http.MethodGet, "/api/v1/agents/"+instID+"/events", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var events struct {
		Events []struct {
			EventType string `json:"event_type"`
			Direction string `json:"direction"`
		} `json:"events"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &events))
	require.Len(t, events.Events, 1)
	assert.Equal(t, "ticket.created", events.Events[0].EventType)
	assert.Equal(t, "to_agent", events.Events[0].Direction)
}

func TestUsageEndpoints(t *testing.T) {
	r := setupTestRouter(t)
	instID := installViaAPI(t, r)

	w := doRequest(r, http.MethodPost, "/api/v1/agents/"+instID+"/usage", map[string]any{
		"cpu_seconds_used": 1.5,
		"api_calls_made":   3,
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = doRequest(r, http.MethodGet, "/api/v1/agents/"+instID+"/usage?days=7", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var usage struct {
		Usage []struct {
			APICallsMade int64 `json:"api_calls_made"`
		} `json:"usage"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &usage))
	require.Len(t, usage.Usage, 1)
	assert.Equal(t, int64(3), usage.Usage[0].APICallsMade)
}

func TestAuditEndpoint(t *testing.T) {
	r := setupTestRouter(t)
	installViaAPI(t, r)

	w := doRequest(r, http.MethodGet, "/api/v1/audit", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var audit struct {
		Entries []struct {
			Action  string `json:"action"`
			Actor   string `json:"actor"`
			Outcome string `json:"outcome"`
		} `json:"entries"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &audit))
	require.Len(t, audit.Entries, 1)
	assert.Equal(t, "install_agent", audit.Entries[0].Action)
	assert.Equal(t, "user-1", audit.Entries[0].Actor)
	assert.Equal(t, "success", audit.Entries[0].Outcome)
}

func TestUninstallEndpoint(t *testing.T) {
	r := setupTestRouter(t)
	instID := installViaAPI(t, r)

	w := doRequest(r, http.MethodDelete, "/api/v1/agents/"+instID, nil)
	assert.Equal(t, http.StatusAccepted, w.Code)

	w = doRequest(r, http.MethodDelete, "/api/v1/agents/missing", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}
