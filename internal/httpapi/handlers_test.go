package httpapi

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/nullvalue11/book8-core-api/internal/calls"
	"github.com/nullvalue11/book8-core-api/internal/usage"

	"github.com/gin-gonic/gin"
)

func newTestRouter() *gin.Engine {
	gin.SetMode(gin.TestMode)

	store := calls.NewMemoryStore()
	h := Handlers{
		Calls: calls.NewService(store, nil),
		Usage: usage.NewService(usage.NewMemoryRepo(store)),
	}

	r := gin.New()
	internal := r.Group("/internal")
	{
		internal.POST("/calls/start", h.StartCall)
		internal.POST("/calls/transcript", h.AppendTranscript)
		internal.POST("/calls/tool", h.AppendTool)
		internal.POST("/calls/usage", h.ApplyUsage)
		internal.POST("/calls/end", h.EndCall)
		internal.GET("/calls/:session_id", h.GetCall)
		internal.GET("/usage/summary", h.UsageSummary)
	}
	return r
}

func doJSON(t *testing.T, r *gin.Engine, method, path string, body any) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	out := map[string]any{}
	if w.Body.Len() > 0 {
		if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
			t.Fatalf("decode response %q: %v", w.Body.String(), err)
		}
	}
	return w, out
}

func TestStartEndpoint_CreatesAndDedups(t *testing.T) {
	r := newTestRouter()

	w, resp := doJSON(t, r, http.MethodPost, "/internal/calls/start", map[string]any{
		"session_id": "s1", "tenant_id": "acme", "from": "+1555", "to": "+1666",
	})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %v", w.Code, resp)
	}
	if resp["noop"] != false {
		t.Fatalf("first start must not be noop: %v", resp)
	}

	w, resp = doJSON(t, r, http.MethodPost, "/internal/calls/start", map[string]any{
		"session_id": "s1", "tenant_id": "other",
	})
	if w.Code != http.StatusOK || resp["noop"] != true {
		t.Fatalf("redelivered start: code=%d resp=%v", w.Code, resp)
	}
	call := resp["call"].(map[string]any)
	if call["tenant_id"] != "acme" {
		t.Fatalf("tenant overwritten: %v", call)
	}
}

func TestStartEndpoint_MissingFieldsRejected(t *testing.T) {
	r := newTestRouter()
	w, _ := doJSON(t, r, http.MethodPost, "/internal/calls/start", map[string]any{"session_id": "s1"})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
}

func TestTranscriptEndpoint_NoopOnRedeliveredTurn(t *testing.T) {
	r := newTestRouter()

	body := map[string]any{"session_id": "s1", "role": "caller", "text": "hello", "turn_id": "t1"}
	if w, resp := doJSON(t, r, http.MethodPost, "/internal/calls/transcript", body); w.Code != 200 || resp["noop"] != false {
		t.Fatalf("first append: code=%d resp=%v", w.Code, resp)
	}
	w, resp := doJSON(t, r, http.MethodPost, "/internal/calls/transcript", body)
	if w.Code != 200 || resp["noop"] != true {
		t.Fatalf("redelivered append: code=%d resp=%v", w.Code, resp)
	}
	call := resp["call"].(map[string]any)
	if n := len(call["transcript"].([]any)); n != 1 {
		t.Fatalf("expected 1 transcript entry, got %d", n)
	}
}

func TestUsageEndpoint_RejectsNegativeDelta(t *testing.T) {
	r := newTestRouter()
	w, resp := doJSON(t, r, http.MethodPost, "/internal/calls/usage", map[string]any{
		"session_id": "s1",
		"delta":      map[string]any{"tokens": -5},
	})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d: %v", w.Code, resp)
	}
}

func TestGetEndpoint_UnknownSessionIs404(t *testing.T) {
	r := newTestRouter()
	w, _ := doJSON(t, r, http.MethodGet, "/internal/calls/nope", nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}
}

func TestSummaryEndpoint_AggregatesWindow(t *testing.T) {
	r := newTestRouter()

	for _, s := range []map[string]any{
		{"session_id": "c1", "tenant_id": "acme"},
		{"session_id": "c2", "tenant_id": "acme"},
	} {
		if w, _ := doJSON(t, r, http.MethodPost, "/internal/calls/start", s); w.Code != 200 {
			t.Fatalf("start failed: %d", w.Code)
		}
	}
	doJSON(t, r, http.MethodPost, "/internal/calls/usage", map[string]any{
		"session_id": "c1", "delta": map[string]any{"tokens": 100, "characters": 40},
	})
	doJSON(t, r, http.MethodPost, "/internal/calls/end", map[string]any{
		"session_id": "c1", "duration_seconds": 61,
	})

	w, resp := doJSON(t, r, http.MethodGet, "/internal/usage/summary?tenant_id=acme", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %v", w.Code, resp)
	}
	sum := resp["summary"].(map[string]any)
	if sum["calls"].(float64) != 2 {
		t.Fatalf("expected 2 calls, got %v", sum["calls"])
	}
	if sum["duration_seconds"].(float64) != 61 {
		t.Fatalf("expected 61 seconds, got %v", sum["duration_seconds"])
	}
	if sum["minutes"].(float64) != 2 {
		t.Fatalf("expected 2 minutes, got %v", sum["minutes"])
	}
	if sum["tokens"].(float64) != 100 {
		t.Fatalf("expected 100 tokens, got %v", sum["tokens"])
	}
}

func TestSummaryEndpoint_RequiresTenant(t *testing.T) {
	r := newTestRouter()
	w, _ := doJSON(t, r, http.MethodGet, "/internal/usage/summary", nil)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
}
