package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/clausecheck/backend/model"
	"github.com/clausecheck/backend/service"
	"github.com/gin-gonic/gin"
)

// stubContractComparer returns a canned comparison result.
type stubContractComparer struct {
	result *model.ComparisonResult
	err    error
}

func (s *stubContractComparer) CompareContracts(_ context.Context, _ []model.Contract) (*model.ComparisonResult, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.result, nil
}

func (s *stubContractComparer) QueryComparisonDifference(_ context.Context, _ []service.ChatTurn, _ string, _ []model.Contract, difference string) string {
	return "briefing on " + difference
}

func saveAnalyzed(t *testing.T, store *service.Store, id, user string) {
	t.Helper()
	err := store.SaveContract(model.Contract{
		ID: id, UserID: user, FileName: id + ".pdf",
		UploadDate: time.Now(), Status: model.StatusAnalyzed,
		Analysis: &model.ContractAnalysis{
			Summary: "summary", OverallRisk: model.RiskMedium, RiskScore: 50,
			Clauses: []model.Clause{},
		},
	})
	if err != nil {
		t.Fatalf("SaveContract(%s): %v", id, err)
	}
}

func compareJSON(router *gin.Engine, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest("POST", path, bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func newCompareRouter(t *testing.T, comparer service.ContractComparer) (*gin.Engine, *service.Store) {
	t.Helper()
	store := newTestStore(t)
	handler := NewCompareHandler(service.NewCompareManager(comparer), store)

	router := gin.New()
	router.POST("/compare", asUser("alice@example.com", handler.Start))
	router.GET("/compare/:id", asUser("alice@example.com", handler.Get))
	router.POST("/compare/:id/focus", asUser("alice@example.com", handler.Focus))
	router.POST("/compare/:id/ask", asUser("alice@example.com", handler.Ask))
	return router, store
}

func TestCompareFlow(t *testing.T) {
	comparer := &stubContractComparer{result: &model.ComparisonResult{
		RecommendedID:  "c-2",
		Reasoning:      "c-2 has balanced terms",
		KeyDifferences: []string{"termination notice", "liability cap"},
	}}
	router, store := newCompareRouter(t, comparer)
	saveAnalyzed(t, store, "c-1", "alice@example.com")
	saveAnalyzed(t, store, "c-2", "alice@example.com")

	w := compareJSON(router, "/compare", `{"contractIds":["c-1","c-2"]}`)
	if w.Code != http.StatusOK {
		t.Fatalf("Start: status %d, body %s", w.Code, w.Body.String())
	}

	var session map[string]interface{}
	json.Unmarshal(w.Body.Bytes(), &session)
	sessionID := session["id"].(string)
	recommended := session["recommended"].(map[string]interface{})
	if recommended["id"] != "c-2" {
		t.Errorf("recommended = %v, want c-2", recommended["id"])
	}

	// Focus the first difference.
	w = compareJSON(router, "/compare/"+sessionID+"/focus", `{"index":0}`)
	if w.Code != http.StatusOK {
		t.Fatalf("Focus: status %d, body %s", w.Code, w.Body.String())
	}
	var focusResp map[string]interface{}
	json.Unmarshal(w.Body.Bytes(), &focusResp)
	if focusResp["briefing"] != "briefing on termination notice" {
		t.Errorf("briefing = %v", focusResp["briefing"])
	}

	// Ask a follow-up about it.
	w = compareJSON(router, "/compare/"+sessionID+"/ask", `{"question":"which one should I sign?"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("Ask: status %d, body %s", w.Code, w.Body.String())
	}
}

func TestCompareStartWrongCount(t *testing.T) {
	router, store := newCompareRouter(t, &stubContractComparer{result: &model.ComparisonResult{}})
	saveAnalyzed(t, store, "c-1", "alice@example.com")

	w := compareJSON(router, "/compare", `{"contractIds":["c-1"]}`)
	if w.Code != http.StatusBadRequest {
		t.Errorf("One contract: status %d, want 400", w.Code)
	}

	w = compareJSON(router, "/compare", `{"contractIds":["a","b","c","d"]}`)
	if w.Code != http.StatusBadRequest {
		t.Errorf("Four contracts: status %d, want 400", w.Code)
	}
}

func TestCompareStartUnknownContract(t *testing.T) {
	router, store := newCompareRouter(t, &stubContractComparer{result: &model.ComparisonResult{}})
	saveAnalyzed(t, store, "c-1", "alice@example.com")

	w := compareJSON(router, "/compare", `{"contractIds":["c-1","ghost"]}`)
	if w.Code != http.StatusNotFound {
		t.Errorf("Status %d, want 404", w.Code)
	}
}

func TestCompareStartBackendDown(t *testing.T) {
	comparer := &stubContractComparer{err: &service.LLMError{
		Kind:    service.ErrKindUnavailable,
		Message: "The analysis service is temporarily unavailable. Please try again shortly.",
	}}
	router, store := newCompareRouter(t, comparer)
	saveAnalyzed(t, store, "c-1", "alice@example.com")
	saveAnalyzed(t, store, "c-2", "alice@example.com")

	w := compareJSON(router, "/compare", `{"contractIds":["c-1","c-2"]}`)
	if w.Code != http.StatusBadGateway {
		t.Fatalf("Status %d, want 502", w.Code)
	}
	var resp map[string]string
	json.Unmarshal(w.Body.Bytes(), &resp)
	if resp["error"] == "" {
		t.Error("Expected a user-facing error message")
	}
}

func TestCompareFocusBadIndex(t *testing.T) {
	comparer := &stubContractComparer{result: &model.ComparisonResult{
		RecommendedID:  "c-1",
		KeyDifferences: []string{"only one"},
	}}
	router, store := newCompareRouter(t, comparer)
	saveAnalyzed(t, store, "c-1", "alice@example.com")
	saveAnalyzed(t, store, "c-2", "alice@example.com")

	w := compareJSON(router, "/compare", `{"contractIds":["c-1","c-2"]}`)
	var session map[string]interface{}
	json.Unmarshal(w.Body.Bytes(), &session)
	sessionID := session["id"].(string)

	w = compareJSON(router, "/compare/"+sessionID+"/focus", `{"index":7}`)
	if w.Code != http.StatusBadRequest {
		t.Errorf("Status %d, want 400", w.Code)
	}

	// Index is required, and zero must be accepted as a real value.
	w = compareJSON(router, "/compare/"+sessionID+"/focus", `{"index":0}`)
	if w.Code != http.StatusOK {
		t.Errorf("Index 0: status %d, want 200", w.Code)
	}
}

func TestCompareAskWithoutFocus(t *testing.T) {
	comparer := &stubContractComparer{result: &model.ComparisonResult{
		RecommendedID:  "c-1",
		KeyDifferences: []string{"difference"},
	}}
	router, store := newCompareRouter(t, comparer)
	saveAnalyzed(t, store, "c-1", "alice@example.com")
	saveAnalyzed(t, store, "c-2", "alice@example.com")

	w := compareJSON(router, "/compare", `{"contractIds":["c-1","c-2"]}`)
	var session map[string]interface{}
	json.Unmarshal(w.Body.Bytes(), &session)
	sessionID := session["id"].(string)

	w = compareJSON(router, "/compare/"+sessionID+"/ask", `{"question":"anything"}`)
	if w.Code != http.StatusConflict {
		t.Errorf("Status %d, want 409", w.Code)
	}
}

func TestCompareGetScoping(t *testing.T) {
	comparer := &stubContractComparer{result: &model.ComparisonResult{RecommendedID: "c-1"}}
	store := newTestStore(t)
	handler := NewCompareHandler(service.NewCompareManager(comparer), store)
	saveAnalyzed(t, store, "c-1", "alice@example.com")
	saveAnalyzed(t, store, "c-2", "alice@example.com")

	router := gin.New()
	router.POST("/compare", asUser("alice@example.com", handler.Start))
	router.GET("/compare/:id", asUser("alice@example.com", handler.Get))
	router.GET("/other/compare/:id", asUser("mallory@example.com", handler.Get))

	w := compareJSON(router, "/compare", `{"contractIds":["c-1","c-2"]}`)
	var session map[string]interface{}
	json.Unmarshal(w.Body.Bytes(), &session)
	sessionID := session["id"].(string)

	w2 := httptest.NewRecorder()
	router.ServeHTTP(w2, httptest.NewRequest("GET", "/compare/"+sessionID, nil))
	if w2.Code != http.StatusOK {
		t.Errorf("Owner read: status %d, want 200", w2.Code)
	}

	w2 = httptest.NewRecorder()
	router.ServeHTTP(w2, httptest.NewRequest("GET", "/other/compare/"+sessionID, nil))
	if w2.Code != http.StatusNotFound {
		t.Errorf("Foreign read: status %d, want 404", w2.Code)
	}
}
