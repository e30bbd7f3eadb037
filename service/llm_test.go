package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/clausecheck/backend/config"
	"github.com/clausecheck/backend/model"
)

func testLLMConfig(url string) *config.LLMConfig {
	return &config.LLMConfig{
		Endpoint:        url,
		APIKey:          "test-key",
		Model:           "test-model",
		MaxOutputTokens: 1024,
		TimeoutSeconds:  5,
	}
}

// llmReply builds a chat-completions response whose first choice carries the
// given content.
func llmReply(content string) map[string]any {
	return map[string]any{
		"choices": []map[string]any{
			{"message": map[string]any{"content": content}},
		},
	}
}

func validAnalysisJSON() string {
	analysis := model.ContractAnalysis{
		Summary:     "A consulting agreement with an aggressive indemnity clause.",
		OverallRisk: model.RiskHigh,
		RiskScore:   78,
		FullText:    "This agreement is made...",
		Clauses: []model.Clause{
			{
				ID: "clause-1", Text: "Consultant shall indemnify...", Explanation: "One-sided indemnity",
				RiskLevel: model.RiskHigh, RiskyKeywords: []string{"indemnify"}, Reason: "unlimited liability",
			},
		},
	}
	data, _ := json.Marshal(analysis)
	return string(data)
}

func TestNewLLMService(t *testing.T) {
	cfg := testLLMConfig("https://llm.test")
	svc := NewLLMService(cfg)
	if svc == nil {
		t.Fatal("Expected non-nil service")
	}
	if svc.config != cfg {
		t.Error("Expected config to be set")
	}
	if svc.httpClient == nil {
		t.Error("Expected httpClient to be set")
	}
}

func TestAnalyzeDocument(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != "POST" {
			t.Errorf("Expected POST, got %s", r.Method)
		}
		if r.URL.Path != "/v1/chat/completions" {
			t.Errorf("Expected /v1/chat/completions, got %s", r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer test-key" {
			t.Error("Expected Authorization header")
		}

		var req chatRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("Failed to decode request: %v", err)
		}
		if req.Model != "test-model" {
			t.Errorf("Expected model test-model, got %s", req.Model)
		}
		if req.ResponseFormat == nil {
			t.Error("Expected a response_format for document analysis")
		}

		json.NewEncoder(w).Encode(llmReply(validAnalysisJSON()))
	}))
	defer server.Close()

	svc := NewLLMService(testLLMConfig(server.URL))
	analysis, err := svc.AnalyzeDocument(context.Background(), []byte("%PDF-1.4 fake"), "application/pdf")
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if analysis.OverallRisk != model.RiskHigh {
		t.Errorf("Expected High risk, got %s", analysis.OverallRisk)
	}
	if analysis.RiskScore != 78 {
		t.Errorf("Expected score 78, got %d", analysis.RiskScore)
	}
	if len(analysis.Clauses) != 1 {
		t.Errorf("Expected 1 clause, got %d", len(analysis.Clauses))
	}
}

func TestAnalyzeDocumentStripsCodeFences(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fenced := "```json\n" + validAnalysisJSON() + "\n```"
		json.NewEncoder(w).Encode(llmReply(fenced))
	}))
	defer server.Close()

	svc := NewLLMService(testLLMConfig(server.URL))
	analysis, err := svc.AnalyzeDocument(context.Background(), []byte("data"), "image/png")
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if analysis.Summary == "" {
		t.Error("Expected summary after fence stripping")
	}
}

func TestAnalyzeDocumentInputValidation(t *testing.T) {
	// No server: validation must fail before any network activity.
	svc := NewLLMService(testLLMConfig("http://127.0.0.1:0"))

	if _, err := svc.AnalyzeDocument(context.Background(), nil, "application/pdf"); !errors.Is(err, ErrEmptyDocument) {
		t.Errorf("Expected ErrEmptyDocument, got %v", err)
	}
	if _, err := svc.AnalyzeDocument(context.Background(), []byte("x"), "text/plain"); !errors.Is(err, ErrUnsupportedType) {
		t.Errorf("Expected ErrUnsupportedType, got %v", err)
	}
}

func TestAnalyzeDocumentMalformedResponse(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(llmReply("this is not json at all"))
	}))
	defer server.Close()

	svc := NewLLMService(testLLMConfig(server.URL))
	_, err := svc.AnalyzeDocument(context.Background(), []byte("data"), "application/pdf")
	if err == nil {
		t.Fatal("Expected error for malformed response")
	}
	var le *LLMError
	if !errors.As(err, &le) {
		t.Fatalf("Expected *LLMError, got %T", err)
	}
	if le.Kind != ErrKindMalformed {
		t.Errorf("Expected malformed kind, got %s", le.Kind)
	}
}

func TestAnalyzeDocumentMissingRequiredFields(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(llmReply(`{"summary":"","overallRisk":"Low","riskScore":0,"clauses":[],"fullText":""}`))
	}))
	defer server.Close()

	svc := NewLLMService(testLLMConfig(server.URL))
	_, err := svc.AnalyzeDocument(context.Background(), []byte("data"), "application/pdf")
	var le *LLMError
	if !errors.As(err, &le) || le.Kind != ErrKindMalformed {
		t.Errorf("Expected malformed-response error for empty summary, got %v", err)
	}
}

func TestAnalyzeDocumentQuotaError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		fmt.Fprint(w, `{"error":{"message":"Rate limit reached for requests"}}`)
	}))
	defer server.Close()

	svc := NewLLMService(testLLMConfig(server.URL))
	_, err := svc.AnalyzeDocument(context.Background(), []byte("data"), "application/pdf")
	var le *LLMError
	if !errors.As(err, &le) {
		t.Fatalf("Expected *LLMError, got %v", err)
	}
	if le.Kind != ErrKindQuota {
		t.Errorf("Expected quota kind, got %s", le.Kind)
	}
}

func TestAnswerClauseQuestionSoftFailure(t *testing.T) {
	// Backend that always fails
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	svc := NewLLMService(testLLMConfig(server.URL))
	answer := svc.AnswerClauseQuestion(context.Background(), "Tenant shall...", "What does this mean?")
	if answer != apologyMessage {
		t.Errorf("Expected apology fallback, got %q", answer)
	}
}

func TestAnswerClauseQuestionSuccess(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(llmReply("It means the tenant pays."))
	}))
	defer server.Close()

	svc := NewLLMService(testLLMConfig(server.URL))
	answer := svc.AnswerClauseQuestion(context.Background(), "Tenant shall pay...", "What does this mean?")
	if answer != "It means the tenant pays." {
		t.Errorf("Unexpected answer: %q", answer)
	}
}

func TestSendChatMessageBoundsHistory(t *testing.T) {
	var gotMessages []chatMessage
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Messages []chatMessage `json:"messages"`
		}
		json.NewDecoder(r.Body).Decode(&req)
		gotMessages = req.Messages
		json.NewEncoder(w).Encode(llmReply("ok"))
	}))
	defer server.Close()

	history := make([]ChatTurn, 25)
	for i := range history {
		role := "user"
		if i%2 == 1 {
			role = "model"
		}
		history[i] = ChatTurn{Role: role, Text: fmt.Sprintf("turn %d", i)}
	}

	svc := NewLLMService(testLLMConfig(server.URL))
	reply := svc.SendChatMessage(context.Background(), history, "latest question", "")
	if reply != "ok" {
		t.Fatalf("Unexpected reply: %q", reply)
	}

	// system + bounded history + new message
	expected := 1 + chatHistoryWindow + 1
	if len(gotMessages) != expected {
		t.Errorf("Expected %d wire messages, got %d", expected, len(gotMessages))
	}
	// Oldest turns must be dropped, keeping the tail
	if content, ok := gotMessages[1].Content.(string); !ok || content != "turn 15" {
		t.Errorf("Expected history window to start at turn 15, got %v", gotMessages[1].Content)
	}
}

func TestSendChatMessageNeverErrors(t *testing.T) {
	// Unreachable endpoint
	svc := NewLLMService(testLLMConfig("http://127.0.0.1:1"))
	reply := svc.SendChatMessage(context.Background(), nil, "hello", "")
	if reply == "" {
		t.Error("Chat must always resolve to a non-empty string")
	}
}

func TestCompareContracts(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		result := model.ComparisonResult{
			RecommendedID:  "c-2",
			Reasoning:      "Lower overall risk.",
			KeyDifferences: []string{"Termination notice differs", "Indemnity scope differs"},
		}
		data, _ := json.Marshal(result)
		json.NewEncoder(w).Encode(llmReply(string(data)))
	}))
	defer server.Close()

	contracts := []model.Contract{
		{ID: "c-1", FileName: "a.pdf", Analysis: &model.ContractAnalysis{Summary: "a", OverallRisk: model.RiskHigh, RiskScore: 80}},
		{ID: "c-2", FileName: "b.pdf", Analysis: &model.ContractAnalysis{Summary: "b", OverallRisk: model.RiskLow, RiskScore: 20}},
	}

	svc := NewLLMService(testLLMConfig(server.URL))
	result, err := svc.CompareContracts(context.Background(), contracts)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if result.RecommendedID != "c-2" {
		t.Errorf("Expected recommendation c-2, got %s", result.RecommendedID)
	}
	if len(result.KeyDifferences) != 2 {
		t.Errorf("Expected 2 differences, got %d", len(result.KeyDifferences))
	}
}

func TestCompareContractsCountValidation(t *testing.T) {
	svc := NewLLMService(testLLMConfig("http://127.0.0.1:0"))

	one := []model.Contract{{ID: "c-1"}}
	if _, err := svc.CompareContracts(context.Background(), one); err == nil {
		t.Error("Expected error for 1 contract")
	}

	four := make([]model.Contract, 4)
	if _, err := svc.CompareContracts(context.Background(), four); err == nil {
		t.Error("Expected error for 4 contracts")
	}
}

func TestCompareContractsHardFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		fmt.Fprint(w, "overloaded")
	}))
	defer server.Close()

	contracts := []model.Contract{{ID: "c-1"}, {ID: "c-2"}}
	svc := NewLLMService(testLLMConfig(server.URL))
	_, err := svc.CompareContracts(context.Background(), contracts)
	if err == nil {
		t.Fatal("Expected comparison to propagate backend failure")
	}
	var le *LLMError
	if !errors.As(err, &le) || le.Kind != ErrKindUnavailable {
		t.Errorf("Expected unavailable kind, got %v", err)
	}
}

func TestQueryComparisonDifferenceSoftFailure(t *testing.T) {
	svc := NewLLMService(testLLMConfig("http://127.0.0.1:1"))
	answer := svc.QueryComparisonDifference(context.Background(), nil, "explain", nil, "Termination differs")
	if answer != apologyMessage {
		t.Errorf("Expected apology fallback, got %q", answer)
	}
}

func TestStripCodeFences(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{"no fence", `{"a":1}`, `{"a":1}`},
		{"json fence", "```json\n{\"a\":1}\n```", `{"a":1}`},
		{"bare fence", "```\n{\"a\":1}\n```", `{"a":1}`},
		{"surrounding whitespace", "  ```json\n{\"a\":1}\n```  ", `{"a":1}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := stripCodeFences(tt.input); got != tt.expected {
				t.Errorf("stripCodeFences(%q) = %q, want %q", tt.input, got, tt.expected)
			}
		})
	}
}

func TestNonContractConvention(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(llmReply(`{"summary":"No legal terms were found in this document.","overallRisk":"Low","riskScore":0,"clauses":[],"fullText":"A grocery receipt."}`))
	}))
	defer server.Close()

	svc := NewLLMService(testLLMConfig(server.URL))
	analysis, err := svc.AnalyzeDocument(context.Background(), []byte("receipt"), "image/jpeg")
	if err != nil {
		t.Fatalf("Non-document input must not be a hard error: %v", err)
	}
	if !analysis.IsLikelyNonContract() {
		t.Error("Expected analysis to read as non-contract")
	}
	if !strings.Contains(analysis.Summary, "No legal terms") {
		t.Errorf("Expected explanatory summary, got %q", analysis.Summary)
	}
}
