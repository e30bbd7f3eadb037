package service

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/clausecheck/backend/config"
	"github.com/clausecheck/backend/model"
	"github.com/clausecheck/backend/pkg/logger"
)

// Accepted upload types and size ceiling, shared with the batch orchestrator.
const MaxFileSize = 20 << 20 // 20 MiB

var AllowedMimeTypes = map[string]bool{
	"application/pdf": true,
	"image/jpeg":      true,
	"image/png":       true,
	"image/webp":      true,
}

// apologyMessage is returned by every conversational operation when the
// backend fails. Chat must never surface a hard error.
const apologyMessage = "Sorry, I couldn't process that question right now. Please try again in a moment."

// chatHistoryWindow bounds how many prior turns are sent with a chat message.
const chatHistoryWindow = 10

var (
	ErrEmptyDocument   = errors.New("document is empty")
	ErrUnsupportedType = errors.New("unsupported document type")
)

// ChatTurn is one prior exchange turn. Role is "user" or "model".
type ChatTurn struct {
	Role string `json:"role"`
	Text string `json:"text"`
}

// LLMService talks to an OpenAI-compatible chat-completions endpoint.
type LLMService struct {
	config     *config.LLMConfig
	httpClient *http.Client
}

func NewLLMService(cfg *config.LLMConfig) *LLMService {
	return &LLMService{
		config: cfg,
		httpClient: &http.Client{
			Timeout: time.Duration(cfg.TimeoutSeconds) * time.Second,
		},
	}
}

// Wire types for the chat-completions API.

type chatMessage struct {
	Role    string `json:"role"`
	Content any    `json:"content"` // string or []contentPart
}

type contentPart struct {
	Type     string        `json:"type"`
	Text     string        `json:"text,omitempty"`
	ImageURL *imageURLPart `json:"image_url,omitempty"`
	File     *filePart     `json:"file,omitempty"`
}

type imageURLPart struct {
	URL string `json:"url"`
}

type filePart struct {
	Filename string `json:"filename"`
	FileData string `json:"file_data"`
}

type chatRequest struct {
	Model          string        `json:"model"`
	Messages       []chatMessage `json:"messages"`
	MaxTokens      int           `json:"max_tokens,omitempty"`
	ResponseFormat any           `json:"response_format,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    any    `json:"code"`
	} `json:"error"`
}

// generate sends one chat-completions request and returns the raw text of the
// first choice. Failures come back as classified *LLMError values.
func (s *LLMService) generate(ctx context.Context, messages []chatMessage, responseFormat any) (string, error) {
	reqBody := chatRequest{
		Model:          s.config.Model,
		Messages:       messages,
		MaxTokens:      s.config.MaxOutputTokens,
		ResponseFormat: responseFormat,
	}

	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return "", classifyError(fmt.Errorf("failed to marshal request: %w", err))
	}

	endpoint := strings.TrimSuffix(s.config.Endpoint, "/") + "/v1/chat/completions"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(jsonData))
	if err != nil {
		return "", classifyError(fmt.Errorf("failed to create request: %w", err))
	}

	req.Header.Set("Authorization", "Bearer "+s.config.APIKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return "", classifyError(fmt.Errorf("failed to send request: %w", err))
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", classifyError(fmt.Errorf("failed to read response: %w", err))
	}

	if resp.StatusCode >= http.StatusBadRequest {
		return "", classifyError(fmt.Errorf("backend error %d: %s", resp.StatusCode, strings.TrimSpace(string(body))))
	}

	var result chatResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return "", classifyError(fmt.Errorf("failed to parse response: %w", err))
	}
	if result.Error != nil && result.Error.Message != "" {
		return "", classifyError(fmt.Errorf("backend error: %s", result.Error.Message))
	}
	if len(result.Choices) == 0 {
		return "", classifyError(errors.New("empty response from backend: missing required choices"))
	}

	return result.Choices[0].Message.Content, nil
}

// generateWithFallback is the soft-failure variant: any error degrades to
// the given fallback string.
func (s *LLMService) generateWithFallback(ctx context.Context, messages []chatMessage, fallback string) string {
	text, err := s.generate(ctx, messages, nil)
	if err != nil {
		logger.Warn(ctx, "conversational request failed, using fallback", "error", err)
		return fallback
	}
	if strings.TrimSpace(text) == "" {
		return fallback
	}
	return text
}

const analysisInstruction = `You are a legal document analyst. Read the attached document and produce a risk analysis as JSON.

Identify every clause that carries legal or financial risk for the signer. For each clause report its original text, a plain-language explanation, a risk level (Low, Medium or High), the specific risky keywords, and the reason it is risky. Also extract the complete text of the document.

Assign an overall risk score from 0 to 100 and an overall risk level. The level should reflect both the score and the severity of individual clauses.

If the document contains no legal terms at all (for example a receipt or a photo without contractual language), still return the full JSON structure with overallRisk "Low", riskScore 0, an empty clauses array, and a summary stating that no legal terms were found.`

// analysisSchema is the strict output schema for document analysis.
var analysisSchema = map[string]any{
	"type": "json_schema",
	"json_schema": map[string]any{
		"name":   "contract_analysis",
		"strict": true,
		"schema": map[string]any{
			"type": "object",
			"properties": map[string]any{
				"summary":     map[string]any{"type": "string"},
				"overallRisk": map[string]any{"type": "string", "enum": []string{"Low", "Medium", "High"}},
				"riskScore":   map[string]any{"type": "integer", "minimum": 0, "maximum": 100},
				"clauses": map[string]any{
					"type": "array",
					"items": map[string]any{
						"type": "object",
						"properties": map[string]any{
							"id":            map[string]any{"type": "string"},
							"text":          map[string]any{"type": "string"},
							"explanation":   map[string]any{"type": "string"},
							"riskLevel":     map[string]any{"type": "string", "enum": []string{"Low", "Medium", "High"}},
							"riskyKeywords": map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
							"reason":        map[string]any{"type": "string"},
						},
						"required":             []string{"id", "text", "explanation", "riskLevel", "riskyKeywords", "reason"},
						"additionalProperties": false,
					},
				},
				"fullText": map[string]any{"type": "string"},
			},
			"required":             []string{"summary", "overallRisk", "riskScore", "clauses", "fullText"},
			"additionalProperties": false,
		},
	},
}

// AnalyzeDocument sends document bytes for OCR and risk analysis. Hard-fails
// with a classified error; input validation never reaches the backend.
func (s *LLMService) AnalyzeDocument(ctx context.Context, data []byte, mimeType string) (*model.ContractAnalysis, error) {
	if len(data) == 0 {
		return nil, ErrEmptyDocument
	}
	if !AllowedMimeTypes[mimeType] {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedType, mimeType)
	}

	dataURL := fmt.Sprintf("data:%s;base64,%s", mimeType, base64.StdEncoding.EncodeToString(data))

	parts := []contentPart{{Type: "text", Text: analysisInstruction}}
	if mimeType == "application/pdf" {
		parts = append(parts, contentPart{
			Type: "file",
			File: &filePart{Filename: "document.pdf", FileData: dataURL},
		})
	} else {
		parts = append(parts, contentPart{
			Type:     "image_url",
			ImageURL: &imageURLPart{URL: dataURL},
		})
	}

	messages := []chatMessage{{Role: "user", Content: parts}}

	text, err := s.generate(ctx, messages, analysisSchema)
	if err != nil {
		return nil, err
	}

	var analysis model.ContractAnalysis
	if err := json.Unmarshal([]byte(stripCodeFences(text)), &analysis); err != nil {
		return nil, classifyError(fmt.Errorf("failed to unmarshal analysis: %w", err))
	}
	if err := validateAnalysis(&analysis); err != nil {
		return nil, &LLMError{Kind: ErrKindMalformed, Message: userMessages[ErrKindMalformed], Err: err}
	}

	return &analysis, nil
}

func validateAnalysis(a *model.ContractAnalysis) error {
	if strings.TrimSpace(a.Summary) == "" {
		return errors.New("missing required field summary")
	}
	if !a.OverallRisk.Valid() {
		return fmt.Errorf("missing required field overallRisk: %q", a.OverallRisk)
	}
	if a.RiskScore < 0 || a.RiskScore > 100 {
		return fmt.Errorf("riskScore out of range: %d", a.RiskScore)
	}
	if a.Clauses == nil {
		a.Clauses = []model.Clause{}
	}
	for i := range a.Clauses {
		if !a.Clauses[i].RiskLevel.Valid() {
			return fmt.Errorf("clause %d has invalid riskLevel %q", i, a.Clauses[i].RiskLevel)
		}
	}
	return nil
}

// AnswerClauseQuestion answers a question about a single clause. Soft-fail:
// it always returns a string.
func (s *LLMService) AnswerClauseQuestion(ctx context.Context, clauseText, question string) string {
	prompt := fmt.Sprintf(`A user is reviewing this contract clause:

"%s"

They asked: %s

Answer concisely in plain language, focusing on what the clause means for the signer.`, clauseText, question)

	messages := []chatMessage{{Role: "user", Content: prompt}}
	return s.generateWithFallback(ctx, messages, apologyMessage)
}

// SendChatMessage continues a free-form conversation, optionally grounded in a
// contract's extracted text. Only the most recent turns are sent. Soft-fail.
func (s *LLMService) SendChatMessage(ctx context.Context, history []ChatTurn, message, contractContext string) string {
	system := "You are a helpful assistant that answers questions about contracts and legal documents in plain language."
	if contractContext != "" {
		system += "\n\nThe user is currently reviewing this document:\n" + contractContext
	}

	messages := []chatMessage{{Role: "system", Content: system}}
	messages = append(messages, historyMessages(history)...)
	messages = append(messages, chatMessage{Role: "user", Content: message})

	return s.generateWithFallback(ctx, messages, apologyMessage)
}

// historyMessages converts the bounded tail of a conversation to wire messages.
func historyMessages(history []ChatTurn) []chatMessage {
	if len(history) > chatHistoryWindow {
		history = history[len(history)-chatHistoryWindow:]
	}
	out := make([]chatMessage, 0, len(history))
	for _, turn := range history {
		role := "user"
		if turn.Role == "model" {
			role = "assistant"
		}
		out = append(out, chatMessage{Role: role, Content: turn.Text})
	}
	return out
}

var comparisonSchema = map[string]any{
	"type": "json_schema",
	"json_schema": map[string]any{
		"name":   "contract_comparison",
		"strict": true,
		"schema": map[string]any{
			"type": "object",
			"properties": map[string]any{
				"recommendedId":  map[string]any{"type": "string"},
				"reasoning":      map[string]any{"type": "string"},
				"keyDifferences": map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
			},
			"required":             []string{"recommendedId", "reasoning", "keyDifferences"},
			"additionalProperties": false,
		},
	},
}

// CompareContracts requests a cross-document comparison. Primary-path
// operation: failures propagate as classified errors.
func (s *LLMService) CompareContracts(ctx context.Context, contracts []model.Contract) (*model.ComparisonResult, error) {
	if len(contracts) < 2 || len(contracts) > 3 {
		return nil, fmt.Errorf("comparison requires 2 or 3 contracts, got %d", len(contracts))
	}

	var sb strings.Builder
	sb.WriteString("Compare the following analyzed contracts and recommend which one the user should sign. Report the key differences between them.\n")
	for _, c := range contracts {
		sb.WriteString(fmt.Sprintf("\n--- Contract id=%s (%s) ---\n", c.ID, c.FileName))
		sb.WriteString(contractDigest(&c))
	}
	sb.WriteString("\nRespond as JSON. recommendedId must be the id of one of the contracts above.")

	messages := []chatMessage{{Role: "user", Content: sb.String()}}

	text, err := s.generate(ctx, messages, comparisonSchema)
	if err != nil {
		return nil, err
	}

	var result model.ComparisonResult
	if err := json.Unmarshal([]byte(stripCodeFences(text)), &result); err != nil {
		return nil, classifyError(fmt.Errorf("failed to unmarshal comparison: %w", err))
	}
	if result.Reasoning == "" && len(result.KeyDifferences) == 0 {
		return nil, &LLMError{Kind: ErrKindMalformed, Message: userMessages[ErrKindMalformed],
			Err: errors.New("comparison missing required fields")}
	}

	return &result, nil
}

// QueryComparisonDifference answers a follow-up question scoped to one
// identified difference. Soft-fail.
func (s *LLMService) QueryComparisonDifference(ctx context.Context, history []ChatTurn, message string, contracts []model.Contract, difference string) string {
	var sb strings.Builder
	sb.WriteString("You are helping a user compare contracts. The conversation is scoped to this specific difference between them:\n\n")
	sb.WriteString(difference)
	sb.WriteString("\n\nThe contracts under comparison:\n")
	for _, c := range contracts {
		sb.WriteString(fmt.Sprintf("\n--- Contract id=%s (%s) ---\n", c.ID, c.FileName))
		sb.WriteString(contractDigest(&c))
	}

	messages := []chatMessage{{Role: "system", Content: sb.String()}}
	messages = append(messages, historyMessages(history)...)
	messages = append(messages, chatMessage{Role: "user", Content: message})

	return s.generateWithFallback(ctx, messages, apologyMessage)
}

// contractDigest summarizes an analyzed contract for use inside a prompt.
func contractDigest(c *model.Contract) string {
	if c.Analysis == nil {
		return "(no analysis available)\n"
	}
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Summary: %s\nOverall risk: %s (score %d)\n",
		c.Analysis.Summary, c.Analysis.OverallRisk, c.Analysis.RiskScore))
	for _, clause := range c.Analysis.Clauses {
		sb.WriteString(fmt.Sprintf("- [%s] %s: %s\n", clause.RiskLevel, clause.ID, clause.Explanation))
	}
	return sb.String()
}

// stripCodeFences removes a surrounding markdown code fence, which some
// models emit even when asked for bare JSON.
func stripCodeFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	// Drop an optional language tag on the fence line
	if idx := strings.Index(s, "\n"); idx >= 0 {
		s = s[idx+1:]
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
