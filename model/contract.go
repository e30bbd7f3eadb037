package model

import (
	"strings"
	"time"
)

// User is an application user. ID is the normalized email address.
type User struct {
	ID    string `json:"id"`
	Email string `json:"email"`
	Name  string `json:"name"`
}

// NormalizeEmail produces the canonical user ID for an email address.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// Contract represents an analyzed contract document
type Contract struct {
	ID         string            `json:"id"`
	UserID     string            `json:"userId"`
	FileName   string            `json:"fileName"`
	UploadDate time.Time         `json:"uploadDate"`
	Status     string            `json:"status"` // pending, analyzed, error
	Analysis   *ContractAnalysis `json:"analysis,omitempty"`
	FileData   string            `json:"fileData,omitempty"` // base64-encoded original
	MimeType   string            `json:"mimeType,omitempty"`
}

// Contract status constants
const (
	StatusPending  = "pending"
	StatusAnalyzed = "analyzed"
	StatusError    = "error"
)

// ContractAnalysis is the structured result returned by the analysis backend.
type ContractAnalysis struct {
	Summary     string    `json:"summary"`
	OverallRisk RiskLevel `json:"overallRisk"`
	RiskScore   int       `json:"riskScore"`
	Clauses     []Clause  `json:"clauses"`
	FullText    string    `json:"fullText,omitempty"`
}

// IsLikelyNonContract reports whether the backend classified the document as
// containing no legal terms. The backend signals this with a zero score and
// no clauses rather than an error, so callers must not key off RiskScore alone.
func (a *ContractAnalysis) IsLikelyNonContract() bool {
	return a.RiskScore == 0 && len(a.Clauses) == 0 && a.OverallRisk == RiskLow
}

// Clause is a single annotated clause within a contract.
// ConversationHistory grows by append only.
type Clause struct {
	ID                  string    `json:"id"`
	Text                string    `json:"text"`
	Explanation         string    `json:"explanation"`
	RiskLevel           RiskLevel `json:"riskLevel"`
	RiskyKeywords       []string  `json:"riskyKeywords"`
	Reason              string    `json:"reason"`
	ConversationHistory []QAPair  `json:"conversationHistory,omitempty"`
}

// QAPair is one question/answer exchange about a clause. Immutable once created.
type QAPair struct {
	Question  string    `json:"question"`
	Answer    string    `json:"answer"`
	Timestamp time.Time `json:"timestamp"`
}

// RecentAnalysis is a denormalized cache entry in the recent-analyses list.
type RecentAnalysis struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	CreatedAt   time.Time `json:"createdAt"`
	SourceType  string    `json:"sourceType"`
	FileName    string    `json:"fileName,omitempty"`
	RawText     string    `json:"rawText"`
	RiskScore   int       `json:"riskScore"`
	RiskSummary string    `json:"riskSummary"`
	Summary     []string  `json:"summary"`
	Clauses     []Clause  `json:"clauses"`
}

// ComparisonResult is the outcome of comparing 2-3 contracts. Not persisted.
type ComparisonResult struct {
	RecommendedID  string   `json:"recommendedId"`
	Reasoning      string   `json:"reasoning"`
	KeyDifferences []string `json:"keyDifferences"`
}
