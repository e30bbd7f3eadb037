package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/clausecheck/backend/model"
	"github.com/clausecheck/backend/pkg/logger"
	"github.com/google/uuid"
)

// differenceBriefingQuery is the synthetic first question issued when a
// difference is focused.
const differenceBriefingQuery = "Brief me on this difference and why it matters when choosing between these contracts."

// ContractComparer is the comparison backend as seen by the orchestrator.
type ContractComparer interface {
	CompareContracts(ctx context.Context, contracts []model.Contract) (*model.ComparisonResult, error)
	QueryComparisonDifference(ctx context.Context, history []ChatTurn, message string, contracts []model.Contract, difference string) string
}

var (
	ErrSessionNotFound     = errors.New("comparison session not found")
	ErrNoFocusedDifference = errors.New("no difference is focused")
	ErrBadDifferenceIndex  = errors.New("difference index out of range")
)

// CompareSession is one live comparison of 2-3 contracts. Ephemeral: sessions
// are never persisted.
type CompareSession struct {
	ID           string                  `json:"id"`
	UserID       string                  `json:"-"`
	Contracts    []model.Contract        `json:"-"`
	Result       *model.ComparisonResult `json:"result"`
	Recommended  *model.Contract         `json:"recommended"`
	FocusedIndex int                     `json:"focusedIndex"` // -1 when nothing is focused
	CreatedAt    time.Time               `json:"createdAt"`

	history   []ChatTurn
	briefings map[int]string
}

// CompareManager runs comparison sessions against the analysis backend.
type CompareManager struct {
	mu       sync.Mutex
	sessions map[string]*CompareSession
	comparer ContractComparer
}

func NewCompareManager(comparer ContractComparer) *CompareManager {
	return &CompareManager{
		sessions: make(map[string]*CompareSession),
		comparer: comparer,
	}
}

// Start opens a session over 2-3 already-analyzed contracts. Comparison is a
// primary-path operation: backend failures propagate and the session is not
// created.
func (m *CompareManager) Start(ctx context.Context, userID string, contracts []model.Contract) (CompareSession, error) {
	if len(contracts) < 2 || len(contracts) > 3 {
		return CompareSession{}, fmt.Errorf("comparison requires 2 or 3 contracts, got %d", len(contracts))
	}
	for _, c := range contracts {
		if c.Status != model.StatusAnalyzed || c.Analysis == nil {
			return CompareSession{}, fmt.Errorf("contract %s has not been analyzed", c.ID)
		}
	}

	result, err := m.comparer.CompareContracts(ctx, contracts)
	if err != nil {
		return CompareSession{}, err
	}

	session := &CompareSession{
		ID:           uuid.New().String(),
		UserID:       userID,
		Contracts:    contracts,
		Result:       result,
		Recommended:  resolveRecommended(result.RecommendedID, contracts),
		FocusedIndex: -1,
		CreatedAt:    time.Now(),
		briefings:    make(map[int]string),
	}

	m.mu.Lock()
	m.sessions[session.ID] = session
	m.mu.Unlock()

	return snapshotSession(session), nil
}

// Get returns a copy of the session scoped to its owner.
func (m *CompareManager) Get(sessionID, userID string) (CompareSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	session, ok := m.sessions[sessionID]
	if !ok || session.UserID != userID {
		return CompareSession{}, ErrSessionNotFound
	}
	return snapshotSession(session), nil
}

// FocusDifference selects one key difference for a scoped sub-conversation
// and returns its briefing. The briefing is requested at most once per
// difference; refocusing returns the stored text without a new backend call.
func (m *CompareManager) FocusDifference(ctx context.Context, sessionID, userID string, index int) (string, error) {
	m.mu.Lock()
	session, ok := m.sessions[sessionID]
	if !ok || session.UserID != userID {
		m.mu.Unlock()
		return "", ErrSessionNotFound
	}
	if index < 0 || index >= len(session.Result.KeyDifferences) {
		m.mu.Unlock()
		return "", ErrBadDifferenceIndex
	}

	if briefing, done := session.briefings[index]; done {
		session.FocusedIndex = index
		m.mu.Unlock()
		return briefing, nil
	}

	difference := session.Result.KeyDifferences[index]
	contracts := session.Contracts
	m.mu.Unlock()

	// Soft-fail call; always yields a string.
	briefing := m.comparer.QueryComparisonDifference(ctx, nil, differenceBriefingQuery, contracts, difference)

	m.mu.Lock()
	defer m.mu.Unlock()
	session.FocusedIndex = index
	session.briefings[index] = briefing
	session.history = []ChatTurn{
		{Role: "user", Text: differenceBriefingQuery},
		{Role: "model", Text: briefing},
	}
	return briefing, nil
}

// AskFollowUp continues the conversation about the focused difference.
// Soft-fail: the reply is always a string once a difference is focused.
func (m *CompareManager) AskFollowUp(ctx context.Context, sessionID, userID, question string) (string, error) {
	m.mu.Lock()
	session, ok := m.sessions[sessionID]
	if !ok || session.UserID != userID {
		m.mu.Unlock()
		return "", ErrSessionNotFound
	}
	if session.FocusedIndex < 0 {
		m.mu.Unlock()
		return "", ErrNoFocusedDifference
	}

	difference := session.Result.KeyDifferences[session.FocusedIndex]
	contracts := session.Contracts
	history := make([]ChatTurn, len(session.history))
	copy(history, session.history)
	m.mu.Unlock()

	answer := m.comparer.QueryComparisonDifference(ctx, history, question, contracts, difference)

	m.mu.Lock()
	defer m.mu.Unlock()
	session.history = append(session.history,
		ChatTurn{Role: "user", Text: question},
		ChatTurn{Role: "model", Text: answer},
	)
	return answer, nil
}

// snapshotSession copies a session so callers never share the manager's
// struct. The conversation state stays behind the lock.
func snapshotSession(s *CompareSession) CompareSession {
	out := *s
	out.history = nil
	out.briefings = nil
	return out
}

// resolveRecommended matches the backend's recommendation against the input
// contracts, defaulting to the first contract when nothing matches.
func resolveRecommended(recommendedID string, contracts []model.Contract) *model.Contract {
	for i := range contracts {
		if contracts[i].ID == recommendedID {
			return &contracts[i]
		}
	}
	logger.Warn(context.Background(), "recommended contract not in comparison set, defaulting to first",
		"recommended_id", recommendedID)
	return &contracts[0]
}
