package handler

import (
	"errors"
	"net/http"

	"github.com/clausecheck/backend/middleware"
	"github.com/clausecheck/backend/model"
	"github.com/clausecheck/backend/service"
	"github.com/gin-gonic/gin"
)

type CompareHandler struct {
	compare *service.CompareManager
	store   *service.Store
}

func NewCompareHandler(compare *service.CompareManager, store *service.Store) *CompareHandler {
	return &CompareHandler{compare: compare, store: store}
}

type CompareRequest struct {
	ContractIDs []string `json:"contractIds" binding:"required"`
}

// Start opens a comparison session over 2-3 of the user's analyzed
// contracts. Comparison failures are hard errors, unlike chat.
func (h *CompareHandler) Start(c *gin.Context) {
	userID := middleware.GetUserID(c)

	var req CompareRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}
	if len(req.ContractIDs) < 2 || len(req.ContractIDs) > 3 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Select 2 or 3 contracts to compare"})
		return
	}

	contracts := make([]model.Contract, 0, len(req.ContractIDs))
	for _, id := range req.ContractIDs {
		contract := h.store.ContractByID(userID, id)
		if contract == nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "Contract not found: " + id})
			return
		}
		contracts = append(contracts, *contract)
	}

	session, err := h.compare.Start(c.Request.Context(), userID, contracts)
	if err != nil {
		status := http.StatusBadGateway
		var le *service.LLMError
		if !errors.As(err, &le) {
			status = http.StatusBadRequest
		}
		c.JSON(status, gin.H{"error": surfaceError(err)})
		return
	}

	c.JSON(http.StatusOK, session)
}

// Get returns the session state.
func (h *CompareHandler) Get(c *gin.Context) {
	session, err := h.compare.Get(c.Param("id"), middleware.GetUserID(c))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Comparison session not found"})
		return
	}
	c.JSON(http.StatusOK, session)
}

type FocusRequest struct {
	Index *int `json:"index" binding:"required"`
}

// Focus selects one key difference and returns its briefing. The briefing is
// generated at most once per difference.
func (h *CompareHandler) Focus(c *gin.Context) {
	var req FocusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}

	briefing, err := h.compare.FocusDifference(c.Request.Context(), c.Param("id"), middleware.GetUserID(c), *req.Index)
	if err != nil {
		status := http.StatusNotFound
		if errors.Is(err, service.ErrBadDifferenceIndex) {
			status = http.StatusBadRequest
		}
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"briefing": briefing})
}

type FollowUpRequest struct {
	Question string `json:"question" binding:"required"`
}

// Ask continues the focused-difference conversation.
func (h *CompareHandler) Ask(c *gin.Context) {
	var req FollowUpRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}

	answer, err := h.compare.AskFollowUp(c.Request.Context(), c.Param("id"), middleware.GetUserID(c), req.Question)
	if err != nil {
		status := http.StatusNotFound
		if errors.Is(err, service.ErrNoFocusedDifference) {
			status = http.StatusConflict
		}
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"answer": answer})
}

// surfaceError extracts the user-facing message from a classified error.
func surfaceError(err error) string {
	var le *service.LLMError
	if errors.As(err, &le) {
		return le.Message
	}
	return err.Error()
}
