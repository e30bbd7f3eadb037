package handler

import (
	"net/http"
	"sync"

	"github.com/clausecheck/backend/middleware"
	"github.com/clausecheck/backend/view"
	"github.com/gin-gonic/gin"
)

// SessionHandler keeps each user's view state server-side so every screen
// change runs through the view dispatcher.
type SessionHandler struct {
	mu     sync.Mutex
	states map[string]view.State
}

func NewSessionHandler() *SessionHandler {
	return &SessionHandler{states: make(map[string]view.State)}
}

// GetView returns the user's current view state.
func (h *SessionHandler) GetView(c *gin.Context) {
	userID := middleware.GetUserID(c)

	h.mu.Lock()
	state, ok := h.states[userID]
	h.mu.Unlock()
	if !ok {
		state = view.Initial()
	}

	c.JSON(http.StatusOK, state)
}

// Navigate applies one view transition. Invalid transitions leave the state
// unchanged and report the reason.
func (h *SessionHandler) Navigate(c *gin.Context) {
	userID := middleware.GetUserID(c)

	var t view.Transition
	if err := c.ShouldBindJSON(&t); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}

	h.mu.Lock()
	current, ok := h.states[userID]
	if !ok {
		current = view.Initial()
	}
	next, err := view.Apply(current, t)
	if err == nil {
		h.states[userID] = next
	}
	h.mu.Unlock()

	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error(), "state": current})
		return
	}
	c.JSON(http.StatusOK, next)
}
