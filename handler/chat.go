package handler

import (
	"context"
	"net/http"

	"github.com/clausecheck/backend/middleware"
	"github.com/clausecheck/backend/service"
	"github.com/gin-gonic/gin"
)

// ChatClient is the conversational slice of the analysis backend.
type ChatClient interface {
	SendChatMessage(ctx context.Context, history []service.ChatTurn, message, contractContext string) string
}

type ChatHandler struct {
	chat  ChatClient
	store *service.Store
}

func NewChatHandler(chat ChatClient, store *service.Store) *ChatHandler {
	return &ChatHandler{chat: chat, store: store}
}

type ChatRequest struct {
	History    []service.ChatTurn `json:"history"`
	Message    string             `json:"message" binding:"required"`
	ContractID string             `json:"contractId"`
}

// Send answers a free-form chat message, optionally grounded in one of the
// user's contracts. The reply is always a string; backend failures degrade
// to an apology rather than an error.
func (h *ChatHandler) Send(c *gin.Context) {
	var req ChatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}

	contractContext := ""
	if req.ContractID != "" {
		contract := h.store.ContractByID(middleware.GetUserID(c), req.ContractID)
		if contract == nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "Contract not found"})
			return
		}
		if contract.Analysis != nil {
			contractContext = contract.Analysis.FullText
			if contractContext == "" {
				contractContext = contract.Analysis.Summary
			}
		}
	}

	reply := h.chat.SendChatMessage(c.Request.Context(), req.History, req.Message, contractContext)
	c.JSON(http.StatusOK, gin.H{"reply": reply})
}
