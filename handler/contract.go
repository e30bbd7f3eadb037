package handler

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/clausecheck/backend/middleware"
	"github.com/clausecheck/backend/model"
	"github.com/clausecheck/backend/pkg/logger"
	"github.com/clausecheck/backend/service"
	"github.com/gin-gonic/gin"
)

// ClauseAnswerer answers a user question about one clause. Always returns a
// string; conversational failures never surface as errors.
type ClauseAnswerer interface {
	AnswerClauseQuestion(ctx context.Context, clauseText, question string) string
}

type ContractHandler struct {
	batches  *service.BatchManager
	store    *service.Store
	answerer ClauseAnswerer
	archive  *service.ArchiveService // nil when archiving is disabled
}

func NewContractHandler(batches *service.BatchManager, store *service.Store, answerer ClauseAnswerer, archive *service.ArchiveService) *ContractHandler {
	return &ContractHandler{
		batches:  batches,
		store:    store,
		answerer: answerer,
		archive:  archive,
	}
}

// CreateBatch opens an empty upload batch.
func (h *ContractHandler) CreateBatch(c *gin.Context) {
	batch := h.batches.Create(middleware.GetUserID(c))
	c.JSON(http.StatusOK, batch)
}

// GetBatch returns the batch with current per-file statuses.
func (h *ContractHandler) GetBatch(c *gin.Context) {
	batch, err := h.batches.Get(c.Param("id"), middleware.GetUserID(c))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Batch not found"})
		return
	}
	c.JSON(http.StatusOK, batch)
}

// AddFile validates and appends an uploaded file to the batch. An invalid
// file is not an HTTP error: it is dropped and the rejection message is
// returned with the batch.
func (h *ContractHandler) AddFile(c *gin.Context) {
	userID := middleware.GetUserID(c)
	batchID := c.Param("id")

	file, header, err := c.Request.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "No file provided"})
		return
	}
	defer file.Close()

	// Read one byte past the ceiling so oversized uploads are caught without
	// buffering arbitrarily large bodies.
	data, err := io.ReadAll(io.LimitReader(file, service.MaxFileSize+1))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Failed to read file"})
		return
	}

	mimeType := header.Header.Get("Content-Type")
	if mimeType == "" || mimeType == "application/octet-stream" {
		mimeType = mimeTypeForExtension(header.Filename)
	}

	batch, rejection, err := h.batches.AddFile(batchID, userID, header.Filename, mimeType, data)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Batch not found"})
		return
	}

	resp := gin.H{"batch": batch}
	if rejection != "" {
		resp["rejected"] = rejection
	}
	c.JSON(http.StatusOK, resp)
}

// mimeTypeForExtension maps a filename to a content type for clients that
// upload without one.
func mimeTypeForExtension(name string) string {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".pdf":
		return "application/pdf"
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".png":
		return "image/png"
	case ".webp":
		return "image/webp"
	default:
		return "application/octet-stream"
	}
}

// AnalyzeBatch runs analysis for every pending or failed file. The response
// carries the settled batch; "contract" is set when a single-file batch
// succeeded and the client should navigate straight to it.
func (h *ContractHandler) AnalyzeBatch(c *gin.Context) {
	userID := middleware.GetUserID(c)
	batch, contract, err := h.batches.AnalyzeAll(c.Request.Context(), c.Param("id"), userID)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Batch not found"})
		return
	}

	h.archiveOriginals(c, userID, batch)

	resp := gin.H{"batch": batch}
	if contract != nil {
		resp["contract"] = contract
	}
	c.JSON(http.StatusOK, resp)
}

// archiveOriginals uploads the original bytes of freshly analyzed files to
// object storage, keyed by contract ID so they can be fetched later.
// Best-effort: the base64 copy embedded in the Contract stays authoritative.
func (h *ContractHandler) archiveOriginals(c *gin.Context, userID string, batch service.Batch) {
	if h.archive == nil {
		return
	}
	for _, f := range batch.Files {
		if f.Status != service.FileSuccess || f.Contract == nil {
			continue
		}
		objectName := service.ObjectName(userID, f.Contract.ID, f.FileName)
		if err := h.archive.Archive(c.Request.Context(), objectName, f.Data, f.MimeType); err != nil {
			logger.Warn(c.Request.Context(), "failed to archive original", "file", f.FileName, "error", err)
		}
	}
}

// RetryFile re-analyzes one failed file.
func (h *ContractHandler) RetryFile(c *gin.Context) {
	userID := middleware.GetUserID(c)
	batch, err := h.batches.RetryFile(c.Request.Context(), c.Param("id"), userID, c.Param("fileId"))
	if err != nil {
		status := http.StatusNotFound
		if errors.Is(err, service.ErrFileNotRetryable) {
			status = http.StatusConflict
		}
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}

	h.archiveOriginals(c, userID, batch)

	c.JSON(http.StatusOK, batch)
}

// RemoveFile drops a pending or failed file from the batch.
func (h *ContractHandler) RemoveFile(c *gin.Context) {
	batch, err := h.batches.RemoveFile(c.Param("id"), middleware.GetUserID(c), c.Param("fileId"))
	if err != nil {
		status := http.StatusNotFound
		if errors.Is(err, service.ErrFileNotRemovable) {
			status = http.StatusConflict
		}
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, batch)
}

// ClearBatch empties the batch, refused while files are processing.
func (h *ContractHandler) ClearBatch(c *gin.Context) {
	batch, err := h.batches.Clear(c.Param("id"), middleware.GetUserID(c))
	if err != nil {
		status := http.StatusNotFound
		if errors.Is(err, service.ErrBatchBusy) {
			status = http.StatusConflict
		}
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, batch)
}

// List returns the user's contracts without file payloads or full analyses.
func (h *ContractHandler) List(c *gin.Context) {
	userID := middleware.GetUserID(c)
	contracts := h.store.ContractsByUser(userID)

	result := make([]gin.H, len(contracts))
	for i, contract := range contracts {
		entry := gin.H{
			"id":         contract.ID,
			"fileName":   contract.FileName,
			"status":     contract.Status,
			"uploadDate": contract.UploadDate.Format(time.RFC3339),
		}
		if contract.Analysis != nil {
			entry["overallRisk"] = contract.Analysis.OverallRisk
			entry["riskScore"] = contract.Analysis.RiskScore
		}
		result[i] = entry
	}

	c.JSON(http.StatusOK, gin.H{"contracts": result})
}

// Get returns a single contract with its full analysis.
func (h *ContractHandler) Get(c *gin.Context) {
	contract := h.store.ContractByID(middleware.GetUserID(c), c.Param("id"))
	if contract == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Contract not found"})
		return
	}
	c.JSON(http.StatusOK, contract)
}

// Delete removes a contract and its archived original.
func (h *ContractHandler) Delete(c *gin.Context) {
	userID := middleware.GetUserID(c)

	contract := h.store.ContractByID(userID, c.Param("id"))
	if contract == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Contract not found"})
		return
	}

	if err := h.store.DeleteContract(userID, contract.ID); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to delete contract"})
		return
	}

	if h.archive != nil {
		objectName := service.ObjectName(userID, contract.ID, contract.FileName)
		if err := h.archive.Delete(c.Request.Context(), objectName); err != nil {
			logger.Warn(c.Request.Context(), "failed to delete archived original", "contract_id", contract.ID, "error", err)
		}
	}

	c.JSON(http.StatusOK, gin.H{"message": "Contract deleted"})
}

// OriginalURL returns a time-limited download link for the archived original
// document.
func (h *ContractHandler) OriginalURL(c *gin.Context) {
	userID := middleware.GetUserID(c)

	contract := h.store.ContractByID(userID, c.Param("id"))
	if contract == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Contract not found"})
		return
	}
	if h.archive == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Document archive is not configured"})
		return
	}

	objectName := service.ObjectName(userID, contract.ID, contract.FileName)
	url, err := h.archive.GetPresignedURL(c.Request.Context(), objectName)
	if err != nil {
		logger.Error(c.Request.Context(), "failed to presign archived original", "contract_id", contract.ID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to generate download link"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"url": url})
}

// Recents returns the bounded recent-analyses cache.
func (h *ContractHandler) Recents(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"recents": h.store.RecentAnalyses()})
}

type ClauseQuestionRequest struct {
	Question string `json:"question" binding:"required"`
}

// AskClauseQuestion answers a question about one clause and appends the
// exchange to the clause's conversation history. The reply itself never
// fails; only persistence of the transcript can.
func (h *ContractHandler) AskClauseQuestion(c *gin.Context) {
	userID := middleware.GetUserID(c)

	var req ClauseQuestionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}

	contract := h.store.ContractByID(userID, c.Param("id"))
	if contract == nil || contract.Analysis == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Contract not found"})
		return
	}

	clauseID := c.Param("clauseId")
	clauseIdx := -1
	for i := range contract.Analysis.Clauses {
		if contract.Analysis.Clauses[i].ID == clauseID {
			clauseIdx = i
			break
		}
	}
	if clauseIdx < 0 {
		c.JSON(http.StatusNotFound, gin.H{"error": "Clause not found"})
		return
	}

	clause := &contract.Analysis.Clauses[clauseIdx]
	answer := h.answerer.AnswerClauseQuestion(c.Request.Context(), clause.Text, req.Question)

	qa := model.QAPair{Question: req.Question, Answer: answer, Timestamp: time.Now()}
	clause.ConversationHistory = append(clause.ConversationHistory, qa)

	saved := true
	if err := h.store.SaveContract(*contract); err != nil {
		logger.Warn(c.Request.Context(), "failed to persist clause conversation", "contract_id", contract.ID, "error", err)
		saved = false
	}

	c.JSON(http.StatusOK, gin.H{"answer": answer, "saved": saved})
}

// Report streams the contract analysis as a PDF document.
func (h *ContractHandler) Report(c *gin.Context) {
	contract := h.store.ContractByID(middleware.GetUserID(c), c.Param("id"))
	if contract == nil || contract.Analysis == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Contract not found"})
		return
	}

	c.Header("Content-Type", "application/pdf")
	c.Header("Content-Disposition", fmt.Sprintf(`attachment; filename="%s-analysis.pdf"`, strings.TrimSuffix(contract.FileName, filepath.Ext(contract.FileName))))
	c.Status(http.StatusOK)

	if err := service.BuildReport(c.Writer, contract); err != nil {
		logger.Error(c.Request.Context(), "failed to render report", "contract_id", contract.ID, "error", err)
	}
}
