package service

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/clausecheck/backend/model"
	"github.com/clausecheck/backend/pkg/logger"
	"github.com/google/uuid"
)

// FileStatus is the per-file lifecycle state within a batch.
type FileStatus string

const (
	FilePending    FileStatus = "pending"
	FileProcessing FileStatus = "processing"
	FileSuccess    FileStatus = "success"
	FileError      FileStatus = "error"
)

// savedButFailedMessage marks the partial-success case: the analysis
// completed but persisting the contract did not.
const savedButFailedMessage = "analyzed but failed to save"

// DocumentAnalyzer is the analysis backend as seen by the orchestrator.
type DocumentAnalyzer interface {
	AnalyzeDocument(ctx context.Context, data []byte, mimeType string) (*model.ContractAnalysis, error)
}

// ContractPersister is the slice of the store the orchestrator needs.
type ContractPersister interface {
	SaveContract(c model.Contract) error
	PushRecentAnalysis(entry model.RecentAnalysis)
}

// BatchFile is one file inside an upload batch.
type BatchFile struct {
	ID       string          `json:"id"`
	FileName string          `json:"fileName"`
	MimeType string          `json:"mimeType"`
	Size     int64           `json:"size"`
	Data     []byte          `json:"-"`
	Status   FileStatus      `json:"status"`
	Error    string          `json:"error,omitempty"`
	Contract *model.Contract `json:"contract,omitempty"`
}

// Batch is a set of files moving together from upload to analysis.
type Batch struct {
	ID              string      `json:"id"`
	UserID          string      `json:"userId"`
	Files           []BatchFile `json:"files"`
	ValidationError string      `json:"validationError,omitempty"`
	CreatedAt       time.Time   `json:"createdAt"`
}

var (
	ErrBatchNotFound    = errors.New("batch not found")
	ErrFileNotFound     = errors.New("file not found in batch")
	ErrFileNotRemovable = errors.New("file can only be removed while pending or failed")
	ErrFileNotRetryable = errors.New("only failed files can be retried")
	ErrBatchBusy        = errors.New("batch has files still processing")
)

// BatchManager owns the in-memory upload batches. All status updates replace
// the file list as a whole under the lock, never mutate entries in place;
// interleaved completions must not lose updates.
type BatchManager struct {
	mu       sync.RWMutex
	batches  map[string]*Batch
	analyzer DocumentAnalyzer
	store    ContractPersister
}

func NewBatchManager(analyzer DocumentAnalyzer, store ContractPersister) *BatchManager {
	return &BatchManager{
		batches:  make(map[string]*Batch),
		analyzer: analyzer,
		store:    store,
	}
}

// Create starts an empty batch for a user.
func (m *BatchManager) Create(userID string) Batch {
	m.mu.Lock()
	defer m.mu.Unlock()

	batch := &Batch{
		ID:        uuid.New().String(),
		UserID:    userID,
		Files:     []BatchFile{},
		CreatedAt: time.Now(),
	}
	m.batches[batch.ID] = batch
	return snapshot(batch)
}

// Get returns a copy of the batch, scoped to its owner.
func (m *BatchManager) Get(batchID, userID string) (Batch, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	batch, ok := m.batches[batchID]
	if !ok || batch.UserID != userID {
		return Batch{}, ErrBatchNotFound
	}
	return snapshot(batch), nil
}

// AddFile validates and appends a file. Invalid files are dropped and the
// returned message names the file; a new validation error replaces any
// previous one on the batch.
func (m *BatchManager) AddFile(batchID, userID, fileName, mimeType string, data []byte) (Batch, string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	batch, ok := m.batches[batchID]
	if !ok || batch.UserID != userID {
		return Batch{}, "", ErrBatchNotFound
	}

	var rejection string
	switch {
	case !AllowedMimeTypes[mimeType]:
		rejection = fmt.Sprintf("%s is not a supported file type. Upload a PDF, JPEG, PNG or WEBP document.", fileName)
	case int64(len(data)) > MaxFileSize:
		rejection = fmt.Sprintf("%s exceeds the 20 MiB size limit.", fileName)
	}

	if rejection != "" {
		batch.ValidationError = rejection
		return snapshot(batch), rejection, nil
	}

	batch.Files = append(batch.Files, BatchFile{
		ID:       uuid.New().String(),
		FileName: fileName,
		MimeType: mimeType,
		Size:     int64(len(data)),
		Data:     data,
		Status:   FilePending,
	})
	return snapshot(batch), "", nil
}

// RemoveFile drops a file from the batch. Allowed only while the file is
// pending or failed; removal clears the batch validation error.
func (m *BatchManager) RemoveFile(batchID, userID, fileID string) (Batch, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	batch, ok := m.batches[batchID]
	if !ok || batch.UserID != userID {
		return Batch{}, ErrBatchNotFound
	}

	idx := -1
	for i := range batch.Files {
		if batch.Files[i].ID == fileID {
			idx = i
			break
		}
	}
	if idx < 0 {
		return Batch{}, ErrFileNotFound
	}
	if s := batch.Files[idx].Status; s != FilePending && s != FileError {
		return Batch{}, ErrFileNotRemovable
	}

	next := make([]BatchFile, 0, len(batch.Files)-1)
	next = append(next, batch.Files[:idx]...)
	next = append(next, batch.Files[idx+1:]...)
	batch.Files = next
	batch.ValidationError = ""

	return snapshot(batch), nil
}

// Clear removes every file from the batch. Refused while any file is
// processing.
func (m *BatchManager) Clear(batchID, userID string) (Batch, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	batch, ok := m.batches[batchID]
	if !ok || batch.UserID != userID {
		return Batch{}, ErrBatchNotFound
	}
	for i := range batch.Files {
		if batch.Files[i].Status == FileProcessing {
			return Batch{}, ErrBatchBusy
		}
	}

	batch.Files = []BatchFile{}
	batch.ValidationError = ""
	return snapshot(batch), nil
}

// fileOutcome is the settled result of one file's analysis attempt.
type fileOutcome struct {
	fileID   string
	status   FileStatus
	errMsg   string
	contract *model.Contract
}

// AnalyzeAll analyzes every pending or failed file in the batch. All targeted
// files are marked processing before any request is issued, every analysis
// runs concurrently, and file statuses are updated in one combined transition
// after all requests settle. If the batch contained exactly one file and it
// succeeded, that file's Contract is returned as the navigation target.
func (m *BatchManager) AnalyzeAll(ctx context.Context, batchID, userID string) (Batch, *model.Contract, error) {
	m.mu.Lock()
	batch, ok := m.batches[batchID]
	if !ok || batch.UserID != userID {
		m.mu.Unlock()
		return Batch{}, nil, ErrBatchNotFound
	}

	singleFile := len(batch.Files) == 1

	var targets []BatchFile
	next := make([]BatchFile, len(batch.Files))
	copy(next, batch.Files)
	for i := range next {
		if next[i].Status == FilePending || next[i].Status == FileError {
			next[i].Status = FileProcessing
			next[i].Error = ""
			targets = append(targets, next[i])
		}
	}
	batch.Files = next
	m.mu.Unlock()

	if len(targets) == 0 {
		b, err := m.Get(batchID, userID)
		return b, nil, err
	}

	// Launch all analyses without waiting on one another; join before any
	// state is applied so completions never render piecemeal.
	outcomes := make([]fileOutcome, len(targets))
	var wg sync.WaitGroup
	for i, f := range targets {
		wg.Add(1)
		go func(i int, f BatchFile) {
			defer wg.Done()
			outcomes[i] = m.analyzeOne(ctx, userID, f)
		}(i, f)
	}
	wg.Wait()

	m.applyOutcomes(batchID, outcomes)

	b, err := m.Get(batchID, userID)
	if err != nil {
		return Batch{}, nil, err
	}

	if singleFile && len(outcomes) == 1 && outcomes[0].status == FileSuccess {
		return b, outcomes[0].contract, nil
	}
	return b, nil, nil
}

// RetryFile re-runs analysis for a single failed file, leaving every other
// file untouched.
func (m *BatchManager) RetryFile(ctx context.Context, batchID, userID, fileID string) (Batch, error) {
	m.mu.Lock()
	batch, ok := m.batches[batchID]
	if !ok || batch.UserID != userID {
		m.mu.Unlock()
		return Batch{}, ErrBatchNotFound
	}

	var target *BatchFile
	next := make([]BatchFile, len(batch.Files))
	copy(next, batch.Files)
	for i := range next {
		if next[i].ID == fileID {
			if next[i].Status != FileError {
				m.mu.Unlock()
				return Batch{}, ErrFileNotRetryable
			}
			next[i].Status = FileProcessing
			next[i].Error = ""
			f := next[i]
			target = &f
			break
		}
	}
	if target == nil {
		m.mu.Unlock()
		return Batch{}, ErrFileNotFound
	}
	batch.Files = next
	m.mu.Unlock()

	outcome := m.analyzeOne(ctx, userID, *target)
	m.applyOutcomes(batchID, []fileOutcome{outcome})

	return m.Get(batchID, userID)
}

// analyzeOne runs the full analyze-then-persist pipeline for one file.
func (m *BatchManager) analyzeOne(ctx context.Context, userID string, f BatchFile) fileOutcome {
	analysis, err := m.analyzer.AnalyzeDocument(ctx, f.Data, f.MimeType)
	if err != nil {
		logger.Warn(ctx, "document analysis failed", "file", f.FileName, "error", err)
		return fileOutcome{fileID: f.ID, status: FileError, errMsg: surfaceMessage(err)}
	}

	contract := &model.Contract{
		ID:         uuid.New().String(),
		UserID:     userID,
		FileName:   f.FileName,
		UploadDate: time.Now(),
		Status:     model.StatusAnalyzed,
		Analysis:   analysis,
		FileData:   base64.StdEncoding.EncodeToString(f.Data),
		MimeType:   f.MimeType,
	}

	if err := m.store.SaveContract(*contract); err != nil {
		// Partial success: the analysis is kept on the outcome so the caller
		// still sees the result, but the file surfaces as an error because
		// its saved guarantee is lost.
		logger.Error(ctx, "failed to persist analyzed contract", "file", f.FileName, "error", err)
		return fileOutcome{fileID: f.ID, status: FileError, errMsg: savedButFailedMessage, contract: contract}
	}

	m.store.PushRecentAnalysis(recentEntry(contract))

	return fileOutcome{fileID: f.ID, status: FileSuccess, contract: contract}
}

// applyOutcomes folds settled results into the batch in a single whole-list
// replacement.
func (m *BatchManager) applyOutcomes(batchID string, outcomes []fileOutcome) {
	m.mu.Lock()
	defer m.mu.Unlock()

	batch, ok := m.batches[batchID]
	if !ok {
		return
	}

	byID := make(map[string]fileOutcome, len(outcomes))
	for _, o := range outcomes {
		byID[o.fileID] = o
	}

	next := make([]BatchFile, len(batch.Files))
	copy(next, batch.Files)
	for i := range next {
		if o, ok := byID[next[i].ID]; ok {
			next[i].Status = o.status
			next[i].Error = o.errMsg
			next[i].Contract = o.contract
		}
	}
	batch.Files = next
}

// surfaceMessage picks the user-facing text for a failed analysis.
func surfaceMessage(err error) string {
	var le *LLMError
	if errors.As(err, &le) {
		return le.Message
	}
	return err.Error()
}

func recentEntry(c *model.Contract) model.RecentAnalysis {
	return model.RecentAnalysis{
		ID:          c.ID,
		Name:        c.FileName,
		CreatedAt:   c.UploadDate,
		SourceType:  "file",
		FileName:    c.FileName,
		RawText:     c.Analysis.FullText,
		RiskScore:   c.Analysis.RiskScore,
		RiskSummary: fmt.Sprintf("%s risk (%d/100)", c.Analysis.OverallRisk, c.Analysis.RiskScore),
		Summary:     []string{c.Analysis.Summary},
		Clauses:     c.Analysis.Clauses,
	}
}

// snapshot copies a batch so callers never share the manager's slices.
func snapshot(b *Batch) Batch {
	out := *b
	out.Files = make([]BatchFile, len(b.Files))
	copy(out.Files, b.Files)
	return out
}
