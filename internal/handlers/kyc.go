package handlers

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/lcourbet/promogate/internal/models"
	"github.com/lcourbet/promogate/internal/services"
	"github.com/lcourbet/promogate/internal/storage"
	appErrors "github.com/lcourbet/promogate/pkg/errors"
	"github.com/lcourbet/promogate/pkg/response"
)

type KYCHandler struct {
	kyc *services.KYCService
}

func NewKYCHandler(kyc *services.KYCService) *KYCHandler {
	return &KYCHandler{kyc: kyc}
}

type startKYCRequest struct {
	Type string `json:"type" validate:"required"`
}

type reviewKYCRequest struct {
	Notes string `json:"notes" validate:"omitempty,max=4000"`
}

type rejectKYCRequest struct {
	Reason string `json:"reason" validate:"required,max=4000"`
}

// POST /api/kyc
func (h *KYCHandler) Start(c *gin.Context) {
	userID := currentUserID(c)
	if userID == "" {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	var req startKYCRequest
	if !bindAndValidate(c, &req) {
		return
	}

	verificationType := models.KYCType(strings.ToUpper(strings.TrimSpace(req.Type)))
	required, err := models.RequiredDocuments(verificationType)
	if err != nil {
		response.Error(c, appErrors.NewBadRequest("unknown verification type"))
		return
	}

	verification, err := h.kyc.Start(requestContext(c), userID, verificationType)
	if err != nil {
		response.Error(c, mapKYCError(err))
		return
	}

	response.Success(c, http.StatusCreated, gin.H{
		"verification":       verification,
		"required_documents": required,
	})
}

// GET /api/kyc/status
func (h *KYCHandler) Status(c *gin.Context) {
	userID := currentUserID(c)
	if userID == "" {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	summary, err := h.kyc.Status(requestContext(c), userID)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, http.StatusOK, summary)
}

// POST /api/kyc/:id/documents
//
// Multipart form: file plus document metadata fields.
func (h *KYCHandler) UploadDocument(c *gin.Context) {
	verificationID := strings.TrimSpace(c.Param("id"))
	if verificationID == "" {
		response.Error(c, appErrors.NewBadRequest("verification id is required"))
		return
	}

	file, header, err := c.Request.FormFile("file")
	if err != nil {
		response.Error(c, appErrors.NewBadRequest("a document file is required"))
		return
	}
	defer file.Close()

	documentType := strings.ToUpper(strings.TrimSpace(c.PostForm("document_type")))
	if documentType == "" {
		response.Error(c, appErrors.NewBadRequest("document_type is required"))
		return
	}

	input := services.UploadDocumentInput{
		DocumentType:   documentType,
		FileName:       header.Filename,
		ContentType:    header.Header.Get("Content-Type"),
		DocumentNumber: strings.TrimSpace(c.PostForm("document_number")),
		IssuingCountry: strings.ToUpper(strings.TrimSpace(c.PostForm("issuing_country"))),
		IssueDate:      parseDateForm(c, "issue_date"),
		ExpiryDate:     parseDateForm(c, "expiry_date"),
	}

	document, err := h.kyc.UploadDocument(requestContext(c), verificationID, input, file)
	if err != nil {
		response.Error(c, mapKYCError(err))
		return
	}

	response.Success(c, http.StatusCreated, gin.H{"document": document})
}

// DELETE /api/kyc/:id/documents/:docID
func (h *KYCHandler) DeleteDocument(c *gin.Context) {
	verificationID := strings.TrimSpace(c.Param("id"))
	documentID := strings.TrimSpace(c.Param("docID"))
	if verificationID == "" || documentID == "" {
		response.Error(c, appErrors.NewBadRequest("verification and document ids are required"))
		return
	}

	if err := h.kyc.DeleteDocument(requestContext(c), verificationID, documentID); err != nil {
		response.Error(c, mapKYCError(err))
		return
	}

	response.Success(c, http.StatusOK, gin.H{"deleted": true})
}

// POST /api/kyc/:id/submit
func (h *KYCHandler) Submit(c *gin.Context) {
	verificationID := strings.TrimSpace(c.Param("id"))
	if verificationID == "" {
		response.Error(c, appErrors.NewBadRequest("verification id is required"))
		return
	}

	verification, err := h.kyc.SubmitForReview(requestContext(c), verificationID)
	if err != nil {
		response.Error(c, mapKYCError(err))
		return
	}

	response.Success(c, http.StatusOK, gin.H{"verification": verification})
}

// GET /api/kyc (admin)
func (h *KYCHandler) List(c *gin.Context) {
	filters := services.KYCListFilters{
		Status: models.KYCStatus(strings.ToUpper(strings.TrimSpace(c.Query("status")))),
		Type:   models.KYCType(strings.ToUpper(strings.TrimSpace(c.Query("type")))),
		UserID: strings.TrimSpace(c.Query("user_id")),
	}

	verifications, err := h.kyc.List(requestContext(c), filters)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"verifications": verifications})
}

// POST /api/kyc/:id/review (admin)
func (h *KYCHandler) MarkInReview(c *gin.Context) {
	verificationID := strings.TrimSpace(c.Param("id"))
	if verificationID == "" {
		response.Error(c, appErrors.NewBadRequest("verification id is required"))
		return
	}

	if err := h.kyc.MarkInReview(requestContext(c), verificationID, currentUserID(c)); err != nil {
		response.Error(c, mapKYCError(err))
		return
	}

	response.Success(c, http.StatusOK, gin.H{"status": models.KYCInReview})
}

// POST /api/kyc/:id/approve (admin)
func (h *KYCHandler) Approve(c *gin.Context) {
	verificationID := strings.TrimSpace(c.Param("id"))
	if verificationID == "" {
		response.Error(c, appErrors.NewBadRequest("verification id is required"))
		return
	}

	var req reviewKYCRequest
	if !bindAndValidate(c, &req) {
		return
	}

	verification, err := h.kyc.Approve(requestContext(c), verificationID, currentUserID(c), req.Notes)
	if err != nil {
		response.Error(c, mapKYCError(err))
		return
	}

	response.Success(c, http.StatusOK, gin.H{"verification": verification})
}

// POST /api/kyc/:id/reject (admin)
func (h *KYCHandler) Reject(c *gin.Context) {
	verificationID := strings.TrimSpace(c.Param("id"))
	if verificationID == "" {
		response.Error(c, appErrors.NewBadRequest("verification id is required"))
		return
	}

	var req rejectKYCRequest
	if !bindAndValidate(c, &req) {
		return
	}

	verification, err := h.kyc.Reject(requestContext(c), verificationID, currentUserID(c), req.Reason)
	if err != nil {
		response.Error(c, mapKYCError(err))
		return
	}

	response.Success(c, http.StatusOK, gin.H{"verification": verification})
}

// POST /api/kyc/:id/request-info (admin)
func (h *KYCHandler) RequestMoreInfo(c *gin.Context) {
	verificationID := strings.TrimSpace(c.Param("id"))
	if verificationID == "" {
		response.Error(c, appErrors.NewBadRequest("verification id is required"))
		return
	}

	var req reviewKYCRequest
	if !bindAndValidate(c, &req) {
		return
	}

	if err := h.kyc.RequestMoreInfo(requestContext(c), verificationID, currentUserID(c), req.Notes); err != nil {
		response.Error(c, mapKYCError(err))
		return
	}

	response.Success(c, http.StatusOK, gin.H{"status": models.KYCPending})
}

// POST /api/kyc/:id/documents/:docID/verify (admin)
func (h *KYCHandler) VerifyDocument(c *gin.Context) {
	verificationID := strings.TrimSpace(c.Param("id"))
	documentID := strings.TrimSpace(c.Param("docID"))
	if verificationID == "" || documentID == "" {
		response.Error(c, appErrors.NewBadRequest("verification and document ids are required"))
		return
	}

	if err := h.kyc.VerifyDocument(requestContext(c), verificationID, documentID, currentUserID(c)); err != nil {
		response.Error(c, mapKYCError(err))
		return
	}

	response.Success(c, http.StatusOK, gin.H{"verified": true})
}

func parseDateForm(c *gin.Context, key string) *time.Time {
	raw := strings.TrimSpace(c.PostForm(key))
	if raw == "" {
		return nil
	}
	parsed, err := time.Parse("2006-01-02", raw)
	if err != nil {
		return nil
	}
	return &parsed
}

func mapKYCError(err error) error {
	switch {
	case errors.Is(err, services.ErrKYCNotFound), errors.Is(err, services.ErrKYCDocumentNotFound):
		return appErrors.ErrNotFound
	case errors.Is(err, services.ErrKYCDocumentsIncomplete):
		return appErrors.ErrDocumentsIncomplete
	case errors.Is(err, services.ErrKYCInvalidState):
		return appErrors.NewBadRequest("the verification is not in a state that allows this operation")
	case errors.Is(err, storage.ErrTooLarge):
		return appErrors.NewBadRequest("the uploaded file exceeds the maximum allowed size")
	default:
		return err
	}
}
