package services

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/lcourbet/promogate/internal/models"
	"github.com/lcourbet/promogate/internal/storage"
	"github.com/lcourbet/promogate/pkg/logger"
	"github.com/lcourbet/promogate/pkg/mail"
)

const defaultApprovalValidity = 365 * 24 * time.Hour

var (
	// ErrKYCNotFound indicates no verification case matches the query.
	ErrKYCNotFound = errors.New("kyc: verification not found")
	// ErrKYCDocumentNotFound indicates the document does not exist on the case.
	ErrKYCDocumentNotFound = errors.New("kyc: document not found")
	// ErrKYCDocumentsIncomplete signals missing required documents at submission.
	ErrKYCDocumentsIncomplete = errors.New("kyc: required documents missing")
	// ErrKYCInvalidState signals an operation not allowed in the current status.
	ErrKYCInvalidState = errors.New("kyc: operation not allowed in current status")
)

// KYCOption customises KYCService behaviour.
type KYCOption func(*KYCService)

// WithKYCClock injects a custom clock primarily for testing.
func WithKYCClock(clock func() time.Time) KYCOption {
	return func(s *KYCService) {
		if clock != nil {
			s.now = clock
		}
	}
}

// WithApprovalValidity overrides how long an approval remains valid.
func WithApprovalValidity(d time.Duration) KYCOption {
	return func(s *KYCService) {
		if d > 0 {
			s.approvalValidity = d
		}
	}
}

// KYCService manages verification cases, their documents and review decisions.
type KYCService struct {
	db               *gorm.DB
	store            storage.Store
	activity         *ActivityService
	mailer           mail.Mailer
	approvalValidity time.Duration
	now              func() time.Time
	log              *zap.Logger
}

// NewKYCService constructs a KYCService with the provided dependencies.
func NewKYCService(db *gorm.DB, store storage.Store, activity *ActivityService, mailer mail.Mailer, opts ...KYCOption) (*KYCService, error) {
	if db == nil {
		return nil, errors.New("kyc service: db is required")
	}

	service := &KYCService{
		db:               db,
		store:            store,
		activity:         activity,
		mailer:           mailer,
		approvalValidity: defaultApprovalValidity,
		now:              time.Now,
		log:              logger.WithModule("kyc"),
	}

	for _, opt := range opts {
		opt(service)
	}

	return service, nil
}

// Start opens a verification case of the given type for a user. If a pending
// case of the same type already exists it is returned instead of duplicated;
// earlier decided cases are left untouched and resolved by recency.
func (s *KYCService) Start(ctx context.Context, userID string, verificationType models.KYCType) (*models.KYCVerification, error) {
	ctx = ensureContext(ctx)

	if !verificationType.Valid() {
		return nil, fmt.Errorf("kyc service: invalid verification type %q", verificationType)
	}

	var existing models.KYCVerification
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND verification_type = ? AND status IN ?",
			userID, verificationType,
			[]models.KYCStatus{models.KYCPending, models.KYCSubmitted, models.KYCInReview}).
		Order("created_at DESC").
		First(&existing).Error
	if err == nil {
		return &existing, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("kyc service: find open case: %w", err)
	}

	verification := models.KYCVerification{
		UserID:           strings.TrimSpace(userID),
		VerificationType: verificationType,
		Status:           models.KYCPending,
	}
	if err := s.db.WithContext(ctx).Create(&verification).Error; err != nil {
		return nil, fmt.Errorf("kyc service: create case: %w", err)
	}

	recordActivity(s.activity, ctx, ActivityEntry{
		UserID:       &verification.UserID,
		ActionType:   "kyc.started",
		ResourceType: "kyc_verification",
		ResourceID:   verification.ID,
		Details:      map[string]any{"type": string(verificationType)},
	})

	return &verification, nil
}

// UploadDocumentInput carries metadata accompanying a document upload.
type UploadDocumentInput struct {
	DocumentType   string
	FileName       string
	ContentType    string
	DocumentNumber string
	IssuingCountry string
	IssueDate      *time.Time
	ExpiryDate     *time.Time
}

// UploadDocument stores a document file and attaches it to an open case.
func (s *KYCService) UploadDocument(ctx context.Context, verificationID string, input UploadDocumentInput, r io.Reader) (*models.KYCDocument, error) {
	ctx = ensureContext(ctx)

	verification, err := s.byID(ctx, verificationID)
	if err != nil {
		return nil, err
	}
	if !verification.Status.Open() {
		return nil, ErrKYCInvalidState
	}
	if s.store == nil {
		return nil, errors.New("kyc service: document store is not configured")
	}

	path, size, err := s.store.Save(ctx, "kyc", input.FileName, r)
	if err != nil {
		return nil, fmt.Errorf("kyc service: store document: %w", err)
	}

	document := models.KYCDocument{
		VerificationID: verification.ID,
		DocumentType:   strings.TrimSpace(input.DocumentType),
		FileName:       strings.TrimSpace(input.FileName),
		FilePath:       path,
		FileSize:       size,
		ContentType:    strings.TrimSpace(input.ContentType),
		DocumentNumber: strings.TrimSpace(input.DocumentNumber),
		IssuingCountry: strings.TrimSpace(input.IssuingCountry),
		IssueDate:      input.IssueDate,
		ExpiryDate:     input.ExpiryDate,
	}
	if err := s.db.WithContext(ctx).Create(&document).Error; err != nil {
		if delErr := s.store.Delete(ctx, path); delErr != nil {
			s.log.Warn("orphaned document file after failed insert",
				zap.String("path", path), zap.Error(delErr))
		}
		return nil, fmt.Errorf("kyc service: create document: %w", err)
	}

	return &document, nil
}

// DeleteDocument removes a document from an open case along with its file.
func (s *KYCService) DeleteDocument(ctx context.Context, verificationID, documentID string) error {
	ctx = ensureContext(ctx)

	verification, err := s.byID(ctx, verificationID)
	if err != nil {
		return err
	}
	if !verification.Status.Open() {
		return ErrKYCInvalidState
	}

	var document models.KYCDocument
	if err := s.db.WithContext(ctx).
		Where("id = ? AND verification_id = ?", documentID, verification.ID).
		First(&document).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrKYCDocumentNotFound
		}
		return fmt.Errorf("kyc service: find document: %w", err)
	}

	if err := s.db.WithContext(ctx).Delete(&document).Error; err != nil {
		return fmt.Errorf("kyc service: delete document: %w", err)
	}

	if s.store != nil {
		if err := s.store.Delete(ctx, document.FilePath); err != nil {
			s.log.Warn("document file removal failed",
				zap.String("path", document.FilePath), zap.Error(err))
		}
	}

	return nil
}

// SubmitForReview queues a complete case for review. The uploaded document
// kinds must be a superset of the requirements for the verification type.
func (s *KYCService) SubmitForReview(ctx context.Context, verificationID string) (*models.KYCVerification, error) {
	ctx = ensureContext(ctx)

	verification, err := s.byID(ctx, verificationID)
	if err != nil {
		return nil, err
	}
	if verification.Status == models.KYCSubmitted {
		return verification, nil
	}
	if verification.Status != models.KYCPending {
		return nil, ErrKYCInvalidState
	}

	required, err := models.RequiredDocuments(verification.VerificationType)
	if err != nil {
		return nil, fmt.Errorf("kyc service: %w", err)
	}

	uploaded := make(map[string]bool, len(verification.Documents))
	for _, doc := range verification.Documents {
		uploaded[doc.DocumentType] = true
	}
	for _, kind := range required {
		if !uploaded[kind] {
			return nil, ErrKYCDocumentsIncomplete
		}
	}

	now := s.now()
	if err := s.db.WithContext(ctx).Model(verification).
		Updates(map[string]any{
			"status":       models.KYCSubmitted,
			"submitted_at": now,
		}).Error; err != nil {
		return nil, fmt.Errorf("kyc service: submit: %w", err)
	}
	verification.Status = models.KYCSubmitted
	verification.SubmittedAt = &now

	recordActivity(s.activity, ctx, ActivityEntry{
		UserID:       &verification.UserID,
		ActionType:   "kyc.submitted",
		ResourceType: "kyc_verification",
		ResourceID:   verification.ID,
		Details:      map[string]any{"type": string(verification.VerificationType)},
	})

	return verification, nil
}

// MarkInReview moves a submitted case under active review.
func (s *KYCService) MarkInReview(ctx context.Context, verificationID, reviewerID string) error {
	ctx = ensureContext(ctx)

	result := s.db.WithContext(ctx).Model(&models.KYCVerification{}).
		Where("id = ? AND status = ?", verificationID, models.KYCSubmitted).
		Updates(map[string]any{
			"status":      models.KYCInReview,
			"reviewed_by": reviewerID,
		})
	if result.Error != nil {
		return fmt.Errorf("kyc service: mark in review: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		if _, err := s.byID(ctx, verificationID); err != nil {
			return err
		}
		return ErrKYCInvalidState
	}
	return nil
}

// Approve settles a case positively. Approvals expire after the configured
// validity window and are swept back to EXPIRED by maintenance.
func (s *KYCService) Approve(ctx context.Context, verificationID, reviewerID, notes string) (*models.KYCVerification, error) {
	return s.decide(ctx, verificationID, reviewerID, models.KYCApproved, notes, "")
}

// Reject settles a case negatively with a reason shown to the stakeholder.
func (s *KYCService) Reject(ctx context.Context, verificationID, reviewerID, reason string) (*models.KYCVerification, error) {
	return s.decide(ctx, verificationID, reviewerID, models.KYCRejected, "", reason)
}

func (s *KYCService) decide(ctx context.Context, verificationID, reviewerID string, status models.KYCStatus, notes, reason string) (*models.KYCVerification, error) {
	ctx = ensureContext(ctx)

	now := s.now()
	updates := map[string]any{
		"status":      status,
		"reviewed_by": reviewerID,
		"reviewed_at": now,
	}
	if status == models.KYCApproved {
		updates["approved_at"] = now
		updates["expires_at"] = now.Add(s.approvalValidity)
		updates["review_notes"] = strings.TrimSpace(notes)
	} else {
		updates["rejection_reason"] = strings.TrimSpace(reason)
	}

	result := s.db.WithContext(ctx).Model(&models.KYCVerification{}).
		Where("id = ? AND status IN ?", verificationID,
			[]models.KYCStatus{models.KYCSubmitted, models.KYCInReview}).
		Updates(updates)
	if result.Error != nil {
		return nil, fmt.Errorf("kyc service: decide: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		current, err := s.byID(ctx, verificationID)
		if err != nil {
			return nil, err
		}
		// Repeating a decision that already stands is a no-op.
		if current.Status == status {
			return current, nil
		}
		return nil, ErrKYCInvalidState
	}

	verification, err := s.byID(ctx, verificationID)
	if err != nil {
		return nil, err
	}

	action := "kyc.approved"
	if status == models.KYCRejected {
		action = "kyc.rejected"
	}
	recordActivity(s.activity, ctx, ActivityEntry{
		UserID:       &reviewerID,
		ActionType:   action,
		ResourceType: "kyc_verification",
		ResourceID:   verification.ID,
		Details:      map[string]any{"subject_user_id": verification.UserID, "type": string(verification.VerificationType)},
	})

	s.notifyDecision(ctx, verification)

	return verification, nil
}

// RequestMoreInfo sends a case back to the stakeholder with reviewer notes.
func (s *KYCService) RequestMoreInfo(ctx context.Context, verificationID, reviewerID, notes string) error {
	ctx = ensureContext(ctx)

	result := s.db.WithContext(ctx).Model(&models.KYCVerification{}).
		Where("id = ? AND status IN ?", verificationID,
			[]models.KYCStatus{models.KYCSubmitted, models.KYCInReview}).
		Updates(map[string]any{
			"status":       models.KYCPending,
			"submitted_at": nil,
			"reviewed_by":  reviewerID,
			"review_notes": strings.TrimSpace(notes),
		})
	if result.Error != nil {
		return fmt.Errorf("kyc service: request more info: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		if _, err := s.byID(ctx, verificationID); err != nil {
			return err
		}
		return ErrKYCInvalidState
	}
	return nil
}

// VerifyDocument marks an individual document as checked by a reviewer.
func (s *KYCService) VerifyDocument(ctx context.Context, verificationID, documentID, reviewerID string) error {
	ctx = ensureContext(ctx)

	now := s.now()
	result := s.db.WithContext(ctx).Model(&models.KYCDocument{}).
		Where("id = ? AND verification_id = ?", documentID, verificationID).
		Updates(map[string]any{
			"verified":    true,
			"verified_by": reviewerID,
			"verified_at": now,
		})
	if result.Error != nil {
		return fmt.Errorf("kyc service: verify document: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrKYCDocumentNotFound
	}
	return nil
}

// KYCStatusSummary condenses a user's verification history into the gate the
// rest of the platform consults before unlocking stakeholder features.
type KYCStatusSummary struct {
	HasActiveKYC  bool                     `json:"has_active_kyc"`
	CanProceed    bool                     `json:"can_proceed"`
	BlockedReason string                   `json:"blocked_reason,omitempty"`
	Verifications []models.KYCVerification `json:"verifications"`
}

// Status returns the latest case per verification type for a user and derives
// the access gate from the most recent one. Only an approval unlocks it; an
// expired approval blocks without carrying a reason.
func (s *KYCService) Status(ctx context.Context, userID string) (*KYCStatusSummary, error) {
	ctx = ensureContext(ctx)

	var cases []models.KYCVerification
	if err := s.db.WithContext(ctx).
		Preload("Documents").
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Find(&cases).Error; err != nil {
		return nil, fmt.Errorf("kyc service: list cases: %w", err)
	}

	latest := make([]models.KYCVerification, 0, 4)
	seen := make(map[models.KYCType]bool, 4)
	for _, c := range cases {
		if seen[c.VerificationType] {
			continue
		}
		seen[c.VerificationType] = true
		latest = append(latest, c)
	}

	summary := &KYCStatusSummary{Verifications: latest}
	if len(latest) == 0 {
		summary.BlockedReason = "identity verification is required"
		return summary, nil
	}

	summary.HasActiveKYC = true
	current := latest[0]
	switch {
	case current.Status == models.KYCApproved:
		summary.CanProceed = true
	case current.Status == models.KYCRejected:
		summary.BlockedReason = current.RejectionReason
		if summary.BlockedReason == "" {
			summary.BlockedReason = "the verification was rejected"
		}
	case current.Status.Open():
		summary.BlockedReason = "the verification is still under review"
	}
	return summary, nil
}

// KYCListFilters narrows admin listings of verification cases.
type KYCListFilters struct {
	Status models.KYCStatus
	Type   models.KYCType
	UserID string
}

// List returns verification cases for review dashboards, oldest submissions first.
func (s *KYCService) List(ctx context.Context, filters KYCListFilters) ([]models.KYCVerification, error) {
	ctx = ensureContext(ctx)

	query := s.db.WithContext(ctx).
		Preload("Documents").
		Preload("User").
		Order("submitted_at ASC, created_at ASC")
	if filters.Status != "" {
		query = query.Where("status = ?", filters.Status)
	}
	if filters.Type != "" {
		query = query.Where("verification_type = ?", filters.Type)
	}
	if filters.UserID != "" {
		query = query.Where("user_id = ?", filters.UserID)
	}

	var cases []models.KYCVerification
	if err := query.Find(&cases).Error; err != nil {
		return nil, fmt.Errorf("kyc service: list: %w", err)
	}
	return cases, nil
}

// MarkExpiredApprovals flips approvals past their validity window.
func (s *KYCService) MarkExpiredApprovals(ctx context.Context) (int64, error) {
	ctx = ensureContext(ctx)

	result := s.db.WithContext(ctx).Model(&models.KYCVerification{}).
		Where("status = ? AND expires_at IS NOT NULL AND expires_at < ?", models.KYCApproved, s.now()).
		Update("status", models.KYCExpired)
	if result.Error != nil {
		return 0, fmt.Errorf("kyc service: mark expired: %w", result.Error)
	}
	return result.RowsAffected, nil
}

func (s *KYCService) byID(ctx context.Context, id string) (*models.KYCVerification, error) {
	var verification models.KYCVerification
	if err := s.db.WithContext(ctx).
		Preload("Documents").
		First(&verification, "id = ?", strings.TrimSpace(id)).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrKYCNotFound
		}
		return nil, fmt.Errorf("kyc service: find case: %w", err)
	}
	return &verification, nil
}

func (s *KYCService) notifyDecision(ctx context.Context, verification *models.KYCVerification) {
	if s.mailer == nil {
		return
	}

	var user models.User
	if err := s.db.WithContext(ctx).First(&user, "id = ?", verification.UserID).Error; err != nil {
		return
	}

	notes := verification.ReviewNotes
	if verification.Status == models.KYCRejected {
		notes = verification.RejectionReason
	}
	msg := mail.KYCDecisionEmail(user.Email, string(verification.VerificationType), string(verification.Status), notes)
	if err := s.mailer.Send(ctx, msg); err != nil && !errors.Is(err, mail.ErrSMTPDisabled) {
		s.log.Warn("decision email delivery failed",
			zap.String("user_id", verification.UserID),
			zap.Error(err))
	}
}
