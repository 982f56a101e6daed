package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/lcourbet/promogate/internal/models"
	"github.com/lcourbet/promogate/pkg/crypto"
	"github.com/lcourbet/promogate/pkg/logger"
	"github.com/lcourbet/promogate/pkg/mail"
	"github.com/lcourbet/promogate/pkg/metrics"
)

const (
	defaultInvitationExpiry = 7 * 24 * time.Hour
	invitationTokenBytes    = 32
)

var (
	// ErrInvitationNotFound indicates no invitation matches the provided token or id.
	ErrInvitationNotFound = errors.New("invitation: not found")
	// ErrInvitationExpired indicates the invitation is past its expiry instant.
	ErrInvitationExpired = errors.New("invitation: expired")
	// ErrInvitationConsumed signals the invitation was already accepted or revoked.
	ErrInvitationConsumed = errors.New("invitation: already used or revoked")
	// ErrInvitationDuplicate signals a pending invitation already exists for the address.
	ErrInvitationDuplicate = errors.New("invitation: pending invitation already exists")
)

// InvitationOption customises InvitationService behaviour.
type InvitationOption func(*InvitationService)

// WithInvitationBaseURL configures the base URL used to build invitation links.
func WithInvitationBaseURL(url string) InvitationOption {
	return func(s *InvitationService) {
		s.baseURL = strings.TrimRight(url, "/")
	}
}

// WithInvitationExpiry overrides the invitation lifetime.
func WithInvitationExpiry(d time.Duration) InvitationOption {
	return func(s *InvitationService) {
		if d > 0 {
			s.expiry = d
		}
	}
}

// WithInvitationClock injects a custom clock primarily for testing.
func WithInvitationClock(clock func() time.Time) InvitationOption {
	return func(s *InvitationService) {
		if clock != nil {
			s.now = clock
		}
	}
}

// InvitationService manages the full invitation lifecycle: issuance, resend,
// revocation and acceptance with its follow-on provisioning.
type InvitationService struct {
	db       *gorm.DB
	mailer   mail.Mailer
	activity *ActivityService
	baseURL  string
	expiry   time.Duration
	now      func() time.Time
	log      *zap.Logger
}

// NewInvitationService constructs an InvitationService with the provided dependencies.
func NewInvitationService(db *gorm.DB, mailer mail.Mailer, activity *ActivityService, opts ...InvitationOption) (*InvitationService, error) {
	if db == nil {
		return nil, errors.New("invitation service: db is required")
	}

	service := &InvitationService{
		db:       db,
		mailer:   mailer,
		activity: activity,
		expiry:   defaultInvitationExpiry,
		now:      time.Now,
		log:      logger.WithModule("invitations"),
	}

	for _, opt := range opts {
		opt(service)
	}

	return service, nil
}

// SendInvitationInput holds the parameters for issuing a new invitation.
type SendInvitationInput struct {
	ProjectID   string
	Email       string
	FirstName   string
	LastName    string
	Role        models.ParticipantRole
	Message     string
	CompanyID   string
	InvitedBy   string
	Permissions map[string]bool
}

// Send issues an invitation and dispatches the email containing the raw
// token link. Delivery failures are logged but never roll back the record.
func (s *InvitationService) Send(ctx context.Context, input SendInvitationInput) (*models.ProjectInvitation, string, error) {
	ctx = ensureContext(ctx)

	email := strings.ToLower(strings.TrimSpace(input.Email))
	if email == "" {
		return nil, "", errors.New("invitation service: email is required")
	}
	if !input.Role.Valid() {
		return nil, "", fmt.Errorf("invitation service: invalid role %q", input.Role)
	}

	var project models.Project
	if err := s.db.WithContext(ctx).First(&project, "id = ?", input.ProjectID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, "", ErrInvitationNotFound
		}
		return nil, "", fmt.Errorf("invitation service: find project: %w", err)
	}

	now := s.now()

	var pending int64
	if err := s.db.WithContext(ctx).Model(&models.ProjectInvitation{}).
		Where("project_id = ? AND email = ? AND status = ? AND expires_at > ?",
			project.ID, email, models.InvitationPending, now).
		Count(&pending).Error; err != nil {
		return nil, "", fmt.Errorf("invitation service: check pending: %w", err)
	}
	if pending > 0 {
		return nil, "", ErrInvitationDuplicate
	}

	rawToken, err := crypto.GenerateToken(invitationTokenBytes)
	if err != nil {
		return nil, "", fmt.Errorf("invitation service: generate token: %w", err)
	}

	invitation := models.ProjectInvitation{
		ProjectID: project.ID,
		Email:     email,
		FirstName: strings.TrimSpace(input.FirstName),
		LastName:  strings.TrimSpace(input.LastName),
		Role:      input.Role,
		Message:   strings.TrimSpace(input.Message),
		TokenHash: crypto.HashToken(rawToken),
		Status:    models.InvitationPending,
		ExpiresAt: now.Add(s.expiry),
		InvitedBy: strings.TrimSpace(input.InvitedBy),
	}
	if companyID := strings.TrimSpace(input.CompanyID); companyID != "" {
		invitation.CompanyID = &companyID
	}

	if len(input.Permissions) > 0 {
		encoded, err := json.Marshal(input.Permissions)
		if err != nil {
			return nil, "", fmt.Errorf("invitation service: encode permission overrides: %w", err)
		}
		invitation.Permissions = encoded
	}

	if err := s.db.WithContext(ctx).Create(&invitation).Error; err != nil {
		return nil, "", fmt.Errorf("invitation service: create invitation: %w", err)
	}

	link := s.invitationLink(rawToken)
	s.dispatchEmail(ctx, &invitation, project.Name, link)

	metrics.InvitationEvents.WithLabelValues("sent").Inc()
	recordActivity(s.activity, ctx, ActivityEntry{
		UserID:       &invitation.InvitedBy,
		ProjectID:    &invitation.ProjectID,
		ActionType:   "invitation.sent",
		ResourceType: "invitation",
		ResourceID:   invitation.ID,
		Details:      map[string]any{"email": email, "role": string(input.Role)},
	})

	return &invitation, link, nil
}

// Resend rotates the token of a pending invitation, extends its expiry and
// dispatches a fresh email. Consumed invitations cannot be resent.
func (s *InvitationService) Resend(ctx context.Context, id, actorID string) (*models.ProjectInvitation, string, error) {
	ctx = ensureContext(ctx)

	invitation, err := s.byID(ctx, id)
	if err != nil {
		return nil, "", err
	}

	rawToken, err := crypto.GenerateToken(invitationTokenBytes)
	if err != nil {
		return nil, "", fmt.Errorf("invitation service: generate token: %w", err)
	}

	now := s.now()
	expiresAt := now.Add(s.expiry)

	result := s.db.WithContext(ctx).Model(&models.ProjectInvitation{}).
		Where("id = ? AND status = ?", invitation.ID, models.InvitationPending).
		Updates(map[string]any{
			"token_hash": crypto.HashToken(rawToken),
			"expires_at": expiresAt,
		})
	if result.Error != nil {
		return nil, "", fmt.Errorf("invitation service: rotate token: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return nil, "", ErrInvitationConsumed
	}

	invitation.TokenHash = crypto.HashToken(rawToken)
	invitation.ExpiresAt = expiresAt

	var project models.Project
	if err := s.db.WithContext(ctx).First(&project, "id = ?", invitation.ProjectID).Error; err != nil {
		return nil, "", fmt.Errorf("invitation service: find project: %w", err)
	}

	link := s.invitationLink(rawToken)
	s.dispatchEmail(ctx, invitation, project.Name, link)

	metrics.InvitationEvents.WithLabelValues("resent").Inc()
	recordActivity(s.activity, ctx, ActivityEntry{
		UserID:       &actorID,
		ProjectID:    &invitation.ProjectID,
		ActionType:   "invitation.resent",
		ResourceType: "invitation",
		ResourceID:   invitation.ID,
	})

	return invitation, link, nil
}

// Revoke permanently invalidates a pending invitation.
func (s *InvitationService) Revoke(ctx context.Context, id, actorID string) error {
	ctx = ensureContext(ctx)

	invitation, err := s.byID(ctx, id)
	if err != nil {
		return err
	}

	now := s.now()
	result := s.db.WithContext(ctx).Model(&models.ProjectInvitation{}).
		Where("id = ? AND status = ?", invitation.ID, models.InvitationPending).
		Updates(map[string]any{
			"status":     models.InvitationRevoked,
			"revoked_at": now,
		})
	if result.Error != nil {
		return fmt.Errorf("invitation service: revoke: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrInvitationConsumed
	}

	metrics.InvitationEvents.WithLabelValues("revoked").Inc()
	recordActivity(s.activity, ctx, ActivityEntry{
		UserID:       &actorID,
		ProjectID:    &invitation.ProjectID,
		ActionType:   "invitation.revoked",
		ResourceType: "invitation",
		ResourceID:   invitation.ID,
	})

	return nil
}

// UpdatePermissions replaces the permission overrides of a pending invitation.
// Overrides are applied on top of the role defaults at acceptance time.
func (s *InvitationService) UpdatePermissions(ctx context.Context, id string, overrides map[string]bool) error {
	ctx = ensureContext(ctx)

	encoded, err := json.Marshal(overrides)
	if err != nil {
		return fmt.Errorf("invitation service: encode permission overrides: %w", err)
	}

	result := s.db.WithContext(ctx).Model(&models.ProjectInvitation{}).
		Where("id = ? AND status = ?", id, models.InvitationPending).
		Update("permissions", encoded)
	if result.Error != nil {
		return fmt.Errorf("invitation service: update permissions: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		if _, err := s.byID(ctx, id); err != nil {
			return err
		}
		return ErrInvitationConsumed
	}

	return nil
}

// ListFilters narrows invitation listings.
type ListFilters struct {
	Status models.InvitationStatus
	Email  string
}

// List returns the invitations of a project, newest first.
func (s *InvitationService) List(ctx context.Context, projectID string, filters ListFilters) ([]models.ProjectInvitation, error) {
	ctx = ensureContext(ctx)

	query := s.db.WithContext(ctx).
		Where("project_id = ?", projectID).
		Order("created_at DESC")
	if filters.Status != "" {
		query = query.Where("status = ?", filters.Status)
	}
	if filters.Email != "" {
		query = query.Where("email = ?", strings.ToLower(strings.TrimSpace(filters.Email)))
	}

	var invitations []models.ProjectInvitation
	if err := query.Find(&invitations).Error; err != nil {
		return nil, fmt.Errorf("invitation service: list: %w", err)
	}
	return invitations, nil
}

// InvitationStats summarises invitation outcomes for a project.
type InvitationStats struct {
	Total    int64 `json:"total"`
	Pending  int64 `json:"pending"`
	Accepted int64 `json:"accepted"`
	Expired  int64 `json:"expired"`
	Revoked  int64 `json:"revoked"`
}

// Stats counts invitations by status for a project.
func (s *InvitationService) Stats(ctx context.Context, projectID string) (*InvitationStats, error) {
	ctx = ensureContext(ctx)

	var rows []struct {
		Status models.InvitationStatus
		Count  int64
	}
	if err := s.db.WithContext(ctx).Model(&models.ProjectInvitation{}).
		Select("status, COUNT(*) as count").
		Where("project_id = ?", projectID).
		Group("status").
		Scan(&rows).Error; err != nil {
		return nil, fmt.Errorf("invitation service: stats: %w", err)
	}

	stats := &InvitationStats{}
	for _, row := range rows {
		stats.Total += row.Count
		switch row.Status {
		case models.InvitationPending:
			stats.Pending = row.Count
		case models.InvitationAccepted:
			stats.Accepted = row.Count
		case models.InvitationExpired:
			stats.Expired = row.Count
		case models.InvitationRevoked:
			stats.Revoked = row.Count
		}
	}
	return stats, nil
}

// InfoByToken resolves the public invitation view shown before acceptance.
// Expired invitations are reported as expired even if the sweep has not
// flipped their status yet.
func (s *InvitationService) InfoByToken(ctx context.Context, token string) (*models.ProjectInvitation, error) {
	ctx = ensureContext(ctx)

	invitation, err := s.byTokenHash(ctx, token)
	if err != nil {
		return nil, err
	}

	switch invitation.Status {
	case models.InvitationAccepted, models.InvitationRevoked:
		return nil, ErrInvitationConsumed
	case models.InvitationExpired:
		return nil, ErrInvitationExpired
	}

	if invitation.ExpiresAt.Before(s.now()) {
		return nil, ErrInvitationExpired
	}

	return invitation, nil
}

// Accept consumes an invitation on behalf of the authenticated user and
// provisions project membership. The status flip is a conditional update so
// exactly one concurrent acceptance can win; everything that follows is
// idempotent and re-runnable.
func (s *InvitationService) Accept(ctx context.Context, token, userID string) (*models.ProjectInvitation, error) {
	ctx = ensureContext(ctx)

	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, errors.New("invitation service: user id is required")
	}

	invitation, err := s.byTokenHash(ctx, token)
	if err != nil {
		return nil, err
	}

	now := s.now()

	// Expiry is settled before the consumed statuses so a swept invitation
	// reports the same outcome as an unswept one.
	switch invitation.Status {
	case models.InvitationAccepted, models.InvitationRevoked:
		return nil, ErrInvitationConsumed
	case models.InvitationExpired:
		return nil, ErrInvitationExpired
	}
	if invitation.ExpiresAt.Before(now) {
		// Lazily settle the status; the outcome for the caller is the same.
		s.db.WithContext(ctx).Model(&models.ProjectInvitation{}).
			Where("id = ? AND status = ?", invitation.ID, models.InvitationPending).
			Update("status", models.InvitationExpired)
		return nil, ErrInvitationExpired
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Model(&models.ProjectInvitation{}).
			Where("id = ? AND status = ?", invitation.ID, models.InvitationPending).
			Updates(map[string]any{
				"status":      models.InvitationAccepted,
				"accepted_by": userID,
				"accepted_at": now,
			})
		if result.Error != nil {
			return fmt.Errorf("invitation service: mark accepted: %w", result.Error)
		}
		if result.RowsAffected == 0 {
			return ErrInvitationConsumed
		}

		return s.provisionStakeholder(tx, invitation, userID, now)
	})
	if err != nil {
		return nil, err
	}

	invitation.Status = models.InvitationAccepted
	invitation.AcceptedBy = &userID
	invitation.AcceptedAt = &now

	metrics.InvitationEvents.WithLabelValues("accepted").Inc()
	recordActivity(s.activity, ctx, ActivityEntry{
		UserID:       &userID,
		ProjectID:    &invitation.ProjectID,
		ActionType:   "invitation.accepted",
		ResourceType: "invitation",
		ResourceID:   invitation.ID,
		Details:      map[string]any{"role": string(invitation.Role)},
	})

	return invitation, nil
}

// MarkExpired flips pending invitations past their expiry. Used by the
// maintenance sweep; acceptance does not depend on it.
func (s *InvitationService) MarkExpired(ctx context.Context) (int64, error) {
	ctx = ensureContext(ctx)

	result := s.db.WithContext(ctx).Model(&models.ProjectInvitation{}).
		Where("status = ? AND expires_at < ?", models.InvitationPending, s.now()).
		Update("status", models.InvitationExpired)
	if result.Error != nil {
		return 0, fmt.Errorf("invitation service: mark expired: %w", result.Error)
	}

	if result.RowsAffected > 0 {
		metrics.InvitationEvents.WithLabelValues("expired").Add(float64(result.RowsAffected))
	}
	return result.RowsAffected, nil
}

// provisionStakeholder performs the post-acceptance unit: membership,
// permission grant, account linkage and onboarding. Every write is an upsert
// keyed on its natural unique index, so a retry cannot duplicate anything.
func (s *InvitationService) provisionStakeholder(tx *gorm.DB, invitation *models.ProjectInvitation, userID string, now time.Time) error {
	participant := models.ProjectParticipant{
		ProjectID:    invitation.ProjectID,
		UserID:       userID,
		Role:         invitation.Role,
		InvitationID: &invitation.ID,
		JoinedAt:     now,
		IsActive:     true,
	}
	err := tx.Where(models.ProjectParticipant{ProjectID: invitation.ProjectID, UserID: userID}).
		Attrs(participant).
		FirstOrCreate(&models.ProjectParticipant{}).Error
	if err != nil && !isUniqueConstraintError(err) {
		return fmt.Errorf("invitation service: create participant: %w", err)
	}

	perms, err := models.DefaultPermissions(invitation.Role)
	if err != nil {
		return fmt.Errorf("invitation service: %w", err)
	}
	if len(invitation.Permissions) > 0 {
		if err := applyPermissionOverrides(&perms, invitation.Permissions); err != nil {
			return fmt.Errorf("invitation service: apply permission overrides: %w", err)
		}
	}

	grant := models.StakeholderPermissions{
		UserID:        userID,
		ProjectID:     invitation.ProjectID,
		PermissionSet: perms,
		GrantedBy:     invitation.InvitedBy,
		GrantedAt:     now,
	}
	err = tx.Where(models.StakeholderPermissions{UserID: userID, ProjectID: invitation.ProjectID}).
		Attrs(grant).
		FirstOrCreate(&models.StakeholderPermissions{}).Error
	if err != nil && !isUniqueConstraintError(err) {
		return fmt.Errorf("invitation service: seed permissions: %w", err)
	}

	updates := map[string]any{"account_type": models.AccountExternal}
	var user models.User
	if err := tx.First(&user, "id = ?", userID).Error; err != nil {
		return fmt.Errorf("invitation service: find user: %w", err)
	}
	if user.PrimaryProjectID == nil {
		updates["primary_project_id"] = invitation.ProjectID
	}
	if err := tx.Model(&models.User{}).Where("id = ?", userID).Updates(updates).Error; err != nil {
		return fmt.Errorf("invitation service: update account: %w", err)
	}

	if err := ensureOnboardingRow(tx, userID, invitation.ProjectID, invitation.Role); err != nil {
		return fmt.Errorf("invitation service: ensure onboarding: %w", err)
	}

	return nil
}

func (s *InvitationService) byID(ctx context.Context, id string) (*models.ProjectInvitation, error) {
	var invitation models.ProjectInvitation
	if err := s.db.WithContext(ctx).First(&invitation, "id = ?", strings.TrimSpace(id)).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrInvitationNotFound
		}
		return nil, fmt.Errorf("invitation service: find invitation: %w", err)
	}
	return &invitation, nil
}

func (s *InvitationService) byTokenHash(ctx context.Context, token string) (*models.ProjectInvitation, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, ErrInvitationNotFound
	}

	var invitation models.ProjectInvitation
	if err := s.db.WithContext(ctx).
		Preload("Project").
		Preload("Inviter").
		Where("token_hash = ?", crypto.HashToken(token)).
		First(&invitation).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrInvitationNotFound
		}
		return nil, fmt.Errorf("invitation service: find invitation: %w", err)
	}
	return &invitation, nil
}

func (s *InvitationService) invitationLink(token string) string {
	if s.baseURL == "" {
		return token
	}
	return fmt.Sprintf("%s/invitation/%s", s.baseURL, token)
}

func (s *InvitationService) dispatchEmail(ctx context.Context, invitation *models.ProjectInvitation, projectName, link string) {
	if s.mailer == nil {
		return
	}

	expiryDays := int(s.expiry.Hours() / 24)
	msg := mail.InvitationEmail(invitation.Email, projectName, string(invitation.Role), "", link, expiryDays, invitation.Message)
	if err := s.mailer.Send(ctx, msg); err != nil && !errors.Is(err, mail.ErrSMTPDisabled) {
		s.log.Warn("invitation email delivery failed",
			zap.String("invitation_id", invitation.ID),
			zap.Error(err))
	}
}

// applyPermissionOverrides merges a stored override map onto a default set.
func applyPermissionOverrides(set *models.PermissionSet, raw []byte) error {
	base, err := json.Marshal(set)
	if err != nil {
		return err
	}

	var merged map[string]any
	if err := json.Unmarshal(base, &merged); err != nil {
		return err
	}

	var overrides map[string]bool
	if err := json.Unmarshal(raw, &overrides); err != nil {
		return err
	}
	for key, value := range overrides {
		if _, known := merged[key]; known {
			merged[key] = value
		}
	}

	encoded, err := json.Marshal(merged)
	if err != nil {
		return err
	}
	return json.Unmarshal(encoded, set)
}
