package handlers

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/lcourbet/promogate/internal/middleware"
	"github.com/lcourbet/promogate/internal/models"
	"github.com/lcourbet/promogate/internal/services"
	"github.com/lcourbet/promogate/internal/storage"
)

func newKYCHandlerFixture(t *testing.T) (*KYCHandler, *gorm.DB, *models.User) {
	t.Helper()

	db := openHandlerTestDB(t)
	activity, err := services.NewActivityService(db)
	require.NoError(t, err)
	store, err := storage.NewLocalStore(t.TempDir(), 1<<20)
	require.NoError(t, err)
	svc, err := services.NewKYCService(db, store, activity, nil)
	require.NoError(t, err)

	user := models.User{Email: "stakeholder@example.com"}
	require.NoError(t, db.Create(&user).Error)

	return NewKYCHandler(svc), db, &user
}

func TestKYCHandlerStartReturnsRequiredDocuments(t *testing.T) {
	handler, _, user := newKYCHandlerFixture(t)

	recorder := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(recorder)
	c.Set(middleware.CtxUserIDKey, user.ID)
	jsonRequest(t, c, http.MethodPost, gin.H{"type": "identity"})
	handler.Start(c)

	require.Equal(t, http.StatusCreated, recorder.Code)

	var created struct {
		Verification      models.KYCVerification `json:"verification"`
		RequiredDocuments []string               `json:"required_documents"`
	}
	decodeData(t, recorder, &created)
	require.Equal(t, models.KYCPending, created.Verification.Status)
	require.Equal(t, models.KYCIdentity, created.Verification.VerificationType)
	require.Equal(t, []string{models.DocIDCard, models.DocUtilityBill}, created.RequiredDocuments)
}

func TestKYCHandlerStartRejectsUnknownType(t *testing.T) {
	handler, _, user := newKYCHandlerFixture(t)

	recorder := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(recorder)
	c.Set(middleware.CtxUserIDKey, user.ID)
	jsonRequest(t, c, http.MethodPost, gin.H{"type": "astral"})
	handler.Start(c)

	require.Equal(t, http.StatusBadRequest, recorder.Code)
}

func TestKYCHandlerStatusSummarisesGate(t *testing.T) {
	handler, _, user := newKYCHandlerFixture(t)

	recorder := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(recorder)
	c.Set(middleware.CtxUserIDKey, user.ID)
	handler.Status(c)

	require.Equal(t, http.StatusOK, recorder.Code)

	var summary services.KYCStatusSummary
	decodeData(t, recorder, &summary)
	require.False(t, summary.HasActiveKYC)
	require.False(t, summary.CanProceed)
	require.Equal(t, "identity verification is required", summary.BlockedReason)

	startRecorder := httptest.NewRecorder()
	c2, _ := gin.CreateTestContext(startRecorder)
	c2.Set(middleware.CtxUserIDKey, user.ID)
	jsonRequest(t, c2, http.MethodPost, gin.H{"type": "identity"})
	handler.Start(c2)
	require.Equal(t, http.StatusCreated, startRecorder.Code)

	statusRecorder := httptest.NewRecorder()
	c3, _ := gin.CreateTestContext(statusRecorder)
	c3.Set(middleware.CtxUserIDKey, user.ID)
	handler.Status(c3)

	require.Equal(t, http.StatusOK, statusRecorder.Code)

	decodeData(t, statusRecorder, &summary)
	require.True(t, summary.HasActiveKYC)
	require.False(t, summary.CanProceed)
	require.Equal(t, "the verification is still under review", summary.BlockedReason)
	require.Len(t, summary.Verifications, 1)
}
