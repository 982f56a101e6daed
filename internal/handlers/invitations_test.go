package handlers

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/lcourbet/promogate/internal/middleware"
	"github.com/lcourbet/promogate/internal/models"
	"github.com/lcourbet/promogate/internal/services"
	"github.com/lcourbet/promogate/pkg/response"
)

func openHandlerTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:handlers_%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)

	require.NoError(t, db.AutoMigrate(
		&models.User{},
		&models.Organization{},
		&models.Project{},
		&models.ProjectInvitation{},
		&models.ProjectParticipant{},
		&models.StakeholderOnboarding{},
		&models.StakeholderPermissions{},
		&models.StakeholderSession{},
		&models.PhoneVerification{},
		&models.SMSCode{},
		&models.KYCVerification{},
		&models.KYCDocument{},
		&models.ActivityLog{},
	))

	sqlDB, err := db.DB()
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = sqlDB.Close()
	})

	return db
}

func newInvitationHandlerFixture(t *testing.T) (*InvitationHandler, *gorm.DB, *models.User, *models.Project) {
	t.Helper()

	db := openHandlerTestDB(t)
	activity, err := services.NewActivityService(db)
	require.NoError(t, err)
	svc, err := services.NewInvitationService(db, nil, activity)
	require.NoError(t, err)

	inviter := models.User{Email: "promoter@example.com", FirstName: "Claire", LastName: "Morand"}
	require.NoError(t, db.Create(&inviter).Error)

	org := models.Organization{Name: "Morand Immobilier", Slug: "morand-immobilier"}
	require.NoError(t, db.Create(&org).Error)
	project := models.Project{OrganizationID: org.ID, Name: "Les Jardins", City: "Geneva", Canton: "GE"}
	require.NoError(t, db.Create(&project).Error)

	return NewInvitationHandler(svc), db, &inviter, &project
}

func jsonRequest(t *testing.T, c *gin.Context, method string, body any) {
	t.Helper()

	encoded, err := json.Marshal(body)
	require.NoError(t, err)
	c.Request = httptest.NewRequest(method, "/", bytes.NewReader(encoded))
	c.Request.Header.Set("Content-Type", "application/json")
}

func decodeData(t *testing.T, recorder *httptest.ResponseRecorder, out any) {
	t.Helper()

	var payload response.Response
	require.NoError(t, json.Unmarshal(recorder.Body.Bytes(), &payload))
	require.True(t, payload.Success)

	encoded, err := json.Marshal(payload.Data)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(encoded, out))
}

func TestInvitationHandlerSendInfoAcceptFlow(t *testing.T) {
	handler, db, inviter, project := newInvitationHandlerFixture(t)

	recorder := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(recorder)
	c.Set(middleware.CtxUserIDKey, inviter.ID)
	jsonRequest(t, c, http.MethodPost, gin.H{
		"project_id": project.ID,
		"email":      "broker@example.com",
		"first_name": "Jean",
		"last_name":  "Dupont",
		"role":       "broker",
	})
	handler.Send(c)

	require.Equal(t, http.StatusCreated, recorder.Code)

	var created struct {
		Invitation models.ProjectInvitation `json:"invitation"`
		Link       string                   `json:"link"`
	}
	decodeData(t, recorder, &created)
	require.NotEmpty(t, created.Link)
	require.Equal(t, models.InvitationPending, created.Invitation.Status)
	require.Equal(t, models.RoleBroker, created.Invitation.Role)

	// Without a configured base URL the link is the bare token.
	infoRecorder := httptest.NewRecorder()
	c2, _ := gin.CreateTestContext(infoRecorder)
	c2.Params = gin.Params{gin.Param{Key: "id", Value: created.Link}}
	handler.Info(c2)

	require.Equal(t, http.StatusOK, infoRecorder.Code)

	var info invitationInfoResponse
	decodeData(t, infoRecorder, &info)
	require.Equal(t, "broker@example.com", info.Email)
	require.Equal(t, "Les Jardins", info.ProjectName)
	require.Equal(t, "Claire Morand", info.InviterName)

	invitee := models.User{Email: "broker@example.com"}
	require.NoError(t, db.Create(&invitee).Error)

	acceptRecorder := httptest.NewRecorder()
	c3, _ := gin.CreateTestContext(acceptRecorder)
	c3.Params = gin.Params{gin.Param{Key: "id", Value: created.Link}}
	c3.Set(middleware.CtxUserIDKey, invitee.ID)
	handler.Accept(c3)

	require.Equal(t, http.StatusOK, acceptRecorder.Code)

	var participant models.ProjectParticipant
	require.NoError(t, db.Where("project_id = ? AND user_id = ?", project.ID, invitee.ID).First(&participant).Error)
	require.Equal(t, models.RoleBroker, participant.Role)

	// A second acceptance of the same link reports the consumed state.
	other := models.User{Email: "other@example.com"}
	require.NoError(t, db.Create(&other).Error)

	replayRecorder := httptest.NewRecorder()
	c4, _ := gin.CreateTestContext(replayRecorder)
	c4.Params = gin.Params{gin.Param{Key: "id", Value: created.Link}}
	c4.Set(middleware.CtxUserIDKey, other.ID)
	handler.Accept(c4)

	require.Equal(t, http.StatusConflict, replayRecorder.Code)
}

func TestInvitationHandlerRejectsUnknownRole(t *testing.T) {
	handler, _, inviter, project := newInvitationHandlerFixture(t)

	recorder := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(recorder)
	c.Set(middleware.CtxUserIDKey, inviter.ID)
	jsonRequest(t, c, http.MethodPost, gin.H{
		"project_id": project.ID,
		"email":      "broker@example.com",
		"role":       "wizard",
	})
	handler.Send(c)

	require.Equal(t, http.StatusBadRequest, recorder.Code)
}

func TestInvitationHandlerInfoUnknownToken(t *testing.T) {
	handler, _, _, _ := newInvitationHandlerFixture(t)

	recorder := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(recorder)
	c.Params = gin.Params{gin.Param{Key: "id", Value: "no-such-token"}}
	handler.Info(c)

	require.Equal(t, http.StatusNotFound, recorder.Code)
}

func TestInvitationHandlerSendRequiresAuthentication(t *testing.T) {
	handler, _, _, project := newInvitationHandlerFixture(t)

	recorder := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(recorder)
	jsonRequest(t, c, http.MethodPost, gin.H{
		"project_id": project.ID,
		"email":      "broker@example.com",
		"role":       "broker",
	})
	handler.Send(c)

	require.Equal(t, http.StatusUnauthorized, recorder.Code)
}
