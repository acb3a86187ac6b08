package handlers

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"pulsar-mailer/services/mailer/models"
	"pulsar-mailer/services/unsubscribe/repository"
	"pulsar-mailer/shared/database"
	"pulsar-mailer/shared/logger"
	"pulsar-mailer/shared/tokens"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

const testSecret = "test-secret"

// setupTestRouter creates a router over an in-memory SQLite ledger
func setupTestRouter(t *testing.T) (*gin.Engine, *database.DB) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	gormDB, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	db := &database.DB{DB: gormDB}
	require.NoError(t, db.AutoMigrate(&models.Unsubscribe{}, &models.Bounce{}))

	handler := NewUnsubscribeHandler(repository.NewLedgerRepository(db), db, testSecret, logger.Discard())
	router := gin.New()
	handler.RegisterRoutes(router)

	return router, db
}

func TestUnsubscribeRecordsNormalizedEmail(t *testing.T) {
	router, db := setupTestRouter(t)

	token, err := tokens.SignUnsubscribe(testSecret, "  Maria@Example.COM ")
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/unsubscribe?token="+token, nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "Descadastro confirmado")

	var entry models.Unsubscribe
	require.NoError(t, db.First(&entry, "email = ?", "maria@example.com").Error)
	assert.Equal(t, "link", entry.Source)
}

func TestUnsubscribeIsIdempotent(t *testing.T) {
	router, db := setupTestRouter(t)

	token, err := tokens.SignUnsubscribe(testSecret, "maria@example.com")
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		req := httptest.NewRequest(http.MethodGet, "/unsubscribe?token="+token, nil)
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		assert.Equal(t, http.StatusOK, w.Code)
	}

	var count int64
	require.NoError(t, db.Model(&models.Unsubscribe{}).Count(&count).Error)
	assert.Equal(t, int64(1), count)
}

func TestUnsubscribeRejectsMissingToken(t *testing.T) {
	router, _ := setupTestRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/unsubscribe", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestUnsubscribeRejectsForgedToken(t *testing.T) {
	router, db := setupTestRouter(t)

	forged, err := tokens.SignUnsubscribe("wrong-secret", "maria@example.com")
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/unsubscribe?token="+forged, nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)

	var count int64
	require.NoError(t, db.Model(&models.Unsubscribe{}).Count(&count).Error)
	assert.Equal(t, int64(0), count)
}

func TestBounceWebhookRecordsBounce(t *testing.T) {
	router, db := setupTestRouter(t)

	body, err := json.Marshal(map[string]string{
		"email":  "Joao@Example.com",
		"reason": "mailbox full",
	})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/webhooks/bounce", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)

	var entry models.Bounce
	require.NoError(t, db.First(&entry, "email = ?", "joao@example.com").Error)
	assert.Equal(t, "mailbox full", entry.Reason)
}

func TestBounceWebhookRejectsInvalidPayload(t *testing.T) {
	router, _ := setupTestRouter(t)

	req := httptest.NewRequest(http.MethodPost, "/webhooks/bounce", bytes.NewReader([]byte(`{"reason":"no email"}`)))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHealthEndpoint(t *testing.T) {
	router, _ := setupTestRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
}

func TestHealthEndpointReportsDatabaseFailure(t *testing.T) {
	router, db := setupTestRouter(t)
	require.NoError(t, db.Close())

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}
