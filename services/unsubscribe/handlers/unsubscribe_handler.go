package handlers

import (
	"net/http"

	"pulsar-mailer/services/unsubscribe/repository"
	"pulsar-mailer/shared/logger"
	"pulsar-mailer/shared/tokens"

	"github.com/gin-gonic/gin"
)

// HealthChecker reports whether the ledger's backing store is reachable
type HealthChecker interface {
	Health() error
}

// UnsubscribeHandler serves the unsubscribe link endpoint and the
// bounce webhook. Both only write to the ledger the batch mailer reads.
type UnsubscribeHandler struct {
	ledger      repository.LedgerRepository
	health      HealthChecker
	tokenSecret string
	log         *logger.Logger
}

// NewUnsubscribeHandler creates a new unsubscribe handler
func NewUnsubscribeHandler(ledger repository.LedgerRepository, health HealthChecker, tokenSecret string, log *logger.Logger) *UnsubscribeHandler {
	return &UnsubscribeHandler{
		ledger:      ledger,
		health:      health,
		tokenSecret: tokenSecret,
		log:         log,
	}
}

// bounceRequest is the provider webhook payload
type bounceRequest struct {
	Email  string `json:"email" binding:"required,email"`
	Reason string `json:"reason,omitempty"`
}

// RegisterRoutes wires the handler into the router
func (h *UnsubscribeHandler) RegisterRoutes(router *gin.Engine) {
	router.GET("/unsubscribe", h.Unsubscribe)
	router.POST("/webhooks/bounce", h.Bounce)
	router.GET("/health", h.Health)
}

// Unsubscribe handles the signed link opened from an email client.
// The token carries the address, so the page needs no form.
func (h *UnsubscribeHandler) Unsubscribe(c *gin.Context) {
	tokenString := c.Query("token")
	if tokenString == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "token is required"})
		return
	}

	email, err := tokens.VerifyUnsubscribe(h.tokenSecret, tokenString)
	if err != nil {
		h.log.WithError(err).Warn("Rejected unsubscribe token")
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid unsubscribe token"})
		return
	}

	if err := h.ledger.RecordUnsubscribe(email, "link"); err != nil {
		h.log.WithFields(map[string]interface{}{
			"email": email,
			"error": err.Error(),
		}).Error("Failed to record unsubscribe")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to process unsubscribe"})
		return
	}

	h.log.WithField("email", email).Info("Unsubscribe recorded")
	c.Data(http.StatusOK, "text/html; charset=utf-8", []byte(unsubscribePage))
}

// Bounce handles provider bounce notifications
func (h *UnsubscribeHandler) Bounce(c *gin.Context) {
	var req bounceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid bounce payload"})
		return
	}

	if err := h.ledger.RecordBounce(req.Email, req.Reason); err != nil {
		h.log.WithFields(map[string]interface{}{
			"email": req.Email,
			"error": err.Error(),
		}).Error("Failed to record bounce")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to record bounce"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "recorded"})
}

// Health reports service health, including the ledger database
func (h *UnsubscribeHandler) Health(c *gin.Context) {
	if err := h.health.Health(); err != nil {
		h.log.WithError(err).Error("Health check failed")
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unhealthy"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

const unsubscribePage = `<!DOCTYPE html>
<html lang="pt-BR">
<head>
    <meta charset="UTF-8">
    <title>Descadastro confirmado</title>
</head>
<body>
    <h1>Descadastro confirmado</h1>
    <p>Você não receberá mais nossos emails.</p>
</body>
</html>`
