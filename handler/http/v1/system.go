package v1

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"resynth/src/core/effects"
)

type HealthStatus struct {
	Status string    `json:"status"`
	Time   time.Time `json:"time"`
}

// CheckHealth godoc
// @Summary Check service liveness
// @Tags system
// @Produce json
// @Success 200 {object} HealthStatus
// @Router /health [get]
func (h *Handler) CheckHealth(c *gin.Context) {
	sendJSON(c, http.StatusOK, HealthStatus{Status: "ok", Time: time.Now().UTC()})
}

// ListEffects godoc
// @Summary List available effects and their default parameters
// @Tags system
// @Produce json
// @Success 200 {array} effects.Definition
// @Router /effects [get]
func (h *Handler) ListEffects(c *gin.Context) {
	sendJSON(c, http.StatusOK, gin.H{"effects": effects.Catalog()})
}
