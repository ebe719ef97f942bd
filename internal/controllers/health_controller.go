package controllers

import (
	"net/http"

	"github.com/sirupsen/logrus"

	"github.com/passcard/attest-service/internal/platform/httpx"
)

// HealthController answers GET /health with no dependency on the device
// store's backend - liveness only, matching the teacher's health_controller.go
// shape but without a DB ping since this service has no mandatory database.
type HealthController struct {
	logger *logrus.Logger
}

func NewHealthController(logger *logrus.Logger) *HealthController {
	return &HealthController{logger: logger}
}

func (c *HealthController) HealthCheck(w http.ResponseWriter, r *http.Request) {
	httpx.RespondJSON(w, http.StatusOK, map[string]any{"success": true, "status": "OK"})
}
