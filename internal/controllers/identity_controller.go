package controllers

import (
	"net/http"

	"github.com/sirupsen/logrus"

	"github.com/passcard/attest-service/internal/appattest"
	"github.com/passcard/attest-service/internal/dtos"
	"github.com/passcard/attest-service/internal/platform/httpx"
	"github.com/passcard/attest-service/internal/platform/middleware"
)

// IdentityController implements GET /identity?address=. Never returns 404 -
// a missing binding is signaled by a null passportHash (spec.md §6).
type IdentityController struct {
	service *appattest.Service
	logger  *logrus.Logger
}

func NewIdentityController(service *appattest.Service, logger *logrus.Logger) *IdentityController {
	return &IdentityController{service: service, logger: logger}
}

func (c *IdentityController) Lookup(w http.ResponseWriter, r *http.Request) {
	address := r.URL.Query().Get("address")
	if address == "" {
		httpx.RespondError(w, http.StatusBadRequest, "ErrBadFormat")
		return
	}

	passportHash, err := c.service.Identity(r.Context(), address)
	if err != nil {
		middleware.LogEntry(r.Context(), c.logger).WithError(err).Error("identity lookup failed")
		httpx.RespondError(w, http.StatusInternalServerError, "ErrStoreUnavailable")
		return
	}

	resp := dtos.IdentityResponse{Success: true}
	if passportHash != "" {
		resp.PassportHash = &passportHash
	}
	httpx.RespondJSON(w, http.StatusOK, resp)
}
