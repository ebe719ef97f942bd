package controllers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/sirupsen/logrus"

	"github.com/passcard/attest-service/internal/dtos"
	"github.com/passcard/attest-service/internal/platform/httpx"
	"github.com/passcard/attest-service/internal/platform/middleware"
	"github.com/passcard/attest-service/internal/primus"
)

var primusValidate = validator.New()

// PrimusController implements the three broker façade endpoints (spec.md §4.4/§6).
type PrimusController struct {
	broker *primus.Broker
	logger *logrus.Logger
}

func NewPrimusController(broker *primus.Broker, logger *logrus.Logger) *PrimusController {
	return &PrimusController{broker: broker, logger: logger}
}

func (c *PrimusController) Init(w http.ResponseWriter, r *http.Request) {
	if err := c.broker.InitOnce(); err != nil {
		middleware.LogEntry(r.Context(), c.logger).WithError(err).Error("primus init failed")
		httpx.RespondError(w, http.StatusInternalServerError, "ErrBrokerUnavailable")
		return
	}
	httpx.RespondJSON(w, http.StatusOK, dtos.PrimusInitResponse{Success: true})
}

func (c *PrimusController) Sign(w http.ResponseWriter, r *http.Request) {
	var req dtos.PrimusSignRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpx.RespondError(w, http.StatusBadRequest, "ErrBadFormat")
		return
	}
	if err := primusValidate.Struct(req); err != nil {
		httpx.RespondError(w, http.StatusBadRequest, "ErrBadFormat")
		return
	}

	signed, err := c.broker.SignRequest(req.TemplateID, req.UserAddress)
	if err != nil {
		middleware.LogEntry(r.Context(), c.logger).WithError(err).Error("primus sign failed")
		httpx.RespondError(w, http.StatusInternalServerError, "ErrBrokerUnavailable")
		return
	}

	httpx.RespondJSON(w, http.StatusOK, dtos.PrimusSignResponse{Success: true, SignedRequestStr: signed})
}

func (c *PrimusController) Verify(w http.ResponseWriter, r *http.Request) {
	var req dtos.PrimusVerifyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpx.RespondError(w, http.StatusBadRequest, "ErrBadFormat")
		return
	}
	if err := primusValidate.Struct(req); err != nil {
		httpx.RespondError(w, http.StatusBadRequest, "ErrBadFormat")
		return
	}

	verified, err := c.broker.VerifyArtifact(r.Context(), req.Attestation)
	if err != nil {
		if errors.Is(err, primus.ErrUnavailable) {
			middleware.LogEntry(r.Context(), c.logger).WithError(err).Error("primus verify failed")
			httpx.RespondError(w, http.StatusInternalServerError, "ErrBrokerUnavailable")
			return
		}
		httpx.RespondError(w, http.StatusInternalServerError, "internal")
		return
	}

	httpx.RespondJSON(w, http.StatusOK, dtos.PrimusVerifyResponse{Success: true, Verified: verified})
}
