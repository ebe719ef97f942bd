package controllers

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/sirupsen/logrus"

	"github.com/passcard/attest-service/internal/appattest"
	"github.com/passcard/attest-service/internal/devicestore"
	"github.com/passcard/attest-service/internal/dtos"
	"github.com/passcard/attest-service/internal/platform/httpx"
	"github.com/passcard/attest-service/internal/platform/middleware"
)

var attestValidate = validator.New()

// AttestController implements POST /attest/verify-attestation and
// POST /attest/verify-assertion, parsing/validating requests and dispatching
// typed errors from internal/appattest and internal/devicestore, exactly as
// health_controller.go / mobile_attestation_middleware.go do it: an explicit
// errors.Is chain per handler, not a generic type-switch table.
type AttestController struct {
	service *appattest.Service
	logger  *logrus.Logger
}

func NewAttestController(service *appattest.Service, logger *logrus.Logger) *AttestController {
	return &AttestController{service: service, logger: logger}
}

func (c *AttestController) VerifyAttestation(w http.ResponseWriter, r *http.Request) {
	var req dtos.VerifyAttestationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpx.RespondError(w, http.StatusBadRequest, "ErrBadFormat")
		return
	}
	if err := attestValidate.Struct(req); err != nil {
		httpx.RespondError(w, http.StatusBadRequest, "ErrBadFormat")
		return
	}

	attestationBytes, err := base64.StdEncoding.DecodeString(req.Attestation)
	if err != nil {
		httpx.RespondError(w, http.StatusBadRequest, "ErrBadFormat")
		return
	}
	keyID, err := base64.StdEncoding.DecodeString(req.KeyID)
	if err != nil {
		httpx.RespondError(w, http.StatusBadRequest, "ErrBadFormat")
		return
	}

	publicKeyDER, err := c.service.Enroll(r.Context(), attestationBytes, []byte(req.Challenge), keyID)
	if err != nil {
		middleware.LogEntry(r.Context(), c.logger).WithError(err).Warn("verify-attestation failed")
		c.respondAttestationError(w, err)
		return
	}

	httpx.RespondJSON(w, http.StatusOK, dtos.VerifyAttestationResponse{
		Success:   true,
		PublicKey: base64.StdEncoding.EncodeToString(publicKeyDER),
	})
}

func (c *AttestController) respondAttestationError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, appattest.ErrBadFormat),
		errors.Is(err, appattest.ErrChainTooShort),
		errors.Is(err, appattest.ErrCertChain),
		errors.Is(err, appattest.ErrAtFlagUnset),
		errors.Is(err, appattest.ErrBadPointFormat),
		errors.Is(err, appattest.ErrCredentialIdMismatch),
		errors.Is(err, appattest.ErrNonceMissing),
		errors.Is(err, appattest.ErrNonceMismatch),
		errors.Is(err, appattest.ErrNonZeroInitialCounter),
		errors.Is(err, appattest.ErrAAGUIDMismatch):
		// Report the bare sentinel as the wire code, not the wrapped cause.
		code := err
		for errors.Unwrap(code) != nil {
			code = errors.Unwrap(code)
		}
		httpx.RespondError(w, http.StatusBadRequest, code.Error())
	case errors.Is(err, devicestore.ErrUnavailable):
		httpx.RespondError(w, http.StatusInternalServerError, "ErrStoreUnavailable")
	default:
		httpx.RespondError(w, http.StatusInternalServerError, "internal")
	}
}

func (c *AttestController) VerifyAssertion(w http.ResponseWriter, r *http.Request) {
	var req dtos.VerifyAssertionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpx.RespondError(w, http.StatusBadRequest, "ErrBadFormat")
		return
	}
	if err := attestValidate.Struct(req); err != nil {
		httpx.RespondError(w, http.StatusBadRequest, "ErrBadFormat")
		return
	}

	assertionBytes, err := base64.StdEncoding.DecodeString(req.Assertion)
	if err != nil {
		httpx.RespondError(w, http.StatusBadRequest, "ErrBadFormat")
		return
	}
	keyID, err := base64.StdEncoding.DecodeString(req.KeyID)
	if err != nil {
		httpx.RespondError(w, http.StatusBadRequest, "ErrBadFormat")
		return
	}

	if err := c.service.Bind(r.Context(), assertionBytes, keyID, req.PassportHash, req.EVMAddress); err != nil {
		middleware.LogEntry(r.Context(), c.logger).WithError(err).Warn("verify-assertion failed")
		c.respondAssertionError(w, err)
		return
	}

	httpx.RespondJSON(w, http.StatusOK, dtos.VerifyAssertionResponse{
		Success:      true,
		EVMAddress:   req.EVMAddress,
		PassportHash: req.PassportHash,
	})
}

func (c *AttestController) respondAssertionError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, appattest.ErrDeviceUnknown):
		httpx.RespondError(w, http.StatusNotFound, "ErrDeviceUnknown")
	case errors.Is(err, appattest.ErrReplay):
		httpx.RespondError(w, http.StatusBadRequest, "ErrReplay")
	case errors.Is(err, appattest.ErrBadSignature):
		httpx.RespondError(w, http.StatusBadRequest, "ErrBadSignature")
	case errors.Is(err, appattest.ErrMalformedInput):
		httpx.RespondError(w, http.StatusBadRequest, "ErrBadFormat")
	case errors.Is(err, devicestore.ErrUnavailable), errors.Is(err, devicestore.ErrStaleCounter):
		httpx.RespondError(w, http.StatusInternalServerError, "ErrStoreUnavailable")
	default:
		httpx.RespondError(w, http.StatusInternalServerError, "internal")
	}
}
