// Package routes centralizes the route path constants, mirroring the
// teacher's jobs-service/internal/routes/routes.go.
package routes

const (
	VerifyAttestation = "/attest/verify-attestation"
	VerifyAssertion   = "/attest/verify-assertion"
	PrimusInit        = "/primus/init"
	PrimusSign        = "/primus/sign"
	PrimusVerify      = "/primus/verify"
	Identity          = "/identity"
	Health            = "/health"
)
