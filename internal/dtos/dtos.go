// Package dtos holds the request/response wire shapes for every C5
// endpoint, tagged for github.com/go-playground/validator/v10 exactly as
// spec.md §6 names each field.
package dtos

// VerifyAttestationRequest is POST /attest/verify-attestation's body.
type VerifyAttestationRequest struct {
	Attestation string `json:"attestation" validate:"required,base64"`
	Challenge   string `json:"challenge" validate:"required"`
	KeyID       string `json:"keyId" validate:"required,base64"`
}

// VerifyAttestationResponse is its 200 body.
type VerifyAttestationResponse struct {
	Success   bool   `json:"success"`
	PublicKey string `json:"publicKey"`
}

// VerifyAssertionRequest is POST /attest/verify-assertion's body.
type VerifyAssertionRequest struct {
	Assertion    string `json:"assertion" validate:"required,base64"`
	KeyID        string `json:"keyId" validate:"required,base64"`
	PassportHash string `json:"passportHash" validate:"required,hexadecimal"`
	EVMAddress   string `json:"evmAddress" validate:"required,len=42,startswith=0x"`
}

// VerifyAssertionResponse is its 200 body.
type VerifyAssertionResponse struct {
	Success      bool   `json:"success"`
	EVMAddress   string `json:"evmAddress"`
	PassportHash string `json:"passportHash"`
}

// PrimusInitResponse is POST /primus/init's body.
type PrimusInitResponse struct {
	Success bool `json:"success"`
}

// PrimusSignRequest is POST /primus/sign's body.
type PrimusSignRequest struct {
	TemplateID  string `json:"templateId" validate:"required"`
	UserAddress string `json:"userAddress" validate:"required"`
}

// PrimusSignResponse is its 200 body.
type PrimusSignResponse struct {
	Success         bool   `json:"success"`
	SignedRequestStr string `json:"signedRequestStr"`
}

// PrimusVerifyRequest is POST /primus/verify's body.
type PrimusVerifyRequest struct {
	Attestation string `json:"attestation" validate:"required"`
}

// PrimusVerifyResponse is its 200 body.
type PrimusVerifyResponse struct {
	Success  bool `json:"success"`
	Verified bool `json:"verified"`
}

// IdentityResponse is GET /identity's 200 body. PassportHash is nil when no
// binding exists on file - spec.md §6: "Never 404; null signals no binding".
type IdentityResponse struct {
	Success      bool    `json:"success"`
	PassportHash *string `json:"passportHash"`
}
