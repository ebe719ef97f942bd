package appattest

import (
	"context"
	"crypto/ecdsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/asn1"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math/big"

	"github.com/fxamacker/cbor/v2"
)

// assertionEnvelope is the CBOR shape produced by DCAppAttestService's
// generateAssertion, per spec.md §3.
type assertionEnvelope struct {
	Signature         []byte `cbor:"signature"`
	AuthenticatorData []byte `cbor:"authenticatorData"`
}

// boundPayload is the exact two-field object bound into every assertion
// (spec.md §4.2 step 4). Field order matters: encoding/json serializes
// struct fields in declaration order, so PassportHash must stay first for
// the client and server to produce byte-identical serializations.
type boundPayload struct {
	PassportHash string `json:"passportHash"`
	EVMAddress   string `json:"evmAddress"`
}

type ecdsaSignature struct {
	R, S *big.Int
}

// VerifyAssertion runs the full C2 pipeline (spec.md §4.2) as a pure
// function: the caller has already loaded storedPublicKeyDER/storedCounter
// for credentialId and is responsible for atomically committing newCounter
// (and the lowercased evmAddress/passportHash) after this returns nil.
//
// evmAddress is used exactly as given, uncased, when reconstructing the
// signed payload - the client may have signed any casing, and the server
// must reproduce the identical bytes. Lowercasing for storage is the
// caller's job.
func VerifyAssertion(ctx context.Context, assertionBytes []byte, storedPublicKeyDER []byte, storedCounter uint32, passportHash, evmAddress string) (uint32, error) {
	var env assertionEnvelope
	if err := cbor.Unmarshal(assertionBytes, &env); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrMalformedInput, err)
	}
	if len(env.AuthenticatorData) < authDataAAGUIDOff {
		return 0, ErrMalformedInput
	}

	counter := binary.BigEndian.Uint32(env.AuthenticatorData[authDataCounterOff:authDataAAGUIDOff])
	if counter <= storedCounter {
		return 0, ErrReplay
	}

	payloadBytes, err := json.Marshal(boundPayload{PassportHash: passportHash, EVMAddress: evmAddress})
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrMalformedInput, err)
	}
	clientDataHash := sha256.Sum256(payloadBytes)

	h := sha256.New()
	h.Write(env.AuthenticatorData)
	h.Write(clientDataHash[:])
	message := h.Sum(nil)

	pubAny, err := x509.ParsePKIXPublicKey(storedPublicKeyDER)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrBadSignature, err)
	}
	pub, ok := pubAny.(*ecdsa.PublicKey)
	if !ok {
		return 0, ErrBadSignature
	}

	var sig ecdsaSignature
	if _, err := asn1.Unmarshal(env.Signature, &sig); err != nil {
		return 0, ErrBadSignature
	}
	if sig.R == nil || sig.S == nil {
		return 0, ErrBadSignature
	}
	if !ecdsa.Verify(pub, message, sig.R, sig.S) {
		return 0, ErrBadSignature
	}

	return counter, nil
}
