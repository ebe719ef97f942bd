// Package apptest builds well-formed App Attest attestation and assertion
// wire objects for tests outside internal/appattest (e.g. internal/controllers)
// that need to drive the real HTTP handlers with real CBOR/X.509 fixtures
// rather than calling the verifiers directly. It mirrors, in exported form,
// the fixture generation internal/appattest's own _test.go files use
// internally - the wire shapes here are duplicated rather than imported
// because the originals are unexported CBOR envelope types.
package apptest

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/asn1"
	"encoding/binary"
	"encoding/json"
	"math/big"
	"testing"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/stretchr/testify/require"
)

// DevAAGUID is the development-environment AAGUID App Attest embeds in
// attested authenticator data, per spec.md §3.
var DevAAGUID = []byte("appattestdevelop")

var appleNonceExtOID = asn1.ObjectIdentifier{1, 2, 840, 113635, 100, 8, 2}

type attestationEnvelope struct {
	Fmt      string          `cbor:"fmt"`
	AttStmt  attestationStmt `cbor:"attStmt"`
	AuthData []byte          `cbor:"authData"`
}

type attestationStmt struct {
	X5C     [][]byte `cbor:"x5c"`
	Receipt []byte   `cbor:"receipt"`
}

type assertionEnvelope struct {
	Signature         []byte `cbor:"signature"`
	AuthenticatorData []byte `cbor:"authenticatorData"`
}

type boundPayload struct {
	PassportHash string `json:"passportHash"`
	EVMAddress   string `json:"evmAddress"`
}

type ecdsaSignature struct {
	R, S *big.Int
}

// AttestationFixture is a complete, spec-correct enrollment: a CBOR-encoded
// attestation object whose leaf certificate chains to RootCert and whose
// nonce extension is bound to Challenge, plus the credential id (KeyID) a
// client would send alongside it.
type AttestationFixture struct {
	AttestationBytes []byte
	Challenge        []byte
	KeyID            []byte
	RootCert         *x509.Certificate
	LeafKey          *ecdsa.PrivateKey
}

// BuildAttestationFixture generates a self-signed root -> intermediate ->
// leaf P-256 chain and CBOR-encodes it as an "apple-appattest" attestation
// object, with counter 0 and the AT flag set, matching what
// DCAppAttestService.attestKey produces for a fresh key.
func BuildAttestationFixture(t *testing.T, challenge []byte) *AttestationFixture {
	t.Helper()

	rootKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	rootTemplate := &x509.Certificate{
		SerialNumber:          big.NewInt(1),
		Subject:               pkix.Name{CommonName: "Test App Attest Root CA"},
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().Add(24 * time.Hour),
		IsCA:                  true,
		BasicConstraintsValid: true,
		KeyUsage:              x509.KeyUsageCertSign,
	}
	rootDER, err := x509.CreateCertificate(rand.Reader, rootTemplate, rootTemplate, &rootKey.PublicKey, rootKey)
	require.NoError(t, err)
	rootCert, err := x509.ParseCertificate(rootDER)
	require.NoError(t, err)

	intermediateKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	intermediateTemplate := &x509.Certificate{
		SerialNumber:          big.NewInt(2),
		Subject:               pkix.Name{CommonName: "Test App Attest Intermediate CA"},
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().Add(24 * time.Hour),
		IsCA:                  true,
		BasicConstraintsValid: true,
		KeyUsage:              x509.KeyUsageCertSign,
	}
	intermediateDER, err := x509.CreateCertificate(rand.Reader, intermediateTemplate, rootCert, &intermediateKey.PublicKey, rootKey)
	require.NoError(t, err)
	intermediateCert, err := x509.ParseCertificate(intermediateDER)
	require.NoError(t, err)

	leafKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)

	credentialID := sha256Sum(uncompressedPoint(&leafKey.PublicKey))
	authData := buildAuthData(0, true, DevAAGUID, credentialID)

	challengeHash := sha256Sum(challenge)
	certNonce := sha256Sum(append(append([]byte{}, authData...), challengeHash...))
	nonceExt := pkix.Extension{Id: appleNonceExtOID, Value: certNonce}

	leafTemplate := &x509.Certificate{
		SerialNumber:    big.NewInt(3),
		Subject:         pkix.Name{CommonName: "Test App Attest Leaf"},
		NotBefore:       time.Now().Add(-time.Hour),
		NotAfter:        time.Now().Add(24 * time.Hour),
		ExtraExtensions: []pkix.Extension{nonceExt},
	}
	leafDER, err := x509.CreateCertificate(rand.Reader, leafTemplate, intermediateCert, &leafKey.PublicKey, intermediateKey)
	require.NoError(t, err)
	leafCert, err := x509.ParseCertificate(leafDER)
	require.NoError(t, err)

	env := attestationEnvelope{
		Fmt:      "apple-appattest",
		AttStmt:  attestationStmt{X5C: [][]byte{leafCert.Raw, intermediateCert.Raw}},
		AuthData: authData,
	}
	attestationBytes, err := cbor.Marshal(env)
	require.NoError(t, err)

	return &AttestationFixture{
		AttestationBytes: attestationBytes,
		Challenge:        challenge,
		KeyID:            credentialID,
		RootCert:         rootCert,
		LeafKey:          leafKey,
	}
}

// AssertionFixture is a signed assertion binding (PassportHash, EVMAddress)
// at a given counter, plus its raw signature/authenticator-data components
// so a test can tamper with one and re-encode via EncodeAssertion.
type AssertionFixture struct {
	AssertionBytes []byte
	SignatureDER   []byte
	AuthData       []byte
	PassportHash   string
	EVMAddress     string
}

// BuildAssertionFixture signs a binding of (passportHash, evmAddress) at
// counter using key, matching what DCAppAttestService.generateAssertion
// produces for the identical call.
func BuildAssertionFixture(t *testing.T, key *ecdsa.PrivateKey, counter uint32, passportHash, evmAddress string) *AssertionFixture {
	t.Helper()
	authData := buildAuthData(counter, false, nil, nil)

	payloadBytes, err := json.Marshal(boundPayload{PassportHash: passportHash, EVMAddress: evmAddress})
	require.NoError(t, err)
	clientDataHash := sha256Sum(payloadBytes)

	h := sha256.New()
	h.Write(authData)
	h.Write(clientDataHash)
	message := h.Sum(nil)

	r, s, err := ecdsa.Sign(rand.Reader, key, message)
	require.NoError(t, err)
	sigDER, err := asn1.Marshal(ecdsaSignature{R: r, S: s})
	require.NoError(t, err)

	return &AssertionFixture{
		AssertionBytes: EncodeAssertion(t, sigDER, authData),
		SignatureDER:   sigDER,
		AuthData:       authData,
		PassportHash:   passportHash,
		EVMAddress:     evmAddress,
	}
}

// EncodeAssertion CBOR-encodes a raw (possibly tampered) signature/
// authenticator-data pair into the wire shape VerifyAssertion decodes.
func EncodeAssertion(t *testing.T, signatureDER, authData []byte) []byte {
	t.Helper()
	env := assertionEnvelope{Signature: signatureDER, AuthenticatorData: authData}
	data, err := cbor.Marshal(env)
	require.NoError(t, err)
	return data
}

func buildAuthData(counter uint32, atFlagSet bool, aaguid, credentialID []byte) []byte {
	authData := make([]byte, 37)
	copy(authData[0:32], sha256Sum([]byte("test-rp-id")))
	if atFlagSet {
		authData[32] = 0x40
	}
	binary.BigEndian.PutUint32(authData[33:37], counter)
	if len(credentialID) == 0 {
		return authData
	}
	authData = append(authData, aaguid...)
	credLen := make([]byte, 2)
	binary.BigEndian.PutUint16(credLen, uint16(len(credentialID)))
	authData = append(authData, credLen...)
	authData = append(authData, credentialID...)
	return authData
}

func uncompressedPoint(pub *ecdsa.PublicKey) []byte {
	return elliptic.Marshal(elliptic.P256(), pub.X, pub.Y)
}

func sha256Sum(b []byte) []byte {
	sum := sha256.Sum256(b)
	return sum[:]
}
