package appattest

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/asn1"
	"encoding/binary"
	"math/big"
	"testing"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/stretchr/testify/require"
)

// appleNonceExtOID returns the parsed form of 1.2.840.113635.100.8.2, the OID
// findCertNonce scans for as raw bytes in rootca.go's appleNonceOIDBytes.
func appleNonceExtOID() asn1.ObjectIdentifier {
	return asn1.ObjectIdentifier{1, 2, 840, 113635, 100, 8, 2}
}

// tlv encodes a short-form ASN.1 tag-length-value triple. Test fixtures
// never need long-form lengths (>127 bytes).
func tlv(tag byte, value []byte) []byte {
	if len(value) > 127 {
		panic("appattest test fixture: value too long for short-form TLV")
	}
	out := make([]byte, 0, len(value)+2)
	out = append(out, tag, byte(len(value)))
	out = append(out, value...)
	return out
}

// buildExtnValueForDepth returns the bytes to assign as a pkix.Extension's
// Value such that findCertNonce discovers nonce at exactly the given depth.
// depth=1 means the extension's own OCTET STRING directly holds the nonce;
// each depth beyond that wraps one more ASN.1 SEQUENCE (tag 0x30) around it.
func buildExtnValueForDepth(nonce []byte, depth int) []byte {
	if depth == 1 {
		return nonce
	}
	elem := tlv(0x04, nonce)
	for i := 0; i < depth-2; i++ {
		elem = tlv(0x30, elem)
	}
	return elem
}

type fixtureChain struct {
	rootCert         *x509.Certificate
	rootKey          *ecdsa.PrivateKey
	intermediateCert *x509.Certificate
	intermediateKey  *ecdsa.PrivateKey
	leafCert         *x509.Certificate
	leafKey          *ecdsa.PrivateKey
}

// buildFixtureChain generates a self-signed root -> intermediate -> leaf P-256
// chain, embedding the App Attest nonce extension in the leaf at nonceDepth,
// binding certNonce to challenge via the spec-mandated
// SHA-256(authData || SHA-256(challenge)) construction.
func buildFixtureChain(t *testing.T, authData, challenge []byte, nonceDepth int) *fixtureChain {
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

	challengeHash := sha256.Sum256(challenge)
	nonceInput := append(append([]byte{}, authData...), challengeHash[:]...)
	certNonce := sha256.Sum256(nonceInput)

	nonceExt := pkix.Extension{
		Id:    appleNonceExtOID(),
		Value: buildExtnValueForDepth(certNonce[:], nonceDepth),
	}
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

	return &fixtureChain{
		rootCert:         rootCert,
		rootKey:          rootKey,
		intermediateCert: intermediateCert,
		intermediateKey:  intermediateKey,
		leafCert:         leafCert,
		leafKey:          leafKey,
	}
}

// uncompressedPoint returns the 65-byte 0x04||X||Y encoding of pub.
func uncompressedPoint(pub *ecdsa.PublicKey) []byte {
	return elliptic.Marshal(elliptic.P256(), pub.X, pub.Y)
}

// buildAuthData constructs a spec.md §3-layout authData blob. When
// credentialID is non-empty, AAGUID/credentialId are appended (attestation
// flow); otherwise the blob ends after the counter (assertion flow).
func buildAuthData(counter uint32, atFlagSet bool, aaguid, credentialID []byte) []byte {
	authData := make([]byte, 37)
	copy(authData[0:32], sha256Of("test-rp-id"))
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

func sha256Of(s string) []byte {
	sum := sha256.Sum256([]byte(s))
	return sum[:]
}

// encodeAttestation CBOR-encodes an attestationEnvelope for the given
// fixture chain and authData.
func encodeAttestation(t *testing.T, chain *fixtureChain, authData []byte) []byte {
	t.Helper()
	env := attestationEnvelope{
		Fmt: "apple-appattest",
		AttStmt: attestationStmt{
			X5C: [][]byte{chain.leafCert.Raw, chain.intermediateCert.Raw},
		},
		AuthData: authData,
	}
	data, err := cbor.Marshal(env)
	require.NoError(t, err)
	return data
}

// rebuildLeafWithRawNonce re-signs chain's leaf certificate (same leaf key,
// same intermediate issuer) with a nonce extension holding certNonce exactly
// at nonceDepth. Used once the real credentialId (and hence authData and the
// nonce bound to it) is known, since the nonce extension is embedded in the
// certificate that also carries the credential's public key.
func rebuildLeafWithRawNonce(t *testing.T, chain *fixtureChain, certNonce []byte, nonceDepth int) *fixtureChain {
	t.Helper()
	return rebuildLeafWithValidity(t, chain, certNonce, nonceDepth, time.Now().Add(-time.Hour), time.Now().Add(24*time.Hour))
}

// rebuildLeafExpired is rebuildLeafWithRawNonce with a validity window that
// already elapsed, for exercising leaf.Verify's date checking.
func rebuildLeafExpired(t *testing.T, chain *fixtureChain, certNonce []byte, nonceDepth int) *fixtureChain {
	t.Helper()
	return rebuildLeafWithValidity(t, chain, certNonce, nonceDepth, time.Now().Add(-48*time.Hour), time.Now().Add(-24*time.Hour))
}

func rebuildLeafWithValidity(t *testing.T, chain *fixtureChain, certNonce []byte, nonceDepth int, notBefore, notAfter time.Time) *fixtureChain {
	t.Helper()
	nonceExt := pkix.Extension{
		Id:    appleNonceExtOID(),
		Value: buildExtnValueForDepth(certNonce, nonceDepth),
	}
	leafTemplate := &x509.Certificate{
		SerialNumber:    big.NewInt(3),
		Subject:         pkix.Name{CommonName: "Test App Attest Leaf"},
		NotBefore:       notBefore,
		NotAfter:        notAfter,
		ExtraExtensions: []pkix.Extension{nonceExt},
	}
	leafDER, err := x509.CreateCertificate(rand.Reader, leafTemplate, chain.intermediateCert, &chain.leafKey.PublicKey, chain.intermediateKey)
	require.NoError(t, err)
	leafCert, err := x509.ParseCertificate(leafDER)
	require.NoError(t, err)

	return &fixtureChain{
		rootCert:         chain.rootCert,
		rootKey:          chain.rootKey,
		intermediateCert: chain.intermediateCert,
		intermediateKey:  chain.intermediateKey,
		leafCert:         leafCert,
		leafKey:          chain.leafKey,
	}
}
