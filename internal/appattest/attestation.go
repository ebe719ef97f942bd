// Package appattest implements the Apple App Attest attestation and
// assertion verification pipelines (C1/C2). Both are pure, network-free
// functions: no component here touches the device store or any socket.
package appattest

import (
	"bytes"
	"context"
	"crypto/ecdsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/binary"
	"encoding/pem"
	"fmt"
	"sync"
	"time"

	"github.com/fxamacker/cbor/v2"
)

// authData field offsets, per spec.md §3 ("authData layout").
const (
	authDataRPIDHashLen  = 32
	authDataFlagsOffset  = 32
	authDataCounterOff   = 33
	authDataAAGUIDOff    = 37
	authDataAAGUIDLen    = 16
	authDataCredIDLenOff = 53
	authDataCredIDOff    = 55

	atFlagMask = 0x40
)

var (
	devAAGUID  = []byte("appattestdevelop")
	prodAAGUID = append([]byte("appattest"), make([]byte, 7)...)
)

// Environment selects which AAGUID an enrollment is expected to carry. Empty
// (the zero value) skips the AAGUID check entirely.
type Environment string

const (
	EnvUnspecified Environment = ""
	EnvDevelopment Environment = "dev"
	EnvProduction  Environment = "prod"
)

// VerifyOptions carries the two behaviors spec.md leaves as open questions /
// supplemental checks rather than hard-coding them (SPEC_FULL.md §5, §11).
type VerifyOptions struct {
	// Environment gates the supplemental AAGUID check. Left unspecified,
	// no AAGUID check is performed.
	Environment Environment
	// AcceptLegacyNonceVariant additionally accepts
	// SHA-256(authData || challenge) (no inner hash of challenge) alongside
	// the spec-mandated SHA-256(authData || SHA-256(challenge)). Defaults to
	// false; production deployments should leave this off.
	AcceptLegacyNonceVariant bool
	// RootCA overrides the pinned Apple root for testing; nil uses the
	// compiled-in production root.
	RootCA *x509.Certificate
}

// attestationEnvelope is the CBOR shape produced by DCAppAttestService's
// attestKey, per spec.md §3.
type attestationEnvelope struct {
	Fmt      string        `cbor:"fmt"`
	AttStmt  attestationStmt `cbor:"attStmt"`
	AuthData []byte        `cbor:"authData"`
}

type attestationStmt struct {
	X5C     [][]byte `cbor:"x5c"`
	Receipt []byte   `cbor:"receipt"`
}

var (
	rootCAOnce sync.Once
	rootCA     *x509.Certificate
	rootCAErr  error
)

func pinnedRootCA() (*x509.Certificate, error) {
	rootCAOnce.Do(func() {
		block, _ := pem.Decode([]byte(appleAppAttestRootCA))
		if block == nil {
			rootCAErr = fmt.Errorf("appattest: pinned root CA PEM did not decode")
			return
		}
		rootCA, rootCAErr = x509.ParseCertificate(block.Bytes)
	})
	return rootCA, rootCAErr
}

// VerifyAttestation runs the full C1 pipeline (spec.md §4.1). It never
// touches the network or the device store: on success the caller is
// responsible for persisting a new DeviceRecord via internal/devicestore.
func VerifyAttestation(ctx context.Context, attestationBytes, challengeBytes, expectedCredentialID []byte, opts VerifyOptions) ([]byte, error) {
	// Step 1: envelope decode.
	var env attestationEnvelope
	if err := cbor.Unmarshal(attestationBytes, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadFormat, err)
	}
	if env.Fmt != "apple-appattest" {
		return nil, ErrBadFormat
	}
	if len(env.AttStmt.X5C) < 2 {
		return nil, ErrChainTooShort
	}

	// Step 2: certificate chain, signature and validity-period check
	// (spec.md §12 scopes out CRL/OCSP revocation only, not date validity).
	leaf, err := x509.ParseCertificate(env.AttStmt.X5C[0])
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCertChain, err)
	}
	intermediate, err := x509.ParseCertificate(env.AttStmt.X5C[1])
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCertChain, err)
	}
	root := opts.RootCA
	if root == nil {
		root, err = pinnedRootCA()
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrCertChain, err)
		}
	}

	roots := x509.NewCertPool()
	roots.AddCert(root)
	intermediates := x509.NewCertPool()
	intermediates.AddCert(intermediate)
	if _, err := leaf.Verify(x509.VerifyOptions{
		Roots:         roots,
		Intermediates: intermediates,
		CurrentTime:   time.Now(),
		KeyUsages:     []x509.ExtKeyUsage{x509.ExtKeyUsageAny},
	}); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCertChain, err)
	}

	// Step 3: public-key extraction.
	leafPub, ok := leaf.PublicKey.(*ecdsa.PublicKey)
	if !ok {
		return nil, ErrBadPointFormat
	}
	spkiDER, err := x509.MarshalPKIXPublicKey(leafPub)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadPointFormat, err)
	}
	if len(spkiDER) < 65 {
		return nil, ErrBadPointFormat
	}
	uncompressedPoint := spkiDER[len(spkiDER)-65:]
	if uncompressedPoint[0] != 0x04 {
		return nil, ErrBadPointFormat
	}

	// Step 4: credential-id derivation.
	if len(env.AuthData) < authDataCredIDOff {
		return nil, ErrBadFormat
	}
	if env.AuthData[authDataFlagsOffset]&atFlagMask == 0 {
		return nil, ErrAtFlagUnset
	}
	credIDLen := int(binary.BigEndian.Uint16(env.AuthData[authDataCredIDLenOff:authDataCredIDOff]))
	if len(env.AuthData) < authDataCredIDOff+credIDLen {
		return nil, ErrBadFormat
	}
	credentialID := env.AuthData[authDataCredIDOff : authDataCredIDOff+credIDLen]
	derivedID := sha256.Sum256(uncompressedPoint)
	if !bytes.Equal(derivedID[:], credentialID) {
		return nil, ErrCredentialIdMismatch
	}
	if !bytes.Equal(credentialID, expectedCredentialID) {
		return nil, ErrCredentialIdMismatch
	}

	// Supplemental checks (SPEC_FULL.md §5).
	counter := binary.BigEndian.Uint32(env.AuthData[authDataCounterOff:authDataAAGUIDOff])
	if counter != 0 {
		return nil, ErrNonZeroInitialCounter
	}
	if opts.Environment != EnvUnspecified {
		aaguid := env.AuthData[authDataAAGUIDOff : authDataAAGUIDOff+authDataAAGUIDLen]
		var want []byte
		if opts.Environment == EnvDevelopment {
			want = devAAGUID
		} else {
			want = prodAAGUID
		}
		if !bytes.Equal(aaguid, want) {
			return nil, ErrAAGUIDMismatch
		}
	}

	// Step 5: nonce extraction.
	certNonce, found := findCertNonce(leaf.Raw)
	if !found {
		return nil, ErrNonceMissing
	}

	// Step 6: nonce comparison.
	challengeHash := sha256.Sum256(challengeBytes)
	expected0 := sha256.Sum256(append(append([]byte{}, env.AuthData...), challengeHash[:]...))
	if bytes.Equal(certNonce, expected0[:]) {
		return spkiDER, nil
	}
	if opts.AcceptLegacyNonceVariant {
		expected1 := sha256.Sum256(append(append([]byte{}, env.AuthData...), challengeBytes...))
		if bytes.Equal(certNonce, expected1[:]) {
			return spkiDER, nil
		}
	}
	return nil, ErrNonceMismatch
}
