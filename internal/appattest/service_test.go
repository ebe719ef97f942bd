package appattest

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/passcard/attest-service/internal/devicestore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestService_EnrollBindIdentity_EndToEnd(t *testing.T) {
	ctx := context.Background()
	challenge := []byte("enrollment-challenge")
	chain, authData, derivedID := fixtureWithRealNonce(t, challenge, true, devAAGUID)

	store := devicestore.NewFileBackend(filepath.Join(t.TempDir(), "devices.json"))
	svc := NewService(store, VerifyOptions{RootCA: chain.rootCert})

	attestationBytes := encodeAttestation(t, chain, authData)
	pub, err := svc.Enroll(ctx, attestationBytes, challenge, derivedID)
	require.NoError(t, err)
	assert.NotEmpty(t, pub)

	fx := buildAssertionFixtureForKey(t, chain.leafKey, 1, "passporthash1", "0xAbCdEf")
	err = svc.Bind(ctx, fx.assertion, derivedID, fx.passportHash, fx.evmAddress)
	require.NoError(t, err)

	got, err := svc.Identity(ctx, "0xabcdef")
	require.NoError(t, err)
	assert.Equal(t, "passporthash1", got)
}

func TestService_Bind_UnknownDevice(t *testing.T) {
	ctx := context.Background()
	store := devicestore.NewFileBackend(filepath.Join(t.TempDir(), "devices.json"))
	svc := NewService(store, VerifyOptions{})

	err := svc.Bind(ctx, []byte("irrelevant"), []byte("never-enrolled"), "hash", "0xabc")
	assert.ErrorIs(t, err, ErrDeviceUnknown)
}

func TestService_Identity_NoBinding(t *testing.T) {
	ctx := context.Background()
	store := devicestore.NewFileBackend(filepath.Join(t.TempDir(), "devices.json"))
	svc := NewService(store, VerifyOptions{})

	got, err := svc.Identity(ctx, "0xnobody")
	require.NoError(t, err)
	assert.Equal(t, "", got)
}
