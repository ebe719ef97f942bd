package appattest

import (
	"context"
	"fmt"
	"strings"

	"github.com/passcard/attest-service/internal/devicestore"
	"github.com/passcard/attest-service/internal/models"
)

// Service wires C1/C2 to a devicestore.Store, giving controllers a single
// dependency instead of reaching into the verifiers and the store
// separately - the teacher's Controller -> Service -> Repository layering
// (jobs_controller.go -> JobService -> repository).
type Service struct {
	Store devicestore.Store
	Opts  VerifyOptions
}

func NewService(store devicestore.Store, opts VerifyOptions) *Service {
	return &Service{Store: store, Opts: opts}
}

// Enroll runs VerifyAttestation and, on success, persists the new
// DeviceRecord with counter=0 (spec.md §4.1 step 7, pulled out of the pure
// verifier and into this orchestration layer).
func (s *Service) Enroll(ctx context.Context, attestationBytes, challengeBytes, expectedCredentialID []byte) ([]byte, error) {
	publicKeyDER, err := VerifyAttestation(ctx, attestationBytes, challengeBytes, expectedCredentialID, s.Opts)
	if err != nil {
		return nil, err
	}
	rec := &models.DeviceRecord{
		CredentialID: expectedCredentialID,
		PublicKeyDER: publicKeyDER,
		Counter:      0,
	}
	if err := s.Store.Put(ctx, rec); err != nil {
		return nil, err
	}
	return publicKeyDER, nil
}

// Bind loads the device by credentialId, runs VerifyAssertion against its
// stored key/counter, and commits the new counter/evmAddress/passportHash
// atomically via UpdateAssertion. This is the load-check-store sequence
// spec.md §5 requires to be safe under concurrent callers for the same
// credentialId.
func (s *Service) Bind(ctx context.Context, assertionBytes, credentialID []byte, passportHash, evmAddress string) error {
	rec, err := s.Store.Get(ctx, credentialID)
	if err != nil {
		return err
	}
	if rec == nil {
		return ErrDeviceUnknown
	}

	newCounter, err := VerifyAssertion(ctx, assertionBytes, rec.PublicKeyDER, rec.Counter, passportHash, evmAddress)
	if err != nil {
		return err
	}

	if err := s.Store.UpdateAssertion(ctx, credentialID, newCounter, strings.ToLower(evmAddress), passportHash); err != nil {
		return fmt.Errorf("appattest: commit assertion: %w", err)
	}
	return nil
}

// Identity returns the passportHash bound to evmAddress, or "" if none.
func (s *Service) Identity(ctx context.Context, evmAddress string) (string, error) {
	rec, err := s.Store.FindByAddress(ctx, evmAddress)
	if err != nil {
		return "", err
	}
	if rec == nil {
		return "", nil
	}
	return rec.PassportHash, nil
}
