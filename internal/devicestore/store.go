// Package devicestore persists DeviceRecords (C3). Two backends satisfy the
// same Store interface: a single-process JSON file and a Postgres table,
// selected at startup by whether POSTGRES_URL is set.
package devicestore

import (
	"context"
	"errors"

	"github.com/passcard/attest-service/internal/models"
)

// ErrUnavailable wraps any backend I/O failure (spec.md §7's
// "store-unavailable", mapped to HTTP 500 by every controller).
var ErrUnavailable = errors.New("ErrStoreUnavailable")

// ErrStaleCounter is returned by UpdateAssertion when another writer already
// advanced the stored counter to or past newCounter - the compare-and-swap
// guarantee spec.md §5 requires at the storage layer, not the verifier.
var ErrStaleCounter = errors.New("ErrStaleCounter")

// Store is the polymorphic capability spec.md §9 describes: one indirect
// call per request, no dynamic dispatch beyond that.
type Store interface {
	// Get returns (nil, nil) if credentialID has no record - absence is not
	// an error at this layer, only at the C2/handler layer.
	Get(ctx context.Context, credentialID []byte) (*models.DeviceRecord, error)
	// Put upserts rec by primary key (credentialId).
	Put(ctx context.Context, rec *models.DeviceRecord) error
	// UpdateAssertion is the sole mutator after creation. It fails with
	// ErrStaleCounter if the stored counter is already >= newCounter.
	UpdateAssertion(ctx context.Context, credentialID []byte, newCounter uint32, evmAddress, passportHash string) error
	// FindByAddress is a case-insensitive secondary lookup. Returns (nil, nil)
	// if no record matches. When several records share the address, the file
	// backend returns the one written most recently by this process, and the
	// Postgres backend returns the one with the highest stored counter; the
	// Postgres backend does not track write order.
	FindByAddress(ctx context.Context, evmAddress string) (*models.DeviceRecord, error)
}
