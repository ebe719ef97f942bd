package devicestore

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"github.com/passcard/attest-service/internal/models"
)

// PostgresBackend is the relational device store from spec.md §4.3. The
// devices table is created idempotently on first use rather than requiring
// a separate migration step, matching the teacher's small-service style of
// owning its own schema.
type PostgresBackend struct {
	pool *pgxpool.Pool
}

const createDevicesTable = `
CREATE TABLE IF NOT EXISTS devices (
    key_id         BYTEA PRIMARY KEY,
    public_key_der BYTEA NOT NULL,
    counter        BIGINT NOT NULL DEFAULT 0,
    evm_address    TEXT NOT NULL DEFAULT '',
    passport_hash  TEXT NOT NULL DEFAULT ''
)`

// NewPostgresBackend wraps an already-connected pool and ensures the
// devices table exists.
func NewPostgresBackend(ctx context.Context, pool *pgxpool.Pool) (*PostgresBackend, error) {
	if _, err := pool.Exec(ctx, createDevicesTable); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return &PostgresBackend{pool: pool}, nil
}

func (p *PostgresBackend) Get(ctx context.Context, credentialID []byte) (*models.DeviceRecord, error) {
	const q = `SELECT key_id, public_key_der, counter, evm_address, passport_hash FROM devices WHERE key_id = $1`
	row := p.pool.QueryRow(ctx, q, credentialID)
	rec, err := scanDeviceRecord(row)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return rec, nil
}

// Put is a single upsert statement so concurrent enrollments of the same
// credentialId collapse deterministically (spec.md §4.3).
func (p *PostgresBackend) Put(ctx context.Context, rec *models.DeviceRecord) error {
	const q = `
INSERT INTO devices (key_id, public_key_der, counter, evm_address, passport_hash)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (key_id)
DO UPDATE SET public_key_der = EXCLUDED.public_key_der,
              counter = EXCLUDED.counter,
              evm_address = EXCLUDED.evm_address,
              passport_hash = EXCLUDED.passport_hash
`
	_, err := p.pool.Exec(ctx, q, rec.CredentialID, rec.PublicKeyDER, rec.Counter, rec.EVMAddress, rec.PassportHash)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

// UpdateAssertion enforces the compare-and-swap guarantee with a single
// conditional UPDATE rather than a read-mutate-write retry loop (spec.md §9:
// this mutation is a single deterministic write, not an arbitrary patch).
func (p *PostgresBackend) UpdateAssertion(ctx context.Context, credentialID []byte, newCounter uint32, evmAddress, passportHash string) error {
	const q = `
UPDATE devices
SET counter = $2, evm_address = $3, passport_hash = $4
WHERE key_id = $1 AND counter < $2
`
	tag, err := p.pool.Exec(ctx, q, credentialID, newCounter, strings.ToLower(evmAddress), passportHash)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if tag.RowsAffected() == 0 {
		// Either the credential doesn't exist, or another writer already
		// advanced the counter past newCounter; disambiguate for the caller.
		existing, err := p.Get(ctx, credentialID)
		if err != nil {
			return err
		}
		if existing == nil {
			return fmt.Errorf("%w: credential not found", ErrUnavailable)
		}
		return ErrStaleCounter
	}
	return nil
}

// FindByAddress returns, among the rows whose evm_address matches
// case-insensitively, the one with the highest counter. The table has no
// write-time column, so this is not the most recently written row.
func (p *PostgresBackend) FindByAddress(ctx context.Context, evmAddress string) (*models.DeviceRecord, error) {
	const q = `
SELECT key_id, public_key_der, counter, evm_address, passport_hash
FROM devices
WHERE LOWER(evm_address) = LOWER($1)
ORDER BY counter DESC
LIMIT 1
`
	row := p.pool.QueryRow(ctx, q, evmAddress)
	rec, err := scanDeviceRecord(row)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return rec, nil
}

func scanDeviceRecord(row pgx.Row) (*models.DeviceRecord, error) {
	var rec models.DeviceRecord
	var counter int64
	if err := row.Scan(&rec.CredentialID, &rec.PublicKeyDER, &counter, &rec.EVMAddress, &rec.PassportHash); err != nil {
		return nil, err
	}
	rec.Counter = uint32(counter)
	return &rec, nil
}
