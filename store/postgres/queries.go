package postgres

import (
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// Hex identifiers are stored lowercase so lookups never depend on
// checksum casing.
func addressKey(a common.Address) string {
	return strings.ToLower(a.Hex())
}

const (
	queryInsertEnvelope = `
		INSERT INTO envelopes (key, batch_hash, provider, created_at, ciphertext_hash, body)
			VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (key) DO NOTHING`

	queryGetEnvelope = `
		SELECT body
			FROM envelopes
			WHERE key = $1`

	queryListByBatch = `
		SELECT key, batch_hash, provider, created_at, ciphertext_hash, octet_length(body)
			FROM envelopes
			WHERE batch_hash = $1
			ORDER BY provider, created_at, key`

	queryListByBatchProvider = `
		SELECT key, batch_hash, provider, created_at, ciphertext_hash, octet_length(body)
			FROM envelopes
			WHERE batch_hash = $1 AND provider = $2
			ORDER BY created_at, key`
)
