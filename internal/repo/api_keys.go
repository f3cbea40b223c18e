package repo

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"strings"

	"museu/internal/domain"
)

const apiKeyColumns = `id, actor_id, COALESCE(name,''), key_hash, created_at`

// HashAPIKey is the stored form of a raw key. Raw keys are never persisted.
func HashAPIKey(key string) string {
	sum := sha256.Sum256([]byte(strings.TrimSpace(key)))
	return hex.EncodeToString(sum[:])
}

func (r Repo) InsertAPIKey(ctx context.Context, tx *sql.Tx, key domain.APIKey) error {
	switch {
	case key.ID == "":
		return errors.New("api key id required")
	case key.ActorID == "":
		return errors.New("api key principal required")
	case key.KeyHash == "" || key.CreatedAt == "":
		return errors.New("api key hash and creation time required")
	}
	_, err := r.on(tx).ExecContext(ctx, `INSERT INTO api_keys(id, actor_id, name, key_hash, created_at) VALUES (?,?,?,?,?)`,
		key.ID, key.ActorID, nullable(key.Name), key.KeyHash, key.CreatedAt)
	return err
}

// APIKeyByHash resolves a presented key during authentication.
func (r Repo) APIKeyByHash(ctx context.Context, hash string) (domain.APIKey, error) {
	var key domain.APIKey
	err := r.DB.QueryRowContext(ctx, `SELECT `+apiKeyColumns+` FROM api_keys WHERE key_hash=?`, hash).
		Scan(&key.ID, &key.ActorID, &key.Name, &key.KeyHash, &key.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.APIKey{}, ErrNotFound
	}
	return key, err
}

// ListAPIKeys returns the keys minted by one principal, newest first.
func (r Repo) ListAPIKeys(ctx context.Context, principalID string) ([]domain.APIKey, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+apiKeyColumns+` FROM api_keys WHERE actor_id=? ORDER BY created_at DESC, id`, principalID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	keys := []domain.APIKey{}
	for rows.Next() {
		var key domain.APIKey
		if err := rows.Scan(&key.ID, &key.ActorID, &key.Name, &key.KeyHash, &key.CreatedAt); err != nil {
			return nil, err
		}
		keys = append(keys, key)
	}
	return keys, rows.Err()
}

// RevokeAPIKey deletes a key owned by principalID. Keys of other principals
// are reported as not found.
func (r Repo) RevokeAPIKey(ctx context.Context, tx *sql.Tx, id, principalID string) error {
	return mustAffect(r.on(tx).ExecContext(ctx, `DELETE FROM api_keys WHERE id=? AND actor_id=?`, id, principalID))
}

// DeleteAPIKeysFor drops every key of a deleted profile.
func (r Repo) DeleteAPIKeysFor(ctx context.Context, tx *sql.Tx, principalID string) error {
	_, err := r.on(tx).ExecContext(ctx, `DELETE FROM api_keys WHERE actor_id=?`, principalID)
	return err
}
