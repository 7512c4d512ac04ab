package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// Model names a read model whose version the ledger maintains.
type Model string

const (
	ModelRecords      Model = "records"
	ModelEvents       Model = "events"
	ModelParticipants Model = "participants"
)

// Version returns the current counter for model. Counters only grow.
func (s *Store) Version(ctx context.Context, model Model) (int64, error) {
	var version int64
	err := s.db.QueryRowContext(ctx, s.q("SELECT version FROM model_versions WHERE model = ?"), string(model)).Scan(&version)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, storageErr("version", fmt.Errorf("model %q is not tracked", model))
	}
	if err != nil {
		return 0, storageErr("version", err)
	}
	return version, nil
}

// Versions returns every tracked counter.
func (s *Store) Versions(ctx context.Context) (map[Model]int64, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT model, version FROM model_versions")
	if err != nil {
		return nil, storageErr("versions", err)
	}
	defer rows.Close()

	out := make(map[Model]int64, 3)
	for rows.Next() {
		var (
			model   string
			version int64
		)
		if err := rows.Scan(&model, &version); err != nil {
			return nil, storageErr("versions", err)
		}
		out[Model(model)] = version
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("versions", err)
	}
	return out, nil
}

func (s *Store) bumpVersion(ctx context.Context, tx *sql.Tx, model Model) error {
	if _, err := tx.ExecContext(ctx, s.q("UPDATE model_versions SET version = version + 1 WHERE model = ?"), string(model)); err != nil {
		return storageErr("bump version", fmt.Errorf("%s: %w", model, err))
	}
	return nil
}
