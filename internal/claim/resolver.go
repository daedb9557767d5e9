// Package claim turns a pending-photo placeholder into a photo record.
package claim

import (
	"context"

	"github.com/charmbracelet/log"
	"github.com/jmoiron/sqlx"

	"tiedye/internal/models"
	"tiedye/internal/storage"
)

type Resolver struct {
	runner *storage.Runner
	logger *log.Logger
}

func NewResolver(runner *storage.Runner, logger *log.Logger) *Resolver {
	return &Resolver{runner: runner, logger: logger}
}

// Resolve consumes the placeholder carrying token and creates its photo in
// a single unit of work, returning the new photo id. Nothing is applied
// unless exactly one placeholder matches.
func (r *Resolver) Resolve(ctx context.Context, token string) (int64, error) {
	var photoID int64
	err := r.runner.Run(ctx, func(ctx context.Context, tx *sqlx.Tx) error {
		pending, err := storage.PendingByToken(ctx, tx, token, 2)
		if err != nil {
			return err
		}
		if len(pending) != 1 {
			return &models.ClaimError{Token: token, Matches: len(pending)}
		}
		p := pending[0]

		deleted, err := storage.DeletePendingPhoto(ctx, tx, p.ID)
		if err != nil {
			return err
		}
		if deleted != 1 {
			return &models.ClaimError{Token: token}
		}
		id, err := storage.InsertPhoto(ctx, tx, p.Owner, p.CreatedAt)
		if err != nil {
			return err
		}
		photoID = id
		r.logger.Debug("claim resolved", "pending", p.ID, "photo", id, "owner_kind", p.Kind, "owner_id", p.Owner.ID)
		return nil
	})
	if err != nil {
		return 0, err
	}
	return photoID, nil
}
