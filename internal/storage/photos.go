package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"tiedye/internal/models"
)

func storeErr(op string, err error) error {
	return &models.TransientStoreError{Op: op, Err: err}
}

// PendingByToken returns at most limit placeholders carrying token.
func PendingByToken(ctx context.Context, tx *sqlx.Tx, token string, limit int) ([]models.PendingPhoto, error) {
	const op = "storage.PendingByToken"

	var pending []models.PendingPhoto
	err := tx.SelectContext(ctx, &pending, tx.Rebind(
		`SELECT id, token, owner_kind, owner_id, requester, created_at
		 FROM pending_photos WHERE token = ? ORDER BY id LIMIT ?`),
		token, limit)
	if err != nil {
		return nil, storeErr(op, err)
	}
	return pending, nil
}

func CreatePendingPhoto(ctx context.Context, tx *sqlx.Tx, p *models.PendingPhoto) error {
	const op = "storage.CreatePendingPhoto"

	if err := p.Owner.Validate(); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC()
	}
	err := tx.QueryRowxContext(ctx, tx.Rebind(
		`INSERT INTO pending_photos (token, owner_kind, owner_id, requester, created_at)
		 VALUES (?, ?, ?, ?, ?) RETURNING id`),
		p.Token, string(p.Kind), p.Owner.ID, p.Requester, p.CreatedAt).Scan(&p.ID)
	if err != nil {
		return storeErr(op, err)
	}
	return nil
}

// DeletePendingPhoto reports how many rows were removed; zero means another
// unit consumed the placeholder first.
func DeletePendingPhoto(ctx context.Context, tx *sqlx.Tx, id int64) (int64, error) {
	const op = "storage.DeletePendingPhoto"

	res, err := tx.ExecContext(ctx, tx.Rebind(`DELETE FROM pending_photos WHERE id = ?`), id)
	if err != nil {
		return 0, storeErr(op, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, storeErr(op, err)
	}
	return n, nil
}

// InsertPhoto stores a photo with no filename yet and returns its id.
func InsertPhoto(ctx context.Context, tx *sqlx.Tx, owner models.Owner, createdAt time.Time) (int64, error) {
	const op = "storage.InsertPhoto"

	if err := owner.Validate(); err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	var id int64
	err := tx.QueryRowxContext(ctx, tx.Rebind(
		`INSERT INTO photos (filename, owner_kind, owner_id, created_at)
		 VALUES (NULL, ?, ?, ?) RETURNING id`),
		string(owner.Kind), owner.ID, createdAt).Scan(&id)
	if err != nil {
		return 0, storeErr(op, err)
	}
	return id, nil
}

func GetPhoto(ctx context.Context, tx *sqlx.Tx, id int64) (*models.Photo, error) {
	const op = "storage.GetPhoto"

	var photo models.Photo
	err := tx.GetContext(ctx, &photo, tx.Rebind(
		`SELECT id, filename, owner_kind, owner_id, created_at FROM photos WHERE id = ?`), id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%s: %d: %w", op, id, models.ErrPhotoNotFound)
	}
	if err != nil {
		return nil, storeErr(op, err)
	}
	return &photo, nil
}

func SetPhotoFilename(ctx context.Context, tx *sqlx.Tx, id int64, filename string) error {
	const op = "storage.SetPhotoFilename"

	res, err := tx.ExecContext(ctx, tx.Rebind(`UPDATE photos SET filename = ? WHERE id = ?`), filename, id)
	if err != nil {
		return storeErr(op, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return storeErr(op, err)
	}
	if n == 0 {
		return fmt.Errorf("%s: %d: %w", op, id, models.ErrPhotoNotFound)
	}
	return nil
}
