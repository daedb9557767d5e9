package models

import (
	"fmt"
	"time"
)

// OwnerKind tags which entity a photo belongs to.
type OwnerKind string

const (
	OwnerShirt   OwnerKind = "shirt"
	OwnerWearing OwnerKind = "wearing"
)

// ParseOwnerKind accepts the stored column value.
func ParseOwnerKind(s string) (OwnerKind, error) {
	switch k := OwnerKind(s); k {
	case OwnerShirt, OwnerWearing:
		return k, nil
	default:
		return "", fmt.Errorf("models.ParseOwnerKind: unknown owner kind %q", s)
	}
}

// Owner references exactly one shirt or wearing.
type Owner struct {
	Kind OwnerKind `db:"owner_kind" json:"owner_kind"`
	ID   int64     `db:"owner_id" json:"owner_id"`
}

func (o Owner) Validate() error {
	const op = "models.Owner.Validate"
	if _, err := ParseOwnerKind(string(o.Kind)); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if o.ID <= 0 {
		return fmt.Errorf("%s: owner id must be positive, got %d", op, o.ID)
	}
	return nil
}

// PendingPhoto is a placeholder meaning "this owner expects a photo by email".
type PendingPhoto struct {
	ID        int64     `db:"id"`
	Token     string    `db:"token"`
	Owner
	Requester string    `db:"requester"`
	CreatedAt time.Time `db:"created_at"`
}

// Photo status values derived from Filename.
const (
	PhotoPending = "pending"
	PhotoReady   = "ready"
)

type Photo struct {
	ID        int64   `db:"id" json:"id"`
	Filename  *string `db:"filename" json:"filename"` // nil until converted
	Owner
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

func (p *Photo) Status() string {
	if p.Filename == nil {
		return PhotoPending
	}
	return PhotoReady
}

// PhotoReadyEvent is published once a photo has been converted.
type PhotoReadyEvent struct {
	PhotoID   int64     `json:"photo_id"`
	Filename  string    `json:"filename"`
	OwnerKind OwnerKind `json:"owner_kind"`
	OwnerID   int64     `json:"owner_id"`
	ReadyAt   time.Time `json:"ready_at"`
}
