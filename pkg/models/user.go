package models

import (
	"time"

	"github.com/google/uuid"
)

// User is an account. Deleted accounts keep their row with IsDeleted set.
type User struct {
	ID           uuid.UUID  `db:"id"            json:"id"`
	Name         string     `db:"name"          json:"name"`
	Email        string     `db:"email"         json:"email"`
	PasswordHash string     `db:"password_hash" json:"-"`
	IsDeleted    bool       `db:"is_deleted"    json:"-"`
	DeletedAt    *time.Time `db:"deleted_at"    json:"-"`
	CreatedAt    time.Time  `db:"created_at"    json:"createdAt"`
	UpdatedAt    time.Time  `db:"updated_at"    json:"updatedAt"`
}
