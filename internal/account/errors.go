package account

import "errors"

var (
	ErrEmailTaken         = errors.New("email already exists")
	ErrEmailInUse         = errors.New("email already in use by another account")
	ErrEmailHeldByDeleted = errors.New("email belongs to a deleted account")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrWrongPassword      = errors.New("current password is incorrect")
	ErrNoDeletedAccount   = errors.New("no deleted account found with this email")
	ErrUserNotFound       = errors.New("user not found")
	ErrAccountDeleted     = errors.New("account has been deleted")
	ErrTokenRevoked       = errors.New("token has been revoked")
)
