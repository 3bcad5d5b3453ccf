package models

import (
	"time"

	"github.com/google/uuid"
)

// User roles. Admins create tasks for free and may query other users' data;
// everything else is "common".
const (
	RoleAdmin  = "admin"
	RoleCommon = "common"
)

// User carries the cached jingdou balance. The balance column is never
// written directly: every movement goes through the ledger, which updates the
// cache and appends a record in the same transaction.
type User struct {
	ID             uuid.UUID `json:"id"`
	Username       string    `json:"username"`
	PasswordHash   string    `json:"-"`
	Nickname       string    `json:"nickname"`
	Role           string    `json:"role"`
	JingdouBalance int       `json:"jingdou_balance"`
	IsActive       bool      `json:"is_active"`
	CreatedAt      time.Time `json:"created_at"`
}

func (u *User) IsAdmin() bool { return u.Role == RoleAdmin }
