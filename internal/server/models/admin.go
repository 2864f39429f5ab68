package models

import "time"

const RoleAdmin = "ADMIN"

// MaxFailedLogins locks an admin account once reached.
const MaxFailedLogins = 5

type Admin struct {
	ID               int64
	Username         string
	PasswordHash     string
	Role             string
	FailedLoginCount int
	LastLoginAt      *time.Time
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

func (a *Admin) Locked() bool {
	return a.FailedLoginCount >= MaxFailedLogins
}
