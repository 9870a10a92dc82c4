package domain

import (
	"time"

	"gorm.io/gorm"
)

type Role string

const (
	RoleMember     Role = "member"
	RoleManager    Role = "manager"
	RoleAdmin      Role = "admin"
	RoleSuperAdmin Role = "superadmin"
)

var roleRank = map[Role]int{
	RoleMember:     0,
	RoleManager:    1,
	RoleAdmin:      2,
	RoleSuperAdmin: 3,
}

// IsAdminTier reports whether the role is admin or above. Unknown roles rank lowest.
func (r Role) IsAdminTier() bool {
	return roleRank[r] >= roleRank[RoleAdmin]
}

// ParseRole accepts one of the known role names.
func ParseRole(s string) (Role, bool) {
	r := Role(s)
	_, ok := roleRank[r]
	return r, ok
}

type MFAMethod string

const (
	MFAMethodNone  MFAMethod = ""
	MFAMethodTOTP  MFAMethod = "totp"
	MFAMethodEmail MFAMethod = "email"
)

type User struct {
	ID                  uint      `gorm:"primaryKey"`
	OrganisationID      uint      `gorm:"not null;uniqueIndex:idx_users_org_username"`
	Username            string    `gorm:"size:190;not null;uniqueIndex:idx_users_org_username"`
	Email               string    `gorm:"size:320"`
	PasswordHash        string    `gorm:"not null"`
	Role                Role      `gorm:"size:32;not null"`
	IsActive            bool      `gorm:"not null"`
	FailedLoginAttempts int       `gorm:"not null"`
	ForcePasswordChange bool      `gorm:"not null"`
	MFAEnabled          bool      `gorm:"not null"`
	MFAMethod           MFAMethod `gorm:"size:16"`
	CreatedAt           time.Time
	UpdatedAt           time.Time
	DeletedAt           gorm.DeletedAt `gorm:"index"`
}
