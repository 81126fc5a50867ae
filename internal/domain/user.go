package domain

import "time"

type User struct {
	ID        uint   `gorm:"primaryKey" json:"id"`
	Email     string `gorm:"size:255;uniqueIndex;not null" json:"email"`
	Username  string `gorm:"size:128;uniqueIndex;not null" json:"username"`
	FirstName string `gorm:"size:128" json:"first_name"`
	LastName  string `gorm:"size:128" json:"last_name"`
	// PasswordHash is nil for directory-only accounts that never set a local
	// password.
	PasswordHash *string   `gorm:"size:128" json:"-"`
	RoleID       uint      `gorm:"index;not null" json:"role_id"`
	Role         *Role     `json:"role,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

type Role struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	Name      string    `gorm:"size:64;uniqueIndex;not null" json:"name"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
