package models

import "time"

type UserRole string

const (
	RoleUser  UserRole = "user"
	RoleAdmin UserRole = "admin"
)

type User struct {
	ID        string     `gorm:"column:id;type:uuid;primaryKey" json:"id"`
	Name      string     `gorm:"column:name;type:text" json:"name"`
	Email     string     `gorm:"column:email;type:text;uniqueIndex" json:"email"`
	DOB       *time.Time `gorm:"column:dob;type:date" json:"dob,omitempty"`
	Password  string     `gorm:"column:password;type:text" json:"-"` // bcrypt hash
	Role      UserRole   `gorm:"column:role;type:text;default:user" json:"role"`
	CreatedAt time.Time  `gorm:"column:created_at;type:timestamptz" json:"created_at"`
}

func (User) TableName() string { return "users" }
