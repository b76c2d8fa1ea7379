package users

import (
	"strings"
	"time"
)

// User is an author of revisions.
type User struct {
	ID        int64     `gorm:"column:id;primaryKey;autoIncrement"`
	Name      string    `gorm:"column:name;size:190;not null"`
	Email     string    `gorm:"column:email;size:320;index:idx_users_email"`
	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

// TableName exposes the table backing authors.
func (User) TableName() string {
	return "users"
}

// RevisionAuthorID identifies the user as a revision author.
func (u User) RevisionAuthorID() int64 {
	return u.ID
}

// normalize value helper used across service implementation.
func normalize(value string) string {
	return strings.TrimSpace(value)
}
