package model

import (
	"time"

	"gorm.io/gorm"
)

type User struct {
	ID          uint           `gorm:"primaryKey" json:"id"`
	FeishuUID   string         `gorm:"type:varchar(128);index:idx_feishu_uid" json:"-"`
	Name        string         `gorm:"type:varchar(64);not null" json:"name"`
	Email       string         `gorm:"type:varchar(128)" json:"email"`
	Role        string         `gorm:"type:varchar(32);not null;default:client;index:idx_role" json:"role"`
	IsAdmin     bool           `gorm:"default:false" json:"is_admin"`
	Status      int            `gorm:"default:1" json:"status"`
	LastLoginAt *time.Time     `json:"last_login_at"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
	DeletedAt   gorm.DeletedAt `gorm:"index" json:"-"`
}

func (User) TableName() string { return "users" }

type UserBrief struct {
	ID      uint   `json:"id"`
	Name    string `json:"name"`
	Role    string `json:"role,omitempty"`
	IsAdmin bool   `json:"is_admin"`
	Email   string `json:"email,omitempty"`
}

func (u *User) Brief() UserBrief {
	return UserBrief{
		ID:      u.ID,
		Name:    u.Name,
		Role:    u.Role,
		IsAdmin: u.IsAdmin,
		Email:   u.Email,
	}
}
