package model

import "time"

const (
	RoleAdmin         = "admin"
	RoleEmployerGuest = "employer-guest"
	RoleJobSeeker     = "jobseeker"
)

// User 账号（注册/登录不在本服务内，只读取与改密码）
type User struct {
	ID           uint      `json:"id" gorm:"primaryKey"`
	Email        string    `json:"email" gorm:"type:varchar(255);uniqueIndex;not null"`
	PasswordHash string    `json:"-" gorm:"type:varchar(255);not null"`
	FirstName    string    `json:"firstName" gorm:"type:varchar(128)"`
	Role         string    `json:"role" gorm:"type:varchar(32);not null"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

func (User) TableName() string { return "users" }
