package model

import "time"

const (
	MessageTypeText = "text"
	MessageTypeFile = "file"
)

// Message 会话中的一条消息；创建后只会翻转已读状态
type Message struct {
	ID                uint       `json:"id" gorm:"primaryKey"`
	EmployerRequestID uint       `json:"employerRequestId" gorm:"index:idx_message_request_created;not null"`
	FromAdmin         bool       `json:"fromAdmin" gorm:"not null"`
	EmployerEmail     string     `json:"employerEmail" gorm:"type:varchar(255);not null"`
	Content           string     `json:"content" gorm:"type:text;not null"`
	MessageType       string     `json:"messageType" gorm:"type:varchar(16);not null;default:text"`
	AttachmentURL     *string    `json:"attachmentUrl,omitempty" gorm:"type:varchar(512)"`
	AttachmentName    *string    `json:"attachmentName,omitempty" gorm:"type:varchar(255)"`
	IsRead            bool       `json:"isRead" gorm:"not null;default:false"`
	ReadAt            *time.Time `json:"readAt,omitempty"`
	CreatedAt         time.Time  `json:"createdAt" gorm:"index:idx_message_request_created"`
}

func (Message) TableName() string { return "messages" }
