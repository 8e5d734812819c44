package model

import "time"

// 请求状态
const (
	RequestStatusPending   = "pending"
	RequestStatusReviewing = "reviewing"
	RequestStatusApproved  = "approved"
	RequestStatusCancelled = "cancelled"
	RequestStatusCompleted = "completed"
)

// EmployerRequest 雇主招聘请求，也是一个会话的载体（会话 ID = 请求 ID）
type EmployerRequest struct {
	ID          uint      `json:"id" gorm:"primaryKey"`
	Name        string    `json:"name" gorm:"type:varchar(128);not null"`
	Email       string    `json:"email" gorm:"type:varchar(255);index;not null"`
	CompanyName string    `json:"companyName" gorm:"type:varchar(255)"`
	Details     string    `json:"details" gorm:"type:text"`
	Status      string    `json:"status" gorm:"type:varchar(32);index;not null;default:pending"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt" gorm:"index"`
}

func (EmployerRequest) TableName() string { return "employer_requests" }

// AcceptsMessages 已批准/取消/完成的请求不再允许沟通
func (r *EmployerRequest) AcceptsMessages() bool {
	switch r.Status {
	case RequestStatusApproved, RequestStatusCancelled, RequestStatusCompleted:
		return false
	}
	return true
}
