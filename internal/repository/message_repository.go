package repository

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/d60-Lab/job-portal/internal/model"
)

// MessageRepository 消息仓储
type MessageRepository interface {
	Create(ctx context.Context, msg *model.Message) error
	ListByRequest(ctx context.Context, requestID uint) ([]model.Message, error)
	MarkRead(ctx context.Context, requestID uint, messageIDs []uint, at time.Time) (int64, error)
	LatestByRequests(ctx context.Context, requestIDs []uint) (map[uint]model.Message, error)
	CountByRequests(ctx context.Context, requestIDs []uint) (map[uint]int64, error)
}

type messageRepository struct{ db *gorm.DB }

func NewMessageRepository(db *gorm.DB) MessageRepository { return &messageRepository{db: db} }

func (r *messageRepository) Create(ctx context.Context, msg *model.Message) error {
	return r.db.WithContext(ctx).Create(msg).Error
}

// ListByRequest 按创建时间升序返回整段会话
func (r *messageRepository) ListByRequest(ctx context.Context, requestID uint) ([]model.Message, error) {
	var res []model.Message
	err := r.db.WithContext(ctx).
		Where("employer_request_id = ?", requestID).
		Order("created_at ASC, id ASC").
		Find(&res).Error
	return res, err
}

func (r *messageRepository) MarkRead(ctx context.Context, requestID uint, messageIDs []uint, at time.Time) (int64, error) {
	if len(messageIDs) == 0 {
		return 0, nil
	}
	res := r.db.WithContext(ctx).
		Model(&model.Message{}).
		Where("employer_request_id = ? AND id IN ?", requestID, messageIDs).
		Updates(map[string]any{"is_read": true, "read_at": at})
	return res.RowsAffected, res.Error
}

// LatestByRequests 每个请求取最新一条消息
func (r *messageRepository) LatestByRequests(ctx context.Context, requestIDs []uint) (map[uint]model.Message, error) {
	out := make(map[uint]model.Message, len(requestIDs))
	if len(requestIDs) == 0 {
		return out, nil
	}
	var rows []model.Message
	err := r.db.WithContext(ctx).
		Where("id IN (?)", r.db.Model(&model.Message{}).
			Select("MAX(id)").
			Where("employer_request_id IN ?", requestIDs).
			Group("employer_request_id")).
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	for _, m := range rows {
		out[m.EmployerRequestID] = m
	}
	return out, nil
}

func (r *messageRepository) CountByRequests(ctx context.Context, requestIDs []uint) (map[uint]int64, error) {
	out := make(map[uint]int64, len(requestIDs))
	if len(requestIDs) == 0 {
		return out, nil
	}
	type countRow struct {
		EmployerRequestID uint
		Cnt               int64
	}
	var rows []countRow
	err := r.db.WithContext(ctx).
		Model(&model.Message{}).
		Select("employer_request_id, COUNT(*) AS cnt").
		Where("employer_request_id IN ?", requestIDs).
		Group("employer_request_id").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	for _, row := range rows {
		out[row.EmployerRequestID] = row.Cnt
	}
	return out, nil
}
