package repository

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"github.com/d60-Lab/job-portal/internal/model"
)

// ErrNotFound 记录不存在
var ErrNotFound = errors.New("record not found")

// RequestRepository 雇主请求仓储
type RequestRepository interface {
	Create(ctx context.Context, req *model.EmployerRequest) error
	Get(ctx context.Context, id uint) (*model.EmployerRequest, error)
	UpdateStatus(ctx context.Context, id uint, status string) error
	List(ctx context.Context, offset, limit int) ([]model.EmployerRequest, int64, error)
}

type requestRepository struct{ db *gorm.DB }

func NewRequestRepository(db *gorm.DB) RequestRepository { return &requestRepository{db: db} }

func (r *requestRepository) Create(ctx context.Context, req *model.EmployerRequest) error {
	return r.db.WithContext(ctx).Create(req).Error
}

func (r *requestRepository) Get(ctx context.Context, id uint) (*model.EmployerRequest, error) {
	var req model.EmployerRequest
	err := r.db.WithContext(ctx).First(&req, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &req, nil
}

func (r *requestRepository) UpdateStatus(ctx context.Context, id uint, status string) error {
	res := r.db.WithContext(ctx).
		Model(&model.EmployerRequest{}).
		Where("id = ?", id).
		Update("status", status)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// List 按最近更新时间倒序分页
func (r *requestRepository) List(ctx context.Context, offset, limit int) ([]model.EmployerRequest, int64, error) {
	var total int64
	if err := r.db.WithContext(ctx).Model(&model.EmployerRequest{}).Count(&total).Error; err != nil {
		return nil, 0, err
	}
	var res []model.EmployerRequest
	err := r.db.WithContext(ctx).
		Order("updated_at DESC").
		Offset(offset).
		Limit(limit).
		Find(&res).Error
	return res, total, err
}
