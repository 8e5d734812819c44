package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/d60-Lab/job-portal/internal/gateway"
	"github.com/d60-Lab/job-portal/internal/model"
	"github.com/d60-Lab/job-portal/internal/repository"
	"github.com/d60-Lab/job-portal/pkg/besteffort"
)

type CreateRequestInput struct {
	Name        string
	Email       string
	CompanyName string
	Details     string
}

type RequestPage struct {
	Requests   []model.EmployerRequest `json:"requests"`
	Pagination Pagination              `json:"pagination"`
}

// RequestService 雇主请求：只覆盖带实时通知的写操作
type RequestService interface {
	Create(ctx context.Context, in CreateRequestInput) (*model.EmployerRequest, error)
	Get(ctx context.Context, id uint) (*model.EmployerRequest, error)
	UpdateStatus(ctx context.Context, id uint, status string) (*model.EmployerRequest, error)
	List(ctx context.Context, page, limit int) (*RequestPage, error)
}

type requestService struct {
	repo   repository.RequestRepository
	events EventPublisher
	pusher RealtimePusher
	runner *besteffort.Runner
}

func NewRequestService(repo repository.RequestRepository, events EventPublisher, pusher RealtimePusher, runner *besteffort.Runner) RequestService {
	if runner == nil {
		runner = besteffort.New(nil, nil)
	}
	return &requestService{repo: repo, events: events, pusher: pusher, runner: runner}
}

func (s *requestService) Create(ctx context.Context, in CreateRequestInput) (*model.EmployerRequest, error) {
	req := &model.EmployerRequest{
		Name:        in.Name,
		Email:       in.Email,
		CompanyName: in.CompanyName,
		Details:     in.Details,
		Status:      model.RequestStatusPending,
	}
	if err := s.repo.Create(ctx, req); err != nil {
		return nil, err
	}
	if s.pusher != nil {
		s.runner.Do(ctx, "realtime.new_request", func(context.Context) error {
			s.pusher.NotifyNewRequest(req)
			return nil
		})
	}
	return req, nil
}

func (s *requestService) Get(ctx context.Context, id uint) (*model.EmployerRequest, error) {
	req, err := s.repo.Get(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrRequestNotFound
	}
	return req, err
}

func validStatus(status string) bool {
	switch status {
	case model.RequestStatusPending, model.RequestStatusReviewing, model.RequestStatusApproved,
		model.RequestStatusCancelled, model.RequestStatusCompleted:
		return true
	}
	return false
}

func (s *requestService) UpdateStatus(ctx context.Context, id uint, status string) (*model.EmployerRequest, error) {
	if !validStatus(status) {
		return nil, ErrInvalidStatus
	}
	if err := s.repo.UpdateStatus(ctx, id, status); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrRequestNotFound
		}
		return nil, err
	}
	req, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	if s.pusher != nil {
		s.runner.Do(ctx, "realtime.request_status_change", func(context.Context) error {
			s.pusher.NotifyRequestStatusChange(id, status, model.RoleAdmin)
			return nil
		})
	}
	s.runner.Do(ctx, "publish.request_status_change", func(ctx context.Context) error {
		return s.events.Publish(ctx, EmployerChannel(id), gateway.Frame{
			Type:    gateway.FrameRequestStatusChange,
			Message: fmt.Sprintf("Request %d status changed to %s", id, status),
			Data:    gateway.StatusChange{RequestID: id, Status: status},
		})
	})
	return req, nil
}

func (s *requestService) List(ctx context.Context, page, limit int) (*RequestPage, error) {
	page, limit = normalizePage(page, limit)
	reqs, total, err := s.repo.List(ctx, (page-1)*limit, limit)
	if err != nil {
		return nil, err
	}
	return &RequestPage{Requests: reqs, Pagination: newPagination(page, limit, total)}, nil
}
