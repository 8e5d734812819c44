package handler

import (
	"github.com/gin-gonic/gin"

	"github.com/d60-Lab/job-portal/internal/service"
	"github.com/d60-Lab/job-portal/pkg/response"
)

type createRequestRequest struct {
	Name        string `json:"name" binding:"required,max=128"`
	Email       string `json:"email" binding:"required,email"`
	CompanyName string `json:"companyName" binding:"max=255"`
	Details     string `json:"details" binding:"max=5000"`
}

type updateStatusRequest struct {
	Status string `json:"status" binding:"required"`
}

// CreateRequest 雇主提交招聘请求，实时通知管理员
// @Summary 创建雇主请求
// @Tags 雇主请求
// @Accept json
// @Produce json
// @Param request body createRequestRequest true "请求信息"
// @Success 201 {object} response.Response
// @Failure 400 {object} response.Response
// @Router /api/v1/requests [post]
func (h *Handler) CreateRequest(c *gin.Context) {
	var req createRequestRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	created, err := h.requests.Create(c.Request.Context(), service.CreateRequestInput{
		Name:        req.Name,
		Email:       req.Email,
		CompanyName: req.CompanyName,
		Details:     req.Details,
	})
	if err != nil {
		fail(c, err)
		return
	}
	response.Created(c, "request submitted", created)
}

// ListRequests 管理员分页查看请求
// @Summary 请求列表
// @Tags 雇主请求
// @Produce json
// @Security BearerAuth
// @Param page query int false "页码"
// @Param limit query int false "每页数量"
// @Success 200 {object} response.Response
// @Router /api/v1/admin/requests [get]
func (h *Handler) ListRequests(c *gin.Context) {
	page, err := h.requests.List(c.Request.Context(), queryInt(c, "page", 1), queryInt(c, "limit", 10))
	if err != nil {
		fail(c, err)
		return
	}
	response.Success(c, page)
}

// GetRequest 单个请求详情
// @Summary 请求详情
// @Tags 雇主请求
// @Produce json
// @Security BearerAuth
// @Param id path int true "请求 ID"
// @Success 200 {object} response.Response
// @Failure 404 {object} response.Response
// @Router /api/v1/admin/requests/{id} [get]
func (h *Handler) GetRequest(c *gin.Context) {
	id, ok := paramID(c)
	if !ok {
		return
	}
	req, err := h.requests.Get(c.Request.Context(), id)
	if err != nil {
		fail(c, err)
		return
	}
	response.Success(c, req)
}

// UpdateRequestStatus 修改状态并推送 request_status_change
// @Summary 修改请求状态
// @Tags 雇主请求
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path int true "请求 ID"
// @Param request body updateStatusRequest true "新状态"
// @Success 200 {object} response.Response
// @Failure 400 {object} response.Response
// @Failure 404 {object} response.Response
// @Router /api/v1/admin/requests/{id}/status [patch]
func (h *Handler) UpdateRequestStatus(c *gin.Context) {
	id, ok := paramID(c)
	if !ok {
		return
	}
	var req updateStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	updated, err := h.requests.UpdateStatus(c.Request.Context(), id, req.Status)
	if err != nil {
		fail(c, err)
		return
	}
	response.Success(c, updated)
}
