package gateway

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/d60-Lab/job-portal/internal/model"
)

const (
	FrameConnection          = "connection"
	FrameSubscribe           = "subscribe"
	FrameUnsubscribe         = "unsubscribe"
	FrameSubscribed          = "subscribed"
	FrameUnsubscribed        = "unsubscribed"
	FramePing                = "ping"
	FramePong                = "pong"
	FrameNewMessage          = "new_message"
	FrameDashboardUpdate     = "dashboard_update"
	FrameNewRequest          = "new_request"
	FrameRequestStatusChange = "request_status_change"
	FrameSystemMessage       = "system_message"
	FrameError               = "error"
)

// Frame 服务端下发的 JSON 帧
type Frame struct {
	Type      string `json:"type"`
	Message   any    `json:"message,omitempty"`
	Channel   string `json:"channel,omitempty"`
	UserID    string `json:"userId,omitempty"`
	Role      string `json:"role,omitempty"`
	Data      any    `json:"data,omitempty"`
	Timestamp int64  `json:"timestamp,omitempty"`
}

type inboundFrame struct {
	Type    string `json:"type"`
	Channel string `json:"channel"`
}

type channelName struct {
	Name string `validate:"required,max=128,printascii"`
}

var validate = validator.New()

func nowMillis() int64 { return time.Now().UnixMilli() }

func (g *Gateway) handleFrame(c *Conn, data []byte) {
	var in inboundFrame
	if err := json.Unmarshal(data, &in); err != nil {
		c.log.Warn("malformed websocket frame", zap.Error(err), zap.Int("size", len(data)))
		return
	}

	switch in.Type {
	case FrameSubscribe:
		if !g.validChannel(c, in.Channel) {
			return
		}
		if g.authorize != nil && !g.authorize(c, in.Channel) {
			c.log.Warn("channel subscription denied", zap.String("user_id", c.UserID()), zap.String("channel", in.Channel))
			_ = c.Send(Frame{Type: FrameError, Channel: in.Channel, Message: "Subscription denied"})
			return
		}
		c.subscribe(in.Channel)
		_ = c.Send(Frame{Type: FrameSubscribed, Channel: in.Channel, Message: "Subscribed to " + in.Channel})
	case FrameUnsubscribe:
		if !g.validChannel(c, in.Channel) {
			return
		}
		c.unsubscribe(in.Channel)
		_ = c.Send(Frame{Type: FrameUnsubscribed, Channel: in.Channel, Message: "Unsubscribed from " + in.Channel})
	case FramePing:
		_ = c.Send(Frame{Type: FramePong, Timestamp: nowMillis()})
	default:
		c.log.Debug("unknown websocket frame type", zap.String("type", in.Type))
	}
}

func (g *Gateway) validChannel(c *Conn, channel string) bool {
	if err := validate.Struct(channelName{Name: channel}); err != nil {
		c.log.Warn("invalid channel in frame", zap.String("channel", channel), zap.Error(err))
		_ = c.Send(Frame{Type: FrameError, Channel: channel, Message: "Invalid channel"})
		return false
	}
	return true
}

// GuestChannelAuthorizer 管理员可订阅任意频道；雇主访客只能订阅自己请求的频道
func GuestChannelAuthorizer(c *Conn, channel string) bool {
	claims := c.Claims()
	if claims == nil {
		return false
	}
	switch claims.Role {
	case model.RoleAdmin:
		return true
	case model.RoleEmployerGuest:
		return claims.RequestID != 0 && channel == fmt.Sprintf("employer_%d", claims.RequestID)
	default:
		return false
	}
}

func (g *Gateway) NotifyDashboardUpdate(role string) int {
	return g.BroadcastToRole(role, Frame{
		Type:      FrameDashboardUpdate,
		Message:   "Dashboard data updated",
		Timestamp: nowMillis(),
	})
}

func (g *Gateway) NotifyNewRequest(req *model.EmployerRequest) int {
	return g.BroadcastToRole(model.RoleAdmin, Frame{
		Type:      FrameNewRequest,
		Message:   "New request from " + req.Name,
		Data:      req,
		Timestamp: nowMillis(),
	})
}

// StatusChange request_status_change 帧的 data
type StatusChange struct {
	RequestID uint   `json:"requestId"`
	Status    string `json:"status"`
}

func (g *Gateway) NotifyRequestStatusChange(requestID uint, status, role string) int {
	return g.BroadcastToRole(role, Frame{
		Type:      FrameRequestStatusChange,
		Message:   fmt.Sprintf("Request %d status changed to %s", requestID, status),
		Data:      StatusChange{RequestID: requestID, Status: status},
		Timestamp: nowMillis(),
	})
}

func (g *Gateway) NotifySystemMessage(message, role string) int {
	return g.BroadcastToRole(role, Frame{
		Type:      FrameSystemMessage,
		Message:   message,
		Timestamp: nowMillis(),
	})
}
