// Package docs swagger 文档，由 swag init 生成后手工精简
package docs

import "github.com/swaggo/swag"

const docTemplate = `{
    "schemes": {{ marshal .Schemes }},
    "swagger": "2.0",
    "info": {
        "description": "{{escape .Description}}",
        "title": "{{.Title}}",
        "contact": {},
        "version": "{{.Version}}"
    },
    "host": "{{.Host}}",
    "basePath": "{{.BasePath}}",
    "securityDefinitions": {
        "BearerAuth": {
            "type": "apiKey",
            "name": "Authorization",
            "in": "header"
        }
    },
    "paths": {
        "/api/v1/auth/login": {"post": {"tags": ["认证"], "summary": "登录", "responses": {"200": {"description": "OK"}}}},
        "/api/v1/auth/refresh": {"post": {"tags": ["认证"], "summary": "刷新令牌", "responses": {"200": {"description": "OK"}}}},
        "/api/v1/auth/logout": {"post": {"tags": ["认证"], "summary": "退出登录", "security": [{"BearerAuth": []}], "responses": {"200": {"description": "OK"}}}},
        "/api/v1/auth/password-reset": {"post": {"tags": ["认证"], "summary": "申请重置密码", "responses": {"200": {"description": "OK"}}}},
        "/api/v1/auth/password-reset/confirm": {"post": {"tags": ["认证"], "summary": "确认重置密码", "responses": {"200": {"description": "OK"}}}},
        "/api/v1/requests": {"post": {"tags": ["雇主请求"], "summary": "创建雇主请求", "responses": {"201": {"description": "Created"}}}},
        "/api/v1/messaging/admin/{id}/send": {"post": {"tags": ["消息"], "summary": "管理员发送消息", "security": [{"BearerAuth": []}], "responses": {"201": {"description": "Created"}}}},
        "/api/v1/messaging/admin/conversations": {"get": {"tags": ["消息"], "summary": "会话列表", "security": [{"BearerAuth": []}], "responses": {"200": {"description": "OK"}}}},
        "/api/v1/messaging/employer/{id}/reply": {"post": {"tags": ["消息"], "summary": "雇主回复消息", "responses": {"201": {"description": "Created"}}}},
        "/api/v1/messaging/employer/{id}/ws-token": {"post": {"tags": ["消息"], "summary": "获取访客令牌", "responses": {"200": {"description": "OK"}}}},
        "/api/v1/messaging/conversation/{id}": {"get": {"tags": ["消息"], "summary": "获取会话", "responses": {"200": {"description": "OK"}}}},
        "/api/v1/messaging/conversation/{id}/read": {"post": {"tags": ["消息"], "summary": "标记消息已读", "security": [{"BearerAuth": []}], "responses": {"200": {"description": "OK"}}}},
        "/api/v1/messaging/conversation/{id}/unread": {"get": {"tags": ["消息"], "summary": "未读消息数", "security": [{"BearerAuth": []}], "responses": {"200": {"description": "OK"}}}},
        "/api/v1/admin/requests": {"get": {"tags": ["雇主请求"], "summary": "请求列表", "security": [{"BearerAuth": []}], "responses": {"200": {"description": "OK"}}}},
        "/api/v1/admin/requests/{id}": {"get": {"tags": ["雇主请求"], "summary": "请求详情", "security": [{"BearerAuth": []}], "responses": {"200": {"description": "OK"}}}},
        "/api/v1/admin/requests/{id}/status": {"patch": {"tags": ["雇主请求"], "summary": "修改请求状态", "security": [{"BearerAuth": []}], "responses": {"200": {"description": "OK"}}}},
        "/api/v1/admin/settings": {
            "get": {"tags": ["管理"], "summary": "获取系统设置", "security": [{"BearerAuth": []}], "responses": {"200": {"description": "OK"}}},
            "put": {"tags": ["管理"], "summary": "更新系统设置", "security": [{"BearerAuth": []}], "responses": {"200": {"description": "OK"}}}
        },
        "/api/v1/admin/realtime/stats": {"get": {"tags": ["管理"], "summary": "实时连接统计", "security": [{"BearerAuth": []}], "responses": {"200": {"description": "OK"}}}},
        "/api/v1/admin/realtime/system-message": {"post": {"tags": ["管理"], "summary": "广播系统消息", "security": [{"BearerAuth": []}], "responses": {"200": {"description": "OK"}}}}
    }
}`

// SwaggerInfo holds exported Swagger Info so clients can modify it
var SwaggerInfo = &swag.Spec{
	Version:          "1.0",
	Host:             "",
	BasePath:         "/",
	Schemes:          []string{},
	Title:            "Job Portal Messaging API",
	Description:      "雇主沟通、实时通知与 WebSocket 网关",
	InfoInstanceName: "swagger",
	SwaggerTemplate:  docTemplate,
	LeftDelim:        "{{",
	RightDelim:       "}}",
}

func init() {
	swag.Register(SwaggerInfo.InstanceName(), SwaggerInfo)
}
