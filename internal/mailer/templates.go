package mailer

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
	"strings"
)

//go:embed templates/*.html
var templateFS embed.FS

var templates = template.Must(template.ParseFS(templateFS, "templates/*.html"))

// Composer 渲染各类通知邮件
type Composer struct {
	from         string
	adminAddress string
	frontendURL  string
}

func NewComposer(from, adminAddress, frontendURL string) *Composer {
	return &Composer{from: from, adminAddress: adminAddress, frontendURL: strings.TrimRight(frontendURL, "/")}
}

func (c *Composer) render(name string, data any) (string, error) {
	var buf bytes.Buffer
	if err := templates.ExecuteTemplate(&buf, name, data); err != nil {
		return "", fmt.Errorf("mailer: render %s: %w", name, err)
	}
	return buf.String(), nil
}

func (c *Composer) compose(to, subject, name string, data any) (Message, error) {
	html, err := c.render(name, data)
	if err != nil {
		return Message{}, err
	}
	return Message{From: c.from, To: []string{to}, Subject: subject, HTML: html}, nil
}

// AdminReply 管理员回复后通知雇主
func (c *Composer) AdminReply(employerEmail, employerName, content string, attachment *string) (Message, error) {
	return c.compose(employerEmail, "Response to Your Job Request - Job Portal", "admin_reply.html", map[string]any{
		"Name":       employerName,
		"Content":    content,
		"Attachment": deref(attachment),
	})
}

// EmployerReply 雇主回复后通知管理员邮箱
func (c *Composer) EmployerReply(employerEmail, employerName, content string, attachment *string) (Message, error) {
	return c.compose(c.adminAddress, "Employer Reply - Job Portal", "employer_reply.html", map[string]any{
		"Name":       employerName,
		"Email":      employerEmail,
		"Content":    content,
		"Attachment": deref(attachment),
	})
}

func (c *Composer) PasswordReset(email, firstName, token string) (Message, error) {
	return c.compose(email, "Password Reset Request - Job Portal", "password_reset.html", map[string]any{
		"Name":     firstName,
		"ResetURL": c.frontendURL + "/reset-password?token=" + token,
	})
}

func (c *Composer) PasswordResetConfirmation(email string) (Message, error) {
	return c.compose(email, "Password Reset Successful - Job Portal", "password_reset_done.html", map[string]any{
		"LoginURL": c.frontendURL + "/login",
	})
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
