// Package email 事务邮件：验证码、欢迎、生成完成、订阅变更
package email

import (
	"bytes"
	"errors"
	"fmt"
	"html/template"

	"go.uber.org/zap"

	"github.com/qs3c/aigc_server/config"
)

const siteName = "AIGC 创作平台"

var ErrDisabled = errors.New("email disabled")

// Sender 邮件发送通道
type Sender interface {
	Send(to, subject, htmlBody string) error
}

var pages = template.Must(template.New("layout").Parse(`<!DOCTYPE html>
<html>
<head><meta charset="UTF-8"></head>
<body style="font-family: Arial, sans-serif; line-height: 1.6; color: #333;">
<div style="max-width: 600px; margin: 0 auto; padding: 20px;">
<h2 style="color: #2563eb;">{{.Title}}</h2>
{{template "body" .}}
<hr style="border: none; border-top: 1px solid #e5e7eb; margin: 20px 0;">
<p style="color: #6b7280; font-size: 12px;">此邮件由{{.Site}}自动发送，请勿回复。</p>
</div>
</body>
</html>`))

var bodies = map[string]string{
	"verify": `<p>您好，</p>
<p>您正在注册{{.Site}}账号，验证码为：</p>
<div style="background-color: #f3f4f6; padding: 15px; text-align: center; font-size: 24px; font-weight: bold; letter-spacing: 5px;">{{.Code}}</div>
<p>验证码 24 小时内有效。如果不是您本人操作，请忽略此邮件。</p>`,

	"welcome": `<p>您好，{{.Name}}！</p>
<p>感谢注册{{.Site}}，现在可以：</p>
<ul>
<li>使用模板生成博客、广告和邮件文案</li>
<li>根据描述生成图片</li>
<li>在文档库中管理所有生成内容</li>
</ul>`,

	"generation": `<p>您好，{{.Name}}！</p>
<p>「{{.Doc}}」已生成完成。</p>
<p style="text-align: center; margin: 30px 0;"><a href="{{.Link}}" style="background-color: #2563eb; color: white; padding: 12px 30px; text-decoration: none; border-radius: 5px;">查看内容</a></p>`,

	"billing": `<p>您好，{{.Name}}！</p>
<p>您的订阅已更新：</p>
<p style="background-color: #f3f4f6; padding: 10px;">套餐：<b>{{.Plan}}</b><br>状态：<b>{{.Status}}</b></p>`,
}

var templates = func() map[string]*template.Template {
	out := make(map[string]*template.Template, len(bodies))
	for name, body := range bodies {
		t := template.Must(pages.Clone())
		out[name] = template.Must(t.New("body").Parse(body))
	}
	return out
}()

type mailData struct {
	Title  string
	Site   string
	Code   string
	Name   string
	Doc    string
	Link   template.URL
	Plan   string
	Status string
}

type Service struct {
	cfg    *config.EmailConfig
	sender Sender
}

// NewService 根据 provider 选择 SendGrid 或 SMTP，未配置时不发送
func NewService(cfg *config.EmailConfig) *Service {
	return &Service{cfg: cfg, sender: newSender(cfg)}
}

// NewServiceWithSender 使用自定义发送通道
func NewServiceWithSender(cfg *config.EmailConfig, sender Sender) *Service {
	return &Service{cfg: cfg, sender: sender}
}

func (s *Service) Enabled() bool {
	return s != nil && s.sender != nil
}

func (s *Service) SendVerificationCode(to, code string) error {
	return s.render(to, "验证码", "verify", mailData{Title: "邮箱验证", Code: code})
}

func (s *Service) SendWelcome(to, username string) error {
	return s.render(to, "欢迎加入", "welcome", mailData{Title: "欢迎加入！", Name: username})
}

func (s *Service) SendGenerationDone(to, username, title, link string) error {
	return s.render(to, "内容已生成", "generation", mailData{
		Title: "生成完成",
		Name:  username,
		Doc:   title,
		Link:  template.URL(link),
	})
}

func (s *Service) SendBillingNotice(to, username, plan, status string) error {
	return s.render(to, "订阅变更", "billing", mailData{Title: "订阅通知", Name: username, Plan: plan, Status: status})
}

func (s *Service) render(to, subject, name string, data mailData) error {
	if !s.Enabled() {
		zap.L().Debug("email disabled, skip", zap.String("to", to), zap.String("template", name))
		return ErrDisabled
	}
	if to == "" {
		return errors.New("email: empty recipient")
	}

	data.Site = siteName
	var buf bytes.Buffer
	if err := templates[name].ExecuteTemplate(&buf, "layout", data); err != nil {
		return fmt.Errorf("email: render %s: %w", name, err)
	}
	return s.sender.Send(to, subject+" - "+siteName, buf.String())
}
