package service

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"text/template"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

var (
	ErrTemplateNotFound  = errors.New("模板不存在")
	ErrWrongTemplateKind = errors.New("模板类型不匹配")
	ErrEmptyPrompt       = errors.New("生成的提示词为空")
)

// 模板分类
const (
	CategoryBlog   = "blog"
	CategoryAds    = "ads"
	CategoryEmail  = "email"
	CategorySocial = "social"
	CategoryImage  = "image"

	KindText  = "text"
	KindImage = "image"
)

var (
	templateCategories = []string{CategoryBlog, CategoryAds, CategoryEmail, CategorySocial, CategoryImage}
	fieldTypes         = map[string]bool{"text": true, "textarea": true, "select": true, "number": true, "keywords": true}
)

// TemplateField 表单字段
type TemplateField struct {
	Name        string   `yaml:"name" json:"name"`
	Label       string   `yaml:"label" json:"label"`
	Type        string   `yaml:"type" json:"type"`
	Required    bool     `yaml:"required" json:"required"`
	MaxLength   int      `yaml:"max_length" json:"max_length,omitempty"`
	Min         *float64 `yaml:"min" json:"min,omitempty"`
	Max         *float64 `yaml:"max" json:"max,omitempty"`
	Options     []string `yaml:"options" json:"options,omitempty"`
	Default     string   `yaml:"default" json:"default,omitempty"`
	Placeholder string   `yaml:"placeholder" json:"placeholder,omitempty"`
}

// Template 内容模板
type Template struct {
	ID           string          `yaml:"id" json:"id"`
	Name         string          `yaml:"name" json:"name"`
	Category     string          `yaml:"category" json:"category"`
	Kind         string          `yaml:"kind" json:"kind"`
	Description  string          `yaml:"description" json:"description"`
	Icon         string          `yaml:"icon" json:"icon,omitempty"`
	CreditCost   int             `yaml:"credit_cost" json:"credit_cost"`
	MaxTokens    int             `yaml:"max_tokens" json:"-"`
	Temperature  float64         `yaml:"temperature" json:"-"`
	RequiredPlan string          `yaml:"required_plan" json:"required_plan,omitempty"`
	Model        string          `yaml:"model" json:"model,omitempty"`
	SystemPrompt string          `yaml:"system_prompt" json:"-"`
	Prompt       string          `yaml:"prompt" json:"-"`
	Fields       []TemplateField `yaml:"fields" json:"fields"`

	tmpl *template.Template
}

// RenderOptions 语气和语言
type RenderOptions struct {
	Tone     string
	Language string
}

// ValidationError 表单校验失败，Fields 为字段名到错误信息
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	names := make([]string, 0, len(e.Fields))
	for name := range e.Fields {
		names = append(names, name)
	}
	sort.Strings(names)

	parts := make([]string, 0, len(names))
	for _, name := range names {
		parts = append(parts, name+": "+e.Fields[name])
	}
	return "参数校验失败 " + strings.Join(parts, "; ")
}

type TemplateService struct {
	templates []*Template
	byID      map[string]*Template
}

// LoadTemplateService 从 YAML 文件加载模板目录
func LoadTemplateService(path string) (*TemplateService, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read template catalog: %w", err)
	}
	svc, err := NewTemplateService(data)
	if err != nil {
		return nil, err
	}
	zap.L().Info("template catalog loaded", zap.String("path", path), zap.Int("templates", len(svc.templates)))
	return svc, nil
}

// NewTemplateService 解析并校验模板目录
func NewTemplateService(data []byte) (*TemplateService, error) {
	var catalog struct {
		Templates []*Template `yaml:"templates"`
	}
	if err := yaml.Unmarshal(data, &catalog); err != nil {
		return nil, fmt.Errorf("parse template catalog: %w", err)
	}

	svc := &TemplateService{byID: make(map[string]*Template, len(catalog.Templates))}
	for _, t := range catalog.Templates {
		if err := prepareTemplate(t); err != nil {
			return nil, fmt.Errorf("template %q: %w", t.ID, err)
		}
		if _, dup := svc.byID[t.ID]; dup {
			return nil, fmt.Errorf("template %q: duplicate id", t.ID)
		}
		svc.byID[t.ID] = t
		svc.templates = append(svc.templates, t)
	}
	return svc, nil
}

func prepareTemplate(t *Template) error {
	if t.ID == "" {
		return errors.New("missing id")
	}
	if !containsString(templateCategories, t.Category) {
		return fmt.Errorf("unknown category %q", t.Category)
	}
	if t.Kind == "" {
		t.Kind = KindText
	}
	if t.Kind != KindText && t.Kind != KindImage {
		return fmt.Errorf("unknown kind %q", t.Kind)
	}
	if t.CreditCost < 0 {
		return errors.New("negative credit_cost")
	}
	if t.CreditCost == 0 {
		t.CreditCost = 1
	}

	seen := make(map[string]bool, len(t.Fields))
	for _, f := range t.Fields {
		if f.Name == "" {
			return errors.New("field without name")
		}
		if seen[f.Name] {
			return fmt.Errorf("duplicate field %q", f.Name)
		}
		seen[f.Name] = true
		if !fieldTypes[f.Type] {
			return fmt.Errorf("field %q: unknown type %q", f.Name, f.Type)
		}
		if f.Type == "select" && len(f.Options) == 0 {
			return fmt.Errorf("field %q: select without options", f.Name)
		}
	}

	tmpl, err := template.New(t.ID).Option("missingkey=zero").Parse(t.Prompt)
	if err != nil {
		return fmt.Errorf("parse prompt: %w", err)
	}
	t.tmpl = tmpl
	return nil
}

// List 按目录顺序返回模板，category 为空时返回全部
func (s *TemplateService) List(category string) []*Template {
	result := make([]*Template, 0, len(s.templates))
	for _, t := range s.templates {
		if category == "" || t.Category == category {
			result = append(result, t)
		}
	}
	return result
}

// Categories 目录中出现的分类
func (s *TemplateService) Categories() []string {
	var result []string
	for _, c := range templateCategories {
		for _, t := range s.templates {
			if t.Category == c {
				result = append(result, c)
				break
			}
		}
	}
	return result
}

func (s *TemplateService) Get(id string) (*Template, error) {
	t, ok := s.byID[id]
	if !ok {
		return nil, ErrTemplateNotFound
	}
	return t, nil
}

// Validate 校验表单输入，返回补齐默认值后的字符串值
func (s *TemplateService) Validate(t *Template, inputs map[string]interface{}) (map[string]string, error) {
	values := make(map[string]string, len(t.Fields))
	bad := make(map[string]string)

	known := make(map[string]bool, len(t.Fields))
	for _, f := range t.Fields {
		known[f.Name] = true
	}
	for name := range inputs {
		if !known[name] {
			bad[name] = "未知字段"
		}
	}

	for _, f := range t.Fields {
		raw, present := inputs[f.Name]
		value, err := fieldString(f, raw, present)
		if err != nil {
			bad[f.Name] = err.Error()
			continue
		}
		if value == "" {
			if f.Required {
				bad[f.Name] = "必填"
				continue
			}
			value = f.Default
		}
		if value != "" {
			if msg := checkField(f, value); msg != "" {
				bad[f.Name] = msg
				continue
			}
		}
		values[f.Name] = value
	}

	if len(bad) > 0 {
		return nil, &ValidationError{Fields: bad}
	}
	return values, nil
}

func fieldString(f TemplateField, raw interface{}, present bool) (string, error) {
	if !present || raw == nil {
		return "", nil
	}
	switch v := raw.(type) {
	case string:
		return strings.TrimSpace(v), nil
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64), nil
	case int:
		return strconv.Itoa(v), nil
	case bool:
		return strconv.FormatBool(v), nil
	case []interface{}:
		if f.Type != "keywords" {
			return "", errors.New("格式不正确")
		}
		words := make([]string, 0, len(v))
		for _, item := range v {
			s, ok := item.(string)
			if !ok {
				return "", errors.New("关键词必须是字符串")
			}
			if s = strings.TrimSpace(s); s != "" {
				words = append(words, s)
			}
		}
		return strings.Join(words, ", "), nil
	default:
		return "", errors.New("格式不正确")
	}
}

func checkField(f TemplateField, value string) string {
	if f.MaxLength > 0 && len([]rune(value)) > f.MaxLength {
		return fmt.Sprintf("不能超过 %d 个字符", f.MaxLength)
	}
	switch f.Type {
	case "select":
		if !containsString(f.Options, value) {
			return "不是可选项"
		}
	case "number":
		n, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return "必须是数字"
		}
		if f.Min != nil && n < *f.Min {
			return fmt.Sprintf("不能小于 %v", *f.Min)
		}
		if f.Max != nil && n > *f.Max {
			return fmt.Sprintf("不能大于 %v", *f.Max)
		}
	}
	return ""
}

// Render 渲染提示词并追加语气、语言要求
func (s *TemplateService) Render(t *Template, values map[string]string, opts RenderOptions) (string, error) {
	var buf bytes.Buffer
	if err := t.tmpl.Execute(&buf, values); err != nil {
		return "", fmt.Errorf("render template %s: %w", t.ID, err)
	}

	prompt := strings.TrimSpace(buf.String())
	if prompt == "" {
		return "", ErrEmptyPrompt
	}

	var extra []string
	if tone := strings.TrimSpace(opts.Tone); tone != "" {
		extra = append(extra, fmt.Sprintf("Write in a %s tone.", tone))
	}
	if lang := strings.TrimSpace(opts.Language); lang != "" {
		extra = append(extra, fmt.Sprintf("Respond in %s.", lang))
	}
	if len(extra) > 0 {
		prompt += "\n\n" + strings.Join(extra, " ")
	}
	return prompt, nil
}

func containsString(list []string, s string) bool {
	for _, item := range list {
		if item == s {
			return true
		}
	}
	return false
}
