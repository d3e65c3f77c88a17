// Package oauth GitHub 第三方登录
package oauth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/github"

	"github.com/qs3c/aigc_server/config"
)

const githubAPI = "https://api.github.com"

var ErrNotConfigured = errors.New("github oauth not configured")

// GithubUser GitHub 账号资料，Email 可能为空
type GithubUser struct {
	ID        int64  `json:"id"`
	Login     string `json:"login"`
	Email     string `json:"email"`
	AvatarURL string `json:"avatar_url"`
	Name      string `json:"name"`
}

type githubEmail struct {
	Email    string `json:"email"`
	Primary  bool   `json:"primary"`
	Verified bool   `json:"verified"`
}

type GithubOAuth struct {
	conf    *oauth2.Config
	apiBase string
}

func NewGithubOAuth(cfg config.GithubOAuthConfig) *GithubOAuth {
	return &GithubOAuth{
		conf: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURI,
			Scopes:       []string{"user:email"},
			Endpoint:     github.Endpoint,
		},
		apiBase: githubAPI,
	}
}

func (g *GithubOAuth) Configured() bool {
	return g.conf.ClientID != "" && g.conf.ClientSecret != ""
}

// AuthURL 跳转到 GitHub 的授权地址
func (g *GithubOAuth) AuthURL(state string) string {
	return g.conf.AuthCodeURL(state)
}

// Authenticate 用授权码换取 token 并读取账号资料
func (g *GithubOAuth) Authenticate(ctx context.Context, code string) (*GithubUser, error) {
	if !g.Configured() {
		return nil, ErrNotConfigured
	}
	token, err := g.conf.Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("github: exchange code: %w", err)
	}
	client := g.conf.Client(ctx, token)

	var user GithubUser
	if err := g.getJSON(client, "/user", &user); err != nil {
		return nil, err
	}
	if user.Email == "" {
		// 邮箱设为私密时 /user 不返回，退回到邮箱列表
		var emails []githubEmail
		if err := g.getJSON(client, "/user/emails", &emails); err == nil {
			user.Email = pickEmail(emails)
		}
	}
	return &user, nil
}

func (g *GithubOAuth) getJSON(client *http.Client, path string, out interface{}) error {
	resp, err := client.Get(g.apiBase + path)
	if err != nil {
		return fmt.Errorf("github: GET %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("github: GET %s: %d %s", path, resp.StatusCode, strings.TrimSpace(string(body)))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("github: decode %s: %w", path, err)
	}
	return nil
}

// pickEmail 优先主邮箱，其次任意已验证邮箱
func pickEmail(emails []githubEmail) string {
	fallback := ""
	for _, e := range emails {
		if !e.Verified {
			continue
		}
		if e.Primary {
			return e.Email
		}
		if fallback == "" {
			fallback = e.Email
		}
	}
	return fallback
}
