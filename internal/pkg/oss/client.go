// Package oss 阿里云对象存储，保存生成图片和用户头像
package oss

import (
	"bytes"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/aliyun/aliyun-oss-go-sdk/oss"
	"github.com/google/uuid"

	"github.com/qs3c/aigc_server/config"
)

// 对象前缀
const (
	imagePrefix  = "images"
	avatarPrefix = "avatars"
)

var contentTypes = map[string]string{
	".png":  "image/png",
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".gif":  "image/gif",
	".webp": "image/webp",
}

type Client struct {
	bucket  *oss.Bucket
	baseURL string
}

// Configured OSS 配置是否完整
func Configured(cfg *config.OSSConfig) bool {
	if cfg == nil {
		return false
	}
	return cfg.Endpoint != "" && cfg.AccessKeyID != "" && cfg.AccessKeySecret != "" && cfg.BucketName != ""
}

func NewClient(cfg *config.OSSConfig) (*Client, error) {
	if !Configured(cfg) {
		return nil, fmt.Errorf("oss: incomplete config")
	}
	client, err := oss.New(cfg.Endpoint, cfg.AccessKeyID, cfg.AccessKeySecret)
	if err != nil {
		return nil, fmt.Errorf("oss: new client: %w", err)
	}
	bucket, err := client.Bucket(cfg.BucketName)
	if err != nil {
		return nil, fmt.Errorf("oss: open bucket %s: %w", cfg.BucketName, err)
	}
	return &Client{bucket: bucket, baseURL: publicBase(cfg)}, nil
}

// publicBase 对外访问前缀，配置了 CDN 时优先使用
func publicBase(cfg *config.OSSConfig) string {
	if cfg.CDNDomain != "" {
		return "https://" + strings.TrimSuffix(cfg.CDNDomain, "/")
	}
	endpoint := strings.TrimPrefix(strings.TrimPrefix(cfg.Endpoint, "https://"), "http://")
	return fmt.Sprintf("https://%s.%s", cfg.BucketName, endpoint)
}

// ImageKey 生成图片对象路径 images/<user>/<uuid>.png
func ImageKey(userID int64) string {
	return fmt.Sprintf("%s/%d/%s.png", imagePrefix, userID, uuid.NewString())
}

// AvatarKey 头像对象路径，同一用户按时间戳区分版本
func AvatarKey(userID int64, ext string, now time.Time) string {
	return fmt.Sprintf("%s/%d/%d%s", avatarPrefix, userID, now.Unix(), strings.ToLower(ext))
}

// ContentType 按扩展名推断，未知类型按二进制处理
func ContentType(ext string) string {
	if ct, ok := contentTypes[strings.ToLower(ext)]; ok {
		return ct
	}
	return "application/octet-stream"
}

// UploadImage 上传生成的图片
func (c *Client) UploadImage(userID int64, data []byte) (string, error) {
	return c.put(ImageKey(userID), data, "image/png")
}

// UploadAvatar 上传用户头像
func (c *Client) UploadAvatar(userID int64, data []byte, ext string) (string, error) {
	return c.put(AvatarKey(userID, ext, time.Now()), data, ContentType(ext))
}

// DeleteByURL 删除本 bucket 下的对象，外部地址直接忽略
func (c *Client) DeleteByURL(rawURL string) error {
	key, ok := c.ObjectKey(rawURL)
	if !ok {
		return nil
	}
	if err := c.bucket.DeleteObject(key); err != nil {
		return fmt.Errorf("oss: delete %s: %w", key, err)
	}
	return nil
}

// URL 对象的公开访问地址
func (c *Client) URL(key string) string {
	return c.baseURL + "/" + key
}

// ObjectKey 从公开地址解析对象 key
func (c *Client) ObjectKey(rawURL string) (string, bool) {
	base, err := url.Parse(c.baseURL)
	if err != nil {
		return "", false
	}
	u, err := url.Parse(rawURL)
	if err != nil || u.Host != base.Host {
		return "", false
	}
	key := strings.TrimPrefix(u.Path, "/")
	if key == "" {
		return "", false
	}
	return key, true
}

func (c *Client) put(key string, data []byte, contentType string) (string, error) {
	if err := c.bucket.PutObject(key, bytes.NewReader(data), oss.ContentType(contentType)); err != nil {
		return "", fmt.Errorf("oss: put %s: %w", key, err)
	}
	return c.URL(key), nil
}
