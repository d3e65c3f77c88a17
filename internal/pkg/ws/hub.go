// Package ws 按用户推送实时事件：文档生成完成、图片进度、积分变化
package ws

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// 推送给前端的消息类型
const (
	TypeGenerationCompleted = "generation_completed"
	TypeImageProgress       = "image_progress"
	TypeCreditsUpdated      = "credits_updated"
)

const (
	writeWait = 10 * time.Second
	readLimit = 4096
)

// Event 下发给浏览器的消息
type Event struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
	At   int64       `json:"at"`
}

// Hub 同一用户可以同时持有多个连接
type Hub struct {
	mu    sync.RWMutex
	conns map[int64]map[*conn]struct{}
}

type conn struct {
	userID int64
	ws     *websocket.Conn
	wmu    sync.Mutex
}

func NewHub() *Hub {
	return &Hub{conns: make(map[int64]map[*conn]struct{})}
}

// Serve 接管连接直到对端断开，调用方通常放在独立 goroutine
func (h *Hub) Serve(userID int64, ws *websocket.Conn) {
	c := &conn{userID: userID, ws: ws}
	h.add(c)
	defer func() {
		h.remove(c)
		ws.Close()
	}()

	// 客户端不会发业务消息，读循环只用来感知断开
	ws.SetReadLimit(readLimit)
	for {
		if _, _, err := ws.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Hub) add(c *conn) {
	h.mu.Lock()
	set := h.conns[c.userID]
	if set == nil {
		set = make(map[*conn]struct{})
		h.conns[c.userID] = set
	}
	set[c] = struct{}{}
	n := len(set)
	h.mu.Unlock()

	zap.L().Debug("ws connected", zap.Int64("user_id", c.userID), zap.Int("user_conns", n))
}

func (h *Hub) remove(c *conn) {
	h.mu.Lock()
	if set, ok := h.conns[c.userID]; ok {
		delete(set, c)
		if len(set) == 0 {
			delete(h.conns, c.userID)
		}
	}
	h.mu.Unlock()

	zap.L().Debug("ws disconnected", zap.Int64("user_id", c.userID))
}

// Send 推送给用户的全部连接，用户不在线时直接丢弃
func (h *Hub) Send(userID int64, eventType string, data interface{}) {
	targets := h.snapshot(userID)
	if len(targets) == 0 {
		return
	}

	payload, err := json.Marshal(Event{Type: eventType, Data: data, At: time.Now().Unix()})
	if err != nil {
		zap.L().Warn("ws encode failed", zap.String("type", eventType), zap.Error(err))
		return
	}
	for _, c := range targets {
		if err := c.write(websocket.TextMessage, payload); err != nil {
			zap.L().Warn("ws write failed", zap.Int64("user_id", userID), zap.String("type", eventType), zap.Error(err))
		}
	}
}

// Online 用户当前的连接数
func (h *Hub) Online(userID int64) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns[userID])
}

// Total 全部连接数
func (h *Hub) Total() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	n := 0
	for _, set := range h.conns {
		n += len(set)
	}
	return n
}

// CloseAll 服务退出时通知并关闭所有连接
func (h *Hub) CloseAll() {
	h.mu.Lock()
	var all []*conn
	for _, set := range h.conns {
		for c := range set {
			all = append(all, c)
		}
	}
	h.conns = make(map[int64]map[*conn]struct{})
	h.mu.Unlock()

	bye := websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutdown")
	for _, c := range all {
		c.write(websocket.CloseMessage, bye)
		c.ws.Close()
	}
}

func (h *Hub) snapshot(userID int64) []*conn {
	h.mu.RLock()
	defer h.mu.RUnlock()
	set := h.conns[userID]
	out := make([]*conn, 0, len(set))
	for c := range set {
		out = append(out, c)
	}
	return out
}

func (c *conn) write(messageType int, data []byte) error {
	c.wmu.Lock()
	defer c.wmu.Unlock()
	c.ws.SetWriteDeadline(time.Now().Add(writeWait))
	return c.ws.WriteMessage(messageType, data)
}
