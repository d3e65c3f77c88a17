package analytics

import (
	"errors"
	"math"
	"time"
)

type Granularity string

const (
	Day   Granularity = "day"
	Week  Granularity = "week"
	Month Granularity = "month"
)

var ErrInvalidRange = errors.New("时间范围无效")

// Point 一条带时间戳的原始数据
type Point struct {
	At    time.Time
	Value float64
}

// Bucket 聚合后的一个时间桶
type Bucket struct {
	Start time.Time `json:"start"`
	Label string    `json:"label"`
	Value float64   `json:"value"`
}

// Series 一条时间序列及其与上一周期的对比
type Series struct {
	Name          string   `json:"name"`
	Buckets       []Bucket `json:"buckets"`
	Total         float64  `json:"total"`
	PreviousTotal float64  `json:"previous_total"`
	ChangePct     float64  `json:"change_pct"`
}

// Window 查询窗口，From/To 均包含
type Window struct {
	From        time.Time
	To          time.Time
	Granularity Granularity
	Location    *time.Location
}

// ParseGranularity 解析粒度，空字符串返回 ok=false
func ParseGranularity(s string) (Granularity, bool) {
	switch Granularity(s) {
	case Day, Week, Month:
		return Granularity(s), true
	}
	return "", false
}

// NewWindow 根据 range（7d, 30d, 90d, 12m）构造窗口，窗口起点对齐到天或月
func NewWindow(rng string, granularity string, now time.Time, loc *time.Location) (Window, error) {
	if loc == nil {
		loc = time.UTC
	}
	now = now.In(loc)
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, loc)

	var from time.Time
	switch rng {
	case "", "30d":
		from = today.AddDate(0, 0, -29)
	case "7d":
		from = today.AddDate(0, 0, -6)
	case "90d":
		from = today.AddDate(0, 0, -89)
	case "12m":
		from = time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, loc).AddDate(0, -11, 0)
	default:
		return Window{}, ErrInvalidRange
	}
	return newWindow(from, now, granularity, loc)
}

// NewExplicitWindow 使用显式的起止日期（YYYY-MM-DD，均包含）
func NewExplicitWindow(fromStr, toStr, granularity string, loc *time.Location) (Window, error) {
	if loc == nil {
		loc = time.UTC
	}
	from, err := time.ParseInLocation("2006-01-02", fromStr, loc)
	if err != nil {
		return Window{}, ErrInvalidRange
	}
	to, err := time.ParseInLocation("2006-01-02", toStr, loc)
	if err != nil {
		return Window{}, ErrInvalidRange
	}
	// 结束日期包含当天
	to = to.AddDate(0, 0, 1).Add(-time.Nanosecond)
	if to.Before(from) || to.Sub(from) > 3*366*24*time.Hour {
		return Window{}, ErrInvalidRange
	}
	return newWindow(from, to, granularity, loc)
}

func newWindow(from, to time.Time, granularity string, loc *time.Location) (Window, error) {
	g, ok := ParseGranularity(granularity)
	if !ok {
		if granularity != "" {
			return Window{}, ErrInvalidRange
		}
		g = DefaultGranularity(from, to)
	}
	return Window{From: from, To: to, Granularity: g, Location: loc}, nil
}

// DefaultGranularity 不超过 31 天按天，不超过 120 天按周，否则按月
func DefaultGranularity(from, to time.Time) Granularity {
	days := to.Sub(from).Hours() / 24
	switch {
	case days <= 31:
		return Day
	case days <= 120:
		return Week
	default:
		return Month
	}
}

// Previous 紧邻的上一个等长窗口
func (w Window) Previous() Window {
	span := w.To.Sub(w.From)
	return Window{
		From:        w.From.Add(-span - time.Nanosecond),
		To:          w.From.Add(-time.Nanosecond),
		Granularity: w.Granularity,
		Location:    w.Location,
	}
}

// Truncate 将时间对齐到桶起点（周从周一开始）
func Truncate(t time.Time, g Granularity, loc *time.Location) time.Time {
	t = t.In(loc)
	switch g {
	case Week:
		offset := (int(t.Weekday()) + 6) % 7
		return time.Date(t.Year(), t.Month(), t.Day()-offset, 0, 0, 0, 0, loc)
	case Month:
		return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, loc)
	default:
		return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, loc)
	}
}

func next(t time.Time, g Granularity) time.Time {
	switch g {
	case Week:
		return t.AddDate(0, 0, 7)
	case Month:
		return t.AddDate(0, 1, 0)
	default:
		return t.AddDate(0, 0, 1)
	}
}

func label(t time.Time, g Granularity) string {
	if g == Month {
		return t.Format("2006-01")
	}
	return t.Format("2006-01-02")
}

// Bucketize 按窗口生成连续的桶，空桶补零，窗口外的点被忽略
func Bucketize(points []Point, w Window) []Bucket {
	loc := w.Location
	if loc == nil {
		loc = time.UTC
	}

	var buckets []Bucket
	index := make(map[int64]int)
	for start := Truncate(w.From, w.Granularity, loc); !start.After(w.To); start = next(start, w.Granularity) {
		index[start.Unix()] = len(buckets)
		buckets = append(buckets, Bucket{Start: start, Label: label(start, w.Granularity)})
	}

	for _, p := range points {
		if p.At.Before(w.From) || p.At.After(w.To) {
			continue
		}
		key := Truncate(p.At, w.Granularity, loc).Unix()
		if i, ok := index[key]; ok {
			buckets[i].Value += p.Value
		}
	}
	return buckets
}

// Sum 窗口内所有点的合计
func Sum(points []Point, w Window) float64 {
	var total float64
	for _, p := range points {
		if p.At.Before(w.From) || p.At.After(w.To) {
			continue
		}
		total += p.Value
	}
	return total
}

// ChangePct 环比变化百分比，上期为 0 时返回 0
func ChangePct(current, previous float64) float64 {
	if previous == 0 {
		return 0
	}
	return math.Round((current-previous)/previous*1000) / 10
}

// Build 构造一条完整序列，points 需覆盖当前窗口和上一窗口
func Build(name string, points []Point, w Window) Series {
	buckets := Bucketize(points, w)
	total := Sum(points, w)
	prev := Sum(points, w.Previous())
	return Series{
		Name:          name,
		Buckets:       buckets,
		Total:         total,
		PreviousTotal: prev,
		ChangePct:     ChangePct(total, prev),
	}
}
