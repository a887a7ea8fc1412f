package timeutil

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"time"
)

// ErrMalformedDate 日期/时间字符串无法解析
// 所有输入边界在触达存储之前统一通过本包解析，避免坏数据写入
var ErrMalformedDate = errors.New("malformed date/time string")

// ParseDateTime 解析宽松格式的日期/时间字符串，统一返回 UTC 时间
// 规则：
//   - 不含 'T'：按纯日期处理，补 "T00:00:00Z"
//   - 含 'T' 但无时区标记：按 UTC 处理，补 "Z"
//   - 其余：按 RFC 3339 解析
func ParseDateTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, fmt.Errorf("%w: empty input", ErrMalformedDate)
	}

	normalized := s
	if !strings.Contains(s, "T") {
		normalized = s + "T00:00:00Z"
	} else if !hasZoneMarker(s) {
		normalized = s + "Z"
	}

	t, err := time.Parse(time.RFC3339, normalized)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %q", ErrMalformedDate, s)
	}
	return t.UTC(), nil
}

// hasZoneMarker 判断 'T' 之后是否带时区标记（Z、+hh:mm 或 -hh:mm）
// 注意只检查时间部分，日期部分的 '-' 不算时区
func hasZoneMarker(s string) bool {
	idx := strings.Index(s, "T")
	clock := s[idx+1:]
	return strings.ContainsAny(clock, "Zz+-")
}

// DayStart 当天起点（00:00:00.000 UTC）
func DayStart(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// DayEnd 当天终点（23:59:59.999 UTC，含）
func DayEnd(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 23, 59, 59, int((999 * time.Millisecond).Nanoseconds()), time.UTC)
}

// FormatDuration 将秒数格式化为人类可读时长，如 "02 days 03h 04m"
// 用于控制台报表输出；CSV/XLSX 保留原始秒数
func FormatDuration(seconds float64) string {
	totalMinutes := int64(math.Round(seconds / 60.0))
	days := totalMinutes / 1440
	hours := (totalMinutes % 1440) / 60
	minutes := totalMinutes % 60
	switch {
	case days > 0:
		return fmt.Sprintf("%02d days %02dh %02dm", days, hours, minutes)
	case hours > 0:
		return fmt.Sprintf("%02dh %02dm", hours, minutes)
	default:
		return fmt.Sprintf("    %02dm", minutes)
	}
}
