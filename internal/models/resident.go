package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"

	"wisefido-residents/internal/timeutil"
)

// ActiveAlarm 未关闭的报警
// time 是开启时刻，也是 clear-alarm 的查找键；alarm_id 用于区分同一毫秒内开启的报警
type ActiveAlarm struct {
	AlarmID string    `bson:"alarm_id" json:"alarm_id"`
	Time    time.Time `bson:"time" json:"time"`
	Message string    `bson:"message" json:"message"`
}

// HistoricalAlarm 已关闭的报警（由关闭操作生成，生成后不可变）
type HistoricalAlarm struct {
	AlarmID     string    `bson:"alarm_id" json:"alarm_id"`
	Time        time.Time `bson:"time" json:"time"`
	Message     string    `bson:"message" json:"message"`
	DurationSec int64     `bson:"duration_sec" json:"duration_sec"`
}

// Resident 住户文档
// 唯一键：(name, birth)，由集合上的唯一索引保证
type Resident struct {
	ID            primitive.ObjectID `bson:"_id,omitempty" json:"id,omitempty"`
	Name          string             `bson:"name" json:"name"`
	Birth         time.Time          `bson:"birth" json:"birth"`
	Location      string             `bson:"location" json:"location"`
	ResidentSince time.Time          `bson:"resident_since" json:"resident_since"`
	Alarms        []HistoricalAlarm  `bson:"alarms" json:"alarms"`
	ActiveAlarms  []ActiveAlarm      `bson:"active_alarms" json:"active_alarms"`
}

// NewResident 根据字符串输入构造住户
// birth / residentSince 接受日期或完整时间戳，缺失部分按 UTC 补齐；解析失败立即返回错误（不触达存储）
func NewResident(name, birth, location, residentSince string) (*Resident, error) {
	birthDate, err := timeutil.ParseDateTime(birth)
	if err != nil {
		return nil, err
	}
	sinceDate, err := timeutil.ParseDateTime(residentSince)
	if err != nil {
		return nil, err
	}
	return &Resident{
		Name:          name,
		Birth:         birthDate,
		Location:      location,
		ResidentSince: sinceDate,
		Alarms:        []HistoricalAlarm{},
		ActiveAlarms:  []ActiveAlarm{},
	}, nil
}

// ReportRow 报表行（查询派生，不落库）
type ReportRow struct {
	Name              string     `bson:"name" json:"name"`
	Location          string     `bson:"location" json:"location"`
	AlarmsCount       int64      `bson:"alarms_count" json:"alarms_count"`
	AlarmsAvgDuration *float64   `bson:"alarms_avg_duration" json:"alarms_avg_duration"`
	AlarmsMinTime     *time.Time `bson:"alarms_min_time" json:"alarms_min_time"`
	AlarmsMaxTime     *time.Time `bson:"alarms_max_time" json:"alarms_max_time"`
	ActiveAlarmsCount int64      `bson:"active_alarms_count" json:"active_alarms_count"`
}

// Columns 报表列名（报表输出的表头，与 bson 字段名一致）
func (ReportRow) Columns() []string {
	return []string{
		"name",
		"location",
		"alarms_count",
		"alarms_avg_duration",
		"alarms_min_time",
		"alarms_max_time",
		"active_alarms_count",
	}
}
