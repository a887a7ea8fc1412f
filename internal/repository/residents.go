package repository

import (
	"context"
	"errors"
	"time"

	"wisefido-residents/internal/models"
)

// 存储层错误分类
// 调用方（CLI）将 not-found / duplicate 作为可报告的非致命结果处理，其余错误中止当前操作
var (
	ErrResidentNotFound = errors.New("resident not found")
	ErrAlarmNotFound    = errors.New("active alarm not found")
	ErrDuplicateKey     = errors.New("duplicate resident key")
)

// WriteResult 写操作结果（用于 CLI 审计输出）
type WriteResult struct {
	MatchedCount  int64
	ModifiedCount int64
	DeletedCount  int64
	InsertedID    interface{}
	Inserted      bool // true 表示走了插入分支（InsertNew / InsertOrUpdate 插入、Upsert 新建）
}

// ReportQuery 报表查询条件
// From/To 为已展开的日界（含端点）；NamePattern/LocationPattern 为空表示不过滤，
// 两者都给出时按 OR 组合（命中任一即包含）
type ReportQuery struct {
	From            time.Time
	To              time.Time
	NamePattern     string
	LocationPattern string
}

// ReportCursor 报表结果游标
// 前向只读、只可消费一次；任何退出路径都必须调用 Close
type ReportCursor interface {
	Next(ctx context.Context) bool
	Decode(row *models.ReportRow) error
	Err() error
	Close(ctx context.Context) error
}

// ResidentsRepository 住户文档仓库
// 所有写操作都是单文档操作，不使用跨文档事务
type ResidentsRepository interface {
	// InsertNew 严格插入；(name, birth) 已存在时返回 ErrDuplicateKey
	InsertNew(ctx context.Context, resident *models.Resident) (*WriteResult, error)

	// Upsert 按 (name, birth) 匹配：存在则只覆盖 location / resident_since（报警列表不动），
	// 不存在则插入带空报警列表的新文档
	Upsert(ctx context.Context, resident *models.Resident) (*WriteResult, error)

	// InsertOrUpdate 先尝试插入，遇 duplicate key 回退为字段更新
	// 与 Upsert 的区别：duplicate 分支显式化，便于 CSV 导入审计
	InsertOrUpdate(ctx context.Context, resident *models.Resident) (*WriteResult, error)

	// Delete 按 (name, birth) 删除；未命中不算错误，DeletedCount 为 0
	Delete(ctx context.Context, name string, birth time.Time) (*WriteResult, error)

	// PushActiveAlarm 向住户的 active_alarms 追加一条报警；住户不存在返回 ErrResidentNotFound
	PushActiveAlarm(ctx context.Context, name string, birth time.Time, alarm models.ActiveAlarm) error

	// FindActiveAlarm 定位开启时刻等于 openTime 的活动报警
	// 住户不存在返回 ErrResidentNotFound；住户存在但无匹配报警返回 ErrAlarmNotFound
	FindActiveAlarm(ctx context.Context, name string, birth time.Time, openTime time.Time) (*models.ActiveAlarm, error)

	// CloseAlarm 单次原子更新：从 active_alarms 移除 alarm.Time 对应的条目，
	// 同时向 alarms 追加历史条目；活动条目已不存在时返回 ErrAlarmNotFound
	CloseAlarm(ctx context.Context, name string, birth time.Time, alarm models.HistoricalAlarm) error

	// Report 运行聚合查询，按 location 升序返回报表行游标
	Report(ctx context.Context, query ReportQuery) (ReportCursor, error)
}
