package repository

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"sync"
	"time"

	"wisefido-residents/internal/models"
)

// MemoryResidentsRepository 内存实现，供无数据库环境与 service 层测试使用
// 与 Mongo 实现遵守同一份契约（含报表聚合语义）
type MemoryResidentsRepository struct {
	mu        sync.RWMutex
	residents map[string]*models.Resident // (name, birth) -> Resident
}

// NewMemoryResidentsRepository 创建内存仓库
func NewMemoryResidentsRepository() *MemoryResidentsRepository {
	return &MemoryResidentsRepository{
		residents: map[string]*models.Resident{},
	}
}

func memoryKey(name string, birth time.Time) string {
	return name + "\x00" + birth.UTC().Format(time.RFC3339Nano)
}

func cloneResident(r *models.Resident) *models.Resident {
	cp := *r
	cp.Alarms = append([]models.HistoricalAlarm{}, r.Alarms...)
	cp.ActiveAlarms = append([]models.ActiveAlarm{}, r.ActiveAlarms...)
	return &cp
}

func (m *MemoryResidentsRepository) InsertNew(_ context.Context, resident *models.Resident) (*WriteResult, error) {
	if resident == nil {
		return nil, fmt.Errorf("resident is required")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	key := memoryKey(resident.Name, resident.Birth)
	if _, ok := m.residents[key]; ok {
		return nil, fmt.Errorf("%w: name=%s", ErrDuplicateKey, resident.Name)
	}

	m.residents[key] = cloneResident(resident)
	return &WriteResult{InsertedID: key, Inserted: true}, nil
}

func (m *MemoryResidentsRepository) Upsert(_ context.Context, resident *models.Resident) (*WriteResult, error) {
	if resident == nil {
		return nil, fmt.Errorf("resident is required")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	key := memoryKey(resident.Name, resident.Birth)
	if existing, ok := m.residents[key]; ok {
		existing.Location = resident.Location
		existing.ResidentSince = resident.ResidentSince
		return &WriteResult{MatchedCount: 1, ModifiedCount: 1}, nil
	}

	fresh := cloneResident(resident)
	fresh.Alarms = []models.HistoricalAlarm{}
	fresh.ActiveAlarms = []models.ActiveAlarm{}
	m.residents[key] = fresh
	return &WriteResult{InsertedID: key, Inserted: true}, nil
}

func (m *MemoryResidentsRepository) InsertOrUpdate(ctx context.Context, resident *models.Resident) (*WriteResult, error) {
	if resident == nil {
		return nil, fmt.Errorf("resident is required")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	key := memoryKey(resident.Name, resident.Birth)
	if existing, ok := m.residents[key]; ok {
		existing.Location = resident.Location
		existing.ResidentSince = resident.ResidentSince
		return &WriteResult{MatchedCount: 1, ModifiedCount: 1, Inserted: false}, nil
	}

	m.residents[key] = cloneResident(resident)
	return &WriteResult{InsertedID: key, Inserted: true}, nil
}

func (m *MemoryResidentsRepository) Delete(_ context.Context, name string, birth time.Time) (*WriteResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := memoryKey(name, birth)
	if _, ok := m.residents[key]; !ok {
		return &WriteResult{DeletedCount: 0}, nil
	}
	delete(m.residents, key)
	return &WriteResult{DeletedCount: 1}, nil
}

func (m *MemoryResidentsRepository) PushActiveAlarm(_ context.Context, name string, birth time.Time, alarm models.ActiveAlarm) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	resident, ok := m.residents[memoryKey(name, birth)]
	if !ok {
		return fmt.Errorf("%w: name=%s", ErrResidentNotFound, name)
	}
	resident.ActiveAlarms = append(resident.ActiveAlarms, alarm)
	return nil
}

func (m *MemoryResidentsRepository) FindActiveAlarm(_ context.Context, name string, birth time.Time, openTime time.Time) (*models.ActiveAlarm, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	resident, ok := m.residents[memoryKey(name, birth)]
	if !ok {
		return nil, fmt.Errorf("%w: name=%s", ErrResidentNotFound, name)
	}
	for i := range resident.ActiveAlarms {
		if resident.ActiveAlarms[i].Time.Equal(openTime) {
			found := resident.ActiveAlarms[i]
			return &found, nil
		}
	}
	return nil, fmt.Errorf("%w: name=%s time=%s", ErrAlarmNotFound, name, openTime.Format(time.RFC3339))
}

func (m *MemoryResidentsRepository) CloseAlarm(_ context.Context, name string, birth time.Time, alarm models.HistoricalAlarm) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	resident, ok := m.residents[memoryKey(name, birth)]
	if !ok {
		return fmt.Errorf("%w: name=%s", ErrResidentNotFound, name)
	}

	// 与 Mongo 实现一致：移除与追加是同一步操作，活动条目不存在则整体不生效
	remaining := resident.ActiveAlarms[:0]
	removed := false
	for _, a := range resident.ActiveAlarms {
		if a.Time.Equal(alarm.Time) {
			removed = true
			continue
		}
		remaining = append(remaining, a)
	}
	if !removed {
		return fmt.Errorf("%w: name=%s time=%s", ErrAlarmNotFound, name, alarm.Time.Format(time.RFC3339))
	}

	resident.ActiveAlarms = remaining
	resident.Alarms = append(resident.Alarms, alarm)
	return nil
}

func (m *MemoryResidentsRepository) Report(_ context.Context, query ReportQuery) (ReportCursor, error) {
	var namePattern, locationPattern *regexp.Regexp
	var err error
	if query.NamePattern != "" {
		if namePattern, err = regexp.Compile("(?i)" + query.NamePattern); err != nil {
			return nil, fmt.Errorf("invalid name pattern: %w", err)
		}
	}
	if query.LocationPattern != "" {
		if locationPattern, err = regexp.Compile("(?i)" + query.LocationPattern); err != nil {
			return nil, fmt.Errorf("invalid location pattern: %w", err)
		}
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	var rows []models.ReportRow
	for _, resident := range m.residents {
		if !matchesPatterns(resident, namePattern, locationPattern) {
			continue
		}

		var matched []models.HistoricalAlarm
		for _, a := range resident.Alarms {
			if !a.Time.Before(query.From) && !a.Time.After(query.To) {
				matched = append(matched, a)
			}
		}
		if len(matched) == 0 && len(resident.ActiveAlarms) == 0 {
			continue
		}

		row := models.ReportRow{
			Name:              resident.Name,
			Location:          resident.Location,
			AlarmsCount:       int64(len(matched)),
			ActiveAlarmsCount: int64(len(resident.ActiveAlarms)),
		}
		if len(matched) > 0 {
			var total float64
			minTime := matched[0].Time
			maxTime := matched[0].Time
			for _, a := range matched {
				total += float64(a.DurationSec)
				if a.Time.Before(minTime) {
					minTime = a.Time
				}
				if a.Time.After(maxTime) {
					maxTime = a.Time
				}
			}
			avg := total / float64(len(matched))
			row.AlarmsAvgDuration = &avg
			row.AlarmsMinTime = &minTime
			row.AlarmsMaxTime = &maxTime
		}
		rows = append(rows, row)
	}

	sort.SliceStable(rows, func(i, j int) bool {
		return rows[i].Location < rows[j].Location
	})

	return &memoryReportCursor{rows: rows}, nil
}

// matchesPatterns 姓名/位置过滤：两个模式都给出时命中任一即包含（OR 语义）
func matchesPatterns(resident *models.Resident, namePattern, locationPattern *regexp.Regexp) bool {
	if namePattern == nil && locationPattern == nil {
		return true
	}
	if namePattern != nil && namePattern.MatchString(resident.Name) {
		return true
	}
	if locationPattern != nil && locationPattern.MatchString(resident.Location) {
		return true
	}
	return false
}

// Get 按唯一键读取住户副本（仅测试断言用）
func (m *MemoryResidentsRepository) Get(name string, birth time.Time) (*models.Resident, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	resident, ok := m.residents[memoryKey(name, birth)]
	if !ok {
		return nil, false
	}
	return cloneResident(resident), true
}

// memoryReportCursor 基于切片的前向游标
type memoryReportCursor struct {
	rows []models.ReportRow
	idx  int
	cur  *models.ReportRow
}

func (c *memoryReportCursor) Next(_ context.Context) bool {
	if c.idx >= len(c.rows) {
		c.cur = nil
		return false
	}
	c.cur = &c.rows[c.idx]
	c.idx++
	return true
}

func (c *memoryReportCursor) Decode(row *models.ReportRow) error {
	if c.cur == nil {
		return fmt.Errorf("no current row")
	}
	*row = *c.cur
	return nil
}

func (c *memoryReportCursor) Err() error {
	return nil
}

func (c *memoryReportCursor) Close(_ context.Context) error {
	return nil
}
