package repository

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"wisefido-residents/internal/models"
)

func newResidentFixture(t *testing.T, name, birth, location, since string) *models.Resident {
	t.Helper()
	resident, err := models.NewResident(name, birth, location, since)
	require.NoError(t, err)
	return resident
}

// ============================================
// 插入 / 更新 / 删除
// ============================================

func TestMemoryInsertNew_DuplicateKey(t *testing.T) {
	repo := NewMemoryResidentsRepository()
	ctx := context.Background()

	first := newResidentFixture(t, "Ann", "1990-01-01", "RoomA", "2020-01-01")
	_, err := repo.InsertNew(ctx, first)
	require.NoError(t, err)

	second := newResidentFixture(t, "Ann", "1990-01-01", "RoomB", "2021-01-01")
	_, err = repo.InsertNew(ctx, second)

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrDuplicateKey)
}

func TestMemoryInsertOrUpdate_FallsBackToFieldUpdate(t *testing.T) {
	repo := NewMemoryResidentsRepository()
	ctx := context.Background()

	first := newResidentFixture(t, "Ann", "1990-01-01", "RoomA", "2020-01-01")
	result, err := repo.InsertOrUpdate(ctx, first)
	require.NoError(t, err)
	assert.True(t, result.Inserted)

	// 同键再导入：location / resident_since 被覆盖，报警列表不动
	err = repo.PushActiveAlarm(ctx, "Ann", first.Birth, models.ActiveAlarm{
		AlarmID: uuid.NewString(),
		Time:    time.Now().UTC(),
		Message: "smoke",
	})
	require.NoError(t, err)

	second := newResidentFixture(t, "Ann", "1990-01-01", "RoomB", "2021-06-01")
	result, err = repo.InsertOrUpdate(ctx, second)
	require.NoError(t, err)
	assert.False(t, result.Inserted)
	assert.Equal(t, int64(1), result.MatchedCount)

	stored, ok := repo.Get("Ann", first.Birth)
	require.True(t, ok)
	assert.Equal(t, "RoomB", stored.Location)
	assert.Equal(t, second.ResidentSince, stored.ResidentSince)
	assert.Len(t, stored.ActiveAlarms, 1)
}

func TestMemoryUpsert_InsertsWithEmptyAlarmLists(t *testing.T) {
	repo := NewMemoryResidentsRepository()
	ctx := context.Background()

	resident := newResidentFixture(t, "Jane", "1985-05-15", "Room105", "2019-06-01")
	resident.Alarms = []models.HistoricalAlarm{{AlarmID: "x", Time: time.Now(), Message: "stale", DurationSec: 5}}

	result, err := repo.Upsert(ctx, resident)
	require.NoError(t, err)
	assert.True(t, result.Inserted)

	stored, ok := repo.Get("Jane", resident.Birth)
	require.True(t, ok)
	assert.Empty(t, stored.Alarms)
	assert.Empty(t, stored.ActiveAlarms)
}

func TestMemoryDelete_NoMatchIsNotAnError(t *testing.T) {
	repo := NewMemoryResidentsRepository()
	ctx := context.Background()

	result, err := repo.Delete(ctx, "Nobody", time.Date(1990, 1, 1, 0, 0, 0, 0, time.UTC))

	require.NoError(t, err)
	assert.Equal(t, int64(0), result.DeletedCount)
}

// ============================================
// 报警生命周期
// ============================================

func TestMemoryPushActiveAlarm_ResidentNotFound(t *testing.T) {
	repo := NewMemoryResidentsRepository()

	err := repo.PushActiveAlarm(context.Background(), "Nobody",
		time.Date(1990, 1, 1, 0, 0, 0, 0, time.UTC),
		models.ActiveAlarm{AlarmID: uuid.NewString(), Time: time.Now(), Message: "smoke"})

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrResidentNotFound)
}

func TestMemoryCloseAlarm_MovesActiveToHistory(t *testing.T) {
	repo := NewMemoryResidentsRepository()
	ctx := context.Background()

	resident := newResidentFixture(t, "Ann", "1990-01-01", "RoomA", "2020-01-01")
	_, err := repo.InsertNew(ctx, resident)
	require.NoError(t, err)

	openTime := time.Date(2024, 3, 5, 10, 0, 0, 0, time.UTC)
	active := models.ActiveAlarm{AlarmID: uuid.NewString(), Time: openTime, Message: "smoke"}
	require.NoError(t, repo.PushActiveAlarm(ctx, "Ann", resident.Birth, active))

	found, err := repo.FindActiveAlarm(ctx, "Ann", resident.Birth, openTime)
	require.NoError(t, err)
	assert.Equal(t, "smoke", found.Message)

	err = repo.CloseAlarm(ctx, "Ann", resident.Birth, models.HistoricalAlarm{
		AlarmID:     active.AlarmID,
		Time:        openTime,
		Message:     active.Message,
		DurationSec: 42,
	})
	require.NoError(t, err)

	stored, ok := repo.Get("Ann", resident.Birth)
	require.True(t, ok)
	assert.Empty(t, stored.ActiveAlarms)
	require.Len(t, stored.Alarms, 1)
	assert.Equal(t, int64(42), stored.Alarms[0].DurationSec)
	assert.Equal(t, "smoke", stored.Alarms[0].Message)
	assert.True(t, stored.Alarms[0].Time.Equal(openTime))
}

func TestMemoryCloseAlarm_SecondCloseFails(t *testing.T) {
	repo := NewMemoryResidentsRepository()
	ctx := context.Background()

	resident := newResidentFixture(t, "Ann", "1990-01-01", "RoomA", "2020-01-01")
	_, err := repo.InsertNew(ctx, resident)
	require.NoError(t, err)

	openTime := time.Date(2024, 3, 5, 10, 0, 0, 0, time.UTC)
	require.NoError(t, repo.PushActiveAlarm(ctx, "Ann", resident.Birth,
		models.ActiveAlarm{AlarmID: uuid.NewString(), Time: openTime, Message: "smoke"}))

	hist := models.HistoricalAlarm{AlarmID: "a", Time: openTime, Message: "smoke", DurationSec: 1}
	require.NoError(t, repo.CloseAlarm(ctx, "Ann", resident.Birth, hist))

	err = repo.CloseAlarm(ctx, "Ann", resident.Birth, hist)

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrAlarmNotFound)
}

func TestMemoryCloseAlarm_ResidentNotFound(t *testing.T) {
	repo := NewMemoryResidentsRepository()
	ctx := context.Background()
	birth := time.Date(1990, 1, 1, 0, 0, 0, 0, time.UTC)

	err := repo.CloseAlarm(ctx, "Nobody", birth, models.HistoricalAlarm{
		AlarmID:     uuid.NewString(),
		Time:        time.Now(),
		Message:     "smoke",
		DurationSec: 5,
	})

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrResidentNotFound)
}

func TestMemoryFindActiveAlarm_Taxonomy(t *testing.T) {
	repo := NewMemoryResidentsRepository()
	ctx := context.Background()
	birth := time.Date(1990, 1, 1, 0, 0, 0, 0, time.UTC)

	_, err := repo.FindActiveAlarm(ctx, "Nobody", birth, time.Now())
	assert.ErrorIs(t, err, ErrResidentNotFound)

	resident := newResidentFixture(t, "Ann", "1990-01-01", "RoomA", "2020-01-01")
	_, err = repo.InsertNew(ctx, resident)
	require.NoError(t, err)

	_, err = repo.FindActiveAlarm(ctx, "Ann", birth, time.Now())
	assert.ErrorIs(t, err, ErrAlarmNotFound)
}

// ============================================
// 报表聚合
// ============================================

func seedReportData(t *testing.T, repo *MemoryResidentsRepository) {
	t.Helper()
	ctx := context.Background()

	// Ann：窗口内三条历史报警（10s/20s/30s），无活动报警
	ann := newResidentFixture(t, "Ann", "1990-01-01", "RoomB", "2020-01-01")
	_, err := repo.InsertNew(ctx, ann)
	require.NoError(t, err)
	for i, dur := range []int64{10, 20, 30} {
		openTime := time.Date(2024, 3, 5, 10+i, 0, 0, 0, time.UTC)
		require.NoError(t, repo.PushActiveAlarm(ctx, "Ann", ann.Birth,
			models.ActiveAlarm{AlarmID: uuid.NewString(), Time: openTime, Message: "smoke"}))
		require.NoError(t, repo.CloseAlarm(ctx, "Ann", ann.Birth,
			models.HistoricalAlarm{AlarmID: uuid.NewString(), Time: openTime, Message: "smoke", DurationSec: dur}))
	}

	// Bob：只有一条活动报警，无历史
	bob := newResidentFixture(t, "Bob", "1985-05-15", "RoomA", "2019-06-01")
	_, err = repo.InsertNew(ctx, bob)
	require.NoError(t, err)
	require.NoError(t, repo.PushActiveAlarm(ctx, "Bob", bob.Birth,
		models.ActiveAlarm{AlarmID: uuid.NewString(), Time: time.Date(2024, 3, 6, 8, 0, 0, 0, time.UTC), Message: "fall"}))

	// Carl：历史报警全部在窗口之外，且无活动报警 → 不出现在报表
	carl := newResidentFixture(t, "Carl", "1970-07-07", "RoomC", "2018-01-01")
	_, err = repo.InsertNew(ctx, carl)
	require.NoError(t, err)
	outside := time.Date(2023, 1, 1, 9, 0, 0, 0, time.UTC)
	require.NoError(t, repo.PushActiveAlarm(ctx, "Carl", carl.Birth,
		models.ActiveAlarm{AlarmID: uuid.NewString(), Time: outside, Message: "old"}))
	require.NoError(t, repo.CloseAlarm(ctx, "Carl", carl.Birth,
		models.HistoricalAlarm{AlarmID: uuid.NewString(), Time: outside, Message: "old", DurationSec: 99}))
}

func collectRows(t *testing.T, cursor ReportCursor) []models.ReportRow {
	t.Helper()
	ctx := context.Background()
	defer cursor.Close(ctx)

	var rows []models.ReportRow
	for cursor.Next(ctx) {
		var row models.ReportRow
		require.NoError(t, cursor.Decode(&row))
		rows = append(rows, row)
	}
	require.NoError(t, cursor.Err())
	return rows
}

func TestMemoryReport_AggregationAndOrdering(t *testing.T) {
	repo := NewMemoryResidentsRepository()
	seedReportData(t, repo)

	cursor, err := repo.Report(context.Background(), ReportQuery{
		From: time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC),
		To:   time.Date(2024, 3, 31, 23, 59, 59, int(999*time.Millisecond), time.UTC),
	})
	require.NoError(t, err)

	rows := collectRows(t, cursor)

	// Carl 被排除；按 location 升序：RoomA (Bob) 在 RoomB (Ann) 之前
	require.Len(t, rows, 2)
	assert.Equal(t, "Bob", rows[0].Name)
	assert.Equal(t, int64(0), rows[0].AlarmsCount)
	assert.Nil(t, rows[0].AlarmsAvgDuration)
	assert.Equal(t, int64(1), rows[0].ActiveAlarmsCount)

	ann := rows[1]
	assert.Equal(t, "Ann", ann.Name)
	assert.Equal(t, int64(3), ann.AlarmsCount)
	require.NotNil(t, ann.AlarmsAvgDuration)
	assert.Equal(t, float64(20), *ann.AlarmsAvgDuration)
	require.NotNil(t, ann.AlarmsMinTime)
	require.NotNil(t, ann.AlarmsMaxTime)
	assert.True(t, ann.AlarmsMinTime.Equal(time.Date(2024, 3, 5, 10, 0, 0, 0, time.UTC)))
	assert.True(t, ann.AlarmsMaxTime.Equal(time.Date(2024, 3, 5, 12, 0, 0, 0, time.UTC)))
	assert.Equal(t, int64(0), ann.ActiveAlarmsCount)
}

func TestMemoryReport_PatternsAreUnionNotIntersection(t *testing.T) {
	repo := NewMemoryResidentsRepository()
	seedReportData(t, repo)

	// 姓名模式不命中 Bob，但位置模式命中 RoomA → Bob 必须出现
	cursor, err := repo.Report(context.Background(), ReportQuery{
		From:            time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC),
		To:              time.Date(2024, 3, 31, 23, 59, 59, int(999*time.Millisecond), time.UTC),
		NamePattern:     "ZZZ",
		LocationPattern: "RoomA",
	})
	require.NoError(t, err)

	rows := collectRows(t, cursor)

	require.Len(t, rows, 1)
	assert.Equal(t, "Bob", rows[0].Name)
}

func TestMemoryReport_ActiveAlarmIncludedRegardlessOfWindow(t *testing.T) {
	repo := NewMemoryResidentsRepository()
	seedReportData(t, repo)

	// 窗口与任何报警都不相交，Bob 仍因活动报警而包含
	cursor, err := repo.Report(context.Background(), ReportQuery{
		From: time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC),
		To:   time.Date(2030, 1, 31, 23, 59, 59, int(999*time.Millisecond), time.UTC),
	})
	require.NoError(t, err)

	rows := collectRows(t, cursor)

	require.Len(t, rows, 1)
	assert.Equal(t, "Bob", rows[0].Name)
	assert.Equal(t, int64(0), rows[0].AlarmsCount)
}
