package service

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"wisefido-residents/internal/models"
	"wisefido-residents/internal/publisher"
	"wisefido-residents/internal/repository"
	"wisefido-residents/internal/timeutil"
)

// AlarmService 报警生命周期服务
// 状态机：Active --close--> Historical（终态），无其他状态
type AlarmService struct {
	repo   repository.ResidentsRepository
	pub    publisher.AlarmPublisher
	logger *zap.Logger

	// 可注入时钟，测试用；默认 time.Now
	now func() time.Time
}

// NewAlarmService 创建报警生命周期服务
func NewAlarmService(repo repository.ResidentsRepository, pub publisher.AlarmPublisher, logger *zap.Logger) *AlarmService {
	if pub == nil {
		pub = publisher.NoopPublisher{}
	}
	return &AlarmService{
		repo:   repo,
		pub:    pub,
		logger: logger,
		now:    time.Now,
	}
}

// OpenAlarm 为住户开启一条报警，返回开启时刻（后续关闭操作的查找键）
// 开启时刻截断到毫秒，与存储的 BSON datetime 精度一致，保证关闭时能精确匹配
func (s *AlarmService) OpenAlarm(ctx context.Context, name, birth, message string) (time.Time, error) {
	birthDate, err := timeutil.ParseDateTime(birth)
	if err != nil {
		return time.Time{}, err
	}

	alarm := models.ActiveAlarm{
		AlarmID: uuid.NewString(),
		Time:    s.now().UTC().Truncate(time.Millisecond),
		Message: message,
	}

	if err := s.repo.PushActiveAlarm(ctx, name, birthDate, alarm); err != nil {
		return time.Time{}, err
	}

	s.logger.Info("Alarm opened",
		zap.String("name", name),
		zap.String("alarm_id", alarm.AlarmID),
		zap.Time("time", alarm.Time),
	)

	s.publish(ctx, publisher.AlarmEvent{
		Type:    publisher.EventAlarmOpened,
		AlarmID: alarm.AlarmID,
		Name:    name,
		Birth:   birthDate.Format(time.RFC3339),
		Time:    alarm.Time.Format(time.RFC3339Nano),
		Message: message,
	})

	return alarm.Time, nil
}

// CloseAlarm 关闭开启时刻等于 openTime 的活动报警，迁入历史
// 时长：调用方给定 explicitDuration（合成/测试数据用）则原样采用，
// 否则取 now - openTime 的整秒数，负值（时钟偏移）钳制为 0
// 定位与迁移分两步：定位区分 ResidentNotFound / AlarmNotFound，
// 迁移本身是一次原子更新（见 repository.CloseAlarm），重复关闭第二次必然失败
func (s *AlarmService) CloseAlarm(ctx context.Context, name, birth, openTime string, explicitDuration *int64) (*models.HistoricalAlarm, error) {
	birthDate, err := timeutil.ParseDateTime(birth)
	if err != nil {
		return nil, err
	}
	startTime, err := timeutil.ParseDateTime(openTime)
	if err != nil {
		return nil, err
	}

	active, err := s.repo.FindActiveAlarm(ctx, name, birthDate, startTime)
	if err != nil {
		return nil, err
	}

	var duration int64
	if explicitDuration != nil {
		duration = *explicitDuration
	} else {
		duration = int64(s.now().Sub(active.Time).Seconds())
		if duration < 0 {
			duration = 0
		}
	}

	historical := models.HistoricalAlarm{
		AlarmID:     active.AlarmID,
		Time:        active.Time,
		Message:     active.Message,
		DurationSec: duration,
	}

	if err := s.repo.CloseAlarm(ctx, name, birthDate, historical); err != nil {
		return nil, err
	}

	s.logger.Info("Alarm closed",
		zap.String("name", name),
		zap.String("alarm_id", historical.AlarmID),
		zap.Int64("duration_sec", historical.DurationSec),
	)

	s.publish(ctx, publisher.AlarmEvent{
		Type:        publisher.EventAlarmClosed,
		AlarmID:     historical.AlarmID,
		Name:        name,
		Birth:       birthDate.Format(time.RFC3339),
		Time:        historical.Time.Format(time.RFC3339Nano),
		Message:     historical.Message,
		DurationSec: &historical.DurationSec,
	})

	return &historical, nil
}

// publish 事件发布失败只记日志，不影响报警操作结果
func (s *AlarmService) publish(ctx context.Context, event publisher.AlarmEvent) {
	if err := s.pub.Publish(ctx, event); err != nil {
		s.logger.Warn("Failed to publish alarm event",
			zap.String("type", event.Type),
			zap.Error(err),
		)
	}
}
