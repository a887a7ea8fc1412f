package service

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"wisefido-residents/internal/export"
	"wisefido-residents/internal/models"
	"wisefido-residents/internal/repository"
	"wisefido-residents/internal/timeutil"
)

// ReportService 报表服务
// 从仓库取报表游标并流式写入输出端；游标在所有退出路径上关闭，
// 失败时通知输出端放弃部分输出（CSV 不留残缺文件）
type ReportService struct {
	repo   repository.ResidentsRepository
	logger *zap.Logger
}

// NewReportService 创建报表服务
func NewReportService(repo repository.ResidentsRepository, logger *zap.Logger) *ReportService {
	return &ReportService{
		repo:   repo,
		logger: logger,
	}
}

// Run 运行报表查询并把行写入 sink，返回输出的行数
// from/to 为日期字符串，展开为当天起止（含端点，UTC）；
// namePattern/locationPattern 为空表示不过滤，同时给出时按 OR 组合
func (s *ReportService) Run(ctx context.Context, from, to, namePattern, locationPattern string, sink export.ReportSink) (int, error) {
	fromDate, err := timeutil.ParseDateTime(from)
	if err != nil {
		sink.Discard()
		return 0, err
	}
	toDate, err := timeutil.ParseDateTime(to)
	if err != nil {
		sink.Discard()
		return 0, err
	}

	query := repository.ReportQuery{
		From:            timeutil.DayStart(fromDate),
		To:              timeutil.DayEnd(toDate),
		NamePattern:     namePattern,
		LocationPattern: locationPattern,
	}

	cursor, err := s.repo.Report(ctx, query)
	if err != nil {
		sink.Discard()
		return 0, err
	}
	defer cursor.Close(ctx)

	rows := 0
	for cursor.Next(ctx) {
		var row models.ReportRow
		if err := cursor.Decode(&row); err != nil {
			sink.Discard()
			return rows, fmt.Errorf("failed to decode report row: %w", err)
		}
		if err := sink.WriteRow(&row); err != nil {
			sink.Discard()
			return rows, fmt.Errorf("failed to write report row: %w", err)
		}
		rows++
	}
	if err := cursor.Err(); err != nil {
		sink.Discard()
		return rows, fmt.Errorf("report stream failed: %w", err)
	}

	if err := sink.Close(); err != nil {
		return rows, err
	}

	s.logger.Info("Report finished",
		zap.Int("rows", rows),
		zap.Time("from", query.From),
		zap.Time("to", query.To),
	)
	return rows, nil
}
