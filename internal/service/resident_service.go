package service

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"

	"go.uber.org/zap"

	"wisefido-residents/internal/models"
	"wisefido-residents/internal/repository"
	"wisefido-residents/internal/timeutil"
)

// ResidentService 住户档案服务层
// 职责：输入解析与校验（坏日期在触达存储前拦截）、调用仓库、结果审计日志
type ResidentService struct {
	repo   repository.ResidentsRepository
	logger *zap.Logger
}

// NewResidentService 创建住户档案服务
func NewResidentService(repo repository.ResidentsRepository, logger *zap.Logger) *ResidentService {
	return &ResidentService{
		repo:   repo,
		logger: logger,
	}
}

// Insert 严格插入；(name, birth) 已存在时返回 repository.ErrDuplicateKey
func (s *ResidentService) Insert(ctx context.Context, name, birth, location, residentSince string) (*repository.WriteResult, error) {
	resident, err := models.NewResident(name, birth, location, residentSince)
	if err != nil {
		return nil, err
	}

	result, err := s.repo.InsertNew(ctx, resident)
	if err != nil {
		return nil, err
	}

	s.logger.Info("New resident inserted",
		zap.String("name", name),
		zap.Any("inserted_id", result.InsertedID),
	)
	return result, nil
}

// Upsert 存在则只更新 location / resident_since，否则插入新住户
func (s *ResidentService) Upsert(ctx context.Context, name, birth, location, residentSince string) (*repository.WriteResult, error) {
	resident, err := models.NewResident(name, birth, location, residentSince)
	if err != nil {
		return nil, err
	}

	result, err := s.repo.Upsert(ctx, resident)
	if err != nil {
		return nil, err
	}

	if result.Inserted {
		s.logger.Info("New resident inserted",
			zap.String("name", name),
			zap.Any("inserted_id", result.InsertedID),
		)
	} else {
		s.logger.Info("Resident updated",
			zap.String("name", name),
			zap.Int64("matched", result.MatchedCount),
			zap.Int64("modified", result.ModifiedCount),
		)
	}
	return result, nil
}

// InsertOrUpdate 先插入，遇重复键回退为字段更新；duplicate 分支显式化供导入审计
func (s *ResidentService) InsertOrUpdate(ctx context.Context, name, birth, location, residentSince string) (*repository.WriteResult, error) {
	resident, err := models.NewResident(name, birth, location, residentSince)
	if err != nil {
		return nil, err
	}

	result, err := s.repo.InsertOrUpdate(ctx, resident)
	if err != nil {
		return nil, err
	}

	if result.Inserted {
		s.logger.Info("New resident inserted",
			zap.String("name", name),
			zap.Any("inserted_id", result.InsertedID),
		)
	} else {
		s.logger.Warn("Duplicate resident key, updated existing document",
			zap.String("name", name),
			zap.Int64("matched", result.MatchedCount),
			zap.Int64("modified", result.ModifiedCount),
		)
	}
	return result, nil
}

// Delete 按唯一键删除；未命中是可报告的非事件，不是错误
func (s *ResidentService) Delete(ctx context.Context, name, birth string) (*repository.WriteResult, error) {
	birthDate, err := timeutil.ParseDateTime(birth)
	if err != nil {
		return nil, err
	}

	result, err := s.repo.Delete(ctx, name, birthDate)
	if err != nil {
		return nil, err
	}

	if result.DeletedCount > 0 {
		s.logger.Info("Resident deleted", zap.String("name", name))
	} else {
		s.logger.Warn("No resident found to delete", zap.String("name", name))
	}
	return result, nil
}

// ImportSummary CSV 导入审计汇总
type ImportSummary struct {
	Rows     int
	Inserted int
	Updated  int
	Failed   int
}

// csv 导入要求的表头列
var importColumns = []string{"name", "birth", "location", "resident_since"}

// ImportCSV 按表头驱动批量导入住户（逐行 InsertOrUpdate）
// 坏行（缺列、坏日期）记录并计数后继续；存储层失败立即中止并返回已完成部分的汇总
func (s *ResidentService) ImportCSV(ctx context.Context, path string) (*ImportSummary, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open import file: %w", err)
	}
	defer file.Close()

	reader := csv.NewReader(file)
	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read csv header: %w", err)
	}

	index := map[string]int{}
	for i, col := range header {
		index[col] = i
	}
	for _, col := range importColumns {
		if _, ok := index[col]; !ok {
			return nil, fmt.Errorf("import file is missing column %q", col)
		}
	}

	summary := &ImportSummary{}
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			summary.Rows++
			summary.Failed++
			s.logger.Warn("Skipping malformed csv record", zap.Error(err))
			continue
		}

		summary.Rows++
		result, err := s.InsertOrUpdate(ctx,
			record[index["name"]],
			record[index["birth"]],
			record[index["location"]],
			record[index["resident_since"]],
		)
		if err != nil {
			if errors.Is(err, timeutil.ErrMalformedDate) {
				summary.Failed++
				s.logger.Warn("Skipping row with malformed date",
					zap.Int("row", summary.Rows),
					zap.Error(err),
				)
				continue
			}
			return summary, fmt.Errorf("import aborted at row %d: %w", summary.Rows, err)
		}

		if result.Inserted {
			summary.Inserted++
		} else {
			summary.Updated++
		}
	}

	s.logger.Info("Import finished",
		zap.Int("rows", summary.Rows),
		zap.Int("inserted", summary.Inserted),
		zap.Int("updated", summary.Updated),
		zap.Int("failed", summary.Failed),
	)
	return summary, nil
}
