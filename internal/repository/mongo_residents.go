package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"

	"wisefido-residents/internal/models"
)

// MongoResidentsRepository 住户文档仓库（MongoDB 实现）
type MongoResidentsRepository struct {
	coll   *mongo.Collection
	logger *zap.Logger
}

// NewMongoResidentsRepository 创建住户文档仓库
func NewMongoResidentsRepository(coll *mongo.Collection, logger *zap.Logger) *MongoResidentsRepository {
	return &MongoResidentsRepository{
		coll:   coll,
		logger: logger,
	}
}

// keyFilter 住户唯一键查询条件，所有按键操作共用
func keyFilter(name string, birth time.Time) bson.D {
	return bson.D{
		{Key: "name", Value: name},
		{Key: "birth", Value: birth},
	}
}

// fieldUpdate 字段更新载荷：只覆盖 location / resident_since，报警列表不动
func fieldUpdate(resident *models.Resident) bson.D {
	return bson.D{
		{Key: "$set", Value: bson.D{
			{Key: "location", Value: resident.Location},
			{Key: "resident_since", Value: resident.ResidentSince},
		}},
	}
}

// InsertNew 严格插入，(name, birth) 冲突时返回 ErrDuplicateKey
func (r *MongoResidentsRepository) InsertNew(ctx context.Context, resident *models.Resident) (*WriteResult, error) {
	if resident == nil {
		return nil, fmt.Errorf("resident is required")
	}

	res, err := r.coll.InsertOne(ctx, resident)
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return nil, fmt.Errorf("%w: name=%s", ErrDuplicateKey, resident.Name)
		}
		return nil, fmt.Errorf("failed to insert resident: %w", err)
	}

	return &WriteResult{InsertedID: res.InsertedID, Inserted: true}, nil
}

// Upsert 存在则只更新 location / resident_since，不存在则插入带空报警列表的新文档
func (r *MongoResidentsRepository) Upsert(ctx context.Context, resident *models.Resident) (*WriteResult, error) {
	if resident == nil {
		return nil, fmt.Errorf("resident is required")
	}

	update := bson.D{
		{Key: "$set", Value: bson.D{
			{Key: "location", Value: resident.Location},
			{Key: "resident_since", Value: resident.ResidentSince},
		}},
		{Key: "$setOnInsert", Value: bson.D{
			{Key: "name", Value: resident.Name},
			{Key: "birth", Value: resident.Birth},
			{Key: "alarms", Value: bson.A{}},
			{Key: "active_alarms", Value: bson.A{}},
		}},
	}

	res, err := r.coll.UpdateOne(ctx, keyFilter(resident.Name, resident.Birth), update,
		options.Update().SetUpsert(true))
	if err != nil {
		return nil, fmt.Errorf("failed to upsert resident: %w", err)
	}

	return &WriteResult{
		MatchedCount:  res.MatchedCount,
		ModifiedCount: res.ModifiedCount,
		InsertedID:    res.UpsertedID,
		Inserted:      res.UpsertedCount > 0,
	}, nil
}

// InsertOrUpdate 先插入，遇 duplicate key 回退为字段更新
// duplicate 分支显式化：CSV 导入依赖 Inserted 标志区分新增与更新
func (r *MongoResidentsRepository) InsertOrUpdate(ctx context.Context, resident *models.Resident) (*WriteResult, error) {
	result, err := r.InsertNew(ctx, resident)
	if err == nil {
		return result, nil
	}
	if !errors.Is(err, ErrDuplicateKey) {
		return nil, err
	}

	r.logger.Debug("duplicate resident key, falling back to update",
		zap.String("name", resident.Name),
	)

	res, updateErr := r.coll.UpdateOne(ctx, keyFilter(resident.Name, resident.Birth), fieldUpdate(resident))
	if updateErr != nil {
		return nil, fmt.Errorf("failed to update resident after duplicate key: %w", updateErr)
	}

	return &WriteResult{
		MatchedCount:  res.MatchedCount,
		ModifiedCount: res.ModifiedCount,
		Inserted:      false,
	}, nil
}

// Delete 按唯一键删除；未命中不是错误，调用方根据 DeletedCount 报告结果
func (r *MongoResidentsRepository) Delete(ctx context.Context, name string, birth time.Time) (*WriteResult, error) {
	res, err := r.coll.DeleteOne(ctx, keyFilter(name, birth))
	if err != nil {
		return nil, fmt.Errorf("failed to delete resident: %w", err)
	}
	return &WriteResult{DeletedCount: res.DeletedCount}, nil
}

// PushActiveAlarm 向住户的 active_alarms 追加报警
func (r *MongoResidentsRepository) PushActiveAlarm(ctx context.Context, name string, birth time.Time, alarm models.ActiveAlarm) error {
	update := bson.D{
		{Key: "$push", Value: bson.D{{Key: "active_alarms", Value: alarm}}},
	}

	res, err := r.coll.UpdateOne(ctx, keyFilter(name, birth), update)
	if err != nil {
		return fmt.Errorf("failed to push active alarm: %w", err)
	}
	if res.MatchedCount == 0 {
		return fmt.Errorf("%w: name=%s", ErrResidentNotFound, name)
	}
	return nil
}

// FindActiveAlarm 聚合定位开启时刻等于 openTime 的活动报警
// 区分住户不存在与报警不存在两种结果
func (r *MongoResidentsRepository) FindActiveAlarm(ctx context.Context, name string, birth time.Time, openTime time.Time) (*models.ActiveAlarm, error) {
	pipeline := mongo.Pipeline{
		bson.D{{Key: "$match", Value: keyFilter(name, birth)}},
		bson.D{{Key: "$project", Value: bson.D{
			{Key: "matched", Value: bson.D{{Key: "$filter", Value: bson.D{
				{Key: "input", Value: "$active_alarms"},
				{Key: "as", Value: "a"},
				{Key: "cond", Value: bson.D{{Key: "$eq", Value: bson.A{"$$a.time", openTime}}}},
			}}}},
		}}},
	}

	cursor, err := r.coll.Aggregate(ctx, pipeline)
	if err != nil {
		return nil, fmt.Errorf("failed to locate active alarm: %w", err)
	}
	defer cursor.Close(ctx)

	if !cursor.Next(ctx) {
		if err := cursor.Err(); err != nil {
			return nil, fmt.Errorf("failed to locate active alarm: %w", err)
		}
		return nil, fmt.Errorf("%w: name=%s", ErrResidentNotFound, name)
	}

	var doc struct {
		Matched []models.ActiveAlarm `bson:"matched"`
	}
	if err := cursor.Decode(&doc); err != nil {
		return nil, fmt.Errorf("failed to decode active alarm: %w", err)
	}
	if len(doc.Matched) == 0 {
		return nil, fmt.Errorf("%w: name=%s time=%s", ErrAlarmNotFound, name, openTime.Format(time.RFC3339))
	}

	return &doc.Matched[0], nil
}

// CloseAlarm 单次原子更新完成 Active → Historical 迁移
// 过滤条件带上 active_alarms.time，活动条目已被并发关闭时整条更新不命中，
// 不会出现只删不加或重复入史的窗口
func (r *MongoResidentsRepository) CloseAlarm(ctx context.Context, name string, birth time.Time, alarm models.HistoricalAlarm) error {
	filter := bson.D{
		{Key: "name", Value: name},
		{Key: "birth", Value: birth},
		{Key: "active_alarms.time", Value: alarm.Time},
	}
	update := bson.D{
		{Key: "$pull", Value: bson.D{{Key: "active_alarms", Value: bson.D{{Key: "time", Value: alarm.Time}}}}},
		{Key: "$push", Value: bson.D{{Key: "alarms", Value: alarm}}},
	}

	res, err := r.coll.UpdateOne(ctx, filter, update)
	if err != nil {
		return fmt.Errorf("failed to close alarm: %w", err)
	}
	if res.MatchedCount == 0 {
		return fmt.Errorf("%w: name=%s time=%s", ErrAlarmNotFound, name, alarm.Time.Format(time.RFC3339))
	}
	return nil
}

// Report 运行报表聚合，返回前向游标
func (r *MongoResidentsRepository) Report(ctx context.Context, query ReportQuery) (ReportCursor, error) {
	pipeline := buildReportPipeline(query)

	cursor, err := r.coll.Aggregate(ctx, pipeline)
	if err != nil {
		return nil, fmt.Errorf("failed to run report aggregation: %w", err)
	}
	return &mongoReportCursor{cursor: cursor}, nil
}

// buildPatternMatch 姓名/位置过滤条件
// 两个模式都给出时按 OR 组合（命中任一即包含），大小写不敏感
func buildPatternMatch(query ReportQuery) bson.D {
	var patterns bson.A
	if query.NamePattern != "" {
		patterns = append(patterns, bson.D{{Key: "name", Value: primitive.Regex{Pattern: query.NamePattern, Options: "i"}}})
	}
	if query.LocationPattern != "" {
		patterns = append(patterns, bson.D{{Key: "location", Value: primitive.Regex{Pattern: query.LocationPattern, Options: "i"}}})
	}

	switch len(patterns) {
	case 0:
		return nil
	case 1:
		return patterns[0].(bson.D)
	default:
		return bson.D{{Key: "$or", Value: patterns}}
	}
}

// buildReportPipeline 报表聚合管道
// 阶段：模式过滤 → 窗口内历史报警 $filter + 活动报警计数 → 包含条件
// （有活动报警或窗口内有历史报警）→ 统计投影 → 按 location 升序
func buildReportPipeline(query ReportQuery) mongo.Pipeline {
	pipeline := mongo.Pipeline{}

	if match := buildPatternMatch(query); match != nil {
		pipeline = append(pipeline, bson.D{{Key: "$match", Value: match}})
	}

	pipeline = append(pipeline,
		bson.D{{Key: "$project", Value: bson.D{
			{Key: "name", Value: 1},
			{Key: "location", Value: 1},
			{Key: "active_alarms_count", Value: bson.D{{Key: "$size", Value: "$active_alarms"}}},
			{Key: "matched_alarms", Value: bson.D{{Key: "$filter", Value: bson.D{
				{Key: "input", Value: "$alarms"},
				{Key: "as", Value: "a"},
				{Key: "cond", Value: bson.D{{Key: "$and", Value: bson.A{
					bson.D{{Key: "$gte", Value: bson.A{"$$a.time", query.From}}},
					bson.D{{Key: "$lte", Value: bson.A{"$$a.time", query.To}}},
				}}}},
			}}}},
		}}},
		bson.D{{Key: "$match", Value: bson.D{{Key: "$or", Value: bson.A{
			bson.D{{Key: "active_alarms_count", Value: bson.D{{Key: "$gt", Value: 0}}}},
			bson.D{{Key: "matched_alarms", Value: bson.D{{Key: "$ne", Value: bson.A{}}}}},
		}}}}},
		bson.D{{Key: "$project", Value: bson.D{
			{Key: "name", Value: 1},
			{Key: "location", Value: 1},
			{Key: "alarms_count", Value: bson.D{{Key: "$size", Value: "$matched_alarms"}}},
			{Key: "alarms_avg_duration", Value: bson.D{{Key: "$avg", Value: "$matched_alarms.duration_sec"}}},
			{Key: "alarms_min_time", Value: bson.D{{Key: "$min", Value: "$matched_alarms.time"}}},
			{Key: "alarms_max_time", Value: bson.D{{Key: "$max", Value: "$matched_alarms.time"}}},
			{Key: "active_alarms_count", Value: 1},
		}}},
		bson.D{{Key: "$sort", Value: bson.D{{Key: "location", Value: 1}}}},
	)

	return pipeline
}

// mongoReportCursor 包装驱动游标以满足 ReportCursor
type mongoReportCursor struct {
	cursor *mongo.Cursor
}

func (c *mongoReportCursor) Next(ctx context.Context) bool {
	return c.cursor.Next(ctx)
}

func (c *mongoReportCursor) Decode(row *models.ReportRow) error {
	return c.cursor.Decode(row)
}

func (c *mongoReportCursor) Err() error {
	return c.cursor.Err()
}

func (c *mongoReportCursor) Close(ctx context.Context) error {
	return c.cursor.Close(ctx)
}
