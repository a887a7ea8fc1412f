package database

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"wisefido-residents/internal/config"
)

// NewMongoClient 创建 MongoDB 客户端（Stable API v1）并 ping 验证连通性
func NewMongoClient(ctx context.Context, cfg *config.MongoConfig) (*mongo.Client, error) {
	serverAPI := options.ServerAPI(options.ServerAPIVersion1)
	opts := options.Client().ApplyURI(cfg.URI).SetServerAPIOptions(serverAPI)

	client, err := mongo.Connect(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to mongodb: %w", err)
	}

	// 验证连通性
	if err := client.Database(cfg.Database).RunCommand(ctx, bson.D{{Key: "ping", Value: 1}}).Err(); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("failed to ping mongodb: %w", err)
	}

	return client, nil
}

// Collection 返回住户集合句柄
func Collection(client *mongo.Client, cfg *config.MongoConfig) *mongo.Collection {
	return client.Database(cfg.Database).Collection(cfg.Collection)
}

// EnsureIndexes 创建 (name, birth) 唯一索引
// InsertOrUpdate 的 duplicate-key 回退依赖这个索引存在
func EnsureIndexes(ctx context.Context, coll *mongo.Collection) error {
	index := mongo.IndexModel{
		Keys: bson.D{
			{Key: "name", Value: 1},
			{Key: "birth", Value: 1},
		},
		Options: options.Index().SetUnique(true),
	}

	if _, err := coll.Indexes().CreateOne(ctx, index); err != nil {
		return fmt.Errorf("failed to create unique index: %w", err)
	}
	return nil
}

// Close 断开客户端连接
func Close(ctx context.Context, client *mongo.Client) error {
	if client != nil {
		return client.Disconnect(ctx)
	}
	return nil
}
