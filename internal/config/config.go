package config

import (
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

// MongoConfig MongoDB 配置
type MongoConfig struct {
	URI        string
	Database   string
	Collection string
}

// RedisConfig Redis 配置（Addr 为空时禁用事件发布）
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// Config 住户档案服务配置
type Config struct {
	Mongo MongoConfig
	Redis RedisConfig

	Alarm struct {
		// 报警事件流名称
		Stream string
	}

	Log struct {
		Level  string
		Format string
	}
}

// Load 加载配置：先读工作目录下可选的 .env，再从环境变量取值（带默认值）
// MONGODB_URI 必填，由调用方（main）校验
func Load() (*Config, error) {
	// .env 不存在不是错误
	_ = godotenv.Load()

	cfg := &Config{}

	cfg.Mongo.URI = getEnv("MONGODB_URI", "")
	cfg.Mongo.Database = getEnv("MONGODB_DATABASE", "testdb")
	cfg.Mongo.Collection = getEnv("MONGODB_COLLECTION", "residents")

	cfg.Redis.Addr = getEnv("REDIS_ADDR", "")
	cfg.Redis.Password = getEnv("REDIS_PASSWORD", "")
	cfg.Redis.DB = getEnvInt("REDIS_DB", 0)

	cfg.Alarm.Stream = getEnv("ALARM_STREAM", "resident:alarm-events")

	cfg.Log.Level = getEnv("LOG_LEVEL", "info")
	cfg.Log.Format = getEnv("LOG_FORMAT", "json")

	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}
