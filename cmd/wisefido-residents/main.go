package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"wisefido-residents/internal/config"
	"wisefido-residents/internal/database"
	"wisefido-residents/internal/export"
	"wisefido-residents/internal/logger"
	"wisefido-residents/internal/publisher"
	"wisefido-residents/internal/repository"
	"wisefido-residents/internal/service"
)

const usageText = `Usage: wisefido-residents <command> [flags] [args]

Commands:
  insert [-upsert] <name> <birth> <location> <resident_since>
  delete <name> <birth>
  new-alarm <name> <birth> <message>
  clear-alarm [-duration <sec>] <name> <birth> <alarm_time>
  import -file <path>
  report -from <date> -to <date> [-name <pattern>] [-location <pattern>] [-csv <path>] [-xlsx <path>]
  simple-test
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usageText)
		os.Exit(2)
	}

	// 1. 加载配置
	cfg, err := config.Load()
	if err != nil {
		panic(fmt.Sprintf("Failed to load config: %v", err))
	}

	// 2. 初始化日志
	log, err := logger.NewLogger(cfg.Log.Level, cfg.Log.Format, "wisefido-residents")
	if err != nil {
		panic(fmt.Sprintf("Failed to init logger: %v", err))
	}
	defer log.Sync()

	if cfg.Mongo.URI == "" {
		log.Fatal("MONGODB_URI environment variable is required")
	}

	ctx := context.Background()

	// 3. 连接 MongoDB，准备集合与唯一索引
	client, err := database.NewMongoClient(ctx, &cfg.Mongo)
	if err != nil {
		log.Fatal("Failed to connect to mongodb", zap.Error(err))
	}
	defer database.Close(ctx, client)

	coll := database.Collection(client, &cfg.Mongo)
	if err := database.EnsureIndexes(ctx, coll); err != nil {
		log.Fatal("Failed to ensure indexes", zap.Error(err))
	}

	// 4. 可选的报警事件发布（未配置 REDIS_ADDR 时禁用）
	var pub publisher.AlarmPublisher = publisher.NoopPublisher{}
	if cfg.Redis.Addr != "" {
		redisClient := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := redisClient.Ping(ctx).Err(); err != nil {
			log.Fatal("Failed to ping redis", zap.Error(err))
		}
		defer redisClient.Close()
		pub = publisher.NewRedisPublisher(redisClient, cfg.Alarm.Stream, log)
	}

	// 5. 组装服务
	repo := repository.NewMongoResidentsRepository(coll, log)
	residents := service.NewResidentService(repo, log)
	alarms := service.NewAlarmService(repo, pub, log)
	reports := service.NewReportService(repo, log)

	// 6. 分发子命令
	if err := dispatch(ctx, os.Args[1], os.Args[2:], log, residents, alarms, reports); err != nil {
		log.Fatal("Command failed", zap.String("command", os.Args[1]), zap.Error(err))
	}
}

func dispatch(ctx context.Context, command string, args []string, log *zap.Logger,
	residents *service.ResidentService, alarms *service.AlarmService, reports *service.ReportService) error {
	switch command {
	case "insert":
		return runInsert(ctx, args, residents)
	case "delete":
		return runDelete(ctx, args, residents)
	case "new-alarm":
		return runNewAlarm(ctx, args, log, alarms)
	case "clear-alarm":
		return runClearAlarm(ctx, args, log, alarms)
	case "import":
		return runImport(ctx, args, residents)
	case "report":
		return runReport(ctx, args, reports)
	case "simple-test":
		return runSimpleTest(ctx, residents)
	default:
		fmt.Fprint(os.Stderr, usageText)
		return fmt.Errorf("unknown command %q", command)
	}
}

func runInsert(ctx context.Context, args []string, residents *service.ResidentService) error {
	fs := flag.NewFlagSet("insert", flag.ExitOnError)
	upsert := fs.Bool("upsert", false, "upsert instead of insert-or-update")
	fs.Parse(args)
	if fs.NArg() != 4 {
		return fmt.Errorf("insert requires <name> <birth> <location> <resident_since>")
	}

	name, birth, location, since := fs.Arg(0), fs.Arg(1), fs.Arg(2), fs.Arg(3)
	var err error
	if *upsert {
		_, err = residents.Upsert(ctx, name, birth, location, since)
	} else {
		_, err = residents.InsertOrUpdate(ctx, name, birth, location, since)
	}
	return err
}

func runDelete(ctx context.Context, args []string, residents *service.ResidentService) error {
	fs := flag.NewFlagSet("delete", flag.ExitOnError)
	fs.Parse(args)
	if fs.NArg() != 2 {
		return fmt.Errorf("delete requires <name> <birth>")
	}

	_, err := residents.Delete(ctx, fs.Arg(0), fs.Arg(1))
	return err
}

func runNewAlarm(ctx context.Context, args []string, log *zap.Logger, alarms *service.AlarmService) error {
	fs := flag.NewFlagSet("new-alarm", flag.ExitOnError)
	fs.Parse(args)
	if fs.NArg() != 3 {
		return fmt.Errorf("new-alarm requires <name> <birth> <message>")
	}

	openTime, err := alarms.OpenAlarm(ctx, fs.Arg(0), fs.Arg(1), fs.Arg(2))
	if errors.Is(err, repository.ErrResidentNotFound) {
		// 可报告的非致命结果：住户不存在
		log.Warn("No resident found to add alarm", zap.String("name", fs.Arg(0)))
		return nil
	}
	if err != nil {
		return err
	}

	fmt.Println(openTime.Format(time.RFC3339Nano))
	return nil
}

func runClearAlarm(ctx context.Context, args []string, log *zap.Logger, alarms *service.AlarmService) error {
	fs := flag.NewFlagSet("clear-alarm", flag.ExitOnError)
	duration := fs.Int64("duration", -1, "explicit duration in seconds (for synthetic data)")
	fs.Parse(args)
	if fs.NArg() != 3 {
		return fmt.Errorf("clear-alarm requires <name> <birth> <alarm_time>")
	}

	var explicit *int64
	if *duration >= 0 {
		explicit = duration
	}

	_, err := alarms.CloseAlarm(ctx, fs.Arg(0), fs.Arg(1), fs.Arg(2), explicit)
	switch {
	case errors.Is(err, repository.ErrResidentNotFound):
		log.Warn("No resident found to clear alarm", zap.String("name", fs.Arg(0)))
		return nil
	case errors.Is(err, repository.ErrAlarmNotFound):
		log.Warn("No active alarm found at given time",
			zap.String("name", fs.Arg(0)),
			zap.String("time", fs.Arg(2)),
		)
		return nil
	}
	return err
}

func runImport(ctx context.Context, args []string, residents *service.ResidentService) error {
	fs := flag.NewFlagSet("import", flag.ExitOnError)
	file := fs.String("file", "", "csv file to import")
	fs.Parse(args)
	if *file == "" {
		return fmt.Errorf("import requires -file <path>")
	}

	_, err := residents.ImportCSV(ctx, *file)
	return err
}

func runReport(ctx context.Context, args []string, reports *service.ReportService) error {
	fs := flag.NewFlagSet("report", flag.ExitOnError)
	from := fs.String("from", "", "start date (inclusive)")
	to := fs.String("to", "", "end date (inclusive)")
	name := fs.String("name", "", "name pattern filter")
	location := fs.String("location", "", "location pattern filter")
	csvPath := fs.String("csv", "", "write report to csv file instead of console")
	xlsxPath := fs.String("xlsx", "", "write report to xlsx file instead of console")
	fs.Parse(args)
	if *from == "" || *to == "" {
		return fmt.Errorf("report requires -from and -to dates")
	}

	sink, err := newReportSink(*csvPath, *xlsxPath, os.Stdout)
	if err != nil {
		return err
	}

	_, err = reports.Run(ctx, *from, *to, *name, *location, sink)
	return err
}

// newReportSink 根据输出参数选择报表输出端，-csv 与 -xlsx 互斥
func newReportSink(csvPath, xlsxPath string, out io.Writer) (export.ReportSink, error) {
	switch {
	case csvPath != "" && xlsxPath != "":
		return nil, fmt.Errorf("report accepts only one of -csv and -xlsx")
	case csvPath != "":
		return export.NewCSVSink(csvPath)
	case xlsxPath != "":
		return export.NewXLSXSink(xlsxPath), nil
	default:
		return export.NewConsoleSink(out), nil
	}
}

// runSimpleTest 冒烟场景：插入两次（第二次回退更新）、upsert 两次、删除收尾
func runSimpleTest(ctx context.Context, residents *service.ResidentService) error {
	steps := []func() error{
		func() error {
			_, err := residents.InsertOrUpdate(ctx, "John Doe", "1990-01-01", "Room 101", "2020-01-01")
			return err
		},
		func() error {
			_, err := residents.InsertOrUpdate(ctx, "John Doe", "1990-01-01", "Room 102", "2021-01-01")
			return err
		},
		func() error {
			_, err := residents.Upsert(ctx, "Jane Smith", "1985-05-15", "Room 105", "2019-06-01")
			return err
		},
		func() error {
			_, err := residents.Upsert(ctx, "Jane Smith", "1985-05-15", "Room 106", "2022-07-01")
			return err
		},
		func() error {
			_, err := residents.Delete(ctx, "John Doe", "1990-01-01")
			return err
		},
		func() error {
			_, err := residents.Delete(ctx, "Jane Smith", "1985-05-15")
			return err
		},
	}

	for _, step := range steps {
		if err := step(); err != nil {
			return err
		}
	}
	return nil
}
