package database

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fyerfyer/doc-ingest/internal/models"
	"github.com/sirupsen/logrus"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// DB 全局连接，保存扫描历史和sql类型的处理记录
var DB *gorm.DB

// Config 数据库配置，目前只支持sqlite
type Config struct {
	Type string
	DSN  string
}

// DefaultConfig 默认写入data/docingest.db
func DefaultConfig() *Config {
	return &Config{Type: "sqlite", DSN: "data/docingest.db"}
}

// Setup 打开数据库并迁移表结构
func Setup(cfg *Config, log *logrus.Logger) error {
	if cfg.Type != "sqlite" {
		return fmt.Errorf("unsupported database type: %s", cfg.Type)
	}
	if err := ensureDir(cfg.DSN); err != nil {
		return err
	}

	db, err := gorm.Open(sqlite.Open(cfg.DSN), &gorm.Config{
		Logger: logger.New(&logrusWriter{log}, logger.Config{
			SlowThreshold:             200 * time.Millisecond,
			LogLevel:                  logger.Warn,
			IgnoreRecordNotFoundError: true,
		}),
	})
	if err != nil {
		return fmt.Errorf("failed to open database %s: %w", cfg.DSN, err)
	}

	// sqlite同一时间只允许一个写入者
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	sqlDB.SetMaxOpenConns(1)

	if err := Migrate(db); err != nil {
		sqlDB.Close()
		return fmt.Errorf("failed to migrate database: %w", err)
	}

	DB = db
	log.WithField("dsn", cfg.DSN).Info("Database ready")
	return nil
}

// Close 关闭全局连接
func Close() error {
	if DB == nil {
		return nil
	}
	sqlDB, err := DB.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Migrate 迁移所有模型，测试中也直接使用
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&models.ProcessedFile{},
		&models.ScanRun{},
	)
}

// MustDB 返回全局连接，未初始化时panic
func MustDB() *gorm.DB {
	if DB == nil {
		panic("database not initialized, call database.Setup first")
	}
	return DB
}

// ensureDir 为文件型DSN创建所在目录，内存库和file: URI跳过
func ensureDir(dsn string) error {
	if dsn == ":memory:" || strings.HasPrefix(dsn, "file:") {
		return nil
	}
	dir := filepath.Dir(dsn)
	if dir == "." {
		return nil
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create database directory: %w", err)
	}
	return nil
}

// logrusWriter 把gorm日志转发到logrus
type logrusWriter struct {
	logger *logrus.Logger
}

func (w *logrusWriter) Printf(format string, args ...interface{}) {
	w.logger.WithField("component", "gorm").Warnf(format, args...)
}
