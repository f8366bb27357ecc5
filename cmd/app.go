package main

import (
	"context"
	"fmt"

	"github.com/fyerfyer/doc-ingest/api/middleware"
	"github.com/fyerfyer/doc-ingest/config"
	"github.com/fyerfyer/doc-ingest/internal/cache"
	"github.com/fyerfyer/doc-ingest/internal/database"
	"github.com/fyerfyer/doc-ingest/internal/document"
	"github.com/fyerfyer/doc-ingest/internal/embedding"
	"github.com/fyerfyer/doc-ingest/internal/repository"
	"github.com/fyerfyer/doc-ingest/internal/services"
	"github.com/fyerfyer/doc-ingest/internal/source"
	"github.com/fyerfyer/doc-ingest/internal/tracker"
	"github.com/fyerfyer/doc-ingest/internal/vectordb"
	"github.com/fyerfyer/doc-ingest/pkg/storage"
	"github.com/sirupsen/logrus"
)

// app 由配置装配出的全部组件
type app struct {
	cfg      *config.Config
	logger   *logrus.Logger
	source   source.Source
	embedder embedding.Client
	store    vectordb.Repository
	cache    cache.Cache
	records  tracker.Store
	scans    repository.ScanRepository
	pipeline *services.PipelineService
	scanner  *services.ScanService
}

// loadApp 读取配置并装配组件，失败时已打开的资源会被关闭
func loadApp(ctx context.Context, load func() (*config.Config, error)) (*app, error) {
	cfg, err := load()
	if err != nil {
		return nil, err
	}

	a := &app{cfg: cfg, logger: middleware.SetupLogger(cfg.Log)}
	if err := a.setup(ctx); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *app) setup(ctx context.Context) error {
	cfg := a.cfg
	var err error

	// 扫描历史始终写入数据库，处理记录按配置选择json文件或数据库
	if err := setupDatabase(cfg.Database, a.logger); err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	a.scans = repository.NewScanRepository()

	if a.source, err = setupSource(ctx, cfg, a.logger); err != nil {
		return fmt.Errorf("failed to initialize document source: %w", err)
	}
	if a.embedder, a.cache, err = setupEmbedding(cfg, a.logger); err != nil {
		return fmt.Errorf("failed to initialize embedding client: %w", err)
	}
	if a.store, err = vectordb.NewRepository(vectordb.FromConfig(cfg.VectorDB)); err != nil {
		return fmt.Errorf("failed to initialize vector store: %w", err)
	}
	if dim := a.embedder.Dimension(); dim > 0 && dim != cfg.VectorDB.Dimension {
		a.logger.WithFields(logrus.Fields{
			"embedding_dimension": dim,
			"vectordb_dimension":  cfg.VectorDB.Dimension,
		}).Warn("Embedding dimension differs from vector store dimension")
	}

	switch cfg.Record.Type {
	case "sql":
		a.records = repository.NewRecordRepository()
	default:
		a.records = tracker.NewJSONStore(cfg.Record.Path)
	}

	splitter := document.NewTextSplitter(document.SplitterConfig{
		ChunkSize:    cfg.Document.ChunkSize,
		ChunkOverlap: cfg.Document.ChunkOverlap,
		Separators:   cfg.Document.Separators,
		MaxChunks:    cfg.Document.MaxChunks,
	})
	a.pipeline = services.NewPipelineService(splitter, a.embedder, a.store,
		services.WithPipelineLogger(a.logger),
	)
	a.scanner = services.NewScanService(a.source, a.pipeline, a.records,
		services.WithScanRepository(a.scans),
		services.WithScanLogger(a.logger),
	)

	a.logger.WithFields(logrus.Fields{
		"source":    a.source.Type(),
		"embedding": a.embedder.Name(),
		"vectordb":  cfg.VectorDB.Type,
		"records":   cfg.Record.Type,
	}).Info("Components initialized")
	return nil
}

// dashboard 创建仪表盘服务，缓存为redis时一并检查连接
func (a *app) dashboard(scheduler *services.Scheduler) *services.DashboardService {
	svc := services.NewDashboardService(a.source, a.embedder, a.store, a.scanner, scheduler, a.logger)
	if a.cache != nil && a.cfg.Cache.Type == "redis" {
		svc.AddCheck("cache", a.cache)
	}
	svc.AddCheck("database", pingFunc(func(ctx context.Context) error {
		sqlDB, err := database.MustDB().DB()
		if err != nil {
			return err
		}
		return sqlDB.PingContext(ctx)
	}))
	return svc
}

// Close 释放向量库和数据库连接
func (a *app) Close() {
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.logger.WithError(err).Warn("Failed to close vector store")
		}
	}
	if err := database.Close(); err != nil {
		a.logger.WithError(err).Warn("Failed to close database")
	}
}

type pingFunc func(ctx context.Context) error

func (f pingFunc) Ping(ctx context.Context) error { return f(ctx) }

// setupDatabase 设置数据库
func setupDatabase(cfg config.DatabaseConfig, logger *logrus.Logger) error {
	dbConfig := database.DefaultConfig()
	dbConfig.Type = cfg.Type
	dbConfig.DSN = cfg.DSN
	return database.Setup(dbConfig, logger)
}

// setupSource 根据配置创建文档来源
func setupSource(ctx context.Context, cfg *config.Config, logger *logrus.Logger) (source.Source, error) {
	exts := cfg.Document.Extensions

	switch cfg.Source.Type {
	case "minio":
		m := cfg.Source.MinIO
		st, err := storage.NewMinioStorage(ctx, storage.MinioConfig{
			Endpoint:  m.Endpoint,
			AccessKey: m.AccessKey,
			SecretKey: m.SecretKey,
			UseSSL:    m.UseSSL,
			Bucket:    m.Bucket,
			Prefix:    m.Prefix,
		})
		if err != nil {
			return nil, err
		}
		return source.NewBlobSource(source.TypeMinIO, st,
			source.WithExtensions(exts),
			source.WithLogger(logger),
		), nil

	case "gdrive":
		g := cfg.Source.GDrive
		return source.NewDriveSource(ctx, source.DriveConfig{
			CredentialsFile:  g.CredentialsFile,
			CredentialsJSON:  g.CredentialsJSON,
			FolderID:         g.FolderID,
			ExportGoogleDocs: g.ExportGoogleDocs,
			RateLimit:        g.RateLimit,
			Extensions:       exts,
		}, logger)

	default:
		st, err := storage.NewLocalStorage(storage.LocalConfig{Path: cfg.Source.Local.Dir})
		if err != nil {
			return nil, err
		}
		return source.NewBlobSource(source.TypeLocal, st,
			source.WithExtensions(exts),
			source.WithLogger(logger),
		), nil
	}
}

// setupEmbedding 创建嵌入客户端，按配置叠加限流和缓存
func setupEmbedding(cfg *config.Config, logger *logrus.Logger) (embedding.Client, cache.Cache, error) {
	e := cfg.Embed
	client, err := embedding.NewClient(e.Provider,
		embedding.WithAPIKey(e.APIKey),
		embedding.WithBaseURL(e.BaseURL),
		embedding.WithModel(e.Model),
		embedding.WithTimeout(e.Timeout),
		embedding.WithMaxRetries(e.MaxRetries),
		embedding.WithDimensions(e.Dimensions),
		embedding.WithBatchSize(e.BatchSize),
		embedding.WithLogger(logger),
	)
	if err != nil {
		return nil, nil, err
	}

	client = embedding.NewRateLimitedClient(client, e.RateLimit)
	if !e.Cache {
		return client, nil, nil
	}

	cacheConfig := cache.FromConfig(cfg.Cache)
	c, err := cache.NewCache(cacheConfig)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize cache: %w", err)
	}
	return embedding.NewCachedClient(client, c, cacheConfig.DefaultTTL, logger), c, nil
}
