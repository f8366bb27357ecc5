package config

import (
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// EnvPrefix 环境变量前缀，例如 DOCINGEST_EMBED_API_KEY 覆盖 embed.api_key
const EnvPrefix = "DOCINGEST"

// Config 应用程序配置结构体
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Log      LogConfig      `mapstructure:"log"`
	Source   SourceConfig   `mapstructure:"source"`
	Embed    EmbedConfig    `mapstructure:"embed"`
	VectorDB VectorDBConfig `mapstructure:"vectordb"`
	Cache    CacheConfig    `mapstructure:"cache"`
	Record   RecordConfig   `mapstructure:"record"`
	Database DatabaseConfig `mapstructure:"database"`
	Document DocumentConfig `mapstructure:"document"`
	Scan     ScanConfig     `mapstructure:"scan"`
	Search   SearchConfig   `mapstructure:"search"`
}

// ServerConfig 服务器配置
type ServerConfig struct {
	Host string `mapstructure:"host"`                                     // 服务器主机
	Port int    `mapstructure:"port" validate:"min=1,max=65535"`          // 服务器端口
	Mode string `mapstructure:"mode" validate:"oneof=debug release test"` // gin运行模式
	CORS bool   `mapstructure:"cors"`                                     // 是否允许跨域请求
}

// LogConfig 日志配置
type LogConfig struct {
	Level      string `mapstructure:"level" validate:"oneof=trace debug info warn warning error fatal panic"`
	Format     string `mapstructure:"format" validate:"oneof=json text"`
	File       string `mapstructure:"file"`        // 日志文件路径，为空时只输出到标准输出
	MaxSizeMB  int    `mapstructure:"max_size_mb"` // 单个日志文件最大大小
	MaxBackups int    `mapstructure:"max_backups"` // 保留的旧日志文件数量
	MaxAgeDays int    `mapstructure:"max_age_days"`
}

// SourceConfig 文档来源配置
type SourceConfig struct {
	Type   string       `mapstructure:"type" validate:"oneof=local minio gdrive"` // 来源类型
	Local  LocalConfig  `mapstructure:"local"`
	MinIO  MinIOConfig  `mapstructure:"minio"`
	GDrive GDriveConfig `mapstructure:"gdrive"`
}

// LocalConfig 本地目录来源
type LocalConfig struct {
	Dir string `mapstructure:"dir"` // 监视的文档目录
}

// MinIOConfig MinIO/S3桶来源
type MinIOConfig struct {
	Endpoint  string `mapstructure:"endpoint"`
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`
	Bucket    string `mapstructure:"bucket"`
	Prefix    string `mapstructure:"prefix"`
	UseSSL    bool   `mapstructure:"use_ssl"`
}

// GDriveConfig Google Drive来源
type GDriveConfig struct {
	CredentialsFile  string  `mapstructure:"credentials_file"` // 服务账号凭据文件
	CredentialsJSON  string  `mapstructure:"credentials_json"` // 凭据JSON内容，优先于文件
	FolderID         string  `mapstructure:"folder_id"`        // 目标文件夹ID
	ExportGoogleDocs bool    `mapstructure:"export_google_docs"`
	RateLimit        float64 `mapstructure:"rate_limit"` // 每秒请求数
}

// EmbedConfig 向量嵌入模型配置
type EmbedConfig struct {
	Provider   string        `mapstructure:"provider" validate:"oneof=openai gemini"` // 提供商
	Model      string        `mapstructure:"model" validate:"required"`               // 模型名称
	APIKey     string        `mapstructure:"api_key"`                                 // API密钥
	BaseURL    string        `mapstructure:"base_url"`                                // API端点，兼容OpenAI协议的服务也可使用
	BatchSize  int           `mapstructure:"batch_size" validate:"min=1"`             // 批处理大小
	Dimensions int           `mapstructure:"dimensions" validate:"min=0"`             // 向量维度，0表示使用模型默认值
	Timeout    time.Duration `mapstructure:"timeout"`                                 // 单次请求超时
	MaxRetries int           `mapstructure:"max_retries" validate:"min=0"`            // 限流时的重试次数
	RateLimit  float64       `mapstructure:"rate_limit" validate:"min=0"`             // 每秒请求数，0表示不限制
	Cache      bool          `mapstructure:"cache"`                                   // 是否缓存向量
}

// VectorDBConfig 向量数据库配置
type VectorDBConfig struct {
	Type      string `mapstructure:"type" validate:"oneof=memory weaviate faiss"` // 向量数据库类型
	Host      string `mapstructure:"host"`                                        // 服务地址
	Scheme    string `mapstructure:"scheme"`                                      // http或https
	APIKey    string `mapstructure:"api_key"`                                     // 托管服务API密钥
	IndexName string `mapstructure:"index_name" validate:"required"`              // 索引（类）名称
	Path      string `mapstructure:"path"`                                        // 本地索引文件路径
	Dimension int    `mapstructure:"dimension" validate:"min=1"`                  // 向量维度
	Distance  string `mapstructure:"distance" validate:"oneof=cosine l2 dot"`     // 距离度量方式
}

// CacheConfig 缓存配置
type CacheConfig struct {
	Type     string `mapstructure:"type" validate:"oneof=memory redis"` // 缓存类型
	Address  string `mapstructure:"address"`                            // Redis地址
	Password string `mapstructure:"password"`                           // Redis密码
	DB       int    `mapstructure:"db"`                                 // Redis数据库
	TTL      int    `mapstructure:"ttl"`                                // 缓存TTL（秒）
}

// RecordConfig 处理记录存储配置
type RecordConfig struct {
	Type string `mapstructure:"type" validate:"oneof=json sql"` // json文件或数据库
	Path string `mapstructure:"path"`                           // json文件路径
}

// DatabaseConfig 数据库配置
type DatabaseConfig struct {
	Type string `mapstructure:"type" validate:"oneof=sqlite"` // 数据库类型
	DSN  string `mapstructure:"dsn" validate:"required"`      // 数据源名称
}

// DocumentConfig 文档处理配置
type DocumentConfig struct {
	ChunkSize    int      `mapstructure:"chunk_size" validate:"min=1"`    // 分块大小
	ChunkOverlap int      `mapstructure:"chunk_overlap" validate:"min=0"` // 分块重叠大小
	Separators   []string `mapstructure:"separators"`                     // 分隔符优先级
	MaxChunks    int      `mapstructure:"max_chunks" validate:"min=0"`    // 单文档最大分块数，0表示不限制
	Extensions   []string `mapstructure:"extensions" validate:"min=1"`    // 处理的文件扩展名
}

// ScanConfig 扫描调度配置
type ScanConfig struct {
	Interval  time.Duration `mapstructure:"interval"`   // 自动扫描间隔
	AutoStart bool          `mapstructure:"auto_start"` // 启动时是否开启自动扫描
	OnStartup bool          `mapstructure:"on_startup"` // 启动后立即扫描一次
}

// SearchConfig 搜索配置
type SearchConfig struct {
	DefaultTopK int     `mapstructure:"default_top_k" validate:"min=1"` // 默认返回结果数
	MinScore    float32 `mapstructure:"min_score"`                      // 最低相似度分数
}

// Address 返回监听地址
func (s ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// Load 从文件和环境变量加载配置
func Load(configPath string) (*Config, error) {
	var config Config

	if configPath == "" {
		configPath = "config.yaml"
	}

	// .env 文件可选，存在时先注入环境变量
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Printf("Warning: failed to load .env: %v", err)
	}

	v := viper.New()
	setDefaults(v)
	v.SetConfigFile(configPath)

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		log.Printf("Warning: Config file not found at %s, using defaults", configPath)
		if dir := filepath.Dir(configPath); dir != "" {
			if err := os.MkdirAll(dir, 0755); err == nil {
				if err := v.WriteConfigAs(configPath); err != nil {
					log.Printf("Warning: Could not write default config to %s: %v", configPath, err)
				}
			}
		}
	} else if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %v", err)
	}

	// 支持环境变量覆盖
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to parse config: %v", err)
	}

	processEnvironmentVariables(&config)

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

// processEnvironmentVariables 展开形如 ${VAR} 的密钥配置
func processEnvironmentVariables(cfg *Config) {
	for _, field := range []*string{
		&cfg.Embed.APIKey,
		&cfg.VectorDB.APIKey,
		&cfg.Source.MinIO.AccessKey,
		&cfg.Source.MinIO.SecretKey,
		&cfg.Source.GDrive.CredentialsJSON,
		&cfg.Cache.Password,
	} {
		*field = expandEnv(*field)
	}
}

func expandEnv(value string) string {
	if strings.HasPrefix(value, "${") && strings.HasSuffix(value, "}") {
		return os.Getenv(value[2 : len(value)-1])
	}
	return value
}

// setDefaults 设置配置的默认值
func setDefaults(v *viper.Viper) {
	// 服务器默认配置
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.mode", "release")
	v.SetDefault("server.cors", false)

	// 日志默认配置
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("log.file", "")
	v.SetDefault("log.max_size_mb", 50)
	v.SetDefault("log.max_backups", 5)
	v.SetDefault("log.max_age_days", 30)

	// 文档来源默认配置
	v.SetDefault("source.type", "local")
	v.SetDefault("source.local.dir", "./documents")
	v.SetDefault("source.minio.endpoint", "")
	v.SetDefault("source.minio.access_key", "")
	v.SetDefault("source.minio.secret_key", "")
	v.SetDefault("source.minio.bucket", "documents")
	v.SetDefault("source.minio.prefix", "")
	v.SetDefault("source.minio.use_ssl", false)
	v.SetDefault("source.gdrive.credentials_file", "credentials.json")
	v.SetDefault("source.gdrive.credentials_json", "")
	v.SetDefault("source.gdrive.folder_id", "")
	v.SetDefault("source.gdrive.export_google_docs", true)
	v.SetDefault("source.gdrive.rate_limit", 8.0)

	// Embedding默认配置
	v.SetDefault("embed.provider", "openai")
	v.SetDefault("embed.model", "text-embedding-3-small")
	v.SetDefault("embed.api_key", "${OPENAI_API_KEY}")
	v.SetDefault("embed.base_url", "")
	v.SetDefault("embed.batch_size", 16)
	v.SetDefault("embed.dimensions", 0)
	v.SetDefault("embed.timeout", "30s")
	v.SetDefault("embed.max_retries", 3)
	v.SetDefault("embed.rate_limit", 5.0)
	v.SetDefault("embed.cache", true)

	// 向量数据库默认配置
	v.SetDefault("vectordb.type", "memory")
	v.SetDefault("vectordb.host", "localhost:8081")
	v.SetDefault("vectordb.scheme", "http")
	v.SetDefault("vectordb.api_key", "")
	v.SetDefault("vectordb.index_name", "DocumentChunk")
	v.SetDefault("vectordb.path", "./data/vectors") // 内存库写入 vectors.json，faiss写入 vectors.faiss
	v.SetDefault("vectordb.dimension", 1536) // text-embedding-3-small 维度
	v.SetDefault("vectordb.distance", "cosine")

	// 缓存默认配置
	v.SetDefault("cache.type", "memory")
	v.SetDefault("cache.address", "localhost:6379")
	v.SetDefault("cache.password", "")
	v.SetDefault("cache.db", 0)
	v.SetDefault("cache.ttl", 86400)

	// 处理记录默认配置
	v.SetDefault("record.type", "json")
	v.SetDefault("record.path", "./data/processed_files.json")

	// 数据库默认配置
	v.SetDefault("database.type", "sqlite")
	v.SetDefault("database.dsn", "data/docingest.db")

	// 文档处理默认配置
	v.SetDefault("document.chunk_size", 1000)
	v.SetDefault("document.chunk_overlap", 200)
	v.SetDefault("document.separators", []string{"\n\n", "\n", " ", ""})
	v.SetDefault("document.max_chunks", 0)
	v.SetDefault("document.extensions", []string{".md", ".markdown", ".txt"})

	// 扫描默认配置
	v.SetDefault("scan.interval", "5m")
	v.SetDefault("scan.auto_start", true)
	v.SetDefault("scan.on_startup", false)

	// 搜索默认配置
	v.SetDefault("search.default_top_k", 5)
	v.SetDefault("search.min_score", 0.0)
}

var validate = validator.New()

// Validate 校验配置，返回 *ConfigurationError
func (c *Config) Validate() error {
	var problems []string

	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			for _, fe := range verrs {
				problems = append(problems, fmt.Sprintf("%s: failed '%s' (value %v)", fe.Namespace(), fe.Tag(), fe.Value()))
			}
		} else {
			problems = append(problems, err.Error())
		}
	}

	if c.Document.ChunkOverlap >= c.Document.ChunkSize {
		problems = append(problems, "document.chunk_overlap must be smaller than document.chunk_size")
	}
	if c.Scan.Interval <= 0 {
		problems = append(problems, "scan.interval must be positive")
	}

	switch c.Embed.Provider {
	case "openai", "gemini":
		if c.Embed.APIKey == "" {
			problems = append(problems, "embed.api_key is required (set OPENAI_API_KEY or DOCINGEST_EMBED_API_KEY)")
		}
	}

	switch c.Source.Type {
	case "local":
		if c.Source.Local.Dir == "" {
			problems = append(problems, "source.local.dir is required")
		}
	case "minio":
		if c.Source.MinIO.Endpoint == "" || c.Source.MinIO.AccessKey == "" || c.Source.MinIO.SecretKey == "" || c.Source.MinIO.Bucket == "" {
			problems = append(problems, "source.minio endpoint, access_key, secret_key and bucket are required")
		}
	case "gdrive":
		if c.Source.GDrive.FolderID == "" {
			problems = append(problems, "source.gdrive.folder_id is required")
		}
		if c.Source.GDrive.CredentialsJSON == "" && c.Source.GDrive.CredentialsFile == "" {
			problems = append(problems, "source.gdrive credentials_json or credentials_file is required")
		}
	}

	switch c.VectorDB.Type {
	case "weaviate":
		if c.VectorDB.Host == "" {
			problems = append(problems, "vectordb.host is required for weaviate")
		}
	case "faiss":
		if c.VectorDB.Path == "" {
			problems = append(problems, "vectordb.path is required for faiss")
		}
	}

	if c.Cache.Type == "redis" && c.Cache.Address == "" {
		problems = append(problems, "cache.address is required for redis")
	}
	if c.Record.Type == "json" && c.Record.Path == "" {
		problems = append(problems, "record.path is required for json records")
	}

	if len(problems) > 0 {
		return &ConfigurationError{Problems: problems}
	}
	return nil
}
