package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"path"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// MinioStorage MinIO存储实现
type MinioStorage struct {
	client     *minio.Client // MinIO客户端
	bucketName string        // 存储桶名称
	prefix     string        // 对象键前缀，例如 "docs/"
}

// MinioConfig MinIO存储配置
type MinioConfig struct {
	Endpoint  string // MinIO服务端点
	AccessKey string // 访问密钥ID
	SecretKey string // 秘密访问密钥
	UseSSL    bool   // 是否使用SSL
	Bucket    string // 存储桶名称
	Prefix    string // 对象键前缀
	Region    string // 区域，为空时由客户端探测
	Create    bool   // 桶不存在时是否创建
}

// NewMinioStorage 创建MinIO存储实例
func NewMinioStorage(ctx context.Context, cfg MinioConfig) (*MinioStorage, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create MinIO client: %v", err)
	}

	if cfg.Create {
		exists, err := client.BucketExists(ctx, cfg.Bucket)
		if err != nil {
			return nil, fmt.Errorf("failed to check if bucket exists: %v", err)
		}
		if !exists {
			if err := client.MakeBucket(ctx, cfg.Bucket, minio.MakeBucketOptions{Region: cfg.Region}); err != nil {
				return nil, fmt.Errorf("failed to create bucket: %v", err)
			}
		}
	}

	prefix := strings.Trim(cfg.Prefix, "/")
	if prefix != "" {
		prefix += "/"
	}

	return &MinioStorage{
		client:     client,
		bucketName: cfg.Bucket,
		prefix:     prefix,
	}, nil
}

func (s *MinioStorage) objectName(key string) (string, error) {
	cleaned, err := CleanKey(key)
	if err != nil {
		return "", err
	}
	return s.prefix + cleaned, nil
}

// Save 上传对象
func (s *MinioStorage) Save(ctx context.Context, key string, reader io.Reader) (ObjectInfo, error) {
	name, err := s.objectName(key)
	if err != nil {
		return ObjectInfo{}, err
	}

	// 文档体积小，读入内存以获得准确大小
	content, err := io.ReadAll(reader)
	if err != nil {
		return ObjectInfo{}, fmt.Errorf("failed to read file content: %v", err)
	}

	_, err = s.client.PutObject(ctx, s.bucketName, name, bytes.NewReader(content), int64(len(content)),
		minio.PutObjectOptions{ContentType: getMimeType(name)})
	if err != nil {
		return ObjectInfo{}, fmt.Errorf("failed to upload file: %w", s.mapError(err, key))
	}
	return s.Stat(ctx, key)
}

// Get 获取对象内容
func (s *MinioStorage) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	name, err := s.objectName(key)
	if err != nil {
		return nil, err
	}
	obj, err := s.client.GetObject(ctx, s.bucketName, name, minio.GetObjectOptions{})
	if err != nil {
		return nil, s.mapError(err, key)
	}
	// GetObject 是惰性的，先Stat以便立即暴露不存在错误
	if _, err := obj.Stat(); err != nil {
		obj.Close()
		return nil, s.mapError(err, key)
	}
	return obj, nil
}

// Stat 获取对象元数据
func (s *MinioStorage) Stat(ctx context.Context, key string) (ObjectInfo, error) {
	name, err := s.objectName(key)
	if err != nil {
		return ObjectInfo{}, err
	}
	info, err := s.client.StatObject(ctx, s.bucketName, name, minio.StatObjectOptions{})
	if err != nil {
		return ObjectInfo{}, s.mapError(err, key)
	}
	return s.toObjectInfo(info), nil
}

// Delete 删除对象
func (s *MinioStorage) Delete(ctx context.Context, key string) error {
	if _, err := s.Stat(ctx, key); err != nil {
		return err
	}
	name, _ := s.objectName(key)
	if err := s.client.RemoveObject(ctx, s.bucketName, name, minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("failed to delete object: %w", s.mapError(err, key))
	}
	return nil
}

// List 列出前缀下的全部对象
func (s *MinioStorage) List(ctx context.Context) ([]ObjectInfo, error) {
	var objects []ObjectInfo
	for obj := range s.client.ListObjects(ctx, s.bucketName, minio.ListObjectsOptions{
		Prefix:    s.prefix,
		Recursive: true,
	}) {
		if obj.Err != nil {
			return nil, fmt.Errorf("failed to list objects: %w", obj.Err)
		}
		if strings.HasSuffix(obj.Key, "/") {
			continue
		}
		objects = append(objects, s.toObjectInfo(obj))
	}
	return objects, nil
}

// Exists 检查对象是否存在
func (s *MinioStorage) Exists(ctx context.Context, key string) (bool, error) {
	_, err := s.Stat(ctx, key)
	if err != nil {
		if isNotFound(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// Ping 检查桶是否可访问
func (s *MinioStorage) Ping(ctx context.Context) error {
	exists, err := s.client.BucketExists(ctx, s.bucketName)
	if err != nil {
		return err
	}
	if !exists {
		return fmt.Errorf("bucket %s does not exist", s.bucketName)
	}
	return nil
}

func (s *MinioStorage) toObjectInfo(info minio.ObjectInfo) ObjectInfo {
	key := strings.TrimPrefix(info.Key, s.prefix)
	return ObjectInfo{
		Key:      key,
		Name:     path.Base(key),
		Size:     info.Size,
		ModTime:  info.LastModified,
		ETag:     strings.Trim(info.ETag, `"`),
		MimeType: getMimeType(key),
	}
}

// mapError 将S3的不存在错误统一为 ErrNotFound
func (s *MinioStorage) mapError(err error, key string) error {
	resp := minio.ToErrorResponse(err)
	if resp.Code == "NoSuchKey" || (resp.StatusCode == http.StatusNotFound && resp.Code != "NoSuchBucket") {
		return fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	return err
}
