package source

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/fyerfyer/doc-ingest/internal/document"
	"github.com/fyerfyer/doc-ingest/pkg/ratelimit"
	"github.com/sirupsen/logrus"
	"google.golang.org/api/drive/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
)

const (
	// MimeTypeGoogleDoc Google文档
	MimeTypeGoogleDoc = "application/vnd.google-apps.document"
	// MimeTypeFolder 文件夹
	MimeTypeFolder = "application/vnd.google-apps.folder"
	// ExportMimeText 导出Google文档使用的格式
	ExportMimeText = "text/plain"

	// MaxDownloadSize 单个文件的下载上限
	MaxDownloadSize = 10 * 1024 * 1024

	driveFileFields googleapi.Field = "id, name, mimeType, md5Checksum, version, modifiedTime, size"
	driveListFields googleapi.Field = "nextPageToken, files(id, name, mimeType, md5Checksum, version, modifiedTime, size)"
	drivePageSize                   = 100
	driveMaxRetries                 = 3
)

// DriveConfig Google Drive来源配置
type DriveConfig struct {
	CredentialsFile  string  // 服务账号凭据文件
	CredentialsJSON  string  // 凭据JSON内容，优先于文件
	FolderID         string  // 文件夹ID
	ExportGoogleDocs bool    // 是否把Google文档导出为纯文本处理
	RateLimit        float64 // 每秒请求数
	Extensions       []string

	// ClientOptions 额外的客户端选项，测试时用于替换端点
	ClientOptions []option.ClientOption
}

// DriveSource Google Drive文件夹来源
type DriveSource struct {
	svc        *drive.Service
	folderID   string
	exportDocs bool
	extensions extensionFilter
	limiter    *ratelimit.Limiter
	logger     *logrus.Logger
}

// NewDriveSource 创建Drive来源，凭据缺失时返回错误
func NewDriveSource(ctx context.Context, cfg DriveConfig, logger *logrus.Logger) (*DriveSource, error) {
	if cfg.FolderID == "" {
		return nil, errors.New("gdrive folder id is required")
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	opts := []option.ClientOption{option.WithScopes(drive.DriveScope)}
	switch {
	case cfg.CredentialsJSON != "":
		opts = append(opts, option.WithCredentialsJSON([]byte(cfg.CredentialsJSON)))
	case cfg.CredentialsFile != "":
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	case len(cfg.ClientOptions) == 0:
		return nil, errors.New("gdrive credentials are required")
	}
	opts = append(opts, cfg.ClientOptions...)

	svc, err := drive.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("%w: create drive service: %v", ErrSourceUnavailable, err)
	}

	rps := cfg.RateLimit
	if rps <= 0 {
		rps = 10
	}

	return &DriveSource{
		svc:        svc,
		folderID:   cfg.FolderID,
		exportDocs: cfg.ExportGoogleDocs,
		extensions: newExtensionFilter(cfg.Extensions),
		limiter:    ratelimit.New(ratelimit.Config{RequestsPerSecond: rps, BurstSize: int(rps) + 1}),
		logger:     logger,
	}, nil
}

// Type 返回来源类型
func (s *DriveSource) Type() Type {
	return TypeGDrive
}

// List 分页列出文件夹中未删除的文件
func (s *DriveSource) List(ctx context.Context) ([]Entry, error) {
	query := fmt.Sprintf("'%s' in parents and trashed = false", escapeQuery(s.folderID))

	var entries []Entry
	pageToken := ""
	for {
		var list *drive.FileList
		err := s.call(ctx, "list", func() error {
			var err error
			list, err = s.svc.Files.List().
				Q(query).
				Fields(driveListFields).
				PageSize(drivePageSize).
				PageToken(pageToken).
				SupportsAllDrives(true).
				IncludeItemsFromAllDrives(true).
				Context(ctx).
				Do()
			return err
		})
		if err != nil {
			return nil, s.mapError(err, s.folderID)
		}

		for _, f := range list.Files {
			if s.accept(f) {
				entries = append(entries, s.toEntry(f))
			}
		}

		if list.NextPageToken == "" {
			break
		}
		pageToken = list.NextPageToken
	}

	sort.Slice(entries, func(i, j int) bool { return entries[i].ID < entries[j].ID })
	return entries, nil
}

func (s *DriveSource) accept(f *drive.File) bool {
	switch f.MimeType {
	case MimeTypeFolder:
		return false
	case MimeTypeGoogleDoc:
		return s.exportDocs
	default:
		return s.extensions.match(f.Name)
	}
}

// Read 下载文件内容，Google文档导出为纯文本
func (s *DriveSource) Read(ctx context.Context, id string) (Document, error) {
	var meta *drive.File
	err := s.call(ctx, "get", func() error {
		var err error
		meta, err = s.svc.Files.Get(id).Fields(driveFileFields).SupportsAllDrives(true).Context(ctx).Do()
		return err
	})
	if err != nil {
		return Document{}, s.mapError(err, id)
	}
	if !s.accept(meta) {
		return Document{}, fmt.Errorf("%w: %s", ErrUnsupportedDocument, meta.Name)
	}

	var data []byte
	err = s.call(ctx, "download", func() error {
		var err error
		data, err = s.download(ctx, meta)
		return err
	})
	if err != nil {
		return Document{}, s.mapError(err, id)
	}

	parseName := meta.Name
	if meta.MimeType == MimeTypeGoogleDoc {
		parseName += ".txt"
	}
	text, err := document.ParseBytes(data, parseName)
	if err != nil {
		return Document{}, fmt.Errorf("parse %s: %w", meta.Name, err)
	}

	return Document{Entry: s.toEntry(meta), Content: text}, nil
}

func (s *DriveSource) download(ctx context.Context, f *drive.File) ([]byte, error) {
	var body io.ReadCloser
	if f.MimeType == MimeTypeGoogleDoc {
		resp, err := s.svc.Files.Export(f.Id, ExportMimeText).Context(ctx).Download()
		if err != nil {
			return nil, err
		}
		body = resp.Body
	} else {
		resp, err := s.svc.Files.Get(f.Id).SupportsAllDrives(true).Context(ctx).Download()
		if err != nil {
			return nil, err
		}
		body = resp.Body
	}
	defer body.Close()

	data, err := io.ReadAll(io.LimitReader(body, MaxDownloadSize+1))
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", f.Name, err)
	}
	if len(data) > MaxDownloadSize {
		return nil, fmt.Errorf("%s exceeds %d bytes", f.Name, MaxDownloadSize)
	}
	return data, nil
}

// Create 在文件夹中新建文件
func (s *DriveSource) Create(ctx context.Context, name string, r io.Reader) (Entry, error) {
	if !s.extensions.match(name) {
		return Entry{}, fmt.Errorf("%w: %s", ErrUnsupportedDocument, name)
	}

	meta := &drive.File{
		Name:    name,
		Parents: []string{s.folderID},
	}
	if err := s.limiter.Wait(ctx); err != nil {
		return Entry{}, err
	}
	created, err := s.svc.Files.Create(meta).
		Media(r, googleapi.ContentType(mimeTypeFor(name))).
		Fields(driveFileFields).
		SupportsAllDrives(true).
		Context(ctx).
		Do()
	if err != nil {
		return Entry{}, s.mapError(err, name)
	}
	return s.toEntry(created), nil
}

// Update 替换文件内容，Google文档不支持直接写入
func (s *DriveSource) Update(ctx context.Context, id string, r io.Reader) (Entry, error) {
	if err := s.limiter.Wait(ctx); err != nil {
		return Entry{}, err
	}
	updated, err := s.svc.Files.Update(id, &drive.File{}).
		Media(r).
		Fields(driveFileFields).
		SupportsAllDrives(true).
		Context(ctx).
		Do()
	if err != nil {
		return Entry{}, s.mapError(err, id)
	}
	return s.toEntry(updated), nil
}

// Delete 删除文件
func (s *DriveSource) Delete(ctx context.Context, id string) error {
	err := s.call(ctx, "delete", func() error {
		return s.svc.Files.Delete(id).SupportsAllDrives(true).Context(ctx).Do()
	})
	if err != nil {
		return s.mapError(err, id)
	}
	return nil
}

// Ping 确认文件夹存在且可访问
func (s *DriveSource) Ping(ctx context.Context) error {
	var folder *drive.File
	err := s.call(ctx, "ping", func() error {
		var err error
		folder, err = s.svc.Files.Get(s.folderID).Fields("id, name, mimeType").SupportsAllDrives(true).Context(ctx).Do()
		return err
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrSourceUnavailable, err)
	}
	if folder.MimeType != MimeTypeFolder {
		return fmt.Errorf("%w: %s is not a folder", ErrSourceUnavailable, s.folderID)
	}
	return nil
}

// call 执行一次API调用，限流时按退避重试
func (s *DriveSource) call(ctx context.Context, op string, fn func() error) error {
	var err error
	for attempt := 0; attempt <= driveMaxRetries; attempt++ {
		if waitErr := s.limiter.Wait(ctx); waitErr != nil {
			return waitErr
		}
		err = fn()
		if err == nil || !isGoogleRateLimited(err) {
			return err
		}

		wait := retryAfter(err)
		if wait <= 0 {
			wait = time.Duration(1<<attempt) * time.Second
		}
		s.limiter.RecordRateLimitError(wait)
		s.logger.WithFields(logrus.Fields{
			"op":      op,
			"attempt": attempt + 1,
			"wait":    wait.String(),
		}).Warn("Drive API rate limited")
	}
	return err
}

func (s *DriveSource) mapError(err error, id string) error {
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return err
	case isGoogleNotFound(err):
		return fmt.Errorf("%w: %s", ErrDocumentNotFound, id)
	default:
		return fmt.Errorf("%w: %v", ErrSourceUnavailable, err)
	}
}

// toEntry 普通文件使用md5作为指纹，Google文档没有md5，使用版本号
func (s *DriveSource) toEntry(f *drive.File) Entry {
	sig := f.Md5Checksum
	if sig == "" {
		sig = "v" + strconv.FormatInt(f.Version, 10)
	}

	mime := f.MimeType
	if mime == MimeTypeGoogleDoc {
		mime = ExportMimeText
	}

	modified, _ := time.Parse(time.RFC3339, f.ModifiedTime)
	return Entry{
		ID:         f.Id,
		Name:       f.Name,
		Signature:  sig,
		Size:       f.Size,
		ModifiedAt: modified,
		MimeType:   mime,
	}
}

func escapeQuery(s string) string {
	return strings.NewReplacer(`\`, `\\`, `'`, `\'`).Replace(s)
}

func mimeTypeFor(name string) string {
	switch document.DetectContentType(name) {
	case document.Markdown:
		return "text/markdown"
	case document.PDF:
		return "application/pdf"
	default:
		return "text/plain"
	}
}
