package tracker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Store 处理记录的持久化接口
type Store interface {
	// Load 读取记录，不存在时返回空记录
	Load(ctx context.Context) (*Record, error)
	// Save 整体保存记录
	Save(ctx context.Context, record *Record) error
}

// recordFile processed_files.json 的文件格式
type recordFile struct {
	ProcessedFiles map[string]Entry `json:"processed_files"`
	LastUpdated    time.Time        `json:"last_updated"`
	TotalProcessed int              `json:"total_processed"`
	TotalChunks    int              `json:"total_chunks"`
}

// JSONStore 基于本地JSON文件的记录存储
type JSONStore struct {
	path string
	mu   sync.Mutex
}

// NewJSONStore 创建JSON文件记录存储
func NewJSONStore(path string) *JSONStore {
	return &JSONStore{path: path}
}

// Path 返回文件路径
func (s *JSONStore) Path() string {
	return s.path
}

// Load 读取记录文件
func (s *JSONStore) Load(ctx context.Context) (*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return NewRecord(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read record file: %w", err)
	}
	if len(data) == 0 {
		return NewRecord(), nil
	}

	var file recordFile
	if err := json.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to decode record file %s: %w", s.path, err)
	}

	record := NewRecord()
	record.LastUpdated = file.LastUpdated
	for key, entry := range file.ProcessedFiles {
		// 旧版文件以文件名为键，file_id 缺失时退回使用键
		if entry.ID == "" {
			entry.ID = key
		}
		if entry.Name == "" {
			entry.Name = key
		}
		if entry.Status == "" {
			entry.Status = StatusProcessed
		}
		record.Entries[entry.ID] = entry
	}
	return record, nil
}

// Save 先写临时文件再重命名，保证文件始终完整
func (s *JSONStore) Save(ctx context.Context, record *Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	file := recordFile{
		ProcessedFiles: record.Entries,
		LastUpdated:    record.LastUpdated,
		TotalProcessed: record.Len(),
		TotalChunks:    record.TotalChunks(),
	}
	if file.ProcessedFiles == nil {
		file.ProcessedFiles = map[string]Entry{}
	}

	data, err := json.MarshalIndent(file, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode record: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create record directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".processed-*.json")
	if err != nil {
		return fmt.Errorf("failed to create temp record file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write record: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		return fmt.Errorf("failed to replace record file: %w", err)
	}
	return nil
}

// MemoryStore 内存记录存储，用于测试和临时运行
type MemoryStore struct {
	mu     sync.Mutex
	record *Record
	saves  int
}

// NewMemoryStore 创建内存记录存储
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{record: NewRecord()}
}

// Load 返回记录副本
func (s *MemoryStore) Load(ctx context.Context) (*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.record.Clone(), nil
}

// Save 保存记录副本
func (s *MemoryStore) Save(ctx context.Context, record *Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record = record.Clone()
	s.saves++
	return nil
}

// Saves 返回保存次数
func (s *MemoryStore) Saves() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saves
}
