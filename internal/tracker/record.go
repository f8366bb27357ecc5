package tracker

import (
	"sort"
	"time"
)

// Status 文档在处理记录中的状态
type Status string

const (
	// StatusProcessed 已成功处理，签名与向量库中的分块一致
	StatusProcessed Status = "processed"
	// StatusPending 仅登记、尚未处理（旧版记录文件中可能出现）
	StatusPending Status = "pending"
)

// Entry 单个文档的处理记录
type Entry struct {
	ID          string    `json:"file_id"`        // 文档ID（路径、对象键或Drive文件ID）
	Name        string    `json:"name"`           // 文件名
	Signature   string    `json:"content_hash"`   // 处理时的内容签名
	ChunkCount  int       `json:"chunks_count"`   // 写入向量库的分块数
	Status      Status    `json:"status"`         // 记录状态
	ProcessedAt time.Time `json:"processed_date"` // 处理完成时间
}

// Record 处理记录：文档ID → 最近一次成功处理的信息
// 它是"是否已处理"判断的唯一依据，由调用方显式传入传出并通过 Store 持久化
type Record struct {
	Entries     map[string]Entry `json:"processed_files"`
	LastUpdated time.Time        `json:"last_updated"`
}

// NewRecord 创建空记录
func NewRecord() *Record {
	return &Record{Entries: make(map[string]Entry)}
}

// Get 获取文档记录
func (r *Record) Get(id string) (Entry, bool) {
	e, ok := r.Entries[id]
	return e, ok
}

// MarkProcessed 文档处理成功后写入记录
func (r *Record) MarkProcessed(id, name, signature string, chunks int, at time.Time) Entry {
	if r.Entries == nil {
		r.Entries = make(map[string]Entry)
	}
	e := Entry{
		ID:          id,
		Name:        name,
		Signature:   signature,
		ChunkCount:  chunks,
		Status:      StatusProcessed,
		ProcessedAt: at,
	}
	r.Entries[id] = e
	r.LastUpdated = at
	return e
}

// Remove 删除文档记录，返回被删除的记录
func (r *Record) Remove(id string) (Entry, bool) {
	e, ok := r.Entries[id]
	if ok {
		delete(r.Entries, id)
		r.LastUpdated = time.Now()
	}
	return e, ok
}

// Len 记录的文档数
func (r *Record) Len() int {
	return len(r.Entries)
}

// TotalChunks 所有文档的分块总数
func (r *Record) TotalChunks() int {
	total := 0
	for _, e := range r.Entries {
		total += e.ChunkCount
	}
	return total
}

// List 按ID排序返回全部记录
func (r *Record) List() []Entry {
	out := make([]Entry, 0, len(r.Entries))
	for _, e := range r.Entries {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Clone 深拷贝记录
func (r *Record) Clone() *Record {
	c := &Record{
		Entries:     make(map[string]Entry, len(r.Entries)),
		LastUpdated: r.LastUpdated,
	}
	for k, v := range r.Entries {
		c.Entries[k] = v
	}
	return c
}
