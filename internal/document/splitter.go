package document

import (
	"errors"
	"fmt"
	"strings"
)

// DefaultSeparators 默认分隔符优先级：段落、换行、空格，最后按长度硬切
var DefaultSeparators = []string{"\n\n", "\n", " ", ""}

// SplitterConfig 分段器配置
type SplitterConfig struct {
	ChunkSize    int      // 分块大小（按字符数）
	ChunkOverlap int      // 相邻分块重叠的字符数
	Separators   []string // 分隔符优先级列表，空字符串表示按长度硬切
	MaxChunks    int      // 最大分块数量（0表示不限制）
}

// DefaultSplitterConfig 返回默认分段器配置
func DefaultSplitterConfig() SplitterConfig {
	return SplitterConfig{
		ChunkSize:    1000,
		ChunkOverlap: 200,
		Separators:   DefaultSeparators,
		MaxChunks:    0,
	}
}

// Validate 检查配置是否合法
func (c SplitterConfig) Validate() error {
	if c.ChunkSize <= 0 {
		return errors.New("chunk size must be positive")
	}
	if c.ChunkOverlap < 0 || c.ChunkOverlap >= c.ChunkSize {
		return fmt.Errorf("chunk overlap must be in [0, %d), got %d", c.ChunkSize, c.ChunkOverlap)
	}
	return nil
}

// TextSplitter 递归字符分段器
//
// 每个分块不超过 ChunkSize 个字符，相邻分块恰好重叠 ChunkOverlap 个字符。
// 切分点优先选择分隔符列表中靠前的分隔符在窗口内最后一次出现的位置，
// 都不满足时在 ChunkSize 处硬切。相同输入和配置总是得到相同的分块。
type TextSplitter struct {
	config     SplitterConfig
	separators [][]rune
}

// NewTextSplitter 创建新的文本分段器
func NewTextSplitter(config SplitterConfig) *TextSplitter {
	if config.Separators == nil {
		config.Separators = DefaultSeparators
	}
	seps := make([][]rune, len(config.Separators))
	for i, sep := range config.Separators {
		seps[i] = []rune(sep)
	}
	return &TextSplitter{
		config:     config,
		separators: seps,
	}
}

// Config 返回分段器配置
func (s *TextSplitter) Config() SplitterConfig {
	return s.config
}

// Split 将文本分割成内容段落
func (s *TextSplitter) Split(text string) ([]Content, error) {
	if err := s.config.Validate(); err != nil {
		return nil, err
	}

	text = strings.ReplaceAll(text, "\r\n", "\n")
	runes := []rune(text)
	total := len(runes)

	contents := []Content{}
	start := 0
	for start < total {
		end := total
		if total-start > s.config.ChunkSize {
			end = s.findBreak(runes, start)
		}

		piece := string(runes[start:end])
		// 纯空白分块不参与向量化
		if strings.TrimSpace(piece) != "" {
			contents = append(contents, Content{
				Text:  piece,
				Index: len(contents),
				Start: start,
				End:   end,
			})
			if s.config.MaxChunks > 0 && len(contents) >= s.config.MaxChunks {
				break
			}
		}

		if end >= total {
			break
		}
		next := end - s.config.ChunkOverlap
		if next <= start {
			next = end
		}
		start = next
	}

	return contents, nil
}

// findBreak 在 [start, start+ChunkSize] 窗口内寻找切分点
// 切分点必须让分块长度大于重叠长度，否则下一分块无法前进
func (s *TextSplitter) findBreak(runes []rune, start int) int {
	limit := start + s.config.ChunkSize
	minEnd := start + s.config.ChunkOverlap + 1
	window := runes[start:limit]

	for _, sep := range s.separators {
		if len(sep) == 0 {
			return limit
		}
		idx := lastIndexRunes(window, sep)
		if idx < 0 {
			continue
		}
		end := start + idx + len(sep)
		if end >= minEnd {
			return end
		}
	}
	return limit
}

// lastIndexRunes 返回 sep 在 s 中最后一次出现的位置，不存在时返回 -1
func lastIndexRunes(s, sep []rune) int {
	for i := len(s) - len(sep); i >= 0; i-- {
		match := true
		for j := range sep {
			if s[i+j] != sep[j] {
				match = false
				break
			}
		}
		if match {
			return i
		}
	}
	return -1
}
