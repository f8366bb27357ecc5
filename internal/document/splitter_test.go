package document

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func spans(contents []Content) [][2]int {
	out := make([][2]int, len(contents))
	for i, c := range contents {
		out[i] = [2]int{c.Start, c.End}
	}
	return out
}

// TestSplitHardCutBoundaries 2500个字符、块大小1000、重叠200 → 3个分块
func TestSplitHardCutBoundaries(t *testing.T) {
	text := strings.Repeat("a", 2500)
	splitter := NewTextSplitter(SplitterConfig{ChunkSize: 1000, ChunkOverlap: 200})

	chunks, err := splitter.Split(text)
	require.NoError(t, err)
	require.Len(t, chunks, 3)
	assert.Equal(t, [][2]int{{0, 1000}, {800, 1800}, {1600, 2500}}, spans(chunks))

	for i, c := range chunks {
		assert.Equal(t, i, c.Index)
		assert.Equal(t, text[c.Start:c.End], c.Text)
	}
}

func TestSplitDeterministic(t *testing.T) {
	var b strings.Builder
	for i := 0; i < 200; i++ {
		b.WriteString("Paragraph number ")
		b.WriteString(strings.Repeat("word ", i%17))
		if i%5 == 0 {
			b.WriteString("\n\n")
		} else {
			b.WriteString("\n")
		}
	}
	text := b.String()
	splitter := NewTextSplitter(DefaultSplitterConfig())

	first, err := splitter.Split(text)
	require.NoError(t, err)
	second, err := splitter.Split(text)
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Greater(t, len(first), 1)
}

func TestSplitRespectsSizeAndOverlap(t *testing.T) {
	text := strings.Repeat("lorem ipsum dolor sit amet\n", 40) + strings.Repeat("consectetur adipiscing elit ", 60)
	cfg := SplitterConfig{ChunkSize: 300, ChunkOverlap: 50, Separators: DefaultSeparators}
	chunks, err := NewTextSplitter(cfg).Split(text)
	require.NoError(t, err)
	require.NotEmpty(t, chunks)

	runes := []rune(text)
	for i, c := range chunks {
		assert.LessOrEqual(t, utf8.RuneCountInString(c.Text), cfg.ChunkSize)
		assert.Equal(t, string(runes[c.Start:c.End]), c.Text)
		if i > 0 {
			assert.Equal(t, chunks[i-1].End-cfg.ChunkOverlap, c.Start, "chunk %d should overlap its predecessor", i)
		}
	}
	assert.Equal(t, len(runes), chunks[len(chunks)-1].End)
}

func TestSplitPrefersHigherPrioritySeparator(t *testing.T) {
	// 窗口内同时存在段落分隔和空格时，应在段落处切分
	text := strings.Repeat("x", 40) + "\n\n" + strings.Repeat("y ", 20) + strings.Repeat("z", 60)
	cfg := SplitterConfig{ChunkSize: 80, ChunkOverlap: 10, Separators: DefaultSeparators}
	chunks, err := NewTextSplitter(cfg).Split(text)
	require.NoError(t, err)
	require.NotEmpty(t, chunks)

	assert.Equal(t, 42, chunks[0].End)
	assert.True(t, strings.HasSuffix(chunks[0].Text, "\n\n"))
}

func TestSplitFallsBackToNextSeparator(t *testing.T) {
	// 没有换行，只能在空格处切分
	text := strings.Repeat("word ", 50)
	cfg := SplitterConfig{ChunkSize: 32, ChunkOverlap: 4, Separators: DefaultSeparators}
	chunks, err := NewTextSplitter(cfg).Split(text)
	require.NoError(t, err)

	assert.Equal(t, 30, chunks[0].End)
	assert.True(t, strings.HasSuffix(chunks[0].Text, " "))
}

func TestSplitSeparatorTooEarlyUsesHardCut(t *testing.T) {
	// 唯一的空格位于重叠区之内，不能作为切分点
	text := "ab " + strings.Repeat("c", 100)
	cfg := SplitterConfig{ChunkSize: 20, ChunkOverlap: 5, Separators: []string{" "}}
	chunks, err := NewTextSplitter(cfg).Split(text)
	require.NoError(t, err)

	assert.Equal(t, 20, chunks[0].End)
}

func TestSplitMultibyteText(t *testing.T) {
	text := strings.Repeat("文档", 30)
	chunks, err := NewTextSplitter(SplitterConfig{ChunkSize: 25, ChunkOverlap: 5}).Split(text)
	require.NoError(t, err)

	for _, c := range chunks {
		assert.True(t, utf8.ValidString(c.Text))
		assert.LessOrEqual(t, utf8.RuneCountInString(c.Text), 25)
	}
	assert.Equal(t, [][2]int{{0, 25}, {20, 45}, {40, 60}}, spans(chunks))
}

func TestSplitEdgeCases(t *testing.T) {
	splitter := NewTextSplitter(DefaultSplitterConfig())

	t.Run("empty text", func(t *testing.T) {
		chunks, err := splitter.Split("")
		require.NoError(t, err)
		assert.Empty(t, chunks)
	})

	t.Run("whitespace only", func(t *testing.T) {
		chunks, err := splitter.Split("   \n\n  \n")
		require.NoError(t, err)
		assert.Empty(t, chunks)
	})

	t.Run("short text is one chunk", func(t *testing.T) {
		chunks, err := splitter.Split("# Title\n\nbody")
		require.NoError(t, err)
		require.Len(t, chunks, 1)
		assert.Equal(t, "# Title\n\nbody", chunks[0].Text)
	})

	t.Run("crlf normalized", func(t *testing.T) {
		chunks, err := splitter.Split("a\r\nb")
		require.NoError(t, err)
		require.Len(t, chunks, 1)
		assert.Equal(t, "a\nb", chunks[0].Text)
	})

	t.Run("max chunks", func(t *testing.T) {
		s := NewTextSplitter(SplitterConfig{ChunkSize: 10, ChunkOverlap: 0, MaxChunks: 2})
		chunks, err := s.Split(strings.Repeat("x", 100))
		require.NoError(t, err)
		assert.Len(t, chunks, 2)
	})
}

func TestSplitterConfigValidate(t *testing.T) {
	_, err := NewTextSplitter(SplitterConfig{ChunkSize: 0}).Split("text")
	assert.Error(t, err)

	_, err = NewTextSplitter(SplitterConfig{ChunkSize: 10, ChunkOverlap: 10}).Split("text")
	assert.Error(t, err)

	_, err = NewTextSplitter(SplitterConfig{ChunkSize: 10, ChunkOverlap: -1}).Split("text")
	assert.Error(t, err)
}
