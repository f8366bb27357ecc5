package document

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/jung-kurt/gofpdf"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func createTempFile(t *testing.T, content, ext string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "doc-test"+ext)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func createTempPDF(t *testing.T, text string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "doc-test.pdf")

	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.AddPage()
	pdf.SetFont("Arial", "", 12)
	pdf.MultiCell(0, 10, text, "", "", false)
	require.NoError(t, pdf.OutputFileAndClose(path))
	return path
}

func TestPlainTextParser(t *testing.T) {
	content := "Hello, this is a plain text file.\nSecond line."
	file := createTempFile(t, content, ".txt")

	text, err := NewPlainTextParser().Parse(file)
	require.NoError(t, err)
	assert.Equal(t, content, text)

	text, err = NewPlainTextParser().ParseReader(strings.NewReader(content), "a.txt")
	require.NoError(t, err)
	assert.Equal(t, content, text)
}

func TestPlainTextParserRejectsBinary(t *testing.T) {
	_, err := NewPlainTextParser().ParseReader(strings.NewReader("\xff\xfe\x00bin"), "blob.txt")
	assert.Error(t, err)
}

func TestMarkdownParserKeepsStructure(t *testing.T) {
	content := "# Title\n\nThis is a **markdown** file.\n\n- Item 1\n- Item 2"
	file := createTempFile(t, content, ".md")

	text, err := NewMarkdownParser().Parse(file)
	require.NoError(t, err)
	// 分块依赖段落与换行，解析结果必须保持原文
	assert.Equal(t, content, text)
}

func TestPDFParser(t *testing.T) {
	file := createTempPDF(t, "This is a PDF test.\nSecond line.")

	text, err := NewPDFParser().Parse(file)
	require.NoError(t, err)
	assert.Contains(t, text, "PDF test")

	f, err := os.Open(file)
	require.NoError(t, err)
	defer f.Close()
	text, err = NewPDFParser().ParseReader(f, "upload.pdf")
	require.NoError(t, err)
	assert.Contains(t, text, "PDF test")
}

func TestParserFactory(t *testing.T) {
	tests := []struct {
		file     string
		expected string
	}{
		{createTempFile(t, "plain text", ".txt"), "plain text"},
		{createTempFile(t, "# Markdown", ".md"), "Markdown"},
		{createTempPDF(t, "PDF content"), "PDF content"},
	}

	for _, tt := range tests {
		parser, err := ParserFactory(tt.file)
		require.NoError(t, err, tt.file)
		text, err := parser.Parse(tt.file)
		require.NoError(t, err, tt.file)
		assert.Contains(t, text, tt.expected)
	}

	_, err := ParserFactory("image.png")
	assert.ErrorIs(t, err, ErrUnsupportedType)
}

func TestParseBytes(t *testing.T) {
	text, err := ParseBytes([]byte("# Doc\n\nbody"), "notes/readme.md")
	require.NoError(t, err)
	assert.Equal(t, "# Doc\n\nbody", text)

	_, err = ParseBytes([]byte("x"), "archive.zip")
	assert.ErrorIs(t, err, ErrUnsupportedType)
}

func TestDetectContentType(t *testing.T) {
	assert.Equal(t, Markdown, DetectContentType("a/B.MD"))
	assert.Equal(t, Markdown, DetectContentType("x.markdown"))
	assert.Equal(t, PlainText, DetectContentType("x.txt"))
	assert.Equal(t, PDF, DetectContentType("x.pdf"))
	assert.Equal(t, Unknown, DetectContentType("x.docx"))
	assert.True(t, IsSupported("x.md"))
	assert.False(t, IsSupported("x"))
}
