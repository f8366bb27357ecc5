package document

import (
	"bytes"
	"fmt"
	"html/template"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/gomarkdown/markdown"
	"github.com/gomarkdown/markdown/ast"
	"github.com/gomarkdown/markdown/html"
	"github.com/gomarkdown/markdown/parser"
)

// MarkdownParser Markdown文档解析器
// 分块直接使用Markdown原文，保留段落与换行结构
type MarkdownParser struct{}

// NewMarkdownParser 创建新的Markdown解析器
func NewMarkdownParser() Parser {
	return &MarkdownParser{}
}

// Parse 解析Markdown文件并提取文本内容
func (p *MarkdownParser) Parse(filePath string) (string, error) {
	file, err := os.Open(filePath)
	if err != nil {
		return "", fmt.Errorf("failed to open markdown file: %v", err)
	}
	defer file.Close()

	return p.ParseReader(file, filePath)
}

// ParseReader 从Reader读取Markdown原文
func (p *MarkdownParser) ParseReader(r io.Reader, filename string) (string, error) {
	return readText(r, filename)
}

func newMarkdownParser() *parser.Parser {
	return parser.NewWithExtensions(parser.CommonExtensions | parser.AutoHeadingIDs)
}

// RenderHTML 将Markdown渲染为HTML，用于仪表盘预览
func RenderHTML(content string) string {
	doc := newMarkdownParser().Parse([]byte(content))
	renderer := html.NewRenderer(html.RendererOptions{
		Flags: html.CommonFlags | html.HrefTargetBlank | html.SkipHTML,
	})
	return string(markdown.Render(doc, renderer))
}

// ExtractTitle 返回第一个标题的文本，没有标题时返回空串
func ExtractTitle(content string) string {
	doc := newMarkdownParser().Parse([]byte(content))

	var title string
	ast.WalkFunc(doc, func(node ast.Node, entering bool) ast.WalkStatus {
		heading, ok := node.(*ast.Heading)
		if !ok || !entering {
			return ast.GoToNext
		}
		var buf bytes.Buffer
		ast.WalkFunc(heading, func(n ast.Node, entering bool) ast.WalkStatus {
			if leaf := n.AsLeaf(); leaf != nil && entering {
				buf.Write(leaf.Literal)
			}
			return ast.GoToNext
		})
		title = strings.TrimSpace(buf.String())
		return ast.Terminate
	})
	return title
}

// Preview 文档预览
type Preview struct {
	Title string `json:"title"` // 标题
	Text  string `json:"text"`  // 原文
	HTML  string `json:"html"`  // 渲染后的HTML
}

// BuildPreview 根据文件类型生成预览
func BuildPreview(filename, content string) Preview {
	preview := Preview{Text: content}

	if DetectContentType(filename) == Markdown {
		preview.Title = ExtractTitle(content)
		preview.HTML = RenderHTML(content)
	} else {
		preview.HTML = "<pre>" + template.HTMLEscapeString(content) + "</pre>"
	}

	if preview.Title == "" {
		preview.Title = strings.TrimSuffix(filepath.Base(filename), filepath.Ext(filename))
	}
	return preview
}
