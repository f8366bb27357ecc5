package document

import (
	"fmt"
	"io"
	"os"
	"unicode/utf8"
)

// PlainTextParser 纯文本解析器
type PlainTextParser struct{}

// NewPlainTextParser 创建一个新的纯文本解析器
func NewPlainTextParser() Parser {
	return &PlainTextParser{}
}

// Parse 解析纯文本文件
func (p *PlainTextParser) Parse(filePath string) (string, error) {
	file, err := os.Open(filePath)
	if err != nil {
		return "", fmt.Errorf("failed to open text file: %v", err)
	}
	defer file.Close()

	return p.ParseReader(file, filePath)
}

// ParseReader 读取全部文本，非UTF-8内容视为错误
func (p *PlainTextParser) ParseReader(r io.Reader, filename string) (string, error) {
	return readText(r, filename)
}

func readText(r io.Reader, filename string) (string, error) {
	content, err := io.ReadAll(r)
	if err != nil {
		return "", fmt.Errorf("failed to read %s: %v", filename, err)
	}
	if !utf8.Valid(content) {
		return "", fmt.Errorf("%s is not valid UTF-8 text", filename)
	}
	return string(content), nil
}
