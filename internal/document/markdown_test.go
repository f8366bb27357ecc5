package document

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExtractTitle(t *testing.T) {
	assert.Equal(t, "Getting Started", ExtractTitle("intro line\n\n## Getting *Started*\n\ntext\n\n# Later"))
	assert.Equal(t, "", ExtractTitle("no headings here"))
}

func TestRenderHTML(t *testing.T) {
	out := RenderHTML("# Title\n\nSome **bold** text.\n\n<script>alert(1)</script>")
	assert.Contains(t, out, "<h1")
	assert.Contains(t, out, "<strong>bold</strong>")
	assert.NotContains(t, out, "<script>")
}

func TestBuildPreview(t *testing.T) {
	t.Run("markdown", func(t *testing.T) {
		p := BuildPreview("docs/guide.md", "# User Guide\n\nHello")
		assert.Equal(t, "User Guide", p.Title)
		assert.Contains(t, p.HTML, "<p>Hello</p>")
		assert.Equal(t, "# User Guide\n\nHello", p.Text)
	})

	t.Run("plain text falls back to file name", func(t *testing.T) {
		p := BuildPreview("notes/todo.txt", "a < b")
		assert.Equal(t, "todo", p.Title)
		assert.Equal(t, "<pre>a &lt; b</pre>", p.HTML)
	})
}
