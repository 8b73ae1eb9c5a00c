package loader

import (
	"archive/zip"
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"docqa/internal/domain"
)

func buildDocx(t *testing.T, paragraphs ...string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)

	ct, err := zw.Create("[Content_Types].xml")
	require.NoError(t, err)
	_, err = ct.Write([]byte(`<?xml version="1.0" encoding="UTF-8"?><Types xmlns="http://schemas.openxmlformats.org/package/2006/content-types"></Types>`))
	require.NoError(t, err)

	var body bytes.Buffer
	body.WriteString(`<?xml version="1.0" encoding="UTF-8"?>`)
	body.WriteString(`<w:document xmlns:w="http://schemas.openxmlformats.org/wordprocessingml/2006/main"><w:body>`)
	for _, p := range paragraphs {
		body.WriteString(`<w:p><w:r><w:t>` + p + `</w:t></w:r></w:p>`)
	}
	body.WriteString(`</w:body></w:document>`)

	doc, err := zw.Create("word/document.xml")
	require.NoError(t, err)
	_, err = doc.Write(body.Bytes())
	require.NoError(t, err)
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

func TestRegistry_PlainText(t *testing.T) {
	r := New()

	text, ct, err := r.Load("notes.txt", []byte("\xEF\xBB\xBFLine one.\r\nLine two.\n\n"))
	require.NoError(t, err)
	assert.Equal(t, "Line one.\nLine two.", text)
	assert.Equal(t, "text/plain", ct)
}

func TestRegistry_Markdown(t *testing.T) {
	text, _, err := New().Load("README.MD", []byte("# Title\n\nBody text."))
	require.NoError(t, err)
	assert.Equal(t, "# Title\n\nBody text.", text)
}

func TestRegistry_Docx(t *testing.T) {
	data := buildDocx(t, "The warranty lasts two years.", "Returns are accepted within 30 days.")

	text, ct, err := New().Load("policy.docx", data)
	require.NoError(t, err)
	assert.Equal(t, "The warranty lasts two years.\nReturns are accepted within 30 days.", text)
	assert.Contains(t, ct, "wordprocessingml")
}

func TestRegistry_HTML(t *testing.T) {
	html := `<html><body><h1>Shipping</h1><p>Orders ship in <b>two</b> days.</p></body></html>`

	text, ct, err := New().Load("page.html", []byte(html))
	require.NoError(t, err)
	assert.Contains(t, text, "# Shipping")
	assert.Contains(t, text, "Orders ship in **two** days.")
	assert.Equal(t, "text/html", ct)
}

func TestRegistry_DetectsTypeWithoutExtension(t *testing.T) {
	text, ct, err := New().Load("upload", []byte("just some words"))
	require.NoError(t, err)
	assert.Equal(t, "just some words", text)
	assert.Equal(t, "text/plain", ct)
}

func TestRegistry_Rejects(t *testing.T) {
	tests := []struct {
		name     string
		filename string
		data     []byte
	}{
		{"unsupported extension", "image.png", []byte("\x89PNG\r\n\x1a\n0000")},
		{"empty file", "empty.txt", nil},
		{"whitespace only", "blank.txt", []byte(" \n\t\n")},
		{"invalid utf8", "bad.txt", []byte{0xff, 0xfe, 0xfd}},
		{"fake pdf", "report.pdf", []byte("not a pdf at all")},
		{"broken docx", "broken.docx", []byte("PK not really a zip")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := New().Load(tt.filename, tt.data)
			require.Error(t, err)
			assert.ErrorIs(t, err, domain.ErrValidation)
		})
	}
}

func TestRegistry_UnsupportedListsExtensions(t *testing.T) {
	_, _, err := New().Load("archive.tar", []byte("data"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), ".pdf")
	assert.Contains(t, err.Error(), ".docx")
	assert.Contains(t, err.Error(), ".txt")
}

func TestRegistry_Supported(t *testing.T) {
	assert.Equal(t, []string{".docx", ".htm", ".html", ".markdown", ".md", ".pdf", ".txt"}, New().Supported())
}
