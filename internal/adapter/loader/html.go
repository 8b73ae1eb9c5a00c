package loader

import (
	"fmt"

	htmltomarkdown "github.com/JohannesKaufmann/html-to-markdown/v2"
)

// HTMLConverter keeps headings and lists as Markdown so the chunker can
// break on the paragraph structure.
type HTMLConverter struct{}

func NewHTMLConverter() *HTMLConverter { return &HTMLConverter{} }

func (HTMLConverter) Extensions() []string { return []string{".html", ".htm"} }

func (HTMLConverter) MimeTypes() []string { return []string{"text/html"} }

func (HTMLConverter) Convert(data []byte) (string, error) {
	md, err := htmltomarkdown.ConvertString(string(data))
	if err != nil {
		return "", fmt.Errorf("convert HTML: %w", err)
	}
	return md, nil
}
