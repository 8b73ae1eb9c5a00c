package loader

import (
	"errors"
	"unicode/utf8"
)

type TextConverter struct{}

func NewTextConverter() *TextConverter { return &TextConverter{} }

func (TextConverter) Extensions() []string { return []string{".txt", ".md", ".markdown"} }

func (TextConverter) MimeTypes() []string { return []string{"text/plain", "text/markdown"} }

func (TextConverter) Convert(data []byte) (string, error) {
	if !utf8.Valid(data) {
		return "", errors.New("text is not valid UTF-8")
	}
	// strip a UTF-8 byte order mark
	if len(data) >= 3 && data[0] == 0xEF && data[1] == 0xBB && data[2] == 0xBF {
		data = data[3:]
	}
	return string(data), nil
}
