// Package loader turns uploaded files into plain text.
package loader

import (
	"fmt"
	"path/filepath"
	"slices"
	"strings"

	"github.com/gabriel-vasile/mimetype"

	"docqa/internal/domain"
	"docqa/internal/port"
)

// Converter extracts text from one family of file formats.
type Converter interface {
	Extensions() []string
	MimeTypes() []string
	Convert(data []byte) (string, error)
}

var _ port.Loader = (*Registry)(nil)

// Registry picks a converter by file extension, or by sniffed content type
// when the name has no extension.
type Registry struct {
	converters []Converter
}

func New() *Registry {
	r := &Registry{}
	r.Register(NewTextConverter())
	r.Register(NewPDFConverter())
	r.Register(NewDocxConverter())
	r.Register(NewHTMLConverter())
	return r
}

func (r *Registry) Register(c Converter) {
	r.converters = append(r.converters, c)
}

// Supported lists the accepted extensions.
func (r *Registry) Supported() []string {
	var exts []string
	for _, c := range r.converters {
		exts = append(exts, c.Extensions()...)
	}
	slices.Sort(exts)
	return exts
}

func (r *Registry) Load(filename string, data []byte) (string, string, error) {
	if len(data) == 0 {
		return "", "", domain.Invalid("%s is empty", filename)
	}

	mtype := mimetype.Detect(data)
	ext := strings.ToLower(filepath.Ext(filename))

	var conv Converter
	for _, c := range r.converters {
		if ext != "" && slices.Contains(c.Extensions(), ext) {
			conv = c
			break
		}
		if ext == "" && slices.ContainsFunc(c.MimeTypes(), mtype.Is) {
			conv = c
			break
		}
	}
	if conv == nil {
		return "", "", domain.Invalid("unsupported file type %q (detected %s); supported: %s",
			ext, mtype.String(), strings.Join(r.Supported(), ", "))
	}

	text, err := conv.Convert(data)
	if err != nil {
		return "", "", fmt.Errorf("%w: %s: %v", domain.ErrValidation, filename, err)
	}
	text = normalize(text)
	if text == "" {
		return "", "", domain.Invalid("%s contains no extractable text", filename)
	}
	return text, conv.MimeTypes()[0], nil
}

func normalize(text string) string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "\n")
	return strings.TrimSpace(text)
}
