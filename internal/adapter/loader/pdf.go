package loader

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"github.com/gabriel-vasile/mimetype"
	"github.com/ledongthuc/pdf"
)

type PDFConverter struct{}

func NewPDFConverter() *PDFConverter { return &PDFConverter{} }

func (PDFConverter) Extensions() []string { return []string{".pdf"} }

func (PDFConverter) MimeTypes() []string { return []string{"application/pdf"} }

func (PDFConverter) Convert(data []byte) (text string, err error) {
	if !mimetype.Detect(data).Is("application/pdf") {
		return "", errors.New("content is not a PDF")
	}
	// the pdf reader panics on some malformed cross-reference tables
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("malformed PDF: %v", r)
		}
	}()

	r, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("open PDF: %w", err)
	}
	plain, err := r.GetPlainText()
	if err != nil {
		return "", fmt.Errorf("extract PDF text: %w", err)
	}
	out, err := io.ReadAll(plain)
	if err != nil {
		return "", fmt.Errorf("read PDF text: %w", err)
	}
	return string(out), nil
}
