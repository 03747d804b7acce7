// Package textract turns rendered documents into plain-text siblings.
package textract

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/ledongthuc/pdf"
)

// ErrNoText is returned when a document has no extractable text layer.
var ErrNoText = errors.New("no extractable text")

// Extractor writes the text of a document to a file.
type Extractor interface {
	Extract(src, dst string) error
}

// PDF extracts text from PDF files page by page.
type PDF struct{}

// SiblingPath returns the .txt path that sits next to src.
func SiblingPath(src string) string {
	return strings.TrimSuffix(src, filepath.Ext(src)) + ".txt"
}

// Extract reads src and writes its plain text to dst.
func (PDF) Extract(src, dst string) error {
	text, err := ReadPDF(src)
	if err != nil {
		return err
	}
	if err := os.WriteFile(dst, []byte(text), 0o600); err != nil {
		return fmt.Errorf("write text %s: %w", dst, err)
	}
	return nil
}

// ReadPDF returns the concatenated plain text of every page in path. The
// parser panics on some malformed inputs; those surface as errors.
func ReadPDF(path string) (text string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("parse pdf %s: %v", path, r)
		}
	}()

	f, r, err := pdf.Open(path)
	if err != nil {
		return "", fmt.Errorf("open pdf %s: %w", path, err)
	}
	defer f.Close()

	var b strings.Builder
	for i := 1; i <= r.NumPage(); i++ {
		p := r.Page(i)
		if p.V.IsNull() {
			continue
		}
		pageText, err := p.GetPlainText(nil)
		if err != nil {
			return "", fmt.Errorf("extract page %d of %s: %w", i, path, err)
		}
		b.WriteString(pageText)
		b.WriteString("\n")
	}
	if strings.TrimSpace(b.String()) == "" {
		return "", fmt.Errorf("%s: %w", path, ErrNoText)
	}
	return b.String(), nil
}
