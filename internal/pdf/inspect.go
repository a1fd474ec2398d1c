// Package pdfutil inspects uploaded PDF assets with ledongthuc/pdf.
package pdfutil

import (
	"errors"
	"fmt"
	"io"
	"path"
	"strings"

	pdf "github.com/ledongthuc/pdf"
)

// ErrMalformed is returned for bytes that claim to be a PDF but do not parse.
var ErrMalformed = errors.New("malformed pdf")

// IsPDF reports whether an upload should be inspected as a PDF.
func IsPDF(contentType, fileName string) bool {
	ct := strings.ToLower(strings.TrimSpace(contentType))
	if i := strings.IndexByte(ct, ';'); i >= 0 {
		ct = strings.TrimSpace(ct[:i])
	}
	return ct == "application/pdf" || strings.EqualFold(path.Ext(fileName), ".pdf")
}

// Inspect returns the page count of the document in r.
func Inspect(r io.ReaderAt, size int64) (pages int, err error) {
	// The parser panics on some truncated inputs.
	defer func() {
		if rec := recover(); rec != nil {
			pages, err = 0, fmt.Errorf("%w: %v", ErrMalformed, rec)
		}
	}()
	doc, err := pdf.NewReader(r, size)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	n := doc.NumPage()
	if n <= 0 {
		return 0, fmt.Errorf("%w: no pages", ErrMalformed)
	}
	return n, nil
}
