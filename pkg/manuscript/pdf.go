// Package manuscript inspects author uploads: page counts of PDF manuscripts
// and plain-text previews of HTML excerpts.
package manuscript

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/ledongthuc/pdf"
)

// ErrNotPDF is returned for data that does not start with a PDF header.
var ErrNotPDF = errors.New("not a pdf document")

// IsPDF sniffs the %PDF- magic.
func IsPDF(data []byte) bool {
	return bytes.HasPrefix(bytes.TrimLeft(data, "\x00\t\r\n "), []byte("%PDF-"))
}

// PageCount returns the number of pages of a PDF held in memory.
func PageCount(data []byte) (n int, err error) {
	if !IsPDF(data) {
		return 0, ErrNotPDF
	}
	// The parser panics on some malformed inputs.
	defer func() {
		if r := recover(); r != nil {
			n, err = 0, fmt.Errorf("parse pdf: %v", r)
		}
	}()
	r, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return 0, fmt.Errorf("parse pdf: %w", err)
	}
	return r.NumPage(), nil
}
