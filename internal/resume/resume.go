// Package resume turns an uploaded resume document into prompt-ready text.
package resume

import (
	"bytes"
	"fmt"
	"io"
	"strings"
	"unicode"

	"github.com/ledongthuc/pdf"

	"github.com/zhouzirui/z-interview/backend/internal/apperr"
)

// DefaultMaxChars bounds the resume text handed to the summarizer.
const DefaultMaxChars = 12000

// PDFContentType is the only accepted upload type.
const PDFContentType = "application/pdf"

var pdfMagic = []byte("%PDF-")

// IsPDF sniffs the document header.
func IsPDF(data []byte) bool {
	return bytes.HasPrefix(bytes.TrimLeft(data, "\x00\t\r\n "), pdfMagic)
}

// ExtractPDF returns the plain text of a PDF document.
func ExtractPDF(data []byte) (text string, err error) {
	if !IsPDF(data) {
		return "", apperr.InvalidInput("resume.ExtractPDF", "only PDF resumes are accepted")
	}

	// the pdf reader panics on some malformed cross-reference tables
	defer func() {
		if r := recover(); r != nil {
			text, err = "", apperr.InvalidInput("resume.ExtractPDF", "resume could not be parsed")
		}
	}()

	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", apperr.InvalidInput("resume.ExtractPDF", "resume could not be parsed")
	}

	plain, err := reader.GetPlainText()
	if err != nil {
		return "", apperr.InvalidInput("resume.ExtractPDF", "resume text is not extractable")
	}

	raw, err := io.ReadAll(plain)
	if err != nil {
		return "", fmt.Errorf("read resume text: %w", err)
	}
	return string(raw), nil
}

// Normalize collapses whitespace runs and truncates to maxChars runes.
func Normalize(text string, maxChars int) string {
	if maxChars <= 0 {
		maxChars = DefaultMaxChars
	}

	var b strings.Builder
	b.Grow(min(len(text), maxChars*2))

	count := 0
	pendingSpace := false
	for _, r := range text {
		if unicode.IsSpace(r) {
			pendingSpace = count > 0
			continue
		}
		if pendingSpace {
			if count == maxChars {
				break
			}
			b.WriteByte(' ')
			count++
			pendingSpace = false
		}
		if count == maxChars {
			break
		}
		b.WriteRune(r)
		count++
	}
	return strings.TrimSpace(b.String())
}
