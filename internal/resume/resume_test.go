package resume_test

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/zhouzirui/z-interview/backend/internal/apperr"
	"github.com/zhouzirui/z-interview/backend/internal/resume"
)

func TestNormalizeCollapsesWhitespace(t *testing.T) {
	got := resume.Normalize("  Jane Doe\n\n\tBackend   Engineer \r\n Go, Kafka  ", 100)
	require.Equal(t, "Jane Doe Backend Engineer Go, Kafka", got)
}

func TestNormalizeTruncatesRunes(t *testing.T) {
	got := resume.Normalize("héllo wörld", 7)
	require.Equal(t, "héllo w", got)

	got = resume.Normalize("abc def", 4)
	require.Equal(t, "abc", got)

	long := strings.Repeat("x", resume.DefaultMaxChars+50)
	require.Len(t, resume.Normalize(long, 0), resume.DefaultMaxChars)
}

func TestNormalizeEmpty(t *testing.T) {
	require.Equal(t, "", resume.Normalize(" \n\t ", 10))
}

func TestExtractPDFRejectsOtherDocuments(t *testing.T) {
	_, err := resume.ExtractPDF([]byte("PK\x03\x04 docx"))
	require.ErrorIs(t, err, apperr.ErrInvalidInput)

	require.True(t, resume.IsPDF([]byte("%PDF-1.7\n")))
	require.False(t, resume.IsPDF([]byte("plain text")))
}

func TestExtractPDFMalformed(t *testing.T) {
	_, err := resume.ExtractPDF([]byte("%PDF-1.4\nthis is not really a pdf"))
	require.ErrorIs(t, err, apperr.ErrInvalidInput)
}
