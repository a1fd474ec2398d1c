package pdfutil

import (
	"bytes"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

// buildPDF writes a minimal document with n empty pages and a correct xref
// table.
func buildPDF(n int) []byte {
	var objs []string
	kids := make([]string, n)
	for i := 0; i < n; i++ {
		kids[i] = fmt.Sprintf("%d 0 R", i+3)
	}
	objs = append(objs,
		"<< /Type /Catalog /Pages 2 0 R >>",
		fmt.Sprintf("<< /Type /Pages /Kids [%s] /Count %d >>", strings.Join(kids, " "), n),
	)
	for i := 0; i < n; i++ {
		objs = append(objs, "<< /Type /Page /Parent 2 0 R /MediaBox [0 0 612 792] >>")
	}

	var b bytes.Buffer
	b.WriteString("%PDF-1.4\n")
	offsets := make([]int, len(objs))
	for i, o := range objs {
		offsets[i] = b.Len()
		fmt.Fprintf(&b, "%d 0 obj\n%s\nendobj\n", i+1, o)
	}
	xref := b.Len()
	fmt.Fprintf(&b, "xref\n0 %d\n", len(objs)+1)
	b.WriteString("0000000000 65535 f \n")
	for _, off := range offsets {
		fmt.Fprintf(&b, "%010d 00000 n \n", off)
	}
	fmt.Fprintf(&b, "trailer\n<< /Size %d /Root 1 0 R >>\nstartxref\n%d\n%%%%EOF\n", len(objs)+1, xref)
	return b.Bytes()
}

func TestInspect(t *testing.T) {
	data := buildPDF(3)
	pages, err := Inspect(bytes.NewReader(data), int64(len(data)))
	require.NoError(t, err)
	require.Equal(t, 3, pages)
}

func TestInspect_Malformed(t *testing.T) {
	data := []byte("definitely not a pdf")
	_, err := Inspect(bytes.NewReader(data), int64(len(data)))
	require.ErrorIs(t, err, ErrMalformed)

	trunc := buildPDF(2)[:40]
	_, err = Inspect(bytes.NewReader(trunc), int64(len(trunc)))
	require.ErrorIs(t, err, ErrMalformed)
}

func TestIsPDF(t *testing.T) {
	require.True(t, IsPDF("application/pdf", "x.bin"))
	require.True(t, IsPDF("Application/PDF; charset=binary", ""))
	require.True(t, IsPDF("", "Guide.PDF"))
	require.False(t, IsPDF("application/zip", "guide.zip"))
}
