package ocr

import (
	"archive/zip"
	"bytes"
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/gregorydickson/loan-sub000/internal/logging"
)

// buildEmptyPagePDF writes a classic-xref PDF whose pages carry no content
// stream, i.e. a fully scanned document as far as the text layer goes.
func buildEmptyPagePDF(pages int) []byte {
	var buf bytes.Buffer
	var offsets []int
	writeObj := func(s string) {
		offsets = append(offsets, buf.Len())
		buf.WriteString(s)
	}

	buf.WriteString("%PDF-1.4\n")
	kids := ""
	for i := 0; i < pages; i++ {
		if i > 0 {
			kids += " "
		}
		kids += fmt.Sprintf("%d 0 R", 3+i)
	}
	writeObj("1 0 obj\n<< /Type /Catalog /Pages 2 0 R >>\nendobj\n")
	writeObj(fmt.Sprintf("2 0 obj\n<< /Type /Pages /Kids [%s] /Count %d >>\nendobj\n", kids, pages))
	for i := 0; i < pages; i++ {
		writeObj(fmt.Sprintf("%d 0 obj\n<< /Type /Page /Parent 2 0 R /MediaBox [0 0 612 792] /Resources << >> >>\nendobj\n", 3+i))
	}

	xrefPos := buf.Len()
	fmt.Fprintf(&buf, "xref\n0 %d\n", len(offsets)+1)
	buf.WriteString("0000000000 65535 f \n")
	for _, off := range offsets {
		fmt.Fprintf(&buf, "%010d 00000 n \n", off)
	}
	fmt.Fprintf(&buf, "trailer\n<< /Size %d /Root 1 0 R >>\nstartxref\n%d\n%%%%EOF\n", len(offsets)+1, xrefPos)
	return buf.Bytes()
}

// buildDOCX zips a minimal WordprocessingML document.
func buildDOCX(paragraphs ...string) []byte {
	var body bytes.Buffer
	body.WriteString(`<?xml version="1.0"?><w:document xmlns:w="http://schemas.openxmlformats.org/wordprocessingml/2006/main"><w:body>`)
	for _, p := range paragraphs {
		body.WriteString("<w:p><w:r><w:t>")
		body.WriteString(p)
		body.WriteString("</w:t></w:r></w:p>")
	}
	body.WriteString(`</w:body></w:document>`)

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	w, _ := zw.Create("word/document.xml")
	w.Write(body.Bytes())
	zw.Close()
	return buf.Bytes()
}

func TestDetectScannedPDF(t *testing.T) {
	d := NewDetector(DefaultMinChars, DefaultScannedRatio)

	result := d.Detect(buildEmptyPagePDF(3))
	if !result.NeedsOCR {
		t.Error("content-free pages should need OCR")
	}
	if result.TotalPages != 3 {
		t.Errorf("total pages = %d, want 3", result.TotalPages)
	}
	if len(result.ScannedPages) != 3 {
		t.Fatalf("scanned pages = %v, want all three", result.ScannedPages)
	}
	for i, p := range result.ScannedPages {
		if p != i {
			t.Errorf("scanned page %d = %d, want ascending 0-based indices", i, p)
		}
	}
	if result.ScannedRatio != 1.0 {
		t.Errorf("ratio = %f, want 1.0", result.ScannedRatio)
	}
}

func TestDetectZeroPages(t *testing.T) {
	d := NewDetector(DefaultMinChars, DefaultScannedRatio)

	result := d.Detect(buildEmptyPagePDF(0))
	if result.NeedsOCR {
		t.Error("zero-page document must not need OCR")
	}
	if len(result.ScannedPages) != 0 {
		t.Errorf("scanned pages = %v, want empty", result.ScannedPages)
	}
	if result.ScannedRatio != 0 {
		t.Errorf("ratio = %f, want 0", result.ScannedRatio)
	}
}

func TestDetectInvalidData(t *testing.T) {
	d := NewDetector(DefaultMinChars, DefaultScannedRatio)

	for _, data := range [][]byte{nil, {}, []byte("not a pdf"), []byte("%PDF-1.4 truncated")} {
		result := d.Detect(data)
		if result == nil {
			t.Fatal("expected non-nil result")
		}
		if !result.NeedsOCR {
			t.Errorf("unparseable input %q should be conservatively scanned", data)
		}
		if result.ScannedRatio != 1.0 {
			t.Errorf("unparseable input ratio = %f, want 1.0", result.ScannedRatio)
		}
	}
}

func TestNewDetectorClampsConfig(t *testing.T) {
	d := NewDetector(0, 1.5)
	if d.minChars != DefaultMinChars {
		t.Errorf("minChars = %d, want default", d.minChars)
	}
	if d.scannedRatio != DefaultScannedRatio {
		t.Errorf("scannedRatio = %f, want default", d.scannedRatio)
	}
}

func TestExtractDOCX(t *testing.T) {
	e := NewNativeExtractor(nil, 0, logging.Nop())

	data := buildDOCX("Borrower: Jane Smith", "Gross annual income $85,000")
	content, err := e.Extract(context.Background(), data, "application.docx", false)
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	if len(content.Pages) != 1 {
		t.Fatalf("pages = %d, want 1", len(content.Pages))
	}
	want := "Borrower: Jane Smith\nGross annual income $85,000"
	if content.Text != want {
		t.Errorf("text = %q, want %q", content.Text, want)
	}
	if content.Pages[0].PageNumber != 1 {
		t.Errorf("page number = %d, want 1", content.Pages[0].PageNumber)
	}
}

func TestExtractScannedPDFKeepsPageSkeleton(t *testing.T) {
	e := NewNativeExtractor(nil, 0, logging.Nop())

	content, err := e.Extract(context.Background(), buildEmptyPagePDF(2), "scan.pdf", false)
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	if len(content.Pages) != 2 {
		t.Fatalf("pages = %d, want 2", len(content.Pages))
	}
	for i, p := range content.Pages {
		if p.PageNumber != i+1 {
			t.Errorf("page %d numbered %d", i, p.PageNumber)
		}
	}
}

func TestExtractRejectsUnusableInput(t *testing.T) {
	e := NewNativeExtractor(nil, 0, logging.Nop())
	ctx := context.Background()

	cases := []struct {
		name     string
		data     []byte
		filename string
	}{
		{"empty", nil, "empty.pdf"},
		{"plain text", []byte("just words"), "notes.txt"},
		{"claims pdf", []byte("no header here"), "fake.pdf"},
		{"claims docx", []byte("no zip here"), "fake.docx"},
		{"corrupt pdf", []byte("%PDF-1.4\ngarbage"), "broken.pdf"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := e.Extract(ctx, tc.data, tc.filename, false)
			if !errors.Is(err, ErrDocumentProcessing) {
				t.Errorf("err = %v, want ErrDocumentProcessing", err)
			}
		})
	}
}

func TestExtractImageWithoutOCR(t *testing.T) {
	e := NewNativeExtractor(nil, 0, logging.Nop())

	png := append([]byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1a, '\n'}, []byte("pixels")...)
	content, err := e.Extract(context.Background(), png, "paystub.png", false)
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	if len(content.Pages) != 1 || content.Pages[0].Text != "" {
		t.Errorf("image without OCR should yield one empty page, got %+v", content.Pages)
	}
}

func TestWordXMLText(t *testing.T) {
	raw := []byte(`<w:document xmlns:w="x"><w:body>` +
		`<w:p><w:r><w:t>First</w:t></w:r><w:r><w:t> run</w:t></w:r></w:p>` +
		`<w:p><w:r><w:t>Second</w:t></w:r></w:p>` +
		`</w:body></w:document>`)
	got := wordXMLText(raw)
	want := "First run\nSecond"
	if got != want {
		t.Errorf("wordXMLText = %q, want %q", got, want)
	}
}

func TestMagicByteSniffing(t *testing.T) {
	if !isPDF([]byte("%PDF-1.7\n")) || isPDF([]byte("PDF-")) {
		t.Error("pdf sniff")
	}
	if !isZipContainer([]byte{'P', 'K', 3, 4, 0}) || isZipContainer([]byte("PK..")) {
		t.Error("zip sniff")
	}
	if !isJPEG([]byte{0xFF, 0xD8, 0xFF, 0xE0}) || isJPEG([]byte{0xFF, 0xD8}) {
		t.Error("jpeg sniff")
	}
}
