package ocr

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/ledongthuc/pdf"

	"github.com/gregorydickson/loan-sub000/internal/logging"
	"github.com/gregorydickson/loan-sub000/internal/model"
)

// ErrDocumentProcessing marks a document the extractor cannot parse at all.
// It is the only OCR-layer error that is permanent: callers fail the
// document instead of retrying.
var ErrDocumentProcessing = errors.New("document processing failed")

// NativeExtractor linearizes a document into per-page text without the GPU
// service. With OCR enabled it additionally rasterizes thin pages and runs
// them through a local tesseract binary; tesseract failures degrade to the
// text layer rather than erroring.
type NativeExtractor struct {
	renderer  *PageRenderer
	minChars  int
	tesseract string
	log       *logging.Logger
}

// NewNativeExtractor builds the extractor. minChars is the per-page density
// below which OCR-enabled extraction rasterizes the page.
func NewNativeExtractor(renderer *PageRenderer, minChars int, log *logging.Logger) *NativeExtractor {
	if renderer == nil {
		renderer = NewPageRenderer(DefaultRenderDPI)
	}
	if minChars < 1 {
		minChars = DefaultMinChars
	}
	if log == nil {
		log = logging.Nop()
	}
	tess := os.Getenv("TESSERACT_CMD")
	if tess == "" {
		tess = "tesseract"
	}
	return &NativeExtractor{renderer: renderer, minChars: minChars, tesseract: tess, log: log}
}

// Extract dispatches on the file's magic bytes, falling back to the
// filename extension. Unsupported or corrupt input returns
// ErrDocumentProcessing.
func (e *NativeExtractor) Extract(ctx context.Context, data []byte, filename string, withOCR bool) (*model.DocumentContent, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty file %s", ErrDocumentProcessing, filename)
	}

	switch {
	case isPDF(data):
		return e.extractPDF(ctx, data, withOCR)
	case isZipContainer(data):
		return e.extractDOCX(data)
	case isPNG(data) || isJPEG(data):
		return e.extractImage(ctx, data, withOCR), nil
	}

	switch strings.ToLower(filepath.Ext(filename)) {
	case ".pdf":
		return nil, fmt.Errorf("%w: %s claims pdf but lacks the %%PDF header", ErrDocumentProcessing, filename)
	case ".docx":
		return nil, fmt.Errorf("%w: %s claims docx but is not a zip container", ErrDocumentProcessing, filename)
	}
	return nil, fmt.Errorf("%w: unsupported file type for %s", ErrDocumentProcessing, filename)
}

func (e *NativeExtractor) extractPDF(ctx context.Context, data []byte, withOCR bool) (*model.DocumentContent, error) {
	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("%w: open pdf: %v", ErrDocumentProcessing, err)
	}

	total := reader.NumPage()
	if n, cerr := PageCount(data); cerr == nil && n > total {
		total = n
	}

	pages := make([]model.Page, 0, total)
	for i := 1; i <= total; i++ {
		pages = append(pages, model.Page{PageNumber: i, Text: pageText(reader, i)})
	}

	if withOCR {
		for i := range pages {
			if utf8.RuneCountInString(pages[i].Text) >= e.minChars {
				continue
			}
			text, err := e.ocrPDFPage(ctx, data, pages[i].PageNumber)
			if err != nil {
				e.log.Debug("local ocr skipped", "page", pages[i].PageNumber, "error", err)
				continue
			}
			if text != "" {
				pages[i].Text = text
			}
		}
	}

	return assembleContent(pages), nil
}

func (e *NativeExtractor) extractDOCX(data []byte) (*model.DocumentContent, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("%w: open docx container: %v", ErrDocumentProcessing, err)
	}

	var docXML *zip.File
	for _, f := range zr.File {
		if f.Name == "word/document.xml" {
			docXML = f
			break
		}
	}
	if docXML == nil {
		return nil, fmt.Errorf("%w: docx missing word/document.xml", ErrDocumentProcessing)
	}

	rc, err := docXML.Open()
	if err != nil {
		return nil, fmt.Errorf("%w: open word/document.xml: %v", ErrDocumentProcessing, err)
	}
	raw, err := io.ReadAll(rc)
	rc.Close()
	if err != nil {
		return nil, fmt.Errorf("%w: read word/document.xml: %v", ErrDocumentProcessing, err)
	}

	text := wordXMLText(raw)
	return assembleContent([]model.Page{{PageNumber: 1, Text: text}}), nil
}

// extractImage treats a standalone image as a one-page document. Without
// OCR the page is empty; local OCR failures are logged and swallowed.
func (e *NativeExtractor) extractImage(ctx context.Context, data []byte, withOCR bool) *model.DocumentContent {
	text := ""
	if withOCR {
		t, err := e.runTesseract(ctx, data)
		if err != nil {
			e.log.Debug("local ocr skipped for image", "error", err)
		} else {
			text = t
		}
	}
	return assembleContent([]model.Page{{PageNumber: 1, Text: text}})
}

func (e *NativeExtractor) ocrPDFPage(ctx context.Context, pdfData []byte, pageNum int) (string, error) {
	img, err := e.renderer.RenderPage(ctx, pdfData, pageNum)
	if err != nil {
		return "", err
	}
	return e.runTesseract(ctx, img)
}

func (e *NativeExtractor) runTesseract(ctx context.Context, image []byte) (string, error) {
	tmpDir, err := os.MkdirTemp("", "loan-ocr-*")
	if err != nil {
		return "", fmt.Errorf("create temp dir: %w", err)
	}
	defer os.RemoveAll(tmpDir)

	imgPath := filepath.Join(tmpDir, "page.png")
	if err := os.WriteFile(imgPath, image, 0o600); err != nil {
		return "", fmt.Errorf("write temp image: %w", err)
	}

	cmd := exec.CommandContext(ctx, e.tesseract, imgPath, "stdout", "-l", "eng")
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("tesseract: %w: %s", err, strings.TrimSpace(stderr.String()))
	}
	return strings.TrimSpace(stdout.String()), nil
}

// pageText extracts one page's text layer. Pages the library cannot decode
// come back empty.
func pageText(reader *pdf.Reader, pageNum int) (text string) {
	defer func() {
		if recover() != nil {
			text = ""
		}
	}()

	page := reader.Page(pageNum)
	if page.V.IsNull() {
		return ""
	}
	t, err := page.GetPlainText(nil)
	if err != nil {
		return ""
	}
	return t
}

// assembleContent joins ordered pages into a DocumentContent with the full
// linearized text.
func assembleContent(pages []model.Page) *model.DocumentContent {
	var b strings.Builder
	for i, p := range pages {
		if i > 0 {
			b.WriteString("\n")
		}
		b.WriteString(p.Text)
	}
	return &model.DocumentContent{Text: b.String(), Pages: pages}
}

// wordXMLText walks WordprocessingML joining <w:t> runs, with a newline at
// each paragraph end.
func wordXMLText(raw []byte) string {
	dec := xml.NewDecoder(bytes.NewReader(raw))
	var b strings.Builder
	for {
		tok, err := dec.Token()
		if err != nil {
			break
		}
		switch t := tok.(type) {
		case xml.StartElement:
			if t.Name.Local == "t" {
				var runText string
				if err := dec.DecodeElement(&runText, &t); err == nil {
					b.WriteString(runText)
				}
			}
		case xml.EndElement:
			if t.Name.Local == "p" {
				b.WriteString("\n")
			}
		}
	}
	return strings.TrimSpace(b.String())
}

func isPDF(b []byte) bool {
	return len(b) >= 5 && string(b[:5]) == "%PDF-"
}

func isZipContainer(b []byte) bool {
	return len(b) >= 4 && b[0] == 'P' && b[1] == 'K' && b[2] == 3 && b[3] == 4
}

func isPNG(b []byte) bool {
	return len(b) >= 8 && bytes.Equal(b[:8], []byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1a, '\n'})
}

func isJPEG(b []byte) bool {
	return len(b) >= 3 && b[0] == 0xFF && b[1] == 0xD8 && b[2] == 0xFF
}
