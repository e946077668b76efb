package ocr

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
)

// DefaultRenderDPI is the rasterization resolution for OCR input.
const DefaultRenderDPI = 150

// PageRenderer rasterizes single PDF pages to PNG using pdftoppm
// (poppler-utils).
type PageRenderer struct {
	dpi int
}

// NewPageRenderer builds a renderer at the given DPI.
func NewPageRenderer(dpi int) *PageRenderer {
	if dpi <= 0 {
		dpi = DefaultRenderDPI
	}
	return &PageRenderer{dpi: dpi}
}

// RenderPage renders one page (1-based) of the PDF to PNG bytes.
func (r *PageRenderer) RenderPage(ctx context.Context, pdfData []byte, pageNum int) ([]byte, error) {
	tmpDir, err := os.MkdirTemp("", "loan-render-*")
	if err != nil {
		return nil, fmt.Errorf("create temp dir: %w", err)
	}
	defer os.RemoveAll(tmpDir)

	pdfPath := filepath.Join(tmpDir, "doc.pdf")
	if err := os.WriteFile(pdfPath, pdfData, 0o600); err != nil {
		return nil, fmt.Errorf("write temp pdf: %w", err)
	}

	// -singlefile writes <prefix>.png without a page-number suffix.
	outputPrefix := filepath.Join(tmpDir, "page")
	pageStr := strconv.Itoa(pageNum)
	cmd := exec.CommandContext(ctx, "pdftoppm",
		"-png",
		"-f", pageStr,
		"-l", pageStr,
		"-r", strconv.Itoa(r.dpi),
		"-singlefile",
		pdfPath,
		outputPrefix,
	)

	output, err := cmd.CombinedOutput()
	if err != nil {
		return nil, fmt.Errorf("pdftoppm page %d: %w (output: %s)", pageNum, err, string(output))
	}

	data, err := os.ReadFile(outputPrefix + ".png")
	if err != nil {
		return nil, fmt.Errorf("pdftoppm produced no output for page %d: %w", pageNum, err)
	}
	return data, nil
}
