package ocr

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/gregorydickson/loan-sub000/internal/logging"
	"github.com/gregorydickson/loan-sub000/internal/model"
)

// DefaultMaxWorkers bounds concurrent per-page GPU requests for one
// document.
const DefaultMaxWorkers = 4

// Result is the outcome of routing one document through OCR. PagesOCRd
// lists the 0-based page indices handed to the GPU branch; it is populated
// even when the branch failed and the fallback produced the text, so the
// attempt set stays auditable.
type Result struct {
	Content   *model.DocumentContent
	Method    model.OCRMethod
	PagesOCRd []int
}

// Router decides per document whether to use the GPU OCR service, native
// extraction, or the local OCR fallback.
type Router struct {
	detector   *Detector
	native     *NativeExtractor
	renderer   *PageRenderer
	gpu        *GPUClient
	breaker    *Breaker
	maxWorkers int
	log        *logging.Logger
}

// RouterConfig assembles a Router. GPU may be nil when no service is
// configured; every OCR-needing document then takes the fallback path.
type RouterConfig struct {
	Detector   *Detector
	Native     *NativeExtractor
	Renderer   *PageRenderer
	GPU        *GPUClient
	Breaker    *Breaker
	MaxWorkers int
	Log        *logging.Logger
}

// NewRouter builds the router, filling defaults for absent collaborators.
func NewRouter(cfg RouterConfig) *Router {
	if cfg.Log == nil {
		cfg.Log = logging.Nop()
	}
	if cfg.Detector == nil {
		cfg.Detector = NewDetector(DefaultMinChars, DefaultScannedRatio)
	}
	if cfg.Renderer == nil {
		cfg.Renderer = NewPageRenderer(DefaultRenderDPI)
	}
	if cfg.Native == nil {
		cfg.Native = NewNativeExtractor(cfg.Renderer, DefaultMinChars, cfg.Log)
	}
	if cfg.Breaker == nil {
		cfg.Breaker = NewBreaker(BreakerConfig{}, cfg.Log)
	}
	if cfg.MaxWorkers <= 0 {
		cfg.MaxWorkers = DefaultMaxWorkers
	}
	return &Router{
		detector:   cfg.Detector,
		native:     cfg.Native,
		renderer:   cfg.Renderer,
		gpu:        cfg.GPU,
		breaker:    cfg.Breaker,
		maxWorkers: cfg.MaxWorkers,
		log:        cfg.Log,
	}
}

// Process linearizes one document. GPU failures never surface: the router
// falls back to local extraction and only an unrecoverable native failure
// propagates.
func (r *Router) Process(ctx context.Context, data []byte, filename string, mode model.OCRMode) (*Result, error) {
	if mode == model.OCRModeSkip {
		return r.nativeResult(ctx, data, filename)
	}

	var scanned []int
	switch {
	case isPDF(data):
		if mode == model.OCRModeForce {
			total := 1
			if n, err := PageCount(data); err == nil && n > 0 {
				total = n
			}
			scanned = allPages(total)
		} else {
			det := r.detector.Detect(data)
			if !det.NeedsOCR {
				return r.nativeResult(ctx, data, filename)
			}
			scanned = det.ScannedPages
			if len(scanned) == 0 {
				// Detection could not read the page tree at all;
				// let the GPU branch try the first page.
				scanned = []int{0}
			}
			r.log.Info("document needs ocr",
				"filename", filename,
				"scanned_pages", len(scanned),
				"total_pages", det.TotalPages,
				"scanned_ratio", det.ScannedRatio,
			)
		}
	case isPNG(data) || isJPEG(data):
		// A standalone image is one scanned page.
		scanned = []int{0}
	default:
		// Text containers carry their own text; nothing to rasterize.
		return r.nativeResult(ctx, data, filename)
	}

	content, err := r.gpuExtract(ctx, data, filename, scanned)
	if err == nil {
		r.log.Info("ocr method chosen", "filename", filename, "ocr_method", model.OCRMethodGPU, "pages_ocrd", len(scanned))
		return &Result{Content: content, Method: model.OCRMethodGPU, PagesOCRd: scanned}, nil
	}
	r.log.Warn("gpu ocr unavailable, using local fallback",
		"filename", filename,
		"error", err,
		"breaker_state", r.breaker.State().String(),
	)

	content, nerr := r.native.Extract(ctx, data, filename, true)
	if nerr != nil {
		return nil, nerr
	}
	r.log.Info("ocr method chosen", "filename", filename, "ocr_method", model.OCRMethodDocling, "pages_ocrd", len(scanned))
	return &Result{Content: content, Method: model.OCRMethodDocling, PagesOCRd: scanned}, nil
}

func (r *Router) nativeResult(ctx context.Context, data []byte, filename string) (*Result, error) {
	content, err := r.native.Extract(ctx, data, filename, false)
	if err != nil {
		return nil, err
	}
	return &Result{Content: content, Method: model.OCRMethodNone, PagesOCRd: []int{}}, nil
}

// gpuExtract runs the GPU branch: health probe, then bounded per-page
// fan-out, then a merge with the native text of any non-scanned pages.
// Every remote interaction goes through the breaker so consecutive
// failures open it and an open breaker fails fast here.
func (r *Router) gpuExtract(ctx context.Context, data []byte, filename string, scanned []int) (*model.DocumentContent, error) {
	if r.gpu == nil {
		return nil, errors.New("gpu ocr service not configured")
	}

	if _, err := r.breaker.Execute(func() (any, error) {
		return nil, r.gpu.Healthy(ctx)
	}); err != nil {
		return nil, fmt.Errorf("health probe: %w", err)
	}

	// texts[i] pairs with scanned[i]; the merge is deterministic by page
	// index regardless of completion order.
	texts := make([]string, len(scanned))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.maxWorkers)
	for i, pageIdx := range scanned {
		g.Go(func() error {
			img, err := r.pageImage(gctx, data, pageIdx)
			if err != nil {
				return fmt.Errorf("render page %d: %w", pageIdx, err)
			}
			out, err := r.breaker.Execute(func() (any, error) {
				return r.gpu.RecognizePage(gctx, img)
			})
			if err != nil {
				return fmt.Errorf("ocr page %d: %w", pageIdx, err)
			}
			texts[i] = out.(string)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	// Native pass supplies the page skeleton plus text and tables for any
	// non-scanned pages. When even that fails the GPU texts still carry
	// the document.
	var pages []model.Page
	if content, err := r.native.Extract(ctx, data, filename, false); err == nil {
		pages = content.Pages
	}
	for len(pages) <= scanned[len(scanned)-1] {
		pages = append(pages, model.Page{PageNumber: len(pages) + 1})
	}
	for i, pageIdx := range scanned {
		pages[pageIdx].Text = texts[i]
	}
	return assembleContent(pages), nil
}

// pageImage produces the PNG for one 0-based page index. Standalone images
// are their own single page.
func (r *Router) pageImage(ctx context.Context, data []byte, pageIdx int) ([]byte, error) {
	if isPNG(data) || isJPEG(data) {
		return data, nil
	}
	return r.renderer.RenderPage(ctx, data, pageIdx+1)
}

func allPages(total int) []int {
	pages := make([]int, total)
	for i := range pages {
		pages[i] = i
	}
	return pages
}
