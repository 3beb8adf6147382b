package extract

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/sitecorpus/internal/metrics"
)

// DefaultOCRDPI is the render resolution handed to the OCR tier.
const DefaultOCRDPI = 300

// TextLayer reads the embedded text of a PDF.
type TextLayer interface {
	Text(ctx context.Context, data []byte) (string, error)
}

// Rasterizer renders PDF pages to PNG images, calling fn once per page in
// order. It renders at most maxPages pages (0 means all) and returns the
// total page count of the document.
type Rasterizer interface {
	Rasterize(ctx context.Context, data []byte, dpi float64, maxPages int, fn func(page int, png []byte) error) (int, error)
}

// OCR recognizes text in a single page image.
type OCR interface {
	Recognize(ctx context.Context, png []byte) (string, error)
}

// PDFConfig bounds the OCR tier.
type PDFConfig struct {
	DPI         float64
	MaxOCRPages int
	OCRTimeout  time.Duration
}

// PDFChain tries the embedded text layer first and falls back to
// rasterize-and-OCR when that yields nothing usable.
type PDFChain struct {
	cfg    PDFConfig
	text   TextLayer
	raster Rasterizer
	ocr    OCR
	logger *zap.Logger
}

// NewPDFChain wires the tiers. raster or ocr may be nil, which disables the fallback.
func NewPDFChain(cfg PDFConfig, text TextLayer, raster Rasterizer, ocr OCR, logger *zap.Logger) *PDFChain {
	if cfg.DPI <= 0 {
		cfg.DPI = DefaultOCRDPI
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PDFChain{cfg: cfg, text: text, raster: raster, ocr: ocr, logger: logger}
}

// Extract returns the document text and the method that produced it.
func (c *PDFChain) Extract(ctx context.Context, data []byte) (string, string, error) {
	var textErr error
	if c.text != nil {
		text, err := c.text.Text(ctx, data)
		if err == nil && strings.TrimSpace(text) != "" {
			return text, MethodPDFText, nil
		}
		textErr = err
		if err != nil {
			c.logger.Debug("pdf text layer failed, trying ocr", zap.Error(err))
		}
	}
	if c.raster == nil || c.ocr == nil {
		if textErr != nil {
			return "", "", fmt.Errorf("pdf text layer: %w", textErr)
		}
		return "", MethodPDFText, nil
	}

	text, err := c.recognize(ctx, data)
	if err != nil {
		return "", "", errors.Join(textErr, fmt.Errorf("pdf ocr: %w", err))
	}
	return text, MethodPDFOCR, nil
}

func (c *PDFChain) recognize(ctx context.Context, data []byte) (string, error) {
	if c.cfg.OCRTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.cfg.OCRTimeout)
		defer cancel()
	}
	var pages []string
	total, err := c.raster.Rasterize(ctx, data, c.cfg.DPI, c.cfg.MaxOCRPages, func(page int, png []byte) error {
		text, err := c.ocr.Recognize(ctx, png)
		if err != nil {
			return fmt.Errorf("page %d: %w", page+1, err)
		}
		metrics.ObserveOCRPage()
		pages = append(pages, text)
		return nil
	})
	if err != nil {
		return "", err
	}
	if c.cfg.MaxOCRPages > 0 && total > c.cfg.MaxOCRPages {
		c.logger.Warn("pdf ocr truncated",
			zap.Int("pages_total", total),
			zap.Int("pages_recognized", len(pages)),
		)
	}
	return strings.Join(pages, "\n"), nil
}
