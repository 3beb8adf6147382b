package extract

import (
	"bytes"
	"context"
	"fmt"
	"image/png"

	"github.com/gen2brain/go-fitz"
)

// FitzRasterizer renders PDF pages with MuPDF through go-fitz.
type FitzRasterizer struct{}

// Rasterize implements Rasterizer.
func (FitzRasterizer) Rasterize(ctx context.Context, data []byte, dpi float64, maxPages int, fn func(page int, png []byte) error) (int, error) {
	doc, err := fitz.NewFromMemory(data)
	if err != nil {
		return 0, fmt.Errorf("open pdf for rendering: %w", err)
	}
	defer func() { _ = doc.Close() }()

	total := doc.NumPage()
	limit := total
	if maxPages > 0 && maxPages < total {
		limit = maxPages
	}
	var buf bytes.Buffer
	for n := 0; n < limit; n++ {
		if err := ctx.Err(); err != nil {
			return total, err
		}
		img, err := doc.ImageDPI(n, dpi)
		if err != nil {
			return total, fmt.Errorf("render page %d: %w", n+1, err)
		}
		buf.Reset()
		if err := png.Encode(&buf, img); err != nil {
			return total, fmt.Errorf("encode page %d: %w", n+1, err)
		}
		if err := fn(n, buf.Bytes()); err != nil {
			return total, err
		}
	}
	return total, nil
}
