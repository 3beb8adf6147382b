package extract

import (
	"context"
	"fmt"

	"github.com/otiai10/gosseract/v2"
)

// TesseractOCR recognizes page images with Tesseract via gosseract.
type TesseractOCR struct {
	languages []string
}

// NewTesseractOCR returns an OCR using the given Tesseract language packs (e.g. "eng").
func NewTesseractOCR(languages []string) *TesseractOCR {
	return &TesseractOCR{languages: languages}
}

// Recognize implements OCR. Each call uses its own client; gosseract clients
// are not safe for concurrent use.
func (o *TesseractOCR) Recognize(ctx context.Context, img []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	client := gosseract.NewClient()
	defer func() { _ = client.Close() }()

	if len(o.languages) > 0 {
		if err := client.SetLanguage(o.languages...); err != nil {
			return "", fmt.Errorf("set ocr language: %w", err)
		}
	}
	if err := client.SetImageFromBytes(img); err != nil {
		return "", fmt.Errorf("load page image: %w", err)
	}
	text, err := client.Text()
	if err != nil {
		return "", fmt.Errorf("recognize: %w", err)
	}
	return text, nil
}
