package media

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// ExtractPDFImages renders every PDF page to a PNG under outDir and returns
// the page image paths in page order.
func (r *Runner) ExtractPDFImages(ctx context.Context, pdfPath, outDir string) ([]string, error) {
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create image dir: %w", err)
	}

	prefix := filepath.Join(outDir, "page")
	_, err := r.run(ctx,
		"pdftoppm",
		"-png",
		"-r", "150",
		pdfPath,
		prefix,
	)
	if err != nil {
		return nil, err
	}

	pages, err := collectPageImages(outDir)
	if err != nil {
		return nil, err
	}
	if len(pages) == 0 {
		return nil, fmt.Errorf("%w: pdftoppm produced no pages for %s", ErrToolingFailure, pdfPath)
	}
	return pages, nil
}

// collectPageImages lists page-*.png files sorted by page number. pdftoppm
// zero-pads page numbers, so a lexical sort is also numeric.
func collectPageImages(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read image dir: %w", err)
	}

	pages := make([]string, 0, len(entries))
	for _, e := range entries {
		name := e.Name()
		if strings.HasPrefix(name, "page") && strings.HasSuffix(name, ".png") {
			pages = append(pages, filepath.Join(dir, name))
		}
	}
	sort.Strings(pages)
	return pages, nil
}

// ExtractPDFText extracts the full text of a PDF, preserving layout.
func (r *Runner) ExtractPDFText(ctx context.Context, pdfPath string) (string, error) {
	// "-" sends the text to stdout
	output, err := r.run(ctx,
		"pdftotext",
		"-layout",
		pdfPath,
		"-",
	)
	if err != nil {
		return "", err
	}
	return string(output), nil
}

// ConvertToPDF converts a slide deck (pptx, odp, key exports) to PDF and
// returns the produced file path.
func (r *Runner) ConvertToPDF(ctx context.Context, inputPath, outDir string) (string, error) {
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create output dir: %w", err)
	}

	_, err := r.run(ctx,
		"soffice",
		"--headless",
		"--convert-to", "pdf",
		"--outdir", outDir,
		inputPath,
	)
	if err != nil {
		return "", err
	}

	base := strings.TrimSuffix(filepath.Base(inputPath), filepath.Ext(inputPath))
	pdfPath := filepath.Join(outDir, base+".pdf")
	if _, err := os.Stat(pdfPath); err != nil {
		return "", fmt.Errorf("%w: soffice did not produce %s", ErrToolingFailure, pdfPath)
	}
	return pdfPath, nil
}
