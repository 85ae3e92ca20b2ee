package export

import (
	"bytes"
	"fmt"

	"github.com/jung-kurt/gofpdf"
)

const (
	pageWidth  = 190.0
	lineHeight = 5.0
)

// PDFExporter renders tables into a paged A4 transcript. Long cells wrap.
type PDFExporter struct{}

// NewPDFExporter constructs a PDF exporter.
func NewPDFExporter() *PDFExporter {
	return &PDFExporter{}
}

// ContentType implements the transcript renderer contract.
func (e *PDFExporter) ContentType() string { return "application/pdf" }

// Extension implements the transcript renderer contract.
func (e *PDFExporter) Extension() string { return ".pdf" }

// Render creates the PDF document.
func (e *PDFExporter) Render(table Table) ([]byte, error) {
	if err := table.validate(); err != nil {
		return nil, err
	}
	widths := columnWidths(table)

	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.SetMargins(10, 15, 10)
	pdf.SetAutoPageBreak(true, 15)
	tr := pdf.UnicodeTranslatorFromDescriptor("")
	pdf.AddPage()

	if table.Title != "" {
		pdf.SetFont("Arial", "B", 14)
		pdf.MultiCell(0, 8, tr(table.Title), "", "L", false)
	}
	if len(table.Subtitle) > 0 {
		pdf.SetFont("Arial", "", 9)
		for _, line := range table.Subtitle {
			pdf.CellFormat(0, lineHeight, tr(line), "", 1, "L", false, 0, "")
		}
	}
	pdf.Ln(4)

	header := func() {
		pdf.SetFont("Arial", "B", 9)
		for i, h := range table.Headers {
			pdf.CellFormat(widths[i], 7, tr(h), "1", 0, "C", false, 0, "")
		}
		pdf.Ln(-1)
		pdf.SetFont("Arial", "", 8)
	}
	header()

	_, pageHeight := pdf.GetPageSize()
	_, _, _, bottom := pdf.GetMargins()
	for _, row := range table.Rows {
		height := 0.0
		for i, cell := range row {
			lines := pdf.SplitLines([]byte(tr(cell)), widths[i]-2)
			if h := float64(len(lines)) * lineHeight; h > height {
				height = h
			}
		}
		if height == 0 {
			height = lineHeight
		}
		if pdf.GetY()+height > pageHeight-bottom {
			pdf.AddPage()
			header()
		}
		x, y := pdf.GetXY()
		for i, cell := range row {
			pdf.Rect(x, y, widths[i], height, "D")
			pdf.MultiCell(widths[i], lineHeight, tr(cell), "", "L", false)
			x += widths[i]
			pdf.SetXY(x, y)
		}
		pdf.SetXY(10, y+height)
	}

	buf := &bytes.Buffer{}
	if err := pdf.Output(buf); err != nil {
		return nil, fmt.Errorf("render pdf: %w", err)
	}
	return buf.Bytes(), nil
}

func columnWidths(table Table) []float64 {
	widths := make([]float64, len(table.Headers))
	if len(table.Widths) != len(table.Headers) {
		for i := range widths {
			widths[i] = pageWidth / float64(len(widths))
		}
		return widths
	}
	total := 0.0
	for _, w := range table.Widths {
		total += w
	}
	for i, w := range table.Widths {
		widths[i] = pageWidth * w / total
	}
	return widths
}
