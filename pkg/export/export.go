package export

import (
	"fmt"
	"strings"
)

// Format identifies a rendered document type.
type Format string

const (
	FormatCSV Format = "csv"
	FormatPDF Format = "pdf"
)

// Dataset defines tabular export content. Footer rows follow the body and are
// rendered emphasised where the format allows it.
type Dataset struct {
	Title   string
	Headers []string
	Rows    []map[string]string
	Footer  []map[string]string
}

func (d Dataset) allRows() []map[string]string {
	rows := make([]map[string]string, 0, len(d.Rows)+len(d.Footer))
	rows = append(rows, d.Rows...)
	return append(rows, d.Footer...)
}

// record projects row onto the header order. Missing cells are empty.
func (d Dataset) record(row map[string]string) []string {
	out := make([]string, len(d.Headers))
	for i, header := range d.Headers {
		out[i] = row[header]
	}
	return out
}

// Document is a rendered export ready to be streamed.
type Document struct {
	ContentType string
	Filename    string
	Body        []byte
}

// ParseFormat normalises a user supplied format name.
func ParseFormat(raw string) (Format, error) {
	switch Format(strings.ToLower(strings.TrimSpace(raw))) {
	case FormatCSV, "":
		return FormatCSV, nil
	case FormatPDF:
		return FormatPDF, nil
	default:
		return "", fmt.Errorf("unsupported export format %q", raw)
	}
}

// Renderer dispatches datasets to the matching exporter.
type Renderer struct {
	csv *CSVExporter
	pdf *PDFExporter
}

// NewRenderer wires the CSV and PDF exporters.
func NewRenderer() *Renderer {
	return &Renderer{csv: NewCSVExporter(), pdf: NewPDFExporter()}
}

// Render produces a document named after base in the requested format.
func (r *Renderer) Render(format Format, base string, data Dataset) (*Document, error) {
	switch format {
	case FormatCSV:
		body, err := r.csv.Render(data)
		if err != nil {
			return nil, err
		}
		return &Document{ContentType: "text/csv; charset=utf-8", Filename: base + ".csv", Body: body}, nil
	case FormatPDF:
		body, err := r.pdf.Render(data)
		if err != nil {
			return nil, err
		}
		return &Document{ContentType: "application/pdf", Filename: base + ".pdf", Body: body}, nil
	default:
		return nil, fmt.Errorf("unsupported export format %q", format)
	}
}
