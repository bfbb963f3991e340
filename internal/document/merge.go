package document

import (
	"bytes"
	"fmt"
	"io"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
)

// Merger concatenates PDF documents in the given order.
type Merger interface {
	Merge(parts [][]byte) ([]byte, error)
}

// PDFMerger merges with pdfcpu. Every part is validated before merging.
type PDFMerger struct {
	conf *model.Configuration
}

func NewPDFMerger() *PDFMerger {
	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed
	return &PDFMerger{conf: conf}
}

func (m *PDFMerger) Merge(parts [][]byte) ([]byte, error) {
	if len(parts) == 0 {
		return nil, fmt.Errorf("no documents to merge")
	}

	readers := make([]io.ReadSeeker, 0, len(parts))
	for i, part := range parts {
		if err := api.Validate(bytes.NewReader(part), m.conf); err != nil {
			return nil, fmt.Errorf("document %d is not a valid PDF: %w", i+1, err)
		}
		readers = append(readers, bytes.NewReader(part))
	}

	if len(readers) == 1 {
		return append([]byte(nil), parts[0]...), nil
	}

	var out bytes.Buffer
	if err := api.MergeRaw(readers, &out, false, m.conf); err != nil {
		return nil, fmt.Errorf("merge documents: %w", err)
	}
	return out.Bytes(), nil
}
