package document

import (
	"bytes"
	"testing"

	"github.com/pdfcpu/pdfcpu/pkg/api"
)

func TestPDFMergerMergesInOrder(t *testing.T) {
	t.Parallel()

	merger := NewPDFMerger()
	merged, err := merger.Merge([][]byte{onePagePDF("first"), onePagePDF("second"), onePagePDF("third")})
	if err != nil {
		t.Fatalf("Merge() error = %v", err)
	}

	pages, err := api.PageCount(bytes.NewReader(merged), merger.conf)
	if err != nil {
		t.Fatalf("PageCount() error = %v", err)
	}
	if pages != 3 {
		t.Fatalf("page count = %d, want 3", pages)
	}
}

func TestPDFMergerSinglePartReturnedAsIs(t *testing.T) {
	t.Parallel()

	doc := onePagePDF("only")
	merged, err := NewPDFMerger().Merge([][]byte{doc})
	if err != nil {
		t.Fatalf("Merge() error = %v", err)
	}
	if !bytes.Equal(merged, doc) {
		t.Fatal("single document should be returned unchanged")
	}
}

func TestPDFMergerRejectsCorruptInput(t *testing.T) {
	t.Parallel()

	_, err := NewPDFMerger().Merge([][]byte{onePagePDF("ok"), []byte("%PDF-1.4 garbage")})
	if err == nil {
		t.Fatal("expected error for corrupt document")
	}
}

func TestPDFMergerRejectsEmptyInput(t *testing.T) {
	t.Parallel()

	if _, err := NewPDFMerger().Merge(nil); err == nil {
		t.Fatal("expected error for no documents")
	}
}
