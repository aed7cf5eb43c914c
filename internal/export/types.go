// Package export generates project reports in PDF and DOCX formats.
package export

import "errors"

// Format represents the export output format
type Format string

const (
	FormatPDF  Format = "pdf"
	FormatDOCX Format = "docx"
)

// Kind selects which report to generate.
type Kind string

const (
	KindRFIRegister   Kind = "rfi_register"
	KindTenderSummary Kind = "tender_summary"
)

// Request contains parameters for an export operation
type Request struct {
	ProjectID string
	Kind      Kind
	Format    Format
}

// Result contains the export output
type Result struct {
	Data     []byte
	Filename string
	MimeType string
}

var (
	// ErrPDFDependencyMissing indicates PDF export runtime dependencies are unavailable.
	ErrPDFDependencyMissing = errors.New("export pdf dependency missing")
	// ErrDOCXDependencyMissing indicates DOCX export runtime dependencies are unavailable.
	ErrDOCXDependencyMissing = errors.New("export docx dependency missing")
)
