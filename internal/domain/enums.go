package domain

// FileType represents the accepted source document types.
type FileType string

const (
	FileTypePDF  FileType = "pdf"
	FileTypeJPG  FileType = "jpg"
	FileTypePNG  FileType = "png"
	FileTypeText FileType = "txt"
)

// AllowedContentTypes maps MIME content types to FileType.
var AllowedContentTypes = map[string]FileType{
	"application/pdf": FileTypePDF,
	"image/jpeg":      FileTypeJPG,
	"image/png":       FileTypePNG,
	"text/plain":      FileTypeText,
}

// FileContentTypes maps FileType to the content type stored and sent to backends.
var FileContentTypes = map[FileType]string{
	FileTypePDF:  "application/pdf",
	FileTypeJPG:  "image/jpeg",
	FileTypePNG:  "image/png",
	FileTypeText: "text/plain",
}

// AllowedExtensions maps file extensions (without dot) to FileType.
var AllowedExtensions = map[string]FileType{
	"pdf":  FileTypePDF,
	"jpg":  FileTypeJPG,
	"jpeg": FileTypeJPG,
	"png":  FileTypePNG,
	"txt":  FileTypeText,
}

// DraftStatus represents the lifecycle of an invoice draft.
type DraftStatus string

const (
	DraftStatusDraft      DraftStatus = "draft"
	DraftStatusProcessing DraftStatus = "processing"
	DraftStatusScanned    DraftStatus = "scanned"
	DraftStatusSubmitted  DraftStatus = "submitted"
	DraftStatusParsed     DraftStatus = "parsed"
	DraftStatusFailed     DraftStatus = "failed"
	DraftStatusTimeout    DraftStatus = "timeout"
)

// IsTerminal reports whether the draft is frozen: the pipeline will not touch it again.
func (s DraftStatus) IsTerminal() bool {
	switch s {
	case DraftStatusParsed, DraftStatusFailed, DraftStatusTimeout:
		return true
	}
	return false
}

// Discrepancy is the closed set of line-item deviation labels.
type Discrepancy string

const (
	DiscrepancyNone    Discrepancy = "none"
	DiscrepancyQty     Discrepancy = "qty"
	DiscrepancyPrice   Discrepancy = "price"
	DiscrepancyVAT     Discrepancy = "vat"
	DiscrepancyMissing Discrepancy = "missing"
	DiscrepancyExtra   Discrepancy = "extra"
)

// ConfidenceBand groups a 0-100 confidence into review buckets.
type ConfidenceBand string

const (
	ConfidenceBandHigh     ConfidenceBand = "high"
	ConfidenceBandMedium   ConfidenceBand = "medium"
	ConfidenceBandLow      ConfidenceBand = "low"
	ConfidenceBandCritical ConfidenceBand = "critical"
)

// BandFor returns the band a confidence score falls in.
func BandFor(confidence int) ConfidenceBand {
	switch {
	case confidence >= 80:
		return ConfidenceBandHigh
	case confidence >= 60:
		return ConfidenceBandMedium
	case confidence >= 40:
		return ConfidenceBandLow
	default:
		return ConfidenceBandCritical
	}
}

// RequiresReview reports whether drafts in this band need a human check before submission.
func (b ConfidenceBand) RequiresReview() bool {
	return b == ConfidenceBandLow || b == ConfidenceBandCritical
}

// Stage names a pipeline stage boundary.
type Stage string

const (
	StageNone        Stage = ""
	StageHeader      Stage = "header"
	StageNormalize   Stage = "normalize"
	StageReconstruct Stage = "reconstruct"
	StageMath        Stage = "math"
	StageAlign       Stage = "align"
	StageScore       Stage = "score"
	StageClassify    Stage = "classify"
	StageAssemble    Stage = "assemble"
)

// AlignmentSource selects where the Alignment Engine takes its expected items from.
type AlignmentSource string

const (
	AlignmentSourceNone   AlignmentSource = "none"
	AlignmentSourceLayout AlignmentSource = "layout"
	AlignmentSourcePrior  AlignmentSource = "prior"
)
