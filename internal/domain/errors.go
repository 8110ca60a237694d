package domain

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound            = errors.New("resource not found")
	ErrInvalidInput        = errors.New("invalid input")
	ErrUnsupportedFileType = errors.New("unsupported file type")
	ErrFileTooLarge        = errors.New("file exceeds maximum allowed size")
	ErrUploadFailed        = errors.New("file upload to storage failed")
	ErrDraftFrozen         = errors.New("draft is frozen")

	ErrNormalizationFailure    = errors.New("normalization failure")
	ErrReconstructionFailure   = errors.New("reconstruction failure")
	ErrArithmeticInconsistency = errors.New("arithmetic inconsistency")
	ErrBackendUnavailable      = errors.New("no recognition backend")
	ErrTimeout                 = errors.New("pipeline timeout")
)

// ErrorKind is the machine-readable extraction error taxonomy.
type ErrorKind string

const (
	KindNormalizationFailure    ErrorKind = "NormalizationFailure"
	KindReconstructionFailure   ErrorKind = "ReconstructionFailure"
	KindArithmeticInconsistency ErrorKind = "ArithmeticInconsistency"
	KindBackendUnavailable      ErrorKind = "BackendUnavailable"
	KindTimeout                 ErrorKind = "Timeout"
)

// Document-level checks named by ArithmeticInconsistency and ReconstructionFailure errors.
const (
	CheckSubtotalMismatch   = "subtotal_mismatch"
	CheckGrandTotalMismatch = "grand_total_mismatch"
	CheckVATMismatch        = "vat_mismatch"
	CheckEmptyLineItems     = "empty_line_items"
	CheckNoBackend          = "no_backend"
	CheckBackendError       = "backend_error"
	CheckDeadlineExceeded   = "deadline_exceeded"
	CheckCanceled           = "canceled"
)

var kindSentinels = map[ErrorKind]error{
	KindNormalizationFailure:    ErrNormalizationFailure,
	KindReconstructionFailure:   ErrReconstructionFailure,
	KindArithmeticInconsistency: ErrArithmeticInconsistency,
	KindBackendUnavailable:      ErrBackendUnavailable,
	KindTimeout:                 ErrTimeout,
}

// ExtractionError is the structured error payload attached to failed and timed-out drafts.
type ExtractionError struct {
	Kind    ErrorKind `json:"kind"`
	Check   string    `json:"check,omitempty"`
	Stage   Stage     `json:"stage,omitempty"`
	Message string    `json:"message"`
}

// NewExtractionError builds an ExtractionError.
func NewExtractionError(kind ErrorKind, check string, stage Stage, format string, args ...any) *ExtractionError {
	return &ExtractionError{
		Kind:    kind,
		Check:   check,
		Stage:   stage,
		Message: fmt.Sprintf(format, args...),
	}
}

func (e *ExtractionError) Error() string {
	if e.Check != "" {
		return fmt.Sprintf("%s (%s): %s", e.Kind, e.Check, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap exposes the sentinel for the error kind so errors.Is works.
func (e *ExtractionError) Unwrap() error {
	return kindSentinels[e.Kind]
}

// Fatal reports whether the error aborts the pipeline.
func (e *ExtractionError) Fatal() bool {
	return e.Kind != KindNormalizationFailure
}
