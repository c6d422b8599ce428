package domain

import (
	"errors"
	"fmt"
)

// Error types for domain-specific errors
type ErrorType string

const (
	ErrorTypeValidation       ErrorType = "validation"
	ErrorTypePayloadTooLarge  ErrorType = "payload_too_large"
	ErrorTypeConversionFailed ErrorType = "conversion_failed"
	ErrorTypeRegionSkipped    ErrorType = "region_skipped"
	ErrorTypePackagingFailed  ErrorType = "packaging_failed"
	ErrorTypeCanceled         ErrorType = "canceled"
	ErrorTypeConfig           ErrorType = "config"
)

// Pipeline stage names carried on errors for operational diagnosis.
const (
	StageValidate  = "validate"
	StageConvert   = "convert"
	StageRasterize = "rasterize"
	StageDetect    = "detect"
	StageAnnotate  = "annotate"
	StagePackage   = "package"
)

// DomainError represents a classified error with context.
// Message is the sanitized summary that may be shown to callers; Err keeps
// the internal detail for logs only.
type DomainError struct {
	Type    ErrorType
	Stage   string
	Message string
	File    string
	Err     error
}

func (e *DomainError) Error() string {
	prefix := fmt.Sprintf("[%s]", e.Type)
	if e.Stage != "" {
		prefix = fmt.Sprintf("[%s/%s]", e.Type, e.Stage)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s %s: %v", prefix, e.Message, e.Err)
	}
	return fmt.Sprintf("%s %s", prefix, e.Message)
}

func (e *DomainError) Unwrap() error {
	return e.Err
}

// WithFile returns a copy of the error tagged with the original file identifier.
func (e *DomainError) WithFile(name string) *DomainError {
	cp := *e
	cp.File = name
	return &cp
}

// NewError creates a new domain error
func NewError(errType ErrorType, stage, message string, err error) *DomainError {
	return &DomainError{
		Type:    errType,
		Stage:   stage,
		Message: message,
		Err:     err,
	}
}

// Common error constructors
func ValidationError(message string, err error) *DomainError {
	return NewError(ErrorTypeValidation, StageValidate, message, err)
}

func PayloadTooLargeError(size, limit int64) *DomainError {
	return NewError(ErrorTypePayloadTooLarge, StageValidate,
		fmt.Sprintf("file too large (max %d MB)", limit/(1024*1024)),
		fmt.Errorf("payload of %d bytes exceeds limit of %d bytes", size, limit))
}

func ConversionError(stage, message string, err error) *DomainError {
	return NewError(ErrorTypeConversionFailed, stage, message, err)
}

func RegionSkippedError(stage, message string, err error) *DomainError {
	return NewError(ErrorTypeRegionSkipped, stage, message, err)
}

func PackagingError(message string, err error) *DomainError {
	return NewError(ErrorTypePackagingFailed, StagePackage, message, err)
}

func CanceledError(stage string, err error) *DomainError {
	return NewError(ErrorTypeCanceled, stage, "request canceled", err)
}

func ConfigError(message string, err error) *DomainError {
	return NewError(ErrorTypeConfig, "", message, err)
}

// TypeOf returns the classification of err, or an empty type when err is
// not a DomainError.
func TypeOf(err error) ErrorType {
	var de *DomainError
	if errors.As(err, &de) {
		return de.Type
	}
	return ""
}

// IsType reports whether err is classified as t.
func IsType(err error, t ErrorType) bool {
	return TypeOf(err) == t
}

// PublicMessage returns the sanitized, caller-facing summary for err.
// Unclassified errors never leak their text.
func PublicMessage(err error) string {
	var de *DomainError
	if errors.As(err, &de) {
		return de.Message
	}
	return "internal error"
}
