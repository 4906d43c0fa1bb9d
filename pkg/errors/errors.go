package errors

import (
	stdErrors "errors"
	"fmt"
	"net/http"
)

type Code string

const (
	// Mapping resolution failures.
	CodeNotMappedFromExternal   Code = "NOT_MAPPED_FROM_EXTERNAL"
	CodeNotMappedToExternal     Code = "NOT_MAPPED_TO_EXTERNAL"
	CodeNoExternal              Code = "NO_EXTERNAL"
	CodeMultipleExternalRecords Code = "MULTIPLE_EXTERNAL_RECORDS"

	// Import/export business-rule failures.
	CodeAPIImport Code = "API_IMPORT_ERROR"
	CodeAPIExport Code = "API_EXPORT_ERROR"

	// Operator/programmer facing.
	CodeValidation Code = "VALIDATION_ERROR"
	CodeUser       Code = "USER_ERROR"

	// Transport / infrastructure.
	CodeUnauthorized Code = "UNAUTHORIZED"
	CodeNotFound     Code = "NOT_FOUND"
	CodeConflict     Code = "CONFLICT"
	CodeDependency   Code = "DEPENDENCY_ERROR"
	CodeInternal     Code = "INTERNAL_ERROR"
)

type Metadata struct {
	HTTPStatus     int
	Retryable      bool
	PublicMessage  string
	DetailsAllowed bool
}

var metadataByCode = map[Code]Metadata{
	CodeNotMappedFromExternal: {
		HTTPStatus:     http.StatusUnprocessableEntity,
		Retryable:      true,
		PublicMessage:  "external record is not mapped to an internal record",
		DetailsAllowed: true,
	},
	CodeNotMappedToExternal: {
		HTTPStatus:     http.StatusUnprocessableEntity,
		Retryable:      true,
		PublicMessage:  "internal record was never exported to the platform",
		DetailsAllowed: true,
	},
	CodeNoExternal: {
		HTTPStatus:     http.StatusUnprocessableEntity,
		Retryable:      true,
		PublicMessage:  "external record does not exist in the local mirror",
		DetailsAllowed: true,
	},
	CodeMultipleExternalRecords: {
		HTTPStatus:     http.StatusConflict,
		Retryable:      false,
		PublicMessage:  "more than one external record matches the lookup key",
		DetailsAllowed: true,
	},
	CodeAPIImport: {
		HTTPStatus:     http.StatusUnprocessableEntity,
		Retryable:      true,
		PublicMessage:  "import failed due to connector configuration",
		DetailsAllowed: true,
	},
	CodeAPIExport: {
		HTTPStatus:     http.StatusUnprocessableEntity,
		Retryable:      true,
		PublicMessage:  "export failed due to connector configuration",
		DetailsAllowed: true,
	},
	CodeValidation: {
		HTTPStatus:     http.StatusBadRequest,
		Retryable:      false,
		PublicMessage:  "validation failed",
		DetailsAllowed: true,
	},
	CodeUser: {
		HTTPStatus:     http.StatusUnprocessableEntity,
		Retryable:      false,
		PublicMessage:  "operator action required",
		DetailsAllowed: true,
	},
	CodeUnauthorized: {
		HTTPStatus:     http.StatusUnauthorized,
		Retryable:      false,
		PublicMessage:  "authentication required",
		DetailsAllowed: false,
	},
	CodeNotFound: {
		HTTPStatus:     http.StatusNotFound,
		Retryable:      false,
		PublicMessage:  "resource not found",
		DetailsAllowed: false,
	},
	CodeConflict: {
		HTTPStatus:     http.StatusConflict,
		Retryable:      false,
		PublicMessage:  "conflict detected",
		DetailsAllowed: false,
	},
	CodeDependency: {
		HTTPStatus:     http.StatusServiceUnavailable,
		Retryable:      true,
		PublicMessage:  "dependency unavailable",
		DetailsAllowed: true,
	},
	CodeInternal: {
		HTTPStatus:     http.StatusInternalServerError,
		Retryable:      true,
		PublicMessage:  "internal server error",
		DetailsAllowed: false,
	},
}

func MetadataFor(code Code) Metadata {
	if meta, ok := metadataByCode[code]; ok {
		return meta
	}
	return metadataByCode[CodeInternal]
}

// Retryable reports whether the error clears once the underlying condition
// is fixed, e.g. a mapping completed by an operator.
func Retryable(err error) bool {
	typed := As(err)
	if typed == nil {
		return MetadataFor(CodeInternal).Retryable
	}
	return MetadataFor(typed.Code()).Retryable
}

// MappingContext identifies the record a mapping-resolution error is about.
// It carries enough to point an operator at the right mapping screen and to
// let the job requeue matcher find blocked work.
type MappingContext struct {
	EntityType  string `json:"entity_type"`
	Code        string `json:"code"`
	Integration string `json:"integration"`
}

type Error struct {
	code    Code
	message string
	details any
	mapping *MappingContext
	cause   error
}

func New(code Code, message string) *Error {
	return &Error{code: code, message: message}
}

func Wrap(code Code, err error, message string) *Error {
	if err == nil {
		return New(code, message)
	}
	return &Error{code: code, message: message, cause: err}
}

// NotMapped builds the canonical "seen but unresolved" error for an external
// record.
func NotMapped(entityType, code, integration string) *Error {
	e := New(CodeNotMappedFromExternal,
		fmt.Sprintf("%s %q from integration %q has no internal counterpart", entityType, code, integration))
	e.mapping = &MappingContext{EntityType: entityType, Code: code, Integration: integration}
	return e
}

// NotExported builds the reverse direction error.
func NotExported(entityType, internalRef, integration string) *Error {
	e := New(CodeNotMappedToExternal,
		fmt.Sprintf("%s %q was never exported to integration %q", entityType, internalRef, integration))
	e.mapping = &MappingContext{EntityType: entityType, Code: internalRef, Integration: integration}
	return e
}

// NoExternal builds the "never seen at all" error, distinct from unmapped.
func NoExternal(entityType, code, integration string) *Error {
	e := New(CodeNoExternal,
		fmt.Sprintf("%s %q does not exist in the local mirror of integration %q", entityType, code, integration))
	e.mapping = &MappingContext{EntityType: entityType, Code: code, Integration: integration}
	return e
}

func (e *Error) Code() Code {
	if e == nil {
		return CodeInternal
	}
	return e.code
}

func (e *Error) Message() string {
	if e == nil {
		return ""
	}
	return e.message
}

func (e *Error) Details() any {
	if e == nil {
		return nil
	}
	return e.details
}

// Mapping returns the mapping context when the error is a mapping miss.
func (e *Error) Mapping() *MappingContext {
	if e == nil {
		return nil
	}
	return e.mapping
}

func (e *Error) WithDetails(details any) *Error {
	if e == nil {
		return nil
	}
	e.details = details
	return e
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("%s: %s", e.code, e.message)
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.cause
}

func As(err error) *Error {
	if err == nil {
		return nil
	}
	var typed *Error
	if stdErrors.As(err, &typed) {
		return typed
	}
	return nil
}

// HasCode reports whether err (or anything it wraps) carries the given code.
func HasCode(err error, code Code) bool {
	typed := As(err)
	return typed != nil && typed.Code() == code
}
