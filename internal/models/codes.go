package models

import (
	"errors"
	"net/http"

	"github.com/desertthunder/rhythm/internal/shared"
)

// Code is the short machine-readable reason attached to a failed request.
type Code string

const (
	CodeInvalidRequest   Code = "INVALID_REQUEST"
	CodeNotFound         Code = "NOT_FOUND"
	CodeConversionFailed Code = "CONVERSION_FAILED"
	CodeUpstreamError    Code = "UPSTREAM_ERROR"
	CodeStorageError     Code = "STORAGE_ERROR"
	CodeServerBusy       Code = "SERVER_BUSY"
	CodeJobNotFound      Code = "JOB_NOT_FOUND"
	CodeNotReady         Code = "NOT_READY"
	CodeExpired          Code = "EXPIRED"
)

// CodeFor maps a pipeline error onto its reason [Code] and HTTP status.
//
// Unclassified errors are reported as upstream failures, which callers treat as transient.
func CodeFor(err error) (Code, int) {
	switch {
	case errors.Is(err, shared.ErrInvalidRequest):
		return CodeInvalidRequest, http.StatusBadRequest
	case errors.Is(err, shared.ErrResolutionFailure), errors.Is(err, shared.ErrTrackNotFound):
		return CodeNotFound, http.StatusNotFound
	case errors.Is(err, shared.ErrConversionFailure):
		return CodeConversionFailed, http.StatusUnprocessableEntity
	case errors.Is(err, shared.ErrStorage):
		return CodeStorageError, http.StatusInternalServerError
	case errors.Is(err, shared.ErrServerBusy):
		return CodeServerBusy, http.StatusServiceUnavailable
	case errors.Is(err, shared.ErrJobNotFound):
		return CodeJobNotFound, http.StatusNotFound
	case errors.Is(err, shared.ErrJobNotReady):
		return CodeNotReady, http.StatusNotFound
	case errors.Is(err, shared.ErrExpired):
		return CodeExpired, http.StatusGone
	default:
		return CodeUpstreamError, http.StatusBadGateway
	}
}

// Transient reports whether a caller may retry the same request later.
func (c Code) Transient() bool {
	return c == CodeUpstreamError || c == CodeServerBusy
}
