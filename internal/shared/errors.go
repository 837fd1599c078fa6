package shared

import "fmt"

var (
	ErrNotImplemented = fmt.Errorf("not implemented")

	// Configuration errors
	ErrMissingConfig      = fmt.Errorf("configuration not found")
	ErrInvalidConfig      = fmt.Errorf("invalid configuration")
	ErrMissingCredentials = fmt.Errorf("missing credentials")

	// Download pipeline errors
	ErrInvalidRequest      = fmt.Errorf("invalid request")
	ErrResolutionFailure   = fmt.Errorf("no matching source found")
	ErrConversionFailure   = fmt.Errorf("audio conversion failed")
	ErrUpstreamUnavailable = fmt.Errorf("upstream unavailable")
	ErrStorage             = fmt.Errorf("scratch storage error")
	ErrServerBusy          = fmt.Errorf("server busy")

	// Job lookup errors
	ErrJobNotFound = fmt.Errorf("job not found")
	ErrJobNotReady = fmt.Errorf("job not ready")
	ErrExpired     = fmt.Errorf("file expired")

	// API and service errors
	ErrAPIRequest         = fmt.Errorf("API request failed")
	ErrServiceUnavailable = fmt.Errorf("service unavailable")
	ErrTrackNotFound      = fmt.Errorf("track not found")

	// Input validation errors
	ErrInvalidInput    = fmt.Errorf("invalid input")
	ErrMissingArgument = fmt.Errorf("missing required argument")
)
