package ports

import "errors"

// Standard application-level errors.
// Adapters wrap underlying provider and infrastructure errors with these so
// the orchestrator can classify failures without knowing the backend.
var (
	// General
	ErrUnknown         = errors.New("unknown error occurred")
	ErrInvalidRequest  = errors.New("invalid request parameters or format")
	ErrNotFound        = errors.New("resource not found")
	ErrTimeout         = errors.New("operation timed out")
	ErrContextCanceled = errors.New("operation canceled via context")
	ErrConfiguration   = errors.New("invalid or missing configuration")

	// Data source
	ErrUnknownSource        = errors.New("unknown data source backend")
	ErrConnectionFailed     = errors.New("failed to connect to the data provider")
	ErrNotConnected         = errors.New("data source is not connected")
	ErrProviderUnavailable  = errors.New("data provider is unavailable")
	ErrRateLimited          = errors.New("provider rate limit exceeded")
	ErrNoData               = errors.New("no data returned for the requested window")
	ErrStreamingUnsupported = errors.New("backend does not support live bar streaming")

	// Orchestrator lifecycle
	ErrNotInitialized = errors.New("orchestrator has not been initialized")
	ErrShutDown       = errors.New("orchestrator has been shut down")

	// Storage
	ErrDBConnection = errors.New("database connection error")
	ErrQueryFailed  = errors.New("database query failed")
)
