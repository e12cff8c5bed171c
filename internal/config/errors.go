package config

import "errors"

// Errors returned by Load and Config.Validate. Compare with errors.Is.
var (
	ErrConfigNotFound    = errors.New("configuration file not found")
	ErrNoBaseURL         = errors.New("no base URL: set base_url or pass --url")
	ErrInvalidBaseURL    = errors.New("invalid base URL: must be an absolute http or https URL")
	ErrInvalidRoute      = errors.New("invalid route: must be a path starting with /")
	ErrInvalidExclude    = errors.New("invalid exclude pattern")
	ErrInvalidTimeout    = errors.New("invalid timeout: must be non-negative")
	ErrInvalidParallel   = errors.New("invalid parallel: must be positive")
	ErrInvalidMaxRoutes  = errors.New("invalid max routes: must be non-negative")
	ErrUnknownDriver     = errors.New("unknown driver: must be rod or http")
	ErrDuplicateIdentity = errors.New("duplicate identity name")
	ErrUnnamedIdentity   = errors.New("identity without a name")
	ErrUnknownProvider   = errors.New("unknown triage provider: must be claude or openai")
	ErrInvalidEvidence   = errors.New("invalid evidence settings: max_frames and width must be non-negative")
	ErrInvalidViewport   = errors.New("invalid browser viewport: width and height must be non-negative")
)
