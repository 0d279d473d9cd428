package config

import "errors"

var (
	// ErrNoSeedURL is returned when no root URL is provided
	ErrNoSeedURL = errors.New("no root URL provided")
	// ErrUnsupportedScheme is returned when the root URL is not http, https, ftp or ftps
	ErrUnsupportedScheme = errors.New("root URL scheme must be http, https, ftp or ftps")
	// ErrInvalidWorkers is returned when a worker count is negative
	ErrInvalidWorkers = errors.New("workers must not be negative")
	// ErrInvalidTimeout is returned when request timeout is not greater than 0
	ErrInvalidTimeout = errors.New("request_timeout must be greater than 0")
	// ErrInvalidRetries is returned when max_retries is less than 1
	ErrInvalidRetries = errors.New("max_retries must be at least 1")
	// ErrInvalidRate is returned when a rate limit is negative
	ErrInvalidRate = errors.New("rate limits must not be negative")
	// ErrConflictingSizeModes is returned when fast_scan and exact_sizes are both set
	ErrConflictingSizeModes = errors.New("fast_scan and exact_sizes are mutually exclusive")
)
