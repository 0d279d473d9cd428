package parser

import "errors"

var (
	// ErrNotListing is set on fragments for pages that are not directory listings.
	ErrNotListing = errors.New("page is not a directory listing")
	// ErrMalformedListing is returned when a recognised format cannot be decoded.
	ErrMalformedListing = errors.New("malformed directory listing")
)
