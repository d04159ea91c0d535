package server

import (
	"errors"
	"fmt"
	"strconv"
)

var (
	errNoStore         = errors.New("bookmark store is not configured")
	errBadJSON         = errors.New("invalid JSON body")
	errNoSession       = errors.New("document not found")
	errMissingDocument = errors.New("either url or html is required")
	errBadRange        = errors.New("selection range is outside the document text")
)

func parsePositive(v string) (int, error) {
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("expected a positive integer, got %q", v)
	}
	return n, nil
}
