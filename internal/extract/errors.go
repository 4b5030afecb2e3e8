package extract

import (
	"fmt"

	"github.com/talentsift/harvest-cli/internal/fetcher"
)

// ExtractionError means a record could not be produced at all: the detail
// page did not load, did not parse, or had no title. Field-level problems
// never produce one; they leave zero values and the record stays viable.
type ExtractionError struct {
	URL  string
	Wall fetcher.WallType // non-empty when the page was a login/verification interstitial
	Err  error
}

func (e *ExtractionError) Error() string {
	if e.Wall != fetcher.WallNone {
		return fmt.Sprintf("extract %s: landed on %s wall", e.URL, e.Wall)
	}
	return fmt.Sprintf("extract %s: %v", e.URL, e.Err)
}

func (e *ExtractionError) Unwrap() error {
	return e.Err
}
