package trade

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"

	"github.com/SergeySdv/backpack-volume-auto/internal/models"
)

// ErrOrderbookEmpty is returned when the depth snapshot does not have enough
// levels on the requested side to quote a price.
var ErrOrderbookEmpty = errors.New("orderbook is empty")

// FatalError marks failures that cannot be fixed by retrying: bad credentials,
// insufficient funds, a quantity that rounds to zero. Workers treat these as a
// signal to stop the account instead of hammering the API.
type FatalError struct {
	msg string
}

func (e *FatalError) Error() string { return e.msg }

// Fatalf builds a FatalError with fmt-style formatting.
func Fatalf(format string, args ...interface{}) error {
	return &FatalError{msg: fmt.Sprintf(format, args...)}
}

// IsFatal reports whether err (or anything it wraps) is a FatalError.
func IsFatal(err error) bool {
	var fe *FatalError
	return errors.As(err, &fe)
}

// fokRejectMarker is the substring Backpack returns when a Fill-or-Kill order
// cannot be filled in full at the requested price.
const fokRejectMarker = "Fill or kill order would not complete fill immediately"

// IsFOKReject reports whether err is the exchange rejecting a FOK order
// because the book moved. Callers re-quote and resubmit on this error.
func IsFOKReject(err error) bool {
	var apiErr *models.APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	return strings.Contains(apiErr.Body, fokRejectMarker)
}

// fatalMarkers are API error bodies that indicate a problem retrying cannot
// solve. Matching is substring-based because Backpack wraps them differently
// across endpoints.
var fatalMarkers = []string{
	"Insufficient funds",
	"Invalid API key",
	"Invalid signature",
	"Quantity decimal too long",
	"Account liquidating",
}

// classify folds an exchange error into the engine's taxonomy: FOK rejections
// pass through untouched for the re-quote loop, known unrecoverable bodies
// become FatalError, everything else stays retryable.
func classify(err error) error {
	if err == nil {
		return nil
	}
	if IsFOKReject(err) {
		return err
	}
	var apiErr *models.APIError
	if errors.As(err, &apiErr) {
		for _, marker := range fatalMarkers {
			if strings.Contains(apiErr.Body, marker) {
				return Fatalf("exchange rejected request: %s", apiErr.Body)
			}
		}
		if apiErr.StatusCode == 401 || apiErr.StatusCode == 403 {
			return Fatalf("authentication failed: %s", apiErr.Body)
		}
	}
	return err
}
