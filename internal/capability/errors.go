package capability

import "errors"

// MissingError signals that an operation needs a backend this build does not
// include. Retrying in the same process never helps.
type MissingError struct{ Backend Backend }

func (e MissingError) Error() string {
	return "missing capability: " + string(e.Backend) + " support not built (missing '" + string(e.Backend) + "' build tag)"
}

// IsMissing reports whether err (or anything it wraps) is a MissingError.
func IsMissing(err error) bool {
	var me MissingError
	return errors.As(err, &me)
}
