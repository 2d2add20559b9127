package errors

import stderrors "errors"

// GetCode extracts the error code from any error.
// Returns CodeUnknown if the error is not a domain error.
func GetCode(err error) Code {
	var e *Error
	if stderrors.As(err, &e) {
		return e.Code
	}
	return CodeUnknown
}

// HTTPStatusFor returns the HTTP status for any error, defaulting to 500
// for errors that are not domain errors.
func HTTPStatusFor(err error) int {
	return GetCode(err).HTTPStatus()
}
