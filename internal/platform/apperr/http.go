package apperr

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
)

// conflicts are persistence failures the caller can act on.
var conflicts = []*Error{ErrOwnedByOther, ErrHasVisits, ErrUsernameTaken}

// HTTPStatus maps err to a response status.
func HTTPStatus(err error) int {
	for _, c := range conflicts {
		if errors.Is(err, c) {
			return http.StatusConflict
		}
	}
	switch KindOf(err) {
	case Validation:
		return http.StatusBadRequest
	case Auth:
		return http.StatusUnauthorized
	case NotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

// PublicMessage is the text shown to clients. Only validation and conflict
// errors expose their own message; everything else is generic.
func PublicMessage(err error) string {
	var ae *Error
	switch HTTPStatus(err) {
	case http.StatusBadRequest, http.StatusConflict:
		if errors.As(err, &ae) {
			return ae.Message
		}
		return "invalid request"
	case http.StatusUnauthorized:
		return "authentication failed"
	case http.StatusNotFound:
		return "record not found"
	default:
		return "something went wrong, please try again"
	}
}

// ToHTTP converts err into an *echo.HTTPError. The original error is kept as
// Internal so the request logger records it.
func ToHTTP(err error) *echo.HTTPError {
	return echo.NewHTTPError(HTTPStatus(err), PublicMessage(err)).SetInternal(err)
}
