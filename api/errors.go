package api

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"

	"taskboard-api/domain"
)

const kindUnauthorized = "unauthorized"

type errorResponse struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
	Detail  string `json:"detail,omitempty"`
}

func statusForKind(kind domain.Kind) int {
	switch kind {
	case domain.KindValidation:
		return http.StatusBadRequest
	case domain.KindNotFound:
		return http.StatusNotFound
	case domain.KindForbidden:
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}

// respondError writes err as a JSON error body. The wrapped cause is only
// exposed when debug is set.
func respondError(c echo.Context, err error, debug bool) error {
	var de *domain.Error
	if !errors.As(err, &de) {
		de = &domain.Error{Kind: domain.KindInternal, Message: "internal error", Err: err}
	}
	body := errorResponse{Kind: string(de.Kind), Message: de.Message}
	if debug && de.Err != nil {
		body.Detail = de.Err.Error()
	}
	status := statusForKind(de.Kind)
	setErrorStage(c, string(de.Kind))
	if status >= http.StatusInternalServerError {
		c.Logger().Error(err)
	}
	return c.JSON(status, body)
}

func badRequest(c echo.Context, message string) error {
	setErrorStage(c, "decode")
	return c.JSON(http.StatusBadRequest, errorResponse{Kind: string(domain.KindValidation), Message: message})
}

// HTTPErrorHandler renders errors raised outside the handlers (unknown
// routes, rejected bodies, recovered panics) in the same shape as domain
// errors.
func HTTPErrorHandler(debug bool) echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}
		var he *echo.HTTPError
		if !errors.As(err, &he) {
			if rerr := respondError(c, err, debug); rerr != nil {
				c.Logger().Error(rerr)
			}
			return
		}
		body := errorResponse{Kind: kindForStatus(he.Code), Message: httpErrorMessage(he)}
		if debug && he.Internal != nil {
			body.Detail = he.Internal.Error()
		}
		setErrorStage(c, body.Kind)
		if he.Code >= http.StatusInternalServerError {
			c.Logger().Error(err)
		}
		var werr error
		if c.Request().Method == http.MethodHead {
			werr = c.NoContent(he.Code)
		} else {
			werr = c.JSON(he.Code, body)
		}
		if werr != nil {
			c.Logger().Error(werr)
		}
	}
}

func kindForStatus(status int) string {
	switch {
	case status == http.StatusUnauthorized:
		return kindUnauthorized
	case status == http.StatusForbidden:
		return string(domain.KindForbidden)
	case status == http.StatusNotFound:
		return string(domain.KindNotFound)
	case status >= http.StatusInternalServerError:
		return string(domain.KindInternal)
	default:
		return string(domain.KindValidation)
	}
}

func httpErrorMessage(he *echo.HTTPError) string {
	switch msg := he.Message.(type) {
	case string:
		return msg
	case error:
		return msg.Error()
	case nil:
		return http.StatusText(he.Code)
	default:
		return fmt.Sprint(msg)
	}
}
