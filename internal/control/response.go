package control

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"

	"trading-signalsv1/internal/pipeline"
)

var validate = validator.New()

// apiResponse is the envelope of every REST reply.
type apiResponse struct {
	Status  string            `json:"status"` // "ok" or "error"
	Message string            `json:"message,omitempty"`
	Data    interface{}       `json:"data,omitempty"`
	Errors  []validationError `json:"errors,omitempty"`
}

type validationError struct {
	Code    string `json:"code"`
	Field   string `json:"field,omitempty"`
	Message string `json:"message"`
}

func okResponse(c echo.Context, data interface{}) error {
	return c.JSON(http.StatusOK, apiResponse{Status: "ok", Data: data})
}

func errorResponse(c echo.Context, code int, msg string) error {
	return c.JSON(code, apiResponse{Status: "error", Message: msg})
}

// engineError maps a pipeline error onto an HTTP status.
func engineError(c echo.Context, err error) error {
	return errorResponse(c, statusFor(err), err.Error())
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, pipeline.ErrInvalidConfig), errors.Is(err, pipeline.ErrUnknownSymbol):
		return http.StatusBadRequest
	case errors.Is(err, pipeline.ErrAlreadyScanning), errors.Is(err, pipeline.ErrNotScanning):
		return http.StatusConflict
	case errors.Is(err, pipeline.ErrStopped), errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

// bindAndValidate binds the request body into req, applies `default` tags
// and runs struct validation. A non-nil result is the 400 payload.
func bindAndValidate(c echo.Context, req interface{}) []validationError {
	if err := c.Bind(req); err != nil {
		return toValidationErrors(err)
	}
	if err := defaults.Set(req); err != nil {
		return toValidationErrors(err)
	}
	if err := validate.StructCtx(c.Request().Context(), req); err != nil {
		return toValidationErrors(err)
	}
	return nil
}

func toValidationErrors(err error) []validationError {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		out := make([]validationError, 0, len(verrs))
		for _, fe := range verrs {
			out = append(out, validationError{
				Code:    "ERR_" + strings.ToUpper(fe.Tag()),
				Field:   fe.Namespace(),
				Message: fieldMessage(fe),
			})
		}
		return out
	}

	var he *echo.HTTPError
	if errors.As(err, &he) {
		return []validationError{{Code: "ERR_BIND", Message: fmt.Sprintf("%v", he.Message)}}
	}
	return []validationError{{Code: "ERR_UNKNOWN", Message: err.Error()}}
}

func fieldMessage(fe validator.FieldError) string {
	field := fe.Field()
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", field)
	case "min", "gte":
		return fmt.Sprintf("%s must be at least %s", field, fe.Param())
	case "max", "lte":
		return fmt.Sprintf("%s must be at most %s", field, fe.Param())
	default:
		return fmt.Sprintf("%s failed validation: %s", field, fe.Tag())
	}
}

func badRequest(c echo.Context, errs []validationError) error {
	return c.JSON(http.StatusBadRequest, apiResponse{Status: "error", Message: "invalid request", Errors: errs})
}
