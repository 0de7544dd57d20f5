package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	gatewaydomain "github.com/smallbiznis/tokenrelay/internal/gateway/domain"
	"github.com/smallbiznis/tokenrelay/internal/identity"
	usagedomain "github.com/smallbiznis/tokenrelay/internal/usage/domain"
)

type ValidationError struct {
	Field   string `json:"field"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

type ValidationErrors struct {
	Errors []ValidationError `json:"errors"`
}

func (v ValidationErrors) Error() string {
	return "validation error"
}

type errorResponse struct {
	Success bool              `json:"success"`
	Message string            `json:"message"`
	Errors  []ValidationError `json:"errors,omitempty"`
}

var (
	ErrNotFound = errors.New("not_found")
)

const (
	msgValidation          = "validation error"
	msgMissingToken        = "No authorization header provided"
	msgInvalidToken        = "Invalid or expired token"
	msgAuthFailed          = "Authentication failed"
	msgConfiguration       = "OPENROUTER_API_KEY is missing"
	msgUpstreamUnavailable = "Failed to fetch from LLM"
	msgPersistence         = "Failed to log usage to database"
	msgUsageRead           = "Failed to load usage from database"
	msgNotFound            = "not found"
	msgInternal            = "internal server error"
)

func ErrorHandlingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if c.Writer.Written() {
			return
		}

		lastErr := c.Errors.Last()
		if lastErr == nil {
			return
		}

		status, payload := mapError(lastErr.Err)
		c.Header("Content-Type", "application/json")
		c.AbortWithStatusJSON(status, payload)
	}
}

func AbortWithError(c *gin.Context, err error) {
	if err == nil {
		return
	}
	_ = c.Error(err)
	c.Abort()
}

func newValidationError(field, code, message string) error {
	return &ValidationErrors{
		Errors: []ValidationError{
			{
				Field:   field,
				Code:    code,
				Message: message,
			},
		},
	}
}

// bindingError turns gin binding failures into field-level validation errors.
func bindingError(err error) error {
	var fieldErrs validator.ValidationErrors
	if errors.As(err, &fieldErrs) {
		out := &ValidationErrors{Errors: make([]ValidationError, 0, len(fieldErrs))}
		for _, fe := range fieldErrs {
			field := jsonFieldName(fe.Field())
			out.Errors = append(out.Errors, ValidationError{
				Field:   field,
				Code:    fe.Tag(),
				Message: fieldErrorMessage(field, fe),
			})
		}
		return out
	}

	var syntaxErr *json.SyntaxError
	var typeErr *json.UnmarshalTypeError
	var numErr *strconv.NumError
	switch {
	case errors.Is(err, io.EOF):
		return newValidationError("body", "required", "request body is required")
	case errors.As(err, &syntaxErr):
		return newValidationError("body", "invalid_json", "request body is not valid JSON")
	case errors.As(err, &typeErr):
		return newValidationError(typeErr.Field, "invalid_type", "expected "+typeErr.Type.String())
	case errors.As(err, &numErr):
		return newValidationError("query", "invalid_number", "expected an integer")
	default:
		return newValidationError("request", "invalid_request", "invalid request")
	}
}

func fieldErrorMessage(field string, fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return field + " is required"
	case "gte", "min":
		return field + " must be at least " + fe.Param()
	case "lte", "max":
		return field + " must be at most " + fe.Param()
	default:
		return field + " is invalid"
	}
}

func jsonFieldName(name string) string {
	if name == "" {
		return name
	}
	return strings.ToLower(name[:1]) + name[1:]
}

func mapError(err error) (int, errorResponse) {
	if err == nil {
		return http.StatusInternalServerError, errorResponse{Message: msgInternal}
	}

	var vErr *ValidationErrors
	if errors.As(err, &vErr) && vErr != nil {
		return http.StatusBadRequest, errorResponse{Message: msgValidation, Errors: vErr.Errors}
	}

	var notAllowed *gatewaydomain.ModelNotAllowedError
	switch {
	case errors.Is(err, identity.ErrMissingToken):
		return http.StatusUnauthorized, errorResponse{Message: msgMissingToken}
	case errors.Is(err, identity.ErrInvalidToken):
		return http.StatusUnauthorized, errorResponse{Message: msgInvalidToken}
	case errors.Is(err, identity.ErrProviderUnavailable):
		return http.StatusUnauthorized, errorResponse{Message: msgAuthFailed}
	case errors.As(err, &notAllowed):
		return http.StatusBadRequest, errorResponse{Message: notAllowed.Error()}
	case errors.Is(err, usagedomain.ErrInvalidPagination):
		return http.StatusBadRequest, errorResponse{
			Message: msgValidation,
			Errors:  []ValidationError{{Field: "pagination", Code: "out_of_range", Message: strings.TrimPrefix(err.Error(), usagedomain.ErrInvalidPagination.Error()+": ")}},
		}
	case errors.Is(err, gatewaydomain.ErrConfiguration):
		return http.StatusInternalServerError, errorResponse{Message: msgConfiguration}
	case errors.Is(err, gatewaydomain.ErrUpstreamUnavailable):
		return http.StatusInternalServerError, errorResponse{Message: msgUpstreamUnavailable}
	case errors.Is(err, usagedomain.ErrPersistence):
		return http.StatusInternalServerError, errorResponse{Message: msgPersistence}
	case errors.Is(err, usagedomain.ErrUsageRead):
		return http.StatusInternalServerError, errorResponse{Message: msgUsageRead}
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound, errorResponse{Message: msgNotFound}
	default:
		return http.StatusInternalServerError, errorResponse{Message: msgInternal}
	}
}

// classifyErrorForLog labels request errors for the access log.
func classifyErrorForLog(err error) string {
	var vErr *ValidationErrors
	switch {
	case errors.As(err, &vErr), errors.Is(err, usagedomain.ErrInvalidPagination):
		return "validation_error"
	case errors.Is(err, identity.ErrMissingToken), errors.Is(err, identity.ErrInvalidToken):
		return "unauthorized"
	case errors.Is(err, identity.ErrProviderUnavailable):
		return "identity_unavailable"
	case errors.Is(err, gatewaydomain.ErrModelNotAllowed):
		return "model_not_allowed"
	case errors.Is(err, gatewaydomain.ErrConfiguration):
		return "configuration_error"
	case errors.Is(err, gatewaydomain.ErrUpstreamUnavailable):
		var upstream *gatewaydomain.UpstreamError
		if errors.As(err, &upstream) {
			return "upstream_" + string(upstream.Class)
		}
		return "upstream_unavailable"
	case errors.Is(err, usagedomain.ErrPersistence), errors.Is(err, usagedomain.ErrUsageRead):
		return "persistence_error"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	default:
		return "internal_error"
	}
}
