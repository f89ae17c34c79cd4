// Package validation provides input validation middleware for the HTTP API.
package validation

import (
	"net/http"
	"regexp"
	"strings"

	"github.com/gin-gonic/gin"
)

// MaxRequestSize is the maximum request body size (1MB)
const MaxRequestSize = 1 << 20 // 1MB

// MaxIdentLength is the maximum length for tenant, user, and feature identifiers
const MaxIdentLength = 64

// identRegex validates tenant/user/feature identifiers: URL-safe, no
// leading separator. The reserved "#shared" id never comes in over HTTP.
var identRegex = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9_.-]{0,63}$`)

// RequestSizeMiddleware limits request body size
func RequestSizeMiddleware(maxSize int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxSize)
		c.Next()
	}
}

// IsValidIdent checks if a string is a well-formed identifier
func IsValidIdent(s string) bool {
	return identRegex.MatchString(s)
}

// ValidationError represents a validation error
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationErrors is a collection of validation errors
type ValidationErrors []ValidationError

// Error implements the error interface
func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return "validation failed"
	}
	return e[0].Field + ": " + e[0].Message
}

// Validate validates a request and returns errors
func Validate(validators ...func() *ValidationError) ValidationErrors {
	var errors ValidationErrors
	for _, v := range validators {
		if err := v(); err != nil {
			errors = append(errors, *err)
		}
	}
	return errors
}

// Required checks if a field is non-empty
func Required(field, value string) func() *ValidationError {
	return func() *ValidationError {
		if strings.TrimSpace(value) == "" {
			return &ValidationError{Field: field, Message: "is required"}
		}
		return nil
	}
}

// ValidIdent checks if a field is a well-formed identifier
func ValidIdent(field, value string) func() *ValidationError {
	return func() *ValidationError {
		if value == "" {
			return nil // Use Required for required fields
		}
		if !IsValidIdent(value) {
			return &ValidationError{Field: field, Message: "must be a URL-safe identifier"}
		}
		return nil
	}
}

// MaxLength checks if a field exceeds max length
func MaxLength(field, value string, max int) func() *ValidationError {
	return func() *ValidationError {
		if len(value) > max {
			return &ValidationError{Field: field, Message: "exceeds maximum length"}
		}
		return nil
	}
}

// IdentParamsMiddleware validates the :tenant and :user URL parameters on
// routes that use them, rejecting malformed identifiers early.
func IdentParamsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		for _, name := range []string{"tenant", "user"} {
			v := c.Param(name)
			if v != "" && !IsValidIdent(v) {
				c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
					"error":   "invalid_" + name,
					"message": name + " must be a URL-safe identifier",
				})
				return
			}
		}
		c.Next()
	}
}
