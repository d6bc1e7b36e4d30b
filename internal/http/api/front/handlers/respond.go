package handlers

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/draftforge/usagegate/internal/enforcement"
)

// formatSeconds renders a duration as whole seconds for Retry-After.
func formatSeconds(d time.Duration) string {
	seconds := int64(d.Seconds())
	if seconds < 1 {
		seconds = 1
	}
	return strconv.FormatInt(seconds, 10)
}

// errorPayload is the error object embedded in failure responses.
type errorPayload struct {
	Code              enforcement.Kind `json:"code"`
	Message           string           `json:"message"`
	Retryable         bool             `json:"retryable"`
	RetryAfterSeconds int64            `json:"retry_after_seconds,omitempty"`
}

// ErrorBody builds the wire error object for an enforcement kind.
func ErrorBody(kind enforcement.Kind, message string) gin.H {
	payload := errorPayload{
		Code:      kind,
		Message:   message,
		Retryable: kind.Retryable(),
	}
	if retryAfter := kind.RetryAfter(); retryAfter > 0 {
		payload.RetryAfterSeconds = int64(retryAfter.Seconds())
	}
	return gin.H{"error": payload}
}

// WriteKindError aborts the request with the kind's fixed status, the
// wire error body, and a Retry-After header when one applies.
func WriteKindError(c *gin.Context, kind enforcement.Kind, message string) {
	if retryAfter := kind.RetryAfter(); retryAfter > 0 {
		c.Header("Retry-After", strconv.FormatInt(int64(retryAfter.Seconds()), 10))
	}
	c.AbortWithStatusJSON(kind.Status(), ErrorBody(kind, message))
}

// WriteError aborts the request based on a classified error.
func WriteError(c *gin.Context, err error) {
	kind := enforcement.KindOf(err)
	message := ""
	if err != nil {
		message = err.Error()
	}
	WriteKindError(c, kind, message)
}
