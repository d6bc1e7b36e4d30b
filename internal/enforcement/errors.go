package enforcement

import (
	"errors"
	"fmt"
	"net/http"
	"time"
)

// Kind identifies a structured enforcement error category.
type Kind string

// Kind constants enumerate every enforcement error category.
const (
	KindTenantUnresolved      Kind = "TENANT_UNRESOLVED"
	KindPlanExpired           Kind = "PLAN_EXPIRED"
	KindTenantSuspended       Kind = "TENANT_SUSPENDED"
	KindFeatureUnavailable    Kind = "FEATURE_UNAVAILABLE"
	KindTaskUnavailable       Kind = "TASK_UNAVAILABLE"
	KindModelClassUnavailable Kind = "MODEL_CLASS_UNAVAILABLE"
	KindQuotaExceeded         Kind = "QUOTA_EXCEEDED"
	KindDailyQuotaExceeded    Kind = "DAILY_QUOTA_EXCEEDED"
	KindMonthlyQuotaExceeded  Kind = "MONTHLY_QUOTA_EXCEEDED"
	KindConcurrencyLimit      Kind = "CONCURRENCY_LIMIT"
	KindReservationFailed     Kind = "RESERVATION_FAILED"
	KindReservationNotFound   Kind = "RESERVATION_NOT_FOUND"
	KindReservationExpired    Kind = "RESERVATION_EXPIRED"
	KindDuplicateReservation  Kind = "DUPLICATE_RESERVATION"
	KindRateLimited           Kind = "RATE_LIMITED"
	KindPolicyViolation       Kind = "POLICY_VIOLATION"
	KindDatabaseError         Kind = "DATABASE_ERROR"
	KindServiceUnavailable    Kind = "SERVICE_UNAVAILABLE"
)

// kindProps fixes the transport attributes of each error kind.
type kindProps struct {
	status     int
	retryable  bool
	retryAfter time.Duration
}

var kindTable = map[Kind]kindProps{
	KindTenantUnresolved:      {status: http.StatusUnauthorized},
	KindPlanExpired:           {status: http.StatusForbidden},
	KindTenantSuspended:       {status: http.StatusForbidden},
	KindFeatureUnavailable:    {status: http.StatusForbidden},
	KindTaskUnavailable:       {status: http.StatusForbidden},
	KindModelClassUnavailable: {status: http.StatusForbidden},
	KindQuotaExceeded:         {status: http.StatusTooManyRequests},
	KindDailyQuotaExceeded:    {status: http.StatusTooManyRequests, retryAfter: time.Hour},
	KindMonthlyQuotaExceeded:  {status: http.StatusTooManyRequests, retryAfter: 24 * time.Hour},
	KindConcurrencyLimit:      {status: http.StatusTooManyRequests, retryAfter: 5 * time.Second},
	KindReservationFailed:     {status: http.StatusConflict, retryable: true},
	KindReservationNotFound:   {status: http.StatusNotFound},
	KindReservationExpired:    {status: http.StatusGone},
	KindDuplicateReservation:  {status: http.StatusConflict},
	KindRateLimited:           {status: http.StatusTooManyRequests, retryable: true, retryAfter: time.Second},
	KindPolicyViolation:       {status: http.StatusForbidden},
	KindDatabaseError:         {status: http.StatusInternalServerError, retryable: true},
	KindServiceUnavailable:    {status: http.StatusServiceUnavailable, retryable: true},
}

// Status returns the HTTP status class for the kind.
func (k Kind) Status() int {
	if props, ok := kindTable[k]; ok {
		return props.status
	}
	return http.StatusInternalServerError
}

// Retryable reports whether callers may retry the same request.
func (k Kind) Retryable() bool {
	return kindTable[k].retryable
}

// RetryAfter returns the suggested retry delay, zero when none applies.
func (k Kind) RetryAfter() time.Duration {
	return kindTable[k].retryAfter
}

// Infrastructure reports whether the kind denotes an infrastructure
// fault rather than a policy outcome. Only these kinds are eligible for
// the fail-open treatment on the eligibility-check path.
func (k Kind) Infrastructure() bool {
	return k == KindDatabaseError || k == KindServiceUnavailable
}

// Error is a structured enforcement error carrying a kind and optional cause.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap exposes the wrapped cause.
func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// NewError constructs an enforcement error of the given kind.
func NewError(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// WrapError constructs an enforcement error wrapping a cause.
func WrapError(kind Kind, err error, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Err: err}
}

// KindOf extracts the enforcement kind from an error chain, mapping
// unclassified errors to DATABASE_ERROR as the fail-closed default.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var enfErr *Error
	if errors.As(err, &enfErr) {
		return enfErr.Kind
	}
	return KindDatabaseError
}
