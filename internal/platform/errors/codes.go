// Package errors defines the stable error kinds returned across the auth boundary.
package errors

import (
	"net/http"

	"google.golang.org/grpc/codes"
)

// Code is a machine-readable error kind.
type Code string

const (
	CodeValidation          Code = "VALIDATION_ERROR"
	CodeRateLimited         Code = "RATE_LIMITED"
	CodeInvalidOrExpiredOTP Code = "INVALID_OR_EXPIRED_CODE"
	CodeUnauthenticated     Code = "UNAUTHENTICATED"
	CodeDelivery            Code = "DELIVERY_ERROR"
	CodeNotFound            Code = "NOT_FOUND"
	CodeInternal            Code = "INTERNAL"
)

// HTTPStatus maps the code to the HTTP status used by the REST binding.
func (c Code) HTTPStatus() int {
	switch c {
	case CodeValidation:
		return http.StatusBadRequest
	case CodeRateLimited:
		return http.StatusTooManyRequests
	case CodeInvalidOrExpiredOTP, CodeUnauthenticated:
		return http.StatusUnauthorized
	case CodeDelivery:
		return http.StatusBadGateway
	case CodeNotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

// GRPCCode maps the code to a gRPC status code.
func (c Code) GRPCCode() codes.Code {
	switch c {
	case CodeValidation:
		return codes.InvalidArgument
	case CodeRateLimited:
		return codes.ResourceExhausted
	case CodeInvalidOrExpiredOTP, CodeUnauthenticated:
		return codes.Unauthenticated
	case CodeDelivery:
		return codes.Unavailable
	case CodeNotFound:
		return codes.NotFound
	default:
		return codes.Internal
	}
}

// Retryable reports whether the client can recover by retrying the same request later.
func (c Code) Retryable() bool {
	return c == CodeRateLimited || c == CodeDelivery
}
