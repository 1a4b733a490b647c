package main

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrInvalidArgument     = errors.New("invalid argument")
	ErrNotFound            = errors.New("not found")
	ErrUnauthenticated     = errors.New("caller identity is required")
	ErrForbidden           = errors.New("forbidden")
	ErrConflict            = errors.New("conflict")
	ErrUpstreamUnavailable = errors.New("upstream unavailable")
	ErrTimeout             = errors.New("upstream timeout")
	ErrDeclined            = errors.New("payment declined")
	ErrCompensationFailed  = errors.New("compensation failed")
	ErrIllegalTransition   = errors.New("illegal order status transition")
)

// IsTransient reports whether err is worth retrying against a collaborator.
func IsTransient(err error) bool {
	return errors.Is(err, ErrUpstreamUnavailable) || errors.Is(err, ErrTimeout)
}

// SagaStep names the saga phase a failure belongs to.
type SagaStep string

const (
	StepPricing      SagaStep = "pricing"
	StepAddress      SagaStep = "address"
	StepPayment      SagaStep = "payment"
	StepConfirmation SagaStep = "confirmation"
)

// SagaError is returned when an order saga ends in a failure branch.
type SagaError struct {
	Step     SagaStep
	OrderID  string
	Status   OrderStatus
	Products []string
	Err      error
}

func (e *SagaError) Error() string {
	msg := fmt.Sprintf("order %s failed at %s step", e.OrderID, e.Step)
	if len(e.Products) > 0 {
		msg += " (products: " + strings.Join(e.Products, ", ") + ")"
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *SagaError) Unwrap() error { return e.Err }
