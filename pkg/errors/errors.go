// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package errors provides structured error handling for fproxy.
package errors

import (
	"errors"
	"fmt"
)

// Common error types
var (
	// ErrBind indicates an endpoint address could not be bound.
	ErrBind = errors.New("bind failed")

	// ErrReceiveTimeout indicates no message arrived within the receive timeout.
	// It is not a failure: the forward loop uses it to re-check cancellation.
	ErrReceiveTimeout = errors.New("receive timeout")

	// ErrPartialMessage indicates a topic frame arrived without its payload frame.
	ErrPartialMessage = errors.New("partial message")

	// ErrMalformedMessage indicates a message that does not have exactly two frames.
	ErrMalformedMessage = fmt.Errorf("malformed message: %w", ErrPartialMessage)

	// ErrSendFailure indicates the outbound endpoint rejected or could not deliver a message.
	ErrSendFailure = errors.New("send failure")

	// ErrHookFailure indicates the interception hook returned an error or panicked.
	ErrHookFailure = errors.New("hook failure")

	// ErrTimeout indicates an operation timeout.
	ErrTimeout = errors.New("timeout")

	// ErrConnectionClosed indicates the endpoint was closed.
	ErrConnectionClosed = errors.New("connection closed")

	// ErrAlreadyStarted indicates a proxy was started more than once.
	ErrAlreadyStarted = errors.New("proxy already started")
)

// BindError is returned when an endpoint cannot be bound at construction.
type BindError struct {
	Endpoint string // inbound or outbound
	Address  string // bind specification
	Err      error  // Underlying error
}

// Error implements the error interface.
func (e *BindError) Error() string {
	return fmt.Sprintf("%s endpoint %s: %v: %v", e.Endpoint, e.Address, ErrBind, e.Err)
}

// Unwrap returns ErrBind and the underlying error.
func (e *BindError) Unwrap() []error {
	return []error{ErrBind, e.Err}
}

// NewBindError creates a new BindError.
func NewBindError(endpoint, address string, err error) error {
	if err == nil {
		return nil
	}
	return &BindError{
		Endpoint: endpoint,
		Address:  address,
		Err:      err,
	}
}

// ProxyError wraps an error with additional context.
type ProxyError struct {
	Op       string // Operation that failed
	ProxyID  string // Proxy instance identifier
	Endpoint string // inbound, outbound or hook
	Err      error  // Underlying error
}

// Error implements the error interface.
func (e *ProxyError) Error() string {
	if e.ProxyID != "" {
		return fmt.Sprintf("%s %s [%s]: %v", e.Endpoint, e.Op, e.ProxyID, e.Err)
	}
	return fmt.Sprintf("%s %s: %v", e.Endpoint, e.Op, e.Err)
}

// Unwrap returns the underlying error.
func (e *ProxyError) Unwrap() error {
	return e.Err
}

// New creates a new ProxyError.
func New(op, proxyID, endpoint string, err error) error {
	if err == nil {
		return nil
	}
	return &ProxyError{
		Op:       op,
		ProxyID:  proxyID,
		Endpoint: endpoint,
		Err:      err,
	}
}

// Wrap wraps an error with context.
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}
