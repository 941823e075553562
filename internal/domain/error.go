package domain

import (
	"context"
	"errors"
	"fmt"
)

// Kind is the failure taxonomy every error surfaced to a user is reduced to.
type Kind string

const (
	KindWalletUnavailable Kind = "wallet_unavailable"
	KindUserRejected      Kind = "user_rejected"
	KindInsufficientFunds Kind = "insufficient_funds"
	KindMalformedAddress  Kind = "malformed_address"
	KindWalletError       Kind = "wallet_error"
	KindTransport         Kind = "transport_error"
	KindAgreementDeclined Kind = "agreement_declined"
)

var (
	ErrConnectInFlight = errors.New("a connect attempt is already in flight")
	ErrPaymentInFlight = errors.New("a settlement attempt is already in flight")
	ErrNotConnected    = errors.New("no wallet session is connected")
	ErrNotFound        = errors.New("entity not found")
)

// Error is a classified failure. Status and server message are only set for
// transport failures that carried a structured server response.
type Error struct {
	Kind       Kind
	Message    string
	Status     string
	ServerNote string
	cause      error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.cause }

// E builds a classified error wrapping an optional cause.
func E(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, cause: cause}
}

// UserMessage is what a transient UI notice should display.
func (e *Error) UserMessage() string {
	switch {
	case e.ServerNote != "" && e.Status != "":
		return e.Status + " - " + e.ServerNote
	case e.ServerNote != "":
		return e.ServerNote + " Please try again."
	case e.Message != "":
		return e.Message + ". Please try again."
	default:
		return "Something wrong occurred. Please try again later."
	}
}

// InfoCarrier is implemented by wallet-native failures that carry the
// extension's own human-readable info string.
type InfoCarrier interface {
	error
	WalletInfo() string
	WalletCode() int
}

// StatusCarrier is implemented by transport failures that carry an HTTP
// status and, possibly, a structured server message.
type StatusCarrier interface {
	error
	HTTPStatus() (code int, text string)
	ServerMessage() string
}

// Classify reduces any failure to exactly one taxonomy kind. Priority follows
// the error's shape: an already-classified error wins, then a wallet info
// field, then a transport response's status/message, else a generic fallback.
func Classify(err error) *Error {
	if err == nil {
		return nil
	}

	var de *Error
	if errors.As(err, &de) {
		return de
	}

	var ic InfoCarrier
	if errors.As(err, &ic) {
		return &Error{Kind: KindWalletError, Message: ic.WalletInfo(), cause: err}
	}

	var sc StatusCarrier
	if errors.As(err, &sc) {
		_, text := sc.HTTPStatus()
		return &Error{
			Kind:       KindTransport,
			Message:    "request failed",
			Status:     text,
			ServerNote: sc.ServerMessage(),
			cause:      err,
		}
	}

	return &Error{Kind: KindTransport, Message: "something wrong occurred", cause: err}
}

// Canceled reports whether err is a context cancellation rather than a real
// failure; cancellations never surface a notice.
func Canceled(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
