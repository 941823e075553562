//go:build !integration

package domain_test

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"cardano-subscription-wallet/internal/domain"
)

type infoErr struct {
	code int
	info string
}

func (e *infoErr) Error() string      { return fmt.Sprintf("wallet error %d: %s", e.code, e.info) }
func (e *infoErr) WalletInfo() string { return e.info }
func (e *infoErr) WalletCode() int    { return e.code }

type statusErr struct {
	code int
	text string
	msg  string
}

func (e *statusErr) Error() string             { return fmt.Sprintf("%d %s", e.code, e.text) }
func (e *statusErr) HTTPStatus() (int, string) { return e.code, e.text }
func (e *statusErr) ServerMessage() string     { return e.msg }

func TestClassify(t *testing.T) {
	t.Run("nil", func(t *testing.T) {
		if got := domain.Classify(nil); got != nil {
			t.Fatalf("got %v", got)
		}
	})

	t.Run("already classified error wins", func(t *testing.T) {
		orig := domain.E(domain.KindUserRejected, "declined", &infoErr{code: 2, info: "user declined"})
		got := domain.Classify(fmt.Errorf("wrapped: %w", orig))
		if got != orig {
			t.Fatalf("got %v, want the original classified error", got)
		}
	})

	t.Run("wallet info field", func(t *testing.T) {
		got := domain.Classify(&infoErr{code: -2, info: "extension crashed"})
		if got.Kind != domain.KindWalletError {
			t.Fatalf("kind = %s", got.Kind)
		}
		if got.Message != "extension crashed" {
			t.Fatalf("message = %q", got.Message)
		}
	})

	t.Run("wallet info beats transport shape", func(t *testing.T) {
		// An error carrying both shapes classifies as a wallet failure.
		got := domain.Classify(&bothErr{
			infoErr:   infoErr{code: -2, info: "native"},
			statusErr: statusErr{code: 500, text: "Internal Server Error"},
		})
		if got.Kind != domain.KindWalletError {
			t.Fatalf("kind = %s", got.Kind)
		}
	})

	t.Run("transport with structured message", func(t *testing.T) {
		got := domain.Classify(&statusErr{code: 409, text: "Conflict", msg: "already subscribed"})
		if got.Kind != domain.KindTransport {
			t.Fatalf("kind = %s", got.Kind)
		}
		if got.Status != "Conflict" || got.ServerNote != "already subscribed" {
			t.Fatalf("status = %q, note = %q", got.Status, got.ServerNote)
		}
	})

	t.Run("generic fallback", func(t *testing.T) {
		got := domain.Classify(errors.New("connection refused"))
		if got.Kind != domain.KindTransport {
			t.Fatalf("kind = %s", got.Kind)
		}
		if got.Status != "" || got.ServerNote != "" {
			t.Fatalf("generic failures carry no server detail: %+v", got)
		}
	})
}

type bothErr struct {
	infoErr
	statusErr
}

func (e *bothErr) Error() string { return e.infoErr.Error() }

func TestUserMessage(t *testing.T) {
	cases := []struct {
		name string
		err  *domain.Error
		want string
	}{
		{
			name: "status and server note",
			err:  &domain.Error{Kind: domain.KindTransport, Status: "Conflict", ServerNote: "already subscribed"},
			want: "Conflict - already subscribed",
		},
		{
			name: "server note only",
			err:  &domain.Error{Kind: domain.KindTransport, ServerNote: "try later."},
			want: "try later. Please try again.",
		},
		{
			name: "plain message",
			err:  domain.E(domain.KindUserRejected, "connection request was declined", nil),
			want: "connection request was declined. Please try again.",
		},
		{
			name: "empty",
			err:  &domain.Error{Kind: domain.KindTransport},
			want: "Something wrong occurred. Please try again later.",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.err.UserMessage(); got != tc.want {
				t.Fatalf("got %q, want %q", got, tc.want)
			}
		})
	}
}

func TestCanceled(t *testing.T) {
	if !domain.Canceled(context.Canceled) {
		t.Fatal("context.Canceled")
	}
	if !domain.Canceled(fmt.Errorf("op: %w", context.DeadlineExceeded)) {
		t.Fatal("wrapped deadline")
	}
	if !domain.Canceled(domain.E(domain.KindWalletError, "wallet call failed", context.Canceled)) {
		t.Fatal("classified error with a cancellation cause")
	}
	if domain.Canceled(errors.New("boom")) {
		t.Fatal("plain error is not a cancellation")
	}
}

func TestErrorUnwrap(t *testing.T) {
	cause := errors.New("root")
	e := domain.E(domain.KindTransport, "request failed", cause)
	if !errors.Is(e, cause) {
		t.Fatal("cause not reachable through Unwrap")
	}
}
