package errs

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
)

func TestKindOf(t *testing.T) {
	err := New(NotFound, "no such event")
	if KindOf(err) != NotFound {
		t.Fatalf("expected NotFound, got %v", KindOf(err))
	}
	if KindOf(errors.New("plain")) != Internal {
		t.Fatalf("unclassified errors should report Internal")
	}
	if KindOf(nil) != Internal {
		t.Fatalf("nil should report Internal")
	}
}

func TestKindSurvivesWrapping(t *testing.T) {
	inner := New(Unauthenticated, "bad token")
	outer := fmt.Errorf("ingest: %w", inner)
	if KindOf(outer) != Unauthenticated {
		t.Fatalf("kind lost through fmt.Errorf wrap")
	}
	if !IsKind(outer, Unauthenticated) {
		t.Fatalf("IsKind failed through wrap")
	}
}

func TestWrapNil(t *testing.T) {
	if Wrap(Corruption, "open queue", nil) != nil {
		t.Fatalf("Wrap(nil) must return nil")
	}
}

func TestUnwrap(t *testing.T) {
	cause := errors.New("disk io")
	err := Wrap(Corruption, "open queue", cause)
	if !errors.Is(err, cause) {
		t.Fatalf("expected cause to be reachable via errors.Is")
	}
}

func TestHTTPStatus(t *testing.T) {
	cases := []struct {
		kind Kind
		want int
	}{
		{Unauthenticated, http.StatusUnauthorized},
		{PermissionDenied, http.StatusForbidden},
		{NotFound, http.StatusNotFound},
		{InvalidInput, http.StatusBadRequest},
		{RateLimited, http.StatusTooManyRequests},
		{Conflict, http.StatusConflict},
		{TransientUpstream, http.StatusBadGateway},
		{Internal, http.StatusInternalServerError},
		{Corruption, http.StatusInternalServerError},
	}
	for _, tc := range cases {
		if got := HTTPStatus(tc.kind); got != tc.want {
			t.Fatalf("HTTPStatus(%v) = %d, want %d", tc.kind, got, tc.want)
		}
	}
}
