// SPDX-License-Identifier: MIT

package auth

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/larderhq/larder/internal/actor"
)

func TestHTTPActorSourceResolves(t *testing.T) {
	var gotPath, gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		json.NewEncoder(w).Encode(actor.Context{UserID: "u1", HouseholdID: "h2", Admin: true}) //nolint:errcheck
	}))
	defer srv.Close()

	src := NewHTTPActorSource(srv.URL+"/", "svc-token", time.Second)

	got, err := src.ActorFor(context.Background(), "u1")
	if err != nil {
		t.Fatalf("ActorFor: %v", err)
	}
	want := actor.Context{UserID: "u1", HouseholdID: "h2", Admin: true}
	if got != want {
		t.Errorf("actor = %+v, want %+v", got, want)
	}
	if gotPath != "/internal/actors/u1" {
		t.Errorf("path = %q, want /internal/actors/u1", gotPath)
	}
	if gotAuth != "Bearer svc-token" {
		t.Errorf("authorization = %q", gotAuth)
	}
}

func TestHTTPActorSourceEscapesUserID(t *testing.T) {
	var gotEscaped string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotEscaped = r.URL.EscapedPath()
		json.NewEncoder(w).Encode(actor.Context{UserID: "u/1"}) //nolint:errcheck
	}))
	defer srv.Close()

	if _, err := NewHTTPActorSource(srv.URL, "", time.Second).ActorFor(context.Background(), "u/1"); err != nil {
		t.Fatalf("ActorFor: %v", err)
	}
	if gotEscaped != "/internal/actors/u%2F1" {
		t.Errorf("escaped path = %q", gotEscaped)
	}
}

func TestHTTPActorSourceErrors(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
	}{
		{"not found", func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "no such user", http.StatusNotFound)
		}},
		{"server error", func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "boom", http.StatusInternalServerError)
		}},
		{"garbage body", func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte("{not json")) //nolint:errcheck
		}},
		{"anonymous actor", func(w http.ResponseWriter, r *http.Request) {
			json.NewEncoder(w).Encode(actor.Context{}) //nolint:errcheck
		}},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			srv := httptest.NewServer(tc.handler)
			defer srv.Close()

			if _, err := NewHTTPActorSource(srv.URL, "", time.Second).ActorFor(context.Background(), "u1"); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

func TestHTTPActorSourceTimeout(t *testing.T) {
	block := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-block
	}))
	defer srv.Close()
	defer close(block)

	src := NewHTTPActorSource(srv.URL, "", 50*time.Millisecond)
	if _, err := src.ActorFor(context.Background(), "u1"); err == nil {
		t.Fatal("expected timeout error")
	}
}

func TestHTTPActorSourceRejectsEmptyUser(t *testing.T) {
	if _, err := NewHTTPActorSource("http://127.0.0.1:0", "", time.Second).ActorFor(context.Background(), ""); err == nil {
		t.Fatal("expected error for empty user id")
	}
}

func TestNoAuthority(t *testing.T) {
	_, err := NoAuthority{}.ActorFor(context.Background(), "u1")
	if !errors.Is(err, ErrNoAuthority) {
		t.Errorf("ActorFor = %v, want ErrNoAuthority", err)
	}
}
