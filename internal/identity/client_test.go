package identity

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestClientCreate(t *testing.T) {
	var got createUserRequest
	var auth, apikey string

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/auth/v1/admin/users" {
			t.Fatalf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
		auth = r.Header.Get("Authorization")
		apikey = r.Header.Get("apikey")

		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Fatalf("decode request: %v", err)
		}

		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(userResponse{ID: "user-1", Email: got.Email})
	}))
	defer srv.Close()

	client := NewClient(srv.URL, "service-key", nil)

	user, err := client.Create(context.Background(), "jane@example.com", map[string]any{"full_name": "Jane"}, "123456")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if user.ID != "user-1" || user.Email != "jane@example.com" {
		t.Fatalf("unexpected identity: %+v", user)
	}

	if auth != "Bearer service-key" || apikey != "service-key" {
		t.Fatalf("missing auth headers: %q %q", auth, apikey)
	}
	if !got.EmailConfirm {
		t.Fatalf("expected auto-confirmed email")
	}
	if got.Password != "123456" {
		t.Fatalf("expected temporary password in payload, got %q", got.Password)
	}
	if got.UserMetadata["full_name"] != "Jane" {
		t.Fatalf("expected metadata passthrough, got %v", got.UserMetadata)
	}
}

func TestClientCreateConflict(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
	}))
	defer srv.Close()

	client := NewClient(srv.URL, "service-key", nil)

	_, err := client.Create(context.Background(), "jane@example.com", nil, "123456")
	if !errors.Is(err, ErrAlreadyExists) {
		t.Fatalf("expected ErrAlreadyExists, got %v", err)
	}
}

func TestClientCreateBadStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	client := NewClient(srv.URL, "service-key", nil)

	_, err := client.Create(context.Background(), "jane@example.com", nil, "123456")
	if err == nil || errors.Is(err, ErrAlreadyExists) {
		t.Fatalf("expected a bad status error, got %v", err)
	}
}

func TestClientFindByEmail(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if filter := r.URL.Query().Get("filter"); filter != "jane@example.com" {
			t.Fatalf("unexpected filter: %q", filter)
		}
		json.NewEncoder(w).Encode(listUsersResponse{Users: []userResponse{
			{ID: "user-2", Email: "janet@example.com"},
			{ID: "user-1", Email: "jane@example.com"},
		}})
	}))
	defer srv.Close()

	client := NewClient(srv.URL, "service-key", nil)

	user, err := client.FindByEmail(context.Background(), "jane@example.com")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if user == nil || user.ID != "user-1" {
		t.Fatalf("expected the exact email match, got %+v", user)
	}
}

func TestClientFindByEmailAbsent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		json.NewEncoder(w).Encode(listUsersResponse{})
	}))
	defer srv.Close()

	client := NewClient(srv.URL, "service-key", nil)

	user, err := client.FindByEmail(context.Background(), "jane@example.com")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if user != nil {
		t.Fatalf("expected nil for an absent identity, got %+v", user)
	}
}
