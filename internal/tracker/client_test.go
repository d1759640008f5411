package tracker

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestClient_GetDescription(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			t.Errorf("method = %s, want GET", r.Method)
		}
		if r.URL.Path != "/task/86abc" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if r.URL.Query().Get("include_markdown_description") != "true" {
			t.Errorf("query = %s", r.URL.RawQuery)
		}
		if got := r.Header.Get("Authorization"); got != "pk_test" {
			t.Errorf("Authorization = %q", got)
		}
		json.NewEncoder(w).Encode(map[string]string{
			"id":                   "86abc",
			"name":                 "Spring sale",
			"markdown_description": "| Section | Content |",
		})
	}))
	defer server.Close()

	client := NewClient(server.URL, "pk_test", time.Second)
	got, err := client.GetDescription(context.Background(), "86abc")
	if err != nil {
		t.Fatalf("GetDescription() error = %v", err)
	}
	if got != "| Section | Content |" {
		t.Errorf("GetDescription() = %q", got)
	}

	task, err := client.GetTask(context.Background(), "86abc")
	if err != nil {
		t.Fatalf("GetTask() error = %v", err)
	}
	if task.Name != "Spring sale" {
		t.Errorf("GetTask().Name = %q", task.Name)
	}
}

func TestClient_UpdateDescription(t *testing.T) {
	var body map[string]string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPut || r.URL.Path != "/task/86abc" {
			t.Errorf("request = %s %s", r.Method, r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode body: %v", err)
		}
		w.Write([]byte(`{"id":"86abc"}`))
	}))
	defer server.Close()

	client := NewClient(server.URL+"/", "pk_test", time.Second)
	if err := client.UpdateDescription(context.Background(), "86abc", "| CTA | Buy |"); err != nil {
		t.Fatalf("UpdateDescription() error = %v", err)
	}
	if body["markdown_description"] != "| CTA | Buy |" {
		t.Errorf("body = %v", body)
	}
}

func TestClient_APIError(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		body     string
		wantCode string
		wantMsg  string
	}{
		{"clickup error body", http.StatusUnauthorized, `{"err":"Token invalid","ECODE":"OAUTH_025"}`, "OAUTH_025", "Token invalid"},
		{"plain body", http.StatusBadGateway, `upstream down`, "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			}))
			defer server.Close()

			client := NewClient(server.URL, "pk_test", time.Second)
			_, err := client.GetDescription(context.Background(), "x")

			var apiErr *APIError
			if !errors.As(err, &apiErr) {
				t.Fatalf("error = %v, want *APIError", err)
			}
			if apiErr.StatusCode != tt.status || apiErr.Code != tt.wantCode || apiErr.Message != tt.wantMsg {
				t.Errorf("APIError = %+v", apiErr)
			}
			if apiErr.Error() == "" {
				t.Error("Error() is empty")
			}
		})
	}
}

func TestNewClient_Defaults(t *testing.T) {
	c := NewClient("", "tok", 0)
	if c.baseURL != DefaultBaseURL {
		t.Errorf("baseURL = %s", c.baseURL)
	}
	if c.httpClient.Timeout != 30*time.Second {
		t.Errorf("timeout = %v", c.httpClient.Timeout)
	}
}
