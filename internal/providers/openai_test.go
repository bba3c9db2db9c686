package providers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestOpenAIOCRClient_ProcessImage(t *testing.T) {
	t.Run("returns output text", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !strings.HasSuffix(r.URL.Path, "/responses") {
				t.Errorf("unexpected path: %s", r.URL.Path)
			}
			body, _ := io.ReadAll(r.Body)
			if !strings.Contains(string(body), "data:image/png;base64,") {
				t.Error("expected inline page image in request")
			}

			w.Header().Set("Content-Type", "application/json")
			json.NewEncoder(w).Encode(map[string]any{
				"id":         "resp_1",
				"object":     "response",
				"created_at": 1,
				"model":      "gpt-5-mini",
				"status":     "completed",
				"output": []map[string]any{{
					"type":   "message",
					"id":     "msg_1",
					"role":   "assistant",
					"status": "completed",
					"content": []map[string]any{{
						"type":        "output_text",
						"text":        "  Intro.\nTable 1: Results.\n",
						"annotations": []any{},
					}},
				}},
				"usage": map[string]any{"input_tokens": 10, "output_tokens": 5, "total_tokens": 15},
			})
		}))
		defer server.Close()

		client := NewOpenAIOCRClient(OpenAIOCRConfig{APIKey: "k", BaseURL: server.URL})
		result, err := client.ProcessImage(context.Background(), []byte("png"), 2)
		if err != nil {
			t.Fatalf("ProcessImage() error = %v", err)
		}
		if result.Text != "Intro.\nTable 1: Results." {
			t.Errorf("unexpected text %q", result.Text)
		}
	})

	t.Run("maps HTTP errors", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusUnauthorized)
			w.Write([]byte(`{"error":{"message":"bad key","type":"invalid_request_error"}}`))
		}))
		defer server.Close()

		client := NewOpenAIOCRClient(OpenAIOCRConfig{APIKey: "k", BaseURL: server.URL})
		_, err := client.ProcessImage(context.Background(), []byte("png"), 0)

		var apiErr *APIError
		if !errors.As(err, &apiErr) {
			t.Fatalf("expected APIError, got %v", err)
		}
		if apiErr.StatusCode != 401 || apiErr.Temporary() {
			t.Errorf("expected permanent 401, got %+v", apiErr)
		}
	})
}
