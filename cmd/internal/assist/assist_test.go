package assist

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestGenerate_TrimsEchoedPrompt(t *testing.T) {
	t.Parallel()

	const question = "What is the best warmup before deadlifts?"

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req generateRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode inference request: %v", err)
		}
		if req.Inputs != question {
			t.Errorf("inputs: got %q want %q", req.Inputs, question)
		}
		if req.Parameters.Temperature != 0.7 || req.Parameters.TopP != 0.9 {
			t.Errorf("unexpected sampling params: %+v", req.Parameters)
		}
		_ = json.NewEncoder(w).Encode([]generateResponse{
			{GeneratedText: question + "\nLight cardio and hip hinges."},
		})
	}))
	defer srv.Close()

	gen, err := NewHTTPGenerator(srv.URL, "")
	if err != nil {
		t.Fatalf("new generator: %v", err)
	}

	answer, err := gen.Generate(context.Background(), question)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if answer != "Light cardio and hip hinges." {
		t.Fatalf("answer: got %q", answer)
	}
}

func TestGenerate_BareObjectResponseShape(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(generateResponse{GeneratedText: "plain answer"})
	}))
	defer srv.Close()

	gen, err := NewHTTPGenerator(srv.URL, "")
	if err != nil {
		t.Fatalf("new generator: %v", err)
	}

	answer, err := gen.Generate(context.Background(), "q")
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if answer != "plain answer" {
		t.Fatalf("answer: got %q", answer)
	}
}

func TestGenerate_SendsBearerToken(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer secret-key" {
			t.Errorf("authorization header: got %q", got)
		}
		_ = json.NewEncoder(w).Encode([]generateResponse{{GeneratedText: "ok"}})
	}))
	defer srv.Close()

	gen, err := NewHTTPGenerator(srv.URL, "secret-key")
	if err != nil {
		t.Fatalf("new generator: %v", err)
	}
	if _, err := gen.Generate(context.Background(), "q"); err != nil {
		t.Fatalf("generate: %v", err)
	}
}

func TestGenerate_NonOKStatus(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model loading", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	gen, err := NewHTTPGenerator(srv.URL, "")
	if err != nil {
		t.Fatalf("new generator: %v", err)
	}
	if _, err := gen.Generate(context.Background(), "q"); err == nil {
		t.Fatal("expected error for non-200 status")
	}
}

func TestGenerate_EmptyCompletion(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		body string
	}{
		{"empty array", `[]`},
		{"blank text", `[{"generated_text":""}]`},
		{"prompt only echo", `[{"generated_text":"q"}]`},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				_, _ = w.Write([]byte(tc.body))
			}))
			defer srv.Close()

			gen, err := NewHTTPGenerator(srv.URL, "")
			if err != nil {
				t.Fatalf("new generator: %v", err)
			}
			if _, err := gen.Generate(context.Background(), "q"); !errors.Is(err, ErrEmptyCompletion) {
				t.Fatalf("expected ErrEmptyCompletion, got %v", err)
			}
		})
	}
}

func TestNewHTTPGenerator_RequiresURL(t *testing.T) {
	t.Parallel()

	if _, err := NewHTTPGenerator("   ", ""); err == nil {
		t.Fatal("expected error for blank url")
	}
}
