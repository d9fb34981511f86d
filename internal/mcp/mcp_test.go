package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/framingui/keygate/internal/model"
)

func validBody() model.VerifySuccess {
	return model.VerifySuccess{
		Valid: true,
		User:  model.VerifyUser{ID: "u1", Email: "dev@example.com", Plan: "pro"},
		Licenses: []model.VerifyLicense{
			{ThemeID: "aurora", Tier: "single", IsActive: true},
		},
		Themes: model.VerifyThemes{
			Free:     []string{"starter"},
			Licensed: []string{"aurora"},
		},
	}
}

func TestVerifyClient(t *testing.T) {
	t.Run("valid", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path != "/api/mcp/verify" {
				t.Fatalf("path = %s", r.URL.Path)
			}
			if r.Header.Get("Authorization") != "Bearer test-key" {
				t.Fatalf("auth header = %q", r.Header.Get("Authorization"))
			}
			json.NewEncoder(w).Encode(validBody())
		}))
		defer srv.Close()

		res, err := NewVerifyClient(srv.URL, "test-key").Verify(context.Background())
		if err != nil {
			t.Fatalf("Verify: %v", err)
		}
		if res.User.Email != "dev@example.com" || len(res.Themes.Licensed) != 1 {
			t.Fatalf("res = %+v", res)
		}
	})

	t.Run("unauthorized", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusUnauthorized)
			json.NewEncoder(w).Encode(model.VerifyFailure{
				Valid: false, Error: "invalid_credential", Message: "Invalid or missing API key",
			})
		}))
		defer srv.Close()

		_, err := NewVerifyClient(srv.URL, "bad-key").Verify(context.Background())
		if !errors.Is(err, ErrUnauthorized) {
			t.Fatalf("err = %v", err)
		}
	})

	t.Run("throttled", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Retry-After", "30")
			w.WriteHeader(http.StatusTooManyRequests)
			json.NewEncoder(w).Encode(model.VerifyFailure{Valid: false, Error: "rate_limited"})
		}))
		defer srv.Close()

		_, err := NewVerifyClient(srv.URL, "test-key").Verify(context.Background())
		var throttled *ThrottledError
		if !errors.As(err, &throttled) {
			t.Fatalf("err = %v", err)
		}
		if throttled.RetryAfter != 30 {
			t.Fatalf("RetryAfter = %d", throttled.RetryAfter)
		}
	})

	t.Run("server error", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusInternalServerError)
		}))
		defer srv.Close()

		_, err := NewVerifyClient(srv.URL, "test-key").Verify(context.Background())
		if err == nil || errors.Is(err, ErrUnauthorized) {
			t.Fatalf("backend failure must not read as unauthorized: %v", err)
		}
	})
}

type fakeVerifier struct {
	res *model.VerifySuccess
	err error
}

func (f *fakeVerifier) Verify(ctx context.Context) (*model.VerifySuccess, error) {
	return f.res, f.err
}

func newTestMCPServer(v verifier) *MCPServer {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewMCPServer(v, logger)
}

func textContent(t *testing.T, res *mcp.CallToolResult) string {
	t.Helper()
	if len(res.Content) != 1 {
		t.Fatalf("content = %+v", res.Content)
	}
	tc, ok := res.Content[0].(mcp.TextContent)
	if !ok {
		t.Fatalf("content type = %T", res.Content[0])
	}
	return tc.Text
}

func TestWhoami(t *testing.T) {
	body := validBody()
	s := newTestMCPServer(&fakeVerifier{res: &body})

	res, err := s.handleWhoami(context.Background(), mcp.CallToolRequest{})
	if err != nil {
		t.Fatalf("handleWhoami: %v", err)
	}
	if res.IsError {
		t.Fatalf("tool error: %s", textContent(t, res))
	}

	var out map[string]string
	if err := json.Unmarshal([]byte(textContent(t, res)), &out); err != nil {
		t.Fatal(err)
	}
	if out["email"] != "dev@example.com" || out["plan"] != "pro" {
		t.Fatalf("out = %+v", out)
	}
}

func TestWhoamiRejectedKey(t *testing.T) {
	s := newTestMCPServer(&fakeVerifier{err: ErrUnauthorized})

	res, err := s.handleWhoami(context.Background(), mcp.CallToolRequest{})
	if err != nil {
		t.Fatalf("tool-level errors must not terminate the session: %v", err)
	}
	if !res.IsError {
		t.Fatal("expected tool error result")
	}
	if !strings.Contains(textContent(t, res), "KEYGATE_API_KEY") {
		t.Fatalf("error text should point at the env var: %s", textContent(t, res))
	}
}

func TestListThemes(t *testing.T) {
	body := validBody()
	s := newTestMCPServer(&fakeVerifier{res: &body})

	res, err := s.handleListThemes(context.Background(), mcp.CallToolRequest{})
	if err != nil {
		t.Fatal(err)
	}

	var out struct {
		Free     []string              `json:"free"`
		Licensed []string              `json:"licensed"`
		Licenses []model.VerifyLicense `json:"licenses"`
	}
	if err := json.Unmarshal([]byte(textContent(t, res)), &out); err != nil {
		t.Fatal(err)
	}
	if len(out.Free) != 1 || len(out.Licensed) != 1 || len(out.Licenses) != 1 {
		t.Fatalf("out = %+v", out)
	}
}

func TestCheckTheme(t *testing.T) {
	body := validBody()
	s := newTestMCPServer(&fakeVerifier{res: &body})

	check := func(theme string) bool {
		req := mcp.CallToolRequest{}
		req.Params.Arguments = map[string]any{"theme": theme}
		res, err := s.handleCheckTheme(context.Background(), req)
		if err != nil {
			t.Fatal(err)
		}
		var out struct {
			Accessible bool `json:"accessible"`
		}
		if err := json.Unmarshal([]byte(textContent(t, res)), &out); err != nil {
			t.Fatal(err)
		}
		return out.Accessible
	}

	if !check("starter") {
		t.Fatal("free theme not accessible")
	}
	if !check("aurora") {
		t.Fatal("licensed theme not accessible")
	}
	if check("premium-unowned") {
		t.Fatal("unowned theme reported accessible")
	}
}

func TestEntitlementsResource(t *testing.T) {
	body := validBody()
	s := newTestMCPServer(&fakeVerifier{res: &body})

	req := mcp.ReadResourceRequest{}
	req.Params.URI = "keygate://entitlements"
	contents, err := s.handleEntitlementsResource(context.Background(), req)
	if err != nil {
		t.Fatal(err)
	}
	if len(contents) != 1 {
		t.Fatalf("contents = %+v", contents)
	}
	tc, ok := contents[0].(mcp.TextResourceContents)
	if !ok {
		t.Fatalf("contents type = %T", contents[0])
	}
	if !strings.Contains(tc.Text, "aurora") {
		t.Fatalf("resource text: %s", tc.Text)
	}
}
