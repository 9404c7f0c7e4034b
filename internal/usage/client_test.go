package usage

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"
)

func testClient(srv *httptest.Server) *Client {
	return &Client{
		usageURL:   srv.URL + "/api/oauth/usage",
		profileURL: srv.URL + "/api/oauth/profile",
		httpClient: srv.Client(),
	}
}

func TestCheck_Success(t *testing.T) {
	var gotAuth, gotBeta string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotBeta = r.Header.Get("anthropic-beta")
		fmt.Fprint(w, `{"five_hour":{"utilization":0.2},"seven_day":{"utilization":65}}`)
	}))
	defer srv.Close()

	s := testClient(srv).Check(context.Background(), "sk-ant-tok")
	if s.Error != "" {
		t.Fatalf("Check error: %q", s.Error)
	}
	if s.Effective() != 65 {
		t.Errorf("Effective = %d, want 65", s.Effective())
	}
	if gotAuth != "Bearer sk-ant-tok" {
		t.Errorf("Authorization = %q", gotAuth)
	}
	if gotBeta == "" {
		t.Error("anthropic-beta header missing")
	}
}

func TestCheck_HTTPStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	s := testClient(srv).Check(context.Background(), "sk-ant-tok")
	if s.Error != "HTTP 429" {
		t.Errorf("Error = %q, want HTTP 429", s.Error)
	}
	if s.Effective() != 100 {
		t.Errorf("error snapshot Effective = %d, want 100", s.Effective())
	}
}

func TestCheck_NetworkFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close() // connection refused from here on

	s := testClient(srv).Check(context.Background(), "sk-ant-tok")
	if s.Error != "timeout" {
		t.Errorf("Error = %q, want timeout", s.Error)
	}
}

func TestFetchProfile(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"account":{"full_name":"Ada Lovelace","display_name":"ada","email":"ada@example.com"}}`)
	}))
	defer srv.Close()

	p, err := testClient(srv).FetchProfile(context.Background(), "sk-ant-tok")
	if err != nil {
		t.Fatalf("FetchProfile error: %v", err)
	}
	if p.Name != "Ada Lovelace" || p.Email != "ada@example.com" {
		t.Errorf("profile = %+v", p)
	}
}

func TestFetchProfile_DisplayNameFallback(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"account":{"display_name":"ada"}}`)
	}))
	defer srv.Close()

	p, err := testClient(srv).FetchProfile(context.Background(), "sk-ant-tok")
	if err != nil {
		t.Fatalf("FetchProfile error: %v", err)
	}
	if p.Name != "ada" {
		t.Errorf("Name = %q, want display_name fallback", p.Name)
	}
}

func TestCheckAll_PreservesOrder(t *testing.T) {
	// Later candidates answer faster, so completion order inverts
	// submission order; results must still align by index.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tok := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer sk-ant-")
		n, _ := strconv.Atoi(tok)
		time.Sleep(time.Duration(3-n) * 30 * time.Millisecond)
		fmt.Fprintf(w, `{"five_hour":{"utilization":%d},"seven_day":{"utilization":0}}`, n*10)
	}))
	defer srv.Close()

	candidates := []Candidate{
		{Name: "a", Token: "sk-ant-1"},
		{Name: "b", Token: "sk-ant-2"},
		{Name: "c", Token: "sk-ant-3"},
	}

	results := testClient(srv).CheckAll(context.Background(), candidates)
	if len(results) != 3 {
		t.Fatalf("results = %d, want 3", len(results))
	}
	for i, want := range []int{10, 20, 30} {
		if results[i].Name != candidates[i].Name {
			t.Errorf("result %d is %q, want %q", i, results[i].Name, candidates[i].Name)
		}
		if got := results[i].Usage.Effective(); got != want {
			t.Errorf("result %d Effective = %d, want %d", i, got, want)
		}
	}
}

func TestCheckAll_MissingToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("network touched for tokenless candidate")
	}))
	defer srv.Close()

	results := testClient(srv).CheckAll(context.Background(), []Candidate{{Name: "x"}})
	if results[0].Usage.Error != "no_credentials" {
		t.Errorf("Error = %q, want no_credentials", results[0].Usage.Error)
	}
}
