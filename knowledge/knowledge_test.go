package knowledge

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFetchSendsHeadersAndParsesContext(t *testing.T) {
	var gotToken, gotSession, gotBody string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, graphContextPath, r.URL.Path)
		gotToken = r.Header.Get(HeaderServiceToken)
		gotSession = r.Header.Get(HeaderSessionID)
		body, _ := io.ReadAll(r.Body)
		gotBody = string(body)
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"question":"Are you open Sundays?","facts":["Open Sundays 10-4."],
			"actions":[{"id":"book","label":"Book pickup"}],"confidence":0.9}`)
	}))
	defer srv.Close()

	e := NewEnricher(NewClient(srv.URL, "tok", time.Second))
	got := e.Fetch(context.Background(), "u1:a1:CA1", "Are you open Sundays?")

	assert.Equal(t, "tok", gotToken)
	assert.Equal(t, "u1:a1:CA1", gotSession)
	assert.JSONEq(t, `{"question":"Are you open Sundays?"}`, gotBody)
	assert.Equal(t, []string{"Open Sundays 10-4."}, got.Facts)
	require.Len(t, got.Actions, 1)
	assert.Equal(t, "book", got.Actions[0].ID)
	assert.InDelta(t, 0.9, got.Confidence, 1e-9)
	assert.Empty(t, got.Reason)
}

func TestFetchDegrades(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
		timeout time.Duration
	}{
		{
			name: "non-2xx",
			handler: func(w http.ResponseWriter, r *http.Request) {
				http.Error(w, "boom", http.StatusInternalServerError)
			},
			timeout: time.Second,
		},
		{
			name: "malformed body",
			handler: func(w http.ResponseWriter, r *http.Request) {
				_, _ = io.WriteString(w, `{"facts":`)
			},
			timeout: time.Second,
		},
		{
			name: "timeout",
			handler: func(w http.ResponseWriter, r *http.Request) {
				select {
				case <-r.Context().Done():
				case <-time.After(2 * time.Second):
				}
			},
			timeout: 50 * time.Millisecond,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(tt.handler)
			defer srv.Close()

			got := NewEnricher(NewClient(srv.URL, "", tt.timeout)).
				Fetch(context.Background(), "s1", "Are you open Sundays?")

			assert.Empty(t, got.Facts)
			assert.NotNil(t, got.Facts)
			assert.Empty(t, got.Actions)
			assert.Zero(t, got.Confidence)
			assert.NotEmpty(t, got.Reason)
			assert.True(t, got.Empty())
		})
	}
}

func TestFetchWithoutBackend(t *testing.T) {
	got := NewEnricher(NewClient("", "", time.Second)).Fetch(context.Background(), "s1", "hello")
	assert.Zero(t, got.Confidence)
	assert.Equal(t, ErrNotConfigured.Error(), got.Reason)
}

func TestFetchBlankUtteranceSkipsBackend(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
	}))
	defer srv.Close()

	got := NewEnricher(NewClient(srv.URL, "", time.Second)).Fetch(context.Background(), "s1", "   ")
	assert.NotEmpty(t, got.Reason)
	assert.Zero(t, atomic.LoadInt32(&calls))
}

func TestFetchClampsConfidence(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"facts":["x"],"confidence":7}`)
	}))
	defer srv.Close()

	got := NewEnricher(NewClient(srv.URL, "", time.Second)).Fetch(context.Background(), "s1", "q")
	assert.Equal(t, 1.0, got.Confidence)
	assert.Equal(t, "q", got.Question)
	assert.NotNil(t, got.Actions)
}

func TestTurnLoggerPostsTurn(t *testing.T) {
	type hit struct {
		path, session, body string
	}
	hits := make(chan hit, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		hits <- hit{r.URL.Path, r.Header.Get(HeaderSessionID), string(body)}
	}))
	defer srv.Close()

	NewTurnLogger(NewClient(srv.URL, "", time.Second)).Notify("s1", RoleCustomer, " Are you open Sundays? ")

	select {
	case h := <-hits:
		assert.Equal(t, "/api/sessions/s1/message", h.path)
		assert.Equal(t, "s1", h.session)
		assert.JSONEq(t, `{"role":"customer","text":"Are you open Sundays?"}`, h.body)
	case <-time.After(2 * time.Second):
		t.Fatal("turn was not posted")
	}
}

func TestTurnLoggerDoesNotBlock(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
	}))
	defer srv.Close()
	defer close(release)

	tl := NewTurnLogger(NewClient(srv.URL, "", time.Second))
	start := time.Now()
	tl.Notify("s1", RoleAgent, "hello")
	assert.Less(t, time.Since(start), 100*time.Millisecond)
}

func TestTurnLoggerSkipsBlankText(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
	}))
	defer srv.Close()

	NewTurnLogger(NewClient(srv.URL, "", time.Second)).Notify("s1", RoleCustomer, "  ")
	time.Sleep(50 * time.Millisecond)
	assert.Zero(t, atomic.LoadInt32(&calls))
}

func TestBusinessNameIsCached(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		assert.Equal(t, profilePath, r.URL.Path)
		assert.Equal(t, "a1", r.URL.Query().Get("agentId"))
		_, _ = io.WriteString(w, `{"businessName":"Nema Flowers"}`)
	}))
	defer srv.Close()

	p := NewProfiles(NewClient(srv.URL, "", time.Second))
	assert.Equal(t, "Nema Flowers", p.BusinessName(context.Background(), "a1"))
	assert.Equal(t, "Nema Flowers", p.BusinessName(context.Background(), "a1"))
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestBusinessNameFailureIsNotCached(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	p := NewProfiles(NewClient(srv.URL, "", time.Second))
	assert.Empty(t, p.BusinessName(context.Background(), "a1"))
	assert.Empty(t, p.BusinessName(context.Background(), "a1"))
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
	assert.Empty(t, p.BusinessName(context.Background(), ""))
}
