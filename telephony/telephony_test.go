package telephony

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fakeTwilio(t *testing.T, available string) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/Accounts/AC1/AvailablePhoneNumbers/US/Local.json", func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		assert.True(t, ok)
		assert.Equal(t, "AC1", user)
		assert.Equal(t, "secret", pass)
		assert.Equal(t, "415", r.URL.Query().Get("AreaCode"))
		assert.Equal(t, "true", r.URL.Query().Get("VoiceEnabled"))
		_, _ = io.WriteString(w, available)
	})
	mux.HandleFunc("/Accounts/AC1/IncomingPhoneNumbers.json", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "+14155550100", r.PostForm.Get("PhoneNumber"))
		assert.Equal(t, "https://calls.example.com/voice?agentId=a1&username=u1", r.PostForm.Get("VoiceUrl"))
		assert.Equal(t, "POST", r.PostForm.Get("VoiceMethod"))
		assert.Equal(t, "https://calls.example.com/stream-status", r.PostForm.Get("StatusCallback"))
		w.WriteHeader(http.StatusCreated)
		_, _ = io.WriteString(w, `{"sid":"PN1","phone_number":"+14155550100"}`)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestProvisionBuysFirstAvailableNumber(t *testing.T) {
	srv := fakeTwilio(t, `{"available_phone_numbers":[{"phone_number":"+14155550100"}]}`)
	p := NewProvisioner(srv.URL, "AC1", "secret")

	got, err := p.Provision(context.Background(), ProvisionRequest{
		AreaCode:       "415",
		VoiceURL:       "https://calls.example.com/voice?agentId=a1&username=u1",
		StatusCallback: "https://calls.example.com/stream-status",
	})
	require.NoError(t, err)
	assert.Equal(t, "PN1", got.SID)
	assert.Equal(t, "+14155550100", got.PhoneNumber)
}

func TestProvisionNoNumbers(t *testing.T) {
	srv := fakeTwilio(t, `{"available_phone_numbers":[]}`)
	_, err := NewProvisioner(srv.URL, "AC1", "secret").Provision(context.Background(), ProvisionRequest{AreaCode: "415"})
	assert.ErrorIs(t, err, ErrNoNumbers)
}

func TestProvisionSurfacesTwilioErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = io.WriteString(w, `{"code":20003,"message":"Authenticate","status":401}`)
	}))
	defer srv.Close()

	_, err := NewProvisioner(srv.URL, "AC1", "bad").Provision(context.Background(), ProvisionRequest{})
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusUnauthorized, apiErr.Status)
	assert.Equal(t, 20003, apiErr.Code)
	assert.Contains(t, apiErr.Error(), "Authenticate")
}

func TestBindingStore(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()

	store := NewBindingStore(rdb)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Second)

	require.NoError(t, store.Save(ctx, Binding{PhoneNumber: "+2", NumberSID: "PN2", Username: "u2", AgentID: "a2", CreatedAt: now.Add(time.Minute)}))
	require.NoError(t, store.Save(ctx, Binding{PhoneNumber: "+1", NumberSID: "PN1", Username: "u1", AgentID: "a1", CreatedAt: now}))
	mr.HSet(bindingsKey, "+3", "not json")

	all, err := store.List(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "+1", all[0].PhoneNumber)
	assert.Equal(t, "a1", all[0].AgentID)
	assert.True(t, now.Equal(all[0].CreatedAt))
	assert.Equal(t, "+2", all[1].PhoneNumber)
}
