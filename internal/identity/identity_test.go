package identity

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeAuthBackend upserts users by contact value the way the real auth
// backend does: the same email or phone always resolves to the same id.
type fakeAuthBackend struct {
	seq   atomic.Int64
	users map[string]string // contact -> user id
}

func newFakeAuthBackend() *fakeAuthBackend {
	return &fakeAuthBackend{users: map[string]string{}}
}

func (f *fakeAuthBackend) handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/api/events-auth", func(w http.ResponseWriter, r *http.Request) {
		var req map[string]string
		_ = json.NewDecoder(r.Body).Decode(&req)
		id, isNew := f.upsert(req["email"])
		_ = json.NewEncoder(w).Encode(map[string]any{
			"success":   true,
			"isNewUser": isNew,
			"user": map[string]any{
				"id": id, "email": req["email"], "name": req["name"], "is_admin": false,
			},
		})
	})

	mux.HandleFunc("/api/events-auth/request-code", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"success": true})
	})

	mux.HandleFunc("/api/events-auth/verify-code", func(w http.ResponseWriter, r *http.Request) {
		var req map[string]string
		_ = json.NewDecoder(r.Body).Decode(&req)
		if req["code"] != "123456" {
			_ = json.NewEncoder(w).Encode(map[string]any{"success": false, "error": "Invalid code"})
			return
		}
		id, _ := f.upsert(req["phone"])
		_ = json.NewEncoder(w).Encode(map[string]any{
			"success": true,
			"user": map[string]any{
				"id": id, "phone": req["phone"], "name": "", "is_admin": false,
			},
			"sessionToken": "sess-" + id,
		})
	})

	return mux
}

func (f *fakeAuthBackend) upsert(contact string) (string, bool) {
	if id, ok := f.users[contact]; ok {
		return id, false
	}
	id := fmt.Sprintf("u%d", f.seq.Add(1))
	f.users[contact] = id
	return id, true
}

func TestResolveEmailUpsert(t *testing.T) {
	srv := httptest.NewServer(newFakeAuthBackend().handler())
	defer srv.Close()
	client := NewClient(srv.URL)

	first, err := client.ResolveEmail(context.Background(), "a@x.com", "A")
	require.NoError(t, err)
	assert.True(t, first.IsNewUser)
	assert.Equal(t, "Welcome! Account created.", first.Welcome())
	assert.NotEmpty(t, first.User.UserID)

	second, err := client.ResolveEmail(context.Background(), "a@x.com", "A")
	require.NoError(t, err)
	assert.False(t, second.IsNewUser)
	assert.Equal(t, "Welcome back!", second.Welcome())
	assert.Equal(t, first.User.UserID, second.User.UserID, "same email must resolve to the same user")
}

func TestResolveEmailNormalizes(t *testing.T) {
	var gotEmail string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req map[string]string
		_ = json.NewDecoder(r.Body).Decode(&req)
		gotEmail = req["email"]
		_ = json.NewEncoder(w).Encode(map[string]any{
			"success": true, "isNewUser": false,
			"user": map[string]any{"id": "u1", "email": req["email"]},
		})
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL).ResolveEmail(context.Background(), "  A@X.com ", "")
	require.NoError(t, err)
	assert.Equal(t, "a@x.com", gotEmail)
}

func TestValidationBeforeNetwork(t *testing.T) {
	var calls atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
	}))
	defer srv.Close()
	client := NewClient(srv.URL)
	ctx := context.Background()

	_, err := client.ResolveEmail(ctx, "", "name")
	assert.ErrorIs(t, err, ErrValidation)

	assert.ErrorIs(t, client.RequestCode(ctx, ""), ErrValidation)

	_, err = client.VerifyCode(ctx, "", "123456")
	assert.ErrorIs(t, err, ErrValidation)
	_, err = client.VerifyCode(ctx, "+15551234567", "")
	assert.ErrorIs(t, err, ErrValidation)

	assert.Equal(t, int64(0), calls.Load(), "local validation must happen before any network call")
}

func TestPhonePathCarriesSession(t *testing.T) {
	srv := httptest.NewServer(newFakeAuthBackend().handler())
	defer srv.Close()
	client := NewClient(srv.URL)
	ctx := context.Background()

	require.NoError(t, client.RequestCode(ctx, "+15551234567"))

	resolved, err := client.VerifyCode(ctx, "+15551234567", "123456")
	require.NoError(t, err)
	assert.NotEmpty(t, resolved.User.UserID)
	assert.Equal(t, "sess-"+resolved.User.UserID, resolved.SessionToken)
	assert.Equal(t, "+15551234567", resolved.User.Phone)
}

func TestBackendRejectionSurfacedVerbatim(t *testing.T) {
	srv := httptest.NewServer(newFakeAuthBackend().handler())
	defer srv.Close()

	_, err := NewClient(srv.URL).VerifyCode(context.Background(), "+15551234567", "000000")
	var backendErr *BackendError
	require.ErrorAs(t, err, &backendErr)
	assert.Equal(t, "Invalid code", backendErr.Message)
}

func TestNetworkFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close() // refuse connections

	_, err := NewClient(srv.URL).ResolveEmail(context.Background(), "a@x.com", "")
	assert.ErrorIs(t, err, ErrUnavailable)
}
