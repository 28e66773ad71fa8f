package yoco

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestChargeSuccess(t *testing.T) {
	var gotAuth, gotIdemKey string
	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("X-Auth-Secret-Key")
		gotIdemKey = r.Header.Get("Idempotency-Key")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(map[string]any{"id": "ch_123", "status": "successful"})
	}))
	defer srv.Close()

	client := NewClient(srv.URL, "sk_test_abc", 5*time.Second)
	chargeID, err := client.Charge(context.Background(), "tok_xyz", 15000)
	require.NoError(t, err)
	require.Equal(t, "ch_123", chargeID)
	require.Equal(t, "sk_test_abc", gotAuth)
	require.NotEmpty(t, gotIdemKey)
	require.Equal(t, "tok_xyz", gotBody["token"])
	require.Equal(t, float64(15000), gotBody["amountInCents"])
	require.Equal(t, "ZAR", gotBody["currency"])
}

func TestChargeDeclined(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"errorMessage":   "card_declined",
			"displayMessage": "Your card was declined",
		})
	}))
	defer srv.Close()

	client := NewClient(srv.URL, "sk_test_abc", 5*time.Second)
	_, err := client.Charge(context.Background(), "tok_bad", 5000)
	require.ErrorIs(t, err, ErrDeclined)
	require.Contains(t, err.Error(), "Your card was declined")
}

func TestChargeFailedStatusInBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"id": "ch_9", "status": "failed", "errorMessage": "insufficient_funds"})
	}))
	defer srv.Close()

	client := NewClient(srv.URL, "sk_test_abc", 5*time.Second)
	_, err := client.Charge(context.Background(), "tok_xyz", 5000)
	require.ErrorIs(t, err, ErrDeclined)
	require.Contains(t, err.Error(), "insufficient_funds")
}

func TestChargeRequiresSecretKey(t *testing.T) {
	client := NewClient("http://localhost:0", "", time.Second)
	_, err := client.Charge(context.Background(), "tok", 100)
	require.Error(t, err)
	require.Contains(t, err.Error(), "secret key")
}

func TestChargeRejectsNonPositiveAmount(t *testing.T) {
	client := NewClient("http://localhost:0", "sk", time.Second)
	_, err := client.Charge(context.Background(), "tok", 0)
	require.Error(t, err)
}
