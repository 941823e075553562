//go:build !integration

package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"cardano-subscription-wallet/internal/address"
	"cardano-subscription-wallet/internal/config"
	"cardano-subscription-wallet/internal/domain/model"
	"cardano-subscription-wallet/internal/domain/ports/adapter"
	"cardano-subscription-wallet/internal/infra/api"
	red "cardano-subscription-wallet/internal/infra/redis"
	"cardano-subscription-wallet/internal/infra/wallet"
	"cardano-subscription-wallet/internal/session"
	"cardano-subscription-wallet/internal/usecase"
)

// memBackend settles every subscription on the first list call, unless held
// pending.
type memBackend struct {
	mu   sync.Mutex
	hold bool
	subs []model.SubscriptionRecord
}

func (b *memBackend) setHold(v bool) {
	b.mu.Lock()
	b.hold = v
	b.mu.Unlock()
}

var _ adapter.Backend = (*memBackend)(nil)

func (b *memBackend) FetchProfile(ctx context.Context, addr, walletName string) (*model.Profile, error) {
	return &model.Profile{
		Address:  addr,
		FullName: "API Test",
		Dapp:     &model.Agreement{Version: "1", AcceptedAt: time.Now()},
	}, nil
}

func (b *memBackend) AcceptAgreement(ctx context.Context) error { return nil }

func (b *memBackend) CreateSubscription(ctx context.Context, tierID string) (*model.SubscriptionRecord, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	rec := model.SubscriptionRecord{
		ID:        "sub-" + tierID,
		TierID:    tierID,
		Price:     700_000,
		Status:    model.SubscriptionStatusPending,
		StartDate: time.Now(),
		EndDate:   time.Now().Add(time.Hour),
	}
	b.subs = append(b.subs, rec)
	return &rec, nil
}

func (b *memBackend) ListSubscriptions(ctx context.Context) ([]model.SubscriptionRecord, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]model.SubscriptionRecord, len(b.subs))
	for i := range b.subs {
		if !b.hold {
			b.subs[i].Status = model.SubscriptionStatusActive
		}
		out[i] = b.subs[i]
	}
	return out, nil
}

func (b *memBackend) Balance(ctx context.Context) (int64, error) { return 0, nil }

type apiFixture struct {
	srv     *httptest.Server
	backend *memBackend
	token   string
}

func newAPIFixture(t *testing.T) *apiFixture {
	t.Helper()
	l := zerolog.Nop()

	raw := make([]byte, 57)
	raw[0] = 0x01
	for i := 1; i < len(raw); i++ {
		raw[i] = byte(i)
	}
	noop := wallet.NewNoopWallet([]string{adapter.ProviderLace}, 1, raw)

	sess := session.New(red.NewMemoryCredentialCache(), &l)
	events := api.NewEventLog(0)
	backend := &memBackend{}
	neg := usecase.NewConnectionNegotiator(noop, backend, sess, address.Resolve, events, &l, 25*time.Millisecond)
	rec := usecase.NewSettlementReconciler(noop, backend, sess, events, &l, 5*time.Millisecond, time.Second, time.Second)

	cfg := &config.Config{}
	cfg.Control.APIKey = "test-key"
	cfg.Control.TokenSecret = "test-secret"
	cfg.Control.TokenTTL = time.Hour

	s := api.NewServer(cfg, neg, rec, sess, events, &l)
	srv := httptest.NewServer(s.Handler())
	t.Cleanup(srv.Close)
	return &apiFixture{srv: srv, backend: backend}
}

func (f *apiFixture) request(t *testing.T, method, path string, body any) (*http.Response, []byte) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode: %v", err)
		}
	}
	req, err := http.NewRequest(method, f.srv.URL+path, &buf)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	if f.token != "" {
		req.Header.Set("Authorization", "Bearer "+f.token)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	var out bytes.Buffer
	_, _ = out.ReadFrom(resp.Body)
	return resp, out.Bytes()
}

func (f *apiFixture) login(t *testing.T) {
	t.Helper()
	resp, body := f.request(t, http.MethodPost, "/api/v1/session", map[string]string{"api_key": "test-key"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("session: %d %s", resp.StatusCode, body)
	}
	var tok struct {
		Token string `json:"token"`
	}
	if err := json.Unmarshal(body, &tok); err != nil || tok.Token == "" {
		t.Fatalf("token body: %s", body)
	}
	f.token = tok.Token
}

func (f *apiFixture) waitState(t *testing.T, key, want string) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for {
		resp, body := f.request(t, http.MethodGet, "/api/v1/state", nil)
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("state: %d %s", resp.StatusCode, body)
		}
		var st map[string]any
		if err := json.Unmarshal(body, &st); err != nil {
			t.Fatalf("state body: %s", body)
		}
		if st[key] == want {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("%s never reached %q, last state: %s", key, want, body)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestSessionToken(t *testing.T) {
	f := newAPIFixture(t)

	t.Run("wrong api key", func(t *testing.T) {
		resp, _ := f.request(t, http.MethodPost, "/api/v1/session", map[string]string{"api_key": "nope"})
		if resp.StatusCode != http.StatusForbidden {
			t.Fatalf("status = %d, want 403", resp.StatusCode)
		}
	})

	t.Run("missing token on guarded route", func(t *testing.T) {
		resp, _ := f.request(t, http.MethodGet, "/api/v1/state", nil)
		if resp.StatusCode != http.StatusUnauthorized {
			t.Fatalf("status = %d, want 401", resp.StatusCode)
		}
	})

	t.Run("valid exchange", func(t *testing.T) {
		f.login(t)
		resp, _ := f.request(t, http.MethodGet, "/api/v1/state", nil)
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("status = %d, want 200", resp.StatusCode)
		}
	})
}

func TestConnectAndPayFlow(t *testing.T) {
	f := newAPIFixture(t)
	f.login(t)

	resp, body := f.request(t, http.MethodGet, "/api/v1/providers", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("providers: %d %s", resp.StatusCode, body)
	}

	resp, _ = f.request(t, http.MethodPost, "/api/v1/connect", map[string]string{"provider": "lace"})
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("connect: %d", resp.StatusCode)
	}
	f.waitState(t, "connect_state", "connected")

	resp, _ = f.request(t, http.MethodPost, "/api/v1/pay", map[string]string{"tier_id": "starter"})
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("pay: %d", resp.StatusCode)
	}
	f.waitState(t, "settlement_state", "settled")

	// The event feed carries the whole journey.
	resp, body = f.request(t, http.MethodGet, "/api/v1/events", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("events: %d", resp.StatusCode)
	}
	var evs struct {
		Events []api.Event `json:"events"`
	}
	if err := json.Unmarshal(body, &evs); err != nil {
		t.Fatalf("events body: %s", body)
	}
	var sawConnected, sawFinished bool
	for _, ev := range evs.Events {
		if ev.Type == "connect_state" && ev.Detail == "connected" {
			sawConnected = true
		}
		if ev.Type == "settlement_finished" {
			sawFinished = true
		}
	}
	if !sawConnected || !sawFinished {
		t.Fatalf("event feed incomplete: %s", body)
	}

	resp, _ = f.request(t, http.MethodPost, "/api/v1/logout", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("logout: %d", resp.StatusCode)
	}
	f.waitState(t, "connect_state", "disconnected")
}

func TestConnectValidation(t *testing.T) {
	f := newAPIFixture(t)
	f.login(t)

	resp, _ := f.request(t, http.MethodPost, "/api/v1/connect", map[string]string{})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}

	resp, _ = f.request(t, http.MethodDelete, "/api/v1/connect", nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("cancel with nothing in flight: %d, want 404", resp.StatusCode)
	}
}

func TestPayRejectsConcurrentAttempts(t *testing.T) {
	f := newAPIFixture(t)
	f.login(t)

	resp, _ := f.request(t, http.MethodPost, "/api/v1/connect", map[string]string{"provider": "lace"})
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("connect: %d", resp.StatusCode)
	}
	f.waitState(t, "connect_state", "connected")

	// Keep the subscription pending so the first payment stays in flight.
	f.backend.setHold(true)

	resp, _ = f.request(t, http.MethodPost, "/api/v1/pay", map[string]string{"tier_id": "starter"})
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("pay: %d", resp.StatusCode)
	}
	f.waitState(t, "settlement_state", "polling")

	resp, body := f.request(t, http.MethodPost, "/api/v1/pay", map[string]string{"tier_id": "starter"})
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("second pay: %d %s, want 409", resp.StatusCode, body)
	}

	resp, _ = f.request(t, http.MethodDelete, "/api/v1/pay", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("cancel pay: %d", resp.StatusCode)
	}
	f.waitState(t, "settlement_state", "idle")
}

func TestHealthAndMetrics(t *testing.T) {
	f := newAPIFixture(t)

	resp, body := f.request(t, http.MethodGet, "/healthz", nil)
	if resp.StatusCode != http.StatusOK || string(body) != "OK" {
		t.Fatalf("healthz: %d %s", resp.StatusCode, body)
	}

	resp, _ = f.request(t, http.MethodGet, "/metrics", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("metrics: %d", resp.StatusCode)
	}
}
