// Package backend implements the server collaborator client for profile,
// subscription and balance reads.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"cardano-subscription-wallet/internal/domain"
	"cardano-subscription-wallet/internal/domain/model"
	"cardano-subscription-wallet/internal/domain/ports/adapter"
)

var _ adapter.Backend = (*Client)(nil)

type Client struct {
	base   string
	client *http.Client
	log    *zerolog.Logger
}

func NewClient(baseURL string, timeout time.Duration, log *zerolog.Logger) *Client {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Client{
		base:   strings.TrimRight(baseURL, "/"),
		client: &http.Client{Timeout: timeout},
		log:    log,
	}
}

// StatusError carries the response status and any structured server message
// so the classifier can tell "has structured server message" from generic
// transport failures.
type StatusError struct {
	Code    int
	Text    string
	Body    string
	Message string
}

var _ domain.StatusCarrier = (*StatusError)(nil)

func (e *StatusError) Error() string {
	return fmt.Sprintf("backend: %d %s: %s", e.Code, e.Text, e.Body)
}

func (e *StatusError) HTTPStatus() (int, string) { return e.Code, e.Text }

func (e *StatusError) ServerMessage() string {
	if e.Message != "" {
		return e.Message
	}
	return e.Body
}

func (c *Client) FetchProfile(ctx context.Context, address, walletName string) (*model.Profile, error) {
	q := url.Values{}
	q.Set("address", address)
	q.Set("wallet", walletName)
	q.Set("walletName", walletName)

	var p model.Profile
	if err := c.do(ctx, http.MethodGet, "/profile/current?"+q.Encode(), nil, &p); err != nil {
		return nil, err
	}
	if p.Address == "" {
		p.Address = address
	}
	return &p, nil
}

func (c *Client) AcceptAgreement(ctx context.Context) error {
	return c.do(ctx, http.MethodPut, "/profile/current/agreement", nil, nil)
}

func (c *Client) CreateSubscription(ctx context.Context, tierID string) (*model.SubscriptionRecord, error) {
	var rec model.SubscriptionRecord
	if err := c.do(ctx, http.MethodPost, "/profile/current/subscriptions/"+url.PathEscape(tierID), nil, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

func (c *Client) ListSubscriptions(ctx context.Context) ([]model.SubscriptionRecord, error) {
	var recs []model.SubscriptionRecord
	if err := c.do(ctx, http.MethodGet, "/profile/current/subscriptions", nil, &recs); err != nil {
		return nil, err
	}
	return recs, nil
}

func (c *Client) Balance(ctx context.Context) (int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+"/profile/current/balance", nil)
	if err != nil {
		return 0, err
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, err
	}
	if resp.StatusCode >= 400 {
		return 0, statusError(resp, body)
	}
	// The balance endpoint answers with a bare JSON number.
	bal, err := strconv.ParseInt(strings.TrimSpace(string(body)), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("backend: balance is not a number: %w", err)
	}
	return bal, nil
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.base+path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode >= 400 {
		return statusError(resp, raw)
	}
	if out == nil {
		return nil
	}
	return json.Unmarshal(raw, out)
}

func statusError(resp *http.Response, body []byte) *StatusError {
	se := &StatusError{
		Code: resp.StatusCode,
		Text: http.StatusText(resp.StatusCode),
		Body: strings.TrimSpace(string(body)),
	}
	var structured struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(body, &structured); err == nil {
		se.Message = structured.Message
	}
	return se
}
