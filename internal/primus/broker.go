// Package primus implements the third-party credential broker (C4): a
// zero-knowledge TLS attestation provider used to sign and verify
// request envelopes for third-party web credential binding. The provider's
// own cryptographic structure is out of scope - this package is
// trust-by-reference on it (spec.md §4.4).
package primus

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrUnavailable wraps any broker I/O failure (spec.md §7's
// "broker-unavailable", mapped to HTTP 500).
var ErrUnavailable = errors.New("ErrBrokerUnavailable")

// ErrMissingSecret is returned by InitOnce if appSecret or appID is empty.
var ErrMissingSecret = errors.New("ErrBrokerMisconfigured")

// requestEnvelope is the JSON object signed and sent to the provider,
// per spec.md §4.4.
type requestEnvelope struct {
	TemplateID    string `json:"templateId"`
	UserAddress   string `json:"userAddress"`
	AlgorithmMode string `json:"algorithmMode"`
	Timestamp     int64  `json:"timestamp"`
}

// Broker holds one process-wide instance of the provider client,
// initialized lazily on first call (spec.md §9's "Process-wide broker SDK
// init"), grounded on the teacher's lazy twilio/sendgrid client
// construction generalized from eager-at-startup to a sync.Once guard
// since spec.md explicitly calls for "lazily on first call".
type Broker struct {
	appID      string
	appSecret  string
	httpClient *http.Client
	timeout    time.Duration

	once     sync.Once
	initErr  error
}

// NewBroker constructs a Broker; InitOnce still gates the actual
// first-use initialization.
func NewBroker(appID, appSecret string, httpClient *http.Client, timeout time.Duration) *Broker {
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return &Broker{
		appID:      appID,
		appSecret:  appSecret,
		httpClient: httpClient,
		timeout:    timeout,
	}
}

// InitOnce is a no-op after the first successful call; it fails hard if
// appSecret or appID is missing.
func (b *Broker) InitOnce() error {
	b.once.Do(func() {
		if b.appSecret == "" || b.appID == "" {
			b.initErr = ErrMissingSecret
		}
	})
	return b.initErr
}

// SignRequest builds a request envelope for templateID/userAddress, stamps
// algorithmMode "proxytls", and signs it with appSecret via HMAC-SHA256
// (golang-jwt/jwt/v5) - a concrete idiomatic stand-in for "signs with
// appSecret" (spec.md §4.4), reusing the teacher's JWT dependency
// (used there for Apple DeviceCheck auth headers) for an analogous
// signed-envelope purpose. appSecret never leaves this function.
func (b *Broker) SignRequest(templateID, userAddress string) (string, error) {
	if err := b.InitOnce(); err != nil {
		return "", err
	}

	env := requestEnvelope{
		TemplateID:    templateID,
		UserAddress:   userAddress,
		AlgorithmMode: "proxytls",
		Timestamp:     time.Now().Unix(),
	}

	claims := jwt.MapClaims{
		"templateId":    env.TemplateID,
		"userAddress":   env.UserAddress,
		"algorithmMode": env.AlgorithmMode,
		"timestamp":     env.Timestamp,
	}
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := tok.SignedString([]byte(b.appSecret))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return signed, nil
}

// VerifyArtifact passes a client-returned attestation artifact through the
// provider's verify endpoint, under the configured deadline (spec.md §5's
// "finite deadline (default 30s), no retries at this layer").
func (b *Broker) VerifyArtifact(ctx context.Context, artifact string) (bool, error) {
	if err := b.InitOnce(); err != nil {
		return false, err
	}

	ctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()

	body, err := json.Marshal(map[string]string{
		"appId":    b.appID,
		"artifact": artifact,
	})
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, primusVerifyEndpoint, bytes.NewReader(body))
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := b.httpClient.Do(req)
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		return false, fmt.Errorf("%w: provider returned %d", ErrUnavailable, resp.StatusCode)
	}

	var out struct {
		Verified bool `json:"verified"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return false, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return out.Verified, nil
}

// primusVerifyEndpoint is the provider's artifact-verification endpoint.
const primusVerifyEndpoint = "https://api.primuslabs.xyz/v1/attestation/verify"
