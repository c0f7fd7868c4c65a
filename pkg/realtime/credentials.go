package realtime

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/parlance-ai/parlance/pkg/core"
)

// CredentialProvider fetches the ephemeral credential for one connect
// attempt. An error or an empty value is fatal for that attempt and is not
// retried.
type CredentialProvider func(ctx context.Context) (string, error)

// StaticCredential returns the given value on every attempt. Intended for
// tests and local development only; production deployments mint per-session
// credentials through the gateway.
func StaticCredential(value string) CredentialProvider {
	return func(context.Context) (string, error) {
		return value, nil
	}
}

// mintRequest is the session-create body posted to the credential endpoint.
type mintRequest struct {
	Model string `json:"model,omitempty"`
	Voice string `json:"voice,omitempty"`
}

// mintResponse is the subset of the endpoint's reply the provider needs.
type mintResponse struct {
	ClientSecret struct {
		Value string `json:"value"`
	} `json:"client_secret"`
}

// GatewayCredentialOption configures a gateway credential provider.
type GatewayCredentialOption func(*gatewayCredentials)

// WithCredentialHTTPClient overrides the HTTP client.
func WithCredentialHTTPClient(client *http.Client) GatewayCredentialOption {
	return func(g *gatewayCredentials) {
		if client != nil {
			g.httpClient = client
		}
	}
}

// WithCredentialVoice requests a specific voice for the minted session.
func WithCredentialVoice(voice string) GatewayCredentialOption {
	return func(g *gatewayCredentials) { g.voice = voice }
}

type gatewayCredentials struct {
	endpoint   string
	apiKey     string
	model      string
	voice      string
	httpClient *http.Client
}

// GatewayCredentials mints an ephemeral credential from the gateway's
// session endpoint. The apiKey authenticates against the gateway, not the
// upstream provider; the upstream key never reaches this process.
func GatewayCredentials(endpoint, apiKey, model string, opts ...GatewayCredentialOption) CredentialProvider {
	g := &gatewayCredentials{
		endpoint:   endpoint,
		apiKey:     apiKey,
		model:      model,
		httpClient: &http.Client{},
	}
	for _, opt := range opts {
		opt(g)
	}
	return g.fetch
}

func (g *gatewayCredentials) fetch(ctx context.Context) (string, error) {
	body, err := json.Marshal(mintRequest{Model: g.model, Voice: g.voice})
	if err != nil {
		return "", fmt.Errorf("marshal mint request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.endpoint, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create mint request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if g.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+g.apiKey)
	}

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return "", core.NewCredentialError("credential endpoint unreachable: " + err.Error())
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", core.NewCredentialError("read credential response: " + err.Error())
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", core.NewCredentialError(fmt.Sprintf("credential endpoint returned status %d", resp.StatusCode))
	}

	var minted mintResponse
	if err := json.Unmarshal(respBody, &minted); err != nil {
		return "", core.NewCredentialError("malformed credential response")
	}
	secret := strings.TrimSpace(minted.ClientSecret.Value)
	if secret == "" {
		return "", core.NewCredentialError("credential endpoint returned no client secret")
	}
	return secret, nil
}
