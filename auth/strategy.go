package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"collabtext/roomkit/effects"
)

type tokenResponse struct {
	Token string `json:"token"`
}

// PublicKeyFetcher implements the public auth strategy: POST
// {room, publicApiKey} to url, expect {"token": "..."}.
func PublicKeyFetcher(client *http.Client, url, publicAPIKey string) effects.TokenFetcher {
	if client == nil {
		client = http.DefaultClient
	}
	return func(ctx context.Context, roomID string) (string, error) {
		body, _ := json.Marshal(map[string]string{"room": roomID, "publicApiKey": publicAPIKey})
		return postForToken(ctx, client, url, body)
	}
}

// PrivateEndpointFetcher implements the private auth strategy: POST
// {room} to url, expect {"token": "..."}. Any bearer/session credentials
// the caller needs should already be baked into client (e.g. via a custom
// http.RoundTripper), matching how a private auth endpoint is normally a
// same-origin call carrying cookies.
func PrivateEndpointFetcher(client *http.Client, url string) effects.TokenFetcher {
	if client == nil {
		client = http.DefaultClient
	}
	return func(ctx context.Context, roomID string) (string, error) {
		body, _ := json.Marshal(map[string]string{"room": roomID})
		return postForToken(ctx, client, url, body)
	}
}

// CustomCallback implements the custom auth strategy: an arbitrary
// user-supplied function returning {"token": "..."}-shaped data.
type CustomCallback func(ctx context.Context, roomID string) (map[string]interface{}, error)

func CustomFetcher(cb CustomCallback) effects.TokenFetcher {
	return func(ctx context.Context, roomID string) (string, error) {
		if cb == nil {
			return "", fmt.Errorf("%w: no custom auth callback configured", ErrAuthentication)
		}
		resp, err := cb(ctx, roomID)
		if err != nil {
			return "", fmt.Errorf("%w: %v", ErrAuthentication, err)
		}
		token, ok := resp["token"].(string)
		if !ok || token == "" {
			return "", fmt.Errorf("%w: custom auth response missing token", ErrAuthentication)
		}
		return token, nil
	}
}

func postForToken(ctx context.Context, client *http.Client, url string, body []byte) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrAuthentication, err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := client.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrAuthentication, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("%w: auth endpoint returned status %d", ErrAuthentication, resp.StatusCode)
	}
	var tr tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&tr); err != nil {
		return "", fmt.Errorf("%w: malformed auth response: %v", ErrAuthentication, err)
	}
	if tr.Token == "" {
		return "", fmt.Errorf("%w: auth response missing token field", ErrAuthentication)
	}
	return tr.Token, nil
}
