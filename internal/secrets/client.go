// Package secrets reads arbitrary secrets from IBM Cloud Secrets Manager.
package secrets

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/oauth2"

	"github.com/iliyamo/sms-service/internal/logger"
	"github.com/iliyamo/sms-service/internal/metrics"
	"github.com/iliyamo/sms-service/internal/upstream"
)

const maxBodyBytes = 1 << 20

// ErrMalformedSecret is wrapped when the store answers 2xx but the secret
// has no payload, or the payload is not a JSON document.
var ErrMalformedSecret = errors.New("secret payload is malformed")

// Secret is the result of one lookup.  Payload is only populated when
// StatusCode is 2xx.
type Secret struct {
	StatusCode int
	ID         string
	Name       string
	Payload    Payload
}

// Payload is the JSON document stored in an arbitrary secret.
type Payload struct {
	AuthToken string `json:"authToken"`
}

// Found reports whether the store returned the secret.
func (s *Secret) Found() bool {
	return s != nil && s.StatusCode >= 200 && s.StatusCode <= 299
}

// Client performs secret lookups.  When BaseURL is empty the regional
// endpoint of the instance is derived from the instance id and region.
type Client struct {
	BaseURL string
	HTTP    *http.Client
	Log     zerolog.Logger
}

// NewClient returns a Client using hc, or http.DefaultClient when hc is nil.
func NewClient(baseURL string, hc *http.Client, log zerolog.Logger) *Client {
	if hc == nil {
		hc = http.DefaultClient
	}
	return &Client{BaseURL: strings.TrimRight(baseURL, "/"), HTTP: hc, Log: log}
}

// Endpoint returns the service URL of a Secrets Manager instance.
func Endpoint(instanceID, region string) string {
	return fmt.Sprintf("https://%s.%s.secrets-manager.appdomain.cloud", instanceID, region)
}

type secretResource struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	SecretData struct {
		Payload json.RawMessage `json:"payload"`
	} `json:"secret_data"`
}

type getSecretResponse struct {
	Resources []secretResource `json:"resources"`
}

// Lookup fetches the arbitrary secret secretID, authenticating with token.
// A non-2xx answer is not an error: it is returned as a Secret carrying only
// the status code.  Transport failures, undecodable bodies and malformed
// payloads are returned as *upstream.Error.
func (c *Client) Lookup(ctx context.Context, region, instanceID string, token *oauth2.Token, secretID string) (*Secret, error) {
	start := time.Now()
	s, err := c.lookup(ctx, region, instanceID, token, secretID)
	metrics.ObserveUpstream(upstream.ServiceSecrets, start, err)
	return s, err
}

func (c *Client) lookup(ctx context.Context, region, instanceID string, token *oauth2.Token, secretID string) (*Secret, error) {
	const op = "get secret"
	if instanceID == "" || region == "" {
		return nil, upstream.NewError(upstream.ServiceSecrets, op, 0, errors.New("instance id and region are required"))
	}
	if token == nil || token.AccessToken == "" {
		return nil, upstream.NewError(upstream.ServiceSecrets, op, 0, errors.New("bearer token is required"))
	}

	base := c.BaseURL
	if base == "" {
		base = Endpoint(instanceID, region)
	}
	endpoint := base + "/api/v1/secrets/arbitrary/" + url.PathEscape(secretID)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, upstream.NewError(upstream.ServiceSecrets, op, 0, fmt.Errorf("build request: %w", err))
	}
	req.Header.Set("Accept", "application/json")
	token.SetAuthHeader(req)

	log := c.Log.With().Str("secret_id_fp", logger.Fingerprint(secretID)).Logger()
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return nil, upstream.NewError(upstream.ServiceSecrets, op, 0, upstream.StripURL(err))
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, upstream.NewError(upstream.ServiceSecrets, op, resp.StatusCode, fmt.Errorf("read body: %w", err))
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		log.Info().Int("status", resp.StatusCode).Msg("secret lookup refused")
		return &Secret{StatusCode: resp.StatusCode}, nil
	}

	var gr getSecretResponse
	if err := json.Unmarshal(body, &gr); err != nil {
		return nil, upstream.NewError(upstream.ServiceSecrets, op, 0, fmt.Errorf("decode body: %w", err))
	}
	if len(gr.Resources) == 0 {
		return nil, upstream.NewError(upstream.ServiceSecrets, op, 0, fmt.Errorf("no resources: %w", ErrMalformedSecret))
	}
	res := gr.Resources[0]
	payload, err := decodePayload(res.SecretData.Payload)
	if err != nil {
		return nil, upstream.NewError(upstream.ServiceSecrets, op, 0, err)
	}

	log.Debug().Str("secret_name", res.Name).Msg("secret retrieved")
	return &Secret{
		StatusCode: resp.StatusCode,
		ID:         res.ID,
		Name:       res.Name,
		Payload:    payload,
	}, nil
}

// decodePayload accepts the payload either as a JSON string holding a
// document (what the store returns for arbitrary secrets) or as an inline
// JSON object.
func decodePayload(raw json.RawMessage) (Payload, error) {
	var p Payload
	if len(raw) == 0 || string(raw) == "null" {
		return p, fmt.Errorf("empty payload: %w", ErrMalformedSecret)
	}
	doc := []byte(raw)
	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return p, fmt.Errorf("payload string: %w", ErrMalformedSecret)
		}
		doc = []byte(s)
	}
	if err := json.Unmarshal(doc, &p); err != nil {
		return p, fmt.Errorf("payload document: %w", ErrMalformedSecret)
	}
	return p, nil
}
