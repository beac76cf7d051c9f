// Package iam exchanges a long-lived IBM Cloud API key for a short-lived
// bearer token.  Tokens are fetched fresh for every call and never cached.
package iam

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
	"github.com/iliyamo/sms-service/internal/utils"
)

// GrantTypeAPIKey is the IAM grant type for API key exchanges.
const GrantTypeAPIKey = "urn:ibm:params:oauth:grant-type:apikey"

const tokenPath = "/identity/token"

// maxBodyBytes bounds how much of an IAM response is read.
const maxBodyBytes = 1 << 20

var (
	errEmptyAPIKey   = errors.New("api key is empty")
	errInvalidToken  = errors.New("identity provider returned an empty or expired token")
	errUnexpectedRes = errors.New("identity provider rejected the token request")
)

// Client talks to the IAM token endpoint.
type Client struct {
	BaseURL string
	HTTP    *http.Client
	Log     zerolog.Logger
}

// NewClient returns a Client for baseURL using hc, or http.DefaultClient
// when hc is nil.
func NewClient(baseURL string, hc *http.Client, log zerolog.Logger) *Client {
	if hc == nil {
		hc = http.DefaultClient
	}
	return &Client{BaseURL: strings.TrimRight(baseURL, "/"), HTTP: hc, Log: log}
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int64  `json:"expires_in"`
	Expiration  int64  `json:"expiration"`
}

// Token performs the API key exchange and returns the bearer token.  Every
// failure is returned as an *upstream.Error; the API key itself never
// appears in errors or logs.
func (c *Client) Token(ctx context.Context, apiKey string) (*oauth2.Token, error) {
	start := time.Now()
	tok, err := c.token(ctx, apiKey)
	metrics.ObserveUpstream(upstream.ServiceIAM, start, err)
	return tok, err
}

func (c *Client) token(ctx context.Context, apiKey string) (*oauth2.Token, error) {
	log := c.Log.With().Str("api_key_fp", logger.Fingerprint(apiKey)).Logger()
	if apiKey == "" {
		return nil, upstream.NewError(upstream.ServiceIAM, "token", 0, errEmptyAPIKey)
	}

	form := url.Values{}
	form.Set("grant_type", GrantTypeAPIKey)
	form.Set("apikey", apiKey)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+tokenPath, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, upstream.NewError(upstream.ServiceIAM, "token", 0, fmt.Errorf("build request: %w", err))
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	log.Debug().Msg("requesting identity token")
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return nil, upstream.NewError(upstream.ServiceIAM, "token", 0, upstream.StripURL(err))
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, upstream.NewError(upstream.ServiceIAM, "token", resp.StatusCode, fmt.Errorf("read body: %w", err))
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		log.Warn().Int("status", resp.StatusCode).Msg("identity token request rejected")
		return nil, upstream.NewError(upstream.ServiceIAM, "token", resp.StatusCode, errUnexpectedRes)
	}

	var tr tokenResponse
	if err := json.Unmarshal(body, &tr); err != nil {
		return nil, upstream.NewError(upstream.ServiceIAM, "token", 0, fmt.Errorf("decode body: %w", err))
	}

	tok := &oauth2.Token{
		AccessToken: tr.AccessToken,
		TokenType:   tr.TokenType,
		Expiry:      expiry(tr, time.Now()),
	}
	info, infoErr := utils.InspectAccessToken(tr.AccessToken)
	if tok.Expiry.IsZero() && infoErr == nil {
		tok.Expiry = info.Expiry
	}
	if !tok.Valid() {
		return nil, upstream.NewError(upstream.ServiceIAM, "token", 0, errInvalidToken)
	}

	log.Debug().
		Str("subject", info.Subject).
		Time("expiry", tok.Expiry).
		Msg("identity token issued")
	return tok, nil
}

// expiry prefers the absolute expiration reported by IAM and falls back to
// expires_in counted from now.  Zero means unknown.
func expiry(tr tokenResponse, now time.Time) time.Time {
	switch {
	case tr.Expiration > 0:
		return time.Unix(tr.Expiration, 0).UTC()
	case tr.ExpiresIn > 0:
		return now.Add(time.Duration(tr.ExpiresIn) * time.Second).UTC()
	}
	return time.Time{}
}
