package iam_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	. "github.com/onsi/gomega"
	"github.com/rs/zerolog"

	"github.com/iliyamo/sms-service/internal/iam"
	"github.com/iliyamo/sms-service/internal/upstream"
)

func newServer(t *testing.T, handler http.HandlerFunc) *iam.Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return iam.NewClient(srv.URL, srv.Client(), zerolog.Nop())
}

func TestTokenExchangesAPIKey(t *testing.T) {
	g := NewWithT(t)
	exp := time.Now().Add(time.Hour).Unix()

	c := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		g.Expect(r.Method).To(Equal(http.MethodPost))
		g.Expect(r.URL.Path).To(Equal("/identity/token"))
		g.Expect(r.Header.Get("Accept")).To(Equal("application/json"))
		g.Expect(r.ParseForm()).To(Succeed())
		g.Expect(r.PostForm.Get("grant_type")).To(Equal(iam.GrantTypeAPIKey))
		g.Expect(r.PostForm.Get("apikey")).To(Equal("my-api-key"))

		_ = json.NewEncoder(w).Encode(map[string]any{
			"access_token": "bearer-1",
			"token_type":   "Bearer",
			"expires_in":   3600,
			"expiration":   exp,
		})
	})

	tok, err := c.Token(context.Background(), "my-api-key")
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(tok.AccessToken).To(Equal("bearer-1"))
	g.Expect(tok.Type()).To(Equal("Bearer"))
	g.Expect(tok.Expiry.Unix()).To(Equal(exp))
}

func TestTokenFallsBackToJWTExpiry(t *testing.T) {
	g := NewWithT(t)
	exp := time.Now().Add(30 * time.Minute).Truncate(time.Second)
	raw, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "iam-ServiceId-1",
		"exp": exp.Unix(),
	}).SignedString([]byte("k"))
	g.Expect(err).NotTo(HaveOccurred())

	c := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"access_token": raw, "token_type": "Bearer"})
	})

	tok, err := c.Token(context.Background(), "k")
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(tok.Expiry.Equal(exp)).To(BeTrue())
}

func TestTokenFailures(t *testing.T) {
	for _, tt := range []struct {
		name       string
		handler    http.HandlerFunc
		statusCode int
	}{
		{
			name: "non-success status",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusBadRequest)
				_, _ = w.Write([]byte(`{"errorCode":"BXNIM0415E"}`))
			},
			statusCode: http.StatusBadRequest,
		},
		{
			name: "non-JSON body",
			handler: func(w http.ResponseWriter, r *http.Request) {
				_, _ = w.Write([]byte("<html>maintenance</html>"))
			},
		},
		{
			name: "empty access token",
			handler: func(w http.ResponseWriter, r *http.Request) {
				_, _ = w.Write([]byte(`{"access_token":""}`))
			},
		},
		{
			name: "already expired token",
			handler: func(w http.ResponseWriter, r *http.Request) {
				_ = json.NewEncoder(w).Encode(map[string]any{
					"access_token": "stale",
					"expiration":   time.Now().Add(-time.Minute).Unix(),
				})
			},
		},
	} {
		t.Run(tt.name, func(t *testing.T) {
			g := NewWithT(t)
			c := newServer(t, tt.handler)

			tok, err := c.Token(context.Background(), "secret-api-key")
			g.Expect(tok).To(BeNil())
			ue, ok := upstream.AsError(err)
			g.Expect(ok).To(BeTrue())
			g.Expect(ue.Service).To(Equal(upstream.ServiceIAM))
			g.Expect(ue.StatusCode).To(Equal(tt.statusCode))
			g.Expect(err.Error()).NotTo(ContainSubstring("secret-api-key"))
		})
	}
}

func TestTokenEmptyAPIKeyMakesNoCall(t *testing.T) {
	g := NewWithT(t)
	called := false
	c := newServer(t, func(w http.ResponseWriter, r *http.Request) { called = true })

	_, err := c.Token(context.Background(), "")
	g.Expect(upstream.IsError(err)).To(BeTrue())
	g.Expect(called).To(BeFalse())
}

func TestTokenHonoursDeadline(t *testing.T) {
	g := NewWithT(t)
	release := make(chan struct{})
	c := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	})
	t.Cleanup(func() { close(release) })

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := c.Token(ctx, "k")
	ue, ok := upstream.AsError(err)
	g.Expect(ok).To(BeTrue())
	g.Expect(ue.Timeout()).To(BeTrue())
}

func TestTokenUnreachable(t *testing.T) {
	g := NewWithT(t)
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	_, err := iam.NewClient(url, nil, zerolog.Nop()).Token(context.Background(), "k")
	g.Expect(upstream.IsError(err)).To(BeTrue())
}
