package handler_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	. "github.com/onsi/gomega"
	"github.com/rs/zerolog"
	"golang.org/x/oauth2"

	"github.com/iliyamo/sms-service/internal/config"
	"github.com/iliyamo/sms-service/internal/handler"
	"github.com/iliyamo/sms-service/internal/queue"
	"github.com/iliyamo/sms-service/internal/secrets"
	"github.com/iliyamo/sms-service/internal/upstream"
)

type fakeIdentity struct {
	calls  int
	gotKey string
	token  *oauth2.Token
	err    error
	block  bool
}

func (f *fakeIdentity) Token(ctx context.Context, apiKey string) (*oauth2.Token, error) {
	f.calls++
	f.gotKey = apiKey
	if f.block {
		<-ctx.Done()
		return nil, upstream.NewError(upstream.ServiceIAM, "token", 0, ctx.Err())
	}
	return f.token, f.err
}

type fakeSecrets struct {
	calls       int
	gotRegion   string
	gotInstance string
	gotToken    *oauth2.Token
	gotID       string
	secret      *secrets.Secret
	err         error
}

func (f *fakeSecrets) Lookup(_ context.Context, region, instanceID string, token *oauth2.Token, secretID string) (*secrets.Secret, error) {
	f.calls++
	f.gotRegion, f.gotInstance, f.gotToken, f.gotID = region, instanceID, token, secretID
	return f.secret, f.err
}

type recordingPublisher struct {
	events []queue.MessageAcceptedEvent
	err    error
}

func (p *recordingPublisher) PublishMessageAccepted(_ context.Context, ev queue.MessageAcceptedEvent) error {
	p.events = append(p.events, ev)
	return p.err
}

type fixture struct {
	cfg      *config.Config
	identity *fakeIdentity
	secrets  *fakeSecrets
	pub      *recordingPublisher
}

func newFixture() *fixture {
	return &fixture{
		cfg: &config.Config{
			IAMAPIKey:       "api-key",
			SecretsMgrID:    "instance-1",
			SecretsRegion:   "us-south",
			UpstreamTimeout: time.Second,
		},
		identity: &fakeIdentity{token: &oauth2.Token{AccessToken: "bearer-1", TokenType: "Bearer"}},
		secrets:  &fakeSecrets{secret: storedToken("t1")},
		pub:      &recordingPublisher{},
	}
}

func storedToken(token string) *secrets.Secret {
	return &secrets.Secret{StatusCode: http.StatusOK, ID: "k1", Payload: secrets.Payload{AuthToken: token}}
}

func (f *fixture) post(body string) *httptest.ResponseRecorder {
	e := echo.New()
	h := handler.NewMessageHandler(f.cfg, f.identity, f.secrets, f.pub, zerolog.Nop())
	e.POST("/messages", h.PostMessages)

	req := httptest.NewRequest(http.MethodPost, "/messages", strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

const validBody = `{"access_key":"k1","auth_token":"t1","to":"+15550100","message":"hello"}`

func decode(g *WithT, rec *httptest.ResponseRecorder) map[string]any {
	var out map[string]any
	g.Expect(json.Unmarshal(rec.Body.Bytes(), &out)).To(Succeed())
	return out
}

func TestPostMessagesMissingConfiguration(t *testing.T) {
	for _, tt := range []struct {
		name    string
		mutate  func(*config.Config)
		message string
	}{
		{
			name:    "no IAM API key",
			mutate:  func(c *config.Config) { c.IAMAPIKey = "" },
			message: "Error:  There is no IAM API Key provided",
		},
		{
			name:    "no Secrets Manager instance",
			mutate:  func(c *config.Config) { c.SecretsMgrID = "" },
			message: "Error:  There is no Secrets Manager Instance ID provided",
		},
		{
			name:    "neither",
			mutate:  func(c *config.Config) { c.IAMAPIKey, c.SecretsMgrID = "", "" },
			message: "Error:  There is no IAM API Key provided",
		},
	} {
		t.Run(tt.name, func(t *testing.T) {
			g := NewWithT(t)
			f := newFixture()
			tt.mutate(f.cfg)

			rec := f.post(validBody)

			g.Expect(rec.Code).To(Equal(http.StatusBadRequest))
			g.Expect(decode(g, rec)).To(HaveKeyWithValue("message", tt.message))
			g.Expect(f.identity.calls).To(BeZero())
			g.Expect(f.secrets.calls).To(BeZero())
		})
	}
}

func TestPostMessagesInvalidBody(t *testing.T) {
	g := NewWithT(t)
	f := newFixture()

	rec := f.post(`{"access_key":`)

	g.Expect(rec.Code).To(Equal(http.StatusBadRequest))
	g.Expect(decode(g, rec)).To(HaveKeyWithValue("message", "invalid body"))
	g.Expect(f.identity.calls).To(BeZero())
	g.Expect(f.secrets.calls).To(BeZero())
}

func TestPostMessagesAccepted(t *testing.T) {
	g := NewWithT(t)
	f := newFixture()

	rec := f.post(validBody)

	g.Expect(rec.Code).To(Equal(http.StatusOK))
	body := decode(g, rec)
	g.Expect(body).To(HaveKeyWithValue("status", "accepted"))
	g.Expect(body).To(HaveKeyWithValue("secretId", "k1"))
	g.Expect(body).To(HaveKeyWithValue("to", "+15550100"))
	g.Expect(body).To(HaveKeyWithValue("msg", "hello"))
	g.Expect(body).To(HaveKeyWithValue("messageId", Not(BeEmpty())))
	g.Expect(body).NotTo(HaveKey("authToken"))
	g.Expect(rec.Body.String()).NotTo(ContainSubstring("t1"))

	g.Expect(f.identity.gotKey).To(Equal("api-key"))
	g.Expect(f.secrets.gotRegion).To(Equal("us-south"))
	g.Expect(f.secrets.gotInstance).To(Equal("instance-1"))
	g.Expect(f.secrets.gotToken.AccessToken).To(Equal("bearer-1"))
	g.Expect(f.secrets.gotID).To(Equal("k1"))

	g.Expect(f.pub.events).To(HaveLen(1))
	ev := f.pub.events[0]
	g.Expect(ev.MessageID).To(Equal(body["messageId"]))
	g.Expect(ev.SecretID).To(Equal("k1"))
	g.Expect(ev.To).To(Equal("+15550100"))
	g.Expect(ev.Message).To(Equal("hello"))
}

func TestPostMessagesAcceptedEvenIfPublishFails(t *testing.T) {
	g := NewWithT(t)
	f := newFixture()
	f.pub.err = errors.New("broker down")

	rec := f.post(validBody)

	g.Expect(rec.Code).To(Equal(http.StatusOK))
	g.Expect(f.pub.events).To(HaveLen(1))
}

func TestPostMessagesAuthTokenMismatch(t *testing.T) {
	g := NewWithT(t)
	f := newFixture()
	f.secrets.secret = storedToken("wrong")

	rec := f.post(validBody)

	g.Expect(rec.Code).To(Equal(http.StatusForbidden))
	g.Expect(decode(g, rec)).To(Equal(map[string]any{
		"message": "Access Forbidden:  The provided Auth Token is not valid",
	}))
	g.Expect(rec.Body.String()).NotTo(ContainSubstring("t1"))
	g.Expect(rec.Body.String()).NotTo(ContainSubstring("wrong"))
	g.Expect(f.pub.events).To(BeEmpty())
}

func TestPostMessagesSecretNotFound(t *testing.T) {
	for _, code := range []int{http.StatusNotFound, http.StatusUnauthorized, http.StatusInternalServerError} {
		t.Run(http.StatusText(code), func(t *testing.T) {
			g := NewWithT(t)
			f := newFixture()
			f.secrets.secret = &secrets.Secret{StatusCode: code}

			rec := f.post(validBody)

			g.Expect(rec.Code).To(Equal(http.StatusForbidden))
			body := decode(g, rec)
			g.Expect(body).To(HaveKeyWithValue("message", "Access Forbidden:  The provided Access Key was not found"))
			g.Expect(body).To(HaveKeyWithValue("statusCode", float64(code)))
			g.Expect(f.pub.events).To(BeEmpty())
		})
	}
}

func TestPostMessagesIdentityFailure(t *testing.T) {
	g := NewWithT(t)
	f := newFixture()
	f.identity.token = nil
	f.identity.err = upstream.NewError(upstream.ServiceIAM, "token", http.StatusBadRequest, errors.New("rejected"))

	rec := f.post(validBody)

	g.Expect(rec.Code).To(Equal(http.StatusBadGateway))
	g.Expect(decode(g, rec)).To(HaveKeyWithValue("message", "upstream service unavailable"))
	g.Expect(f.secrets.calls).To(BeZero())
}

func TestPostMessagesSecretLookupFailure(t *testing.T) {
	g := NewWithT(t)
	f := newFixture()
	f.secrets.secret = nil
	f.secrets.err = upstream.NewError(upstream.ServiceSecrets, "get secret", 0, secrets.ErrMalformedSecret)

	rec := f.post(validBody)

	g.Expect(rec.Code).To(Equal(http.StatusBadGateway))
	g.Expect(rec.Body.String()).NotTo(ContainSubstring("malformed"))
}

func TestPostMessagesUpstreamTimeout(t *testing.T) {
	g := NewWithT(t)
	f := newFixture()
	f.cfg.UpstreamTimeout = 20 * time.Millisecond
	f.identity.block = true

	start := time.Now()
	rec := f.post(validBody)

	g.Expect(rec.Code).To(Equal(http.StatusGatewayTimeout))
	g.Expect(decode(g, rec)).To(HaveKeyWithValue("message", "upstream service timed out"))
	g.Expect(time.Since(start)).To(BeNumerically("<", time.Second))
	g.Expect(f.secrets.calls).To(BeZero())
}

func TestGetMessages(t *testing.T) {
	g := NewWithT(t)
	f := newFixture()
	e := echo.New()
	h := handler.NewMessageHandler(f.cfg, f.identity, f.secrets, nil, zerolog.Nop())
	e.GET("/messages", h.GetMessages)

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/messages", nil))

	g.Expect(rec.Code).To(Equal(http.StatusOK))
	var list struct {
		Messages []struct {
			Msg string `json:"msg"`
		} `json:"messages"`
	}
	g.Expect(json.Unmarshal(rec.Body.Bytes(), &list)).To(Succeed())
	g.Expect(list.Messages).To(HaveLen(3))
	g.Expect(list.Messages[0].Msg).To(Equal("this is the first message"))
	g.Expect(f.identity.calls).To(BeZero())
}

func TestNewMessageHandlerPanicsOnMissingDependency(t *testing.T) {
	g := NewWithT(t)
	g.Expect(func() {
		handler.NewMessageHandler(nil, &fakeIdentity{}, &fakeSecrets{}, nil, zerolog.Nop())
	}).To(Panic())
}
