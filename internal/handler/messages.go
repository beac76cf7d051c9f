package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
	"golang.org/x/oauth2"

	"github.com/iliyamo/sms-service/internal/config"
	"github.com/iliyamo/sms-service/internal/logger"
	"github.com/iliyamo/sms-service/internal/metrics"
	"github.com/iliyamo/sms-service/internal/model"
	"github.com/iliyamo/sms-service/internal/queue"
	"github.com/iliyamo/sms-service/internal/secrets"
	"github.com/iliyamo/sms-service/internal/service"
	"github.com/iliyamo/sms-service/internal/upstream"
	"github.com/iliyamo/sms-service/internal/validator"
)

// Messages returned to callers.  None of them depends on the secret's value.
const (
	msgNoAPIKey         = "Error:  There is no IAM API Key provided"
	msgNoSecretsMgrID   = "Error:  There is no Secrets Manager Instance ID provided"
	msgInvalidBody      = "invalid body"
	msgAccessKeyUnknown = "Access Forbidden:  The provided Access Key was not found"
	msgAuthTokenInvalid = "Access Forbidden:  The provided Auth Token is not valid"
	msgUpstreamDown     = "upstream service unavailable"
	msgUpstreamTimeout  = "upstream service timed out"
)

// IdentityClient exchanges the configured API key for a bearer token.
type IdentityClient interface {
	Token(ctx context.Context, apiKey string) (*oauth2.Token, error)
}

// SecretClient retrieves the secret named by an access key.
type SecretClient interface {
	Lookup(ctx context.Context, region, instanceID string, token *oauth2.Token, secretID string) (*secrets.Secret, error)
}

// MessageHandler validates send requests against Secrets Manager.
type MessageHandler struct {
	Cfg       *config.Config
	Identity  IdentityClient
	Secrets   SecretClient
	Publisher service.Publisher
	Log       zerolog.Logger
}

// NewMessageHandler constructs a MessageHandler and panics if a dependency
// is missing.  A nil publisher disables the queue hand-off.
func NewMessageHandler(cfg *config.Config, identity IdentityClient, sc SecretClient, pub service.Publisher, log zerolog.Logger) *MessageHandler {
	if cfg == nil || identity == nil || sc == nil {
		panic("nil dependency passed to NewMessageHandler")
	}
	if pub == nil {
		pub = service.NopPublisher{}
	}
	return &MessageHandler{Cfg: cfg, Identity: identity, Secrets: sc, Publisher: pub, Log: log}
}

// PostMessages handles POST /messages.  The steps run strictly in order and
// any failure short-circuits into an HTTP response:
//
//  1. configuration present, otherwise 400 without any outbound call
//  2. body decoded
//  3. identity token fetched
//  4. secret looked up for the access key; non-2xx -> 403 with statusCode
//  5. auth token compared; mismatch -> 403 with a generic message
//  6. 200, and the accepted message is handed to the publisher
//
// Upstream failures become 502, or 504 when the per-call timeout expired.
func (h *MessageHandler) PostMessages(c echo.Context) error {
	requestID := c.Response().Header().Get(echo.HeaderXRequestID)
	log := h.Log.With().Str("request_id", requestID).Logger()

	if h.Cfg.IAMAPIKey == "" {
		return h.reject(c, log, validator.MissingConfiguration, model.ErrorResponse{Message: msgNoAPIKey})
	}
	if h.Cfg.SecretsMgrID == "" {
		return h.reject(c, log, validator.MissingConfiguration, model.ErrorResponse{Message: msgNoSecretsMgrID})
	}

	var req model.SendMessageRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, model.ErrorResponse{Message: msgInvalidBody})
	}
	log = log.With().Str("access_key_fp", logger.Fingerprint(req.AccessKey)).Logger()

	token, err := h.fetchToken(c.Request().Context(), log)
	if err != nil {
		return h.upstreamFailure(c, log, err)
	}

	secret, err := h.lookupSecret(c.Request().Context(), token, req.AccessKey)
	if err != nil {
		return h.upstreamFailure(c, log, err)
	}

	switch outcome := validator.Validate(secret, req.AuthToken); outcome {
	case validator.SecretNotFound:
		return h.reject(c, log, outcome, model.ErrorResponse{Message: msgAccessKeyUnknown, StatusCode: secret.StatusCode})
	case validator.AuthTokenMismatch:
		return h.reject(c, log, outcome, model.ErrorResponse{Message: msgAuthTokenInvalid})
	}

	metrics.ObserveOutcome(validator.Accepted.String())
	messageID := uuid.NewString()
	h.publish(c.Request().Context(), log, queue.MessageAcceptedEvent{
		MessageID:  messageID,
		SecretID:   req.AccessKey,
		To:         req.To,
		Message:    req.Message,
		RequestID:  requestID,
		AcceptedAt: time.Now().UTC().Format(time.RFC3339),
	})
	log.Info().Str("message_id", messageID).Str("to", logger.Mask(req.To)).Msg("message accepted")

	return c.JSON(http.StatusOK, model.AcceptedMessage{
		Status:    "accepted",
		MessageID: messageID,
		SecretID:  req.AccessKey,
		To:        req.To,
		Msg:       req.Message,
	})
}

func (h *MessageHandler) fetchToken(ctx context.Context, log zerolog.Logger) (*oauth2.Token, error) {
	ctx, cancel := context.WithTimeout(ctx, h.Cfg.UpstreamTimeout)
	defer cancel()
	tok, err := h.Identity.Token(ctx, h.Cfg.IAMAPIKey)
	if err != nil {
		return nil, err
	}
	log.Debug().Time("token_expiry", tok.Expiry).Msg("identity token obtained")
	return tok, nil
}

func (h *MessageHandler) lookupSecret(ctx context.Context, token *oauth2.Token, accessKey string) (*secrets.Secret, error) {
	ctx, cancel := context.WithTimeout(ctx, h.Cfg.UpstreamTimeout)
	defer cancel()
	return h.Secrets.Lookup(ctx, h.Cfg.SecretsRegion, h.Cfg.SecretsMgrID, token, accessKey)
}

// publish hands the accepted message off.  A failure is logged and does not
// change the response: the credentials were valid.
func (h *MessageHandler) publish(ctx context.Context, log zerolog.Logger, ev queue.MessageAcceptedEvent) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), h.Cfg.UpstreamTimeout)
	defer cancel()
	if err := h.Publisher.PublishMessageAccepted(ctx, ev); err != nil {
		log.Error().Err(err).Str("message_id", ev.MessageID).Msg("publish accepted message failed")
	}
}

func (h *MessageHandler) reject(c echo.Context, log zerolog.Logger, outcome validator.Outcome, body model.ErrorResponse) error {
	metrics.ObserveOutcome(outcome.String())
	ev := log.Warn().Str("outcome", outcome.String())
	if body.StatusCode != 0 {
		ev = ev.Int("upstream_status", body.StatusCode)
	}
	ev.Msg("send request rejected")
	return c.JSON(outcome.HTTPStatus(), body)
}

func (h *MessageHandler) upstreamFailure(c echo.Context, log zerolog.Logger, err error) error {
	metrics.ObserveOutcome(validator.UpstreamUnavailable.String())
	status, msg := validator.UpstreamUnavailable.HTTPStatus(), msgUpstreamDown
	if ue, ok := upstream.AsError(err); ok && ue.Timeout() {
		status, msg = http.StatusGatewayTimeout, msgUpstreamTimeout
	}
	log.Error().Err(err).Int("status", status).Msg("upstream call failed")
	return c.JSON(status, model.ErrorResponse{Message: msg})
}

// GetMessages handles GET /messages.  It returns a fixed illustrative
// listing; the service stores no messages.
func (h *MessageHandler) GetMessages(c echo.Context) error {
	return c.JSON(http.StatusOK, model.MessageList{Messages: []model.ListedMessage{
		{Msg: "this is the first message"},
		{Msg: "this is the second message"},
		{Msg: "this is the third message"},
	}})
}
