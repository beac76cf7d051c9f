package model

// SendMessageRequest is the JSON body of POST /messages.  It lives only for
// the duration of one request.
//
// Fields:
//  AccessKey – identifier of the secret that holds the caller's auth token.
//  AuthToken – credential compared against the secret's stored auth token.
//  To        – destination phone number.
//  Message   – text of the SMS.
type SendMessageRequest struct {
	AccessKey string `json:"access_key"`
	AuthToken string `json:"auth_token"`
	To        string `json:"to"`
	Message   string `json:"message"`
}

// AcceptedMessage is returned with 200 once the credentials are validated.
// It deliberately omits the caller's auth token.
type AcceptedMessage struct {
	Status    string `json:"status"`
	MessageID string `json:"messageId"`
	SecretID  string `json:"secretId"`
	To        string `json:"to"`
	Msg       string `json:"msg"`
}

// ErrorResponse is the body of every non-2xx response.  StatusCode carries
// the secret store's status when a lookup was refused.
type ErrorResponse struct {
	Message    string `json:"message"`
	StatusCode int    `json:"statusCode,omitempty"`
}

// ListedMessage is one entry of the illustrative GET /messages listing.
type ListedMessage struct {
	Msg string `json:"msg"`
}

// MessageList is the body of GET /messages.
type MessageList struct {
	Messages []ListedMessage `json:"messages"`
}

// Health is the body of GET /health.
type Health struct {
	Status     string `json:"status"`
	AppVersion string `json:"appVersion"`
}
