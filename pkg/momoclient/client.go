/**
 * @description
 * This package provides a client for the MTN Mobile Money (MoMo) Collection API.
 * It encapsulates the credential exchange for a bearer token, request-to-pay
 * submission and request-to-pay status lookups, and maps non-2xx responses to a
 * typed error.
 *
 * @dependencies
 * - bytes, context, encoding/json, fmt, net/http, time: Standard Go libraries.
 */
package momoclient

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	DefaultBaseURL           = "https://sandbox.momodeveloper.mtn.com"
	DefaultTargetEnvironment = "sandbox"
	DefaultCurrency          = "UGX"

	subscriptionKeyHeader = "Ocp-Apim-Subscription-Key"
)

// Provider-side request-to-pay statuses.
const (
	StatusPending    = "PENDING"
	StatusSuccessful = "SUCCESSFUL"
	StatusFailed     = "FAILED"
)

// Config holds the collection product credentials issued by the MoMo developer portal.
type Config struct {
	BaseURL           string
	SubscriptionKey   string
	APIUser           string
	APIKey            string
	TargetEnvironment string
	Currency          string
	Timeout           time.Duration
}

// Client is a client for the MoMo Collection API.
type Client struct {
	BaseURL           string
	SubscriptionKey   string
	APIUser           string
	APIKey            string
	TargetEnvironment string
	Currency          string
	HTTPClient        *http.Client
}

// NewClient creates a new MoMo Collection API client.
func NewClient(cfg Config) *Client {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	env := strings.TrimSpace(cfg.TargetEnvironment)
	if env == "" {
		env = DefaultTargetEnvironment
	}
	currency := strings.TrimSpace(cfg.Currency)
	if currency == "" {
		currency = DefaultCurrency
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		BaseURL:           baseURL,
		SubscriptionKey:   cfg.SubscriptionKey,
		APIUser:           cfg.APIUser,
		APIKey:            cfg.APIKey,
		TargetEnvironment: env,
		Currency:          currency,
		HTTPClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// Party identifies the payer.
type Party struct {
	PartyIDType string `json:"partyIdType"`
	PartyID     string `json:"partyId"`
}

// RequestToPay is the body of a collection request.
type RequestToPay struct {
	Amount       string `json:"amount"`
	Currency     string `json:"currency"`
	ExternalID   string `json:"externalId"`
	Payer        Party  `json:"payer"`
	PayerMessage string `json:"payerMessage"`
	PayeeNote    string `json:"payeeNote"`
}

// RequestToPayStatus is the provider's view of a collection request. The same body
// is posted to the callback URL once the request resolves.
type RequestToPayStatus struct {
	Amount                 string      `json:"amount"`
	Currency               string      `json:"currency"`
	FinancialTransactionID string      `json:"financialTransactionId"`
	ExternalID             string      `json:"externalId"`
	Payer                  Party       `json:"payer"`
	Status                 string      `json:"status"`
	Reason                 ErrorReason `json:"reason,omitempty"`
}

// ErrorReason explains a FAILED collection. The provider sends either a bare
// code string or an object with code and message.
type ErrorReason struct {
	Code    string `json:"code,omitempty"`
	Message string `json:"message,omitempty"`
}

func (r *ErrorReason) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*r = ErrorReason{}
		return nil
	}
	if data[0] == '"' {
		var code string
		if err := json.Unmarshal(data, &code); err != nil {
			return err
		}
		*r = ErrorReason{Code: code}
		return nil
	}
	type plain ErrorReason
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	*r = ErrorReason(p)
	return nil
}

func (r ErrorReason) String() string {
	switch {
	case r.Code != "" && r.Message != "":
		return r.Code + ": " + r.Message
	case r.Code != "":
		return r.Code
	default:
		return r.Message
	}
}

// TokenResponse is returned by the collection token endpoint.
type TokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int    `json:"expires_in"`
}

// APIError represents a non-2xx response from the MoMo API.
type APIError struct {
	Op         string
	StatusCode int
	Code       string `json:"code"`
	Message    string `json:"message"`
}

func (e *APIError) Error() string {
	if e.Code != "" || e.Message != "" {
		return fmt.Sprintf("momo api error: op=%s status=%d code=%s message=%s", e.Op, e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("momo api error: op=%s status=%d", e.Op, e.StatusCode)
}

// NewCollectionRequest builds the request-to-pay body for a loan repayment.
func (c *Client) NewCollectionRequest(amount int64, phone string, loanID int64) RequestToPay {
	return RequestToPay{
		Amount:     fmt.Sprintf("%d", amount),
		Currency:   c.Currency,
		ExternalID: fmt.Sprintf("%d", loanID),
		Payer: Party{
			PartyIDType: "MSISDN",
			PartyID:     strings.TrimSpace(phone),
		},
		PayerMessage: fmt.Sprintf("Payment for Loan #%d", loanID),
		PayeeNote:    "Alumni Loan Repayment",
	}
}

// GetToken exchanges the API user and key for a collection bearer token.
func (c *Client) GetToken(ctx context.Context) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/collection/token/", bytes.NewReader([]byte("{}")))
	if err != nil {
		return "", fmt.Errorf("failed to create token request: %w", err)
	}
	credentials := base64.StdEncoding.EncodeToString([]byte(c.APIUser + ":" + c.APIKey))
	req.Header.Set("Authorization", "Basic "+credentials)
	req.Header.Set(subscriptionKeyHeader, c.SubscriptionKey)
	req.Header.Set("Content-Type", "application/json")

	bodyBytes, err := c.do(req, "token")
	if err != nil {
		return "", err
	}

	var token TokenResponse
	if err := json.Unmarshal(bodyBytes, &token); err != nil {
		return "", fmt.Errorf("failed to decode token response: %w", err)
	}
	if strings.TrimSpace(token.AccessToken) == "" {
		return "", fmt.Errorf("token response missing access_token")
	}
	return token.AccessToken, nil
}

// RequestToPay submits a collection request. The provider answers 202 Accepted and
// later posts the final status to callbackURL, keyed by referenceID.
func (c *Client) RequestToPay(ctx context.Context, token, referenceID, callbackURL string, payload RequestToPay) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal request-to-pay: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/collection/v1_0/requesttopay", bytes.NewBuffer(body))
	if err != nil {
		return fmt.Errorf("failed to create request-to-pay: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("X-Reference-Id", referenceID)
	req.Header.Set("X-Target-Environment", c.TargetEnvironment)
	req.Header.Set(subscriptionKeyHeader, c.SubscriptionKey)
	req.Header.Set("Content-Type", "application/json")
	if strings.TrimSpace(callbackURL) != "" {
		req.Header.Set("X-Callback-Url", callbackURL)
	}

	_, err = c.do(req, "request_to_pay")
	return err
}

// GetRequestToPayStatus fetches the current status of a collection request.
func (c *Client) GetRequestToPayStatus(ctx context.Context, token, referenceID string) (*RequestToPayStatus, error) {
	endpoint := c.BaseURL + "/collection/v1_0/requesttopay/" + url.PathEscape(referenceID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create status request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("X-Target-Environment", c.TargetEnvironment)
	req.Header.Set(subscriptionKeyHeader, c.SubscriptionKey)
	req.Header.Set("Accept", "application/json")

	bodyBytes, err := c.do(req, "request_to_pay_status")
	if err != nil {
		return nil, err
	}

	var status RequestToPayStatus
	if err := json.Unmarshal(bodyBytes, &status); err != nil {
		return nil, fmt.Errorf("failed to decode status response: %w", err)
	}
	return &status, nil
}

// do executes the request and returns the body of a 2xx response.
func (c *Client) do(req *http.Request, op string) ([]byte, error) {
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to execute %s request: %w", op, err)
	}
	defer resp.Body.Close()

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s response: %w", op, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := &APIError{Op: op, StatusCode: resp.StatusCode}
		if len(bytes.TrimSpace(bodyBytes)) > 0 {
			if err := json.Unmarshal(bodyBytes, apiErr); err != nil {
				log.Printf("level=warn component=momo_client op=%s status=%d msg=\"non-2xx response (unparsable error body)\"", op, resp.StatusCode)
			}
		}
		log.Printf("level=warn component=momo_client op=%s status=%d code=%q message=%q", op, resp.StatusCode, apiErr.Code, apiErr.Message)
		return nil, apiErr
	}

	return bodyBytes, nil
}
