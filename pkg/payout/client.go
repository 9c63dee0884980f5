/**
 * @description
 * This package provides clients for the payout rails a withdrawal can be
 * settled through: GCash, GrabPay and bank transfer. Each Client encapsulates
 * the authenticated HTTP call to one provider's disbursement endpoint and the
 * parsing of its response into a provider reference.
 *
 * @notes
 * - Amounts arrive in centavos and are sent to the providers in pesos with two
 *   decimal places.
 * - A payout call is not idempotent on the provider side. Callers must invoke
 *   Payout at most once per processing attempt.
 *
 * @dependencies
 * - bytes, context, encoding/json, fmt, net/http, time: Standard Go libraries.
 * - github.com/shopspring/decimal: exact centavo to peso conversion.
 */
package payout

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Provider names understood by the Gateway.
const (
	ProviderGCash        = "gcash"
	ProviderGrabPay      = "grabpay"
	ProviderBankTransfer = "bank_transfer"
)

// Destination is the decrypted account a payout is sent to.
type Destination struct {
	AccountNumber string
	AccountName   string
	BankCode      string
}

// Request is one payout instruction.
type Request struct {
	Provider    string
	Destination Destination
	// NetAmount is in centavos.
	NetAmount int64
	// Reference is our idempotency reference, usually the withdrawal id.
	Reference string
}

// Client is a client for one provider's disbursement API.
type Client struct {
	Provider   string
	BaseURL    string
	APIKey     string
	MerchantID string
	HTTPClient *http.Client
}

// NewClient creates a new provider client.
func NewClient(provider, baseURL, apiKey, merchantID string) *Client {
	return &Client{
		Provider:   provider,
		BaseURL:    strings.TrimSuffix(baseURL, "/"),
		APIKey:     apiKey,
		MerchantID: merchantID,
		HTTPClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

type amountPayload struct {
	Currency string      `json:"currency"`
	Value    json.Number `json:"value"`
}

type recipientPayload struct {
	Type     string `json:"type"`
	Value    string `json:"value"`
	Name     string `json:"name,omitempty"`
	BankCode string `json:"bank_code,omitempty"`
}

type payoutPayload struct {
	Amount      amountPayload    `json:"amount"`
	Recipient   recipientPayload `json:"recipient"`
	Reference   string           `json:"reference"`
	Description string           `json:"description"`
}

// PayoutResponse is the common success shape of the providers' APIs.
type PayoutResponse struct {
	Success         bool   `json:"success"`
	ReferenceNumber string `json:"referenceNumber"`
	TxnRef          string `json:"txnRef"`
	Status          string `json:"status"`
}

func (r *PayoutResponse) reference() string {
	if r.ReferenceNumber != "" {
		return r.ReferenceNumber
	}
	return r.TxnRef
}

// ErrorResponse represents an error returned by a provider.
type ErrorResponse struct {
	StatusCode int `json:"-"`
	Err        struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func (e *ErrorResponse) Error() string {
	if e.Err.Message != "" {
		return fmt.Sprintf("payout provider error (status %d): %s %s", e.StatusCode, e.Err.Code, e.Err.Message)
	}
	return fmt.Sprintf("payout provider error (status %d)", e.StatusCode)
}

// PesoAmount converts centavos to a two decimal peso string.
func PesoAmount(centavos int64) string {
	return decimal.New(centavos, -2).StringFixed(2)
}

func (c *Client) endpoint() string {
	switch c.Provider {
	case ProviderGrabPay:
		return c.BaseURL + "/disbursements"
	case ProviderBankTransfer:
		return c.BaseURL + "/bank-transfers"
	default:
		return c.BaseURL + "/transfers"
	}
}

func (c *Client) buildPayload(req Request) payoutPayload {
	recipient := recipientPayload{Type: "MOBILE", Value: req.Destination.AccountNumber, Name: req.Destination.AccountName}
	if c.Provider == ProviderBankTransfer {
		recipient.Type = "BANK_ACCOUNT"
		recipient.BankCode = req.Destination.BankCode
	}
	return payoutPayload{
		Amount:      amountPayload{Currency: "PHP", Value: json.Number(PesoAmount(req.NetAmount))},
		Recipient:   recipient,
		Reference:   req.Reference,
		Description: "CityPulse withdrawal",
	}
}

// Payout sends the disbursement and returns the provider's reference.
func (c *Client) Payout(ctx context.Context, req Request) (string, error) {
	if strings.TrimSpace(c.APIKey) == "" {
		return "", fmt.Errorf("%s api key not configured", c.Provider)
	}

	body, err := json.Marshal(c.buildPayload(req))
	if err != nil {
		return "", fmt.Errorf("failed to marshal payout request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint(), bytes.NewBuffer(body))
	if err != nil {
		return "", fmt.Errorf("failed to create payout request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.APIKey)
	httpReq.Header.Set("Idempotency-Key", req.Reference)
	if c.MerchantID != "" {
		httpReq.Header.Set("X-Merchant-ID", c.MerchantID)
	}

	resp, err := c.HTTPClient.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("failed to execute payout request: %w", err)
	}
	defer resp.Body.Close()

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read payout response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		errResp := &ErrorResponse{StatusCode: resp.StatusCode}
		if err := json.Unmarshal(bodyBytes, errResp); err != nil {
			log.Printf("level=warn component=payout_client provider=%s status=%d msg=\"non-2xx response (unparsable error body)\"", c.Provider, resp.StatusCode)
		} else {
			log.Printf("level=warn component=payout_client provider=%s status=%d code=%q detail=%q", c.Provider, resp.StatusCode, errResp.Err.Code, errResp.Err.Message)
		}
		return "", errResp
	}

	var success PayoutResponse
	if err := json.Unmarshal(bodyBytes, &success); err != nil {
		return "", fmt.Errorf("failed to decode payout response: %w", err)
	}
	if strings.EqualFold(success.Status, "failed") {
		return "", fmt.Errorf("%s reported payout %s as failed", c.Provider, success.reference())
	}
	if success.reference() == "" {
		return "", fmt.Errorf("%s payout response missing reference", c.Provider)
	}
	return success.reference(), nil
}
