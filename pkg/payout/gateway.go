package payout

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"
)

// Payer executes one payout and returns the provider reference.
type Payer interface {
	Payout(ctx context.Context, req Request) (string, error)
}

// Gateway routes a payout to the client of its provider. In mock mode no
// request leaves the process and a MOCK_<PROVIDER>_<unix-ms> reference is
// returned instead.
type Gateway struct {
	clients map[string]Payer
	mock    bool
	now     func() time.Time
}

// NewGateway creates a gateway over the given provider clients.
func NewGateway(clients map[string]Payer, mock bool) *Gateway {
	return &Gateway{clients: clients, mock: mock, now: time.Now}
}

// NewMockGateway returns a gateway for non-production environments.
func NewMockGateway() *Gateway {
	return NewGateway(nil, true)
}

var mockPrefixes = map[string]string{
	ProviderGCash:        "GCASH",
	ProviderGrabPay:      "GRABPAY",
	ProviderBankTransfer: "BANK",
}

// Payout dispatches req to its provider.
func (g *Gateway) Payout(ctx context.Context, req Request) (string, error) {
	if req.NetAmount <= 0 {
		return "", fmt.Errorf("payout amount must be positive, got %d", req.NetAmount)
	}
	if g.mock {
		prefix, ok := mockPrefixes[req.Provider]
		if !ok {
			return "", fmt.Errorf("unsupported payout provider: %s", req.Provider)
		}
		log.Printf("level=warn component=payout_gateway provider=%s msg=\"using mock payout\" reference=%s", req.Provider, req.Reference)
		return fmt.Sprintf("MOCK_%s_%d", prefix, g.now().UnixMilli()), nil
	}

	client, ok := g.clients[strings.ToLower(req.Provider)]
	if !ok || client == nil {
		return "", fmt.Errorf("unsupported payout provider: %s", req.Provider)
	}
	return client.Payout(ctx, req)
}
