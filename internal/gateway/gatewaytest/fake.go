// Package gatewaytest 内存版支付网关
package gatewaytest

import (
	"context"
	"fmt"
	"sync"

	"github.com/qs3c/vipgate_server/internal/gateway"
)

type Gateway struct {
	mu sync.Mutex

	CreateErr   error
	StatusErr   error
	ValidateErr error

	charges  []gateway.ChargeRequest
	statuses map[string]string
	payers   map[string][2]string
	queries  int
	seq      int
}

func New() *Gateway {
	return &Gateway{
		statuses: map[string]string{},
		payers:   map[string][2]string{},
	}
}

func (g *Gateway) CreateCharge(ctx context.Context, token string, req gateway.ChargeRequest) (*gateway.Charge, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.CreateErr != nil {
		return nil, g.CreateErr
	}
	g.seq++
	ref := fmt.Sprintf("gw-%d", g.seq)
	g.charges = append(g.charges, req)
	g.statuses[ref] = "created"

	return &gateway.Charge{
		Reference:    ref,
		PixCode:      "00020126pix-" + ref,
		QRCodeBase64: "aGVsbG8=",
		Status:       "created",
	}, nil
}

func (g *Gateway) GetStatus(ctx context.Context, token, reference string) (*gateway.Status, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.queries++
	if g.StatusErr != nil {
		return nil, g.StatusErr
	}
	payer := g.payers[reference]
	return &gateway.Status{
		Reference:       reference,
		Status:          g.statuses[reference],
		PayerName:       payer[0],
		PayerNationalID: payer[1],
	}, nil
}

func (g *Gateway) ValidateToken(ctx context.Context, token string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.ValidateErr
}

// SetStatus 模拟网关侧状态变化
func (g *Gateway) SetStatus(reference, status string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.statuses[reference] = status
}

func (g *Gateway) SetPayer(reference, name, nationalID string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.payers[reference] = [2]string{name, nationalID}
}

// Charges 已创建的收款请求
func (g *Gateway) Charges() []gateway.ChargeRequest {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]gateway.ChargeRequest(nil), g.charges...)
}

func (g *Gateway) StatusQueries() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.queries
}
