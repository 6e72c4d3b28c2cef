// Package sandbox is a payout provider that accepts every transfer without moving money.
package sandbox

import (
	"context"

	"github.com/rubhub/payouts/internal/payout/domain"
	"go.uber.org/zap"
)

const ProviderName = "sandbox"

type Factory struct {
	log *zap.Logger
}

func NewFactory(log *zap.Logger) *Factory {
	if log == nil {
		log = zap.NewNop()
	}
	return &Factory{log: log.Named("payout.sandbox")}
}

func (f *Factory) Provider() string {
	return ProviderName
}

func (f *Factory) NewGateway(cfg domain.GatewayConfig) (domain.Gateway, error) {
	return &Gateway{log: f.log, masterAccount: cfg.MasterAccount}, nil
}

type Gateway struct {
	log           *zap.Logger
	masterAccount string
}

func (g *Gateway) Provider() string {
	return ProviderName
}

func (g *Gateway) TransferToTherapist(ctx context.Context, req domain.TherapistTransfer) (domain.TransferReceipt, error) {
	if req.Amount <= 0 || req.IdempotencyKey == "" {
		return domain.TransferReceipt{}, domain.ErrInvalidTransfer
	}
	g.log.Info("sandbox therapist transfer",
		zap.String("idempotency_key", req.IdempotencyKey),
		zap.String("therapist_id", req.TherapistID.String()),
		zap.Int64("amount", req.Amount),
		zap.String("currency", req.Currency),
	)
	return domain.TransferReceipt{Provider: ProviderName, Reference: "sbx_" + req.IdempotencyKey}, nil
}

func (g *Gateway) TransferToMaster(ctx context.Context, req domain.MasterTransfer) (domain.TransferReceipt, error) {
	if req.Amount <= 0 || req.IdempotencyKey == "" {
		return domain.TransferReceipt{}, domain.ErrInvalidTransfer
	}
	account := req.Account
	if account == "" {
		account = g.masterAccount
	}
	g.log.Info("sandbox master transfer",
		zap.String("idempotency_key", req.IdempotencyKey),
		zap.String("run_id", req.RunID),
		zap.Bool("account_set", account != ""),
		zap.Int64("amount", req.Amount),
		zap.String("currency", req.Currency),
	)
	return domain.TransferReceipt{Provider: ProviderName, Reference: "sbx_" + req.IdempotencyKey}, nil
}
