package ingestion

import (
	"CurveMarket/internal/event"
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
)

// AdminIngestService provides admin/manual event injection over HTTP.
// Admin ingest is for manual operations and backfill, not for
// high-throughput ingestion (use NATS for that).
type AdminIngestService struct {
	eventChan chan<- event.Event
}

func NewAdminIngestService(eventChan chan<- event.Event) *AdminIngestService {
	return &AdminIngestService{eventChan: eventChan}
}

// EventChan exposes the channel for HTTP handlers that parse their own
// payloads.
func (s *AdminIngestService) EventChan() chan<- event.Event {
	return s.eventChan
}

// Submit parses a raw JSON payload into a typed event and queues it.
func (s *AdminIngestService) Submit(ctx context.Context, eventType string, payload []byte) error {
	evt, err := ParseRawEvent(RawEvent{Subject: "admin", Data: payload, Timestamp: time.Now()}, eventType)
	if err != nil {
		return err
	}

	select {
	case s.eventChan <- evt:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// InjectAddCollateral manually whitelists a collateral token.
func (s *AdminIngestService) InjectAddCollateral(
	ctx context.Context,
	collateral common.Address,
	virtualSupply, virtualBalance *big.Int,
	reserveRatioPPM, maxSlippagePPM uint32,
) error {
	if virtualSupply == nil || virtualSupply.Sign() <= 0 {
		return fmt.Errorf("virtual supply must be positive")
	}
	if virtualBalance == nil || virtualBalance.Sign() <= 0 {
		return fmt.Errorf("virtual balance must be positive")
	}

	evt := &event.AddCollateralToken{
		RequestID:       uuid.New(),
		CollateralAddr:  collateral,
		VirtualSupply:   virtualSupply,
		VirtualBalance:  virtualBalance,
		ReserveRatioPPM: reserveRatioPPM,
		MaxSlippagePPM:  maxSlippagePPM,
		Sequence:        time.Now().UnixMicro(), // Admin-injected: use timestamp as sequence
		TimestampUs:     time.Now().UnixMicro(),
	}

	select {
	case s.eventChan <- evt:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// InjectDeposit manually credits a depositor's vault balance, e.g. to
// backfill a deposit the upstream settlement system missed.
func (s *AdminIngestService) InjectDeposit(
	ctx context.Context,
	depositor, collateral common.Address,
	amount *big.Int,
) error {
	if amount == nil || amount.Sign() <= 0 {
		return fmt.Errorf("deposit amount must be positive")
	}

	evt := &event.DepositCollateral{
		RequestID:      uuid.New(),
		Depositor:      depositor,
		CollateralAddr: collateral,
		Amount:         amount,
		Sequence:       time.Now().UnixMicro(),
		TimestampUs:    time.Now().UnixMicro(),
	}

	select {
	case s.eventChan <- evt:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// InjectUpdateFees manually replaces the fee percentages.
func (s *AdminIngestService) InjectUpdateFees(
	ctx context.Context,
	buyFeePct, sellFeePct *big.Int,
) error {
	if buyFeePct == nil || sellFeePct == nil {
		return fmt.Errorf("fee percentages are required")
	}

	evt := &event.UpdateFees{
		RequestID:   uuid.New(),
		BuyFeePct:   buyFeePct,
		SellFeePct:  sellFeePct,
		Sequence:    time.Now().UnixMicro(),
		TimestampUs: time.Now().UnixMicro(),
	}

	select {
	case s.eventChan <- evt:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// InjectUpdateBeneficiary manually replaces the fee beneficiary.
func (s *AdminIngestService) InjectUpdateBeneficiary(
	ctx context.Context,
	beneficiary common.Address,
) error {
	if beneficiary == (common.Address{}) {
		return fmt.Errorf("beneficiary must be non-zero")
	}

	evt := &event.UpdateBeneficiary{
		RequestID:   uuid.New(),
		Beneficiary: beneficiary,
		Sequence:    time.Now().UnixMicro(),
		TimestampUs: time.Now().UnixMicro(),
	}

	select {
	case s.eventChan <- evt:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
