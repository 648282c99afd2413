package ingestion

import (
	"CurveMarket/internal/event"
	"encoding/json"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
)

// ParseRawEvent converts a RawEvent (JSON bytes + event type string) into a
// typed event.Event. The ingestion shell validates, parses, and converts raw
// events before sending to the deterministic core.
func ParseRawEvent(raw RawEvent, eventType string) (event.Event, error) {
	switch eventType {
	case "OpenBuyOrder":
		return parseOpenBuyOrder(raw.Data)
	case "OpenSellOrder":
		return parseOpenSellOrder(raw.Data)
	case "ClaimBuyOrder":
		return parseClaimBuyOrder(raw.Data)
	case "ClaimSellOrder":
		return parseClaimSellOrder(raw.Data)
	case "ClaimCancelledBuyOrder":
		return parseClaimCancelledBuyOrder(raw.Data)
	case "ClaimCancelledSellOrder":
		return parseClaimCancelledSellOrder(raw.Data)
	case "AddCollateralToken":
		return parseAddCollateralToken(raw.Data)
	case "RemoveCollateralToken":
		return parseRemoveCollateralToken(raw.Data)
	case "UpdateCollateralToken":
		return parseUpdateCollateralToken(raw.Data)
	case "UpdateFees":
		return parseUpdateFees(raw.Data)
	case "UpdateBeneficiary":
		return parseUpdateBeneficiary(raw.Data)
	case "DepositCollateral":
		return parseDepositCollateral(raw.Data)
	default:
		return nil, fmt.Errorf("unknown event type: %s", eventType)
	}
}

// --- JSON wire formats ---
// These structs represent the JSON payloads received from NATS.
// Field names use snake_case to match upstream producers. Token and collateral
// amounts are decimal strings because they exceed int64 range.

func parseAddress(field, s string) (common.Address, error) {
	if !common.IsHexAddress(s) {
		return common.Address{}, fmt.Errorf("parse %s: not a hex address: %q", field, s)
	}
	return common.HexToAddress(s), nil
}

func parseAmount(field, s string) (*big.Int, error) {
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, fmt.Errorf("parse %s: not a decimal integer: %q", field, s)
	}
	return v, nil
}

type openOrderJSON struct {
	RequestID   string `json:"request_id"`
	Owner       string `json:"owner"`
	Collateral  string `json:"collateral"`
	Amount      string `json:"amount"`
	Sequence    int64  `json:"sequence"`
	TimestampUs int64  `json:"timestamp_us"`
}

func parseOpenBuyOrder(data []byte) (*event.OpenBuyOrder, error) {
	var j openOrderJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse OpenBuyOrder: %w", err)
	}
	requestID, err := uuid.Parse(j.RequestID)
	if err != nil {
		return nil, fmt.Errorf("parse request_id: %w", err)
	}
	buyer, err := parseAddress("owner", j.Owner)
	if err != nil {
		return nil, err
	}
	collateral, err := parseAddress("collateral", j.Collateral)
	if err != nil {
		return nil, err
	}
	amount, err := parseAmount("amount", j.Amount)
	if err != nil {
		return nil, err
	}
	return &event.OpenBuyOrder{
		RequestID:      requestID,
		Buyer:          buyer,
		CollateralAddr: collateral,
		Amount:         amount,
		Sequence:       j.Sequence,
		TimestampUs:    j.TimestampUs,
	}, nil
}

func parseOpenSellOrder(data []byte) (*event.OpenSellOrder, error) {
	var j openOrderJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse OpenSellOrder: %w", err)
	}
	requestID, err := uuid.Parse(j.RequestID)
	if err != nil {
		return nil, fmt.Errorf("parse request_id: %w", err)
	}
	seller, err := parseAddress("owner", j.Owner)
	if err != nil {
		return nil, err
	}
	collateral, err := parseAddress("collateral", j.Collateral)
	if err != nil {
		return nil, err
	}
	amount, err := parseAmount("amount", j.Amount)
	if err != nil {
		return nil, err
	}
	return &event.OpenSellOrder{
		RequestID:      requestID,
		Seller:         seller,
		CollateralAddr: collateral,
		Amount:         amount,
		Sequence:       j.Sequence,
		TimestampUs:    j.TimestampUs,
	}, nil
}

type claimJSON struct {
	RequestID   string `json:"request_id"`
	Owner       string `json:"owner"`
	Collateral  string `json:"collateral"`
	BatchID     int64  `json:"batch_id"`
	Sequence    int64  `json:"sequence"`
	TimestampUs int64  `json:"timestamp_us"`
}

func (j *claimJSON) parse() (uuid.UUID, common.Address, common.Address, error) {
	requestID, err := uuid.Parse(j.RequestID)
	if err != nil {
		return uuid.UUID{}, common.Address{}, common.Address{}, fmt.Errorf("parse request_id: %w", err)
	}
	owner, err := parseAddress("owner", j.Owner)
	if err != nil {
		return uuid.UUID{}, common.Address{}, common.Address{}, err
	}
	collateral, err := parseAddress("collateral", j.Collateral)
	if err != nil {
		return uuid.UUID{}, common.Address{}, common.Address{}, err
	}
	return requestID, owner, collateral, nil
}

func parseClaimBuyOrder(data []byte) (*event.ClaimBuyOrder, error) {
	var j claimJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse ClaimBuyOrder: %w", err)
	}
	requestID, owner, collateral, err := j.parse()
	if err != nil {
		return nil, err
	}
	return &event.ClaimBuyOrder{
		RequestID:      requestID,
		Owner:          owner,
		CollateralAddr: collateral,
		BatchID:        j.BatchID,
		Sequence:       j.Sequence,
		TimestampUs:    j.TimestampUs,
	}, nil
}

func parseClaimSellOrder(data []byte) (*event.ClaimSellOrder, error) {
	var j claimJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse ClaimSellOrder: %w", err)
	}
	requestID, owner, collateral, err := j.parse()
	if err != nil {
		return nil, err
	}
	return &event.ClaimSellOrder{
		RequestID:      requestID,
		Owner:          owner,
		CollateralAddr: collateral,
		BatchID:        j.BatchID,
		Sequence:       j.Sequence,
		TimestampUs:    j.TimestampUs,
	}, nil
}

func parseClaimCancelledBuyOrder(data []byte) (*event.ClaimCancelledBuyOrder, error) {
	var j claimJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse ClaimCancelledBuyOrder: %w", err)
	}
	requestID, owner, collateral, err := j.parse()
	if err != nil {
		return nil, err
	}
	return &event.ClaimCancelledBuyOrder{
		RequestID:      requestID,
		Owner:          owner,
		CollateralAddr: collateral,
		BatchID:        j.BatchID,
		Sequence:       j.Sequence,
		TimestampUs:    j.TimestampUs,
	}, nil
}

func parseClaimCancelledSellOrder(data []byte) (*event.ClaimCancelledSellOrder, error) {
	var j claimJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse ClaimCancelledSellOrder: %w", err)
	}
	requestID, owner, collateral, err := j.parse()
	if err != nil {
		return nil, err
	}
	return &event.ClaimCancelledSellOrder{
		RequestID:      requestID,
		Owner:          owner,
		CollateralAddr: collateral,
		BatchID:        j.BatchID,
		Sequence:       j.Sequence,
		TimestampUs:    j.TimestampUs,
	}, nil
}

type collateralParamsJSON struct {
	RequestID       string `json:"request_id"`
	Collateral      string `json:"collateral"`
	VirtualSupply   string `json:"virtual_supply"`
	VirtualBalance  string `json:"virtual_balance"`
	ReserveRatioPPM uint32 `json:"reserve_ratio_ppm"`
	MaxSlippagePPM  uint32 `json:"max_slippage_ppm"`
	Sequence        int64  `json:"sequence"`
	TimestampUs     int64  `json:"timestamp_us"`
}

func parseAddCollateralToken(data []byte) (*event.AddCollateralToken, error) {
	var j collateralParamsJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse AddCollateralToken: %w", err)
	}
	requestID, err := uuid.Parse(j.RequestID)
	if err != nil {
		return nil, fmt.Errorf("parse request_id: %w", err)
	}
	collateral, err := parseAddress("collateral", j.Collateral)
	if err != nil {
		return nil, err
	}
	virtualSupply, err := parseAmount("virtual_supply", j.VirtualSupply)
	if err != nil {
		return nil, err
	}
	virtualBalance, err := parseAmount("virtual_balance", j.VirtualBalance)
	if err != nil {
		return nil, err
	}
	return &event.AddCollateralToken{
		RequestID:       requestID,
		CollateralAddr:  collateral,
		VirtualSupply:   virtualSupply,
		VirtualBalance:  virtualBalance,
		ReserveRatioPPM: j.ReserveRatioPPM,
		MaxSlippagePPM:  j.MaxSlippagePPM,
		Sequence:        j.Sequence,
		TimestampUs:     j.TimestampUs,
	}, nil
}

type removeCollateralJSON struct {
	RequestID   string `json:"request_id"`
	Collateral  string `json:"collateral"`
	Sequence    int64  `json:"sequence"`
	TimestampUs int64  `json:"timestamp_us"`
}

func parseRemoveCollateralToken(data []byte) (*event.RemoveCollateralToken, error) {
	var j removeCollateralJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse RemoveCollateralToken: %w", err)
	}
	requestID, err := uuid.Parse(j.RequestID)
	if err != nil {
		return nil, fmt.Errorf("parse request_id: %w", err)
	}
	collateral, err := parseAddress("collateral", j.Collateral)
	if err != nil {
		return nil, err
	}
	return &event.RemoveCollateralToken{
		RequestID:      requestID,
		CollateralAddr: collateral,
		Sequence:       j.Sequence,
		TimestampUs:    j.TimestampUs,
	}, nil
}

func parseUpdateCollateralToken(data []byte) (*event.UpdateCollateralToken, error) {
	var j collateralParamsJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse UpdateCollateralToken: %w", err)
	}
	requestID, err := uuid.Parse(j.RequestID)
	if err != nil {
		return nil, fmt.Errorf("parse request_id: %w", err)
	}
	collateral, err := parseAddress("collateral", j.Collateral)
	if err != nil {
		return nil, err
	}
	virtualSupply, err := parseAmount("virtual_supply", j.VirtualSupply)
	if err != nil {
		return nil, err
	}
	virtualBalance, err := parseAmount("virtual_balance", j.VirtualBalance)
	if err != nil {
		return nil, err
	}
	return &event.UpdateCollateralToken{
		RequestID:       requestID,
		CollateralAddr:  collateral,
		VirtualSupply:   virtualSupply,
		VirtualBalance:  virtualBalance,
		ReserveRatioPPM: j.ReserveRatioPPM,
		MaxSlippagePPM:  j.MaxSlippagePPM,
		Sequence:        j.Sequence,
		TimestampUs:     j.TimestampUs,
	}, nil
}

type updateFeesJSON struct {
	RequestID   string `json:"request_id"`
	BuyFeePct   string `json:"buy_fee_pct"`
	SellFeePct  string `json:"sell_fee_pct"`
	Sequence    int64  `json:"sequence"`
	TimestampUs int64  `json:"timestamp_us"`
}

func parseUpdateFees(data []byte) (*event.UpdateFees, error) {
	var j updateFeesJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse UpdateFees: %w", err)
	}
	requestID, err := uuid.Parse(j.RequestID)
	if err != nil {
		return nil, fmt.Errorf("parse request_id: %w", err)
	}
	buyFeePct, err := parseAmount("buy_fee_pct", j.BuyFeePct)
	if err != nil {
		return nil, err
	}
	sellFeePct, err := parseAmount("sell_fee_pct", j.SellFeePct)
	if err != nil {
		return nil, err
	}
	return &event.UpdateFees{
		RequestID:   requestID,
		BuyFeePct:   buyFeePct,
		SellFeePct:  sellFeePct,
		Sequence:    j.Sequence,
		TimestampUs: j.TimestampUs,
	}, nil
}

type updateBeneficiaryJSON struct {
	RequestID   string `json:"request_id"`
	Beneficiary string `json:"beneficiary"`
	Sequence    int64  `json:"sequence"`
	TimestampUs int64  `json:"timestamp_us"`
}

func parseUpdateBeneficiary(data []byte) (*event.UpdateBeneficiary, error) {
	var j updateBeneficiaryJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse UpdateBeneficiary: %w", err)
	}
	requestID, err := uuid.Parse(j.RequestID)
	if err != nil {
		return nil, fmt.Errorf("parse request_id: %w", err)
	}
	beneficiary, err := parseAddress("beneficiary", j.Beneficiary)
	if err != nil {
		return nil, err
	}
	return &event.UpdateBeneficiary{
		RequestID:   requestID,
		Beneficiary: beneficiary,
		Sequence:    j.Sequence,
		TimestampUs: j.TimestampUs,
	}, nil
}

type depositJSON struct {
	RequestID   string `json:"request_id"`
	Depositor   string `json:"depositor"`
	Collateral  string `json:"collateral"`
	Amount      string `json:"amount"`
	Sequence    int64  `json:"sequence"`
	TimestampUs int64  `json:"timestamp_us"`
}

func parseDepositCollateral(data []byte) (*event.DepositCollateral, error) {
	var j depositJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse DepositCollateral: %w", err)
	}
	requestID, err := uuid.Parse(j.RequestID)
	if err != nil {
		return nil, fmt.Errorf("parse request_id: %w", err)
	}
	depositor, err := parseAddress("depositor", j.Depositor)
	if err != nil {
		return nil, err
	}
	collateral, err := parseAddress("collateral", j.Collateral)
	if err != nil {
		return nil, err
	}
	amount, err := parseAmount("amount", j.Amount)
	if err != nil {
		return nil, err
	}
	return &event.DepositCollateral{
		RequestID:      requestID,
		Depositor:      depositor,
		CollateralAddr: collateral,
		Amount:         amount,
		Sequence:       j.Sequence,
		TimestampUs:    j.TimestampUs,
	}, nil
}
