package ingestion

import (
	"CurveMarket/internal/event"
	"encoding/json"
	"fmt"
)

// MarshalWireEvent serializes a typed event back into the JSON wire format
// that ParseRawEvent accepts. The event log stores payloads in this format so
// replay goes through the exact same parse path as live ingestion.
func MarshalWireEvent(evt event.Event) ([]byte, error) {
	switch e := evt.(type) {
	case *event.OpenBuyOrder:
		return json.Marshal(openOrderJSON{
			RequestID:   e.RequestID.String(),
			Owner:       e.Buyer.Hex(),
			Collateral:  e.CollateralAddr.Hex(),
			Amount:      e.Amount.String(),
			Sequence:    e.Sequence,
			TimestampUs: e.TimestampUs,
		})
	case *event.OpenSellOrder:
		return json.Marshal(openOrderJSON{
			RequestID:   e.RequestID.String(),
			Owner:       e.Seller.Hex(),
			Collateral:  e.CollateralAddr.Hex(),
			Amount:      e.Amount.String(),
			Sequence:    e.Sequence,
			TimestampUs: e.TimestampUs,
		})
	case *event.ClaimBuyOrder:
		return json.Marshal(claimJSON{
			RequestID:   e.RequestID.String(),
			Owner:       e.Owner.Hex(),
			Collateral:  e.CollateralAddr.Hex(),
			BatchID:     e.BatchID,
			Sequence:    e.Sequence,
			TimestampUs: e.TimestampUs,
		})
	case *event.ClaimSellOrder:
		return json.Marshal(claimJSON{
			RequestID:   e.RequestID.String(),
			Owner:       e.Owner.Hex(),
			Collateral:  e.CollateralAddr.Hex(),
			BatchID:     e.BatchID,
			Sequence:    e.Sequence,
			TimestampUs: e.TimestampUs,
		})
	case *event.ClaimCancelledBuyOrder:
		return json.Marshal(claimJSON{
			RequestID:   e.RequestID.String(),
			Owner:       e.Owner.Hex(),
			Collateral:  e.CollateralAddr.Hex(),
			BatchID:     e.BatchID,
			Sequence:    e.Sequence,
			TimestampUs: e.TimestampUs,
		})
	case *event.ClaimCancelledSellOrder:
		return json.Marshal(claimJSON{
			RequestID:   e.RequestID.String(),
			Owner:       e.Owner.Hex(),
			Collateral:  e.CollateralAddr.Hex(),
			BatchID:     e.BatchID,
			Sequence:    e.Sequence,
			TimestampUs: e.TimestampUs,
		})
	case *event.AddCollateralToken:
		return json.Marshal(collateralParamsJSON{
			RequestID:       e.RequestID.String(),
			Collateral:      e.CollateralAddr.Hex(),
			VirtualSupply:   e.VirtualSupply.String(),
			VirtualBalance:  e.VirtualBalance.String(),
			ReserveRatioPPM: e.ReserveRatioPPM,
			MaxSlippagePPM:  e.MaxSlippagePPM,
			Sequence:        e.Sequence,
			TimestampUs:     e.TimestampUs,
		})
	case *event.RemoveCollateralToken:
		return json.Marshal(removeCollateralJSON{
			RequestID:   e.RequestID.String(),
			Collateral:  e.CollateralAddr.Hex(),
			Sequence:    e.Sequence,
			TimestampUs: e.TimestampUs,
		})
	case *event.UpdateCollateralToken:
		return json.Marshal(collateralParamsJSON{
			RequestID:       e.RequestID.String(),
			Collateral:      e.CollateralAddr.Hex(),
			VirtualSupply:   e.VirtualSupply.String(),
			VirtualBalance:  e.VirtualBalance.String(),
			ReserveRatioPPM: e.ReserveRatioPPM,
			MaxSlippagePPM:  e.MaxSlippagePPM,
			Sequence:        e.Sequence,
			TimestampUs:     e.TimestampUs,
		})
	case *event.UpdateFees:
		return json.Marshal(updateFeesJSON{
			RequestID:   e.RequestID.String(),
			BuyFeePct:   e.BuyFeePct.String(),
			SellFeePct:  e.SellFeePct.String(),
			Sequence:    e.Sequence,
			TimestampUs: e.TimestampUs,
		})
	case *event.UpdateBeneficiary:
		return json.Marshal(updateBeneficiaryJSON{
			RequestID:   e.RequestID.String(),
			Beneficiary: e.Beneficiary.Hex(),
			Sequence:    e.Sequence,
			TimestampUs: e.TimestampUs,
		})
	case *event.DepositCollateral:
		return json.Marshal(depositJSON{
			RequestID:   e.RequestID.String(),
			Depositor:   e.Depositor.Hex(),
			Collateral:  e.CollateralAddr.Hex(),
			Amount:      e.Amount.String(),
			Sequence:    e.Sequence,
			TimestampUs: e.TimestampUs,
		})
	default:
		return nil, fmt.Errorf("unknown event type: %T", evt)
	}
}
