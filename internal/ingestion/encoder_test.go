package ingestion_test

import (
	"CurveMarket/internal/event"
	"CurveMarket/internal/ingestion"
	"math/big"
	"reflect"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
)

// The event log stores payloads in the wire format, so every command must
// survive encode → parse unchanged for replay to reproduce live processing.
func TestWireEventRoundTrip(t *testing.T) {
	owner := common.HexToAddress("0x71C7656EC7ab88b098defB751B7401B5f6d8976F")
	collateral := common.HexToAddress("0x6B175474E89094C44Da98b954EedeAC495271d0F")

	events := []event.Event{
		&event.OpenBuyOrder{
			RequestID:      uuid.MustParse("11111111-1111-1111-1111-111111111111"),
			Buyer:          owner,
			CollateralAddr: collateral,
			Amount:         mustBig("1000000000000000000000"),
			Sequence:       7,
			TimestampUs:    1_700_000_000_000_000,
		},
		&event.OpenSellOrder{
			RequestID:      uuid.MustParse("22222222-2222-2222-2222-222222222222"),
			Seller:         owner,
			CollateralAddr: collateral,
			Amount:         big.NewInt(500),
			Sequence:       8,
			TimestampUs:    1_700_000_000_000_001,
		},
		&event.ClaimBuyOrder{
			RequestID:      uuid.MustParse("33333333-3333-3333-3333-333333333333"),
			Owner:          owner,
			CollateralAddr: collateral,
			BatchID:        3,
			Sequence:       9,
			TimestampUs:    1_700_000_000_000_002,
		},
		&event.ClaimCancelledSellOrder{
			RequestID:      uuid.MustParse("44444444-4444-4444-4444-444444444444"),
			Owner:          owner,
			CollateralAddr: collateral,
			BatchID:        4,
			Sequence:       10,
			TimestampUs:    1_700_000_000_000_003,
		},
		&event.AddCollateralToken{
			RequestID:       uuid.MustParse("55555555-5555-5555-5555-555555555555"),
			CollateralAddr:  collateral,
			VirtualSupply:   mustBig("1000000000000000000"),
			VirtualBalance:  mustBig("500000000000000000"),
			ReserveRatioPPM: 500_000,
			MaxSlippagePPM:  10_000,
			Sequence:        11,
			TimestampUs:     1_700_000_000_000_004,
		},
		&event.RemoveCollateralToken{
			RequestID:      uuid.MustParse("66666666-6666-6666-6666-666666666666"),
			CollateralAddr: collateral,
			Sequence:       12,
			TimestampUs:    1_700_000_000_000_005,
		},
		&event.UpdateFees{
			RequestID:   uuid.MustParse("77777777-7777-7777-7777-777777777777"),
			BuyFeePct:   mustBig("10000000000000000"),
			SellFeePct:  big.NewInt(0),
			Sequence:    13,
			TimestampUs: 1_700_000_000_000_006,
		},
		&event.UpdateBeneficiary{
			RequestID:   uuid.MustParse("88888888-8888-8888-8888-888888888888"),
			Beneficiary: owner,
			Sequence:    14,
			TimestampUs: 1_700_000_000_000_007,
		},
		&event.DepositCollateral{
			RequestID:      uuid.MustParse("99999999-9999-9999-9999-999999999999"),
			Depositor:      owner,
			CollateralAddr: collateral,
			Amount:         mustBig("250000000000000000000"),
			Sequence:       15,
			TimestampUs:    1_700_000_000_000_008,
		},
	}

	for _, in := range events {
		data, err := ingestion.MarshalWireEvent(in)
		if err != nil {
			t.Fatalf("%s: marshal: %v", in.EventType(), err)
		}

		out, err := ingestion.ParseRawEvent(ingestion.RawEvent{Data: data}, in.EventType().String())
		if err != nil {
			t.Fatalf("%s: parse: %v", in.EventType(), err)
		}

		if !reflect.DeepEqual(in, out) {
			t.Errorf("%s: round trip mismatch:\n in: %+v\nout: %+v", in.EventType(), in, out)
		}
	}
}

func mustBig(s string) *big.Int {
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		panic("bad big int literal: " + s)
	}
	return v
}
