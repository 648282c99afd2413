package query

// ReserveStatusResponse reports outstanding settlement obligations.
type ReserveStatusResponse struct {
	// Tokens owed to buy-order claimants across all collaterals
	TokensToBeMinted string `json:"tokens_to_be_minted"`

	// Collateral owed to sell-order claimants, keyed by collateral address
	CollateralToBeClaimed map[string]string `json:"collateral_to_be_claimed"`

	// Metadata
	AsOfSequence int64 `json:"as_of_sequence"` // last applied event sequence
}
