package query

// BatchResponse represents a batch for API queries. Curve amounts are
// decimal strings since they exceed int64 range.
type BatchResponse struct {
	Collateral      string `json:"collateral"`
	BatchID         int64  `json:"batch_id"`
	MetaBatchID     int64  `json:"meta_batch_id"`
	WindowStartUs   int64  `json:"window_start_us"`
	WindowEndUs     int64  `json:"window_end_us"`
	State           string `json:"state"`
	Supply          string `json:"supply"`
	Balance         string `json:"balance"`
	ReserveRatioPPM int64  `json:"reserve_ratio_ppm"`
	MaxSlippagePPM  int64  `json:"max_slippage_ppm"`
	TotalBuySpend   string `json:"total_buy_spend"`
	TotalBuyReturn  string `json:"total_buy_return"`
	TotalSellSpend  string `json:"total_sell_spend"`
	TotalSellReturn string `json:"total_sell_return"`
	AsOfSequence    int64  `json:"as_of_sequence"`
}

// OrderResponse represents an aggregate order for API queries.
type OrderResponse struct {
	Owner        string `json:"owner"`
	Collateral   string `json:"collateral"`
	BatchID      int64  `json:"batch_id"`
	Side         string `json:"side"`
	Amount       string `json:"amount"`
	Claimed      bool   `json:"claimed"`
	AsOfSequence int64  `json:"as_of_sequence"`
}

// CollateralResponse represents a collateral token's curve parameters.
type CollateralResponse struct {
	Collateral      string `json:"collateral"`
	VirtualSupply   string `json:"virtual_supply"`
	VirtualBalance  string `json:"virtual_balance"`
	ReserveRatioPPM int64  `json:"reserve_ratio_ppm"`
	MaxSlippagePPM  int64  `json:"max_slippage_ppm"`
	Whitelisted     bool   `json:"whitelisted"`
	AsOfSequence    int64  `json:"as_of_sequence"`
}

// BatchHistoryResponse represents a terminal batch for API queries.
type BatchHistoryResponse struct {
	Collateral      string `json:"collateral"`
	BatchID         int64  `json:"batch_id"`
	MetaBatchID     int64  `json:"meta_batch_id"`
	State           string `json:"state"`
	StaticPricePPM  int64  `json:"static_price_ppm"`
	TotalBuySpend   string `json:"total_buy_spend"`
	TotalBuyReturn  string `json:"total_buy_return"`
	TotalSellSpend  string `json:"total_sell_spend"`
	TotalSellReturn string `json:"total_sell_return"`
	SettledAtUs     int64  `json:"settled_at_us"`
	AsOfSequence    int64  `json:"as_of_sequence"`
}

// IntegrityReport is the result of an integrity verification check.
type IntegrityReport struct {
	IsHealthy       bool    `json:"is_healthy"`
	HashChainBreaks []int64 `json:"hash_chain_breaks,omitempty"`
	OrphanedClaims  []int64 `json:"orphaned_claims,omitempty"`
}
