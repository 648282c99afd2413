package projection

// BatchHistoryEntry records one batch reaching a terminal state.
type BatchHistoryEntry struct {
	Collateral      string
	BatchID         int64
	MetaBatchID     int64
	State           string
	StaticPricePPM  int64
	TotalBuySpend   string
	TotalBuyReturn  string
	TotalSellSpend  string
	TotalSellReturn string
	SettledAtUs     int64
}

// BatchHistoryProjection maintains queryable in-memory batch history.
type BatchHistoryProjection struct {
	entries []BatchHistoryEntry
}

func NewBatchHistoryProjection() *BatchHistoryProjection {
	return &BatchHistoryProjection{
		entries: make([]BatchHistoryEntry, 0),
	}
}

// AddEntry records a settled or cancelled batch
func (p *BatchHistoryProjection) AddEntry(entry BatchHistoryEntry) {
	p.entries = append(p.entries, entry)
}

// QueryByCollateral returns the most recent history for a collateral
func (p *BatchHistoryProjection) QueryByCollateral(collateral string, limit int) []BatchHistoryEntry {
	result := make([]BatchHistoryEntry, 0)

	for i := len(p.entries) - 1; i >= 0 && len(result) < limit; i-- {
		if p.entries[i].Collateral == collateral {
			result = append(result, p.entries[i])
		}
	}

	return result
}
