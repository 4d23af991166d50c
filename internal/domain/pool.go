package domain

// PoolShare is one asset's share of the index pool in basis points
type PoolShare struct {
	Symbol   string `json:"symbol"`
	Address  string `json:"address"`
	IsStable bool   `json:"is_stable"`
	Bps      int64  `json:"bps"` // largest remainder; may exceed WeightText.Current by 1
}

// PoolComposition is the per-asset breakdown of the index pool
type PoolComposition struct {
	Shares                 []PoolShare `json:"shares"`
	StablecoinSharePercent string      `json:"stablecoin_share_percent"`
}
