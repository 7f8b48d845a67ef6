package model

// Event is a vault lifecycle record enriched with a sequence number,
// serialized to JSONL or Postgres.
type Event struct {
	Seq       uint64      `json:"seq"`
	Timestamp int64       `json:"timestamp"`
	Name      string      `json:"name"`
	Payload   interface{} `json:"payload"`
}

// Event names.
const (
	EventDeposit     = "deposit"
	EventWithdraw    = "withdraw"
	EventSnapshot    = "snapshot"
	EventCollectFees = "collect_fees"
	EventSwap        = "swap"
	EventGate        = "gate"
)

// DepositEvent records a share mint.
type DepositEvent struct {
	Sender  string `json:"sender"`
	To      string `json:"to"`
	Shares  string `json:"shares"`
	Amount0 string `json:"amount0"`
	Amount1 string `json:"amount1"`
}

// WithdrawEvent records a share burn.
type WithdrawEvent struct {
	Sender  string `json:"sender"`
	To      string `json:"to"`
	Shares  string `json:"shares"`
	Amount0 string `json:"amount0"`
	Amount1 string `json:"amount1"`
}

// SnapshotEvent records vault state right after a rebalance.
type SnapshotEvent struct {
	Tick         int    `json:"tick"`
	TotalAmount0 string `json:"total_amount0"`
	TotalAmount1 string `json:"total_amount1"`
	TotalShares  string `json:"total_shares"`
	BaseLower    int    `json:"base_lower"`
	BaseUpper    int    `json:"base_upper"`
	LimitLower   int    `json:"limit_lower"`
	LimitUpper   int    `json:"limit_upper"`
}

// GateReport records one evaluation of the rebalance safety gate
// against a live pool.
type GateReport struct {
	BlockNumber uint64 `json:"block_number"`
	Tick        int32  `json:"tick"`
	TwapTick    int32  `json:"twap_tick"`
	Deviation   int32  `json:"deviation"`
	Ready       bool   `json:"ready"`
	Reason      string `json:"reason,omitempty"`
}

// CollectFeesEvent records fee revenue swept from one position during
// a rebalance.
type CollectFeesEvent struct {
	TickLower       int    `json:"tick_lower"`
	TickUpper       int    `json:"tick_upper"`
	FeesFromPool0   string `json:"fees_from_pool0"`
	FeesFromPool1   string `json:"fees_from_pool1"`
	FeesToProtocol0 string `json:"fees_to_protocol0"`
	FeesToProtocol1 string `json:"fees_to_protocol1"`
}
