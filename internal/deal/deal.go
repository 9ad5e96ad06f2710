package deal

import (
	"strings"
)

// Action classifies the economic nature of a deal.
type Action int32

const (
	ActionBuy Action = iota
	ActionSell
	ActionBalance
	ActionCredit
	ActionCharge
	ActionCorrection
	ActionBonus
	ActionCommission
	ActionCommissionDaily
	ActionCommissionMonthly
	ActionAgentDaily
	ActionAgentMonthly
	ActionInterest
	ActionBuyCanceled
	ActionSellCanceled
	ActionDividend
	ActionDividendFranked
	ActionTax
	ActionAgent
	ActionSOCompensation
)

// ActionFromRaw decodes the wire integer into an Action.
// Decoding happens exactly once at the ingestion boundary; the engine
// only ever sees the enumerated type.
func ActionFromRaw(v int32) (Action, bool) {
	if v < int32(ActionBuy) || v > int32(ActionSOCompensation) {
		return 0, false
	}
	return Action(v), true
}

// IsTrade reports whether the action is a market trade leg.
func (a Action) IsTrade() bool {
	return a == ActionBuy || a == ActionSell
}

// IsAdjustment reports whether the action is a cash/adjustment event that is
// excluded from trading P&L (balance, credit, correction, SO compensation).
func (a Action) IsAdjustment() bool {
	switch a {
	case ActionBalance, ActionCredit, ActionCorrection, ActionSOCompensation:
		return true
	}
	return false
}

func (a Action) String() string {
	switch a {
	case ActionBuy:
		return "buy"
	case ActionSell:
		return "sell"
	case ActionBalance:
		return "balance"
	case ActionCredit:
		return "credit"
	case ActionCharge:
		return "charge"
	case ActionCorrection:
		return "correction"
	case ActionBonus:
		return "bonus"
	case ActionSOCompensation:
		return "so_compensation"
	default:
		return "other"
	}
}

// Entry is the lifecycle phase of a deal relative to a position.
type Entry int32

const (
	EntryIn Entry = iota
	EntryOut
	EntryInOut
	EntryOutBy
)

// EntryFromRaw decodes the wire integer into an Entry.
func EntryFromRaw(v int32) (Entry, bool) {
	if v < int32(EntryIn) || v > int32(EntryOutBy) {
		return 0, false
	}
	return Entry(v), true
}

// IsClose reports whether the deal leg realizes a position (fully or
// partially). Only closing legs count toward trade statistics.
func (e Entry) IsClose() bool {
	return e == EntryOut || e == EntryInOut || e == EntryOutBy
}

func (e Entry) String() string {
	switch e {
	case EntryIn:
		return "in"
	case EntryOut:
		return "out"
	case EntryInOut:
		return "in_out"
	case EntryOutBy:
		return "out_by"
	default:
		return "unknown"
	}
}

// Deal is one immutable trade/cash event on an account. Deals are created
// upstream and read-only to this engine; there is no update or delete.
type Deal struct {
	DealID          int64  `json:"deal_id"`
	Server          string `json:"server"`
	Login           int64  `json:"login"`
	Timestamp       int64  `json:"timestamp"` // server clock, seconds
	TimestampUTC    int64  `json:"timestamp_utc"`
	Action          Action `json:"action"`
	Entry           Entry  `json:"entry"`
	Symbol          string `json:"symbol"`
	Volume          int64  `json:"volume"`
	VolumeClosed    int64  `json:"volume_closed"`
	VolumeExt       int64  `json:"volume_ext"`
	VolumeClosedExt int64  `json:"volume_closed_ext"`

	Profit     float64 `json:"profit"`
	ProfitRaw  float64 `json:"profit_raw"`
	Commission float64 `json:"commission"`
	Storage    float64 `json:"storage"`
	Fee        float64 `json:"fee"`

	Price         float64 `json:"price"`
	PricePosition float64 `json:"price_position"`
	PriceSL       float64 `json:"price_sl"`
	PriceTP       float64 `json:"price_tp"`
	RateMargin    float64 `json:"rate_margin"`

	Digits         int32 `json:"digits"`
	DigitsCurrency int32 `json:"digits_currency"`

	PositionID int64  `json:"position_id"`
	OrderID    int64  `json:"order_id"`
	ExpertID   int64  `json:"expert_id"`
	Dealer     int64  `json:"dealer"`
	ExternalID string `json:"external_id"`
	Gateway    string `json:"gateway"`
	Reason     string `json:"reason"`

	// Comment carries semantic markers ("initialize", "Deposit") that change
	// accounting treatment. Always plain UTF-8 here; binary-encoded wire
	// text is decoded at the ingestion boundary.
	Comment string `json:"comment"`
}

// Date returns the UTC calendar date of the deal's server timestamp.
func (d *Deal) Date() Date {
	return DateOfUnix(d.Timestamp)
}

// NetProfit is profit plus commission plus storage for this single deal.
func (d *Deal) NetProfit() float64 {
	return d.Profit + d.Commission + d.Storage
}

// IsBootstrap reports whether the deal is a bootstrap/"initialize" event:
// a BALANCE deal whose comment marks an account initialization. Bootstrap
// deals establish initial deposit and program identifiers instead of
// accumulating as ordinary cash flow.
func (d *Deal) IsBootstrap() bool {
	return d.Action == ActionBalance && HasInitializeMarker(d.Comment)
}

// HasInitializeMarker reports whether a comment marks account initialization.
func HasInitializeMarker(comment string) bool {
	return strings.Contains(comment, "initialize")
}

// HasDepositMarker reports whether a comment marks an ordinary deposit.
func HasDepositMarker(comment string) bool {
	return strings.Contains(comment, "Deposit")
}

// ParseProgramID extracts the numeric program identifier from an initialize
// comment of the form "initialize acc ABC123". The third token carries a
// three-character prefix followed by the id; returns 0 when absent.
func ParseProgramID(comment string) int64 {
	if !strings.Contains(comment, "initialize") {
		return 0
	}
	parts := strings.Fields(comment)
	if len(parts) < 3 || len(parts[2]) < 3 {
		return 0
	}
	var id int64
	for _, r := range parts[2][3:] {
		if r < '0' || r > '9' {
			return 0
		}
		id = id*10 + int64(r-'0')
	}
	return id
}
