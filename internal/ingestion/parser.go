// Package ingestion decodes inbound deal and snapshot batches, subscribes
// to the message bus, and publishes computed rollup rows.
package ingestion

import (
	"encoding/json"
	"fmt"
	"strings"

	"DealMetrics/internal/deal"
	"DealMetrics/internal/metric"
)

// dealWire is the upstream JSON shape of one deal. Field names follow the
// producer's trade-server export; enum fields arrive as raw integers and are
// decoded here, exactly once. The engine never sees wire representations.
type dealWire struct {
	DealID          int64   `json:"Deal"`
	ExternalID      string  `json:"ExternalID"`
	Login           int64   `json:"Login"`
	Dealer          int64   `json:"Dealer"`
	OrderID         int64   `json:"Order"`
	Action          int32   `json:"Action"`
	Entry           int32   `json:"Entry"`
	Digits          int32   `json:"Digits"`
	DigitsCurrency  int32   `json:"DigitsCurrency"`
	Time            int64   `json:"Time"`
	TimeUTC         int64   `json:"TimeUTC"`
	Symbol          string  `json:"Symbol"`
	Price           float64 `json:"Price"`
	PricePosition   float64 `json:"PricePosition"`
	PriceSL         float64 `json:"PriceSL"`
	PriceTP         float64 `json:"PriceTP"`
	Volume          int64   `json:"Volume"`
	VolumeClosed    int64   `json:"VolumeClosed"`
	VolumeExt       int64   `json:"VolumeExt"`
	VolumeClosedExt int64   `json:"VolumeClosedExt"`
	Profit          float64 `json:"Profit"`
	ProfitRaw       float64 `json:"ProfitRaw"`
	Storage         float64 `json:"Storage"`
	Commission      float64 `json:"Commission"`
	Fee             float64 `json:"Fee"`
	RateMargin      float64 `json:"RateMargin"`
	ExpertID        int64   `json:"ExpertID"`
	PositionID      int64   `json:"PositionID"`
	Comment         string  `json:"Comment"`
	Reason          string  `json:"Reason"`
	Gateway         string  `json:"Gateway"`
	Server          string  `json:"server"`
}

// snapshotWire is the upstream JSON shape of one end-of-day balance/equity
// snapshot from the history feed.
type snapshotWire struct {
	Login           int64   `json:"Login"`
	Group           string  `json:"Group"`
	Datetime        int64   `json:"Datetime"`
	Balance         float64 `json:"Balance"`
	ProfitEquity    float64 `json:"ProfitEquity"`
	Date            string  `json:"Date"`
	Server          string  `json:"server"`
	TimestampUTC    int64   `json:"timestamp_utc"`
	TimestampServer int64   `json:"timestamp_server"`
}

// ParseDealBatch decodes a JSON array of deals into domain deals. Any
// undecodable element fails the whole batch: a partially decoded batch
// cannot be folded safely.
func ParseDealBatch(data []byte) ([]*deal.Deal, error) {
	var wires []dealWire
	if err := json.Unmarshal(data, &wires); err != nil {
		return nil, fmt.Errorf("decode deal batch: %w", err)
	}

	deals := make([]*deal.Deal, 0, len(wires))
	for i, w := range wires {
		d, err := w.toDeal()
		if err != nil {
			return nil, fmt.Errorf("deal batch element %d (deal %d): %w", i, w.DealID, err)
		}
		deals = append(deals, d)
	}
	return deals, nil
}

// ParseSnapshotBatch decodes a JSON array of daily balance/equity snapshots.
func ParseSnapshotBatch(data []byte) ([]*metric.DailySnapshot, error) {
	var wires []snapshotWire
	if err := json.Unmarshal(data, &wires); err != nil {
		return nil, fmt.Errorf("decode snapshot batch: %w", err)
	}

	snaps := make([]*metric.DailySnapshot, 0, len(wires))
	for i, w := range wires {
		s, err := w.toSnapshot()
		if err != nil {
			return nil, fmt.Errorf("snapshot batch element %d (login %d): %w", i, w.Login, err)
		}
		snaps = append(snaps, s)
	}
	return snaps, nil
}

func (w dealWire) toDeal() (*deal.Deal, error) {
	action, ok := deal.ActionFromRaw(w.Action)
	if !ok {
		return nil, fmt.Errorf("unknown action %d", w.Action)
	}
	entry, ok := deal.EntryFromRaw(w.Entry)
	if !ok {
		return nil, fmt.Errorf("unknown entry %d", w.Entry)
	}
	if w.DealID <= 0 {
		return nil, fmt.Errorf("non-positive deal id")
	}

	return &deal.Deal{
		DealID:          w.DealID,
		Server:          w.Server,
		Login:           w.Login,
		Timestamp:       w.Time,
		TimestampUTC:    w.TimeUTC,
		Action:          action,
		Entry:           entry,
		Symbol:          w.Symbol,
		Volume:          w.Volume,
		VolumeClosed:    w.VolumeClosed,
		VolumeExt:       w.VolumeExt,
		VolumeClosedExt: w.VolumeClosedExt,
		Profit:          w.Profit,
		ProfitRaw:       w.ProfitRaw,
		Commission:      w.Commission,
		Storage:         w.Storage,
		Fee:             w.Fee,
		Price:           w.Price,
		PricePosition:   w.PricePosition,
		PriceSL:         w.PriceSL,
		PriceTP:         w.PriceTP,
		RateMargin:      w.RateMargin,
		Digits:          w.Digits,
		DigitsCurrency:  w.DigitsCurrency,
		PositionID:      w.PositionID,
		OrderID:         w.OrderID,
		ExpertID:        w.ExpertID,
		Dealer:          w.Dealer,
		ExternalID:      w.ExternalID,
		Gateway:         w.Gateway,
		Reason:          w.Reason,
		Comment:         DecodeComment(w.Comment),
	}, nil
}

func (w snapshotWire) toSnapshot() (*metric.DailySnapshot, error) {
	if w.Login == 0 {
		return nil, fmt.Errorf("zero login")
	}

	var date deal.Date
	switch {
	case w.Date != "":
		if err := date.UnmarshalJSON([]byte(`"` + w.Date + `"`)); err != nil {
			return nil, fmt.Errorf("bad date %q: %w", w.Date, err)
		}
	case w.Datetime != 0:
		date = deal.DateOfUnix(w.Datetime)
	default:
		return nil, fmt.Errorf("snapshot carries neither date nor datetime")
	}

	return &metric.DailySnapshot{
		Server:          w.Server,
		Login:           w.Login,
		Date:            date,
		Group:           w.Group,
		Datetime:        w.Datetime,
		Balance:         w.Balance,
		ProfitEquity:    w.ProfitEquity,
		TimestampUTC:    w.TimestampUTC,
		TimestampServer: w.TimestampServer,
	}, nil
}

// DecodeComment normalizes a wire comment. Some producers serialize the
// comment column as a byte-literal string of the form b'...'; the wrapper is
// stripped so the engine only ever sees the plain text.
func DecodeComment(raw string) string {
	if len(raw) >= 3 && strings.HasPrefix(raw, "b'") && strings.HasSuffix(raw, "'") {
		return raw[2 : len(raw)-1]
	}
	if len(raw) >= 3 && strings.HasPrefix(raw, `b"`) && strings.HasSuffix(raw, `"`) {
		return raw[2 : len(raw)-1]
	}
	return raw
}
