package deal_test

import (
	"encoding/json"
	"testing"

	"DealMetrics/internal/deal"
)

func TestActionFromRaw(t *testing.T) {
	if a, ok := deal.ActionFromRaw(0); !ok || a != deal.ActionBuy {
		t.Errorf("raw 0: got (%v, %v), want (buy, true)", a, ok)
	}
	if a, ok := deal.ActionFromRaw(19); !ok || a != deal.ActionSOCompensation {
		t.Errorf("raw 19: got (%v, %v), want (so_compensation, true)", a, ok)
	}
	if _, ok := deal.ActionFromRaw(20); ok {
		t.Error("raw 20: expected rejection")
	}
	if _, ok := deal.ActionFromRaw(-1); ok {
		t.Error("raw -1: expected rejection")
	}
}

func TestEntryFromRaw(t *testing.T) {
	if e, ok := deal.EntryFromRaw(3); !ok || e != deal.EntryOutBy {
		t.Errorf("raw 3: got (%v, %v), want (out_by, true)", e, ok)
	}
	if _, ok := deal.EntryFromRaw(4); ok {
		t.Error("raw 4: expected rejection")
	}
}

func TestEntryIsClose(t *testing.T) {
	cases := []struct {
		entry deal.Entry
		want  bool
	}{
		{deal.EntryIn, false},
		{deal.EntryOut, true},
		{deal.EntryInOut, true},
		{deal.EntryOutBy, true},
	}
	for _, c := range cases {
		if got := c.entry.IsClose(); got != c.want {
			t.Errorf("%v.IsClose(): got %v, want %v", c.entry, got, c.want)
		}
	}
}

func TestActionIsAdjustment(t *testing.T) {
	for _, a := range []deal.Action{deal.ActionBalance, deal.ActionCredit, deal.ActionCorrection, deal.ActionSOCompensation} {
		if !a.IsAdjustment() {
			t.Errorf("%v: expected adjustment", a)
		}
	}
	for _, a := range []deal.Action{deal.ActionBuy, deal.ActionSell, deal.ActionCommission, deal.ActionDividend} {
		if a.IsAdjustment() {
			t.Errorf("%v: expected non-adjustment", a)
		}
	}
}

func TestParseProgramID(t *testing.T) {
	cases := []struct {
		comment string
		want    int64
	}{
		{"initialize acc ABC123", 123},
		{"initialize acc XYZ9", 9},
		{"initialize acc ABC", 0},     // no digits after the prefix
		{"initialize acc AB", 0},      // token too short
		{"initialize acc ABC12x", 0},  // non-digit tail
		{"initialize", 0},             // missing token
		{"Deposit", 0},                // not an initialize comment
		{"", 0},
	}
	for _, c := range cases {
		if got := deal.ParseProgramID(c.comment); got != c.want {
			t.Errorf("ParseProgramID(%q): got %d, want %d", c.comment, got, c.want)
		}
	}
}

func TestIsBootstrap(t *testing.T) {
	d := &deal.Deal{Action: deal.ActionBalance, Comment: "initialize acc ABC123"}
	if !d.IsBootstrap() {
		t.Error("balance deal with initialize marker should be bootstrap")
	}
	d.Action = deal.ActionBuy
	if d.IsBootstrap() {
		t.Error("trade deal is never bootstrap regardless of comment")
	}
	d = &deal.Deal{Action: deal.ActionBalance, Comment: "Deposit"}
	if d.IsBootstrap() {
		t.Error("ordinary deposit is not bootstrap")
	}
}

func TestNetProfit(t *testing.T) {
	d := &deal.Deal{Profit: 10, Commission: -1.5, Storage: -0.25}
	if got := d.NetProfit(); got != 8.25 {
		t.Errorf("net profit: got %f, want 8.25", got)
	}
}

func TestDateOfUnix(t *testing.T) {
	// 2023-11-14 22:13:20 UTC and 2023-11-14 00:00:00 UTC share a date.
	if deal.DateOfUnix(1700000000) != deal.DateOfUnix(1699920000) {
		t.Error("timestamps on the same UTC day must map to one date")
	}
	if deal.DateOfUnix(1700000000) >= deal.DateOfUnix(1700000000+86400) {
		t.Error("next day must compare strictly greater")
	}
	if deal.DateOfUnix(-5) != 0 {
		t.Error("negative timestamps clamp to the zero date")
	}
}

func TestDateBounds(t *testing.T) {
	d := deal.DateOfUnix(1700000000)
	if d.StartUnix() > 1700000000 || d.EndUnix() < 1700000000 {
		t.Errorf("timestamp outside its own date bounds [%d, %d]", d.StartUnix(), d.EndUnix())
	}
	if d.EndUnix()+1 != d.StartUnix()+86400 {
		t.Error("date bounds must cover exactly one day")
	}
	if d.Prev() != d-1 {
		t.Errorf("prev: got %v, want %v", d.Prev(), d-1)
	}
}

func TestDateJSONRoundTrip(t *testing.T) {
	d := deal.DateOfUnix(1700000000)
	data, err := json.Marshal(d)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if string(data) != `"2023-11-14"` {
		t.Errorf("marshal: got %s, want \"2023-11-14\"", data)
	}

	var back deal.Date
	if err := json.Unmarshal(data, &back); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if back != d {
		t.Errorf("round trip: got %v, want %v", back, d)
	}

	if err := json.Unmarshal([]byte(`"14/11/2023"`), &back); err == nil {
		t.Error("expected error for non-ISO date")
	}
}
