package domain

import "testing"

func TestPositionKey(t *testing.T) {
	a := Position{Account: "DU1", Contract: Contract{Symbol: "AAPL", SecType: "STK", ConID: 265598}}
	b := Position{Account: "DU1", Contract: Contract{Symbol: "AAPL", SecType: "STK", ConID: 265598}, Quantity: 500}
	if a.Key() != b.Key() {
		t.Errorf("same instrument produced different keys: %q vs %q", a.Key(), b.Key())
	}

	cases := []Position{
		{Account: "DU2", Contract: Contract{Symbol: "AAPL", SecType: "STK", ConID: 265598}},
		{Account: "DU1", Contract: Contract{Symbol: "MSFT", SecType: "STK", ConID: 265598}},
		{Account: "DU1", Contract: Contract{Symbol: "AAPL", SecType: "OPT", ConID: 265598}},
		{Account: "DU1", Contract: Contract{Symbol: "AAPL", SecType: "STK", ConID: 1}},
	}
	for _, c := range cases {
		if c.Key() == a.Key() {
			t.Errorf("distinct instrument collides with base key: %+v", c)
		}
	}
}

func TestAccountValueKey(t *testing.T) {
	usd := AccountValue{Account: "DU1", Tag: "NetLiquidation", Currency: "USD", Value: "100000"}
	usdLater := AccountValue{Account: "DU1", Tag: "NetLiquidation", Currency: "USD", Value: "100500"}
	eur := AccountValue{Account: "DU1", Tag: "NetLiquidation", Currency: "EUR", Value: "90000"}

	if usd.Key() != usdLater.Key() {
		t.Error("same tag+currency produced different keys")
	}
	if usd.Key() == eur.Key() {
		t.Error("different currencies collide on the same key")
	}
}
