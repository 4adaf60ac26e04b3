package models

import "testing"

func TestOrderStatusTransitions(t *testing.T) {
	cases := []struct {
		from, to OrderStatus
		want     bool
	}{
		{OrderStatusReserved, OrderStatusPrepared, true},
		{OrderStatusReserved, OrderStatusCancelled, true},
		{OrderStatusReserved, OrderStatusPaid, false},
		{OrderStatusPrepared, OrderStatusPaid, true},
		{OrderStatusPrepared, OrderStatusCancelled, true},
		{OrderStatusPrepared, OrderStatusReserved, false},
		{OrderStatusPaid, OrderStatusCancelled, false},
		{OrderStatusPaid, OrderStatusPrepared, false},
		{OrderStatusCancelled, OrderStatusReserved, false},
		{OrderStatusCancelled, OrderStatusCancelled, false},
	}
	for _, c := range cases {
		if got := c.from.CanTransitionTo(c.to); got != c.want {
			t.Errorf("%s -> %s = %v, want %v", c.from, c.to, got, c.want)
		}
	}
}

func TestOrderStatusTerminal(t *testing.T) {
	if !OrderStatusPaid.IsTerminal() || !OrderStatusCancelled.IsTerminal() {
		t.Fatal("Paid and Cancelled must be terminal")
	}
	if OrderStatusReserved.IsTerminal() || OrderStatusPrepared.IsTerminal() {
		t.Fatal("Reserved and Prepared must not be terminal")
	}
}

func TestParseOrderStatus(t *testing.T) {
	if _, err := ParseOrderStatus("Prepared"); err != nil {
		t.Fatalf("ParseOrderStatus(Prepared): %v", err)
	}
	if _, err := ParseOrderStatus("Shipped"); err == nil {
		t.Fatal("ParseOrderStatus(Shipped) should fail")
	}
}
