package types

import "testing"

func TestComputeAmounts(t *testing.T) {
	tests := []struct {
		name     string
		side     string
		quantity int64
		price    float64
		gross    float64
		fees     float64
		net      float64
	}{
		{"buy adds fees", SideBuy, 10, 50, 500, 5, 505},
		{"sell deducts fees", SideSell, 10, 60, 600, 6, 594},
		{"single share buy", SideBuy, 1, 100, 100, 1, 101},
		{"fractional price rounds to cents", SideBuy, 3, 33.33, 99.99, 1, 100.99},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gross, commission, tax, net := ComputeAmounts(tt.side, tt.quantity, tt.price)
			if gross != tt.gross {
				t.Errorf("gross = %v, want %v", gross, tt.gross)
			}
			if fees := commission + tax; fees != tt.fees {
				t.Errorf("fees = %v, want %v", fees, tt.fees)
			}
			if net != tt.net {
				t.Errorf("net = %v, want %v", net, tt.net)
			}
		})
	}
}
