package indicators

import "testing"

func TestSMAInvalidArgument(t *testing.T) {
	if _, err := SMA([]float64{1, 2, 3}, 0); err != ErrInvalidArgument {
		t.Errorf("expected ErrInvalidArgument for period 0, got %v", err)
	}
	if _, err := SMA([]float64{1, 2, 3}, 5); err != ErrInvalidArgument {
		t.Errorf("expected ErrInvalidArgument for period > length, got %v", err)
	}
}

func TestSMAOutputLength(t *testing.T) {
	closes := []float64{1, 2, 3, 4, 5}
	out, err := SMA(closes, 3)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(out) != 3 {
		t.Fatalf("expected length 3, got %d", len(out))
	}
	if out[0] != 2 || out[2] != 4 {
		t.Errorf("unexpected SMA values: %v", out)
	}
}

func TestEMAWarmup(t *testing.T) {
	closes := []float64{100, 101, 102, 103, 104, 105}
	out, err := EMA(closes, 3)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	seed := out[1]
	if out[0] != seed {
		t.Errorf("expected warm-up index 0 to equal seed %v, got %v", seed, out[0])
	}
}

func TestRSIWarmupIsNeutral(t *testing.T) {
	closes := []float64{100, 101, 102, 103, 104, 105, 106, 107}
	out, err := RSI(closes, 5)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for i := 0; i < 5; i++ {
		if out[i] != 50.0 {
			t.Errorf("expected warm-up RSI[%d] = 50.0, got %v", i, out[i])
		}
	}
}

func TestMACDRequiresFastLessThanSlow(t *testing.T) {
	closes := risingCloses(50, 100)
	if _, err := MACD(closes, 26, 12, 9); err != ErrInvalidArgument {
		t.Errorf("expected ErrInvalidArgument when fast >= slow, got %v", err)
	}
}

func TestBollingerWarmupEqualsClose(t *testing.T) {
	closes := []float64{10, 11, 12, 13}
	res, err := Bollinger(closes, 3, 2.0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Middle[0] != closes[0] || res.Upper[0] != closes[0] || res.Lower[0] != closes[0] {
		t.Errorf("expected warm-up bands to equal raw close, got middle=%v upper=%v lower=%v", res.Middle[0], res.Upper[0], res.Lower[0])
	}
}

func TestBollingerInvalidArgument(t *testing.T) {
	if _, err := Bollinger([]float64{1, 2, 3}, 2, 0); err != ErrInvalidArgument {
		t.Errorf("expected ErrInvalidArgument for non-positive std dev, got %v", err)
	}
}
