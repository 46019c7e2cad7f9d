package fees

import "testing"

func TestComputeNoDiscount(t *testing.T) {
	fee, err := Compute(10, 0, DefaultTable(), 1_000_000)
	if err != nil {
		t.Fatal(err)
	}
	// effective_bps = 10*100/100 = 10; fee = 1_000_000*10/10_000 = 1000
	if fee != 1000 {
		t.Fatalf("fee = %d, want 1000", fee)
	}
}

func TestComputeWithVIPDiscount(t *testing.T) {
	fee, err := Compute(10, 2, DefaultTable(), 1_000_000)
	if err != nil {
		t.Fatal(err)
	}
	// discount level 2 = 75%; effective_bps = 10*75/100 = 7 (truncated);
	// fee = 1_000_000 * 7 / 10_000 = 700
	if fee != 700 {
		t.Fatalf("fee = %d, want 700", fee)
	}
}

func TestComputeTruncatesToZeroOnSmallNotional(t *testing.T) {
	fee, err := Compute(10, 0, DefaultTable(), 5)
	if err != nil {
		t.Fatal(err)
	}
	if fee != 0 {
		t.Fatalf("fee = %d, want 0 (no minimum fee, §4.4.1)", fee)
	}
}

func TestUnknownVIPLevelDefaultsToNoDiscount(t *testing.T) {
	fee, err := Compute(10, 99, DefaultTable(), 1_000_000)
	if err != nil {
		t.Fatal(err)
	}
	if fee != 1000 {
		t.Fatalf("fee = %d, want 1000 (unknown level -> 100%% of base)", fee)
	}
}

func TestComputeRejectsOutOfRangeDiscount(t *testing.T) {
	bad := Table{0: 150}
	if _, err := Compute(10, 0, bad, 1_000_000); err == nil {
		t.Fatal("expected error for discount_percent > 100")
	}
}
