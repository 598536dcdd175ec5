package scheduler

import "testing"

func TestCapacityAdjustAndAvailable(t *testing.T) {
	c := NewCapacity("gpu", 2, 200)
	if got, want := c.AvailableItems(), int64(2); got != want {
		t.Fatalf("AvailableItems() = %d, want %d", got, want)
	}
	c.Adjust(1, 80)
	if got, want := c.CurrentItems(), int64(1); got != want {
		t.Fatalf("CurrentItems() = %d, want %d", got, want)
	}
	if got, want := c.AvailableSize(), int64(120); got != want {
		t.Fatalf("AvailableSize() = %d, want %d", got, want)
	}
	c.Adjust(-1, -80)
	if got, want := c.CurrentItems(), int64(0); got != want {
		t.Fatalf("CurrentItems() after release = %d, want %d", got, want)
	}
	if got, want := c.CurrentSize(), int64(0); got != want {
		t.Fatalf("CurrentSize() after release = %d, want %d", got, want)
	}
}

func TestCapacitySetLimitsReportsTightening(t *testing.T) {
	c := NewCapacity("system", 4, 400)
	if tightened := c.SetLimits(8, 800); tightened {
		t.Fatalf("loosening both limits must not report tightened")
	}
	if tightened := c.SetLimits(2, 800); !tightened {
		t.Fatalf("shrinking the item limit must report tightened")
	}
	if tightened := c.SetLimits(2, 100); !tightened {
		t.Fatalf("shrinking the size limit must report tightened")
	}
	if got, want := c.AvailableItems(), int64(2); got != want {
		t.Fatalf("AvailableItems() after resize = %d, want %d", got, want)
	}
}
