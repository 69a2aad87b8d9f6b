package timeutil

import (
	"testing"
	"time"
)

func TestMockClockAdvance(t *testing.T) {
	start := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	c := NewMockClock(start)

	c.Advance(90 * time.Second)
	if got := c.Since(start); got != 90*time.Second {
		t.Fatalf("Since = %v, want 90s", got)
	}

	c.Set(start)
	if !c.Now().Equal(start) {
		t.Fatalf("Now after Set = %v, want %v", c.Now(), start)
	}
}

func TestMockTickerFiresOnAdvance(t *testing.T) {
	c := NewMockClock(time.Unix(0, 0))
	tk := c.NewTicker(time.Second)
	defer tk.Stop()

	c.Advance(500 * time.Millisecond)
	select {
	case <-tk.C():
		t.Fatal("ticker fired before its period elapsed")
	default:
	}

	c.Advance(500 * time.Millisecond)
	select {
	case got := <-tk.C():
		if got.Unix() != 1 {
			t.Fatalf("tick time = %v, want 1s", got)
		}
	default:
		t.Fatal("ticker did not fire after one period")
	}

	tk.Stop()
	c.Advance(5 * time.Second)
	select {
	case <-tk.C():
		t.Fatal("stopped ticker fired")
	default:
	}
}

func TestSecondsRoundTrip(t *testing.T) {
	in := time.Unix(1700000000, 250_000_000)
	s := Seconds(in)
	if s != 1700000000.25 {
		t.Fatalf("Seconds = %v", s)
	}
	if out := FromSeconds(s); !out.Equal(in) {
		t.Fatalf("FromSeconds = %v, want %v", out, in)
	}
}
