package backoff_test

import (
	"testing"
	"time"

	"github.com/xraph/jobcontrol/backoff"
)

func TestNextDelay_Exponential(t *testing.T) {
	cfg := backoff.Config{MaxRetries: 10, InitialDelay: time.Second, Kind: backoff.KindExponential}

	want := []time.Duration{1 * time.Second, 2 * time.Second, 4 * time.Second, 8 * time.Second}
	for n, w := range want {
		if got := backoff.NextDelay(n, cfg); got != w {
			t.Errorf("NextDelay(%d) = %v, want %v", n, got, w)
		}
	}
}

func TestNextDelay_Linear(t *testing.T) {
	cfg := backoff.Config{MaxRetries: 10, InitialDelay: time.Second, Kind: backoff.KindLinear}

	want := []time.Duration{1 * time.Second, 2 * time.Second, 3 * time.Second, 4 * time.Second}
	for n, w := range want {
		if got := backoff.NextDelay(n, cfg); got != w {
			t.Errorf("NextDelay(%d) = %v, want %v", n, got, w)
		}
	}
}

func TestNextDelay_None(t *testing.T) {
	cfg := backoff.Config{MaxRetries: 10, InitialDelay: 30 * time.Second, Kind: backoff.KindNone}
	for n := range 5 {
		if got := backoff.NextDelay(n, cfg); got != 30*time.Second {
			t.Errorf("NextDelay(%d) = %v, want 30s", n, got)
		}
	}
}

func TestNextDelay_CapsAtMaxDelay(t *testing.T) {
	cfg := backoff.Config{
		MaxRetries:   10,
		InitialDelay: time.Second,
		Kind:         backoff.KindExponential,
		MaxDelay:     5 * time.Second,
	}
	if got := backoff.NextDelay(6, cfg); got != 5*time.Second {
		t.Errorf("NextDelay(6) = %v, want 5s (capped)", got)
	}
}

func TestNextDelay_EmptyKindIsConstant(t *testing.T) {
	cfg := backoff.Config{InitialDelay: 2 * time.Second}
	if got := backoff.NextDelay(3, cfg); got != 2*time.Second {
		t.Errorf("NextDelay(3) = %v, want 2s", got)
	}
}

func TestExhausted(t *testing.T) {
	cfg := backoff.Config{MaxRetries: 5}

	tests := []struct {
		retryCount int
		want       bool
	}{
		{0, false},
		{4, false},
		{5, true},
		{6, true},
	}
	for _, tt := range tests {
		if got := backoff.Exhausted(tt.retryCount, cfg); got != tt.want {
			t.Errorf("Exhausted(%d) = %v, want %v", tt.retryCount, got, tt.want)
		}
	}

	if !backoff.Exhausted(0, backoff.Config{}) {
		t.Error("a policy with zero retries should be exhausted after the first failure")
	}
}

func TestParseKind(t *testing.T) {
	tests := []struct {
		in      string
		want    backoff.Kind
		wantErr bool
	}{
		{"", backoff.KindNone, false},
		{"none", backoff.KindNone, false},
		{"linear", backoff.KindLinear, false},
		{"exponential", backoff.KindExponential, false},
		{"fibonacci", "", true},
	}
	for _, tt := range tests {
		got, err := backoff.ParseKind(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseKind(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseKind(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestConfigValidate(t *testing.T) {
	if err := backoff.DefaultConfig().Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	if err := (backoff.Config{MaxRetries: -1}).Validate(); err == nil {
		t.Error("expected error for negative max retries")
	}
	if err := (backoff.Config{Kind: "bogus"}).Validate(); err == nil {
		t.Error("expected error for unknown kind")
	}
}

func TestConstant_ReturnsFixedDelay(t *testing.T) {
	c := backoff.NewConstant(5 * time.Second)
	for attempt := 1; attempt <= 10; attempt++ {
		if got := c.Delay(attempt); got != 5*time.Second {
			t.Errorf("Delay(%d) = %v, want %v", attempt, got, 5*time.Second)
		}
	}
}

func TestLinear_CapsAtMax(t *testing.T) {
	l := backoff.NewLinear(time.Second, 5*time.Second)

	if got := l.Delay(10); got != 5*time.Second {
		t.Errorf("Delay(10) = %v, want %v (capped at Max)", got, 5*time.Second)
	}
}

func TestExponential_CapsAtMax(t *testing.T) {
	e := backoff.NewExponential(time.Second, 10*time.Second)

	if got := e.Delay(5); got != 10*time.Second {
		t.Errorf("Delay(5) = %v, want %v (capped at Max)", got, 10*time.Second)
	}
	if got := e.Delay(200); got != 10*time.Second {
		t.Errorf("Delay(200) = %v, want %v (capped at Max)", got, 10*time.Second)
	}
}

func TestExponentialWithJitter_WithinBounds(t *testing.T) {
	e := backoff.NewExponentialWithJitter(time.Second, 10*time.Second)

	for attempt := 1; attempt <= 5; attempt++ {
		for range 100 {
			got := e.Delay(attempt)
			if got < 0 || got > 10*time.Second {
				t.Errorf("Delay(%d) = %v, out of [0, 10s]", attempt, got)
			}
		}
	}
}
