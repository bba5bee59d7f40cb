package util

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
)

func TestRetry(t *testing.T) {
	attempts := 0
	targetAttempts := 3

	err := Retry(context.Background(), 5, 0, func() error {
		attempts++
		if attempts < targetAttempts {
			return errors.New("transient error")
		}
		return nil
	})

	if err != nil {
		t.Fatalf("Retry returned unexpected error: %v", err)
	}
	if attempts != targetAttempts {
		t.Errorf("Retry called fn %d times, want %d", attempts, targetAttempts)
	}
}

func TestRetryAllFail(t *testing.T) {
	attempts := 0
	maxAttempts := 3

	err := Retry(context.Background(), maxAttempts, 0, func() error {
		attempts++
		return errors.New("persistent error")
	})

	if err == nil {
		t.Fatal("Retry should return error when all attempts fail")
	}
	if attempts != maxAttempts {
		t.Errorf("Retry called fn %d times, want %d", attempts, maxAttempts)
	}
}

func TestRetryPermanent(t *testing.T) {
	attempts := 0
	sentinel := errors.New("gone")

	err := Retry(context.Background(), 5, 0, func() error {
		attempts++
		return backoff.Permanent(sentinel)
	})

	if !errors.Is(err, sentinel) {
		t.Errorf("Retry error = %v, want %v", err, sentinel)
	}
	if attempts != 1 {
		t.Errorf("Retry called fn %d times, want 1", attempts)
	}
}

func TestRateLimiterSpacing(t *testing.T) {
	rl := NewRateLimiter(6000) // 10ms gap
	if rl.Gap() != 10*time.Millisecond {
		t.Fatalf("Gap() = %v, want 10ms", rl.Gap())
	}

	start := time.Now()
	for i := 0; i < 4; i++ {
		if err := rl.Wait(context.Background()); err != nil {
			t.Fatalf("Wait returned error: %v", err)
		}
	}
	if elapsed := time.Since(start); elapsed < 25*time.Millisecond {
		t.Errorf("4 waits took %v, want at least 30ms of spacing", elapsed)
	}
}

func TestRateLimiterUnlimited(t *testing.T) {
	var nilRL *RateLimiter
	if err := nilRL.Wait(context.Background()); err != nil {
		t.Errorf("nil limiter Wait returned %v", err)
	}
	if err := NewRateLimiter(0).Wait(context.Background()); err != nil {
		t.Errorf("zero limiter Wait returned %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	rl := NewRateLimiter(1)
	_ = rl.Wait(context.Background()) // consume the immediate slot
	if err := rl.Wait(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("Wait on cancelled ctx = %v, want context.Canceled", err)
	}
}

func TestNewLoggerFormat(t *testing.T) {
	var buf bytes.Buffer
	newLogger(&buf, "warn", "text").Info("hidden")
	newLogger(&buf, "warn", "text").Warn("shown", "market", "cn")
	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Errorf("info record written at warn level: %q", out)
	}
	if !strings.Contains(out, "market=cn") {
		t.Errorf("text output = %q, want market=cn", out)
	}

	buf.Reset()
	newLogger(&buf, "info", "json").Info("hello")
	if !strings.HasPrefix(buf.String(), "{") {
		t.Errorf("json output = %q, want a JSON object", buf.String())
	}
}

func TestMarketClock(t *testing.T) {
	loc, err := time.LoadLocation("Asia/Shanghai")
	if err != nil {
		t.Skipf("tzdata unavailable: %v", err)
	}
	c, err := NewMarketClock("Asia/Shanghai", loc, "09:30", "15:00")
	if err != nil {
		t.Fatalf("NewMarketClock returned error: %v", err)
	}

	// 2024-03-05 02:00 UTC is 10:00 in Shanghai.
	now := time.Date(2024, 3, 5, 2, 0, 0, 0, time.UTC)
	if !c.InSession(now) {
		t.Error("InSession(10:00 local) = false, want true")
	}
	if c.InSession(now.Add(5 * time.Hour)) {
		t.Error("InSession(15:00 local) = true, want false")
	}
	if got := c.LocalDate(now, 1); got != "2024-03-04" {
		t.Errorf("LocalDate(lag 1) = %q, want %q", got, "2024-03-04")
	}

	m := c.TimeMeta(now)
	if m.MarketTZOffset != "+08:00" || m.MarketUTCOffset != m.MarketTZOffset {
		t.Errorf("offsets = %q / %q, want +08:00", m.MarketTZOffset, m.MarketUTCOffset)
	}
	if m.MarketFinishedAt != "2024-03-05 10:00" {
		t.Errorf("MarketFinishedAt = %q, want %q", m.MarketFinishedAt, "2024-03-05 10:00")
	}
	if m.MarketFinishedAtISO != "2024-03-05T10:00:00+08:00" {
		t.Errorf("MarketFinishedAtISO = %q", m.MarketFinishedAtISO)
	}
	if m.MarketFinishedAtUTC != "2024-03-05T02:00:00Z" {
		t.Errorf("MarketFinishedAtUTC = %q", m.MarketFinishedAtUTC)
	}

	// Both stamps keep seconds and name the same instant.
	m = c.TimeMeta(now.Add(15 * time.Second))
	iso, err := time.Parse(time.RFC3339, m.MarketFinishedAtISO)
	if err != nil || m.MarketFinishedAtISO != "2024-03-05T10:00:15+08:00" {
		t.Errorf("MarketFinishedAtISO = %q, %v", m.MarketFinishedAtISO, err)
	}
	utc, err := time.Parse(time.RFC3339, m.MarketFinishedAtUTC)
	if err != nil || !iso.Equal(utc) {
		t.Errorf("ISO %q and UTC %q differ", m.MarketFinishedAtISO, m.MarketFinishedAtUTC)
	}

	if _, err := NewMarketClock("x", loc, "9am", "15:00"); err == nil {
		t.Error("NewMarketClock(9am) returned nil error")
	}
}

func TestFormatOffset(t *testing.T) {
	tests := map[int]string{0: "+00:00", 19800: "+05:30", -18000: "-05:00"}
	for in, want := range tests {
		if got := FormatOffset(in); got != want {
			t.Errorf("FormatOffset(%d) = %q, want %q", in, got, want)
		}
	}
}
