package scheduler

import (
	"context"
	"errors"
	"testing"

	"limitboard/internal/util"
)

func TestAddAndRunNow(t *testing.T) {
	var calls []string
	job := func(_ context.Context, market, slot string) error {
		calls = append(calls, market+"/"+slot)
		if market == "us" {
			return errors.New("boom")
		}
		return nil
	}
	s := New(context.Background(), job, util.Discard())

	if err := s.Add(Entry{Market: "cn", Slot: "close", Spec: "30 15 * * 1-5", Timezone: "Asia/Shanghai"}); err != nil {
		t.Fatalf("Add(cn) returned error: %v", err)
	}
	if err := s.Add(Entry{Market: "us", Slot: "close", Spec: "15 16 * * 1-5"}); err != nil {
		t.Fatalf("Add(us) returned error: %v", err)
	}
	if s.Len() != 2 {
		t.Errorf("Len() = %d, want 2", s.Len())
	}
	if err := s.Add(Entry{Market: "jp", Spec: "not a cron"}); err == nil {
		t.Error("Add(bad spec) returned nil error")
	}
	if err := s.Add(Entry{Market: "jp", Spec: "0 15 * * *", Timezone: "Nowhere/Atlantis"}); err == nil {
		t.Error("Add(bad timezone) returned nil error")
	}

	s.RunNow(Entry{Market: "cn", Slot: "close"})
	s.RunNow(Entry{Market: "us", Slot: "midday"})
	if len(calls) != 2 || calls[0] != "cn/close" || calls[1] != "us/midday" {
		t.Errorf("calls = %v, want [cn/close us/midday]", calls)
	}
}
