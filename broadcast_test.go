package main

import (
	"fmt"
	"testing"
)

func frameForTest(i int) Frame {
	return Frame{JSON: []byte(fmt.Sprintf("frame-%d", i))}
}

func TestBroadcastDeliversToAllSubscribers(t *testing.T) {
	b := NewBroadcaster(8)
	s1 := b.Subscribe()
	s2 := b.Subscribe()

	for i := 0; i < 3; i++ {
		b.Publish(frameForTest(i))
	}

	for _, s := range []*Subscriber{s1, s2} {
		for i := 0; i < 3; i++ {
			f := <-s.C
			if string(f.JSON) != fmt.Sprintf("frame-%d", i) {
				t.Errorf("expected frame-%d, got %s", i, f.JSON)
			}
		}
	}
	if s1.TakeLagged() != 0 || s2.TakeLagged() != 0 {
		t.Error("keeping-up subscribers should not report lag")
	}
}

func TestSlowSubscriberDropsOldest(t *testing.T) {
	b := NewBroadcaster(2)
	s := b.Subscribe()

	for i := 0; i < 5; i++ {
		b.Publish(frameForTest(i))
	}

	// Backlog holds the newest two frames; the three older ones were evicted.
	if f := <-s.C; string(f.JSON) != "frame-3" {
		t.Errorf("expected frame-3 first, got %s", f.JSON)
	}
	if f := <-s.C; string(f.JSON) != "frame-4" {
		t.Errorf("expected frame-4 second, got %s", f.JSON)
	}
	if n := s.TakeLagged(); n != 3 {
		t.Errorf("expected 3 lagged frames, got %d", n)
	}
	if n := s.TakeLagged(); n != 0 {
		t.Errorf("lag counter should reset after read, got %d", n)
	}
}

func TestSlowSubscriberDoesNotAffectOthers(t *testing.T) {
	b := NewBroadcaster(2)
	slow := b.Subscribe()
	fast := b.Subscribe()

	for i := 0; i < 5; i++ {
		b.Publish(frameForTest(i))
		f := <-fast.C
		if string(f.JSON) != fmt.Sprintf("frame-%d", i) {
			t.Errorf("fast subscriber missed frame-%d, got %s", i, f.JSON)
		}
	}
	if fast.TakeLagged() != 0 {
		t.Error("fast subscriber reported lag")
	}
	if slow.TakeLagged() != 3 {
		t.Error("slow subscriber should have lagged by 3")
	}
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	b := NewBroadcaster(2)
	s := b.Subscribe()
	b.Unsubscribe(s)

	if _, ok := <-s.C; ok {
		t.Error("unsubscribed channel should be closed")
	}
	// Double unsubscribe must not panic.
	b.Unsubscribe(s)
}

func TestCloseWakesSubscribers(t *testing.T) {
	b := NewBroadcaster(2)
	s := b.Subscribe()
	b.Close()

	if _, ok := <-s.C; ok {
		t.Error("closed broadcaster should close subscriber channels")
	}
	// Publishing after close is a no-op, not a panic.
	b.Publish(frameForTest(0))

	late := b.Subscribe()
	if _, ok := <-late.C; ok {
		t.Error("subscribing after close should yield a closed channel")
	}
}
