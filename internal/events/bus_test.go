/*
Copyright (C) 2026 Sound Commons

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package events

import (
	"sync"
	"testing"
)

func TestPublishDeliversToSubscriber(t *testing.T) {
	bus := NewBus()
	sub := bus.Subscribe(EventNowPlaying)

	bus.Publish(EventNowPlaying, Payload{"title": "x"})

	select {
	case p := <-sub:
		if p["title"] != "x" {
			t.Errorf("payload = %v", p)
		}
	default:
		t.Fatal("no payload delivered")
	}
}

func TestPublishDoesNotBlockOnFullSubscriber(t *testing.T) {
	bus := NewBus()
	sub := bus.Subscribe(EventNowPlaying)

	for i := 0; i < cap(sub)+5; i++ {
		bus.Publish(EventNowPlaying, Payload{"n": i})
	}
	if len(sub) != cap(sub) {
		t.Errorf("buffered = %d, want %d", len(sub), cap(sub))
	}
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	bus := NewBus()
	sub := bus.Subscribe(EventTrackEnded)

	bus.Unsubscribe(EventTrackEnded, sub)

	if _, ok := <-sub; ok {
		t.Fatal("channel still open after unsubscribe")
	}
	// Publishing after removal must not reach the closed channel.
	bus.Publish(EventTrackEnded, Payload{})
}

func TestConcurrentPublishAndUnsubscribe(t *testing.T) {
	bus := NewBus()

	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-done:
				return
			default:
				bus.Publish(EventNowPlaying, Payload{})
			}
		}
	}()

	// Churning subscribers against a hot publisher panics if a publish can
	// send on a channel Unsubscribe already closed.
	for i := 0; i < 1000; i++ {
		sub := bus.Subscribe(EventNowPlaying)
		bus.Unsubscribe(EventNowPlaying, sub)
	}

	close(done)
	wg.Wait()
}
