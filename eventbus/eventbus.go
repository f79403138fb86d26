// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package eventbus is the in-process publish/subscribe fan-out: the
// safety gate, the committer, and the retention sweeper all publish
// through it, and each subscriber gets its own bounded, lossy channel
// rather than blocking a publisher on a slow reader.
package eventbus

import (
	"sync"

	"github.com/poiesic/memorit/core"
)

// Kind discriminates the events publishers emit.
type Kind string

const (
	// KindDropped fires whenever the pipeline rejects a draft before it
	// reaches the record store. Payload is Dropped.
	KindDropped Kind = "dropped"

	// KindCapturePersisted fires once the dual-write committer has
	// confirmed a capture across both stores. Payload is core.ID.
	KindCapturePersisted Kind = "capture_persisted"

	// KindTierChanged fires when the retention sweeper moves a capture
	// between tiers. Payload is TierChanged.
	KindTierChanged Kind = "tier_changed"

	// KindCaptureDeleted fires when retention permanently removes a
	// capture and its vector entry. Payload is core.ID.
	KindCaptureDeleted Kind = "capture_deleted"

	// KindLagged is synthesized by the bus itself, not a real publisher,
	// and delivered in place of events a subscriber fell too far behind
	// to receive.
	KindLagged Kind = "lagged"
)

// Event is one opaque message on the bus. Ordering within a single
// publisher's own calls to Publish is preserved across subscribers;
// ordering between different publishers is not guaranteed.
type Event struct {
	Kind    Kind
	Payload any
}

// Lagged is the payload of a synthesized KindLagged event: it tells a
// subscriber it missed Skipped events because its buffer filled up
// before it could drain them.
type Lagged struct {
	Skipped int
}

// DefaultSubscriberBuffer is the default per-subscriber channel depth.
const DefaultSubscriberBuffer = 256

// Bus fans events out to every live subscriber. A nil *Bus is valid
// and Publish on it is a no-op, so components can hold an optional bus
// without a separate presence check at every call site.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[*Subscription]struct{}
	bufferSize  int
}

// New builds a Bus whose subscriber channels are sized bufferSize. A
// non-positive bufferSize falls back to DefaultSubscriberBuffer.
func New(bufferSize int) *Bus {
	if bufferSize <= 0 {
		bufferSize = DefaultSubscriberBuffer
	}
	return &Bus{
		subscribers: make(map[*Subscription]struct{}),
		bufferSize:  bufferSize,
	}
}

// Subscription is one subscriber's bounded, lossy view of the bus.
// Events arrive on C; a Lagged event on C signals that events were
// dropped because the subscriber fell behind.
type Subscription struct {
	C chan Event

	bus      *Bus
	mu       sync.Mutex
	dropped  int
	draining bool
}

// Subscribe registers a new Subscription. Callers must call
// Unsubscribe when done, or the bus keeps the subscription and its
// channel alive and keeps sending to it.
func (b *Bus) Subscribe() *Subscription {
	sub := &Subscription{
		C:   make(chan Event, b.bufferSize),
		bus: b,
	}
	b.mu.Lock()
	b.subscribers[sub] = struct{}{}
	b.mu.Unlock()
	return sub
}

// Unsubscribe removes sub from the bus and closes its channel. Further
// sends to sub are silently dropped.
func (b *Bus) Unsubscribe(sub *Subscription) {
	b.mu.Lock()
	delete(b.subscribers, sub)
	b.mu.Unlock()
	close(sub.C)
}

// Publish fans event out to every current subscriber. A subscriber
// whose buffer is full does not block Publish: its delivery is
// recorded as a skip, and the next successful send to it is preceded
// by a KindLagged event reporting how many were missed.
func (b *Bus) Publish(event Event) {
	if b == nil {
		return
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for sub := range b.subscribers {
		sub.send(event)
	}
}

func (s *Subscription) send(event Event) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.dropped > 0 {
		select {
		case s.C <- Event{Kind: KindLagged, Payload: Lagged{Skipped: s.dropped}}:
			s.dropped = 0
		default:
			s.dropped++
			return
		}
	}

	select {
	case s.C <- event:
	default:
		s.dropped++
	}
}

// TierChanged is the payload of a KindTierChanged event.
type TierChanged struct {
	CaptureID core.ID
	From      core.Tier
	To        core.Tier
}

// Dropped is the payload of a KindDropped event, mirroring the
// Dropped{reason} outcome sources and the safety gate report on push.
type Dropped struct {
	Reason string
	Of     core.ID // id of the prior capture this one was a duplicate of, if applicable
}
