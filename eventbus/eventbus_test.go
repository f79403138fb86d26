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

package eventbus

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSubscribeReceivesPublishedEvent(t *testing.T) {
	b := New(4)
	sub := b.Subscribe()
	defer b.Unsubscribe(sub)

	b.Publish(Event{Kind: KindCaptureDeleted})

	got := <-sub.C
	require.Equal(t, KindCaptureDeleted, got.Kind)
}

func TestPublishFansOutToAllSubscribers(t *testing.T) {
	b := New(4)
	sub1 := b.Subscribe()
	sub2 := b.Subscribe()
	defer b.Unsubscribe(sub1)
	defer b.Unsubscribe(sub2)

	b.Publish(Event{Kind: KindCaptureDeleted})

	require.Equal(t, KindCaptureDeleted, (<-sub1.C).Kind)
	require.Equal(t, KindCaptureDeleted, (<-sub2.C).Kind)
}

func TestNilBusPublishIsNoop(t *testing.T) {
	var b *Bus
	require.NotPanics(t, func() { b.Publish(Event{Kind: KindCaptureDeleted}) })
}

func TestUnsubscribeStopsFutureDeliveries(t *testing.T) {
	b := New(4)
	sub := b.Subscribe()
	b.Unsubscribe(sub)

	b.Publish(Event{Kind: KindCaptureDeleted})

	_, ok := <-sub.C
	require.False(t, ok, "channel should be closed after unsubscribe")
}

func TestFullSubscriberBufferEmitsLaggedInsteadOfBlocking(t *testing.T) {
	b := New(1)
	sub := b.Subscribe()
	defer b.Unsubscribe(sub)

	for i := 0; i < 5; i++ {
		b.Publish(Event{Kind: KindCaptureDeleted})
	}

	first := <-sub.C
	require.Equal(t, KindCaptureDeleted, first.Kind)

	// The skip count is delivered ahead of the next publish that finds
	// room in the drained buffer.
	b.Publish(Event{Kind: KindCaptureDeleted})

	second := <-sub.C
	require.Equal(t, KindLagged, second.Kind)
	lagged, ok := second.Payload.(Lagged)
	require.True(t, ok)
	require.Greater(t, lagged.Skipped, 0)
}

func TestDefaultSubscriberBufferMatchesSpecDefault(t *testing.T) {
	require.Equal(t, 256, DefaultSubscriberBuffer)
}
