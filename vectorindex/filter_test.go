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

package vectorindex

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNilFilterMatchesEverything(t *testing.T) {
	var f *Filter
	require.True(t, f.Matches(42))
	require.Equal(t, uint64(0), f.Cardinality())
}

func TestFilterMatchesOnlyAddedVIDs(t *testing.T) {
	f := NewFilter(1, 2, 3)
	require.True(t, f.Matches(2))
	require.False(t, f.Matches(4))
	require.Equal(t, uint64(3), f.Cardinality())
}

func TestFilterAddExtendsMembership(t *testing.T) {
	f := NewFilter()
	require.False(t, f.Matches(7))
	f.Add(7)
	require.True(t, f.Matches(7))
}
