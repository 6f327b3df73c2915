// Copyright 2025 Evrone
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

package inventory

import (
	"testing"

	"gotest.tools/v3/assert"
)

func TestInsertDeduplicates(t *testing.T) {
	s := NewSet()
	id := Identity{Group: "apps", Version: "v1", Kind: "Deployment", Namespace: "app", Name: "web"}
	s.Insert(id)
	s.Insert(id)

	assert.Equal(t, s.Len(), 1)
	assert.Assert(t, s.Has(id))
}

func TestEqualityUsesAllFields(t *testing.T) {
	s := NewSet()
	s.Insert(Identity{Group: "", Version: "v1", Kind: "Service", Namespace: "a", Name: "svc"})
	s.Insert(Identity{Group: "", Version: "v1", Kind: "Service", Namespace: "b", Name: "svc"})

	assert.Equal(t, s.Len(), 2)
}

func TestToSliceIsSorted(t *testing.T) {
	s := NewSet()
	s.Insert(Identity{Version: "v1", Kind: "Service", Namespace: "app", Name: "zzz"})
	s.Insert(Identity{Version: "v1", Kind: "ConfigMap", Namespace: "app", Name: "aaa"})

	out := s.ToSlice()
	assert.Equal(t, len(out), 2)
	assert.Equal(t, out[0].Kind, "ConfigMap")
	assert.Equal(t, out[1].Kind, "Service")
}

func TestDroppedReturnsIdentitiesMissingFromNewSet(t *testing.T) {
	a := Identity{Version: "v1", Kind: "Service", Namespace: "app", Name: "a"}
	b := Identity{Version: "v1", Kind: "ConfigMap", Namespace: "app", Name: "b"}

	prev := FromSlice([]Identity{a, b})
	current := FromSlice([]Identity{a})

	dropped := current.Dropped(prev)
	assert.Equal(t, len(dropped), 1)
	assert.Equal(t, dropped[0], b)
}

func TestDroppedEmptyWhenUnchanged(t *testing.T) {
	a := Identity{Version: "v1", Kind: "Service", Namespace: "app", Name: "a"}

	prev := FromSlice([]Identity{a})
	current := FromSlice([]Identity{a})

	assert.Equal(t, len(current.Dropped(prev)), 0)
}
