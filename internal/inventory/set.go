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

// Package inventory implements the deduplicated set of applied object
// identities that is persisted in a KclInstance's status.inventory field.
package inventory

import (
	"fmt"
	"sort"

	kclv1alpha1 "github.com/evrone/kcl-instance-controller/api/v1alpha1"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
)

// Identity is the tuple identifying a single applied cluster object.
type Identity = kclv1alpha1.ResourceRef

func key(id Identity) string {
	return fmt.Sprintf("%s/%s/%s/%s/%s", id.Group, id.Version, id.Kind, id.Namespace, id.Name)
}

// Set is a deduplicated collection of identities, keyed by the full
// (group, version, kind, namespace, name) tuple.
type Set struct {
	items map[string]Identity
}

// NewSet returns an empty inventory set.
func NewSet() *Set {
	return &Set{items: make(map[string]Identity)}
}

// FromSlice builds a Set from a status.inventory slice, as read off the API
// server.
func FromSlice(refs []Identity) *Set {
	s := NewSet()
	for _, ref := range refs {
		s.Insert(ref)
	}
	return s
}

// Insert adds an identity, replacing any prior entry with the same key.
func (s *Set) Insert(id Identity) {
	s.items[key(id)] = id
}

// Has reports whether id is present in the set.
func (s *Set) Has(id Identity) bool {
	_, ok := s.items[key(id)]
	return ok
}

// Len returns the number of distinct identities in the set.
func (s *Set) Len() int {
	return len(s.items)
}

// ToSlice returns the set contents sorted for deterministic status writes.
func (s *Set) ToSlice() []Identity {
	out := make([]Identity, 0, len(s.items))
	for _, id := range s.items {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool {
		return key(out[i]) < key(out[j])
	})
	return out
}

// Dropped returns the identities present in prev but absent from s, i.e. the
// objects an update pass should prune.
func (s *Set) Dropped(prev *Set) []Identity {
	var dropped []Identity
	for k, id := range prev.items {
		if _, ok := s.items[k]; !ok {
			dropped = append(dropped, id)
		}
	}
	sort.Slice(dropped, func(i, j int) bool {
		return key(dropped[i]) < key(dropped[j])
	})
	return dropped
}

// IdentityOf derives an Identity from an applied unstructured object.
func IdentityOf(obj *unstructured.Unstructured) Identity {
	gvk := obj.GroupVersionKind()
	return Identity{
		Group:     gvk.Group,
		Version:   gvk.Version,
		Kind:      gvk.Kind,
		Namespace: obj.GetNamespace(),
		Name:      obj.GetName(),
	}
}
