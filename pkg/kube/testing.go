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

package kube

import (
	"k8s.io/apimachinery/pkg/api/meta"
	"k8s.io/client-go/dynamic"
)

// NewDynamicClientForTest builds a DynamicClient around a caller-provided
// dynamic interface and REST mapper, letting other packages' tests exercise
// Apply/Get/Delete against a fake without a real API server.
func NewDynamicClientForTest(dynamicClient dynamic.Interface, mapper meta.RESTMapper) *DynamicClient {
	return &DynamicClient{
		dynamicClient: dynamicClient,
		mapper:        mapper,
	}
}
