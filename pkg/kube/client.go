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

// Package kube wraps the Kubernetes dynamic client and discovery in a
// small facade that the reconciliation core applies, gets and deletes
// unstructured objects through, without depending on generated typed
// clients for every GVK it may encounter.
package kube

import (
	"context"
	"sync"

	"k8s.io/apimachinery/pkg/api/meta"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/client-go/discovery"
	memcached "k8s.io/client-go/discovery/cached/memory"
	"k8s.io/client-go/dynamic"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/restmapper"
)

// DynamicClient applies, fetches and deletes arbitrary Kubernetes objects
// by resolving their GroupVersionKind against a cached discovery snapshot.
type DynamicClient struct {
	dynamicClient dynamic.Interface
	discovery     discovery.CachedDiscoveryInterface

	mu     sync.RWMutex
	mapper meta.RESTMapper
}

// NewDynamicClient builds a DynamicClient from a REST config, the same way
// the controller-runtime client is constructed elsewhere in this codebase.
func NewDynamicClient(cfg *rest.Config) (*DynamicClient, error) {
	dc, err := dynamic.NewForConfig(cfg)
	if err != nil {
		return nil, err
	}

	discoveryClient, err := discovery.NewDiscoveryClientForConfig(cfg)
	if err != nil {
		return nil, err
	}
	cached := memcached.NewMemCacheClient(discoveryClient)

	client := &DynamicClient{
		dynamicClient: dc,
		discovery:     cached,
	}
	client.mapper = restmapper.NewDeferredDiscoveryRESTMapper(cached)
	return client, nil
}

// Invalidate drops the cached discovery snapshot, forcing the next RESTMapping
// call to refetch server resources. Used after UnknownGVK, e.g. when a CRD
// was just introduced in the same reconcile pass.
func (c *DynamicClient) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.discovery != nil {
		c.discovery.Invalidate()
	}
}

func (c *DynamicClient) resourceFor(obj *unstructured.Unstructured) (dynamic.ResourceInterface, error) {
	gvk := obj.GroupVersionKind()

	c.mu.RLock()
	mapping, err := c.mapper.RESTMapping(gvk.GroupKind(), gvk.Version)
	c.mu.RUnlock()
	if err != nil {
		return nil, err
	}

	if mapping.Scope.Name() == meta.RESTScopeNameNamespace {
		ns := obj.GetNamespace()
		if ns == "" {
			ns = "default"
		}
		return c.dynamicClient.Resource(mapping.Resource).Namespace(ns), nil
	}
	return c.dynamicClient.Resource(mapping.Resource), nil
}

// Apply performs a server-side apply of obj with the given field manager,
// the sole write path used throughout this controller. Conflicts are always
// forced: the controller is the authoritative owner of the fields it renders.
func (c *DynamicClient) Apply(
	ctx context.Context,
	obj *unstructured.Unstructured,
	fieldManager string,
) (*unstructured.Unstructured, error) {
	resource, err := c.resourceFor(obj)
	if err != nil {
		return nil, err
	}

	return resource.Apply(ctx, obj.GetName(), obj, applyPatchOptions(fieldManager))
}

// Get fetches the current state of obj, identified by its GVK, namespace
// and name.
func (c *DynamicClient) Get(ctx context.Context, obj *unstructured.Unstructured) (*unstructured.Unstructured, error) {
	resource, err := c.resourceFor(obj)
	if err != nil {
		return nil, err
	}
	return resource.Get(ctx, obj.GetName(), metaGetOptions())
}

// Delete removes obj from the cluster using default deletion parameters.
// NotFound is not treated specially here; callers decide whether to ignore it.
func (c *DynamicClient) Delete(ctx context.Context, obj *unstructured.Unstructured) error {
	resource, err := c.resourceFor(obj)
	if err != nil {
		return err
	}
	return resource.Delete(ctx, obj.GetName(), metaDeleteOptions())
}
