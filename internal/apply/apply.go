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

// Package apply splits rendered YAML into individual manifests and applies
// each through the dynamic client, stamping ownership metadata and
// recording every applied object in the reconciled inventory.
package apply

import (
	"context"
	"fmt"

	"k8s.io/apimachinery/pkg/api/meta"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"

	kclv1alpha1 "github.com/evrone/kcl-instance-controller/api/v1alpha1"
	"github.com/evrone/kcl-instance-controller/internal/inventory"
	"github.com/evrone/kcl-instance-controller/pkg/kube"
)

type ErrorKind string

const (
	SplitFailed ErrorKind = "SplitFailed"
	NoTypeMeta  ErrorKind = "NoTypeMeta"
	UnknownGVK  ErrorKind = "UnknownGVK"
	ApplyFailed ErrorKind = "ApplyFailed"
)

type Error struct {
	Kind     ErrorKind
	Resource string
	Err      error
}

func (e *Error) Error() string {
	if e.Resource != "" {
		return fmt.Sprintf("apply: %s: %s: %v", e.Kind, e.Resource, e.Err)
	}
	return fmt.Sprintf("apply: %s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Applier applies a rendered manifest set to the cluster through a dynamic
// client, stamping every object with the owning KclInstance's managed-by
// label before the server-side apply.
type Applier struct {
	Client       *kube.DynamicClient
	FieldManager string
}

// Apply splits rendered into individual objects, defaults their namespace
// to instance's, stamps the managed-by label and applies each one in source
// order, returning the inventory of every object that was applied. The first
// failing document stops the pass; its error is returned alongside the
// inventory of the documents applied before it.
func (a *Applier) Apply(
	ctx context.Context,
	rendered string,
	instance *kclv1alpha1.KclInstance,
) (*inventory.Set, error) {
	objects, err := kube.SplitManifests(rendered)
	if err != nil {
		return nil, &Error{Kind: SplitFailed, Err: err}
	}

	result := inventory.NewSet()

	for _, obj := range objects {
		if obj.GetNamespace() == "" {
			obj.SetNamespace(instance.GetNamespace())
		}

		labels := obj.GetLabels()
		if labels == nil {
			labels = map[string]string{}
		}
		labels[kclv1alpha1.ManagedByLabel] = kclv1alpha1.FieldManager
		obj.SetLabels(labels)

		gvk := obj.GroupVersionKind()
		if gvk.Kind == "" || gvk.Version == "" {
			return result, &Error{Kind: NoTypeMeta, Resource: obj.GetName(), Err: fmt.Errorf("missing apiVersion/kind")}
		}

		if err := a.applyOne(ctx, obj); err != nil {
			return result, err
		}

		result.Insert(inventory.IdentityOf(obj))
	}

	return result, nil
}

func (a *Applier) applyOne(ctx context.Context, obj *unstructured.Unstructured) error {
	_, err := a.Client.Apply(ctx, obj, a.FieldManager)
	if err == nil {
		return nil
	}

	if meta.IsNoMatchError(err) {
		a.Client.Invalidate()
		if _, retryErr := a.Client.Apply(ctx, obj, a.FieldManager); retryErr == nil {
			return nil
		} else if meta.IsNoMatchError(retryErr) {
			return &Error{Kind: UnknownGVK, Resource: resourceName(obj), Err: retryErr}
		} else {
			return &Error{Kind: ApplyFailed, Resource: resourceName(obj), Err: retryErr}
		}
	}

	return &Error{Kind: ApplyFailed, Resource: resourceName(obj), Err: err}
}

func resourceName(obj *unstructured.Unstructured) string {
	return fmt.Sprintf("%s/%s/%s", obj.GetAPIVersion(), obj.GetKind(), obj.GetName())
}
