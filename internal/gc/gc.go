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

// Package gc deletes the cluster objects recorded in a KclInstance's
// inventory, honouring the manager label so it never touches an object it
// did not apply itself.
package gc

import (
	"context"

	"github.com/go-logr/logr"
	"golang.org/x/sync/errgroup"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	"k8s.io/apimachinery/pkg/api/meta"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/apimachinery/pkg/runtime/schema"

	kclv1alpha1 "github.com/evrone/kcl-instance-controller/api/v1alpha1"
	"github.com/evrone/kcl-instance-controller/internal/inventory"
	"github.com/evrone/kcl-instance-controller/pkg/kube"
)

// Collector deletes the objects named by a set of inventory identities,
// bounded by a worker pool.
type Collector struct {
	Log            logr.Logger
	Client         *kube.DynamicClient
	WorkerPoolSize int
}

// Collect deletes every identity in ids, skipping objects that no longer
// exist and objects that exist but lack the manager label. Individual
// failures are logged and do not abort the pass; cleanup is best-effort.
func (c *Collector) Collect(ctx context.Context, ids []inventory.Identity) error {
	limit := c.WorkerPoolSize
	if limit <= 0 {
		limit = 1
	}

	eg := errgroup.Group{}
	eg.SetLimit(limit)
	for _, id := range ids {
		eg.Go(func() error {
			c.collectOne(ctx, id)
			return nil
		})
	}
	return eg.Wait()
}

func (c *Collector) collectOne(ctx context.Context, id inventory.Identity) {
	log := c.Log.WithValues(
		"group", id.Group,
		"version", id.Version,
		"kind", id.Kind,
		"namespace", id.Namespace,
		"name", id.Name,
	)

	obj := &unstructured.Unstructured{}
	obj.SetGroupVersionKind(schema.GroupVersionKind{Group: id.Group, Version: id.Version, Kind: id.Kind})
	obj.SetNamespace(id.Namespace)
	obj.SetName(id.Name)

	current, err := c.Client.Get(ctx, obj)
	if err != nil {
		if apierrors.IsNotFound(err) {
			return
		}
		if meta.IsNoMatchError(err) {
			log.Info("skipping unresolvable GVK during cleanup")
			return
		}
		log.Error(err, "failed to get object during cleanup")
		return
	}

	labels := current.GetLabels()
	if labels[kclv1alpha1.ManagedByLabel] != kclv1alpha1.FieldManager {
		log.Info("skipping unmanaged object during cleanup")
		return
	}

	if err := c.Client.Delete(ctx, current); err != nil && !apierrors.IsNotFound(err) {
		log.Error(err, "failed to delete object during cleanup")
	}
}
