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

package apply

import (
	"context"
	"errors"
	"testing"

	"gotest.tools/v3/assert"
	"k8s.io/apimachinery/pkg/api/meta"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/apimachinery/pkg/runtime/schema"
	dynamicfake "k8s.io/client-go/dynamic/fake"

	kclv1alpha1 "github.com/evrone/kcl-instance-controller/api/v1alpha1"
	"github.com/evrone/kcl-instance-controller/internal/inventory"
	"github.com/evrone/kcl-instance-controller/pkg/kube"
)

const rendered = `apiVersion: v1
kind: Service
metadata:
  name: svc
  labels:
    team: web
spec:
  ports:
    - port: 80
---
apiVersion: v1
kind: ConfigMap
metadata:
  name: cfg
  namespace: other
data:
  key: value
`

func newTestClient() *kube.DynamicClient {
	mapper := meta.NewDefaultRESTMapper([]schema.GroupVersion{{Group: "", Version: "v1"}})
	mapper.Add(schema.GroupVersionKind{Version: "v1", Kind: "Service"}, meta.RESTScopeNamespace)
	mapper.Add(schema.GroupVersionKind{Version: "v1", Kind: "ConfigMap"}, meta.RESTScopeNamespace)

	scheme := runtime.NewScheme()
	gvrToListKind := map[schema.GroupVersionResource]string{
		{Version: "v1", Resource: "services"}:   "ServiceList",
		{Version: "v1", Resource: "configmaps"}: "ConfigMapList",
	}
	fakeDynamic := dynamicfake.NewSimpleDynamicClientWithCustomListKinds(scheme, gvrToListKind)
	return kube.NewDynamicClientForTest(fakeDynamic, mapper)
}

func newInstance(namespace string) *kclv1alpha1.KclInstance {
	return &kclv1alpha1.KclInstance{
		ObjectMeta: metav1.ObjectMeta{Name: "ki", Namespace: namespace},
	}
}

func TestApplyStampsLabelAndDefaultsNamespace(t *testing.T) {
	client := newTestClient()
	applier := &Applier{Client: client, FieldManager: kclv1alpha1.FieldManager}

	result, err := applier.Apply(context.Background(), rendered, newInstance("app"))
	assert.NilError(t, err)
	assert.Equal(t, result.Len(), 2)

	svc := &unstructured.Unstructured{}
	svc.SetAPIVersion("v1")
	svc.SetKind("Service")
	svc.SetNamespace("app")
	svc.SetName("svc")
	applied, err := client.Get(context.Background(), svc)
	assert.NilError(t, err)

	labels := applied.GetLabels()
	assert.Equal(t, labels[kclv1alpha1.ManagedByLabel], kclv1alpha1.FieldManager)
	assert.Equal(t, labels["team"], "web")

	// A namespace declared in the document wins over the instance default.
	assert.Assert(t, result.Has(inventory.Identity{
		Version: "v1", Kind: "ConfigMap", Namespace: "other", Name: "cfg",
	}))
}

func TestApplyFailsOnMissingTypeMeta(t *testing.T) {
	client := newTestClient()
	applier := &Applier{Client: client, FieldManager: kclv1alpha1.FieldManager}

	_, err := applier.Apply(context.Background(), "metadata:\n  name: anonymous\n", newInstance("app"))
	assert.Assert(t, err != nil)

	var applyErr *Error
	assert.Assert(t, errors.As(err, &applyErr))
	assert.Equal(t, applyErr.Kind, NoTypeMeta)
}

func TestApplyReportsUnknownGVK(t *testing.T) {
	client := newTestClient()
	applier := &Applier{Client: client, FieldManager: kclv1alpha1.FieldManager}

	doc := "apiVersion: example.com/v1\nkind: Widget\nmetadata:\n  name: w\n"
	result, err := applier.Apply(context.Background(), doc, newInstance("app"))
	assert.Assert(t, err != nil)
	assert.Equal(t, result.Len(), 0)
}

func TestApplyStopsAtFirstFailingDocument(t *testing.T) {
	client := newTestClient()
	applier := &Applier{Client: client, FieldManager: kclv1alpha1.FieldManager}

	doc := "apiVersion: example.com/v1\nkind: Widget\nmetadata:\n  name: w\n---\n" + rendered
	result, err := applier.Apply(context.Background(), doc, newInstance("app"))
	assert.Assert(t, err != nil)
	assert.Equal(t, result.Len(), 0)
}
