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

// Package source resolves a KclInstance's sourceRef into a downloadable
// artifact, reading the status.artifact of a flux-style GitRepository or
// OCIRepository object.
package source

import (
	"context"
	"fmt"

	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/apimachinery/pkg/runtime/schema"
	"sigs.k8s.io/controller-runtime/pkg/client"

	kclv1alpha1 "github.com/evrone/kcl-instance-controller/api/v1alpha1"
)

type ErrorKind string

const (
	NoNamespace     ErrorKind = "NoNamespace"
	UnsupportedKind ErrorKind = "UnsupportedKind"
	NoArtifactYet   ErrorKind = "NoArtifactYet"
	GetFailed       ErrorKind = "GetFailed"
)

type Error struct {
	Kind ErrorKind
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("source: %s: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("source: %s", e.Kind)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Artifact is the tagged-variant reference to a downloadable source produced
// by either repository kind: same shape, different provenance.
type Artifact interface {
	URL() string
	Revision() string
}

type gitArtifact struct {
	url, revision string
}

func (a gitArtifact) URL() string      { return a.url }
func (a gitArtifact) Revision() string { return a.revision }

type ociArtifact struct {
	url, revision string
}

func (a ociArtifact) URL() string      { return a.url }
func (a ociArtifact) Revision() string { return a.revision }

// ociRepositoryObjectKind is the kind of the Flux OCIRepository cluster
// object, distinct from the "OciRepository" spelling a KclInstance sourceRef
// uses to select it.
const ociRepositoryObjectKind = "OCIRepository"

var (
	gitRepositoryGVK = schema.GroupVersionKind{
		Group:   "source.toolkit.fluxcd.io",
		Version: "v1",
		Kind:    kclv1alpha1.GitRepositoryKind,
	}
	ociRepositoryGVK = schema.GroupVersionKind{
		Group:   "source.toolkit.fluxcd.io",
		Version: "v1beta2",
		Kind:    ociRepositoryObjectKind,
	}
)

// Resolver resolves a KclInstance's sourceRef to an Artifact.
type Resolver struct {
	Client client.Client
}

func (r *Resolver) Resolve(ctx context.Context, instance *kclv1alpha1.KclInstance) (Artifact, error) {
	ref := instance.Spec.SourceRef

	namespace := ref.Namespace
	if namespace == "" {
		namespace = instance.GetNamespace()
	}
	if namespace == "" {
		return nil, &Error{Kind: NoNamespace}
	}

	var gvk schema.GroupVersionKind
	switch ref.Kind {
	case kclv1alpha1.GitRepositoryKind:
		gvk = gitRepositoryGVK
	case kclv1alpha1.OCIRepositoryKind:
		gvk = ociRepositoryGVK
	default:
		return nil, &Error{Kind: UnsupportedKind, Err: fmt.Errorf("kind %q", ref.Kind)}
	}

	obj := &unstructured.Unstructured{}
	obj.SetGroupVersionKind(gvk)
	if err := r.Client.Get(ctx, client.ObjectKey{Namespace: namespace, Name: ref.Name}, obj); err != nil {
		return nil, &Error{Kind: GetFailed, Err: err}
	}

	url, found, err := unstructured.NestedString(obj.Object, "status", "artifact", "url")
	if err != nil || !found || url == "" {
		return nil, &Error{Kind: NoArtifactYet}
	}
	revision, _, _ := unstructured.NestedString(obj.Object, "status", "artifact", "revision")

	if ref.Kind == kclv1alpha1.GitRepositoryKind {
		return gitArtifact{url: url, revision: revision}, nil
	}
	return ociArtifact{url: url, revision: revision}, nil
}
