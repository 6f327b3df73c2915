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

package v1alpha1

import (
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/runtime"
)

// Finalizer is set on a KclInstance from the moment it starts being
// reconciled until the cleanup of its applied objects has completed.
const Finalizer = "kcl.evrone.com/finalizer"

// FieldManager is the server-side apply field manager used for every
// object this controller writes, and the value of the manager label
// stamped onto applied objects.
const FieldManager = "kcl-instance-controller"

// ManagedByLabel is the well-known label key used to mark ownership.
const ManagedByLabel = "app.kubernetes.io/managed-by"

// DefaultRequeueInterval is the default of spec.interval. The reconciler does
// not read this constant: its fallback for an empty or unparsable interval is
// the DefaultInterval setup option, which also defaults to 10s.
const DefaultRequeueInterval = "10s"

// Source kinds supported by the KclInstance sourceRef.
const (
	GitRepositoryKind = "GitRepository"
	OCIRepositoryKind = "OciRepository"
)

// Arguments reference kinds.
const (
	ArgumentsReferenceSecret    = "Secret"
	ArgumentsReferenceConfigMap = "ConfigMap"
)

// CrossNamespaceSourceReference points at a Flux-style source object that
// exposes a downloadable artifact on its status.
type CrossNamespaceSourceReference struct {
	// Kind of the referent, one of GitRepository or OciRepository.
	Kind string `json:"kind"`

	// Name of the referent.
	Name string `json:"name"`

	// Namespace of the referent, defaults to the KclInstance's own namespace.
	// +optional
	Namespace string `json:"namespace,omitempty"`
}

// ArgumentsReference points at a ConfigMap or Secret whose data is merged
// into spec.instanceConfig.arguments at reconcile time.
type ArgumentsReference struct {
	// Name of the values referent. Must reside in the same namespace as the
	// referring KclInstance.
	Name string `json:"name"`

	// Kind of the values referent, one of Secret or ConfigMap.
	Kind string `json:"kind"`

	// ArgumentsKey is the data key where the arguments can be found.
	// Defaults to "arguments.yaml".
	// +optional
	ArgumentsKey string `json:"argumentsKey,omitempty"`

	// TargetPath is the YAML dot notation path the value should be merged at.
	// Defaults to merging at the root.
	// +optional
	TargetPath string `json:"targetPath,omitempty"`

	// Optional marks this reference as optional. A not-found error for the
	// reference is then ignored; any other error still fails reconciliation.
	// +optional
	Optional bool `json:"optional,omitempty"`
}

// InstanceConfig controls how the KCL module is rendered.
type InstanceConfig struct {
	// Vendor instructs the module runner to vendor dependencies locally.
	// +optional
	Vendor bool `json:"vendor,omitempty"`

	// SortKeys sorts output map keys alphabetically.
	// +optional
	SortKeys bool `json:"sortKeys,omitempty"`

	// ShowHidden includes hidden (underscore-prefixed) attributes in the output.
	// +optional
	ShowHidden bool `json:"showHidden,omitempty"`

	// Arguments are top-level KCL top arguments passed to the compiler.
	// +optional
	Arguments map[string]string `json:"arguments,omitempty"`

	// ArgumentsFrom merges argument values from ConfigMaps/Secrets, later
	// entries overriding earlier ones and both overriding Arguments.
	// +optional
	ArgumentsFrom []ArgumentsReference `json:"argumentsFrom,omitempty"`
}

// KclInstanceSpec defines the desired state of a KclInstance.
type KclInstanceSpec struct {
	// SourceRef points at the GitRepository or OciRepository publishing the
	// KCL source artifact.
	SourceRef CrossNamespaceSourceReference `json:"sourceRef"`

	// Path is the sub-path under the unpacked artifact containing the KCL
	// main module.
	Path string `json:"path"`

	// InstanceConfig configures rendering of the module.
	// +optional
	InstanceConfig *InstanceConfig `json:"instanceConfig,omitempty"`

	// Suspend tells the controller to stop reconciling this instance.
	// +optional
	Suspend bool `json:"suspend,omitempty"`

	// Interval is the requeue interval after a successful reconcile, given
	// as a Go duration string. Defaults to 10s on missing or invalid value.
	// +optional
	Interval string `json:"interval,omitempty"`
}

// ResourceRef identifies a single applied Kubernetes object. It is the unit
// stored in status.inventory.
type ResourceRef struct {
	Group     string `json:"group"`
	Version   string `json:"version"`
	Kind      string `json:"kind"`
	Namespace string `json:"namespace,omitempty"`
	Name      string `json:"name"`
}

// KclInstanceStatus defines the observed state of a KclInstance.
type KclInstanceStatus struct {
	// Inventory is the set of objects applied by this instance.
	// +optional
	Inventory []ResourceRef `json:"inventory,omitempty"`

	// ObservedGeneration is the last metadata.generation reconciled to
	// completion.
	// +optional
	ObservedGeneration int64 `json:"observedGeneration,omitempty"`

	// LastAppliedRevision is the source revision of the last successful apply.
	// +optional
	LastAppliedRevision string `json:"lastAppliedRevision,omitempty"`

	// LastAttemptedRevision is the source revision of the most recently
	// attempted pipeline pass, written before the outcome is known.
	// +optional
	LastAttemptedRevision string `json:"lastAttemptedRevision,omitempty"`

	// Conditions holds the conditions for the KclInstance.
	// +optional
	Conditions []metav1.Condition `json:"conditions,omitempty"`
}

// +kubebuilder:object:root=true
// +kubebuilder:subresource:status
// +kubebuilder:resource:shortName=ki
// +kubebuilder:printcolumn:name="Ready",type="string",JSONPath=".status.conditions[?(@.type==\"Ready\")].status"
// +kubebuilder:printcolumn:name="Revision",type="string",JSONPath=".status.lastAppliedRevision"

// KclInstance is the Schema for the kclinstances API.
type KclInstance struct {
	metav1.TypeMeta   `json:",inline"`
	metav1.ObjectMeta `json:"metadata,omitempty"`

	Spec   KclInstanceSpec   `json:"spec,omitempty"`
	Status KclInstanceStatus `json:"status,omitempty"`
}

// +kubebuilder:object:root=true

// KclInstanceList contains a list of KclInstance.
type KclInstanceList struct {
	metav1.TypeMeta `json:",inline"`
	metav1.ListMeta `json:"metadata,omitempty"`
	Items           []KclInstance `json:"items"`
}

func (in *KclInstance) DeepCopyInto(out *KclInstance) {
	*out = *in
	out.TypeMeta = in.TypeMeta
	in.ObjectMeta.DeepCopyInto(&out.ObjectMeta)
	in.Spec.DeepCopyInto(&out.Spec)
	in.Status.DeepCopyInto(&out.Status)
}

func (in *KclInstance) DeepCopy() *KclInstance {
	if in == nil {
		return nil
	}
	out := new(KclInstance)
	in.DeepCopyInto(out)
	return out
}

func (in *KclInstance) DeepCopyObject() runtime.Object {
	if c := in.DeepCopy(); c != nil {
		return c
	}
	return nil
}

func (in *KclInstanceSpec) DeepCopyInto(out *KclInstanceSpec) {
	*out = *in
	out.SourceRef = in.SourceRef
	if in.InstanceConfig != nil {
		out.InstanceConfig = in.InstanceConfig.DeepCopy()
	}
}

func (in *KclInstanceSpec) DeepCopy() *KclInstanceSpec {
	if in == nil {
		return nil
	}
	out := new(KclInstanceSpec)
	in.DeepCopyInto(out)
	return out
}

func (in *InstanceConfig) DeepCopyInto(out *InstanceConfig) {
	*out = *in
	if in.Arguments != nil {
		out.Arguments = make(map[string]string, len(in.Arguments))
		for k, v := range in.Arguments {
			out.Arguments[k] = v
		}
	}
	if in.ArgumentsFrom != nil {
		out.ArgumentsFrom = make([]ArgumentsReference, len(in.ArgumentsFrom))
		copy(out.ArgumentsFrom, in.ArgumentsFrom)
	}
}

func (in *InstanceConfig) DeepCopy() *InstanceConfig {
	if in == nil {
		return nil
	}
	out := new(InstanceConfig)
	in.DeepCopyInto(out)
	return out
}

func (in *KclInstanceStatus) DeepCopyInto(out *KclInstanceStatus) {
	*out = *in
	if in.Inventory != nil {
		out.Inventory = make([]ResourceRef, len(in.Inventory))
		copy(out.Inventory, in.Inventory)
	}
	if in.Conditions != nil {
		out.Conditions = make([]metav1.Condition, len(in.Conditions))
		for i := range in.Conditions {
			in.Conditions[i].DeepCopyInto(&out.Conditions[i])
		}
	}
}

func (in *KclInstanceStatus) DeepCopy() *KclInstanceStatus {
	if in == nil {
		return nil
	}
	out := new(KclInstanceStatus)
	in.DeepCopyInto(out)
	return out
}

func (in *KclInstanceList) DeepCopyInto(out *KclInstanceList) {
	*out = *in
	out.TypeMeta = in.TypeMeta
	in.ListMeta.DeepCopyInto(&out.ListMeta)
	if in.Items != nil {
		out.Items = make([]KclInstance, len(in.Items))
		for i := range in.Items {
			in.Items[i].DeepCopyInto(&out.Items[i])
		}
	}
}

func (in *KclInstanceList) DeepCopy() *KclInstanceList {
	if in == nil {
		return nil
	}
	out := new(KclInstanceList)
	in.DeepCopyInto(out)
	return out
}

func (in *KclInstanceList) DeepCopyObject() runtime.Object {
	if c := in.DeepCopy(); c != nil {
		return c
	}
	return nil
}
