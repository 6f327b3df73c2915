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

// Package controller implements the KclInstance reconciliation loop: it
// resolves the referenced source artifact, downloads and compiles the KCL
// module and applies the rendered manifests, tracking every applied object
// in the instance's inventory.
package controller

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	appsv1 "k8s.io/api/apps/v1"
	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	apimeta "k8s.io/apimachinery/pkg/api/meta"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/tools/record"
	ctrl "sigs.k8s.io/controller-runtime"
	"sigs.k8s.io/controller-runtime/pkg/client"
	"sigs.k8s.io/controller-runtime/pkg/controller"
	"sigs.k8s.io/controller-runtime/pkg/controller/controllerutil"
	"sigs.k8s.io/controller-runtime/pkg/log"

	kclv1alpha1 "github.com/evrone/kcl-instance-controller/api/v1alpha1"
	"github.com/evrone/kcl-instance-controller/internal/apply"
	"github.com/evrone/kcl-instance-controller/internal/argsresolve"
	"github.com/evrone/kcl-instance-controller/internal/fetch"
	"github.com/evrone/kcl-instance-controller/internal/gc"
	"github.com/evrone/kcl-instance-controller/internal/inventory"
	"github.com/evrone/kcl-instance-controller/internal/kcl"
	"github.com/evrone/kcl-instance-controller/internal/source"
)

// Condition type and event reasons published on reconcile transitions.
const (
	ReadyCondition = "Ready"

	ReasonCreating         = "Creating"
	ReasonReady            = "Ready"
	ReasonDeleted          = "Deleted"
	ReasonError            = "Error"
	ReasonAwaitingArtifact = "AwaitingArtifact"
)

// action classifies what a single reconcile call has to do with an instance.
type action int

const (
	actionCreate action = iota
	actionUpdate
	actionDelete
	actionNoOp
)

// determineAction classifies the state transition for instance: deletion wins
// over everything, a missing finalizer means the instance was never picked up
// before, a stale observedGeneration means the spec changed underneath us.
func determineAction(instance *kclv1alpha1.KclInstance) action {
	if instance.GetDeletionTimestamp() != nil {
		return actionDelete
	}
	if len(instance.GetFinalizers()) == 0 {
		return actionCreate
	}
	if instance.Status.ObservedGeneration != instance.GetGeneration() {
		return actionUpdate
	}
	return actionNoOp
}

// KclInstanceReconciler drives a KclInstance from its declared source to a
// set of applied cluster objects and back again on deletion.
type KclInstanceReconciler struct {
	client.Client
	EventRecorder record.EventRecorder

	// Resolver locates the referenced GitRepository/OCIRepository and
	// extracts its published artifact.
	Resolver *source.Resolver

	// Fetcher downloads and unpacks the artifact tarball into the shared
	// storage tree.
	Fetcher *fetch.Fetcher

	// NewRunner constructs a module runner for a single reconcile pass,
	// carrying the instance's compile toggles.
	NewRunner func(opts kcl.CompileOptions) *kcl.Runner

	// Applier server-side applies rendered manifests and reports their
	// identities.
	Applier *apply.Applier

	// Collector deletes inventory entries on instance deletion and prunes
	// objects dropped from the render on update.
	Collector *gc.Collector

	// DefaultInterval is the requeue interval used when spec.interval is
	// missing or fails to parse.
	DefaultInterval time.Duration
}

// SetupWithManager registers the reconciler with mgr, watching KclInstances
// and the workload kinds their renders commonly produce.
func (r *KclInstanceReconciler) SetupWithManager(mgr ctrl.Manager, maxConcurrentReconciles int) error {
	return ctrl.NewControllerManagedBy(mgr).
		For(&kclv1alpha1.KclInstance{}).
		Owns(&corev1.Service{}).
		Owns(&appsv1.Deployment{}).
		Owns(&appsv1.StatefulSet{}).
		Owns(&corev1.ConfigMap{}).
		WithOptions(controller.Options{MaxConcurrentReconciles: maxConcurrentReconciles}).
		Complete(r)
}

func (r *KclInstanceReconciler) Reconcile(ctx context.Context, req ctrl.Request) (ctrl.Result, error) {
	logger := log.FromContext(ctx)

	instance := &kclv1alpha1.KclInstance{}
	if err := r.Get(ctx, req.NamespacedName, instance); err != nil {
		if apierrors.IsNotFound(err) {
			return ctrl.Result{}, nil
		}
		return ctrl.Result{RequeueAfter: r.DefaultInterval}, nil
	}

	// While suspended nothing is written, not even status.
	if instance.Spec.Suspend {
		logger.Info("instance is suspended, skipping")
		return ctrl.Result{}, nil
	}

	interval := r.requeueInterval(instance)

	switch determineAction(instance) {
	case actionDelete:
		return r.reconcileDelete(ctx, instance)
	case actionCreate:
		r.EventRecorder.Event(instance, corev1.EventTypeNormal, ReasonCreating, "Reconciling new KclInstance")
		if !controllerutil.ContainsFinalizer(instance, kclv1alpha1.Finalizer) {
			controllerutil.AddFinalizer(instance, kclv1alpha1.Finalizer)
			if err := r.Update(ctx, instance); err != nil {
				return ctrl.Result{RequeueAfter: interval}, nil
			}
		}
		return r.reconcilePipeline(ctx, instance, interval)
	case actionUpdate:
		return r.reconcilePipeline(ctx, instance, interval)
	default:
		return ctrl.Result{RequeueAfter: interval}, nil
	}
}

// reconcilePipeline runs the fetch -> render -> apply pipeline shared by the
// Create and Update transitions and writes the resulting inventory back to
// status.
func (r *KclInstanceReconciler) reconcilePipeline(
	ctx context.Context,
	instance *kclv1alpha1.KclInstance,
	interval time.Duration,
) (ctrl.Result, error) {
	logger := log.FromContext(ctx)

	artifact, err := r.Resolver.Resolve(ctx, instance)
	if err != nil {
		var srcErr *source.Error
		if errors.As(err, &srcErr) && srcErr.Kind == source.NoArtifactYet {
			// The source has not published an artifact yet. Waiting, not
			// failing: requeue without a warning event storm.
			r.markNotReady(ctx, instance, ReasonAwaitingArtifact, "Source has not published an artifact yet")
			return ctrl.Result{RequeueAfter: interval}, nil
		}
		return r.failPipeline(ctx, instance, interval, err)
	}

	// Record the attempt before the outcome is known.
	if instance.Status.LastAttemptedRevision != artifact.Revision() {
		instance.Status.LastAttemptedRevision = artifact.Revision()
		if err := r.patchStatus(ctx, instance); err != nil {
			return r.failPipeline(ctx, instance, interval, err)
		}
	}

	ref := instance.Spec.SourceRef
	sourceNamespace := ref.Namespace
	if sourceNamespace == "" {
		sourceNamespace = instance.GetNamespace()
	}

	workdir, err := r.Fetcher.Fetch(ctx, artifact.URL(), ref.Name, sourceNamespace)
	if err != nil {
		return r.failPipeline(ctx, instance, interval, err)
	}

	moduleDir := filepath.Join(workdir, instance.Spec.Path)

	args := map[string]string{}
	compileOpts := kcl.CompileOptions{}
	if config := instance.Spec.InstanceConfig; config != nil {
		compileOpts = kcl.CompileOptions{
			Vendor:     config.Vendor,
			SortKeys:   config.SortKeys,
			ShowHidden: config.ShowHidden,
		}
		args, err = argsresolve.Resolve(
			ctx,
			r.Client,
			instance.GetNamespace(),
			config.Arguments,
			config.ArgumentsFrom,
		)
		if err != nil {
			return r.failPipeline(ctx, instance, interval, err)
		}
	}

	runner := r.NewRunner(compileOpts)
	rendered, err := runner.Render(ctx, moduleDir, args, true)
	if err != nil {
		return r.failPipeline(ctx, instance, interval, err)
	}

	collected, err := r.Applier.Apply(ctx, rendered, instance)
	if err != nil {
		return r.failPipeline(ctx, instance, interval, err)
	}

	// Prune objects applied by a previous render but absent from this one.
	previous := inventory.FromSlice(instance.Status.Inventory)
	if dropped := collected.Dropped(previous); len(dropped) > 0 {
		logger.Info("pruning objects dropped from render", "count", len(dropped))
		if err := r.Collector.Collect(ctx, dropped); err != nil {
			return r.failPipeline(ctx, instance, interval, err)
		}
	}

	wasReady := apimeta.IsStatusConditionTrue(instance.Status.Conditions, ReadyCondition)

	instance.Status.Inventory = collected.ToSlice()
	instance.Status.ObservedGeneration = instance.GetGeneration()
	instance.Status.LastAppliedRevision = artifact.Revision()
	apimeta.SetStatusCondition(&instance.Status.Conditions, metav1.Condition{
		Type:               ReadyCondition,
		Status:             metav1.ConditionTrue,
		Reason:             ReasonReady,
		Message:            fmt.Sprintf("Applied revision %s", artifact.Revision()),
		ObservedGeneration: instance.GetGeneration(),
	})

	if err := r.patchStatus(ctx, instance); err != nil {
		return r.failPipeline(ctx, instance, interval, err)
	}

	if !wasReady {
		r.EventRecorder.Eventf(
			instance,
			corev1.EventTypeNormal,
			ReasonReady,
			"Applied revision %s, %d object(s) in inventory",
			artifact.Revision(),
			collected.Len(),
		)
	}

	return ctrl.Result{RequeueAfter: interval}, nil
}

// reconcileDelete garbage-collects the instance's inventory and releases the
// finalizer. Cleanup is best-effort: individual delete failures are logged by
// the collector and never block resource removal.
func (r *KclInstanceReconciler) reconcileDelete(
	ctx context.Context,
	instance *kclv1alpha1.KclInstance,
) (ctrl.Result, error) {
	if !controllerutil.ContainsFinalizer(instance, kclv1alpha1.Finalizer) {
		return ctrl.Result{}, nil
	}

	if err := r.Collector.Collect(ctx, instance.Status.Inventory); err != nil {
		return ctrl.Result{RequeueAfter: r.requeueInterval(instance)}, nil
	}

	r.EventRecorder.Event(instance, corev1.EventTypeNormal, ReasonDeleted, "Deleted inventory objects")

	controllerutil.RemoveFinalizer(instance, kclv1alpha1.Finalizer)
	if err := r.Update(ctx, instance); err != nil {
		// The finalizer stays until this succeeds; the resource remains
		// in-flight and the work-queue retries.
		return ctrl.Result{RequeueAfter: r.requeueInterval(instance)}, nil
	}

	// Terminal: nothing to requeue, the next event is a user change.
	return ctrl.Result{}, nil
}

// failPipeline records a pipeline failure on the instance and schedules a
// retry after the instance's interval. observedGeneration is left stale so
// the next tick classifies the instance as Update and retries.
func (r *KclInstanceReconciler) failPipeline(
	ctx context.Context,
	instance *kclv1alpha1.KclInstance,
	interval time.Duration,
	reconcileErr error,
) (ctrl.Result, error) {
	log.FromContext(ctx).Error(reconcileErr, "reconcile failed")
	r.EventRecorder.Event(instance, corev1.EventTypeWarning, ReasonError, reconcileErr.Error())
	r.markNotReady(ctx, instance, ReasonError, reconcileErr.Error())
	return ctrl.Result{RequeueAfter: interval}, nil
}

// markNotReady flips the Ready condition to false, patching status only when
// the condition actually changed so a waiting instance does not rewrite its
// status every tick.
func (r *KclInstanceReconciler) markNotReady(
	ctx context.Context,
	instance *kclv1alpha1.KclInstance,
	reason, message string,
) {
	changed := apimeta.SetStatusCondition(&instance.Status.Conditions, metav1.Condition{
		Type:               ReadyCondition,
		Status:             metav1.ConditionFalse,
		Reason:             reason,
		Message:            message,
		ObservedGeneration: instance.GetGeneration(),
	})
	if !changed {
		return
	}
	if err := r.patchStatus(ctx, instance); err != nil {
		log.FromContext(ctx).Error(err, "failed to update status condition")
	}
}

// patchStatus server-side applies instance's status to the /status
// subresource, based on a fresh GET so conditions written since our read are
// not wiped.
func (r *KclInstanceReconciler) patchStatus(ctx context.Context, instance *kclv1alpha1.KclInstance) error {
	latest := &kclv1alpha1.KclInstance{}
	if err := r.Get(ctx, client.ObjectKeyFromObject(instance), latest); err != nil {
		return fmt.Errorf("status patch: %w", err)
	}

	status := *instance.Status.DeepCopy()
	for _, condition := range latest.Status.Conditions {
		if apimeta.FindStatusCondition(status.Conditions, condition.Type) == nil {
			status.Conditions = append(status.Conditions, condition)
		}
	}

	patch := &kclv1alpha1.KclInstance{
		TypeMeta: metav1.TypeMeta{
			APIVersion: kclv1alpha1.GroupVersion.String(),
			Kind:       "KclInstance",
		},
		ObjectMeta: metav1.ObjectMeta{
			Name:      latest.GetName(),
			Namespace: latest.GetNamespace(),
		},
		Status: status,
	}

	if err := r.Status().Patch(
		ctx,
		patch,
		client.Apply,
		client.FieldOwner(kclv1alpha1.FieldManager),
		client.ForceOwnership,
	); err != nil {
		return fmt.Errorf("status patch: %w", err)
	}

	instance.Status = patch.Status
	return nil
}

// requeueInterval parses spec.interval, falling back to the configured
// default on a missing or invalid value.
func (r *KclInstanceReconciler) requeueInterval(instance *kclv1alpha1.KclInstance) time.Duration {
	if instance.Spec.Interval == "" {
		return r.DefaultInterval
	}
	parsed, err := time.ParseDuration(instance.Spec.Interval)
	if err != nil || parsed <= 0 {
		return r.DefaultInterval
	}
	return parsed
}
