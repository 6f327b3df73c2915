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

package controller

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/prometheus/client_golang/prometheus"
	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	apimeta "k8s.io/apimachinery/pkg/api/meta"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/apimachinery/pkg/runtime/schema"
	"k8s.io/apimachinery/pkg/types"
	"sigs.k8s.io/controller-runtime/pkg/client"
	"sigs.k8s.io/controller-runtime/pkg/metrics"

	kclv1alpha1 "github.com/evrone/kcl-instance-controller/api/v1alpha1"
	"github.com/evrone/kcl-instance-controller/internal/kcl"
	"github.com/evrone/kcl-instance-controller/internal/kubetest"
	"github.com/evrone/kcl-instance-controller/internal/tgz"
)

const (
	testNamespace = "app"

	duration          = 30 * time.Second
	assertionInterval = time.Second
)

var errCompile = errors.New("error[E2G22]: expected int, got str")

// fakeCompiler stands in for the kcl binary: Render output and error are
// mutable so one suite can walk an instance through success, compile failure
// and a reduced render.
type fakeCompiler struct {
	mu     sync.Mutex
	output string
	err    error
}

func (c *fakeCompiler) set(output string, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.output = output
	c.err = err
}

func (c *fakeCompiler) compile(
	ctx context.Context,
	workdir string,
	entrypoints []string,
	args map[string]string,
	packageMap map[string]string,
) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.output, c.err
}

const serviceAndConfigMap = `apiVersion: v1
kind: Service
metadata:
  name: svc
spec:
  ports:
    - port: 80
---
apiVersion: v1
kind: ConfigMap
metadata:
  name: cfg
data:
  key: value
`

const serviceOnly = `apiVersion: v1
kind: Service
metadata:
  name: svc
spec:
  ports:
    - port: 80
`

var _ = Describe("KclInstance controller", Ordered, func() {
	var (
		kubernetes *kubetest.Environment
		k8sClient  client.Client
		compiler   *fakeCompiler
		artifact   *httptest.Server
		storageDir string
		ctx        context.Context
	)

	gitRepositoryGVK := schema.GroupVersionKind{
		Group:   "source.toolkit.fluxcd.io",
		Version: "v1",
		Kind:    "GitRepository",
	}

	newGitRepository := func(name string) *unstructured.Unstructured {
		repo := &unstructured.Unstructured{}
		repo.SetGroupVersionKind(gitRepositoryGVK)
		repo.SetNamespace(testNamespace)
		repo.SetName(name)
		return repo
	}

	publishArtifact := func(name, url, revision string) {
		repo := newGitRepository(name)
		err := k8sClient.Get(ctx, client.ObjectKeyFromObject(repo), repo)
		Expect(err).NotTo(HaveOccurred())
		err = unstructured.SetNestedMap(repo.Object, map[string]any{
			"url":      url,
			"revision": revision,
		}, "status", "artifact")
		Expect(err).NotTo(HaveOccurred())
		err = k8sClient.Status().Update(ctx, repo)
		Expect(err).NotTo(HaveOccurred())
	}

	getInstance := func(name string) *kclv1alpha1.KclInstance {
		instance := &kclv1alpha1.KclInstance{}
		err := k8sClient.Get(
			ctx,
			types.NamespacedName{Namespace: testNamespace, Name: name},
			instance,
		)
		Expect(err).NotTo(HaveOccurred())
		return instance
	}

	bumpArguments := func(name, value string) {
		// Retried since the controller may bump the resource version between
		// our read and write.
		Eventually(func() error {
			instance := getInstance(name)
			instance.Spec.InstanceConfig = &kclv1alpha1.InstanceConfig{
				Arguments: map[string]string{"replicas": value},
			}
			return k8sClient.Update(ctx, instance)
		}, duration, assertionInterval).Should(Succeed())
	}

	BeforeAll(func() {
		kubernetes = kubetest.StartKubetestEnv(test)
		k8sClient = kubernetes.TestKubeClient
		ctx = kubernetes.Ctx

		ns := &corev1.Namespace{ObjectMeta: metav1.ObjectMeta{Name: testNamespace}}
		err := k8sClient.Create(ctx, ns)
		Expect(err).NotTo(HaveOccurred())

		// Serve a real tarball over HTTP the way a source controller does.
		moduleRoot := test.TempDir()
		moduleDir := filepath.Join(moduleRoot, "modules", "web")
		err = os.MkdirAll(moduleDir, 0o700)
		Expect(err).NotTo(HaveOccurred())
		err = os.WriteFile(filepath.Join(moduleDir, "kcl.mod"), []byte("[package]\nname = \"web\"\nversion = \"0.1.0\"\n"), 0o600)
		Expect(err).NotTo(HaveOccurred())
		err = os.WriteFile(filepath.Join(moduleDir, "main.k"), []byte("svc = {}\n"), 0o600)
		Expect(err).NotTo(HaveOccurred())

		archiveDir := test.TempDir()
		err = tgz.Create(context.Background(), moduleRoot, filepath.Join(archiveDir, "abc.tar.gz"))
		Expect(err).NotTo(HaveOccurred())
		artifact = httptest.NewServer(http.FileServer(http.Dir(archiveDir)))

		storageDir = test.TempDir()
		compiler = &fakeCompiler{output: serviceAndConfigMap}

		mgr, err := Setup(
			kubernetes.ControlPlane.Config,
			InsecureSkipTLSverify(true),
			MetricsAddr("0"),
			HealthAddr(""),
			StorageDir(storageDir),
			DefaultInterval(time.Second),
			CompilerFactory(func(kcl.CompileOptions) kcl.CompileFunc {
				return compiler.compile
			}),
		)
		Expect(err).NotTo(HaveOccurred())

		go func() {
			defer GinkgoRecover()
			_ = mgr.Start(ctx)
		}()
	})

	AfterAll(func() {
		artifact.Close()
		kubernetes.Stop()
		metrics.Registry = prometheus.NewRegistry()
	})

	When("the referenced source has no artifact yet", func() {
		It("waits without applying anything", func() {
			repo := newGitRepository("g1")
			err := k8sClient.Create(ctx, repo)
			Expect(err).NotTo(HaveOccurred())

			instance := &kclv1alpha1.KclInstance{
				ObjectMeta: metav1.ObjectMeta{
					Name:      "ki1",
					Namespace: testNamespace,
				},
				Spec: kclv1alpha1.KclInstanceSpec{
					SourceRef: kclv1alpha1.CrossNamespaceSourceReference{
						Kind: kclv1alpha1.GitRepositoryKind,
						Name: "g1",
					},
					Path:     "modules/web",
					Interval: "2s",
				},
			}
			err = k8sClient.Create(ctx, instance)
			Expect(err).NotTo(HaveOccurred())

			Eventually(func(g Gomega) {
				instance := getInstance("ki1")
				g.Expect(instance.GetFinalizers()).To(ContainElement(kclv1alpha1.Finalizer))
				ready := apimeta.FindStatusCondition(instance.Status.Conditions, ReadyCondition)
				g.Expect(ready).NotTo(BeNil())
				g.Expect(ready.Status).To(Equal(metav1.ConditionFalse))
				g.Expect(ready.Reason).To(Equal(ReasonAwaitingArtifact))
				g.Expect(instance.Status.Inventory).To(BeEmpty())
			}, duration, assertionInterval).Should(Succeed())
		})
	})

	When("the source publishes an artifact", func() {
		It("applies the rendered objects and records them in the inventory", func() {
			publishArtifact("g1", artifact.URL+"/abc.tar.gz", "abc")

			Eventually(func(g Gomega) {
				instance := getInstance("ki1")
				g.Expect(instance.Status.Inventory).To(HaveLen(2))
				g.Expect(instance.Status.ObservedGeneration).To(Equal(instance.GetGeneration()))
				g.Expect(instance.Status.LastAppliedRevision).To(Equal("abc"))
				g.Expect(instance.Status.LastAttemptedRevision).To(Equal("abc"))
				g.Expect(apimeta.IsStatusConditionTrue(instance.Status.Conditions, ReadyCondition)).
					To(BeTrue())
			}, duration, assertionInterval).Should(Succeed())

			var service corev1.Service
			err := k8sClient.Get(ctx, types.NamespacedName{Namespace: testNamespace, Name: "svc"}, &service)
			Expect(err).NotTo(HaveOccurred())
			Expect(service.GetLabels()).
				To(HaveKeyWithValue(kclv1alpha1.ManagedByLabel, kclv1alpha1.FieldManager))

			var configMap corev1.ConfigMap
			err = k8sClient.Get(ctx, types.NamespacedName{Namespace: testNamespace, Name: "cfg"}, &configMap)
			Expect(err).NotTo(HaveOccurred())
			Expect(configMap.GetLabels()).
				To(HaveKeyWithValue(kclv1alpha1.ManagedByLabel, kclv1alpha1.FieldManager))
		})
	})

	When("the module fails to compile", func() {
		It("keeps the previous inventory and surfaces the error", func() {
			compiler.set("", errCompile)
			bumpArguments("ki1", "2")

			Eventually(func(g Gomega) {
				instance := getInstance("ki1")
				ready := apimeta.FindStatusCondition(instance.Status.Conditions, ReadyCondition)
				g.Expect(ready).NotTo(BeNil())
				g.Expect(ready.Status).To(Equal(metav1.ConditionFalse))
				g.Expect(ready.Reason).To(Equal(ReasonError))
				g.Expect(ready.Message).To(ContainSubstring("expected int, got str"))
				g.Expect(instance.Status.Inventory).To(HaveLen(2))
				g.Expect(instance.Status.ObservedGeneration).
					NotTo(Equal(instance.GetGeneration()))
			}, duration, assertionInterval).Should(Succeed())
		})
	})

	When("an update drops an object from the render", func() {
		It("prunes the dropped object from the cluster and the inventory", func() {
			compiler.set(serviceOnly, nil)
			bumpArguments("ki1", "3")

			Eventually(func(g Gomega) {
				instance := getInstance("ki1")
				g.Expect(instance.Status.Inventory).To(HaveLen(1))
				g.Expect(instance.Status.Inventory[0].Kind).To(Equal("Service"))
				g.Expect(instance.Status.ObservedGeneration).To(Equal(instance.GetGeneration()))
			}, duration, assertionInterval).Should(Succeed())

			Eventually(func() bool {
				var configMap corev1.ConfigMap
				err := k8sClient.Get(ctx, types.NamespacedName{Namespace: testNamespace, Name: "cfg"}, &configMap)
				return apierrors.IsNotFound(err)
			}, duration, assertionInterval).Should(BeTrue())
		})
	})

	When("the instance is deleted", func() {
		It("garbage-collects the inventory and releases the finalizer", func() {
			instance := getInstance("ki1")
			err := k8sClient.Delete(ctx, instance)
			Expect(err).NotTo(HaveOccurred())

			Eventually(func() bool {
				err := k8sClient.Get(
					ctx,
					types.NamespacedName{Namespace: testNamespace, Name: "ki1"},
					&kclv1alpha1.KclInstance{},
				)
				return apierrors.IsNotFound(err)
			}, duration, assertionInterval).Should(BeTrue())

			Eventually(func() bool {
				var service corev1.Service
				err := k8sClient.Get(ctx, types.NamespacedName{Namespace: testNamespace, Name: "svc"}, &service)
				return apierrors.IsNotFound(err)
			}, duration, assertionInterval).Should(BeTrue())
		})
	})

	When("an instance is suspended", func() {
		It("never touches the cluster or its own status", func() {
			instance := &kclv1alpha1.KclInstance{
				ObjectMeta: metav1.ObjectMeta{
					Name:      "ki2",
					Namespace: testNamespace,
				},
				Spec: kclv1alpha1.KclInstanceSpec{
					SourceRef: kclv1alpha1.CrossNamespaceSourceReference{
						Kind: kclv1alpha1.GitRepositoryKind,
						Name: "g1",
					},
					Path:    "modules/web",
					Suspend: true,
				},
			}
			err := k8sClient.Create(ctx, instance)
			Expect(err).NotTo(HaveOccurred())

			Consistently(func(g Gomega) {
				instance := getInstance("ki2")
				g.Expect(instance.GetFinalizers()).To(BeEmpty())
				g.Expect(instance.Status.Conditions).To(BeEmpty())
				g.Expect(instance.Status.Inventory).To(BeEmpty())
			}, 5*time.Second, assertionInterval).Should(Succeed())
		})
	})
})
