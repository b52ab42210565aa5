/*
Copyright 2025 Flant JSC

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package k8s

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	corev1 "k8s.io/api/core/v1"
	"k8s.io/apimachinery/pkg/api/resource"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/util/intstr"
	"k8s.io/apimachinery/pkg/version"
	fakediscovery "k8s.io/client-go/discovery/fake"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/kubernetes/fake"

	"github.com/deckhouse/kops-agent/internal/logging"
	"github.com/deckhouse/kops-agent/internal/plugin"
)

var now = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func newTestPlugin(client kubernetes.Interface) *Plugin {
	return New(nil, logging.NewNop(),
		WithClient(client, "https://api.test:6443"),
		WithClock(func() time.Time { return now }),
	)
}

func testPod(name, ns string, phase corev1.PodPhase, created time.Time, statuses ...corev1.ContainerStatus) *corev1.Pod {
	return &corev1.Pod{
		ObjectMeta: metav1.ObjectMeta{
			Name:              name,
			Namespace:         ns,
			CreationTimestamp: metav1.NewTime(created),
			Labels:            map[string]string{"app": name},
		},
		Status: corev1.PodStatus{Phase: phase, ContainerStatuses: statuses},
	}
}

func testNode(name string, ready corev1.ConditionStatus) *corev1.Node {
	return &corev1.Node{
		ObjectMeta: metav1.ObjectMeta{Name: name, CreationTimestamp: metav1.NewTime(now.Add(-50 * time.Hour))},
		Status: corev1.NodeStatus{
			Conditions: []corev1.NodeCondition{{Type: corev1.NodeReady, Status: ready}},
			Capacity: corev1.ResourceList{
				corev1.ResourceCPU:    resource.MustParse("4"),
				corev1.ResourceMemory: resource.MustParse("8Gi"),
			},
			Allocatable: corev1.ResourceList{
				corev1.ResourceCPU: resource.MustParse("3800m"),
			},
		},
	}
}

func TestPods(t *testing.T) {
	client := fake.NewSimpleClientset(
		testPod("web", "default", corev1.PodRunning, now.Add(-26*time.Hour),
			corev1.ContainerStatus{Name: "app", Ready: true, RestartCount: 2},
			corev1.ContainerStatus{Name: "sidecar", Ready: false, RestartCount: 1},
		),
		testPod("db", "default", corev1.PodRunning, now.Add(-90*time.Second),
			corev1.ContainerStatus{Name: "db", Ready: true},
		),
		testPod("other", "kube-system", corev1.PodPending, now),
	)
	p := newTestPlugin(client)

	result, err := p.Execute(context.Background(), ActionPods, plugin.Options{})
	require.NoError(t, err)

	pods := result.([]Pod)
	require.Len(t, pods, 2)

	byName := map[string]Pod{}
	for _, pod := range pods {
		byName[pod.Name] = pod
	}
	web := byName["web"]
	assert.Equal(t, "Running", web.Status)
	assert.False(t, web.Ready)
	assert.Equal(t, "1/2", web.Containers)
	assert.Equal(t, 3, web.RestartCount)
	assert.Equal(t, "1d 2h", web.Age)

	db := byName["db"]
	assert.True(t, db.Ready)
	assert.Equal(t, "1m 30s", db.Age)
	assert.InDelta(t, 90, db.AgeSeconds, 0.001)
}

func TestPodsAllNamespacesAndSelector(t *testing.T) {
	client := fake.NewSimpleClientset(
		testPod("web", "default", corev1.PodRunning, now),
		testPod("dns", "kube-system", corev1.PodRunning, now),
	)
	p := newTestPlugin(client)

	result, err := p.Execute(context.Background(), ActionPods, plugin.Options{"namespace": "all"})
	require.NoError(t, err)
	assert.Len(t, result.([]Pod), 2)

	result, err = p.Execute(context.Background(), ActionPods, plugin.Options{"all_namespaces": true, "label_selector": "app=dns"})
	require.NoError(t, err)
	pods := result.([]Pod)
	require.Len(t, pods, 1)
	assert.Equal(t, "kube-system", pods[0].Namespace)
}

func TestNodes(t *testing.T) {
	p := newTestPlugin(fake.NewSimpleClientset(testNode("master-0", corev1.ConditionTrue)))

	result, err := p.Execute(context.Background(), ActionNodes, plugin.Options{})
	require.NoError(t, err)

	nodes := result.([]Node)
	require.Len(t, nodes, 1)
	assert.Equal(t, "True", nodes[0].Status)
	assert.Equal(t, "4", nodes[0].Capacity["cpu"])
	assert.Equal(t, "8Gi", nodes[0].Capacity["memory"])
	assert.Equal(t, "3800m", nodes[0].Allocatable["cpu"])
	assert.Equal(t, "2d 2h", nodes[0].Age)
}

func TestServices(t *testing.T) {
	client := fake.NewSimpleClientset(&corev1.Service{
		ObjectMeta: metav1.ObjectMeta{Name: "web", Namespace: "prod"},
		Spec: corev1.ServiceSpec{
			Type:      corev1.ServiceTypeClusterIP,
			ClusterIP: "10.0.0.10",
			Ports: []corev1.ServicePort{
				{Port: 80, TargetPort: intstr.FromInt32(8080), Protocol: corev1.ProtocolTCP},
			},
		},
	})
	p := newTestPlugin(client)

	result, err := p.Execute(context.Background(), ActionServices, plugin.Options{"namespace": "prod"})
	require.NoError(t, err)

	services := result.([]Service)
	require.Len(t, services, 1)
	assert.Equal(t, "ClusterIP", services[0].Type)
	assert.Equal(t, "10.0.0.10", services[0].ClusterIP)
	assert.Equal(t, []ServicePort{{Port: 80, TargetPort: "8080", Protocol: "TCP"}}, services[0].Ports)
}

func TestLogs(t *testing.T) {
	p := newTestPlugin(fake.NewSimpleClientset(testPod("web", "default", corev1.PodRunning, now)))

	result, err := p.Execute(context.Background(), ActionLogs, plugin.Options{"pod": "web", "tail": 20})
	require.NoError(t, err)

	logs := result.(*Logs)
	assert.Equal(t, "web", logs.Pod)
	assert.Equal(t, "default", logs.Namespace)
	assert.Equal(t, int64(20), logs.TailLines)
	assert.Equal(t, "fake logs", logs.Logs)
}

func TestLogsRequiresPod(t *testing.T) {
	p := newTestPlugin(fake.NewSimpleClientset())

	_, err := p.Execute(context.Background(), ActionLogs, plugin.Options{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "pod")
}

func TestStatus(t *testing.T) {
	client := fake.NewSimpleClientset(
		testNode("a", corev1.ConditionTrue),
		testNode("b", corev1.ConditionFalse),
		testPod("p1", "default", corev1.PodRunning, now),
		testPod("p2", "kube-system", corev1.PodRunning, now),
		testPod("p3", "default", corev1.PodPending, now),
		testPod("p4", "default", corev1.PodFailed, now),
	)
	client.Discovery().(*fakediscovery.FakeDiscovery).FakedServerVersion = &version.Info{GitVersion: "v1.30.2"}
	p := newTestPlugin(client)

	result, err := p.Execute(context.Background(), ActionStatus, plugin.Options{})
	require.NoError(t, err)

	st := result.(*ClusterStatus)
	assert.Equal(t, NodeCounts{Total: 2, Ready: 1}, st.Nodes)
	assert.Equal(t, PodCounts{Total: 4, Running: 2, Pending: 1, Failed: 1}, st.Pods)
	assert.Equal(t, "v1.30.2", st.Version)
	assert.Equal(t, "https://api.test:6443", st.Server)
}

func TestUnknownAction(t *testing.T) {
	p := newTestPlugin(fake.NewSimpleClientset())

	_, err := p.Execute(context.Background(), "scale", plugin.Options{})
	require.ErrorIs(t, err, plugin.ErrUnknownAction)
}

func TestAvailability(t *testing.T) {
	p := newTestPlugin(fake.NewSimpleClientset())
	assert.True(t, p.Available(context.Background()))

	broken := New(nil, logging.NewNop())
	broken.factory = func() (kubernetes.Interface, string, error) {
		return nil, "", errors.New("no kubeconfig")
	}
	assert.False(t, broken.Available(context.Background()))

	_, err := broken.Execute(context.Background(), ActionPods, plugin.Options{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Kubernetes client not available")
}

func TestFormatDuration(t *testing.T) {
	tests := []struct {
		in   time.Duration
		want string
	}{
		{0, "0s"},
		{45 * time.Second, "45s"},
		{5 * time.Minute, "5m"},
		{2*time.Hour + 3*time.Minute, "2h 3m"},
		{3 * time.Hour, "3h"},
		{48 * time.Hour, "2d"},
		{75 * time.Hour, "3d 3h"},
	}
	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			assert.Equal(t, tt.want, formatDuration(tt.in))
		})
	}
	assert.Equal(t, "<unknown>", ageAgo(time.Time{}, now))
}
