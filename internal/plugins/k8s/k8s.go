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
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/samber/lo"
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"

	"github.com/deckhouse/kops-agent/internal/config"
	"github.com/deckhouse/kops-agent/internal/logging"
	"github.com/deckhouse/kops-agent/internal/plugin"
	"github.com/deckhouse/kops-agent/pkg/utilk8s"
)

const Name = "k8s_agent"

const (
	ActionPods     plugin.Action = "pods"
	ActionNodes    plugin.Action = "nodes"
	ActionServices plugin.Action = "services"
	ActionLogs     plugin.Action = "logs"
	ActionStatus   plugin.Action = "status"
)

const (
	defaultNamespace = "default"
	defaultTailLines = 100
)

// ClientFactory builds the cluster client on first use.
type ClientFactory func() (kubernetes.Interface, string, error)

// Plugin queries cluster state through the Kubernetes API.
type Plugin struct {
	plugin.Base

	factory ClientFactory
	logger  *logging.Logger
	now     func() time.Time

	mu     sync.Mutex
	client kubernetes.Interface
	host   string
}

type Option func(*Plugin)

// WithClient uses an existing client instead of reading the kubeconfig.
func WithClient(client kubernetes.Interface, host string) Option {
	return func(p *Plugin) {
		p.factory = func() (kubernetes.Interface, string, error) {
			return client, host, nil
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(p *Plugin) {
		p.now = now
	}
}

func New(cfg config.Accessor, logger *logging.Logger, opts ...Option) *Plugin {
	var kubeconfig, kubeContext string
	if cfg != nil {
		kubeconfig = cfg.GetString(config.KeyK8sConfigPath)
		kubeContext = cfg.GetString(config.KeyK8sContext)
	}
	p := &Plugin{
		Base: plugin.NewBase(Name, "Query Kubernetes cluster status, pods, and resources", "1.0.0",
			ActionPods, ActionNodes, ActionServices, ActionLogs, ActionStatus),
		factory: func() (kubernetes.Interface, string, error) {
			restConfig, client, err := utilk8s.SetupK8sClientSet(kubeconfig, kubeContext)
			if err != nil {
				return nil, "", err
			}
			return client, restConfig.Host, nil
		},
		logger: logger,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *Plugin) kube() (kubernetes.Interface, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.client != nil {
		return p.client, nil
	}
	client, host, err := p.factory()
	if err != nil {
		return nil, fmt.Errorf("Kubernetes client not available: %w", err)
	}
	p.client, p.host = client, host
	return client, nil
}

// Available reports whether the API server answers a node list.
func (p *Plugin) Available(ctx context.Context) bool {
	client, err := p.kube()
	if err != nil {
		p.logger.Warn(ctx, "Kubernetes config not found", logging.Err(err))
		return false
	}
	_, err = client.CoreV1().Nodes().List(ctx, metav1.ListOptions{Limit: 1})
	return err == nil
}

func (p *Plugin) Info(ctx context.Context) plugin.Info {
	return plugin.Describe(ctx, p)
}

func (p *Plugin) Execute(ctx context.Context, action plugin.Action, opts plugin.Options) (any, error) {
	client, err := p.kube()
	if err != nil {
		return nil, err
	}

	var result any
	switch action {
	case ActionPods:
		result, err = p.pods(ctx, client, namespace(opts), opts.GetString("label_selector", ""))
	case ActionNodes:
		result, err = p.nodes(ctx, client)
	case ActionServices:
		result, err = p.services(ctx, client, namespace(opts))
	case ActionLogs:
		result, err = p.logs(ctx, client, opts)
	case ActionStatus:
		result, err = p.status(ctx, client)
	default:
		return nil, p.UnknownAction(action)
	}
	if err != nil {
		p.logger.Error(ctx, "Kubernetes query failed", slog.String("action", action.String()), logging.Err(err))
		return nil, err
	}
	return result, nil
}

// namespace returns the requested namespace; "all" or all_namespaces=true selects every namespace.
func namespace(opts plugin.Options) string {
	if opts.GetBool("all_namespaces", false) {
		return metav1.NamespaceAll
	}
	ns := opts.GetString("namespace", defaultNamespace)
	if ns == "all" {
		return metav1.NamespaceAll
	}
	return ns
}

type Pod struct {
	Name         string  `json:"name" yaml:"name"`
	Namespace    string  `json:"namespace" yaml:"namespace"`
	Status       string  `json:"status" yaml:"status"`
	Ready        bool    `json:"ready" yaml:"ready"`
	Containers   string  `json:"containers" yaml:"containers"`
	RestartCount int     `json:"restart_count" yaml:"restart_count"`
	Age          string  `json:"age" yaml:"age"`
	AgeSeconds   float64 `json:"age_seconds" yaml:"age_seconds"`
}

func (p *Plugin) pods(ctx context.Context, client kubernetes.Interface, ns, selector string) ([]Pod, error) {
	list, err := client.CoreV1().Pods(ns).List(ctx, metav1.ListOptions{LabelSelector: selector})
	if err != nil {
		return nil, fmt.Errorf("list pods: %w", err)
	}
	return lo.Map(list.Items, func(pod corev1.Pod, _ int) Pod {
		return p.podProcessing(pod)
	}), nil
}

func (p *Plugin) podProcessing(pod corev1.Pod) Pod {
	readyCount, restarts := 0, 0
	for _, cs := range pod.Status.ContainerStatuses {
		if cs.Ready {
			readyCount++
		}
		restarts += int(cs.RestartCount)
	}
	total := len(pod.Status.ContainerStatuses)

	now := p.now()
	return Pod{
		Name:         pod.Name,
		Namespace:    pod.Namespace,
		Status:       string(pod.Status.Phase),
		Ready:        total > 0 && readyCount == total,
		Containers:   fmt.Sprintf("%d/%d", readyCount, total),
		RestartCount: restarts,
		Age:          ageAgo(pod.CreationTimestamp.Time, now),
		AgeSeconds:   ageSeconds(pod.CreationTimestamp.Time, now),
	}
}

type Node struct {
	Name        string            `json:"name" yaml:"name"`
	Status      string            `json:"status" yaml:"status"`
	Capacity    map[string]string `json:"capacity" yaml:"capacity"`
	Allocatable map[string]string `json:"allocatable" yaml:"allocatable"`
	Age         string            `json:"age" yaml:"age"`
}

func (p *Plugin) nodes(ctx context.Context, client kubernetes.Interface) ([]Node, error) {
	list, err := client.CoreV1().Nodes().List(ctx, metav1.ListOptions{})
	if err != nil {
		return nil, fmt.Errorf("list nodes: %w", err)
	}
	now := p.now()
	return lo.Map(list.Items, func(node corev1.Node, _ int) Node {
		return Node{
			Name:        node.Name,
			Status:      nodeReady(node),
			Capacity:    resources(node.Status.Capacity),
			Allocatable: resources(node.Status.Allocatable),
			Age:         ageAgo(node.CreationTimestamp.Time, now),
		}
	}), nil
}

type ServicePort struct {
	Port       int32  `json:"port" yaml:"port"`
	TargetPort string `json:"target_port" yaml:"target_port"`
	Protocol   string `json:"protocol" yaml:"protocol"`
}

type Service struct {
	Name      string        `json:"name" yaml:"name"`
	Namespace string        `json:"namespace" yaml:"namespace"`
	Type      string        `json:"type" yaml:"type"`
	ClusterIP string        `json:"cluster_ip" yaml:"cluster_ip"`
	Ports     []ServicePort `json:"ports" yaml:"ports"`
}

func (p *Plugin) services(ctx context.Context, client kubernetes.Interface, ns string) ([]Service, error) {
	list, err := client.CoreV1().Services(ns).List(ctx, metav1.ListOptions{})
	if err != nil {
		return nil, fmt.Errorf("list services: %w", err)
	}
	return lo.Map(list.Items, func(svc corev1.Service, _ int) Service {
		return Service{
			Name:      svc.Name,
			Namespace: svc.Namespace,
			Type:      string(svc.Spec.Type),
			ClusterIP: svc.Spec.ClusterIP,
			Ports: lo.Map(svc.Spec.Ports, func(port corev1.ServicePort, _ int) ServicePort {
				return ServicePort{Port: port.Port, TargetPort: port.TargetPort.String(), Protocol: string(port.Protocol)}
			}),
		}
	}), nil
}

type Logs struct {
	Pod       string `json:"pod" yaml:"pod"`
	Namespace string `json:"namespace" yaml:"namespace"`
	Container string `json:"container,omitempty" yaml:"container,omitempty"`
	Logs      string `json:"logs" yaml:"logs"`
	TailLines int64  `json:"tail_lines" yaml:"tail_lines"`
}

func (p *Plugin) logs(ctx context.Context, client kubernetes.Interface, opts plugin.Options) (*Logs, error) {
	pod, err := opts.RequireString("pod")
	if err != nil {
		return nil, err
	}
	ns := opts.GetString("namespace", defaultNamespace)
	tail := int64(opts.GetInt("tail", defaultTailLines))
	container := opts.GetString("container", "")

	data, err := client.CoreV1().Pods(ns).GetLogs(pod, &corev1.PodLogOptions{
		Container: container,
		TailLines: &tail,
	}).DoRaw(ctx)
	if err != nil {
		return nil, fmt.Errorf("get logs of %s/%s: %w", ns, pod, err)
	}
	return &Logs{Pod: pod, Namespace: ns, Container: container, Logs: string(data), TailLines: tail}, nil
}

type NodeCounts struct {
	Total int `json:"total" yaml:"total"`
	Ready int `json:"ready" yaml:"ready"`
}

type PodCounts struct {
	Total   int `json:"total" yaml:"total"`
	Running int `json:"running" yaml:"running"`
	Pending int `json:"pending" yaml:"pending"`
	Failed  int `json:"failed" yaml:"failed"`
}

type ClusterStatus struct {
	Nodes   NodeCounts `json:"nodes" yaml:"nodes"`
	Pods    PodCounts  `json:"pods" yaml:"pods"`
	Version string     `json:"version" yaml:"version"`
	Server  string     `json:"server,omitempty" yaml:"server,omitempty"`
}

func (p *Plugin) status(ctx context.Context, client kubernetes.Interface) (*ClusterStatus, error) {
	nodes, err := client.CoreV1().Nodes().List(ctx, metav1.ListOptions{})
	if err != nil {
		return nil, fmt.Errorf("list nodes: %w", err)
	}
	pods, err := client.CoreV1().Pods(metav1.NamespaceAll).List(ctx, metav1.ListOptions{})
	if err != nil {
		return nil, fmt.Errorf("list pods: %w", err)
	}

	st := &ClusterStatus{Server: p.host}
	st.Nodes.Total = len(nodes.Items)
	st.Nodes.Ready = lo.CountBy(nodes.Items, func(n corev1.Node) bool { return nodeReady(n) == string(corev1.ConditionTrue) })
	st.Pods.Total = len(pods.Items)
	st.Pods.Running = lo.CountBy(pods.Items, func(pod corev1.Pod) bool { return pod.Status.Phase == corev1.PodRunning })
	st.Pods.Pending = lo.CountBy(pods.Items, func(pod corev1.Pod) bool { return pod.Status.Phase == corev1.PodPending })
	st.Pods.Failed = lo.CountBy(pods.Items, func(pod corev1.Pod) bool { return pod.Status.Phase == corev1.PodFailed })

	if v, err := client.Discovery().ServerVersion(); err == nil {
		st.Version = v.GitVersion
	}
	return st, nil
}

func nodeReady(node corev1.Node) string {
	for _, c := range node.Status.Conditions {
		if c.Type == corev1.NodeReady {
			return string(c.Status)
		}
	}
	return "Unknown"
}

func resources(list corev1.ResourceList) map[string]string {
	out := make(map[string]string, len(list))
	for name, q := range list {
		out[string(name)] = q.String()
	}
	return out
}

func ageSeconds(t, now time.Time) float64 {
	if t.IsZero() {
		return 0
	}
	return now.Sub(t).Seconds()
}
