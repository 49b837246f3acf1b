package k8s

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"

	v1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"
	"k8s.io/client-go/util/homedir"
	metrics "k8s.io/metrics/pkg/client/clientset/versioned"
)

// PodUsage is the summed container usage of one pod.
type PodUsage struct {
	CPUMillicores int64 `json:"cpuMillicores"`
	MemoryBytes   int64 `json:"memoryBytes"`
}

type Client struct {
	kube    kubernetes.Interface
	metrics metrics.Interface
}

func NewClient(config *rest.Config) (*Client, error) {
	clientset, err := kubernetes.NewForConfig(config)
	if err != nil {
		return nil, err
	}
	metricsClient, err := metrics.NewForConfig(config)
	if err != nil {
		return nil, err
	}
	return NewClientWithClients(clientset, metricsClient), nil
}

func NewClientWithClients(kube kubernetes.Interface, metricsClient metrics.Interface) *Client {
	return &Client{kube: kube, metrics: metricsClient}
}

// PodsForDeployment lists the running pods matched by the deployment's selector, sorted by name.
func (c *Client) PodsForDeployment(ctx context.Context, namespace, deployment string) ([]v1.Pod, error) {
	dep, err := c.kube.AppsV1().Deployments(namespace).Get(ctx, deployment, metav1.GetOptions{})
	if err != nil {
		return nil, fmt.Errorf("get deployment %s/%s: %w", namespace, deployment, err)
	}
	selector, err := metav1.LabelSelectorAsSelector(dep.Spec.Selector)
	if err != nil {
		return nil, fmt.Errorf("deployment %s/%s selector: %w", namespace, deployment, err)
	}
	pods, err := c.kube.CoreV1().Pods(namespace).List(ctx, metav1.ListOptions{LabelSelector: selector.String()})
	if err != nil {
		return nil, err
	}

	running := make([]v1.Pod, 0, len(pods.Items))
	for _, pod := range pods.Items {
		if pod.Status.Phase == v1.PodRunning {
			running = append(running, pod)
		}
	}
	sort.Slice(running, func(i, j int) bool { return running[i].Name < running[j].Name })
	return running, nil
}

// PodResourceUsage reads metrics.k8s.io usage for each named pod.
func (c *Client) PodResourceUsage(ctx context.Context, namespace string, names []string) (map[string]PodUsage, error) {
	podMetricses := c.metrics.MetricsV1beta1().PodMetricses(namespace)
	usage := make(map[string]PodUsage, len(names))
	for _, name := range names {
		podMetrics, err := podMetricses.Get(ctx, name, metav1.GetOptions{})
		if err != nil {
			return nil, fmt.Errorf("get metrics for pod %s/%s: %w", namespace, name, err)
		}
		var total PodUsage
		for _, container := range podMetrics.Containers {
			if cpu, ok := container.Usage[v1.ResourceCPU]; ok {
				total.CPUMillicores += cpu.MilliValue()
			}
			if mem, ok := container.Usage[v1.ResourceMemory]; ok {
				total.MemoryBytes += mem.Value()
			}
		}
		usage[name] = total
	}
	return usage, nil
}

func InitInCluster() (*rest.Config, error) {
	return rest.InClusterConfig()
}

// InitOffCluster loads kubeconfig, defaulting to ~/.kube/config.
func InitOffCluster(kubeconfig string) (*rest.Config, error) {
	if kubeconfig == "" {
		kubeconfig = filepath.Join(homedir.HomeDir(), ".kube", "config")
	}
	return clientcmd.BuildConfigFromFlags("", kubeconfig)
}
