package discovery

import (
	"context"
	"fmt"
	"sort"
	"strconv"

	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
)

// Kubernetes resolves peer addresses from a headless Service's
// Endpoints: every subset address is one image, ranked by pod IP so
// every image derives the same ordering independently (spec §3's fixed,
// once-assigned rank). Grounded on client-go's typed Endpoints lookup,
// the idiomatic way a Go service discovers its peers on Kubernetes.
type Kubernetes struct {
	namespace, service string
	clientset          kubernetes.Interface
}

// NewKubernetes builds the in-cluster client. Construction fails fast if
// the process isn't actually running inside a pod with a service
// account (rest.InClusterConfig's usual failure mode).
func NewKubernetes(namespace, service string) (*Kubernetes, error) {
	if namespace == "" || service == "" {
		return nil, fmt.Errorf("discovery: k8s strategy requires both namespace and service")
	}
	restCfg, err := rest.InClusterConfig()
	if err != nil {
		return nil, fmt.Errorf("discovery: building in-cluster config: %w", err)
	}
	cs, err := kubernetes.NewForConfig(restCfg)
	if err != nil {
		return nil, fmt.Errorf("discovery: building clientset: %w", err)
	}
	return &Kubernetes{namespace: namespace, service: service, clientset: cs}, nil
}

func (k *Kubernetes) Resolve(ctx context.Context) ([]string, error) {
	ep, err := k.clientset.CoreV1().Endpoints(k.namespace).Get(ctx, k.service, metav1.GetOptions{})
	if err != nil {
		return nil, fmt.Errorf("discovery: getting endpoints %s/%s: %w", k.namespace, k.service, err)
	}

	type peer struct {
		ip   string
		port int32
	}
	var peers []peer
	for _, subset := range ep.Subsets {
		port := choosePort(subset.Ports)
		for _, addr := range subset.Addresses {
			peers = append(peers, peer{ip: addr.IP, port: port})
		}
	}
	if len(peers) == 0 {
		return nil, fmt.Errorf("discovery: endpoints %s/%s has no ready addresses", k.namespace, k.service)
	}
	sort.Slice(peers, func(i, j int) bool { return peers[i].ip < peers[j].ip })

	addrs := make([]string, len(peers))
	for i, p := range peers {
		addrs[i] = joinAddr(p.ip, strconv.Itoa(int(p.port)))
	}
	return addrs, nil
}

func choosePort(ports []corev1.EndpointPort) int32 {
	for _, p := range ports {
		if p.Name == "pgasrt" || p.Name == "" {
			return p.Port
		}
	}
	if len(ports) > 0 {
		return ports[0].Port
	}
	return 0
}
