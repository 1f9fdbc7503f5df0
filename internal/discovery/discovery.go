// Package discovery resolves the ordered peer address list the tcp
// transport backend needs at bring-up (SPEC_FULL.md §L). spec.md treats
// cluster bring-up as part of the external transport substrate (§1); this
// is that substrate's pluggable bring-up strategy.
package discovery

import (
	"context"
	"fmt"
	"strings"

	"github.com/caflang/pgasrt/internal/config"
)

// Strategy resolves the ordered list of "host:port" addresses, one per
// image, indexed by rank.
type Strategy interface {
	Resolve(ctx context.Context) ([]string, error)
}

// Static returns the config-provided peer list verbatim.
type Static struct {
	Peers []string
}

func (s Static) Resolve(context.Context) ([]string, error) {
	if len(s.Peers) == 0 {
		return nil, fmt.Errorf("discovery: static strategy configured with no peers")
	}
	return s.Peers, nil
}

// FromConfig builds the Strategy named by cfg.Discovery.
func FromConfig(cfg *config.Config) (Strategy, error) {
	switch cfg.Discovery {
	case "", "static":
		return Static{Peers: cfg.Peers}, nil
	case "k8s":
		return NewKubernetes(cfg.K8sNamespace, cfg.K8sService)
	default:
		return nil, fmt.Errorf("discovery: unknown strategy %q", cfg.Discovery)
	}
}

func joinAddr(host, port string) string {
	return strings.TrimSpace(host) + ":" + strings.TrimSpace(port)
}
