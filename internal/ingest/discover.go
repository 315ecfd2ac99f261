package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/grandcat/zeroconf"
)

const (
	mdnsServiceType = "_mqtt._tcp"
	mdnsDomain      = "local."
	browseTimeout   = 5 * time.Second
)

// DiscoverBroker browses mDNS for an MQTT broker and returns its URL.
// Used when no broker address is configured.
func DiscoverBroker(ctx context.Context, logger *slog.Logger) (string, error) {
	resolver, err := zeroconf.NewResolver(nil)
	if err != nil {
		return "", fmt.Errorf("create mdns resolver: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, browseTimeout)
	defer cancel()

	entries := make(chan *zeroconf.ServiceEntry, 4)
	if err := resolver.Browse(ctx, mdnsServiceType, mdnsDomain, entries); err != nil {
		return "", fmt.Errorf("browse %s: %w", mdnsServiceType, err)
	}

	for entry := range entries {
		if len(entry.AddrIPv4) == 0 {
			continue
		}
		url := fmt.Sprintf("tcp://%s:%d", entry.AddrIPv4[0], entry.Port)
		logger.Info("discovered MQTT broker", "instance", entry.Instance, "url", url)
		return url, nil
	}

	return "", fmt.Errorf("no MQTT broker advertised via mDNS")
}
