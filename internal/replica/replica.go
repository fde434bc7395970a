// Package replica picks a secondary member of a MongoDB replica set to take
// the dump from, so that the primary is not loaded by the backup.
package replica

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

// ErrNotReplicaSet is returned by Prober.Members when the host runs
// standalone or its replica set was never initiated.
var ErrNotReplicaSet = errors.New("replication is not configured")

type Prober interface {
	// Members lists the replica set member addresses in configuration order.
	Members(ctx context.Context, addr string) ([]string, error)
	// IsSecondary reports whether the member at addr is a secondary.
	IsSecondary(ctx context.Context, addr string) (bool, error)
}

// Select returns the address to dump from: the first member reporting
// itself as a secondary, or addr when there is none. Members are probed in
// listed order and probing stops at the first secondary. Any probe failure
// aborts the selection.
func Select(ctx context.Context, p Prober, addr string) (string, error) {
	slog.Info("Looking for a secondary member", "host", addr)

	members, err := p.Members(ctx, addr)
	if errors.Is(err, ErrNotReplicaSet) {
		slog.Info("Host is not part of a replica set, using it directly", "host", addr)
		return addr, nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to read replica set configuration from %s: %w", addr, err)
	}

	if len(members) > 1 {
		for _, member := range members {
			if ctx.Err() != nil {
				return "", ctx.Err()
			}

			secondary, err := p.IsSecondary(ctx, member)
			if err != nil {
				return "", fmt.Errorf("failed to query replica state of %s: %w", member, err)
			}
			slog.Debug("Probed replica set member", "member", member, "secondary", secondary)

			if secondary {
				slog.Info("Using secondary member as dump source", "member", member)
				return member, nil
			}
		}
	}

	slog.Warn("No secondary member found, falling back to the configured host", "host", addr, "members", len(members))
	return addr, nil
}
