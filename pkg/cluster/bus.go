package cluster

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nats-io/nats.go"
)

// Kick tells a node to close a player's session because the player joined
// elsewhere.
type Kick struct {
	PlayerID string `json:"playerID"`
	FromNode string `json:"fromNode"`
	Reason   string `json:"reason"`
}

// KickBus carries kicks between nodes. Each node subscribes to its own
// inbox.
type KickBus interface {
	// Publish sends a kick to the target node's inbox.
	Publish(ctx context.Context, targetNode string, kick Kick) error

	// Subscribe installs the handler for this node's inbox and returns an
	// unsubscribe function.
	Subscribe(nodeID string, handler func(Kick)) (func() error, error)
}

const kickSubjectPrefix = "landkit.kick."

// NATSKickBus is the NATS-backed KickBus.
type NATSKickBus struct {
	nc *nats.Conn
}

// NewNATSKickBus wraps an established NATS connection.
func NewNATSKickBus(nc *nats.Conn) *NATSKickBus {
	return &NATSKickBus{nc: nc}
}

// ConnectNATS dials a NATS server and returns the bus over the connection.
func ConnectNATS(url string) (*NATSKickBus, error) {
	nc, err := nats.Connect(url, nats.Name("landkit-kick-bus"))
	if err != nil {
		return nil, fmt.Errorf("cluster: connecting to NATS: %w", err)
	}
	return &NATSKickBus{nc: nc}, nil
}

// Publish implements KickBus.
func (b *NATSKickBus) Publish(_ context.Context, targetNode string, kick Kick) error {
	data, err := json.Marshal(kick)
	if err != nil {
		return fmt.Errorf("cluster: encoding kick: %w", err)
	}
	if err := b.nc.Publish(kickSubjectPrefix+targetNode, data); err != nil {
		return fmt.Errorf("cluster: publishing kick: %w", err)
	}
	return nil
}

// Subscribe implements KickBus.
func (b *NATSKickBus) Subscribe(nodeID string, handler func(Kick)) (func() error, error) {
	sub, err := b.nc.Subscribe(kickSubjectPrefix+nodeID, func(msg *nats.Msg) {
		var kick Kick
		if err := json.Unmarshal(msg.Data, &kick); err != nil {
			return
		}
		handler(kick)
	})
	if err != nil {
		return nil, fmt.Errorf("cluster: subscribing to kick inbox: %w", err)
	}
	return sub.Unsubscribe, nil
}

// Close drains the underlying connection.
func (b *NATSKickBus) Close() {
	if b.nc != nil {
		b.nc.Close()
	}
}
