package provider

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/hashicorp/consul/api"
)

// consulWaitTime is the longest a blocking query is held by the agent.
const consulWaitTime = 5 * time.Minute

// ConsulProvider reads config from a consul KV key and watches it with
// blocking queries.
type ConsulProvider struct {
	client *api.Client
	key    string
}

// NewConsulProvider creates a provider for the key opts.Path. The first
// endpoint is the agent address; the consul defaults apply otherwise.
func NewConsulProvider(opts ProviderConfig) (*ConsulProvider, error) {
	cfg := api.DefaultConfig()
	if len(opts.Endpoints) > 0 {
		cfg.Address = opts.Endpoints[0]
	}
	cfg.WaitTime = consulWaitTime

	client, err := api.NewClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create consul client: %w", err)
	}
	return &ConsulProvider{client: client, key: opts.Path}, nil
}

// Type returns TypeConsul.
func (p *ConsulProvider) Type() Type {
	return TypeConsul
}

// Load reads the value of the key.
func (p *ConsulProvider) Load(ctx context.Context) ([]byte, error) {
	pair, _, err := p.client.KV().Get(p.key, (&api.QueryOptions{}).WithContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("failed to read consul key %s: %w", p.key, err)
	}
	if pair == nil {
		return nil, fmt.Errorf("consul key %s not found", p.key)
	}
	return pair.Value, nil
}

// Watch signals every time the modify index of the key moves.
func (p *ConsulProvider) Watch(ctx context.Context) (<-chan struct{}, error) {
	ch := make(chan struct{}, 1)
	go p.watchLoop(ctx, ch)
	slog.Info("Watching consul key", "key", p.key)
	return ch, nil
}

func (p *ConsulProvider) watchLoop(ctx context.Context, ch chan<- struct{}) {
	defer close(ch)

	var index uint64
	for {
		opts := (&api.QueryOptions{WaitIndex: index, WaitTime: consulWaitTime}).WithContext(ctx)
		_, meta, err := p.client.KV().Get(p.key, opts)
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			slog.Warn("Consul watch failed", "key", p.key, "error", err)
			if !sleepCtx(ctx, time.Second) {
				return
			}
			continue
		}

		switch {
		case meta.LastIndex < index:
			// The index went backwards: the agent lost its state.
			index = 0
		case index != 0 && meta.LastIndex != index:
			notify(ch, TypeConsul, p.key)
			index = meta.LastIndex
		default:
			index = meta.LastIndex
		}
	}
}

// Close is a no-op; the consul client holds no connections of its own.
func (p *ConsulProvider) Close() error {
	return nil
}

var _ Provider = (*ConsulProvider)(nil)
