package p2p

import (
	"context"
	"fmt"

	libp2p "github.com/libp2p/go-libp2p"
	pubsub "github.com/libp2p/go-libp2p-pubsub"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/peer"
	ma "github.com/multiformats/go-multiaddr"
	"go.uber.org/zap"
)

const topicTx = "tpsl-tx"

// TxHandler receives a raw transaction gossiped by another peer.
type TxHandler func(raw []byte) error

// Gossip relays raw transactions between nodes over a gossipsub topic.
type Gossip struct {
	h     host.Host
	ps    *pubsub.PubSub
	log   *zap.SugaredLogger
	topic *pubsub.Topic
	sub   *pubsub.Subscription
	onTx  TxHandler
}

type Config struct {
	ListenAddr string
	Bootstrap  []string
	Logger     *zap.SugaredLogger
	// Validate rejects a message before it is delivered or forwarded.
	Validate func(raw []byte) error
}

func NewGossip(ctx context.Context, cfg Config, onTx TxHandler) (*Gossip, error) {
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop().Sugar()
	}

	var opts []libp2p.Option
	if cfg.ListenAddr != "" {
		maddr, err := ma.NewMultiaddr(cfg.ListenAddr)
		if err != nil {
			return nil, err
		}
		opts = append(opts, libp2p.ListenAddrs(maddr))
	}
	h, err := libp2p.New(opts...)
	if err != nil {
		return nil, err
	}
	ps, err := pubsub.NewGossipSub(ctx, h)
	if err != nil {
		h.Close()
		return nil, err
	}

	g := &Gossip{h: h, ps: ps, log: log, onTx: onTx}

	if cfg.Validate != nil {
		validate := cfg.Validate
		err := ps.RegisterTopicValidator(topicTx, func(_ context.Context, _ peer.ID, msg *pubsub.Message) bool {
			return validate(msg.Data) == nil
		})
		if err != nil {
			h.Close()
			return nil, err
		}
	}
	if g.topic, err = ps.Join(topicTx); err != nil {
		h.Close()
		return nil, err
	}
	if g.sub, err = g.topic.Subscribe(); err != nil {
		h.Close()
		return nil, err
	}

	for _, bs := range cfg.Bootstrap {
		if err := connectMultiaddr(ctx, h, bs); err != nil {
			log.Warnw("bootstrap_connect_failed", "addr", bs, "err", err)
		}
	}

	go g.handleTxs(ctx)

	log.Infow("libp2p_ready", "peer", h.ID().String(), "listen", cfg.ListenAddr)
	return g, nil
}

func connectMultiaddr(ctx context.Context, h host.Host, addr string) error {
	m, err := ma.NewMultiaddr(addr)
	if err != nil {
		return err
	}
	info, err := peer.AddrInfoFromP2pAddr(m)
	if err != nil {
		return err
	}
	return h.Connect(ctx, *info)
}

func (g *Gossip) Host() host.Host { return g.h }

// Addrs returns dialable multiaddrs including the /p2p/<id> suffix.
func (g *Gossip) Addrs() []string {
	out := make([]string, 0, len(g.h.Addrs()))
	for _, a := range g.h.Addrs() {
		out = append(out, fmt.Sprintf("%s/p2p/%s", a, g.h.ID()))
	}
	return out
}

// Broadcast publishes a raw transaction to every subscribed peer.
func (g *Gossip) Broadcast(ctx context.Context, raw []byte) error {
	return g.topic.Publish(ctx, raw)
}

func (g *Gossip) Close() error {
	g.sub.Cancel()
	return g.h.Close()
}

// inbound

func (g *Gossip) handleTxs(ctx context.Context) {
	self := g.h.ID()
	for {
		msg, err := g.sub.Next(ctx)
		if err != nil {
			return
		}
		if msg.ReceivedFrom == self {
			continue
		}
		if err := g.onTx(msg.Data); err != nil {
			g.log.Debugw("gossip_tx_dropped", "from", msg.ReceivedFrom.String(), "err", err)
		}
	}
}
