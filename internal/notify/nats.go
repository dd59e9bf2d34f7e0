package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nkeys"

	"github.com/doughall/backup-runner/internal/runner"
)

// NATSConfig holds NATS connection settings.
type NATSConfig struct {
	Servers  string // Comma-separated list of NATS server URLs
	NKeySeed string // NKey seed for authentication (starts with SU)
	Subject  string // Subject outcomes are published on
}

// NATS publishes run outcomes on a NATS subject.
// A connection is opened per report: runs are hours apart.
type NATS struct {
	config NATSConfig
	logger *slog.Logger
}

// NewNATS creates a NATS notifier.
func NewNATS(cfg NATSConfig, logger *slog.Logger) *NATS {
	return &NATS{
		config: cfg,
		logger: logger.With(slog.String("component", "nats")),
	}
}

// options builds connection options with NKey authentication.
func (n *NATS) options() ([]nats.Option, error) {
	kp, err := nkeys.FromSeed([]byte(n.config.NKeySeed))
	if err != nil {
		return nil, fmt.Errorf("invalid nkey seed: %w", err)
	}

	pubKey, err := kp.PublicKey()
	if err != nil {
		return nil, fmt.Errorf("failed to get public key: %w", err)
	}

	return []nats.Option{
		nats.Name("backup-runner"),
		nats.Nkey(pubKey, func(nonce []byte) ([]byte, error) {
			return kp.Sign(nonce)
		}),
		nats.Timeout(5 * time.Second),
		nats.MaxReconnects(0),
		nats.ErrorHandler(func(nc *nats.Conn, sub *nats.Subscription, err error) {
			n.logger.Error("NATS error", slog.String("error", err.Error()))
		}),
	}, nil
}

// Report implements runner.Reporter. It connects, publishes one message,
// flushes so the server has it before the runner exits, and disconnects.
func (n *NATS) Report(ctx context.Context, rec *runner.Record) error {
	opts, err := n.options()
	if err != nil {
		return err
	}

	env, err := NewEnvelope(rec)
	if err != nil {
		return err
	}
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}

	nc, err := nats.Connect(n.config.Servers, opts...)
	if err != nil {
		return fmt.Errorf("nats connect: %w", err)
	}
	defer nc.Close()

	if err := nc.Publish(n.config.Subject, data); err != nil {
		return fmt.Errorf("nats publish: %w", err)
	}
	if err := nc.FlushWithContext(ctx); err != nil {
		return fmt.Errorf("nats flush: %w", err)
	}

	n.logger.Debug("outcome published",
		slog.String("subject", n.config.Subject),
		slog.String("server", nc.ConnectedUrl()),
	)
	return nil
}
