package docstore

import (
	"fmt"
	"time"

	natsserver "github.com/nats-io/nats-server/v2/server"
)

// EmbeddedConfig configures an in-process NATS server with JetStream, for
// single-box sites that have no separate broker.
type EmbeddedConfig struct {
	Host     string
	Port     int // -1 picks a random port
	StoreDir string
}

// StartEmbeddedNATS starts a JetStream-enabled NATS server and waits until it
// accepts connections. Callers own shutdown.
func StartEmbeddedNATS(cfg EmbeddedConfig) (*natsserver.Server, error) {
	host := cfg.Host
	if host == "" {
		host = "127.0.0.1"
	}
	opts := &natsserver.Options{
		Host:      host,
		Port:      cfg.Port,
		NoLog:     true,
		NoSigs:    true,
		JetStream: true,
		StoreDir:  cfg.StoreDir,
	}

	ns, err := natsserver.NewServer(opts)
	if err != nil {
		return nil, fmt.Errorf("creating embedded nats server: %w", err)
	}
	go ns.Start()

	if !ns.ReadyForConnections(10 * time.Second) {
		ns.Shutdown()
		return nil, fmt.Errorf("embedded nats server not ready")
	}
	return ns, nil
}
