package docstore

import (
	"context"
	"fmt"
	"time"

	natsserver "github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
)

// Drivers accepted by Open.
const (
	DriverMemory = driverMemory
	DriverNATS   = driverNATS
	DriverRedis  = driverRedis
)

// Config selects and configures a store driver.
type Config struct {
	Driver string
	NATS   NATSConfig
	Redis  RedisConfig
}

// NATSConfig configures the JetStream driver.
type NATSConfig struct {
	URL    string
	Bucket string
	// Embedded starts an in-process server instead of dialing URL.
	Embedded bool
	Host     string
	Port     int
	StoreDir string
}

// Open creates the configured store.
func Open(ctx context.Context, cfg Config) (Store, error) {
	switch cfg.Driver {
	case "", DriverMemory:
		return NewMemoryStore(), nil
	case DriverRedis:
		return DialRedis(ctx, cfg.Redis)
	case DriverNATS:
		return openNATS(cfg.NATS)
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Driver)
	}
}

func openNATS(cfg NATSConfig) (Store, error) {
	kvCfg := KVConfig{Bucket: cfg.Bucket}
	opts := []nats.Option{
		nats.Name("roomsync"),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(time.Second),
	}

	if !cfg.Embedded {
		return DialKV(cfg.URL, kvCfg, opts...)
	}

	ns, err := StartEmbeddedNATS(EmbeddedConfig{Host: cfg.Host, Port: cfg.Port, StoreDir: cfg.StoreDir})
	if err != nil {
		return nil, err
	}
	kv, err := DialKV(ns.ClientURL(), kvCfg, opts...)
	if err != nil {
		ns.Shutdown()
		return nil, err
	}
	return &embeddedKVStore{KVStore: kv, server: ns}, nil
}

// embeddedKVStore stops its in-process server on Close.
type embeddedKVStore struct {
	*KVStore
	server *natsserver.Server
}

func (e *embeddedKVStore) Close() error {
	err := e.KVStore.Close()
	e.server.Shutdown()
	e.server.WaitForShutdown()
	return err
}
