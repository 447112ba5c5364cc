package docstore

import (
	"context"
	"testing"
	"time"

	natsserver "github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startTestNATSServer(t *testing.T) *natsserver.Server {
	ns, err := StartEmbeddedNATS(EmbeddedConfig{Port: -1, StoreDir: t.TempDir()})
	require.NoError(t, err)

	t.Cleanup(func() {
		ns.Shutdown()
		ns.WaitForShutdown()
	})
	return ns
}

func TestKVStore(t *testing.T) {
	ns := startTestNATSServer(t)
	bucket := 0

	runStoreContract(t, func(t *testing.T) Store {
		bucket++
		s, err := DialKV(ns.ClientURL(), KVConfig{Bucket: "roomsync_test_" + string(rune('a'+bucket))})
		require.NoError(t, err)
		t.Cleanup(func() { s.Close() })
		return s
	})
}

func TestKVStore_ReopensExistingBucket(t *testing.T) {
	ns := startTestNATSServer(t)
	ctx := context.Background()

	nc, err := nats.Connect(ns.ClientURL())
	require.NoError(t, err)
	defer nc.Close()

	first, err := NewKVStore(nc, KVConfig{Bucket: "shared"})
	require.NoError(t, err)
	_, err = first.Write(ctx, "roster", []byte(`{"rooms":{}}`), false)
	require.NoError(t, err)

	second, err := NewKVStore(nc, KVConfig{Bucket: "shared"})
	require.NoError(t, err)
	doc, err := second.Read(ctx, "roster")
	require.NoError(t, err)
	assert.JSONEq(t, `{"rooms":{}}`, string(doc.Data))
	assert.WithinDuration(t, time.Now(), doc.UpdatedAt, time.Minute)
}

func TestNewKVStore_Validation(t *testing.T) {
	_, err := NewKVStore(nil, KVConfig{Bucket: "x"})
	assert.Error(t, err)

	ns := startTestNATSServer(t)
	nc, err := nats.Connect(ns.ClientURL())
	require.NoError(t, err)
	defer nc.Close()

	_, err = NewKVStore(nc, KVConfig{})
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "bucket name is required")
}

func TestOpen_EmbeddedNATS(t *testing.T) {
	ctx := context.Background()
	s, err := Open(ctx, Config{
		Driver: DriverNATS,
		NATS:   NATSConfig{Embedded: true, Port: -1, Bucket: "embedded", StoreDir: t.TempDir()},
	})
	require.NoError(t, err)
	defer s.Close()

	_, err = s.Write(ctx, "notes", []byte(`{"text":"hello"}`), false)
	require.NoError(t, err)
	doc, err := s.Read(ctx, "notes")
	require.NoError(t, err)
	assert.JSONEq(t, `{"text":"hello"}`, string(doc.Data))
}
