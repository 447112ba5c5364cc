package main

import (
	"testing"

	"github.com/fyrsmithlabs/roomsync/internal/config"
	"github.com/fyrsmithlabs/roomsync/internal/docstore"
	"github.com/stretchr/testify/assert"
)

func TestStoreConfig(t *testing.T) {
	cfg := config.Default()
	cfg.Store.Driver = config.DriverRedis
	cfg.Store.Redis.Addr = "10.0.0.5:6379"
	cfg.Store.Redis.Password = config.Secret("hunter2")
	cfg.Store.Redis.DB = 2
	cfg.Store.NATS.Bucket = "rooms"

	got := storeConfig(cfg)
	assert.Equal(t, docstore.DriverRedis, got.Driver)
	assert.Equal(t, "10.0.0.5:6379", got.Redis.Addr)
	assert.Equal(t, "hunter2", got.Redis.Password)
	assert.Equal(t, 2, got.Redis.DB)
	assert.Equal(t, "rooms", got.NATS.Bucket)
}
