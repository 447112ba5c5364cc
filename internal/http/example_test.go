package http_test

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"time"

	"github.com/fyrsmithlabs/roomsync/internal/device"
	"github.com/fyrsmithlabs/roomsync/internal/docstore"
	httpserver "github.com/fyrsmithlabs/roomsync/internal/http"
	"github.com/fyrsmithlabs/roomsync/internal/logging"
)

// ExampleServer demonstrates serving one device session over HTTP.
func ExampleServer() {
	session, err := device.New(docstore.NewMemoryStore(), device.DefaultConfig("front-desk"))
	if err != nil {
		panic(err)
	}
	if err := session.Start(context.Background()); err != nil {
		panic(err)
	}
	defer session.Close()

	for !session.Loaded() {
		time.Sleep(5 * time.Millisecond)
	}

	server, err := httpserver.NewServer(session, logging.Nop(), nil)
	if err != nil {
		panic(err)
	}

	rec := httptest.NewRecorder()
	server.Echo().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/rooms/602", nil))
	fmt.Println(rec.Code)
	// Output: 200
}
