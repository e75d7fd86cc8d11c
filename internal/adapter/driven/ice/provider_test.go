package ice_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/Decode-Labs-Web3/dehive-call/internal/adapter/driven/ice"
)

func TestFetchDecodesStringAndArrayURLs(t *testing.T) {
	assert := assert.New(t)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"iceServers":[
			{"urls":"stun:stun.example.org:3478"},
			{"urls":["turn:turn.example.org:3478?transport=udp","turn:turn.example.org:443"],"username":"u","credential":"c"}
		]}`))
	}))
	defer srv.Close()

	p := ice.NewProvider(srv.URL)
	servers, err := p.Fetch(context.Background())
	assert.NoError(err)
	assert.Len(servers, 2)
	assert.Equal([]string{"stun:stun.example.org:3478"}, servers[0].URLs)
	assert.Len(servers[1].URLs, 2)
	assert.Equal("u", servers[1].Username)
	assert.Equal("c", servers[1].Credential)
}

func TestFetchFallsBackToCacheOnFailure(t *testing.T) {
	assert := assert.New(t)

	var fail atomic.Bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if fail.Load() {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.Write([]byte(`{"iceServers":[{"urls":"stun:stun.example.org:3478"}]}`))
	}))
	defer srv.Close()

	p := ice.NewProvider(srv.URL)

	servers, err := p.Fetch(context.Background())
	assert.NoError(err)
	assert.Len(servers, 1)

	fail.Store(true)
	servers, err = p.Fetch(context.Background())
	assert.NoError(err)
	assert.Len(servers, 1, "cached result should survive endpoint failure")
}

func TestFetchWithoutCacheReturnsError(t *testing.T) {
	assert := assert.New(t)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	p := ice.NewProvider(srv.URL)
	servers, err := p.Fetch(context.Background())
	assert.Error(err)
	assert.Empty(servers)
}
