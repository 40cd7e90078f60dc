package server

import (
	"net"
	"net/http"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/iselt/voice-relay/common"
)

func TestServer_ConcurrentClientsLoad(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping load test in short mode")
	}

	const numClients = 20

	s := newTestServer(t, testConfig())
	peers := make([]*peer, numClients)
	sounds := make([][]byte, numClients)
	handshakes := make([][]byte, numClients)
	for i := range peers {
		peers[i] = newPeer(t)
		handshakes[i] = peers[i].encode(common.NewHandshakeRequest("peer"))
		sounds[i] = peers[i].encode(common.NewSound(0, constant(0.001*float64(i))))
	}

	var wg sync.WaitGroup
	for i, p := range peers {
		i, p := i, p
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.handleDatagram(p.addr(), handshakes[i])
			s.handleDatagram(p.addr(), sounds[i])
		}()
	}
	wg.Wait()

	require.Equal(t, numClients, s.Registry.Len())
	for _, p := range peers {
		require.Equal(t, common.PacketHandshake, p.read().Type)
	}

	assert.Equal(t, numClients, s.mixOnce())

	var total float64
	for i := range peers {
		total += 0.001 * float64(i)
	}
	for i, p := range peers {
		body, ok := p.read().Sound()
		require.True(t, ok)
		want := (total - 0.001*float64(i)) * 2 / 3
		assert.InDelta(t, want, body.Samples.Samples[0], 1e-5)
	}
}

func TestAPIServer_ConcurrentRequests(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping load test in short mode")
	}

	const (
		numGoroutines        = 10
		requestsPerGoroutine = 50
	)

	s := newTestServer(t, testConfig())
	newPeer(t).join(s, "alice")
	handler := NewAPIServer(s).Handler()

	var wg sync.WaitGroup
	var mu sync.Mutex
	var successCount int
	for i := 0; i < numGoroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < requestsPerGoroutine; j++ {
				path := "/metrics"
				if j%2 == 0 {
					path = "/api/v1/clients"
				}
				rec := doRequest(t, handler, http.MethodGet, path)
				if rec.Code == http.StatusOK {
					mu.Lock()
					successCount++
					mu.Unlock()
				}
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, numGoroutines*requestsPerGoroutine, successCount)
}

func BenchmarkServer_MixOnce(b *testing.B) {
	s, err := New(testConfig(), zap.NewNop())
	require.NoError(b, err)
	defer s.Close()

	const numClients = 8
	addrs := make([]*net.UDPAddr, numClients)
	for i := range addrs {
		addrs[i] = udpAddr(40000 + i)
		s.Registry.Dispatch(addrs[i], common.NewHandshakeRequest("bench"), 0)
	}

	b.ResetTimer()
	for n := 0; n < b.N; n++ {
		for _, addr := range addrs {
			s.Registry.Dispatch(addr, common.NewSound(uint32(n), constant(0.01)), 0)
		}
		s.mixOnce()
	}
}
