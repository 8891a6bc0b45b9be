package exchangeserver

import (
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vcwallet/walletkit/server"
)

func TestServerHandler(t *testing.T) {
	dir := t.TempDir()
	conf := &server.Configuration{
		URL:                  "https://exchange.example.com",
		WalletUIURL:          "https://wallet-ui.example.com",
		VerifierUIURL:        "https://verifier-ui.example.com",
		VerifierRegistryPath: filepath.Join(dir, "verifier.json"),
		WalletRegistryPath:   filepath.Join(dir, "wallet.json"),
		Quiet:                true,
	}
	s, err := New(conf)
	require.NoError(t, err)
	// Stop on a never-started server must release the stores without blocking
	defer s.Stop()

	handler := s.Handler()

	// verifier surface at the root
	recorder := httptest.NewRecorder()
	handler.ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, "/wallets/list", nil))
	assert.Equal(t, http.StatusOK, recorder.Code)

	// wallet surface under /siopv2
	recorder = httptest.NewRecorder()
	handler.ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, "/siopv2/issuer/list", nil))
	assert.Equal(t, http.StatusOK, recorder.Code)

	recorder = httptest.NewRecorder()
	handler.ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, "/auth", nil))
	assert.Equal(t, http.StatusForbidden, recorder.Code)
}

func TestServerRejectsBadConfiguration(t *testing.T) {
	_, err := New(&server.Configuration{Quiet: true})
	assert.Error(t, err)
}

func TestServerStartStop(t *testing.T) {
	listener, err := net.Listen("tcp", "localhost:0")
	require.NoError(t, err)
	port := listener.Addr().(*net.TCPAddr).Port
	require.NoError(t, listener.Close())

	dir := t.TempDir()
	conf := &server.Configuration{
		URL:                  "https://exchange.example.com",
		WalletUIURL:          "https://wallet-ui.example.com",
		VerifierUIURL:        "https://verifier-ui.example.com",
		VerifierRegistryPath: filepath.Join(dir, "verifier.json"),
		WalletRegistryPath:   filepath.Join(dir, "wallet.json"),
		ListenAddress:        "localhost",
		Port:                 port,
		Quiet:                true,
	}
	s, err := New(conf)
	require.NoError(t, err)

	started := make(chan error, 1)
	go func() { started <- s.Start() }()

	var status int
	require.Eventually(t, func() bool {
		resp, err := http.Get(fmt.Sprintf("http://localhost:%d/wallets/list", port))
		if err != nil {
			return false
		}
		_ = resp.Body.Close()
		status = resp.StatusCode
		return true
	}, time.Second, 10*time.Millisecond)
	assert.Equal(t, http.StatusOK, status)

	s.Stop()
	require.NoError(t, <-started)
}
