package oxia

import (
	"os"
	"testing"

	"github.com/oxia-db/oxia/oxiad/dataserver"
)

// TestServer is an embedded Oxia standalone server for tests.
type TestServer struct {
	standalone *dataserver.Standalone
	addr       string
}

// Addr returns the service address of the test server.
func (s *TestServer) Addr() string {
	return s.addr
}

// Close shuts the embedded server down. It is a no-op for external servers.
func (s *TestServer) Close() error {
	if s.standalone == nil {
		return nil
	}
	return s.standalone.Close()
}

// StartTestServer returns a server for tests. When OXIA_SERVICE_ADDRESS is
// set the external server at that address is used; otherwise a standalone
// server is started in a temporary directory and closed via t.Cleanup.
func StartTestServer(t *testing.T) *TestServer {
	t.Helper()

	if addr := os.Getenv("OXIA_SERVICE_ADDRESS"); addr != "" {
		t.Logf("using external Oxia server at %s", addr)
		return &TestServer{addr: addr}
	}

	standalone, err := dataserver.NewStandalone(dataserver.NewTestConfig(t.TempDir()))
	if err != nil {
		t.Fatalf("failed to start Oxia standalone server: %v", err)
	}
	server := &TestServer{standalone: standalone, addr: standalone.ServiceAddr()}
	t.Cleanup(func() { _ = server.Close() })

	t.Logf("started embedded Oxia server at %s", server.addr)
	return server
}
