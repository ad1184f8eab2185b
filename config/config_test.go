package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/gopherlab/vnet/config"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "cfg.yaml")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))
	return path
}

func TestLoadParsesInterfacesAndRoutes(t *testing.T) {
	path := writeFile(t, `
interfaces:
  - name: eth0
    ip: 10.0.0.1
    mac: 02:00:00:00:00:01
routes:
  - network: 10.0.1.0/24
    next_hop: 10.0.0.254
    iface: eth0
metrics_addr: :9100
`)

	cfg, err := config.Load(path)
	require.NoError(t, err)
	require.Len(t, cfg.Interfaces, 1)
	require.Equal(t, "eth0", cfg.Interfaces[0].Name)
	require.Len(t, cfg.Routes, 1)
	require.Equal(t, ":9100", cfg.MetricsAddr)
}

func TestLoadRejectsEmptyInterfaceList(t *testing.T) {
	path := writeFile(t, "routes: []\n")
	_, err := config.Load(path)
	require.Error(t, err)
}

func TestLoadCtcpdAppliesDefaults(t *testing.T) {
	path := writeFile(t, "listen_iface: eth0\n")

	cfg, err := config.LoadCtcpd(path)
	require.NoError(t, err)
	require.Equal(t, "fixed", cfg.Congestion)
	require.Equal(t, 1000, cfg.RTTimeoutMS)
}

func TestLoadCtcpdPreservesExplicitValues(t *testing.T) {
	path := writeFile(t, "congestion: bbr\nrt_timeout_ms: 250\n")

	cfg, err := config.LoadCtcpd(path)
	require.NoError(t, err)
	require.Equal(t, "bbr", cfg.Congestion)
	require.Equal(t, 250, cfg.RTTimeoutMS)
}
