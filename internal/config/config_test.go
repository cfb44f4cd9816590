package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "svcport.yml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoad_Full(t *testing.T) {
	path := writeConfig(t, `
logger:
  level: debug
  pattern: "%time [%level] %msg\n"
  time: "15:04:05"
port:
  id: 2
  device: eth1
  driver: afpacket
engine:
  backoff: 20ms
services:
  arp:
    - src_ip: 192.168.1.10
      src_mac: "aa:bb:cc:dd:ee:01"
      dst_ip: 192.168.1.1
      timeout: 2s
  ping:
    - src_ip: 192.168.1.10
      src_mac: "aa:bb:cc:dd:ee:01"
      dst_ip: 192.168.1.1
      dst_mac: "aa:bb:cc:dd:ee:02"
      count: 2
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 2, cfg.Port.ID)
	assert.Equal(t, "eth1", cfg.Port.Device)
	assert.Equal(t, "afpacket", cfg.Port.Driver)
	assert.Equal(t, 20*time.Millisecond, cfg.Engine.Backoff)
	assert.Equal(t, "debug", cfg.Logger.Level)

	require.Len(t, cfg.Services.ARP, 1)
	assert.Equal(t, 2*time.Second, cfg.Services.ARP[0].Timeout)
	assert.Equal(t, 3, cfg.Services.ARP[0].Retries) // default

	require.Len(t, cfg.Services.Ping, 1)
	assert.Equal(t, 2, cfg.Services.Ping[0].Count)
	assert.Equal(t, time.Second, cfg.Services.Ping[0].Interval) // default
	assert.Equal(t, 56, cfg.Services.Ping[0].PayloadSize)       // default
}

func TestLoad_Defaults(t *testing.T) {
	path := writeConfig(t, "port:\n  id: 0\n")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "stub", cfg.Port.Driver)
	assert.Equal(t, 50*time.Millisecond, cfg.Engine.Backoff)
	assert.Equal(t, 65535, cfg.Port.SnapLen)
	assert.NotNil(t, cfg.Logger)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yml"))
	assert.Error(t, err)
}

func TestValidate_BadDriver(t *testing.T) {
	cfg := Default()
	cfg.Port.Driver = "dpdk"
	assert.ErrorContains(t, cfg.Validate(), "port.driver")
}

func TestValidate_AFPacketNeedsDevice(t *testing.T) {
	cfg := Default()
	cfg.Port.Driver = "afpacket"
	assert.ErrorContains(t, cfg.Validate(), "port.device")
}

func TestValidate_BadAddresses(t *testing.T) {
	cfg := Default()
	cfg.Services.ARP = []ARPConfig{{
		SrcIP:  "not-an-ip",
		SrcMAC: "aa:bb:cc:dd:ee:01",
		DstIP:  "192.168.1.1",
	}}
	assert.ErrorContains(t, cfg.Validate(), "src_ip")
}

func TestValidate_PingCountBounds(t *testing.T) {
	cfg := Default()
	cfg.Services.Ping = []PingConfig{{
		SrcIP:  "192.168.1.1",
		SrcMAC: "aa:bb:cc:dd:ee:01",
		DstIP:  "192.168.1.2",
		DstMAC: "aa:bb:cc:dd:ee:02",
		Count:  65536,
	}}
	assert.ErrorContains(t, cfg.Validate(), "count")

	cfg.Services.Ping[0].Count = 65535
	assert.NoError(t, cfg.Validate())
}

func TestDump_RoundTrips(t *testing.T) {
	out, err := Default().Dump()
	require.NoError(t, err)
	assert.Contains(t, out, "driver: stub")
	assert.Contains(t, out, "backoff:")
}
