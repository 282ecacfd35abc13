package docker

import (
	"errors"
	"strings"
	"testing"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/mount"
	"github.com/docker/go-connections/nat"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reedfamily/mcwarden/internal/supervisor"
)

func TestParsePortMappings(t *testing.T) {
	got, err := ParsePortMappings([]string{"25565:25565", "19132:19132/udp"})
	require.NoError(t, err)
	assert.Equal(t, []PortMapping{
		{Host: "25565", Container: "25565", Protocol: "tcp"},
		{Host: "19132", Container: "19132", Protocol: "udp"},
	}, got)

	for _, bad := range []string{"25565", ":25565", "1:2/sctp"} {
		_, err := ParsePortMappings([]string{bad})
		assert.Error(t, err, bad)
	}
}

func TestBuildContainerConfig(t *testing.T) {
	ports, err := ParsePortMappings([]string{"25566:25565"})
	require.NoError(t, err)
	cfg := ContainerConfig{Image: "eclipse-temurin:17-jre", Ports: ports, MemoryLimit: 4 << 30, DataDir: DefaultDataDir}
	spec := supervisor.LaunchSpec{
		Path: "java",
		Args: []string{"-Xmx4G", "-jar", "server.jar", "nogui"},
		Dir:  "/srv/minecraft",
		Jar:  "/srv/minecraft/server.jar",
	}

	ctr, host := cfg.build(spec)
	assert.Equal(t, "eclipse-temurin:17-jre", ctr.Image)
	assert.Equal(t, []string{"java", "-Xmx4G", "-jar", "server.jar", "nogui"}, []string(ctr.Cmd))
	assert.Equal(t, "/data", ctr.WorkingDir)
	assert.True(t, ctr.OpenStdin)
	assert.False(t, ctr.Tty, "a tty would merge the streams and echo commands back")
	assert.Contains(t, ctr.ExposedPorts, nat.Port("25565/tcp"))

	assert.True(t, host.AutoRemove)
	assert.Equal(t, int64(4<<30), host.Memory)
	assert.Equal(t, []nat.PortBinding{{HostPort: "25566"}}, host.PortBindings[nat.Port("25565/tcp")])
	require.Len(t, host.Mounts, 1)
	assert.Equal(t, mount.Mount{Type: mount.TypeBind, Source: "/srv/minecraft", Target: "/data"}, host.Mounts[0])
}

func TestDecodeUsage(t *testing.T) {
	u, err := decodeUsage(strings.NewReader(`{
		"cpu_stats": {"cpu_usage": {"total_usage": 400}, "system_cpu_usage": 2000, "online_cpus": 2},
		"precpu_stats": {"cpu_usage": {"total_usage": 200}, "system_cpu_usage": 1000},
		"memory_stats": {"usage": 1048576, "limit": 4194304},
		"networks": {"eth0": {"rx_bytes": 10, "tx_bytes": 20}, "eth1": {"rx_bytes": 1, "tx_bytes": 2}}
	}`))
	require.NoError(t, err)
	assert.InDelta(t, 40.0, u.CPUPercent, 0.001)
	assert.Equal(t, int64(1048576), u.MemoryBytes)
	assert.Equal(t, int64(4194304), u.MemoryLimit)
	assert.Equal(t, int64(11), u.NetworkRx)
	assert.Equal(t, int64(22), u.NetworkTx)

	u, err = decodeUsage(strings.NewReader(`{"cpu_stats": {"cpu_usage": {"total_usage": 5}}}`))
	require.NoError(t, err)
	assert.Zero(t, u.CPUPercent)
}

func TestWaitResult(t *testing.T) {
	result := func(resp container.WaitResponse) error {
		ch := make(chan container.WaitResponse, 1)
		ch <- resp
		return waitResult(ch, make(chan error))
	}
	assert.NoError(t, result(container.WaitResponse{}))

	err := result(container.WaitResponse{StatusCode: 137})
	assert.Equal(t, 137, supervisor.ExitCode(err))

	err = result(container.WaitResponse{Error: &container.WaitExitError{Message: "oom"}})
	assert.ErrorContains(t, err, "oom")

	errCh := make(chan error, 1)
	errCh <- errors.New("daemon went away")
	err = waitResult(make(chan container.WaitResponse), errCh)
	assert.Equal(t, -1, supervisor.ExitCode(err))
}
