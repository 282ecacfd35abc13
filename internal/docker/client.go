// Package docker runs the server inside a JRE container instead of as a child process.
package docker

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/client"
	"github.com/docker/docker/errdefs"
	"github.com/docker/go-connections/nat"
	"go.uber.org/zap"
)

type Client struct {
	cli *client.Client
}

type PortMapping struct {
	Host      string `json:"host"`
	Container string `json:"container"`
	Protocol  string `json:"protocol"`
}

func (p PortMapping) port() nat.Port {
	proto := p.Protocol
	if proto == "" {
		proto = "tcp"
	}
	return nat.Port(p.Container + "/" + proto)
}

func NewClient() (*Client, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("docker client: %w", err)
	}
	return &Client{cli: cli}, nil
}

func (c *Client) Close() error {
	return c.cli.Close()
}

// EnsureImage pulls ref unless it is already present locally.
func (c *Client) EnsureImage(ctx context.Context, ref string, log *zap.SugaredLogger) error {
	_, _, err := c.cli.ImageInspectWithRaw(ctx, ref)
	if err == nil {
		return nil
	}
	if !errdefs.IsNotFound(err) {
		return fmt.Errorf("inspect image %s: %w", ref, err)
	}
	log.Infow("pulling image", "image", ref)
	reader, err := c.cli.ImagePull(ctx, ref, image.PullOptions{})
	if err != nil {
		return fmt.Errorf("pull image: %w", err)
	}
	defer reader.Close()
	_, err = io.Copy(io.Discard, reader)
	return err
}

// Kill sends SIGKILL. A container that is already gone is not an error.
func (c *Client) Kill(ctx context.Context, id string) error {
	err := c.cli.ContainerKill(ctx, id, "KILL")
	if err != nil && (errdefs.IsNotFound(err) || errdefs.IsConflict(err)) {
		return nil
	}
	return err
}

// Usage returns one resource usage sample for container id.
func (c *Client) Usage(ctx context.Context, id string) (Usage, error) {
	resp, err := c.cli.ContainerStats(ctx, id, false)
	if err != nil {
		return Usage{}, err
	}
	defer resp.Body.Close()
	return decodeUsage(resp.Body)
}

// ParsePortMappings parses port strings like "25565:25565/tcp".
func ParsePortMappings(ports []string) ([]PortMapping, error) {
	result := make([]PortMapping, 0, len(ports))
	for _, p := range ports {
		proto := "tcp"
		if idx := strings.Index(p, "/"); idx != -1 {
			proto = p[idx+1:]
			p = p[:idx]
		}
		host, ctr, ok := strings.Cut(p, ":")
		if !ok || host == "" || ctr == "" {
			return nil, fmt.Errorf("port %q is not host:container", p)
		}
		if proto != "tcp" && proto != "udp" {
			return nil, fmt.Errorf("port %q: unknown protocol %q", p, proto)
		}
		result = append(result, PortMapping{Host: host, Container: ctr, Protocol: proto})
	}
	return result, nil
}

func portBindings(ports []PortMapping) (nat.PortSet, nat.PortMap) {
	exposed := nat.PortSet{}
	bindings := nat.PortMap{}
	for _, p := range ports {
		port := p.port()
		exposed[port] = struct{}{}
		bindings[port] = append(bindings[port], nat.PortBinding{HostPort: p.Host})
	}
	return exposed, bindings
}
