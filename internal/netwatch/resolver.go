// Package netwatch watches the host's public address.
package netwatch

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os/exec"
	"strings"
	"time"

	"github.com/miekg/dns"
)

var ErrUnavailable = errors.New("public address unavailable")

type Resolver interface {
	PublicAddress(ctx context.Context) (string, error)
}

// DNSResolver asks a resolver that answers a well-known name with the client's address,
// myip.opendns.com at resolver1.opendns.com by default.
type DNSResolver struct {
	Server  string
	Name    string
	Timeout time.Duration
}

func (r DNSResolver) PublicAddress(ctx context.Context) (string, error) {
	server := r.Server
	if server == "" {
		server = "resolver1.opendns.com:53"
	}
	name := r.Name
	if name == "" {
		name = "myip.opendns.com"
	}
	timeout := r.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}

	m := new(dns.Msg)
	m.SetQuestion(dns.Fqdn(name), dns.TypeA)
	c := &dns.Client{Timeout: timeout}
	resp, _, err := c.ExchangeContext(ctx, m, server)
	if err != nil {
		return "", fmt.Errorf("%w: query %s: %v", ErrUnavailable, server, err)
	}
	if resp.Rcode != dns.RcodeSuccess {
		return "", fmt.Errorf("%w: %s answered %s", ErrUnavailable, server, dns.RcodeToString[resp.Rcode])
	}
	for _, rr := range resp.Answer {
		if a, ok := rr.(*dns.A); ok {
			return a.A.String(), nil
		}
	}
	return "", fmt.Errorf("%w: no A record from %s", ErrUnavailable, server)
}

// CommandResolver runs a command, e.g. curl against an echo service, and reads the address
// from its output.
type CommandResolver struct {
	Command []string
}

func (r CommandResolver) PublicAddress(ctx context.Context) (string, error) {
	if len(r.Command) == 0 {
		return "", fmt.Errorf("%w: no command", ErrUnavailable)
	}
	out, err := exec.CommandContext(ctx, r.Command[0], r.Command[1:]...).Output()
	if err != nil {
		return "", fmt.Errorf("%w: %s: %v", ErrUnavailable, r.Command[0], err)
	}
	addr := strings.TrimSpace(string(out))
	if net.ParseIP(addr) == nil {
		return "", fmt.Errorf("%w: %q is not an address", ErrUnavailable, addr)
	}
	return addr, nil
}
