package netwatch

import (
	"context"
	"errors"
	"net"
	"runtime"
	"sync"
	"testing"
	"time"

	"github.com/miekg/dns"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reedfamily/mcwarden/internal/worker"
)

func startDNS(t *testing.T, handler dns.HandlerFunc) string {
	t.Helper()
	pc, err := net.ListenPacket("udp", "127.0.0.1:0")
	require.NoError(t, err)

	started := make(chan struct{})
	srv := &dns.Server{PacketConn: pc, Handler: handler, NotifyStartedFunc: func() { close(started) }}
	go func() { _ = srv.ActivateAndServe() }()
	t.Cleanup(func() { _ = srv.Shutdown() })

	select {
	case <-started:
	case <-time.After(5 * time.Second):
		t.Fatal("dns server did not start")
	}
	return pc.LocalAddr().String()
}

func TestDNSResolver(t *testing.T) {
	addr := startDNS(t, func(w dns.ResponseWriter, req *dns.Msg) {
		resp := new(dns.Msg)
		resp.SetReply(req)
		if req.Question[0].Name == "myip.opendns.com." {
			resp.Answer = append(resp.Answer, &dns.A{
				Hdr: dns.RR_Header{Name: req.Question[0].Name, Rrtype: dns.TypeA, Class: dns.ClassINET, Ttl: 0},
				A:   net.ParseIP("203.0.113.7").To4(),
			})
		} else {
			resp.Rcode = dns.RcodeNameError
		}
		_ = w.WriteMsg(resp)
	})

	got, err := DNSResolver{Server: addr}.PublicAddress(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "203.0.113.7", got)

	_, err = DNSResolver{Server: addr, Name: "elsewhere.example"}.PublicAddress(context.Background())
	assert.ErrorIs(t, err, ErrUnavailable)
	assert.Contains(t, err.Error(), "NXDOMAIN")
}

func TestDNSResolverNoAnswer(t *testing.T) {
	addr := startDNS(t, func(w dns.ResponseWriter, req *dns.Msg) {
		resp := new(dns.Msg)
		resp.SetReply(req)
		_ = w.WriteMsg(resp)
	})
	_, err := DNSResolver{Server: addr}.PublicAddress(context.Background())
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestCommandResolver(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("needs echo")
	}
	got, err := CommandResolver{Command: []string{"echo", " 198.51.100.4 "}}.PublicAddress(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "198.51.100.4", got)

	_, err = CommandResolver{Command: []string{"echo", "<html>oops</html>"}}.PublicAddress(context.Background())
	assert.ErrorIs(t, err, ErrUnavailable)

	_, err = CommandResolver{}.PublicAddress(context.Background())
	assert.ErrorIs(t, err, ErrUnavailable)
}

type sequence struct {
	mu      sync.Mutex
	answers []string
}

func (s *sequence) PublicAddress(context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.answers) == 0 {
		return "", ErrUnavailable
	}
	a := s.answers[0]
	s.answers = s.answers[1:]
	if a == "" {
		return "", errors.New("timeout")
	}
	return a, nil
}

func TestWatcherReportsChanges(t *testing.T) {
	res := &sequence{answers: []string{"10.0.0.1", "10.0.0.1", "", "10.0.0.2"}}
	var (
		mu      sync.Mutex
		changes [][2]string
	)
	w := NewWatcher(res, time.Hour, func(old, cur string) {
		mu.Lock()
		changes = append(changes, [2]string{old, cur})
		mu.Unlock()
	}, nil)

	ctx := context.Background()
	for i := 0; i < 4; i++ {
		w.Check(ctx)
	}
	assert.Equal(t, [][2]string{{"", "10.0.0.1"}, {"10.0.0.1", "10.0.0.2"}}, changes)
	cur, at := w.Current()
	assert.Equal(t, "10.0.0.2", cur)
	assert.False(t, at.IsZero())
}

func TestWatcherTask(t *testing.T) {
	res := &sequence{answers: []string{"10.0.0.1", "10.0.0.2", "10.0.0.2", "10.0.0.2"}}
	changed := make(chan string, 4)
	w := NewWatcher(res, 5*time.Millisecond, func(_, cur string) { changed <- cur }, nil)

	wk := worker.Started(w.Task())
	for _, want := range []string{"10.0.0.1", "10.0.0.2"} {
		select {
		case got := <-changed:
			assert.Equal(t, want, got)
		case <-time.After(5 * time.Second):
			t.Fatal("no change reported")
		}
	}
	require.NoError(t, wk.Interrupt())
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	assert.ErrorIs(t, wk.Wait(ctx), context.Canceled)
}
