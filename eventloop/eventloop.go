// Package eventloop runs the single-threaded UDP server: one
// net.PacketConn, one goroutine, a bounded read deadline so the timer
// sweep runs promptly, and synchronous per-datagram dispatch into the
// resolver. Keeping everything on one goroutine means the resolver's
// cache, query table, and zone store never need locking.
package eventloop

import (
	"errors"
	"fmt"
	"net"
	"os"
	"runtime/debug"
	"time"

	"github.com/miekg/dns"
	"github.com/semihalev/log"

	"github.com/Tvcz/dns-server/resolver"
	"github.com/Tvcz/dns-server/wire"
)

// Transport implements resolver.Transport over a bound UDP socket.
type Transport struct {
	conn net.PacketConn
}

// NewTransport wraps conn for the resolver to send through.
func NewTransport(conn net.PacketConn) *Transport {
	return &Transport{conn: conn}
}

// SendClient encodes and writes msg back to a client address.
func (t *Transport) SendClient(addr net.Addr, msg *dns.Msg) error {
	return t.send(addr, msg)
}

// SendUpstream encodes and writes msg to an upstream "ip:port" address.
func (t *Transport) SendUpstream(addr string, msg *dns.Msg) error {
	raddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return fmt.Errorf("eventloop: resolve upstream addr: %w", err)
	}
	return t.send(raddr, msg)
}

func (t *Transport) send(addr net.Addr, msg *dns.Msg) error {
	buf, err := wire.Encode(msg)
	if err != nil {
		return fmt.Errorf("eventloop: encode: %w", err)
	}

	_, err = t.conn.WriteTo(buf, addr)
	return err
}

// Loop owns the bound socket and drives the resolver to completion.
type Loop struct {
	conn         net.PacketConn
	resolver     *resolver.Resolver
	pollInterval time.Duration

	stop chan struct{}
}

// Bind opens the UDP socket at 0.0.0.0:port. port == 0 lets the OS
// choose one.
func Bind(port int) (net.PacketConn, error) {
	conn, err := net.ListenPacket("udp4", fmt.Sprintf("0.0.0.0:%d", port))
	if err != nil {
		return nil, fmt.Errorf("eventloop: bind: %w", err)
	}
	return conn, nil
}

// NewLoop builds a loop over an already-bound socket and a resolver
// constructed with a Transport wrapping that same socket. pollInterval is
// capped at 100ms.
func NewLoop(conn net.PacketConn, r *resolver.Resolver, pollInterval time.Duration) *Loop {
	if pollInterval > 100*time.Millisecond {
		pollInterval = 100 * time.Millisecond
	}

	return &Loop{
		conn:         conn,
		resolver:     r,
		pollInterval: pollInterval,
		stop:         make(chan struct{}),
	}
}

// LocalAddr returns the bound socket address, useful when port 0 let
// the OS pick one.
func (l *Loop) LocalAddr() net.Addr {
	return l.conn.LocalAddr()
}

// Stop signals Run to return after its current pass.
func (l *Loop) Stop() {
	close(l.stop)
}

// Run blocks, alternating between one read attempt (bounded by
// pollInterval) and a timer sweep, until Stop is called. Because
// pollInterval is at most 100ms, retransmits and timeouts are noticed
// promptly even when no datagrams are arriving.
func (l *Loop) Run() error {
	buf := make([]byte, wire.MaxDatagramSize)

	for {
		select {
		case <-l.stop:
			return l.conn.Close()
		default:
		}

		if err := l.conn.SetReadDeadline(time.Now().Add(l.pollInterval)); err != nil {
			return fmt.Errorf("eventloop: set deadline: %w", err)
		}

		n, addr, err := l.conn.ReadFrom(buf)
		switch {
		case err == nil:
			l.dispatch(buf[:n], addr)
		case isTimeout(err):
			// expected: no datagram arrived within the poll window
		default:
			return fmt.Errorf("eventloop: read: %w", err)
		}

		l.resolver.Sweep()
	}
}

func isTimeout(err error) bool {
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

// dispatch decodes one datagram and hands it to the resolver, recovering
// from any panic so one malformed or unexpected message never takes
// down the loop.
func (l *Loop) dispatch(buf []byte, addr net.Addr) {
	defer func() {
		if r := recover(); r != nil {
			log.Error("recovered in event loop dispatch", "recover", r)
			_, _ = os.Stderr.WriteString(fmt.Sprintf("panic: %v\n", r))
			debug.PrintStack()
		}
	}()

	msg, err := wire.Decode(buf)
	if err != nil {
		log.Debug("dropping malformed datagram", "from", addr, "error", err.Error())
		return
	}

	if msg.Response {
		l.resolver.HandleUpstream(msg, addr.String())
		return
	}

	l.resolver.HandleClient(msg, addr)
}
