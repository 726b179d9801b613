package main

import (
	"net"
	"strings"
	"sync"
	"syscall"

	"github.com/coreos/go-systemd/v22/activation"
	"go.uber.org/zap"
)

// socket names expected in FileDescriptorName= of the systemd socket units
const (
	httpSocketName    = "http"
	monitorSocketName = "monitor"
)

var (
	activatedOnce sync.Once
	activated     map[string][]net.Listener
)

// activatedListener returns the listener passed by systemd socket activation
// for name, if any. The activation environment is consumed on first call.
func activatedListener(name string) net.Listener {
	activatedOnce.Do(func() {
		var err error
		activated, err = activation.ListenersWithNames()
		if err != nil {
			logger.Warn("systemd socket activation failed", zap.Error(err))
		}
	})
	if ls := activated[name]; len(ls) > 0 {
		return ls[0]
	}
	return nil
}

// newListener listens on addr, preferring a systemd activated socket. Host
// localhost listens on every loopback address so both 127.0.0.1 and ::1 work.
func newListener(name, addr string) (net.Listener, error) {
	if l := activatedListener(name); l != nil {
		return l, nil
	}
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return nil, err
	}
	if host != "localhost" {
		return net.Listen("tcp", addr)
	}
	iPort, err := net.LookupPort("tcp", port)
	if err != nil {
		return nil, err
	}
	ips, err := loopbackIPs()
	if err != nil {
		return nil, err
	}
	switch len(ips) {
	case 0:
		return net.Listen("tcp", addr)
	case 1:
		return net.ListenTCP("tcp", &net.TCPAddr{IP: ips[0], Port: iPort})
	}
	return newMultiListener(ips, iPort)
}

func loopbackIPs() ([]net.IP, error) {
	addrs, err := net.InterfaceAddrs()
	if err != nil {
		return nil, err
	}
	var rt []net.IP
	for _, addr := range addrs {
		if ip, ok := addr.(*net.IPNet); ok && ip.IP.IsLoopback() {
			rt = append(rt, ip.IP)
		}
	}
	return rt, nil
}

type acceptResult struct {
	conn net.Conn
	err  error
}

// multiListener merges the accept loops of several TCP listeners
type multiListener struct {
	listeners []*net.TCPListener
	conns     chan acceptResult
	done      chan struct{}
	closeOnce sync.Once
}

func newMultiListener(ips []net.IP, port int) (net.Listener, error) {
	ml := &multiListener{
		conns: make(chan acceptResult),
		done:  make(chan struct{}),
	}
	for _, ip := range ips {
		l, err := net.ListenTCP("tcp", &net.TCPAddr{IP: ip, Port: port})
		if err != nil {
			ml.Close()
			return nil, err
		}
		ml.listeners = append(ml.listeners, l)
	}
	for _, l := range ml.listeners {
		go ml.acceptLoop(l)
	}
	return ml, nil
}

func (ml *multiListener) acceptLoop(l *net.TCPListener) {
	for {
		conn, err := l.AcceptTCP()
		select {
		case ml.conns <- acceptResult{conn: conn, err: err}:
		case <-ml.done:
			if conn != nil {
				conn.Close()
			}
			return
		}
	}
}

func (ml *multiListener) Accept() (net.Conn, error) {
	select {
	case r := <-ml.conns:
		return r.conn, r.err
	case <-ml.done:
		return nil, syscall.EINVAL
	}
}

func (ml *multiListener) Close() error {
	ml.closeOnce.Do(func() {
		close(ml.done)
		for _, l := range ml.listeners {
			l.Close()
		}
	})
	return nil
}

func (ml *multiListener) Addr() net.Addr {
	return ml.listeners[0].Addr()
}

func printListener(lis net.Listener) string {
	ml, ok := lis.(*multiListener)
	if !ok {
		return lis.Addr().String()
	}
	addrs := make([]string, 0, len(ml.listeners))
	for _, l := range ml.listeners {
		addrs = append(addrs, l.Addr().String())
	}
	return strings.Join(addrs, ",")
}
