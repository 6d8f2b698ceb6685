// Package ssdp implements the per-interface multicast SSDP listener and
// NOTIFY announcer: the subset of the Simple Service Discovery Protocol that
// real-world DLNA control points and renderers rely on.
package ssdp

import (
	"context"
	"fmt"
	"math/rand"
	"net"
	"net/http"
	"strings"
	"syscall"
	"time"

	"github.com/anacrolix/log"
	"golang.org/x/net/ipv4"
	"golang.org/x/sys/unix"
)

// AddrString is the SSDP IPv4 multicast group and port.
const AddrString = "239.255.255.250:1900"

const maxDatagramSize = 4096

// Server runs the SSDP protocol on a single network interface: it answers
// M-SEARCH requests and periodically (and on demand) sends ssdp:alive
// NOTIFYs for every advertised USN.
type Server struct {
	Interface net.Interface
	// Devices and Services are the device/service type URNs this server
	// advertises, e.g. "urn:schemas-upnp-org:device:MediaServer:1".
	Devices  []string
	Services []string
	// Location returns the device description URL to advertise for a given
	// interface address.
	Location func(ip net.IP) string
	// Server is the fixed SERVER header banner string.
	Server string
	// UUID is this device's root UUID (without the "uuid:" prefix).
	UUID string
	// NotifyInterval is the spacing between unsolicited ssdp:alive bursts.
	// Zero disables the periodic announcer (search responses still work).
	NotifyInterval time.Duration
	Logger         log.Logger

	conn   *net.UDPConn
	pconn  *ipv4.PacketConn
	addr   net.IP
	closed chan struct{}
}

// Init binds the SSDP multicast socket on the server's interface. Callers
// must call Close once Serve returns (or instead of calling Serve at all).
func (s *Server) Init() (err error) {
	s.closed = make(chan struct{})
	addr, err := interfaceToIPv4(s.Interface)
	if err != nil {
		return fmt.Errorf("ssdp: no usable IPv4 address on %s: %w", s.Interface.Name, err)
	}
	s.addr = addr

	lc := net.ListenConfig{
		Control: func(network, address string, c syscall.RawConn) (ctrlErr error) {
			c.Control(func(fd uintptr) {
				_ = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEADDR, 1)
				_ = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEPORT, 1)
			})
			return nil
		},
	}
	pc, err := lc.ListenPacket(context.Background(), "udp4", ":1900")
	if err != nil {
		return fmt.Errorf("ssdp: listen: %w", err)
	}
	udpConn := pc.(*net.UDPConn)
	s.conn = udpConn

	p := ipv4.NewPacketConn(udpConn)
	group := net.ParseIP("239.255.255.250")
	if err := p.JoinGroup(&s.Interface, &net.UDPAddr{IP: group}); err != nil {
		udpConn.Close()
		return fmt.Errorf("ssdp: join group on %s: %w", s.Interface.Name, err)
	}
	if err := p.SetMulticastInterface(&s.Interface); err != nil {
		udpConn.Close()
		return fmt.Errorf("ssdp: set multicast interface: %w", err)
	}
	_ = p.SetMulticastTTL(4)
	s.pconn = p
	return nil
}

// Serve runs the read loop until Close is called. It also drives the
// periodic ssdp:alive announcer when NotifyInterval is nonzero.
func (s *Server) Serve() error {
	if s.NotifyInterval > 0 {
		go s.periodicNotify()
	}
	buf := make([]byte, maxDatagramSize)
	for {
		n, _, peer, err := s.pconn.ReadFrom(buf)
		if err != nil {
			select {
			case <-s.closed:
				return nil
			default:
				return err
			}
		}
		udpPeer, ok := peer.(*net.UDPAddr)
		if !ok {
			continue
		}
		s.handleRequest(buf[:n], udpPeer)
	}
}

// Close stops the read loop and releases the socket. It does not send
// ssdp:byebye; callers wanting graceful shutdown should call NotifyByeBye
// first.
func (s *Server) Close() error {
	if s.closed != nil {
		close(s.closed)
	}
	if s.conn != nil {
		return s.conn.Close()
	}
	return nil
}

func (s *Server) handleRequest(data []byte, peer *net.UDPAddr) {
	lines := strings.Split(string(data), "\r\n")
	if len(lines) == 0 || !strings.HasPrefix(lines[0], "M-SEARCH") {
		return
	}
	headers := parseHeaders(lines[1:])
	st := headers["st"]
	switch {
	case strings.Contains(st, "device:MediaServer:1"):
		s.respond(peer, s.deviceUSNs())
	case strings.Contains(st, "service:ContentDirectory:1"):
		s.respond(peer, s.serviceUSNs("urn:schemas-upnp-org:service:ContentDirectory:1"))
	case strings.Contains(st, "X_MS_MediaReceiverRegistrar:1"):
		s.respond(peer, s.serviceUSNs("urn:microsoft.com:service:X_MS_MediaReceiverRegistrar:1"))
	case strings.Contains(st, "ssdp:discover"), strings.Contains(st, "ssdp:all"):
		for _, group := range s.allUSNGroups() {
			group := group
			go func() {
				time.Sleep(jitter())
				s.respond(peer, group)
			}()
		}
	}
}

// usn is a single (search target, unique service name) pair to answer with.
type usn struct{ st, val string }

func (s *Server) deviceUSNs() []usn {
	var out []usn
	for _, d := range s.Devices {
		out = append(out, usn{st: d, val: fmt.Sprintf("uuid:%s::%s", s.UUID, d)})
	}
	return out
}

func (s *Server) serviceUSNs(st string) []usn {
	return []usn{{st: st, val: fmt.Sprintf("uuid:%s::%s", s.UUID, st)}}
}

func (s *Server) allUSNGroups() [][]usn {
	groups := [][]usn{s.deviceUSNs()}
	for _, svc := range s.Services {
		groups = append(groups, s.serviceUSNs(svc))
	}
	return groups
}

func (s *Server) respond(peer *net.UDPAddr, entries []usn) {
	for _, e := range entries {
		msg := "HTTP/1.1 200 OK\r\n" +
			"CACHE-CONTROL: max-age=900\r\n" +
			"DATE: " + time.Now().UTC().Format(http.TimeFormat) + "\r\n" +
			"EXT:\r\n" +
			"LOCATION: " + s.Location(s.addr) + "\r\n" +
			"SERVER: " + s.Server + "\r\n" +
			"ST: " + e.st + "\r\n" +
			"USN: " + e.val + "\r\n\r\n"
		if _, err := s.pconn.WriteTo([]byte(msg), nil, peer); err != nil {
			s.Logger.Levelf(log.Debug, "ssdp: write to %s: %v", peer, err)
		}
	}
}

// NotifyAlive sends ssdp:alive NOTIFYs for every advertised USN, 100ms apart.
func (s *Server) NotifyAlive() {
	s.notify("ssdp:alive")
}

// NotifyByeBye sends ssdp:byebye NOTIFYs for every advertised USN, 100ms apart.
func (s *Server) NotifyByeBye() {
	s.notify("ssdp:byebye")
}

func (s *Server) notify(nts string) {
	dst := &net.UDPAddr{IP: net.ParseIP("239.255.255.250"), Port: 1900}
	for _, group := range s.allUSNGroups() {
		for _, e := range group {
			msg := "NOTIFY * HTTP/1.1\r\n" +
				"HOST: 239.255.255.250:1900\r\n" +
				"CACHE-CONTROL: max-age=900\r\n" +
				"LOCATION: " + s.Location(s.addr) + "\r\n" +
				"NT: " + e.st + "\r\n" +
				"NTS: " + nts + "\r\n" +
				"SERVER: " + s.Server + "\r\n" +
				"USN: " + e.val + "\r\n\r\n"
			if _, err := s.pconn.WriteTo([]byte(msg), nil, dst); err != nil {
				s.Logger.Levelf(log.Debug, "ssdp: notify %s: %v", nts, err)
			}
			time.Sleep(100 * time.Millisecond)
		}
	}
}

func (s *Server) periodicNotify() {
	ticker := time.NewTicker(s.NotifyInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.closed:
			return
		case <-ticker.C:
			s.NotifyAlive()
		}
	}
}

func jitter() time.Duration {
	return 100*time.Millisecond + time.Duration(rand.Intn(200))*time.Millisecond
}

func parseHeaders(lines []string) map[string]string {
	h := make(map[string]string, len(lines))
	for _, line := range lines {
		idx := strings.Index(line, ":")
		if idx == -1 {
			continue
		}
		h[strings.ToLower(strings.TrimSpace(line[:idx]))] = strings.TrimSpace(line[idx+1:])
	}
	return h
}

func interfaceToIPv4(iface net.Interface) (net.IP, error) {
	addrs, err := iface.Addrs()
	if err != nil {
		return nil, err
	}
	for _, a := range addrs {
		ipNet, ok := a.(*net.IPNet)
		if !ok {
			continue
		}
		if ip4 := ipNet.IP.To4(); ip4 != nil {
			return ip4, nil
		}
	}
	return nil, fmt.Errorf("no IPv4 address")
}
