package transport

import (
	"fmt"
	"log/slog"
	"net"
)

// udpPortLow and udpPortHigh bound the port-pair allocation range.
const (
	udpPortLow  = 50000
	udpPortHigh = 51000
)

// UDP implements Transport over a bound data/control UDP socket pair, with
// the peer address fixed to the client_port the SETUP request negotiated.
// Grounded on ssungk-sol/pkg/rtp/session.go's RTPTransport, generalized
// from its SSRC-keyed session map (one transport per connection here, not
// a shared listener multiplexed by SSRC) and given an owned receive
// channel per the source's control-receive redesign note.
type UDP struct {
	dataConn    net.PacketConn
	controlConn net.PacketConn
	peerAddr    *net.UDPAddr
	peerControl *net.UDPAddr

	control chan []byte
	done    chan struct{}
}

// AllocateUDPPair binds a data/control port pair within [udpPortLow,
// udpPortHigh] and wires the peer addresses from the client's
// client_port=<data>-<control>. clientIP is the address the RTSP
// connection was accepted from.
func AllocateUDPPair(clientIP string, clientDataPort, clientControlPort int) (*UDP, error) {
	var dataConn, controlConn net.PacketConn
	var dataPort int

	for port := udpPortLow; port+1 <= udpPortHigh; port += 2 {
		var err error
		dataConn, err = net.ListenPacket("udp", fmt.Sprintf(":%d", port))
		if err != nil {
			continue
		}
		controlConn, err = net.ListenPacket("udp", fmt.Sprintf(":%d", port+1))
		if err != nil {
			dataConn.Close()
			dataConn = nil
			continue
		}
		dataPort = port
		break
	}
	if dataConn == nil || controlConn == nil {
		return nil, fmt.Errorf("udp transport: no free port pair in [%d,%d]", udpPortLow, udpPortHigh)
	}

	peerAddr, err := net.ResolveUDPAddr("udp", fmt.Sprintf("%s:%d", clientIP, clientDataPort))
	if err != nil {
		dataConn.Close()
		controlConn.Close()
		return nil, fmt.Errorf("resolve client data port: %w", err)
	}
	peerControl, err := net.ResolveUDPAddr("udp", fmt.Sprintf("%s:%d", clientIP, clientControlPort))
	if err != nil {
		dataConn.Close()
		controlConn.Close()
		return nil, fmt.Errorf("resolve client control port: %w", err)
	}

	u := &UDP{
		dataConn:    dataConn,
		controlConn: controlConn,
		peerAddr:    peerAddr,
		peerControl: peerControl,
		control:     make(chan []byte, 16),
		done:        make(chan struct{}),
	}
	slog.Info("udp transport allocated", "serverDataPort", dataPort, "serverControlPort", dataPort+1,
		"peerData", peerAddr, "peerControl", peerControl)

	go u.receiveControlLoop()
	return u, nil
}

// DataPort and ControlPort report the server-side bound ports, used to
// build the Transport: server_port=<data>-<ctrl> reply header.
func (u *UDP) DataPort() int {
	return u.dataConn.LocalAddr().(*net.UDPAddr).Port
}

func (u *UDP) ControlPort() int {
	return u.controlConn.LocalAddr().(*net.UDPAddr).Port
}

func (u *UDP) WriteData(packet []byte) error {
	_, err := u.dataConn.WriteTo(packet, u.peerAddr)
	return err
}

func (u *UDP) WriteControl(packet []byte) error {
	_, err := u.controlConn.WriteTo(packet, u.peerControl)
	return err
}

func (u *UDP) OnControlReceived() <-chan []byte {
	return u.control
}

func (u *UDP) receiveControlLoop() {
	buf := make([]byte, 1500)
	for {
		n, _, err := u.controlConn.ReadFrom(buf)
		if err != nil {
			return
		}
		pkt := make([]byte, n)
		copy(pkt, buf[:n])
		select {
		case u.control <- pkt:
		case <-u.done:
			return
		default:
		}
	}
}

func (u *UDP) Close() error {
	close(u.done)
	u.dataConn.Close()
	u.controlConn.Close()
	return nil
}
