package csma

import (
	"errors"
	"fmt"
	"net"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"inet.af/netaddr"
)

const (
	tcpHeaderLen = 20
	udpHeaderLen = 8

	firstEphemeralPort uint16 = 49153
)

var (
	subnet = netaddr.MustParseIPPrefix("10.1.1.0/24")

	errNoRoute   = errors.New("no node with that address")
	errPortInUse = errors.New("port already bound")
)

type segmentHandler func(src netaddr.IP, tcp *layers.TCP)
type datagramHandler func(src netaddr.IP, srcPort uint16, payload []byte)

// node is a host with one CSMA device and a minimal IPv4 stack that demuxes
// received frames by protocol and destination port.
type node struct {
	id   int
	topo *Topology
	ip   netaddr.IP
	mac  net.HardwareAddr
	dev  *device

	tcp      map[uint16]segmentHandler
	udp      map[uint16]datagramHandler
	nextPort uint16

	parser  *gopacket.DecodingLayerParser
	eth     layers.Ethernet
	ip4     layers.IPv4
	tcpL    layers.TCP
	udpL    layers.UDP
	payload gopacket.Payload
	decoded []gopacket.LayerType

	ipIDs     uint16
	rxErrors  uint64
	txDropped uint64
}

func newNode(t *Topology, id int) *node {
	n := &node{
		id:       id,
		topo:     t,
		tcp:      make(map[uint16]segmentHandler),
		udp:      make(map[uint16]datagramHandler),
		nextPort: firstEphemeralPort,
	}
	n.parser = gopacket.NewDecodingLayerParser(layers.LayerTypeEthernet, &n.eth, &n.ip4, &n.tcpL, &n.udpL, &n.payload)
	n.parser.IgnoreUnsupported = true
	return n
}

// assignAddress gives node i the (i+1)-th host address of the subnet and a
// locally administered MAC.
func (n *node) assignAddress() error {
	ip := subnet.IP()
	for i := 0; i <= n.id; i++ {
		ip = ip.Next()
	}
	if !subnet.Contains(ip) || ip.As4()[3] == 0xff {
		return fmt.Errorf("node %d: subnet %s exhausted", n.id, subnet)
	}
	n.ip = ip
	n.mac = net.HardwareAddr{0x02, 0x00, 0x00, 0x00, byte(n.id >> 8), byte(n.id)}
	return nil
}

func (n *node) allocPort() uint16 {
	for {
		p := n.nextPort
		n.nextPort++
		if _, used := n.tcp[p]; used {
			continue
		}
		if _, used := n.udp[p]; used {
			continue
		}
		return p
	}
}

func (n *node) bindTCP(port uint16, h segmentHandler) error {
	if _, ok := n.tcp[port]; ok {
		return fmt.Errorf("tcp %d on node %d: %w", port, n.id, errPortInUse)
	}
	n.tcp[port] = h
	return nil
}

func (n *node) bindUDP(port uint16, h datagramHandler) error {
	if _, ok := n.udp[port]; ok {
		return fmt.Errorf("udp %d on node %d: %w", port, n.id, errPortInUse)
	}
	n.udp[port] = h
	return nil
}

func (n *node) sendTCP(dst netaddr.IP, tcp *layers.TCP, payload []byte) error {
	return n.send(dst, layers.IPProtocolTCP, tcp, tcpHeaderLen, payload)
}

func (n *node) sendUDP(dst netaddr.IP, srcPort, dstPort uint16, payload []byte) error {
	udp := &layers.UDP{SrcPort: layers.UDPPort(srcPort), DstPort: layers.UDPPort(dstPort)}
	return n.send(dst, layers.IPProtocolUDP, udp, udpHeaderLen, payload)
}

type transportLayer interface {
	gopacket.SerializableLayer
	SetNetworkLayerForChecksum(gopacket.NetworkLayer) error
}

func (n *node) send(dst netaddr.IP, proto layers.IPProtocol, l4 transportLayer, l4Len int, payload []byte) error {
	peer, ok := n.topo.byIP[dst]
	if !ok {
		return fmt.Errorf("%s: %w", dst, errNoRoute)
	}
	src4, dst4 := n.ip.As4(), dst.As4()

	n.ipIDs++
	eth := &layers.Ethernet{
		SrcMAC:       n.mac,
		DstMAC:       peer.mac,
		EthernetType: layers.EthernetTypeIPv4,
	}
	ip := &layers.IPv4{
		Version:  4,
		IHL:      5,
		Id:       n.ipIDs,
		TTL:      64,
		Protocol: proto,
		SrcIP:    net.IP(src4[:]),
		DstIP:    net.IP(dst4[:]),
	}
	if err := l4.SetNetworkLayerForChecksum(ip); err != nil {
		return err
	}

	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}
	if err := gopacket.SerializeLayers(buf, opts, eth, ip, l4, gopacket.Payload(payload)); err != nil {
		return err
	}

	n.output(&packet{frame: buf.Bytes(), ipLen: ipHeaderLen + l4Len + len(payload)})
	return nil
}

// output is the IP send path: monitor tx probe, then the device queue.
func (n *node) output(p *packet) {
	t := n.topo
	t.probeTx(p)
	if reason := n.dev.enqueue(p); reason != DropNone {
		n.txDropped++
		t.probeDrop(p)
	}
}

// input is the IP receive path for frames addressed to this device.
func (n *node) input(p *packet) {
	n.decoded = n.decoded[:0]
	if err := n.parser.DecodeLayers(p.frame, &n.decoded); err != nil {
		n.rxErrors++
		return
	}
	var hasIP, hasTCP, hasUDP bool
	for _, lt := range n.decoded {
		switch lt {
		case layers.LayerTypeIPv4:
			hasIP = true
		case layers.LayerTypeTCP:
			hasTCP = true
		case layers.LayerTypeUDP:
			hasUDP = true
		}
	}
	if !hasIP {
		n.rxErrors++
		return
	}
	dst, ok := netaddr.FromStdIP(n.ip4.DstIP)
	if !ok || dst != n.ip {
		return
	}
	src, _ := netaddr.FromStdIP(n.ip4.SrcIP)

	n.topo.probeRx(p)

	switch {
	case hasTCP:
		if h, ok := n.tcp[uint16(n.tcpL.DstPort)]; ok {
			h(src, &n.tcpL)
		}
	case hasUDP:
		if h, ok := n.udp[uint16(n.udpL.DstPort)]; ok {
			h(src, uint16(n.udpL.SrcPort), n.udpL.Payload)
		}
	}
}
