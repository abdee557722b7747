// Package trace implements on-demand protocol tracing. Translated exchanges
// are written as synthesized Ethernet/IP packets to a PCAP file so a capture
// session can be opened directly in Wireshark.
package trace

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
	"github.com/google/uuid"
)

// Direction labels which leg of a gateway exchange a packet belongs to.
type Direction string

const (
	ClientToSIP Direction = "client_to_sip"
	SIPToGRPC   Direction = "sip_to_grpc"
	GRPCToSIP   Direction = "grpc_to_sip"
	SIPToClient Direction = "sip_to_client"
)

// Synthetic MACs so the two legs are distinguishable in a packet viewer.
var (
	sipMAC  = net.HardwareAddr{0x00, 0x11, 0x22, 0x33, 0x44, 0x55}
	grpcMAC = net.HardwareAddr{0x66, 0x77, 0x88, 0x99, 0xaa, 0xbb}
)

// Info describes one trace session for the administrative API.
type Info struct {
	ID          string  `json:"id"`
	FilePath    string  `json:"file_path"`
	StartTime   int64   `json:"start_time"`
	Active      bool    `json:"active"`
	PacketCount int     `json:"packet_count"`
	Duration    float64 `json:"duration"`
}

// Summary reports a stopped session's totals.
type Summary struct {
	ID          string  `json:"id"`
	FilePath    string  `json:"file_path"`
	Duration    float64 `json:"duration"`
	PacketCount int     `json:"packet_count"`
	SIPToGRPC   int     `json:"sip_to_grpc_count"`
	GRPCToSIP   int     `json:"grpc_to_sip_count"`
	ClientLegs  int     `json:"client_packets"`
}

type session struct {
	id        string
	filePath  string
	startTime time.Time
	active    bool
	file      *os.File
	writer    *pcapgo.Writer
	packets   int
	counts    map[Direction]int
}

// Manager owns trace sessions. At most one session records at a time;
// starting a new one while another is active fails.
type Manager struct {
	dir     string
	snapLen uint32

	mu       sync.Mutex
	sessions map[string]*session
	activeID string
}

// NewManager creates a trace manager writing PCAP files under dir.
func NewManager(dir string, snapLen int) *Manager {
	if snapLen <= 0 {
		snapLen = 65535
	}
	return &Manager{
		dir:      dir,
		snapLen:  uint32(snapLen),
		sessions: make(map[string]*session),
	}
}

// Start opens a new trace session and makes it the recording target.
func (m *Manager) Start() (Info, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.activeID != "" {
		return Info{}, fmt.Errorf("trace session %s is already active", m.activeID)
	}

	if err := os.MkdirAll(m.dir, 0755); err != nil {
		return Info{}, fmt.Errorf("create trace dir: %w", err)
	}

	id := uuid.NewString()
	now := time.Now()
	name := fmt.Sprintf("sip_grpc_trace_%s_%s.pcap", now.Format("20060102_150405"), id[:8])
	path := filepath.Join(m.dir, name)

	f, err := os.Create(path)
	if err != nil {
		return Info{}, fmt.Errorf("create trace file: %w", err)
	}
	w := pcapgo.NewWriter(f)
	if err := w.WriteFileHeader(m.snapLen, layers.LinkTypeEthernet); err != nil {
		f.Close()
		os.Remove(path)
		return Info{}, fmt.Errorf("write pcap header: %w", err)
	}

	s := &session{
		id:        id,
		filePath:  path,
		startTime: now,
		active:    true,
		file:      f,
		writer:    w,
		counts:    make(map[Direction]int),
	}
	m.sessions[id] = s
	m.activeID = id

	return s.info(), nil
}

// Stop closes the session with the given ID; an empty ID stops the active
// session.
func (m *Manager) Stop(id string) (Summary, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if id == "" {
		id = m.activeID
	}
	s, ok := m.sessions[id]
	if !ok || !s.active {
		return Summary{}, fmt.Errorf("no active trace session %q", id)
	}

	s.active = false
	s.file.Close()
	if m.activeID == id {
		m.activeID = ""
	}

	return Summary{
		ID:          s.id,
		FilePath:    s.filePath,
		Duration:    time.Since(s.startTime).Seconds(),
		PacketCount: s.packets,
		SIPToGRPC:   s.counts[SIPToGRPC],
		GRPCToSIP:   s.counts[GRPCToSIP],
		ClientLegs:  s.counts[ClientToSIP] + s.counts[SIPToClient],
	}, nil
}

// Active returns the currently recording session, if any.
func (m *Manager) Active() (Info, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[m.activeID]
	if !ok {
		return Info{}, false
	}
	return s.info(), true
}

// List returns all known sessions, newest last.
func (m *Manager) List() []Info {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]Info, 0, len(m.sessions))
	for _, s := range m.sessions {
		out = append(out, s.info())
	}
	return out
}

// Record writes one synthesized packet to the active session. Without an
// active session it is a no-op, so the gateway can call it unconditionally.
func (m *Manager) Record(dir Direction, transport string, payload []byte, srcAddr, dstAddr string, srcPort, dstPort int) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[m.activeID]
	if !ok || !s.active {
		return
	}

	data, err := synthesize(dir, transport, payload, srcAddr, dstAddr, srcPort, dstPort)
	if err != nil {
		return
	}

	ci := gopacket.CaptureInfo{
		Timestamp:     time.Now(),
		CaptureLength: len(data),
		Length:        len(data),
	}
	if err := s.writer.WritePacket(ci, data); err != nil {
		return
	}
	s.packets++
	s.counts[dir]++
}

// synthesize wraps payload in Ethernet/IPv4/transport headers. Addresses
// that fail to parse fall back to loopback rather than dropping the packet.
func synthesize(dir Direction, transport string, payload []byte, srcAddr, dstAddr string, srcPort, dstPort int) ([]byte, error) {
	srcMAC, dstMAC := sipMAC, grpcMAC
	if dir == GRPCToSIP || dir == SIPToClient {
		srcMAC, dstMAC = grpcMAC, sipMAC
	}

	eth := layers.Ethernet{
		SrcMAC:       srcMAC,
		DstMAC:       dstMAC,
		EthernetType: layers.EthernetTypeIPv4,
	}
	ip := layers.IPv4{
		Version:  4,
		TTL:      64,
		SrcIP:    parseIPv4(srcAddr),
		DstIP:    parseIPv4(dstAddr),
		Protocol: layers.IPProtocolUDP,
	}

	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}

	if transport == "tcp" {
		ip.Protocol = layers.IPProtocolTCP
		tcp := layers.TCP{
			SrcPort: layers.TCPPort(srcPort),
			DstPort: layers.TCPPort(dstPort),
			PSH:     true,
			ACK:     true,
			Window:  65535,
		}
		if err := tcp.SetNetworkLayerForChecksum(&ip); err != nil {
			return nil, err
		}
		if err := gopacket.SerializeLayers(buf, opts, &eth, &ip, &tcp, gopacket.Payload(payload)); err != nil {
			return nil, err
		}
	} else {
		udp := layers.UDP{
			SrcPort: layers.UDPPort(srcPort),
			DstPort: layers.UDPPort(dstPort),
		}
		if err := udp.SetNetworkLayerForChecksum(&ip); err != nil {
			return nil, err
		}
		if err := gopacket.SerializeLayers(buf, opts, &eth, &ip, &udp, gopacket.Payload(payload)); err != nil {
			return nil, err
		}
	}

	return buf.Bytes(), nil
}

func parseIPv4(addr string) net.IP {
	if ip := net.ParseIP(addr); ip != nil {
		if v4 := ip.To4(); v4 != nil {
			return v4
		}
	}
	return net.IPv4(127, 0, 0, 1).To4()
}

func (s *session) info() Info {
	return Info{
		ID:          s.id,
		FilePath:    s.filePath,
		StartTime:   s.startTime.Unix(),
		Active:      s.active,
		PacketCount: s.packets,
		Duration:    time.Since(s.startTime).Seconds(),
	}
}
