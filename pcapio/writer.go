package pcapio

import (
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"

	"github.com/samaelod/pglink/types"
)

// Format selects the capture container.
type Format int

const (
	PCAPNG Format = iota
	PCAP
)

const (
	clientPort layers.TCPPort = 49152
	hostPort   layers.TCPPort = 7070

	// payload bytes per segment, keeps every IPv4 packet under 64 KiB
	maxSegment = 65000
	snapLen    = 262144
)

var (
	clientIP  = net.IPv4(127, 0, 0, 1)
	hostIP    = net.IPv4(127, 0, 0, 2)
	clientMAC = net.HardwareAddr{0x02, 0, 0, 0, 0, 0x01}
	hostMAC   = net.HardwareAddr{0x02, 0, 0, 0, 0, 0x02}
)

// FormatFor picks the container from a file extension. Anything other than
// .pcap is written as pcapng.
func FormatFor(path string) Format {
	if strings.EqualFold(filepath.Ext(path), ".pcap") {
		return PCAP
	}
	return PCAPNG
}

type packetWriter interface {
	WritePacket(ci gopacket.CaptureInfo, data []byte) error
}

// Write stores entries as a capture. Entries with a zero time are stamped
// one millisecond after the previous packet.
func Write(w io.Writer, format Format, entries []types.LogEntry) error {
	var (
		pw    packetWriter
		flush func() error
	)
	switch format {
	case PCAP:
		cw := pcapgo.NewWriter(w)
		if err := cw.WriteFileHeader(snapLen, layers.LinkTypeEthernet); err != nil {
			return err
		}
		pw, flush = cw, func() error { return nil }
	default:
		nw, err := pcapgo.NewNgWriter(w, layers.LinkTypeEthernet)
		if err != nil {
			return err
		}
		pw, flush = nw, nw.Flush
	}

	var (
		seq  uint32 = 1
		last time.Time
	)
	for i, e := range entries {
		at := e.At
		if at.IsZero() {
			at = last.Add(time.Millisecond)
			if last.IsZero() {
				at = time.Unix(0, 0)
			}
		}
		last = at

		data := joinChunks(e)
		if len(data) == 0 {
			return fmt.Errorf("entry %d has no bytes", i)
		}
		for off := 0; off < len(data); off += maxSegment {
			end := min(off+maxSegment, len(data))
			frame, err := segment(seq, data[off:end], end == len(data))
			if err != nil {
				return fmt.Errorf("entry %d: %w", i, err)
			}
			ci := gopacket.CaptureInfo{
				Timestamp:     at,
				CaptureLength: len(frame),
				Length:        len(frame),
			}
			if err := pw.WritePacket(ci, frame); err != nil {
				return fmt.Errorf("entry %d: %w", i, err)
			}
			seq += uint32(end - off)
		}
	}
	return flush()
}

// WriteFile writes entries to path, choosing the format from its extension.
func WriteFile(path string, entries []types.LogEntry) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := Write(f, FormatFor(path), entries); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func joinChunks(e types.LogEntry) []byte {
	if len(e.Chunks) == 0 {
		return nil
	}
	n := 0
	for _, c := range e.Chunks {
		n += len(c)
	}
	data := make([]byte, 0, n)
	for _, c := range e.Chunks {
		data = append(data, c...)
	}
	return data
}

func segment(seq uint32, payload []byte, push bool) ([]byte, error) {
	eth := &layers.Ethernet{
		SrcMAC:       clientMAC,
		DstMAC:       hostMAC,
		EthernetType: layers.EthernetTypeIPv4,
	}
	ip := &layers.IPv4{
		Version:  4,
		TTL:      64,
		Flags:    layers.IPv4DontFragment,
		Protocol: layers.IPProtocolTCP,
		SrcIP:    clientIP,
		DstIP:    hostIP,
	}
	tcp := &layers.TCP{
		SrcPort: clientPort,
		DstPort: hostPort,
		Seq:     seq,
		ACK:     true,
		PSH:     push,
		Window:  65535,
	}
	if err := tcp.SetNetworkLayerForChecksum(ip); err != nil {
		return nil, err
	}

	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}
	if err := gopacket.SerializeLayers(buf, opts, eth, ip, tcp, gopacket.Payload(payload)); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
