// Package pcapio stores command logs as packet captures. Each command is sent
// as a client to host TCP segment stream over IPv4 so captures open in common
// packet analyzers; the last segment of every command carries PSH.
package pcapio

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"

	"github.com/samaelod/pglink/types"
)

type packetSource interface {
	LinkType() layers.LinkType
	ReadPacketData() (data []byte, ci gopacket.CaptureInfo, err error)
}

type packetDataSource struct {
	src      packetSource
	linkType layers.LinkType
}

func (p *packetDataSource) LinkType() layers.LinkType {
	return p.linkType
}

func (p *packetDataSource) ReadPacketData() (data []byte, ci gopacket.CaptureInfo, err error) {
	return p.src.ReadPacketData()
}

func detectFormat(path string) (format string, err error) {
	file, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer file.Close()

	// Read first 8 bytes to check magic
	header := make([]byte, 8)
	n, err := file.Read(header)
	if err != nil || n < 4 {
		return "", fmt.Errorf("%s: too short for a capture file", path)
	}

	magic := binary.LittleEndian.Uint32(header)

	// PCAPNG starts with a Section Header Block, 0x0A0D0D0A
	if magic == 0x0A0D0D0A {
		return "pcapng", nil
	}

	// pcap: 0xA1B2C3D4 or 0xD4C3B2A1 (little/big endian), nanosecond variants
	if magic == 0xA1B2C3D4 || magic == 0xD4C3B2A1 || magic == 0xA1B23C4D || magic == 0x4D3CB2A1 {
		return "pcap", nil
	}

	return "", fmt.Errorf("%s: unknown capture format (magic %#08x)", path, magic)
}

func openPacketSource(path string) (packetSource, io.Closer, error) {
	format, err := detectFormat(path)
	if err != nil {
		return nil, nil, err
	}

	file, err := os.Open(path)
	if err != nil {
		return nil, nil, err
	}

	if format == "pcapng" {
		reader, err := pcapgo.NewNgReader(file, pcapgo.DefaultNgReaderOptions)
		if err != nil {
			file.Close()
			return nil, nil, err
		}
		return reader, file, nil
	}

	reader, err := pcapgo.NewReader(file)
	if err != nil {
		file.Close()
		return nil, nil, err
	}
	return reader, file, nil
}

// ReadFile loads the command log stored in a pcap or pcapng capture. Only
// segments sent to the host port are used. Each command comes back as its
// code chunk followed by one chunk holding the rest of its bytes.
func ReadFile(path string) ([]types.LogEntry, error) {
	source, closer, err := openPacketSource(path)
	if err != nil {
		return nil, err
	}
	defer closer.Close()

	ds := &packetDataSource{src: source, linkType: source.LinkType()}
	packetSrc := gopacket.NewPacketSource(ds, ds.LinkType())

	var (
		entries []types.LogEntry
		pending []byte
		started gopacket.CaptureInfo
	)
	for {
		packet, err := packetSrc.NextPacket()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%s: packet %d: %w", path, len(entries), err)
		}

		tcpLayer := packet.Layer(layers.LayerTypeTCP)
		if tcpLayer == nil {
			continue
		}
		tcp := tcpLayer.(*layers.TCP)
		if tcp.DstPort != hostPort || len(tcp.Payload) == 0 {
			continue
		}

		if len(pending) == 0 {
			started = packet.Metadata().CaptureInfo
		}
		pending = append(pending, tcp.Payload...)
		if !tcp.PSH {
			continue
		}

		e, err := entryFromBytes(pending, started)
		if err != nil {
			return nil, fmt.Errorf("%s: command %d: %w", path, len(entries), err)
		}
		entries = append(entries, e)
		pending = nil
	}

	if len(pending) > 0 {
		return nil, fmt.Errorf("%s: capture ends inside a command (%d bytes)", path, len(pending))
	}
	return entries, nil
}

func entryFromBytes(b []byte, ci gopacket.CaptureInfo) (types.LogEntry, error) {
	if len(b) < 2 {
		return types.LogEntry{}, fmt.Errorf("%d bytes is too short for a command code", len(b))
	}
	e := types.LogEntry{
		Code:   binary.NativeEndian.Uint16(b),
		At:     ci.Timestamp,
		Chunks: [][]byte{append([]byte(nil), b[:2]...)},
	}
	if len(b) > 2 {
		e.Chunks = append(e.Chunks, append([]byte(nil), b[2:]...))
	}
	return e, nil
}
