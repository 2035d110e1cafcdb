// Package annexb sanity-checks raw H.264/H.265 elementary stream ads before
// they reach the decoder.
package annexb

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// Codec of an elementary stream
type Codec string

const (
	H264 Codec = "h264"
	H265 Codec = "h265"
)

// NAL unit types that must precede the first picture
const (
	h264NALSPS = 7
	h264NALPPS = 8
	h264NALIDR = 5

	h265NALVPS    = 32
	h265NALSPS    = 33
	h265NALPPS    = 34
	h265NALIDRMin = 16 // BLA/IDR/CRA range 16..23
	h265NALIDRMax = 23
)

// probeBytes bounds how much of a file is inspected
const probeBytes = 512 * 1024

var (
	// ErrNotAnnexB means no start code was found
	ErrNotAnnexB = errors.New("no Annex-B start code")
	// ErrNoParameterSets means the stream cannot be decoded from its start
	ErrNoParameterSets = errors.New("missing parameter sets")
)

// Unit is one NAL unit including its start code
type Unit struct {
	Type uint8
	Data []byte
}

// Info describes a probed stream
type Info struct {
	Codec         Codec
	Units         int
	ParameterSets bool
	Keyframe      bool
}

// CodecFor maps a file extension to a raw stream codec; ok is false for
// containers and anything else the probe does not handle.
func CodecFor(path string) (Codec, bool) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".h264", ".264":
		return H264, true
	case ".h265", ".265", ".hevc":
		return H265, true
	}
	return "", false
}

// ProbeFile checks a raw stream file. Files with other extensions pass
// unchecked with a zero Info.
func ProbeFile(path string) (Info, error) {
	codec, ok := CodecFor(path)
	if !ok {
		return Info{}, nil
	}
	f, err := os.Open(path)
	if err != nil {
		return Info{}, err
	}
	defer f.Close()

	buf := make([]byte, probeBytes)
	n, err := io.ReadFull(f, buf)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return Info{}, fmt.Errorf("read %s: %w", path, err)
	}
	return Probe(codec, buf[:n])
}

// Probe inspects the leading bytes of a stream
func Probe(codec Codec, data []byte) (Info, error) {
	units := Split(codec, data)
	if len(units) == 0 {
		return Info{}, ErrNotAnnexB
	}

	info := Info{Codec: codec, Units: len(units)}
	seen := make(map[uint8]bool)
	for _, u := range units {
		seen[u.Type] = true
		switch codec {
		case H264:
			if u.Type == h264NALIDR {
				info.Keyframe = true
			}
		case H265:
			if u.Type >= h265NALIDRMin && u.Type <= h265NALIDRMax {
				info.Keyframe = true
			}
		}
	}

	switch codec {
	case H264:
		info.ParameterSets = seen[h264NALSPS] && seen[h264NALPPS]
	case H265:
		info.ParameterSets = seen[h265NALVPS] && seen[h265NALSPS] && seen[h265NALPPS]
	}
	if !info.ParameterSets {
		return info, fmt.Errorf("%s: %w", codec, ErrNoParameterSets)
	}
	return info, nil
}

// Split cuts data into NAL units. Bytes before the first start code are ignored.
func Split(codec Codec, data []byte) []Unit {
	units := make([]Unit, 0, 8)
	offset := 0

	for offset < len(data) {
		startCodeLen := 0
		if offset+4 <= len(data) && data[offset] == 0 && data[offset+1] == 0 && data[offset+2] == 0 && data[offset+3] == 1 {
			startCodeLen = 4
		} else if offset+3 <= len(data) && data[offset] == 0 && data[offset+1] == 0 && data[offset+2] == 1 {
			startCodeLen = 3
		} else {
			offset++
			continue
		}

		nalStart := offset
		offset += startCodeLen
		if offset >= len(data) {
			break
		}

		nalEnd := findNextStartCode(data, offset+1)
		if nalEnd == -1 {
			nalEnd = len(data)
		}

		units = append(units, Unit{
			Type: nalType(codec, data[offset]),
			Data: data[nalStart:nalEnd],
		})
		offset = nalEnd
	}
	return units
}

func nalType(codec Codec, header byte) uint8 {
	if codec == H265 {
		return (header >> 1) & 0x3F
	}
	return header & 0x1F
}

// findNextStartCode finds the next start code position
func findNextStartCode(data []byte, offset int) int {
	for i := offset; i < len(data)-2; i++ {
		if data[i] == 0x00 && data[i+1] == 0x00 {
			if data[i+2] == 0x01 {
				return i // Found 0x000001
			}
			if i+3 < len(data) && data[i+2] == 0x00 && data[i+3] == 0x01 {
				return i // Found 0x00000001
			}
		}
	}
	return -1
}
