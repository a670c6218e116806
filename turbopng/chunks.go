package turbopng

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"hash/crc32"
)

const (
	pngSignature = "\x89PNG\r\n\x1a\n"
	maxChunkLen  = 0x7fffffff
)

// A RawChunk is a single PNG chunk, without its length
// and CRC framing.
type RawChunk struct {
	Name [4]byte
	Data []byte
}

func (r RawChunk) String() string {
	return string(r.Name[:])
}

// PreservedChunks holds the ancillary chunks that survive
// the metadata policy, split by their position relative to
// the first IDAT chunk of the source.
//
// Structural chunks (IHDR, PLTE, tRNS, IDAT, IEND) never
// appear here; they are regenerated by the encoder.
type PreservedChunks struct {
	BeforeImage []RawChunk
	AfterImage  []RawChunk
}

// Len returns the total number of preserved chunks.
func (p *PreservedChunks) Len() int {
	return len(p.BeforeImage) + len(p.AfterImage)
}

// dropAnimation removes APNG control and frame chunks and
// reports whether there were any.
func (p *PreservedChunks) dropAnimation() bool {
	n := p.Len()
	keep := func(list []RawChunk) []RawChunk {
		var res []RawChunk
		for _, c := range list {
			switch string(c.Name[:]) {
			case "acTL", "fcTL", "fdAT":
			default:
				res = append(res, c)
			}
		}
		return res
	}
	p.BeforeImage = keep(p.BeforeImage)
	p.AfterImage = keep(p.AfterImage)
	return p.Len() != n
}

// ParseChunks walks the chunk stream of a PNG file and
// collects the ancillary chunks allowed by policy.
//
// The CRC of every retained chunk is verified so that a
// corrupt ancillary chunk is never copied into an output.
// CRCs of dropped chunks are left to the pixel decoder.
func ParseChunks(data []byte, policy MetadataPolicy) (*PreservedChunks, error) {
	res := &PreservedChunks{}
	seenIDAT := false
	err := walkChunks(data, func(name [4]byte, body []byte, crc uint32) error {
		switch string(name[:]) {
		case "IDAT":
			seenIDAT = true
			return nil
		case "IHDR", "IEND", "PLTE", "tRNS":
			return nil
		}
		if !policy.Allows(name) {
			return nil
		}
		if chunkCRC(name, body) != crc {
			return fmt.Errorf("%w: %s", ErrChecksumMismatch, name[:])
		}
		chunk := RawChunk{Name: name, Data: append([]byte{}, body...)}
		if seenIDAT {
			res.AfterImage = append(res.AfterImage, chunk)
		} else {
			res.BeforeImage = append(res.BeforeImage, chunk)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

// ListChunks returns the tag of every chunk in data, in
// file order, up to and including IEND.
func ListChunks(data []byte) ([]string, error) {
	var names []string
	err := walkChunks(data, func(name [4]byte, body []byte, crc uint32) error {
		names = append(names, string(name[:]))
		return nil
	})
	return names, err
}

// walkChunks calls f for each chunk in data, stopping
// after IEND or at the end of the buffer.
func walkChunks(data []byte, f func(name [4]byte, body []byte, crc uint32) error) error {
	if len(data) < len(pngSignature) || !bytes.Equal(data[:len(pngSignature)], []byte(pngSignature)) {
		return ErrMalformedFile
	}
	idx := len(pngSignature)
	for idx < len(data) {
		if len(data)-idx < 8 {
			return fmt.Errorf("%w: incomplete chunk header at offset %d", ErrTruncatedChunk, idx)
		}
		length := binary.BigEndian.Uint32(data[idx:])
		if length > maxChunkLen {
			return fmt.Errorf("%w: chunk length %d out of range", ErrMalformedFile, length)
		}
		var name [4]byte
		copy(name[:], data[idx+4:idx+8])
		idx += 8

		if uint64(len(data)-idx) < uint64(length)+4 {
			return fmt.Errorf("%w: %s needs %d bytes, %d remain", ErrTruncatedChunk,
				name[:], uint64(length)+4, len(data)-idx)
		}
		body := data[idx : idx+int(length)]
		crc := binary.BigEndian.Uint32(data[idx+int(length):])
		idx += int(length) + 4

		if err := f(name, body, crc); err != nil {
			return err
		}
		if string(name[:]) == "IEND" {
			break
		}
	}
	return nil
}

func chunkCRC(name [4]byte, body []byte) uint32 {
	crc := crc32.NewIEEE()
	crc.Write(name[:])
	crc.Write(body)
	return crc.Sum32()
}

func chunkName(s string) [4]byte {
	var res [4]byte
	copy(res[:], s)
	return res
}
