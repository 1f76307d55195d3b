// Package rtp implements the fixed-header subset of RFC 3550 this relay
// needs to route and re-emit packets: a parser for the routing-relevant
// fields and a serializer for the canonical egress header.
package rtp

import (
	"encoding/binary"
	"errors"

	pionrtp "github.com/pion/rtp"
)

// Sentinel parse errors. Comparable with errors.Is; never propagated past
// the ingress loop, which drops the datagram and counts the failure.
var (
	ErrTooShort   = errors.New("rtp: datagram shorter than fixed header")
	ErrBadVersion = errors.New("rtp: version field is not 2")
	ErrTruncated  = errors.New("rtp: header extension runs past end of datagram")
)

const minHeaderLen = 12

// Packet is the routing-relevant view of an RTP datagram. It carries only
// what the fan-out path needs: the original CSRC list and header extension
// are dropped on ingress and never reconstructed.
type Packet struct {
	Sequence    uint16
	Timestamp   uint32
	SSRC        uint32
	Marker      bool
	PayloadType uint8
	Payload     []byte
}

// Parse reads the fixed RTP header plus any CSRC list, header extension and
// padding, and returns the routing-relevant fields and payload.
//
// Padding that claims more bytes than are available is ignored rather than
// rejected (the datagram is accepted with its payload untouched) — this
// matches the tolerant-but-not-permissive policy of accepting anything that
// parses and only rejecting what is structurally impossible to read.
func Parse(data []byte) (*Packet, error) {
	if len(data) < minHeaderLen {
		return nil, ErrTooShort
	}

	version := data[0] >> 6
	if version != 2 {
		return nil, ErrBadVersion
	}
	padding := data[0]&0x20 != 0
	extension := data[0]&0x10 != 0
	csrcCount := int(data[0] & 0x0F)

	marker := data[1]&0x80 != 0
	payloadType := data[1] & 0x7F

	sequence := binary.BigEndian.Uint16(data[2:4])
	timestamp := binary.BigEndian.Uint32(data[4:8])
	ssrc := binary.BigEndian.Uint32(data[8:12])

	headerEnd := minHeaderLen + 4*csrcCount
	payloadStart := headerEnd

	if extension {
		if len(data) < headerEnd+4 {
			return nil, ErrTruncated
		}
		extLen := int(binary.BigEndian.Uint16(data[headerEnd+2 : headerEnd+4]))
		payloadStart = headerEnd + 4 + 4*extLen
		if payloadStart > len(data) {
			return nil, ErrTruncated
		}
	}

	payloadEnd := len(data)
	if padding && len(data) > 0 {
		padLen := int(data[len(data)-1])
		if padLen > 0 && padLen <= payloadEnd-payloadStart {
			payloadEnd -= padLen
		}
	}

	payload := make([]byte, payloadEnd-payloadStart)
	copy(payload, data[payloadStart:payloadEnd])

	return &Packet{
		Sequence:    sequence,
		Timestamp:   timestamp,
		SSRC:        ssrc,
		Marker:      marker,
		PayloadType: payloadType,
		Payload:     payload,
	}, nil
}

// Serialize rewrites a Packet as a canonical 12-byte-header RTP datagram:
// version 2, no padding, no extension, no CSRCs, marker and payload type
// preserved, sequence/timestamp/SSRC and payload unchanged. It delegates to
// pion/rtp's Marshal, whose header encoding is byte-for-byte what this
// canonical form requires once padding/extension/CSRC are all zeroed.
func Serialize(p *Packet) ([]byte, error) {
	out := &pionrtp.Packet{
		Header: pionrtp.Header{
			Version:        2,
			Padding:        false,
			Extension:      false,
			Marker:         p.Marker,
			PayloadType:    p.PayloadType,
			SequenceNumber: p.Sequence,
			Timestamp:      p.Timestamp,
			SSRC:           p.SSRC,
		},
		Payload: p.Payload,
	}
	return out.Marshal()
}
