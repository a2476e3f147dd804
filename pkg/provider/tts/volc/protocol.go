package volc

import (
	"bytes"
	"compress/gzip"
	"encoding/binary"
	"fmt"
	"io"
)

// Frame layout shared with the recognition service: a 4-byte bit-packed
// header, then a message-type dependent payload section. Client synthesis
// requests always carry gzip-compressed JSON.
const (
	protocolVersion = 0b0001
	headerSizeUnits = 0b0001

	msgFullRequest  = 0b0001
	msgAudioOnly    = 0b1011
	msgFrontendResp = 0b1100
	msgServerError  = 0b1111

	serialJSON   = 0b0001
	compressGzip = 0b0001
)

// buildRequest frames one synthesis request around its JSON body.
func buildRequest(body []byte) ([]byte, error) {
	var compressed bytes.Buffer
	zw := gzip.NewWriter(&compressed)
	if _, err := zw.Write(body); err != nil {
		return nil, fmt.Errorf("compress request: %w", err)
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("compress request: %w", err)
	}

	frame := make([]byte, 0, 4+4+compressed.Len())
	frame = append(frame,
		protocolVersion<<4|headerSizeUnits,
		msgFullRequest<<4,
		serialJSON<<4|compressGzip,
		0x00,
	)
	frame = binary.BigEndian.AppendUint32(frame, uint32(compressed.Len()))
	frame = append(frame, compressed.Bytes()...)
	return frame, nil
}

// parseMessage interprets one server message. audio carries synthesized
// bytes when present; done reports that the server finished the current
// request (negative sequence number or a terminal message).
func parseMessage(data []byte) (audio []byte, done bool, err error) {
	if len(data) < 4 {
		return nil, false, fmt.Errorf("message too short: %d bytes", len(data))
	}

	headerSize := int(data[0]&0x0f) * 4
	msgType := data[1] >> 4
	flags := data[1] & 0x0f
	compression := data[2] & 0x0f

	if len(data) < headerSize {
		return nil, false, fmt.Errorf("truncated header: %d bytes", len(data))
	}
	payload := data[headerSize:]

	switch msgType {
	case msgAudioOnly:
		if flags == 0 {
			// Bare ack, no audio attached.
			return nil, false, nil
		}
		if len(payload) < 8 {
			return nil, false, fmt.Errorf("truncated audio payload")
		}
		seq := int32(binary.BigEndian.Uint32(payload[:4]))
		return payload[8:], seq < 0, nil

	case msgFrontendResp:
		return nil, false, nil

	case msgServerError:
		if len(payload) < 8 {
			return nil, false, fmt.Errorf("truncated error payload")
		}
		code := binary.BigEndian.Uint32(payload[:4])
		msg := payload[8:]
		if compression == compressGzip {
			zr, zerr := gzip.NewReader(bytes.NewReader(msg))
			if zerr == nil {
				if raw, rerr := io.ReadAll(zr); rerr == nil {
					msg = raw
				}
				zr.Close()
			}
		}
		return nil, true, fmt.Errorf("provider error %d: %s", code, msg)

	default:
		return nil, true, fmt.Errorf("unexpected message type %#x", msgType)
	}
}
