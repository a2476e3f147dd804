package volc

import (
	"bytes"
	"compress/gzip"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
)

// Binary frame layout, client and server alike:
//
//	byte 0: protocol version (4 bits) | header size in 4-byte units (4 bits)
//	byte 1: message type (4 bits)     | message type specific flags (4 bits)
//	byte 2: serialization (4 bits)    | compression (4 bits)
//	byte 3: reserved
//	then the payload section, whose shape depends on the message type.
const (
	protocolVersion = 0b0001
	headerSizeUnits = 0b0001

	msgClientFullRequest = 0b0001
	msgClientAudioOnly   = 0b0010
	msgServerFullResp    = 0b1001
	msgServerAck         = 0b1011
	msgServerError       = 0b1111

	flagNoSequence  = 0b0000
	flagNegSequence = 0b0010

	serialNone = 0b0000
	serialJSON = 0b0001

	compressNone = 0b0000
	compressGzip = 0b0001
)

// encodeFrame builds a client frame: 4-byte header, big-endian u32 length of
// the gzip-compressed payload, then the compressed payload itself.
func encodeFrame(msgType, flags byte, payload []byte) ([]byte, error) {
	serial := byte(serialNone)
	if msgType == msgClientFullRequest {
		serial = serialJSON
	}

	var compressed bytes.Buffer
	zw := gzip.NewWriter(&compressed)
	if _, err := zw.Write(payload); err != nil {
		return nil, fmt.Errorf("compress payload: %w", err)
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("compress payload: %w", err)
	}

	frame := make([]byte, 0, 4+4+compressed.Len())
	frame = append(frame,
		protocolVersion<<4|headerSizeUnits,
		msgType<<4|flags,
		serial<<4|compressGzip,
		0x00,
	)
	frame = binary.BigEndian.AppendUint32(frame, uint32(compressed.Len()))
	frame = append(frame, compressed.Bytes()...)
	return frame, nil
}

// serverFrame is a decoded server message.
type serverFrame struct {
	MessageType byte
	Sequence    int32
	Code        uint32
	Payload     []byte
}

// decodeFrame parses a server frame, decompressing the payload when the
// header marks it gzip-compressed.
func decodeFrame(data []byte) (serverFrame, error) {
	if len(data) < 4 {
		return serverFrame{}, fmt.Errorf("frame too short: %d bytes", len(data))
	}

	headerSize := int(data[0]&0x0f) * 4
	msgType := data[1] >> 4
	compression := data[2] & 0x0f

	if len(data) < headerSize {
		return serverFrame{}, fmt.Errorf("truncated header: %d bytes", len(data))
	}
	payload := data[headerSize:]

	f := serverFrame{MessageType: msgType}
	var body []byte

	switch msgType {
	case msgServerFullResp:
		if len(payload) < 4 {
			return serverFrame{}, fmt.Errorf("truncated response payload")
		}
		body = payload[4:]
	case msgServerAck:
		if len(payload) < 4 {
			return serverFrame{}, fmt.Errorf("truncated ack payload")
		}
		f.Sequence = int32(binary.BigEndian.Uint32(payload[:4]))
		if len(payload) >= 8 {
			body = payload[8:]
		}
	case msgServerError:
		if len(payload) < 8 {
			return serverFrame{}, fmt.Errorf("truncated error payload")
		}
		f.Code = binary.BigEndian.Uint32(payload[:4])
		body = payload[8:]
	default:
		return serverFrame{}, fmt.Errorf("unexpected message type %#x", msgType)
	}

	if len(body) == 0 {
		return f, nil
	}

	if compression == compressGzip {
		zr, err := gzip.NewReader(bytes.NewReader(body))
		if err != nil {
			return serverFrame{}, fmt.Errorf("decompress payload: %w", err)
		}
		defer zr.Close()
		body, err = io.ReadAll(zr)
		if err != nil {
			return serverFrame{}, fmt.Errorf("decompress payload: %w", err)
		}
	}

	f.Payload = body
	return f, nil
}

// recognitionResult is the JSON body of a server response carrying text.
type recognitionResult struct {
	Result []struct {
		Text string `json:"text"`
	} `json:"result"`
}

// extractText pulls the best-candidate recognized text out of a server
// payload. Missing or malformed results yield an empty string, not an error;
// the provider interleaves bookkeeping responses with recognition updates.
func extractText(payload []byte) string {
	if len(payload) == 0 {
		return ""
	}
	var r recognitionResult
	if err := json.Unmarshal(payload, &r); err != nil {
		return ""
	}
	if len(r.Result) == 0 {
		return ""
	}
	return r.Result[0].Text
}
