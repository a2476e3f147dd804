package volc

import (
	"bytes"
	"compress/gzip"
	"encoding/binary"
	"io"
	"strings"
	"testing"
)

func TestBuildRequestLayout(t *testing.T) {
	t.Parallel()

	body := []byte(`{"request":{"text":"hello"}}`)
	frame, err := buildRequest(body)
	if err != nil {
		t.Fatal(err)
	}

	want := []byte{
		protocolVersion<<4 | headerSizeUnits,
		msgFullRequest << 4,
		serialJSON<<4 | compressGzip,
		0x00,
	}
	if !bytes.Equal(frame[:4], want) {
		t.Errorf("header = %#x, want %#x", frame[:4], want)
	}

	size := binary.BigEndian.Uint32(frame[4:8])
	if int(size) != len(frame[8:]) {
		t.Fatalf("declared size %d, actual %d", size, len(frame[8:]))
	}

	zr, err := gzip.NewReader(bytes.NewReader(frame[8:]))
	if err != nil {
		t.Fatal(err)
	}
	got, err := io.ReadAll(zr)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, body) {
		t.Errorf("round trip = %q", got)
	}
}

// audioMessage assembles an audio-only server message with the given
// sequence number.
func audioMessage(seq int32, audio []byte) []byte {
	frame := []byte{
		protocolVersion<<4 | headerSizeUnits,
		msgAudioOnly<<4 | 0b0001,
		0x00,
		0x00,
	}
	frame = binary.BigEndian.AppendUint32(frame, uint32(seq))
	frame = binary.BigEndian.AppendUint32(frame, uint32(len(audio)))
	return append(frame, audio...)
}

func TestParseAudioMessage(t *testing.T) {
	t.Parallel()

	audio, done, err := parseMessage(audioMessage(3, []byte{9, 8, 7}))
	if err != nil {
		t.Fatal(err)
	}
	if done {
		t.Error("positive sequence reported done")
	}
	if !bytes.Equal(audio, []byte{9, 8, 7}) {
		t.Errorf("audio = %v", audio)
	}
}

func TestParseFinalAudioMessage(t *testing.T) {
	t.Parallel()

	audio, done, err := parseMessage(audioMessage(-3, []byte{1}))
	if err != nil {
		t.Fatal(err)
	}
	if !done {
		t.Error("negative sequence not reported done")
	}
	if len(audio) != 1 {
		t.Errorf("audio = %v", audio)
	}
}

func TestParseAckMessage(t *testing.T) {
	t.Parallel()

	frame := []byte{
		protocolVersion<<4 | headerSizeUnits,
		msgAudioOnly << 4, // flags 0: bare ack
		0x00,
		0x00,
	}
	audio, done, err := parseMessage(frame)
	if err != nil {
		t.Fatal(err)
	}
	if done || audio != nil {
		t.Errorf("ack: audio=%v done=%v", audio, done)
	}
}

func TestParseErrorMessage(t *testing.T) {
	t.Parallel()

	msg := []byte("quota exceeded")
	frame := []byte{
		protocolVersion<<4 | headerSizeUnits,
		msgServerError << 4,
		0x00, // uncompressed
		0x00,
	}
	frame = binary.BigEndian.AppendUint32(frame, 429)
	frame = binary.BigEndian.AppendUint32(frame, uint32(len(msg)))
	frame = append(frame, msg...)

	_, done, err := parseMessage(frame)
	if !done {
		t.Error("error message not reported done")
	}
	if err == nil || !strings.Contains(err.Error(), "quota exceeded") {
		t.Errorf("err = %v", err)
	}
	if err != nil && !strings.Contains(err.Error(), "429") {
		t.Errorf("err missing code: %v", err)
	}
}

func TestParseFrontendMessageSkipped(t *testing.T) {
	t.Parallel()

	frame := []byte{
		protocolVersion<<4 | headerSizeUnits,
		msgFrontendResp << 4,
		0x00,
		0x00,
		0, 0, 0, 0,
	}
	audio, done, err := parseMessage(frame)
	if err != nil {
		t.Fatal(err)
	}
	if done || audio != nil {
		t.Errorf("frontend: audio=%v done=%v", audio, done)
	}
}
