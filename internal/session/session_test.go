package session_test

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/voxgatehq/voxgate/internal/devstate"
	"github.com/voxgatehq/voxgate/internal/session"
	"github.com/voxgatehq/voxgate/internal/wire"
	"github.com/voxgatehq/voxgate/pkg/pool"
	"github.com/voxgatehq/voxgate/pkg/provider/asr"
	asrmock "github.com/voxgatehq/voxgate/pkg/provider/asr/mock"
	"github.com/voxgatehq/voxgate/pkg/provider/llm"
	llmmock "github.com/voxgatehq/voxgate/pkg/provider/llm/mock"
	"github.com/voxgatehq/voxgate/pkg/provider/tts"
	ttsmock "github.com/voxgatehq/voxgate/pkg/provider/tts/mock"
	"github.com/voxgatehq/voxgate/pkg/provider/vad"
	vadmock "github.com/voxgatehq/voxgate/pkg/provider/vad/mock"
)

// sink collects everything the session emits.
type sink struct {
	mu     sync.Mutex
	events []wire.Event
}

func (s *sink) emit(ev wire.Event) error {
	s.mu.Lock()
	s.events = append(s.events, ev)
	s.mu.Unlock()
	return nil
}

func (s *sink) find(t wire.EventType) (wire.Event, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ev := range s.events {
		if ev.EventType == t {
			return ev, true
		}
	}
	return wire.Event{}, false
}

func (s *sink) count(t wire.EventType) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, ev := range s.events {
		if ev.EventType == t {
			n++
		}
	}
	return n
}

// fixture assembles a session over scriptable provider mocks and a
// miniredis-backed device repository.
type fixture struct {
	sess *session.Session
	sink *sink
	repo *devstate.Repository

	vad   *vadmock.Engine
	asr   *asrmock.Driver
	tts   *ttsmock.Driver
	lite  *llmmock.Provider
	think *llmmock.Provider
	llm   *llm.Client

	pools session.Pools
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	f := &fixture{
		sink:  &sink{},
		vad:   &vadmock.Engine{},
		asr:   &asrmock.Driver{},
		tts:   &ttsmock.Driver{},
		lite:  &llmmock.Provider{},
		think: &llmmock.Provider{},
	}
	f.llm = llm.NewClient(f.lite, f.think)
	f.pools = session.Pools{
		VAD: pool.New(4, func(ctx context.Context) (vad.Engine, error) { return f.vad, nil }, nil),
		ASR: pool.New(4, func(ctx context.Context) (asr.Driver, error) { return f.asr, nil }, nil),
		TTS: pool.New(4, func(ctx context.Context) (tts.Driver, error) { return f.tts, nil }, nil),
		LLM: pool.New(4, func(ctx context.Context) (*llm.Client, error) { return f.llm, nil }, nil),
	}

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	repo, err := devstate.NewRepository("dev-1", rdb)
	if err != nil {
		t.Fatal(err)
	}
	f.repo = repo

	f.sess = session.New("user-1", f.sink.emit, f.pools, repo)
	t.Cleanup(func() { f.sess.Close() })
	return f
}

func clientEvent(typ wire.EventType, data any) wire.Event {
	ev := wire.Event{ID: "e1", EventType: typ}
	if data != nil {
		raw, err := json.Marshal(data)
		if err != nil {
			panic(err)
		}
		ev.Data = raw
	}
	return ev
}

func frameEvent(frame []byte) wire.Event {
	return clientEvent(wire.EventInputAudioAppend,
		wire.DeltaData{Delta: base64.StdEncoding.EncodeToString(frame)})
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal(msg)
}

func decodeContent(t *testing.T, ev wire.Event) any {
	t.Helper()
	var data wire.ContentData
	if err := json.Unmarshal(ev.Data, &data); err != nil {
		t.Fatal(err)
	}
	return data.Content
}

func decodeMessage(t *testing.T, ev wire.Event) wire.MessageData {
	t.Helper()
	var data wire.MessageData
	if err := json.Unmarshal(ev.Data, &data); err != nil {
		t.Fatal(err)
	}
	return data
}

func TestChatUpdatePrimesPipeline(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ev := clientEvent(wire.EventChatUpdate, wire.ChatUpdateData{
		ChatConfig: wire.ChatConfig{ConversationID: "conv-9"},
	})
	if err := f.sess.HandleEvent(context.Background(), ev); err != nil {
		t.Fatal(err)
	}

	if f.asr.StartCount != 1 {
		t.Errorf("asr start count = %d", f.asr.StartCount)
	}
	if f.vad.ResetCount != 1 {
		t.Errorf("vad reset count = %d", f.vad.ResetCount)
	}
	if _, ok := f.sink.find(wire.EventChatUpdated); !ok {
		t.Error("chat.updated never emitted")
	}
	if f.sess.Mode() != session.ModeChat {
		t.Errorf("mode = %v", f.sess.Mode())
	}

	got, err := f.repo.GetField(context.Background(), devstate.FieldConversationID)
	if err != nil {
		t.Fatal(err)
	}
	if got != "conv-9" {
		t.Errorf("conversation id = %v", got)
	}
}

func TestAudioAppendFansOutAndReportsVad(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.vad.Changes = []bool{true}

	if err := f.sess.HandleEvent(context.Background(), clientEvent(wire.EventChatUpdate, nil)); err != nil {
		t.Fatal(err)
	}
	frame := []byte("pcm-frame")
	if err := f.sess.HandleEvent(context.Background(), frameEvent(frame)); err != nil {
		t.Fatal(err)
	}

	if len(f.asr.Appended) != 1 || string(f.asr.Appended[0]) != "pcm-frame" {
		t.Errorf("asr appended = %q", f.asr.Appended)
	}
	ev, ok := f.sink.find(wire.EventAudioTranscriptVAD)
	if !ok {
		t.Fatal("vad event never emitted")
	}
	if got := decodeContent(t, ev); got != true {
		t.Errorf("vad content = %v", got)
	}
}

func TestAppendBeforeUpdateIsViolation(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	if err := f.sess.HandleEvent(context.Background(), frameEvent([]byte("x"))); err != nil {
		t.Fatal(err)
	}

	ev, ok := f.sink.find(wire.EventError)
	if !ok {
		t.Fatal("error event never emitted")
	}
	var data wire.ErrorData
	if err := json.Unmarshal(ev.Data, &data); err != nil {
		t.Fatal(err)
	}
	if data.Code != 400 {
		t.Errorf("error code = %d", data.Code)
	}
	if len(f.asr.Appended) != 0 {
		t.Errorf("asr received %d chunks", len(f.asr.Appended))
	}
}

func TestChatTurnStreamsReply(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.asr.Partials = []string{"hel"}
	f.asr.Final = "hello there"
	f.lite.CompleteResponses = []llm.CompletionResponse{{Content: "chat: greeting"}}
	f.think.StreamChunks = []llm.Chunk{{Text: "Hi there."}}
	f.tts.Chunks = [][]byte{[]byte("pcm-1")}

	ctx := context.Background()
	if err := f.sess.HandleEvent(ctx, clientEvent(wire.EventChatUpdate, nil)); err != nil {
		t.Fatal(err)
	}
	if err := f.sess.HandleEvent(ctx, frameEvent([]byte("frame"))); err != nil {
		t.Fatal(err)
	}
	if err := f.sess.HandleEvent(ctx, clientEvent(wire.EventInputAudioComplete, nil)); err != nil {
		t.Fatal(err)
	}

	waitFor(t, 5*time.Second, func() bool {
		return f.sink.count(wire.EventConversationChatCompleted) == 1
	}, "turn never completed")

	if ev, ok := f.sink.find(wire.EventAudioTranscriptUpdate); !ok {
		t.Error("partial transcript never emitted")
	} else if got := decodeContent(t, ev); got != "hel" {
		t.Errorf("partial = %v", got)
	}
	if ev, ok := f.sink.find(wire.EventAudioTranscriptCompleted); !ok {
		t.Error("final transcript never emitted")
	} else if got := decodeContent(t, ev); got != "hello there" {
		t.Errorf("final = %v", got)
	}

	ev, ok := f.sink.find(wire.EventAudioURL)
	if !ok {
		t.Fatal("audio url never emitted")
	}
	token, _ := decodeContent(t, ev).(string)
	if !strings.HasPrefix(token, "user-1.tts_req_") {
		t.Errorf("audio url token = %q", token)
	}

	if ev, ok := f.sink.find(wire.EventMessageDelta); !ok {
		t.Error("message delta never emitted")
	} else if msg := decodeMessage(t, ev); msg.Content != "Hi there." {
		t.Errorf("delta content = %q", msg.Content)
	}
	if ev, ok := f.sink.find(wire.EventMessageCompleted); !ok {
		t.Error("message completed never emitted")
	} else if msg := decodeMessage(t, ev); msg.Content != "Hi there." || msg.MetaData != nil {
		t.Errorf("completed message = %+v", msg)
	}

	if ev, ok := f.sink.find(wire.EventAudioDelta); !ok {
		t.Error("audio delta never emitted")
	} else {
		var data wire.DeltaData
		if err := json.Unmarshal(ev.Data, &data); err != nil {
			t.Fatal(err)
		}
		if data.Delta != base64.StdEncoding.EncodeToString([]byte("pcm-1")) {
			t.Errorf("audio delta = %q", data.Delta)
		}
	}
	if _, ok := f.sink.find(wire.EventAudioCompleted); !ok {
		t.Error("audio completed never emitted")
	}

	found := false
	for _, q := range f.tts.Queries {
		if q.Text == "Hi there." && q.IsFinal {
			found = true
		}
	}
	if !found {
		t.Errorf("tts queries = %+v", f.tts.Queries)
	}

	if history := f.llm.Memory().History(); len(history) != 2 || history[0].Content != "hello there" {
		t.Errorf("memory history = %+v", history)
	}
}

func TestChatTurnShortCircuitsCommand(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.asr.Final = "turn on the light"
	f.lite.CompleteResponses = []llm.CompletionResponse{
		{Content: "control: turn on the light"},
		{Content: `{"device":"light","action":"on","value":null,"raw_input":"turn on the light"}`},
	}

	ctx := context.Background()
	if err := f.sess.HandleEvent(ctx, clientEvent(wire.EventChatUpdate, nil)); err != nil {
		t.Fatal(err)
	}
	if err := f.sess.HandleEvent(ctx, clientEvent(wire.EventInputAudioComplete, nil)); err != nil {
		t.Fatal(err)
	}

	waitFor(t, 5*time.Second, func() bool {
		return f.sink.count(wire.EventConversationChatCompleted) == 1
	}, "turn never completed")

	ev, ok := f.sink.find(wire.EventMessageCompleted)
	if !ok {
		t.Fatal("message completed never emitted")
	}
	msg := decodeMessage(t, ev)
	if msg.MetaData == nil || msg.MetaData.Type != wire.CommandControl {
		t.Fatalf("metadata = %+v", msg.MetaData)
	}
	if msg.Content != "Command dispatched" {
		t.Errorf("content = %q", msg.Content)
	}

	if len(f.think.StreamCalls) != 0 {
		t.Errorf("streaming ran %d times on a short-circuit turn", len(f.think.StreamCalls))
	}
	if len(f.tts.Queries) != 1 || !f.tts.Queries[0].IsFinal {
		t.Errorf("tts queries = %+v", f.tts.Queries)
	}
	if f.llm.Memory().Len() != 1 {
		t.Errorf("memory turns = %d", f.llm.Memory().Len())
	}
}

func TestStreamFailureCancelsTurn(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.asr.Final = "tell me something"
	f.lite.CompleteResponses = []llm.CompletionResponse{{Content: "chat: small talk"}}
	f.think.StreamErr = context.DeadlineExceeded

	ctx := context.Background()
	if err := f.sess.HandleEvent(ctx, clientEvent(wire.EventChatUpdate, nil)); err != nil {
		t.Fatal(err)
	}
	if err := f.sess.HandleEvent(ctx, clientEvent(wire.EventInputAudioComplete, nil)); err != nil {
		t.Fatal(err)
	}

	waitFor(t, 5*time.Second, func() bool {
		return f.sink.count(wire.EventConversationChatCanceled) == 1
	}, "canceled event never emitted")

	if _, ok := f.sink.find(wire.EventMessageCompleted); ok {
		t.Error("message completed emitted on a failed turn")
	}
}

func TestSpeechModeSynthesizesText(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.tts.Chunks = [][]byte{[]byte("pcm-a")}

	ctx := context.Background()
	if err := f.sess.HandleEvent(ctx, clientEvent(wire.EventSpeechUpdate, nil)); err != nil {
		t.Fatal(err)
	}

	ev, ok := f.sink.find(wire.EventSpeechAudioURL)
	if !ok {
		t.Fatal("speech audio url never emitted")
	}
	token, _ := decodeContent(t, ev).(string)
	if !strings.HasPrefix(token, "user-1.tts_req_") {
		t.Errorf("audio url token = %q", token)
	}

	if err := f.sess.HandleEvent(ctx, clientEvent(wire.EventInputTextAppend, wire.DeltaData{Delta: "Hello."})); err != nil {
		t.Fatal(err)
	}
	if err := f.sess.HandleEvent(ctx, clientEvent(wire.EventInputTextComplete, nil)); err != nil {
		t.Fatal(err)
	}

	want := []ttsmock.Query{{Text: "Hello.", IsFinal: false}, {Text: "", IsFinal: true}}
	if len(f.tts.Queries) != 2 || f.tts.Queries[0] != want[0] || f.tts.Queries[1] != want[1] {
		t.Errorf("tts queries = %+v", f.tts.Queries)
	}
	if _, ok := f.sink.find(wire.EventSpeechAudioUpdate); !ok {
		t.Error("speech audio update never emitted")
	}
	if _, ok := f.sink.find(wire.EventSpeechAudioCompleted); !ok {
		t.Error("speech audio completed never emitted")
	}
}

func TestTranscriptionsModeSkipsGeneration(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.asr.Partials = []string{"he"}
	f.asr.Final = "hey"
	f.vad.Changes = []bool{true}

	ctx := context.Background()
	if err := f.sess.HandleEvent(ctx, clientEvent(wire.EventTranscriptionsUpdate, nil)); err != nil {
		t.Fatal(err)
	}
	if f.asr.StartCount != 1 {
		t.Errorf("asr start count = %d", f.asr.StartCount)
	}

	if err := f.sess.HandleEvent(ctx, frameEvent([]byte("frame"))); err != nil {
		t.Fatal(err)
	}
	if _, ok := f.sink.find(wire.EventTranscriptionsVAD); !ok {
		t.Error("transcriptions vad event never emitted")
	}

	if err := f.sess.HandleEvent(ctx, clientEvent(wire.EventInputAudioComplete, nil)); err != nil {
		t.Fatal(err)
	}
	if _, ok := f.sink.find(wire.EventTranscriptionsMessageCompleted); !ok {
		t.Error("transcriptions completed never emitted")
	}
	if n := f.sink.count(wire.EventTranscriptionsMessageUpdate); n != 2 {
		t.Errorf("transcript updates = %d", n)
	}
	if _, ok := f.sink.find(wire.EventAudioURL); ok {
		t.Error("generation turn ran in transcriptions mode")
	}
}

func TestCloseReleasesHandles(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	if err := f.sess.Close(); err != nil {
		t.Fatal(err)
	}
	if err := f.sess.Close(); err != nil {
		t.Fatal(err)
	}

	if f.pools.VAD.Len() != 1 || f.pools.ASR.Len() != 1 || f.pools.TTS.Len() != 1 || f.pools.LLM.Len() != 1 {
		t.Errorf("pool lens = %d %d %d %d",
			f.pools.VAD.Len(), f.pools.ASR.Len(), f.pools.TTS.Len(), f.pools.LLM.Len())
	}
	if f.asr.ResetCount == 0 || f.tts.ResetCount == 0 || f.vad.ResetCount == 0 {
		t.Errorf("reset counts = asr %d tts %d vad %d",
			f.asr.ResetCount, f.tts.ResetCount, f.vad.ResetCount)
	}
}

func TestMissingHandleReportsUnavailable(t *testing.T) {
	t.Parallel()

	s := &sink{}
	sess := session.New("user-1", s.emit, session.Pools{}, nil)
	t.Cleanup(func() { sess.Close() })

	err := sess.HandleEvent(context.Background(), clientEvent(wire.EventChatUpdate, nil))
	if err == nil {
		t.Fatal("expected an error for a missing handle")
	}

	ev, ok := s.find(wire.EventError)
	if !ok {
		t.Fatal("error event never emitted")
	}
	var data wire.ErrorData
	if err := json.Unmarshal(ev.Data, &data); err != nil {
		t.Fatal(err)
	}
	if data.Code != 503 {
		t.Errorf("error code = %d", data.Code)
	}
}
