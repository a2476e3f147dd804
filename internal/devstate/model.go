// Package devstate models per-device speaker state and persists it across a
// layered store: hot fields live in process memory, identity fields live as
// individual distributed keys, and structured fields are coalesced into one
// JSON document per device.
package devstate

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ─── enums ───

// ConnectionType is the device network link kind. Serialized by name.
type ConnectionType string

const (
	ConnectionWifi     ConnectionType = "WIFI"
	ConnectionEthernet ConnectionType = "ETHERNET"
	ConnectionCellular ConnectionType = "CELLULAR"
)

// IsValid reports whether the connection type is a known value.
func (c ConnectionType) IsValid() bool {
	switch c {
	case ConnectionWifi, ConnectionEthernet, ConnectionCellular:
		return true
	}
	return false
}

// PlaybackState is the media playback state. Serialized by name.
type PlaybackState string

const (
	PlaybackStopped   PlaybackState = "STOPPED"
	PlaybackPlaying   PlaybackState = "PLAYING"
	PlaybackPaused    PlaybackState = "PAUSED"
	PlaybackBuffering PlaybackState = "BUFFERING"
)

// IsValid reports whether the playback state is a known value.
func (p PlaybackState) IsValid() bool {
	switch p {
	case PlaybackStopped, PlaybackPlaying, PlaybackPaused, PlaybackBuffering:
		return true
	}
	return false
}

// RepeatMode is the playlist repeat mode. Serialized by name.
type RepeatMode string

const (
	RepeatNone RepeatMode = "NONE"
	RepeatOne  RepeatMode = "ONE"
	RepeatAll  RepeatMode = "ALL"
)

// IsValid reports whether the repeat mode is a known value.
func (r RepeatMode) IsValid() bool {
	switch r {
	case RepeatNone, RepeatOne, RepeatAll:
		return true
	}
	return false
}

// AlarmType distinguishes repeating alarms from one-shots.
type AlarmType string

const (
	AlarmPeriodic    AlarmType = "PERIODIC"
	AlarmNonPeriodic AlarmType = "NON_PERIODIC"
)

// IsRepeating reports whether alarms of this type fire on a weekly schedule.
func (a AlarmType) IsRepeating() bool { return a == AlarmPeriodic }

// DeviceComponent names a controllable device component. Used by the device
// control vocabulary.
type DeviceComponent string

const (
	ComponentLight      DeviceComponent = "light"
	ComponentScreen     DeviceComponent = "screen"
	ComponentBluetooth  DeviceComponent = "bluetooth"
	ComponentVolume     DeviceComponent = "volume"
	ComponentPlayback   DeviceComponent = "playback"
	ComponentMode       DeviceComponent = "mode"
	ComponentMicrophone DeviceComponent = "microphone"
)

// IsValid reports whether the component is part of the control vocabulary.
func (d DeviceComponent) IsValid() bool {
	switch d {
	case ComponentLight, ComponentScreen, ComponentBluetooth, ComponentVolume,
		ComponentPlayback, ComponentMode, ComponentMicrophone:
		return true
	}
	return false
}

// ActionType names a control action. Used by the device control vocabulary.
type ActionType string

const (
	ActionOn         ActionType = "on"
	ActionOff        ActionType = "off"
	ActionAdjust     ActionType = "adjust"
	ActionPause      ActionType = "pause"
	ActionContinue   ActionType = "continue"
	ActionNext       ActionType = "next"
	ActionPrev       ActionType = "prev"
	ActionJump       ActionType = "jump"
	ActionSet        ActionType = "set"
	ActionMute       ActionType = "mute"
	ActionUnmute     ActionType = "unmute"
	ActionRecord     ActionType = "record"
	ActionStopRecord ActionType = "stop_record"
)

// IsValid reports whether the action is part of the control vocabulary.
func (a ActionType) IsValid() bool {
	switch a {
	case ActionOn, ActionOff, ActionAdjust, ActionPause, ActionContinue,
		ActionNext, ActionPrev, ActionJump, ActionSet, ActionMute,
		ActionUnmute, ActionRecord, ActionStopRecord:
		return true
	}
	return false
}

// ModeType names an operating mode reachable through the "mode" component.
type ModeType string

const (
	ModeSleep        ModeType = "sleep"
	ModeChild        ModeType = "child"
	ModeSingleLoop   ModeType = "single_loop"
	ModeListLoop     ModeType = "list_loop"
	ModeShuffle      ModeType = "shuffle"
	ModeVoiceCommand ModeType = "voice_command"
	ModeKaraoke      ModeType = "karaoke"
	ModeMeeting      ModeType = "meeting"
)

// ─── structured values ───

// AudioTrack describes one playable track.
type AudioTrack struct {
	SongID    int    `json:"song_id"`
	AlbumID   int    `json:"album_id"`
	SingerID  int    `json:"singer_id"`
	SongName  string `json:"song_name"`
	AlbumName string `json:"album_name"`
	Duration  int    `json:"duration"`
	CoverURL  string `json:"cover_url"`
	StoreURL  string `json:"store_url"`
}

// Validate checks structural invariants.
func (t AudioTrack) Validate() error {
	if t.SongID < 0 || t.AlbumID < 0 || t.SingerID < 0 {
		return fmt.Errorf("devstate: track ids must be non-negative")
	}
	if t.Duration < 0 {
		return fmt.Errorf("devstate: track duration must be non-negative")
	}
	if t.SongName == "" || t.AlbumName == "" || t.CoverURL == "" || t.StoreURL == "" {
		return fmt.Errorf("devstate: track string fields must be non-empty")
	}
	return nil
}

// Alarm is one scheduled alarm. Periodic alarms fire at Trigger's clock time
// on the weekdays in Repeat (0 = Monday); non-periodic alarms fire once at
// the full Trigger instant.
type Alarm struct {
	ID      string
	Type    AlarmType
	Trigger time.Time
	Repeat  []int
	Label   string
}

// NewAlarmID returns a fresh alarm id.
func NewAlarmID() string {
	u := uuid.New()
	return fmt.Sprintf("%x", u[:])
}

// Validate checks structural invariants.
func (a Alarm) Validate() error {
	if a.ID == "" {
		return fmt.Errorf("devstate: alarm id must be non-empty")
	}
	if a.Type != AlarmPeriodic && a.Type != AlarmNonPeriodic {
		return fmt.Errorf("devstate: unknown alarm type %q", a.Type)
	}
	for _, day := range a.Repeat {
		if day < 0 || day > 6 {
			return fmt.Errorf("devstate: repeat day %d out of range 0-6", day)
		}
	}
	return nil
}

const (
	clockLayout    = "15:04:05"
	dateTimeLayout = "2006-01-02T15:04:05"
)

// alarmJSON is the wire shape of an Alarm inside the state document.
type alarmJSON struct {
	ID        string `json:"id"`
	AlarmType string `json:"alarm_type"`
	Trigger   string `json:"trigger"`
	Repeat    []int  `json:"repeat"`
	Label     string `json:"label,omitempty"`
}

// MarshalJSON encodes the trigger as a bare clock time for periodic alarms
// and an ISO-8601 datetime for one-shots.
func (a Alarm) MarshalJSON() ([]byte, error) {
	trigger := a.Trigger.Format(dateTimeLayout)
	if a.Type == AlarmPeriodic {
		trigger = a.Trigger.Format(clockLayout)
	}
	return json.Marshal(alarmJSON{
		ID:        a.ID,
		AlarmType: string(a.Type),
		Trigger:   trigger,
		Repeat:    a.Repeat,
		Label:     a.Label,
	})
}

// UnmarshalJSON accepts both trigger shapes.
func (a *Alarm) UnmarshalJSON(data []byte) error {
	var raw alarmJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	trigger, ok := ParseTime(raw.Trigger)
	if !ok {
		return fmt.Errorf("devstate: unparseable alarm trigger %q", raw.Trigger)
	}
	*a = Alarm{
		ID:      raw.ID,
		Type:    AlarmType(strings.ToUpper(enumName(raw.AlarmType))),
		Trigger: trigger,
		Repeat:  raw.Repeat,
		Label:   raw.Label,
	}
	return nil
}

// ParseTime parses an ISO-8601 datetime, a bare clock time, or a bare date.
func ParseTime(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range []string{
		time.RFC3339,
		dateTimeLayout,
		"2006-01-02 15:04:05",
		"2006-01-02",
		clockLayout,
		"15:04",
	} {
		if t, err := time.ParseInLocation(layout, s, time.Local); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// enumName strips a dotted type prefix so both "ConnectionType.WIFI" and
// "WIFI" parse.
func enumName(s string) string {
	if i := strings.LastIndex(s, "."); i >= 0 {
		s = s[i+1:]
	}
	return strings.TrimSpace(s)
}

// ParseConnectionType leniently parses a serialized connection type.
func ParseConnectionType(s string) (ConnectionType, bool) {
	c := ConnectionType(strings.ToUpper(enumName(s)))
	return c, c.IsValid()
}

// ParsePlaybackState leniently parses a serialized playback state.
func ParsePlaybackState(s string) (PlaybackState, bool) {
	p := PlaybackState(strings.ToUpper(enumName(s)))
	return p, p.IsValid()
}

// ParseRepeatMode leniently parses a serialized repeat mode.
func ParseRepeatMode(s string) (RepeatMode, bool) {
	r := RepeatMode(strings.ToUpper(enumName(s)))
	return r, r.IsValid()
}

// ─── device state ───

// DeviceState is a full snapshot of one speaker's state.
type DeviceState struct {
	DeviceID        string
	IP              string
	FirmwareVersion string

	ConversationID string

	Volume        int
	IsMuted       bool
	PlaybackState PlaybackState
	CurrentTrack  *AudioTrack
	Playlist      []int
	RepeatMode    RepeatMode
	ShuffleOn     bool

	ConnectionType ConnectionType
	WifiSignal     int

	Battery    int
	IsCharging bool

	Alarms []Alarm
}

// NewDeviceState returns a DeviceState with factory defaults.
func NewDeviceState(deviceID string) DeviceState {
	return DeviceState{
		DeviceID:        deviceID,
		IP:              "192.168.1.1",
		FirmwareVersion: "1.0.0",
		Volume:          50,
		PlaybackState:   PlaybackStopped,
		RepeatMode:      RepeatNone,
		ConnectionType:  ConnectionWifi,
		Battery:         100,
	}
}

// Validate checks range invariants.
func (s DeviceState) Validate() error {
	if s.DeviceID == "" {
		return fmt.Errorf("devstate: device id must be non-empty")
	}
	if s.Volume < 0 || s.Volume > 100 {
		return fmt.Errorf("devstate: volume %d out of range 0-100", s.Volume)
	}
	if s.WifiSignal < 0 || s.WifiSignal > 4 {
		return fmt.Errorf("devstate: wifi signal %d out of range 0-4", s.WifiSignal)
	}
	if s.Battery < 0 || s.Battery > 100 {
		return fmt.Errorf("devstate: battery %d out of range 0-100", s.Battery)
	}
	return nil
}
