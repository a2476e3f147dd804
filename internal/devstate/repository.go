package devstate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Field names accepted by the repository.
const (
	FieldConversationID  = "conversation_id"
	FieldVolume          = "volume"
	FieldIsMuted         = "is_muted"
	FieldPlaybackState   = "playback_state"
	FieldCurrentTrack    = "current_track"
	FieldShuffleOn       = "shuffle_on"
	FieldBattery         = "battery"
	FieldIsCharging      = "is_charging"
	FieldWifiSignal      = "wifi_signal"
	FieldIP              = "ip"
	FieldFirmwareVersion = "firmware_version"
	FieldConnectionType  = "connection_type"
	FieldPlaylist        = "playlist"
	FieldRepeatMode      = "repeat_mode"
	FieldAlarms          = "alarms"
)

// Strategy names where a field is persisted.
type Strategy int

const (
	// StrategyMemory keeps the field in process memory only.
	StrategyMemory Strategy = iota

	// StrategyIndividual stores the field as its own distributed key
	// device:{id}:{field}.
	StrategyIndividual

	// StrategyJSON folds the field into the per-device JSON document
	// device:{id}:_state_json.
	StrategyJSON
)

// fieldStrategy is the single source of truth mapping each field to its
// storage tier.
var fieldStrategy = map[string]Strategy{
	FieldConversationID:  StrategyMemory,
	FieldVolume:          StrategyMemory,
	FieldIsMuted:         StrategyMemory,
	FieldPlaybackState:   StrategyMemory,
	FieldCurrentTrack:    StrategyMemory,
	FieldShuffleOn:       StrategyMemory,
	FieldBattery:         StrategyMemory,
	FieldIsCharging:      StrategyMemory,
	FieldWifiSignal:      StrategyMemory,
	FieldIP:              StrategyIndividual,
	FieldFirmwareVersion: StrategyIndividual,
	FieldConnectionType:  StrategyIndividual,
	FieldPlaylist:        StrategyJSON,
	FieldRepeatMode:      StrategyJSON,
	FieldAlarms:          StrategyJSON,
}

// ErrUnknownField is returned by GetFields for a field outside the strategy
// table.
var ErrUnknownField = errors.New("devstate: unknown field")

// ErrAlarmNotFound is returned by UpdateAlarm when no alarm has the given
// id.
var ErrAlarmNotFound = errors.New("devstate: alarm not found")

// jsonDocKey is the suffix of the coalesced JSON document key.
const jsonDocKey = "_state_json"

// RepositoryOption is a functional option for NewRepository.
type RepositoryOption func(*Repository)

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) RepositoryOption {
	return func(r *Repository) { r.logger = logger }
}

// Repository persists one device's state across the three storage tiers.
// Distributed writes for one SetFields call execute in a single pipeline.
// Safe for concurrent use.
type Repository struct {
	deviceID string
	prefix   string
	rdb      redis.UniversalClient
	logger   *slog.Logger

	mu         sync.Mutex
	memory     map[string]any
	jsonCache  map[string]json.RawMessage
	jsonLoaded bool
}

// NewRepository creates a Repository for the given device.
func NewRepository(deviceID string, rdb redis.UniversalClient, opts ...RepositoryOption) (*Repository, error) {
	if deviceID == "" {
		return nil, fmt.Errorf("devstate: deviceID must not be empty")
	}
	r := &Repository{
		deviceID: deviceID,
		prefix:   fmt.Sprintf("device:%s:", deviceID),
		rdb:      rdb,
		memory:   defaultMemory(),
	}
	for _, o := range opts {
		o(r)
	}
	if r.logger == nil {
		r.logger = slog.Default()
	}
	return r, nil
}

func defaultMemory() map[string]any {
	return map[string]any{
		FieldConversationID: "",
		FieldVolume:         50,
		FieldIsMuted:        false,
		FieldPlaybackState:  PlaybackStopped,
		FieldCurrentTrack:   (*AudioTrack)(nil),
		FieldShuffleOn:      false,
		FieldBattery:        100,
		FieldIsCharging:     false,
		FieldWifiSignal:     0,
	}
}

// DeviceID returns the device this repository serves.
func (r *Repository) DeviceID() string { return r.deviceID }

// SetFields applies updates, partitioned by storage strategy. Memory fields
// take effect immediately; all distributed writes for the call go out in one
// pipeline. Fields outside the strategy table are logged and skipped.
func (r *Repository) SetFields(ctx context.Context, updates map[string]any) error {
	individual := make(map[string]any)
	jsonUpdates := make(map[string]any)

	r.mu.Lock()
	for field, value := range updates {
		switch strategy, ok := fieldStrategy[field]; {
		case !ok:
			r.logger.Warn("update for unconfigured field skipped", "field", field)
		case strategy == StrategyMemory:
			r.memory[field] = value
		case strategy == StrategyIndividual:
			individual[field] = value
		default:
			jsonUpdates[field] = value
		}
	}
	r.mu.Unlock()

	if len(individual) == 0 && len(jsonUpdates) == 0 {
		return nil
	}

	var doc []byte
	if len(jsonUpdates) > 0 {
		if err := r.loadJSONDoc(ctx); err != nil {
			return err
		}

		r.mu.Lock()
		for field, value := range jsonUpdates {
			raw, err := json.Marshal(value)
			if err != nil {
				r.mu.Unlock()
				return fmt.Errorf("devstate: marshal %s: %w", field, err)
			}
			r.jsonCache[field] = raw
		}
		var err error
		doc, err = json.Marshal(r.jsonCache)
		r.mu.Unlock()
		if err != nil {
			return fmt.Errorf("devstate: marshal state document: %w", err)
		}
	}

	_, err := r.rdb.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for field, value := range individual {
			pipe.Set(ctx, r.prefix+field, fmt.Sprintf("%v", value), 0)
		}
		if doc != nil {
			pipe.Set(ctx, r.prefix+jsonDocKey, doc, 0)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("devstate: set fields: %w", err)
	}
	return nil
}

// GetFields fetches the named fields, partitioned by strategy. Individual
// distributed fields are fetched in one MGET. Unparseable stored values are
// logged and come back nil.
func (r *Repository) GetFields(ctx context.Context, names ...string) (map[string]any, error) {
	result := make(map[string]any, len(names))
	var individual []string
	var jsonFields []string

	r.mu.Lock()
	for _, field := range names {
		switch strategy, ok := fieldStrategy[field]; {
		case !ok:
			r.mu.Unlock()
			return nil, fmt.Errorf("%w: %s", ErrUnknownField, field)
		case strategy == StrategyMemory:
			result[field] = r.memory[field]
		case strategy == StrategyIndividual:
			individual = append(individual, field)
		default:
			jsonFields = append(jsonFields, field)
		}
	}
	r.mu.Unlock()

	if len(individual) > 0 {
		keys := make([]string, len(individual))
		for i, field := range individual {
			keys[i] = r.prefix + field
		}
		values, err := r.rdb.MGet(ctx, keys...).Result()
		if err != nil {
			return nil, fmt.Errorf("devstate: get fields: %w", err)
		}
		for i, field := range individual {
			raw, _ := values[i].(string)
			result[field] = r.parseIndividual(field, raw, values[i] == nil)
		}
	}

	if len(jsonFields) > 0 {
		if err := r.loadJSONDoc(ctx); err != nil {
			return nil, err
		}
		r.mu.Lock()
		for _, field := range jsonFields {
			result[field] = r.parseJSONLocked(field)
		}
		r.mu.Unlock()
	}

	return result, nil
}

// GetField fetches a single field.
func (r *Repository) GetField(ctx context.Context, name string) (any, error) {
	fields, err := r.GetFields(ctx, name)
	if err != nil {
		return nil, err
	}
	return fields[name], nil
}

// ─── alarms ───

// AddAlarm appends an alarm to the device's alarm list.
func (r *Repository) AddAlarm(ctx context.Context, alarm Alarm) error {
	if err := alarm.Validate(); err != nil {
		return err
	}
	alarms, err := r.ValidAlarms(ctx)
	if err != nil {
		return err
	}
	alarms = append(alarms, alarm)
	return r.SetFields(ctx, map[string]any{FieldAlarms: alarms})
}

// UpdateAlarm replaces the alarm with a matching id.
func (r *Repository) UpdateAlarm(ctx context.Context, alarm Alarm) error {
	if err := alarm.Validate(); err != nil {
		return err
	}
	alarms, err := r.ValidAlarms(ctx)
	if err != nil {
		return err
	}

	found := false
	for i, a := range alarms {
		if a.ID == alarm.ID {
			alarms[i] = alarm
			found = true
		}
	}
	if !found {
		return fmt.Errorf("%w: %s", ErrAlarmNotFound, alarm.ID)
	}
	return r.SetFields(ctx, map[string]any{FieldAlarms: alarms})
}

// DelAlarms removes the alarms with the given ids and returns the removed
// ones.
func (r *Repository) DelAlarms(ctx context.Context, ids []string) ([]Alarm, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	alarms, err := r.ValidAlarms(ctx)
	if err != nil {
		return nil, err
	}

	idSet := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		idSet[id] = struct{}{}
	}

	var keep, removed []Alarm
	for _, a := range alarms {
		if _, ok := idSet[a.ID]; ok {
			removed = append(removed, a)
		} else {
			keep = append(keep, a)
		}
	}
	if err := r.SetFields(ctx, map[string]any{FieldAlarms: keep}); err != nil {
		return nil, err
	}
	return removed, nil
}

// ValidAlarms returns the stored alarms minus expired one-shots. Periodic
// alarms are always retained.
func (r *Repository) ValidAlarms(ctx context.Context) ([]Alarm, error) {
	raw, err := r.GetField(ctx, FieldAlarms)
	if err != nil {
		return nil, err
	}
	alarms, _ := raw.([]Alarm)

	now := time.Now()
	valid := make([]Alarm, 0, len(alarms))
	for _, a := range alarms {
		if a.Type == AlarmPeriodic || a.Trigger.After(now) {
			valid = append(valid, a)
		}
	}
	return valid, nil
}

// ─── snapshots ───

// Snapshot assembles the full device state across all tiers.
func (r *Repository) Snapshot(ctx context.Context) (DeviceState, error) {
	fields, err := r.GetFields(ctx,
		FieldConversationID, FieldVolume, FieldIsMuted, FieldPlaybackState,
		FieldCurrentTrack, FieldShuffleOn, FieldBattery, FieldIsCharging,
		FieldWifiSignal, FieldIP, FieldFirmwareVersion, FieldConnectionType,
		FieldPlaylist, FieldRepeatMode, FieldAlarms)
	if err != nil {
		return DeviceState{}, err
	}

	state := NewDeviceState(r.deviceID)
	if v, ok := fields[FieldConversationID].(string); ok {
		state.ConversationID = v
	}
	if v, ok := toInt(fields[FieldVolume]); ok {
		state.Volume = v
	}
	if v, ok := fields[FieldIsMuted].(bool); ok {
		state.IsMuted = v
	}
	if v, ok := fields[FieldPlaybackState].(PlaybackState); ok {
		state.PlaybackState = v
	}
	if v, ok := fields[FieldCurrentTrack].(*AudioTrack); ok {
		state.CurrentTrack = v
	}
	if v, ok := fields[FieldShuffleOn].(bool); ok {
		state.ShuffleOn = v
	}
	if v, ok := toInt(fields[FieldBattery]); ok {
		state.Battery = v
	}
	if v, ok := fields[FieldIsCharging].(bool); ok {
		state.IsCharging = v
	}
	if v, ok := toInt(fields[FieldWifiSignal]); ok {
		state.WifiSignal = v
	}
	if v, ok := fields[FieldIP].(string); ok && v != "" {
		state.IP = v
	}
	if v, ok := fields[FieldFirmwareVersion].(string); ok && v != "" {
		state.FirmwareVersion = v
	}
	if v, ok := fields[FieldConnectionType].(ConnectionType); ok {
		state.ConnectionType = v
	}
	if v, ok := fields[FieldPlaylist].([]int); ok {
		state.Playlist = v
	}
	if v, ok := fields[FieldRepeatMode].(RepeatMode); ok {
		state.RepeatMode = v
	}
	if v, ok := fields[FieldAlarms].([]Alarm); ok {
		state.Alarms = v
	}
	return state, nil
}

// Load persists a full device state across all tiers.
func (r *Repository) Load(ctx context.Context, state DeviceState) error {
	return r.SetFields(ctx, map[string]any{
		FieldConversationID:  state.ConversationID,
		FieldVolume:          state.Volume,
		FieldIsMuted:         state.IsMuted,
		FieldPlaybackState:   state.PlaybackState,
		FieldCurrentTrack:    state.CurrentTrack,
		FieldShuffleOn:       state.ShuffleOn,
		FieldBattery:         state.Battery,
		FieldIsCharging:      state.IsCharging,
		FieldWifiSignal:      state.WifiSignal,
		FieldIP:              state.IP,
		FieldFirmwareVersion: state.FirmwareVersion,
		FieldConnectionType:  state.ConnectionType,
		FieldPlaylist:        state.Playlist,
		FieldRepeatMode:      state.RepeatMode,
		FieldAlarms:          state.Alarms,
	})
}

// ─── parsing ───

// loadJSONDoc fetches the coalesced document once and caches it.
func (r *Repository) loadJSONDoc(ctx context.Context) error {
	r.mu.Lock()
	loaded := r.jsonLoaded
	r.mu.Unlock()
	if loaded {
		return nil
	}

	raw, err := r.rdb.Get(ctx, r.prefix+jsonDocKey).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("devstate: load state document: %w", err)
	}

	doc := make(map[string]json.RawMessage)
	if raw != "" {
		if err := json.Unmarshal([]byte(raw), &doc); err != nil {
			r.logger.Warn("corrupt state document discarded", "device_id", r.deviceID, "error", err)
			doc = make(map[string]json.RawMessage)
		}
	}

	r.mu.Lock()
	r.jsonCache = doc
	r.jsonLoaded = true
	r.mu.Unlock()
	return nil
}

// parseIndividual converts a raw distributed value into its field type.
// missing yields the zero result; parse failures log and yield nil.
func (r *Repository) parseIndividual(field, raw string, missing bool) any {
	if missing {
		return nil
	}
	switch field {
	case FieldIP, FieldFirmwareVersion:
		return raw
	case FieldConnectionType:
		c, ok := ParseConnectionType(raw)
		if !ok {
			r.logger.Warn("unparseable field value", "field", field, "value", raw)
			return nil
		}
		return c
	}
	return raw
}

// parseJSONLocked decodes one field from the cached document. Callers hold
// r.mu.
func (r *Repository) parseJSONLocked(field string) any {
	raw, ok := r.jsonCache[field]
	if !ok {
		switch field {
		case FieldPlaylist:
			return []int(nil)
		case FieldRepeatMode:
			return RepeatNone
		case FieldAlarms:
			return []Alarm(nil)
		}
		return nil
	}

	switch field {
	case FieldPlaylist:
		var v []int
		if err := json.Unmarshal(raw, &v); err != nil {
			r.logger.Warn("unparseable field value", "field", field, "error", err)
			return nil
		}
		return v
	case FieldRepeatMode:
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			r.logger.Warn("unparseable field value", "field", field, "error", err)
			return nil
		}
		mode, ok := ParseRepeatMode(s)
		if !ok {
			r.logger.Warn("unparseable field value", "field", field, "value", s)
			return nil
		}
		return mode
	case FieldAlarms:
		var v []Alarm
		if err := json.Unmarshal(raw, &v); err != nil {
			r.logger.Warn("unparseable field value", "field", field, "error", err)
			return nil
		}
		return v
	}
	return nil
}

func toInt(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		return int(n), true
	case string:
		i, err := strconv.Atoi(n)
		return i, err == nil
	}
	return 0, false
}
