package intent

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/voxgatehq/voxgate/internal/devstate"
	"github.com/voxgatehq/voxgate/internal/wire"
	"github.com/voxgatehq/voxgate/pkg/provider/llm"
)

// AlarmAction turns utterances into alarm mutations. A second model call
// produces one line of the ADD/DEL/LIST command DSL which is then parsed
// and applied to the device state. The result always short-circuits with a
// structured alarm command.
type AlarmAction struct {
	llm *llm.Client
}

var _ Action = (*AlarmAction)(nil)

// NewAlarmAction builds the alarm handler.
func NewAlarmAction(client *llm.Client) *AlarmAction {
	return &AlarmAction{llm: client}
}

// Name implements Action.
func (a *AlarmAction) Name() string { return IntentAlarm }

// SystemPrompt implements Action.
func (a *AlarmAction) SystemPrompt() string { return alarmPrompt }

// Process implements Action.
func (a *AlarmAction) Process(ctx context.Context, req Request) (ActionResult, error) {
	if req.Repo == nil {
		return ActionResult{}, fmt.Errorf("intent: alarm: no device repository")
	}

	prompt := fmt.Sprintf("Current time: %s\nUser query: %s\nGenerate a relevant response considering:\n- Previous conversation history",
		formattedDate(req.Now), req.Text)

	reply, err := a.llm.Query(ctx, llm.SlotThink, prompt, alarmPrompt, true)
	if err != nil {
		return ActionResult{}, fmt.Errorf("intent: alarm command extraction: %w", err)
	}

	return a.apply(ctx, req, strings.TrimSpace(reply))
}

// apply parses one DSL line and mutates device state accordingly.
func (a *AlarmAction) apply(ctx context.Context, req Request, line string) (ActionResult, error) {
	switch {
	case strings.HasPrefix(line, "ADD"):
		return a.handleAdd(ctx, req, line[3:])
	case strings.HasPrefix(line, "DEL"):
		return a.handleDelList(ctx, req, "del", line[3:])
	case strings.HasPrefix(line, "LIST"):
		return a.handleDelList(ctx, req, "list", line[4:])
	}
	return invalidAlarmResult(), nil
}

func (a *AlarmAction) handleAdd(ctx context.Context, req Request, rest string) (ActionResult, error) {
	params := parseAlarmParams(rest)
	raw, ok := params["time"]
	if !ok {
		return invalidAlarmResult(), nil
	}
	trigger, isClock, err := parseAlarmTime(raw)
	if err != nil {
		return invalidAlarmResult(), nil
	}

	repeat, err := parseRepeat(params["repeat"])
	if err != nil {
		return invalidAlarmResult(), nil
	}

	alarm := devstate.Alarm{
		ID:      devstate.NewAlarmID(),
		Type:    devstate.AlarmNonPeriodic,
		Trigger: trigger,
		Repeat:  repeat,
		Label:   params["label"],
	}
	if alarm.Label == "" {
		alarm.Label = "unknown"
	}
	if len(repeat) > 0 {
		alarm.Type = devstate.AlarmPeriodic
	} else if isClock {
		// Bare clock time with no schedule means the next occurrence.
		alarm.Trigger = nextClockInstant(req.Now, trigger)
	}
	if err := alarm.Validate(); err != nil {
		return invalidAlarmResult(), nil
	}

	if err := req.Repo.AddAlarm(ctx, alarm); err != nil {
		return ActionResult{}, fmt.Errorf("intent: add alarm: %w", err)
	}
	return successAlarmResult("add",
		"Alarm added successfully. "+alarmSummary(alarm),
		[]devstate.Alarm{alarm}), nil
}

func (a *AlarmAction) handleDelList(ctx context.Context, req Request, cmd, rest string) (ActionResult, error) {
	cond, err := parseAlarmConditions(parseAlarmParams(rest))
	if err != nil {
		return invalidAlarmResult(), nil
	}

	alarms, err := req.Repo.ValidAlarms(ctx)
	if err != nil {
		return ActionResult{}, fmt.Errorf("intent: load alarms: %w", err)
	}
	matched := filterAlarms(alarms, cond)
	if len(matched) == 0 {
		return successAlarmResult(cmd, "No matching alarms found.", nil), nil
	}

	if cmd == "del" {
		ids := make([]string, len(matched))
		for i, alarm := range matched {
			ids[i] = alarm.ID
		}
		removed, err := req.Repo.DelAlarms(ctx, ids)
		if err != nil {
			return ActionResult{}, fmt.Errorf("intent: delete alarms: %w", err)
		}
		return successAlarmResult(cmd,
			"The following alarms have been deleted:\n"+summaries(removed), removed), nil
	}

	return successAlarmResult(cmd,
		"The following alarms have been found:\n"+summaries(matched), matched), nil
}

func successAlarmResult(cmd, message string, alarms []devstate.Alarm) ActionResult {
	if alarms == nil {
		alarms = []devstate.Alarm{}
	}
	return ActionResult{
		UserPrompt: message,
		MetaData:   wire.BuildCommand(wire.CommandAlarm, cmd, map[string]any{"alarms": alarms}),
	}
}

func invalidAlarmResult() ActionResult {
	return ActionResult{
		UserPrompt: "Alarm request not recognized. Please try again.",
		MetaData:   wire.BuildCommand(wire.CommandAlarm, "invalid", nil),
	}
}

// ─── DSL parsing ───

// alarmKeyPattern anchors k= keys at the start or after whitespace so
// datetime values containing spaces survive splitting.
var alarmKeyPattern = regexp.MustCompile(`(?:^|\s)(\w+)=`)

// parseAlarmParams splits whitespace-tolerant k=v pairs. Values run until
// the next key or end of line; surrounding double quotes are stripped.
func parseAlarmParams(s string) map[string]string {
	params := make(map[string]string)
	locs := alarmKeyPattern.FindAllStringSubmatchIndex(s, -1)
	for i, loc := range locs {
		key := s[loc[2]:loc[3]]
		end := len(s)
		if i+1 < len(locs) {
			end = locs[i+1][0]
		}
		value := strings.TrimSpace(s[loc[3]+1 : end])
		params[key] = strings.Trim(value, `"`)
	}
	return params
}

// parseAlarmTime accepts a full datetime, a bare clock time, or a bare
// date. isClock reports the bare clock form.
func parseAlarmTime(s string) (trigger time.Time, isClock bool, err error) {
	s = strings.TrimSpace(s)
	for _, layout := range []string{"2006-01-02 15:04:05", "15:04:05", "2006-01-02"} {
		t, perr := time.ParseInLocation(layout, s, time.Local)
		if perr == nil {
			return t, layout == "15:04:05", nil
		}
	}
	return time.Time{}, false, fmt.Errorf("intent: invalid time format %q", s)
}

// nextClockInstant projects a bare clock time onto today, rolling to
// tomorrow when the instant already passed.
func nextClockInstant(now, clock time.Time) time.Time {
	t := time.Date(now.Year(), now.Month(), now.Day(),
		clock.Hour(), clock.Minute(), clock.Second(), 0, time.Local)
	if !t.After(now) {
		t = t.AddDate(0, 0, 1)
	}
	return t
}

// parseRepeat resolves a schedule: named preset or CSV of weekday numbers
// (0 = Monday). The result is sorted and deduplicated.
func parseRepeat(s string) ([]int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	switch s {
	case "workday":
		return []int{0, 1, 2, 3, 4}, nil
	case "weekend":
		return []int{5, 6}, nil
	case "daily":
		return []int{0, 1, 2, 3, 4, 5, 6}, nil
	}

	seen := make(map[int]bool)
	for _, part := range strings.Split(s, ",") {
		day, err := strconv.Atoi(strings.TrimSpace(part))
		if err != nil {
			return nil, fmt.Errorf("intent: invalid repeat %q", s)
		}
		seen[day] = true
	}
	days := make([]int, 0, len(seen))
	for day := range seen {
		days = append(days, day)
	}
	sort.Ints(days)
	return days, nil
}

// ─── condition matching ───

type alarmConditions struct {
	label      string
	trigger    time.Time
	hasTrigger bool
	clockOnly  bool
	repeat     []int
}

func parseAlarmConditions(params map[string]string) (alarmConditions, error) {
	var cond alarmConditions
	cond.label = params["label"]
	if raw, ok := params["time"]; ok {
		trigger, isClock, err := parseAlarmTime(raw)
		if err != nil {
			return cond, err
		}
		cond.trigger, cond.hasTrigger, cond.clockOnly = trigger, true, isClock
	}
	if raw, ok := params["repeat"]; ok {
		repeat, err := parseRepeat(raw)
		if err != nil {
			return cond, err
		}
		cond.repeat = repeat
	}
	return cond, nil
}

// filterAlarms narrows alarms by label, trigger, and repeat in turn, then
// drops duplicate ids.
func filterAlarms(alarms []devstate.Alarm, cond alarmConditions) []devstate.Alarm {
	if cond.label != "" {
		alarms = keep(alarms, func(a devstate.Alarm) bool {
			return strings.EqualFold(a.Label, cond.label)
		})
	}
	if cond.hasTrigger {
		alarms = keep(alarms, func(a devstate.Alarm) bool {
			return matchTrigger(a, cond.trigger, cond.clockOnly)
		})
	}
	if len(cond.repeat) > 0 {
		alarms = keep(alarms, func(a devstate.Alarm) bool {
			return matchRepeat(a, cond.repeat)
		})
	}

	seen := make(map[string]bool, len(alarms))
	unique := alarms[:0:0]
	for _, a := range alarms {
		if !seen[a.ID] {
			seen[a.ID] = true
			unique = append(unique, a)
		}
	}
	return unique
}

func keep(alarms []devstate.Alarm, pred func(devstate.Alarm) bool) []devstate.Alarm {
	out := alarms[:0:0]
	for _, a := range alarms {
		if pred(a) {
			out = append(out, a)
		}
	}
	return out
}

func matchTrigger(a devstate.Alarm, trigger time.Time, clockOnly bool) bool {
	if a.Type == devstate.AlarmPeriodic {
		if sameClock(a.Trigger, trigger) {
			return true
		}
		return !clockOnly && containsDay(a.Repeat, isoWeekday(trigger))
	}
	if clockOnly {
		return sameClock(a.Trigger, trigger)
	}
	if a.Trigger.Equal(trigger) {
		return true
	}
	// A midnight condition means "any time that day".
	if trigger.Hour() == 0 && trigger.Minute() == 0 && trigger.Second() == 0 {
		y1, m1, d1 := a.Trigger.Date()
		y2, m2, d2 := trigger.Date()
		return y1 == y2 && m1 == m2 && d1 == d2
	}
	return false
}

func matchRepeat(a devstate.Alarm, repeat []int) bool {
	if a.Type == devstate.AlarmPeriodic {
		for _, day := range repeat {
			if !containsDay(a.Repeat, day) {
				return false
			}
		}
		return true
	}
	return containsDay(repeat, isoWeekday(a.Trigger))
}

func sameClock(a, b time.Time) bool {
	return a.Hour() == b.Hour() && a.Minute() == b.Minute() && a.Second() == b.Second()
}

func containsDay(days []int, day int) bool {
	for _, d := range days {
		if d == day {
			return true
		}
	}
	return false
}

// isoWeekday maps time.Weekday onto the 0 = Monday convention.
func isoWeekday(t time.Time) int {
	return (int(t.Weekday()) + 6) % 7
}

// ─── rendering ───

func summaries(alarms []devstate.Alarm) string {
	lines := make([]string, len(alarms))
	for i, a := range alarms {
		lines[i] = alarmSummary(a)
	}
	return strings.Join(lines, "\n")
}

// alarmSummary renders one alarm for speech.
func alarmSummary(a devstate.Alarm) string {
	trigger := a.Trigger.Format("2006-01-02 15:04:05")
	if a.Type == devstate.AlarmPeriodic {
		trigger = a.Trigger.Format("15:04:05")
	}
	return fmt.Sprintf("Time: %s, Recurrence: %s, Label: '%s'", trigger, repeatPhrase(a.Repeat), a.Label)
}

var weekdayNames = [7]string{
	"Monday", "Tuesday", "Wednesday", "Thursday", "Friday", "Saturday", "Sunday",
}

// repeatPhrase renders a repeat schedule as natural English: named presets,
// consecutive ranges (including ranges wrapping the week boundary), single
// days, or a plain list.
func repeatPhrase(repeat []int) string {
	if len(repeat) == 0 {
		return "None"
	}

	seen := make(map[int]bool)
	days := make([]int, 0, len(repeat))
	for _, d := range repeat {
		if d >= 0 && d <= 6 && !seen[d] {
			seen[d] = true
			days = append(days, d)
		}
	}
	sort.Ints(days)

	switch {
	case len(days) == 1:
		return weekdayNames[days[0]]
	case len(days) == 7:
		return "Daily"
	case equalDays(days, []int{0, 1, 2, 3, 4}):
		return "Weekdays"
	case equalDays(days, []int{5, 6}):
		return "Weekends"
	}

	if start, end, ok := consecutiveRange(days); ok {
		return weekdayNames[start] + " to " + weekdayNames[end]
	}

	names := make([]string, len(days))
	for i, d := range days {
		names[i] = weekdayNames[d]
	}
	return strings.Join(names, ", ")
}

func equalDays(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// consecutiveRange finds a run covering all days, trying each rotation so
// Saturday through Monday still reads as a range.
func consecutiveRange(days []int) (start, end int, ok bool) {
	n := len(days)
	extended := make([]int, 0, 2*n)
	extended = append(extended, days...)
	for _, d := range days {
		extended = append(extended, d+7)
	}

	for i := 0; i < n; i++ {
		window := extended[i : i+n]
		run := true
		for j := 0; j+1 < n; j++ {
			if window[j]+1 != window[j+1] {
				run = false
				break
			}
		}
		if run {
			return window[0] % 7, window[n-1] % 7, true
		}
	}
	return 0, 0, false
}
