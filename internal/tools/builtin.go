package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/tidwall/gjson"
)

type currentTime struct {
	now func() time.Time
}

func newCurrentTime(d Deps) Tool { return &currentTime{now: d.Now} }

func (t *currentTime) sealed() {}

func (t *currentTime) Name() string { return "current_time" }

func (t *currentTime) Description() string {
	return "Returns the current date and time, in UTC unless an IANA timezone is given."
}

func (t *currentTime) InputSchema() string {
	return `{"type":"object","properties":{"timezone":{"type":"string","description":"IANA timezone, e.g. Europe/Berlin"}}}`
}

func (t *currentTime) Execute(_ context.Context, _ Call, input string) (string, error) {
	loc := time.UTC
	if tz := gjson.Get(input, "timezone").String(); tz != "" {
		l, err := time.LoadLocation(tz)
		if err != nil {
			return "", fmt.Errorf("unknown timezone %q", tz)
		}
		loc = l
	}
	now := t.now().In(loc)
	out, err := json.Marshal(map[string]any{
		"time":     now.Format(time.RFC3339),
		"unix":     now.Unix(),
		"timezone": loc.String(),
		"weekday":  now.Weekday().String(),
	})
	return string(out), err
}

var dayPattern = regexp.MustCompile(`^\d{8}$`)

type usageReport struct {
	usage UsageReader
	now   func() time.Time
}

func newUsageReport(d Deps) Tool { return &usageReport{usage: d.Usage, now: d.Now} }

func (t *usageReport) sealed() {}

func (t *usageReport) Name() string { return "usage_report" }

func (t *usageReport) Description() string {
	return "Reports the calling user's token usage for a day (default today) and for the current session."
}

func (t *usageReport) InputSchema() string {
	return `{"type":"object","properties":{"day":{"type":"string","description":"UTC day as yyyymmdd"}}}`
}

func (t *usageReport) Execute(ctx context.Context, call Call, input string) (string, error) {
	if t.usage == nil {
		return "", errors.New("usage ledger not available")
	}
	day := gjson.Get(input, "day").String()
	if day == "" {
		day = t.now().UTC().Format("20060102")
	} else if !dayPattern.MatchString(day) {
		return "", fmt.Errorf("day must be yyyymmdd, got %q", day)
	}

	daily, err := t.usage.Usage(ctx, call.UserID, day)
	if err != nil {
		return "", err
	}
	session, err := t.usage.SessionUsage(ctx, call.SessionID)
	if err != nil {
		return "", err
	}
	out, err := json.Marshal(map[string]any{
		"user_id":        call.UserID,
		"day":            daily.Day,
		"tokens":         daily.Tokens,
		"requests":       daily.Requests,
		"session_tokens": session,
	})
	return string(out), err
}
