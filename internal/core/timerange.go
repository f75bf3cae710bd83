package core

import "fmt"

type TimeRange string

const (
	RangeToday      TimeRange = "today"
	RangeLast7Days  TimeRange = "7d"
	RangeLast30Days TimeRange = "30d"
)

var TimeRanges = []TimeRange{RangeToday, RangeLast7Days, RangeLast30Days}

func ParseTimeRange(s string) (TimeRange, error) {
	switch TimeRange(s) {
	case RangeToday, RangeLast7Days, RangeLast30Days:
		return TimeRange(s), nil
	}
	return "", fmt.Errorf("invalid time range %q", s)
}

func (r TimeRange) Valid() bool {
	_, err := ParseTimeRange(string(r))
	return err == nil
}

// Window returns the provider's relative start and end expressions.
func (r TimeRange) Window() (start, end string) {
	switch r {
	case RangeLast7Days:
		return "today-6d", "today"
	case RangeLast30Days:
		return "today-29d", "today"
	default:
		return "today", "today"
	}
}

func (r TimeRange) Label() string {
	switch r {
	case RangeLast7Days:
		return "Last 7 days"
	case RangeLast30Days:
		return "Last 30 days"
	default:
		return "Today"
	}
}
