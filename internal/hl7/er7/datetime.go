package er7

import (
	"strings"
	"time"
)

// Layouts used by the pharmacy feed
const (
	LayoutDate           = "20060102"
	LayoutDateTimeShort  = "200601021504"
	LayoutDateTimeSecond = "20060102150405"
)

// parseTime parses value with a fixed layout in loc.
// An empty value is absent, anything else that does not parse is malformed.
func parseTime(field, value, layout string, loc *time.Location) (*time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil, nil
	}
	t, err := time.ParseInLocation(layout, value, loc)
	if err != nil {
		return nil, malformedField(field, err)
	}
	return &t, nil
}

// parseTimestamp handles the variable precision TS type used in MSH-7.
// Fractional seconds and a trailing UTC offset are accepted; the offset wins over loc.
func parseTimestamp(field, value string, loc *time.Location) (*time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil, nil
	}

	digits := value
	offset := ""
	if i := strings.IndexAny(value, "+-"); i >= 0 {
		digits, offset = value[:i], value[i:]
	}
	if i := strings.IndexByte(digits, '.'); i >= 0 {
		digits = digits[:i]
	}

	var layout string
	switch len(digits) {
	case 8:
		layout = LayoutDate
	case 10:
		layout = "2006010215"
	case 12:
		layout = LayoutDateTimeShort
	case 14:
		layout = LayoutDateTimeSecond
	default:
		return nil, &DecodeError{Kind: KindMalformed, Field: field, Message: "unsupported timestamp precision"}
	}

	if offset != "" {
		t, err := time.Parse(layout+"-0700", digits+offset)
		if err != nil {
			return nil, malformedField(field, err)
		}
		return &t, nil
	}
	return parseTime(field, digits, layout, loc)
}
