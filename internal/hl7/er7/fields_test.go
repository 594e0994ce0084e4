package er7

import (
	"testing"
	"time"
)

func TestNth(t *testing.T) {
	tests := []struct {
		value string
		i     int
		want  string
	}{
		{"a^b^c", 1, "a"},
		{"a^b^c", 2, "b"},
		{"a^b^c", 3, "c"},
		{"a^b^c", 4, ""},
		{"a^^c", 2, ""},
		{"", 1, ""},
		{"abc", 0, ""},
	}
	for _, tt := range tests {
		if got := nth(tt.value, '^', tt.i); got != tt.want {
			t.Errorf("nth(%q, %d) = %q, want %q", tt.value, tt.i, got, tt.want)
		}
	}
}

func TestDelimitersFromMSH(t *testing.T) {
	d := delimitersFromMSH(`MSH#*@!%#APP`)
	want := Delimiters{Field: '#', Component: '*', Repetition: '@', Escape: '!', Subcomponent: '%'}
	if d != want {
		t.Errorf("delimiters = %+v, want %+v", d, want)
	}

	// short encoding characters keep the remaining defaults
	d = delimitersFromMSH(`MSH|*|APP`)
	if d.Component != '*' || d.Repetition != '~' || d.Subcomponent != '&' {
		t.Errorf("unexpected delimiters %+v", d)
	}

	if delimitersFromMSH("PID|1") != DefaultDelimiters {
		t.Error("non-MSH line should give default delimiters")
	}
}

func TestSegmentMSHNumbering(t *testing.T) {
	s := splitSegment(`MSH|^~\&|OACIS|RVH`, DefaultDelimiters)
	if s.field(1) != "|" {
		t.Errorf("MSH-1 = %q", s.field(1))
	}
	if s.field(2) != `^~\&` {
		t.Errorf("MSH-2 = %q", s.field(2))
	}
	if s.field(3) != "OACIS" || s.field(4) != "RVH" {
		t.Errorf("MSH-3/4 = %q/%q", s.field(3), s.field(4))
	}
}

func TestSubcomponent(t *testing.T) {
	s := splitSegment("ORC|1|2|3|4|5|6|0.17&ML^Q24&1000^INDEF", DefaultDelimiters)
	if s.subcomponent(7, 1, 1) != "0.17" || s.subcomponent(7, 1, 2) != "ML" {
		t.Errorf("quantity = %q / %q", s.subcomponent(7, 1, 1), s.subcomponent(7, 1, 2))
	}
	if s.subcomponent(7, 2, 2) != "1000" {
		t.Errorf("interval duration = %q", s.subcomponent(7, 2, 2))
	}
	if s.component(7, 3) != "INDEF" {
		t.Errorf("duration = %q", s.component(7, 3))
	}
}

func TestParseTimestamp(t *testing.T) {
	loc := time.FixedZone("EST", -5*60*60)
	tests := []struct {
		value string
		want  time.Time
	}{
		{"20231206", time.Date(2023, 12, 6, 0, 0, 0, 0, loc)},
		{"202312061316", time.Date(2023, 12, 6, 13, 16, 0, 0, loc)},
		{"20231206131610", time.Date(2023, 12, 6, 13, 16, 10, 0, loc)},
		{"20231206131610.1234", time.Date(2023, 12, 6, 13, 16, 10, 0, loc)},
		{"20231206181610+0000", time.Date(2023, 12, 6, 18, 16, 10, 0, time.UTC)},
	}
	for _, tt := range tests {
		got, err := parseTimestamp("MSH-7", tt.value, loc)
		if err != nil {
			t.Fatalf("%s: %v", tt.value, err)
		}
		if !got.Equal(tt.want) {
			t.Errorf("%s = %v, want %v", tt.value, got, tt.want)
		}
	}

	if _, err := parseTimestamp("MSH-7", "2023", loc); err == nil {
		t.Error("expected error for year-only timestamp")
	}
	if ts, err := parseTimestamp("MSH-7", "", loc); ts != nil || err != nil {
		t.Errorf("empty timestamp = %v, %v", ts, err)
	}
}
