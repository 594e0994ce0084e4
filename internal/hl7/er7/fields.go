package er7

import "strings"

// Delimiters are the encoding characters declared in MSH-1 and MSH-2.
type Delimiters struct {
	Field        byte
	Component    byte
	Repetition   byte
	Escape       byte
	Subcomponent byte
}

// DefaultDelimiters are used when a message carries no MSH segment.
var DefaultDelimiters = Delimiters{
	Field:        '|',
	Component:    '^',
	Repetition:   '~',
	Escape:       '\\',
	Subcomponent: '&',
}

// delimitersFromMSH reads the encoding characters from an MSH line.
// Missing characters fall back to the defaults.
func delimitersFromMSH(line string) Delimiters {
	d := DefaultDelimiters
	if len(line) < 4 || !strings.HasPrefix(line, string(SegmentMSH)) {
		return d
	}
	d.Field = line[3]

	enc := line[4:]
	if i := strings.IndexByte(enc, d.Field); i >= 0 {
		enc = enc[:i]
	}
	chars := []*byte{&d.Component, &d.Repetition, &d.Escape, &d.Subcomponent}
	for i := 0; i < len(enc) && i < len(chars); i++ {
		*chars[i] = enc[i]
	}
	return d
}

// segment is one split ER7 line. fields[0] is the segment name so that
// fields[n] is HL7 field n.
type segment struct {
	name   SegmentType
	fields []string
	delims Delimiters
}

func splitSegment(line string, d Delimiters) segment {
	fields := strings.Split(line, string(d.Field))
	name := SegmentType(fields[0])
	if name == SegmentMSH {
		// MSH-1 is the field separator itself
		shifted := make([]string, 0, len(fields)+1)
		shifted = append(shifted, fields[0], string(d.Field))
		fields = append(shifted, fields[1:]...)
	}
	return segment{name: name, fields: fields, delims: d}
}

// field returns the raw value of field n, or "" when absent.
func (s segment) field(n int) string {
	if n <= 0 || n >= len(s.fields) {
		return ""
	}
	return s.fields[n]
}

// repetitions splits field n on the repetition separator.
func (s segment) repetitions(n int) []string {
	v := s.field(n)
	if v == "" {
		return nil
	}
	return strings.Split(v, string(s.delims.Repetition))
}

// component returns component c of the first repetition of field n,
// including any sub-component separators it contains.
func (s segment) component(n, c int) string {
	return s.componentOf(s.firstRepetition(n), c)
}

// subcomponent returns sub-component sc of component c of field n.
func (s segment) subcomponent(n, c, sc int) string {
	return nth(s.component(n, c), s.delims.Subcomponent, sc)
}

func (s segment) firstRepetition(n int) string {
	return nth(s.field(n), s.delims.Repetition, 1)
}

func (s segment) componentOf(value string, c int) string {
	return nth(value, s.delims.Component, c)
}

// codedElement reads a CE data type from field n.
func (s segment) codedElement(n int) CodedElement {
	return CodedElement{
		Identifier:            s.component(n, 1),
		Text:                  s.component(n, 2),
		CodingSystem:          s.component(n, 3),
		AlternateIdentifier:   s.component(n, 4),
		AlternateText:         s.component(n, 5),
		AlternateCodingSystem: s.component(n, 6),
	}
}

// person reads the id, family name and given name of an XCN field.
func (s segment) person(n int) Person {
	return Person{
		ID:         s.component(n, 1),
		FamilyName: s.component(n, 2),
		GivenName:  s.component(n, 3),
	}
}

// nth returns the 1-based i-th element of value split on sep.
func nth(value string, sep byte, i int) string {
	if i <= 0 {
		return ""
	}
	for ; i > 1; i-- {
		j := strings.IndexByte(value, sep)
		if j < 0 {
			return ""
		}
		value = value[j+1:]
	}
	if j := strings.IndexByte(value, sep); j >= 0 {
		return value[:j]
	}
	return value
}

// hasSegmentHeader reports whether any line starts with a three character
// segment id followed by the field separator.
func hasSegmentHeader(lines []string, sep byte) bool {
	for _, line := range lines {
		if len(line) < 4 || line[3] != sep {
			continue
		}
		ok := true
		for i := 0; i < 3; i++ {
			c := line[i]
			if (c < 'A' || c > 'Z') && (c < '0' || c > '9') {
				ok = false
				break
			}
		}
		if ok {
			return true
		}
	}
	return false
}
