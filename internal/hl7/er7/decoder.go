// Package er7 decodes HL7 v2 messages in the ER7 (pipe and hat) encoding.
// Only the segments used by the pharmacy feed are extracted; each has a
// typed record and a dedicated extractor.
package er7

import (
	"bytes"
	"fmt"
	"io"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"
)

// MediaType is the content type of an ER7 message body
const MediaType = "application/hl7-v2+er7"

// Config holds decoder configuration
type Config struct {
	// Location is the institution's time zone for HL7 date fields
	Location *time.Location
	// LineBreakToken is replaced by "\n" in free-text fields
	LineBreakToken string
	// Sites filters PID-3 identifiers; nil keeps all of them
	Sites SiteLookup
}

// DefaultConfig returns a configuration using the local time zone
func DefaultConfig() Config {
	return Config{
		Location:       time.Local,
		LineBreakToken: DefaultLineBreakToken,
	}
}

type extractor func(d *Decoder, s segment, msg *ParsedMessage) error

// Decoder turns raw ER7 text into a ParsedMessage. It holds no per-message
// state and is safe for concurrent use.
type Decoder struct {
	config     Config
	logger     *zap.Logger
	extractors map[SegmentType]extractor
}

// NewDecoder creates a decoder
func NewDecoder(cfg Config, logger *zap.Logger) *Decoder {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	if cfg.LineBreakToken == "" {
		cfg.LineBreakToken = DefaultLineBreakToken
	}

	return &Decoder{
		config: cfg,
		logger: logger,
		extractors: map[SegmentType]extractor{
			SegmentMSH: (*Decoder).extractMSH,
			SegmentPID: (*Decoder).extractPID,
			SegmentPV1: (*Decoder).extractPV1,
			SegmentORC: (*Decoder).extractORC,
			SegmentRXE: (*Decoder).extractRXE,
			SegmentRXR: (*Decoder).extractRXR,
			SegmentRXC: (*Decoder).extractRXC,
			SegmentNTE: (*Decoder).extractNTE,
		},
	}
}

// DecodePayload decodes a []byte, string or io.Reader payload
func (d *Decoder) DecodePayload(payload any, filter Filter) (*ParsedMessage, error) {
	switch p := payload.(type) {
	case []byte:
		return d.Decode(p, filter)
	case string:
		return d.Decode([]byte(p), filter)
	case io.Reader:
		data, err := io.ReadAll(p)
		if err != nil {
			return nil, &DecodeError{Kind: KindUnsupportedInput, Message: "payload stream could not be read", Cause: err}
		}
		return d.Decode(data, filter)
	default:
		return nil, &DecodeError{Kind: KindUnsupportedInput, Message: fmt.Sprintf("cannot decode payload of type %T", payload)}
	}
}

// Decode parses raw into a ParsedMessage. Segments whose type has no
// extractor or is not admitted by filter are skipped.
func (d *Decoder) Decode(raw []byte, filter Filter) (*ParsedMessage, error) {
	if !utf8.Valid(raw) {
		return nil, malformed("payload is not valid UTF-8 text")
	}
	if bytes.IndexByte(raw, 0) >= 0 {
		return nil, malformed("payload contains NUL bytes")
	}

	lines := splitLines(normalizeLineEndings(string(raw)))
	if len(lines) == 0 {
		return nil, malformed("message has no segments")
	}

	delims := DefaultDelimiters
	if len(lines[0]) >= 3 && SegmentType(lines[0][:3]) == SegmentMSH {
		delims = delimitersFromMSH(lines[0])
	}
	if !hasSegmentHeader(lines, delims.Field) {
		return nil, malformed("no line starts with a segment header")
	}

	msg := &ParsedMessage{}
	for _, line := range lines {
		seg := splitSegment(line, delims)
		extract, ok := d.extractors[seg.name]
		if !ok || !filter.Contains(seg.name) {
			msg.Skipped = append(msg.Skipped, seg.name)
			d.logger.Debug("segment skipped",
				zap.String("segment", string(seg.name)),
				zap.Bool("known", ok))
			continue
		}
		if err := extract(d, seg, msg); err != nil {
			return nil, err
		}
	}

	return msg, nil
}

func (d *Decoder) extractMSH(s segment, msg *ParsedMessage) error {
	ts, err := parseTimestamp("MSH-7", s.field(7), d.config.Location)
	if err != nil {
		return err
	}
	msg.MSH = &MSH{
		SendingApplication: s.component(3, 1),
		SendingFacility:    s.component(4, 1),
		MessageDateTime:    ts,
		MessageType:        s.component(9, 1),
		TriggerEvent:       s.component(9, 2),
		ControlID:          s.field(10),
		VersionID:          s.component(12, 1),
	}
	return nil
}

func (d *Decoder) extractPID(s segment, msg *ParsedMessage) error {
	dob, err := parseTime("PID-7", s.component(7, 1), LayoutDate, d.config.Location)
	if err != nil {
		return err
	}

	pid := &PID{
		RAMQ:        s.component(2, 1),
		LastName:    s.component(5, 1),
		FirstName:   s.component(5, 2),
		DateOfBirth: dob,
		Sex:         s.field(8),
		Address: Address{
			Street:     s.component(11, 1),
			City:       s.component(11, 3),
			Province:   s.component(11, 4),
			PostalCode: s.component(11, 5),
			Country:    s.component(11, 6),
		},
		PhoneNumber:     s.component(13, 1),
		PrimaryLanguage: s.component(15, 2),
		MaritalStatus:   s.component(17, 1),
	}

	for _, rep := range s.repetitions(3) {
		pair := SiteMRN{MRN: s.componentOf(rep, 1), Site: s.componentOf(rep, 4)}
		if d.config.Sites != nil && !d.config.Sites.IsKnownSite(pair.Site) {
			d.logger.Debug("dropping identifier from unknown site", zap.String("site", pair.Site))
			continue
		}
		pid.MRNSites = append(pid.MRNSites, pair)
	}

	// PID is a singleton: a later occurrence replaces an earlier one
	msg.PID = pid
	return nil
}

func (d *Decoder) extractPV1(s segment, msg *ParsedMessage) error {
	msg.PV1 = append(msg.PV1, PV1{
		PointOfCare: s.component(3, 1),
		Room:        s.component(3, 2),
		Bed:         s.component(3, 3),
		Facility:    s.component(3, 4),
		VisitNumber: s.component(19, 1),
	})
	return nil
}

func (d *Decoder) extractORC(s segment, msg *ParsedMessage) error {
	qt, err := d.quantityTiming(s, 7, "ORC")
	if err != nil {
		return err
	}
	enteredAt, err := parseTime("ORC-9", s.component(9, 1), LayoutDateTimeSecond, d.config.Location)
	if err != nil {
		return err
	}
	effectiveAt, err := parseTime("ORC-15", s.component(15, 1), LayoutDateTimeSecond, d.config.Location)
	if err != nil {
		return err
	}

	msg.ORC = append(msg.ORC, ORC{
		OrderControl:      s.component(1, 1),
		FillerOrderNumber: s.component(3, 1),
		OrderStatus:       s.component(5, 1),
		QuantityTiming:    qt,
		EnteredAt:         enteredAt,
		EnteredBy:         s.person(10),
		VerifiedBy:        s.person(11),
		OrderedBy:         s.person(12),
		EffectiveAt:       effectiveAt,
	})
	return nil
}

func (d *Decoder) extractRXE(s segment, msg *ParsedMessage) error {
	qt, err := d.quantityTiming(s, 1, "RXE")
	if err != nil {
		return err
	}

	msg.RXE = append(msg.RXE, RXE{
		QuantityTiming:                    qt,
		GiveCode:                          s.codedElement(2),
		GiveAmountMinimum:                 s.component(3, 1),
		GiveAmountMaximum:                 s.component(4, 1),
		GiveUnits:                         s.component(5, 1),
		GiveDosageForm:                    s.codedElement(6),
		ProviderAdministrationInstruction: d.freeText(s.component(7, 1)),
		DispenseAmount:                    s.component(10, 1),
		DispenseUnits:                     s.component(11, 1),
		Refills:                           s.component(12, 1),
		PrescriptionNumber:                s.component(15, 1),
		RefillsDispensed:                  s.component(17, 1),
		GivePerTime:                       s.component(22, 1),
		GiveRateAmount:                    s.component(23, 1),
		GiveRateIdentifier:                s.component(24, 1),
		GiveRateUnits:                     s.component(24, 2),
	})
	return nil
}

func (d *Decoder) extractRXR(s segment, msg *ParsedMessage) error {
	msg.RXR = append(msg.RXR, RXR{
		Route:                s.codedElement(1),
		Site:                 s.component(2, 1),
		AdministrationDevice: s.component(3, 1),
		AdministrationMethod: s.codedElement(4),
	})
	return nil
}

func (d *Decoder) extractRXC(s segment, msg *ParsedMessage) error {
	msg.RXC = append(msg.RXC, RXC{
		ComponentType: s.component(1, 1),
		Component:     s.codedElement(2),
		Amount:        s.component(3, 1),
		Units:         s.component(4, 1),
	})
	return nil
}

func (d *Decoder) extractNTE(s segment, msg *ParsedMessage) error {
	msg.NTE = append(msg.NTE, NTE{
		SetID:   s.component(1, 1),
		Source:  s.component(2, 1),
		Comment: d.freeText(s.component(3, 1)),
	})
	return nil
}

// quantityTiming reads a TQ field (ORC-7 or RXE-1)
func (d *Decoder) quantityTiming(s segment, n int, name string) (QuantityTiming, error) {
	start, err := parseTime(fmt.Sprintf("%s-%d.4", name, n), s.component(n, 4), LayoutDateTimeShort, d.config.Location)
	if err != nil {
		return QuantityTiming{}, err
	}
	end, err := parseTime(fmt.Sprintf("%s-%d.5", name, n), s.component(n, 5), LayoutDateTimeShort, d.config.Location)
	if err != nil {
		return QuantityTiming{}, err
	}

	return QuantityTiming{
		Quantity:         s.subcomponent(n, 1, 1),
		Unit:             s.subcomponent(n, 1, 2),
		IntervalPattern:  s.subcomponent(n, 2, 1),
		IntervalDuration: s.subcomponent(n, 2, 2),
		Duration:         s.component(n, 3),
		ServiceStart:     start,
		ServiceEnd:       end,
		Priority:         s.component(n, 6),
	}, nil
}
