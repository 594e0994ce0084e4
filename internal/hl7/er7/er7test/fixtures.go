// Package er7test provides ER7 pharmacy messages for tests.
package er7test

import "strings"

// Segment lines of the reference pharmacy order (RDE^O11).
const (
	MSH = `MSH|^~\&|OACIS|RVH|OPAL|MUHC|20231206131610||RDE^O11|MSG00001|P|2.3`
	PID = `PID|1|SIMM86600199^^^RAMQ|1111111^^^MGH^MR~2222222^^^MCH^MR~9999996^^^RVH^MR~3333333^^^LAC^MR~12345678^^^HNAM_PERSONID^PI||SIMPSON^MARGE||19871001|F|||742 EVERGREEN TERRACE^^SPRINGFIELD^^^USA||(555)123-4567||^English||`
	PV1 = `PV1|1|I|HRZL^43^A^RVH||||||||||||||||000002050173412`
	ORC = `ORC|XX||25008915||SC||0.17^Q24&1000^INDEF^202312061000^202412051859^R||20231206131610|MDUCEPPE^Duceppe^Marc-Alexandre|MDUCEPPE^Duceppe^Marc-Alexandre|100000^Emergency^Dr.|||20231206100000`
	RXE = `RXE|0.17^Q24&1000^INDEF^202312061000^202412051859^R|ENOXAREDES100I3^ENOXAPARIN (REDESCA) IJ^RXTFC^20:12.04^ANTICOAGULANTS^AHFS|50||MG|INJVIAL^VIAL INJ^RxTFC|50 mg = 0.5 mL SC Q24H \E\.br\E\BLEEDING RISK- ANTICOAGULANT\E\.br\E\* HIGH ALERT  *|||50|MG|0.00|||21||0|||||H0|0|mL/hr^mL/hr`
	RXR = `RXR|SCMED^SC Injection (Med Order)^RxTFC|||IJ^Inj Syringe^RxTFC`
	NTE = `NTE|2|L|STD`
)

// RXC holds the seven component lines. The first shares its code with RXE-2
// and the last has a blank primary code with only alternate components.
var RXC = []string{
	`RXC|A|ENOXAREDES100I3^ENOXAPARIN (REDESCA)^RXTFC^20:12.04^ANTICOAGULANTS^AHFS|50|MG`,
	`RXC|A|HEPA5I3^HEPARIN 5000 UNIT/ML^RXTFC|5000|UNIT`,
	`RXC|B|D5W^DEXTROSE 5% IN WATER^RXTFC|250|ML`,
	`RXC|A|KCL2I3^POTASSIUM CHLORIDE 2 MEQ/ML^RXTFC|20|MEQ`,
	`RXC|B|NACL09^SODIUM CHLORIDE 0.9%^RXTFC|100|ML`,
	`RXC|A|MGSO4I3^MAGNESIUM SULFATE 50%^RXTFC|2|G`,
	`RXC|T|^^^20:12.04^ANTICOAGULANTS^AHFS|0|MG`,
}

// DistinctCodedElements is the number of distinct (identifier, coding system)
// keys referenced by PharmacyMessage.
const DistinctCodedElements = 9

// Join builds a message from segment lines using the \r terminator
func Join(segments ...string) string {
	return strings.Join(segments, "\r")
}

// PharmacySegments returns the segment lines of the reference message in order
func PharmacySegments() []string {
	segs := []string{MSH, PID, PV1, ORC, RXE, RXR}
	segs = append(segs, RXC...)
	return append(segs, NTE)
}

// PharmacyMessage returns the full reference message
func PharmacyMessage() string {
	return Join(PharmacySegments()...)
}

// Without returns the reference message minus every line of the named segment types
func Without(segmentTypes ...string) string {
	var kept []string
next:
	for _, s := range PharmacySegments() {
		for _, t := range segmentTypes {
			if strings.HasPrefix(s, t+"|") {
				continue next
			}
		}
		kept = append(kept, s)
	}
	return Join(kept...)
}

// Replace returns the reference message with line old swapped for repl
func Replace(old, repl string) string {
	segs := PharmacySegments()
	for i, s := range segs {
		if s == old {
			segs[i] = repl
		}
	}
	return Join(segs...)
}
