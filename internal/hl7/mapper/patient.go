package mapper

import (
	"github.com/drfirst/go-rxhl7/internal/fhir/r5"
	"github.com/drfirst/go-rxhl7/internal/hl7/er7"
)

var genders = map[string]string{
	"M": "male",
	"F": "female",
	"O": "other",
	"U": "unknown",
}

// Patient renders PID demographics as a FHIR Patient. MRNs are the site
// pairs left after decoder site filtering.
func Patient(pid *er7.PID) *r5.Patient {
	p := &r5.Patient{
		ResourceType: "Patient",
		Active:       true,
		Gender:       genders[pid.Sex],
	}
	if pid.RAMQ != "" {
		p.Identifier = append(p.Identifier, r5.Identifier{Use: "official", System: r5.SystemRAMQ, Value: pid.RAMQ})
	}
	for _, m := range pid.MRNSites {
		p.Identifier = append(p.Identifier, r5.Identifier{
			Use:      "usual",
			Type:     &r5.CodeableConcept{Coding: []r5.Coding{{System: r5.SystemHL7V2, Code: "MR"}}},
			System:   r5.SystemMRN,
			Value:    m.MRN,
			Assigner: &r5.Reference{Display: m.Site},
		})
	}
	if pid.LastName != "" || pid.FirstName != "" {
		name := r5.HumanName{Use: "official", Family: pid.LastName}
		if pid.FirstName != "" {
			name.Given = []string{pid.FirstName}
		}
		p.Name = append(p.Name, name)
	}
	if pid.DateOfBirth != nil {
		p.BirthDate = pid.DateOfBirth.Format("2006-01-02")
	}
	if pid.PhoneNumber != "" {
		p.Telecom = append(p.Telecom, r5.ContactPoint{System: "phone", Value: pid.PhoneNumber, Use: "home"})
	}
	a := pid.Address
	if a != (er7.Address{}) {
		addr := r5.Address{Use: "home", City: a.City, State: a.Province, PostalCode: a.PostalCode, Country: a.Country}
		if a.Street != "" {
			addr.Line = []string{a.Street}
		}
		p.Address = append(p.Address, addr)
	}
	if pid.MaritalStatus != "" {
		p.MaritalStatus = &r5.CodeableConcept{Coding: []r5.Coding{{Code: pid.MaritalStatus}}}
	}
	if pid.PrimaryLanguage != "" {
		p.Communication = append(p.Communication, r5.PatientCommunication{
			Language:  r5.CodeableConcept{Text: pid.PrimaryLanguage},
			Preferred: true,
		})
	}
	return p
}
