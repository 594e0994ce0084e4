package main

import (
	"reflect"
	"testing"
)

func TestMissingTopics(t *testing.T) {
	names := []string{"hl7.inbound", "pharmacy.orders"}

	got := missingTopics(names, []string{"pharmacy.orders.dlq", "pharmacy.orders", ""})
	if want := []string{"pharmacy.orders.dlq"}; !reflect.DeepEqual(got, want) {
		t.Errorf("missingTopics = %v, want %v", got, want)
	}
	if got := missingTopics(names, []string{"pharmacy.orders"}); got != nil {
		t.Errorf("missingTopics = %v, want none", got)
	}
}
