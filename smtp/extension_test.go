package smtp

import (
	"reflect"
	"testing"
)

func TestExtensionSet(t *testing.T) {
	var set ExtensionSet
	if set.Contains(ExtStartTLS) || set.Len() != 0 {
		t.Fatal("empty set misbehaves")
	}
	set.Enable(Extension{Name: ExtPipelining})
	set.Enable(Extension{Name: ExtSize, Param: "1024"})
	set.Enable(Extension{Name: ExtStartTLS})
	if !set.Contains("starttls") {
		t.Fatal("membership must ignore case")
	}
	if lines := set.Lines(); !reflect.DeepEqual(lines, []string{"PIPELINING", "SIZE 1024", "STARTTLS"}) {
		t.Fatal(lines)
	}
	// Enabling again replaces in place, preserving the order
	set.Enable(Extension{Name: ExtSize, Param: "2048"})
	if lines := set.Lines(); !reflect.DeepEqual(lines, []string{"PIPELINING", "SIZE 2048", "STARTTLS"}) {
		t.Fatal(lines)
	}
	set.Disable(ExtStartTLS)
	if set.Contains(ExtStartTLS) || set.Len() != 2 {
		t.Fatal("STARTTLS was not disabled")
	}
	set.Reset(Extension{Name: Ext8BitMIME})
	if lines := set.Lines(); !reflect.DeepEqual(lines, []string{"8BITMIME"}) {
		t.Fatal(lines)
	}
}

func TestRegistry_ComputeExtensions(t *testing.T) {
	registry := NewRegistry(nil)
	registry.MaxMessageBytes = 4096
	set := registry.ComputeExtensions(true)
	if !set.Contains(ExtStartTLS) || !set.Contains(ExtSize) || !set.Contains(ExtPipelining) {
		t.Fatalf("%v", set.Lines())
	}
	set = registry.ComputeExtensions(false)
	if set.Contains(ExtStartTLS) {
		t.Fatal("STARTTLS must not be advertised without an upgrader")
	}
}
