package fdt

import (
	"bytes"
	"encoding/binary"
	"testing"
)

func TestBuildHeaderFields(t *testing.T) {
	root := Node{
		Name: "",
		Properties: map[string]Property{
			"#address-cells": {U32: []uint32{2}},
			"compatible":     {Strings: []string{"riscv-virt"}},
		},
		Children: []Node{
			{Name: "memory@80000000", Properties: map[string]Property{
				"reg": {U64: []uint64{0x80000000, 0x8000000}},
			}},
		},
	}

	blob, err := Build(root)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if len(blob) < fdtHeaderSize {
		t.Fatalf("blob shorter than header: %d bytes", len(blob))
	}

	magic := binary.BigEndian.Uint32(blob[0:4])
	if magic != fdtMagic {
		t.Errorf("magic = %#x, want %#x", magic, uint32(fdtMagic))
	}
	totalSize := binary.BigEndian.Uint32(blob[4:8])
	if int(totalSize) != len(blob) {
		t.Errorf("totalsize = %d, want %d", totalSize, len(blob))
	}
	version := binary.BigEndian.Uint32(blob[20:24])
	if version != fdtVersion {
		t.Errorf("version = %d, want %d", version, uint32(fdtVersion))
	}

	offStruct := binary.BigEndian.Uint32(blob[8:12])
	if !bytes.HasPrefix(blob[offStruct:], []byte{0, 0, 0, byte(fdtBeginNodeToken)}) {
		t.Errorf("struct block does not begin with FDT_BEGIN_NODE")
	}
}

func TestBuildRoundTripsStrings(t *testing.T) {
	root := Node{
		Name: "",
		Children: []Node{
			{Name: "chosen", Properties: map[string]Property{
				"bootargs": {Strings: []string{"console=ttyS0"}},
			}},
		},
	}
	blob, err := Build(root)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if !bytes.Contains(blob, []byte("console=ttyS0\x00")) {
		t.Errorf("blob does not contain the expected bootargs string payload")
	}
	if !bytes.Contains(blob, []byte("bootargs\x00")) {
		t.Errorf("blob does not contain the bootargs property name in the strings block")
	}
}

func TestPropertyMultipleKindsRejected(t *testing.T) {
	root := Node{
		Name: "",
		Properties: map[string]Property{
			"bad": {U32: []uint32{1}, Flag: true},
		},
	}
	if _, err := Build(root); err == nil {
		t.Errorf("expected an error for a property with more than one populated kind")
	}
}

func TestPropertyEmptyRejected(t *testing.T) {
	root := Node{
		Name: "",
		Properties: map[string]Property{
			"empty": {},
		},
	}
	if _, err := Build(root); err == nil {
		t.Errorf("expected an error for a property with no populated kind")
	}
}

func TestDefinedCountAndKind(t *testing.T) {
	p := Property{U32: []uint32{1, 2}}
	if p.Kind() != "u32" {
		t.Errorf("Kind() = %q, want u32", p.Kind())
	}
	if p.DefinedCount() != 1 {
		t.Errorf("DefinedCount() = %d, want 1", p.DefinedCount())
	}

	flagProp := Property{Flag: true}
	if flagProp.Kind() != "flag" {
		t.Errorf("Kind() = %q, want flag", flagProp.Kind())
	}

	empty := Property{}
	if empty.Kind() != "" {
		t.Errorf("Kind() = %q, want empty string for an unset property", empty.Kind())
	}
}
