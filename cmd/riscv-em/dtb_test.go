package main

import (
	"encoding/binary"
	"testing"

	"github.com/riscv-em/riscv-em/internal/rv64"
)

func TestBuildDTBHeader(t *testing.T) {
	m := rv64.NewMachine(rv64.Config{NumHarts: 2}, nil)

	blob, err := buildDTB(m, 128*1024*1024, "console=ttyS0")
	if err != nil {
		t.Fatalf("buildDTB: %v", err)
	}
	if len(blob) < 40 {
		t.Fatalf("blob too small: %d bytes", len(blob))
	}
	magic := binary.BigEndian.Uint32(blob[0:4])
	if magic != 0xd00dfeed {
		t.Errorf("magic = %#x, want 0xd00dfeed", magic)
	}
	totalSize := binary.BigEndian.Uint32(blob[4:8])
	if int(totalSize) != len(blob) {
		t.Errorf("header totalsize = %d, actual blob len = %d", totalSize, len(blob))
	}
}

func TestSliceWriterAdvancesAcrossWrites(t *testing.T) {
	buf := make([]byte, 6)
	w := &sliceWriter{buf: buf}

	if n, err := w.Write([]byte("ab")); n != 2 || err != nil {
		t.Fatalf("Write 1: n=%d err=%v", n, err)
	}
	if n, err := w.Write([]byte("cd")); n != 2 || err != nil {
		t.Fatalf("Write 2: n=%d err=%v", n, err)
	}
	if n, err := w.Write([]byte("ef")); n != 2 || err != nil {
		t.Fatalf("Write 3: n=%d err=%v", n, err)
	}

	if string(buf) != "abcdef" {
		t.Errorf("buf = %q, want \"abcdef\" (writer must not rewind between calls)", buf)
	}
}
