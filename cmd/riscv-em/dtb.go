package main

import (
	"fmt"

	"github.com/riscv-em/riscv-em/internal/fdt"
	"github.com/riscv-em/riscv-em/internal/rv64"
)

// isaString builds the riscv,isa property for a hart, per spec §4.15: the
// core package only exposes the values needed to build the DTB, it never
// constructs nodes itself.
func isaString() string {
	return "rv64imafdc_zicsr_zifencei_zba_zbb_zbc_zbs"
}

// buildDTB walks a machine's static configuration (hart count, RAM extent,
// device bases) and serializes the standard riscv-virt-style device tree
// this emulator's memory map matches.
func buildDTB(m *rv64.Machine, ramSize uint64, bootargs string) ([]byte, error) {
	const plicPhandle = 1

	cpusNode := fdt.Node{
		Name: "cpus",
		Properties: map[string]fdt.Property{
			"#address-cells":        {U32: []uint32{1}},
			"#size-cells":           {U32: []uint32{0}},
			"timebase-frequency":    {U32: []uint32{10000000}},
		},
	}

	var plicInterrupts []uint32
	for i, h := range m.Harts {
		intcPhandle := uint32(100 + i)
		cpuNode := fdt.Node{
			Name: fmt.Sprintf("cpu@%d", h.ID),
			Properties: map[string]fdt.Property{
				"device_type": {Strings: []string{"cpu"}},
				"reg":         {U32: []uint32{uint32(h.ID)}},
				"compatible":  {Strings: []string{"riscv"}},
				"riscv,isa":   {Strings: []string{isaString()}},
				"mmu-type":    {Strings: []string{"riscv,sv39"}},
				"status":      {Strings: []string{"okay"}},
			},
			Children: []fdt.Node{
				{
					Name: "interrupt-controller",
					Properties: map[string]fdt.Property{
						"#interrupt-cells":     {U32: []uint32{1}},
						"interrupt-controller": {Flag: true},
						"compatible":           {Strings: []string{"riscv,cpu-intc"}},
						"phandle":              {U32: []uint32{intcPhandle}},
					},
				},
			},
		}
		cpusNode.Children = append(cpusNode.Children, cpuNode)

		// M-mode external (11) and S-mode external (9) contexts, per hart,
		// matching the PLIC's 2-contexts-per-hart layout in internal/rv64.
		plicInterrupts = append(plicInterrupts, intcPhandle, 11, intcPhandle, 9)
	}

	memoryNode := fdt.Node{
		Name: fmt.Sprintf("memory@%x", rv64.RAMBase),
		Properties: map[string]fdt.Property{
			"device_type": {Strings: []string{"memory"}},
			"reg":         {U64: []uint64{rv64.RAMBase, ramSize}},
		},
	}

	clintNode := fdt.Node{
		Name: fmt.Sprintf("clint@%x", rv64.CLINTBase),
		Properties: map[string]fdt.Property{
			"compatible": {Strings: []string{"riscv,clint0"}},
			"reg":        {U64: []uint64{rv64.CLINTBase, rv64.CLINTSize}},
		},
	}

	plicNode := fdt.Node{
		Name: fmt.Sprintf("plic@%x", rv64.PLICBase),
		Properties: map[string]fdt.Property{
			"compatible":            {Strings: []string{"riscv,plic0"}},
			"reg":                   {U64: []uint64{rv64.PLICBase, rv64.PLICSize}},
			"#interrupt-cells":      {U32: []uint32{1}},
			"interrupt-controller":  {Flag: true},
			"riscv,ndev":            {U32: []uint32{uint32(rv64.PLICSources)}},
			"interrupts-extended":   {U32: plicInterrupts},
			"phandle":               {U32: []uint32{plicPhandle}},
		},
	}

	uartNode := fdt.Node{
		Name: fmt.Sprintf("uart@%x", rv64.UARTBase),
		Properties: map[string]fdt.Property{
			"compatible":       {Strings: []string{"ns16550a"}},
			"reg":              {U64: []uint64{rv64.UARTBase, rv64.UARTSize}},
			"interrupts":       {U32: []uint32{1}},
			"interrupt-parent": {U32: []uint32{plicPhandle}},
			"clock-frequency":  {U32: []uint32{10000000}},
		},
	}

	socNode := fdt.Node{
		Name: "soc",
		Properties: map[string]fdt.Property{
			"#address-cells": {U32: []uint32{2}},
			"#size-cells":    {U32: []uint32{2}},
			"compatible":     {Strings: []string{"simple-bus"}},
			"ranges":         {Flag: true},
		},
		Children: []fdt.Node{clintNode, plicNode, uartNode},
	}

	if m.VirtIO != nil {
		socNode.Children = append(socNode.Children, fdt.Node{
			Name: fmt.Sprintf("virtio_mmio@%x", rv64.VirtIOBase),
			Properties: map[string]fdt.Property{
				"compatible":       {Strings: []string{"virtio,mmio"}},
				"reg":              {U64: []uint64{rv64.VirtIOBase, rv64.VirtIOSize}},
				"interrupts":       {U32: []uint32{2}},
				"interrupt-parent": {U32: []uint32{plicPhandle}},
			},
		})
	}

	chosenProps := map[string]fdt.Property{}
	if bootargs != "" {
		chosenProps["bootargs"] = fdt.Property{Strings: []string{bootargs}}
	}

	root := fdt.Node{
		Name: "",
		Properties: map[string]fdt.Property{
			"#address-cells": {U32: []uint32{2}},
			"#size-cells":    {U32: []uint32{2}},
			"compatible":     {Strings: []string{"riscv-em,virt"}},
			"model":          {Strings: []string{"riscv-em,virt"}},
		},
		Children: []fdt.Node{cpusNode, memoryNode, socNode, {Name: "chosen", Properties: chosenProps}},
	}

	return fdt.Build(root)
}
