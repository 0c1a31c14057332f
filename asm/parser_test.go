package asm

import (
	"testing"

	"github.com/robotwar/robotwar/vm"
)

func mustParse(t *testing.T, text string) []vm.Instruction {
	t.Helper()
	prog, err := ParseString(text)
	if err != nil {
		t.Fatalf("ParseString(%q): %v", text, err)
	}
	return prog
}

func TestParseSimpleOpcodes(t *testing.T) {
	prog := mustParse(t, `
		go $right
		build $down
		fork
		exit
	`)
	if len(prog) != 4 {
		t.Fatalf("len(prog) = %d, want 4", len(prog))
	}
	if _, ok := prog[0].(vm.Move); !ok {
		t.Errorf("prog[0] = %T, want vm.Move", prog[0])
	}
	if _, ok := prog[1].(vm.Clone); !ok {
		t.Errorf("prog[1] = %T, want vm.Clone", prog[1])
	}
	if _, ok := prog[2].(vm.Fork); !ok {
		t.Errorf("prog[2] = %T, want vm.Fork", prog[2])
	}
	if _, ok := prog[3].(vm.Exit); !ok {
		t.Errorf("prog[3] = %T, want vm.Exit", prog[3])
	}
}

func TestParseCommentsAndBlankLines(t *testing.T) {
	prog := mustParse(t, `
		' this is a whole-line comment

		fork   ' trailing comment
	`)
	if len(prog) != 1 {
		t.Fatalf("len(prog) = %d, want 1", len(prog))
	}
}

func TestParseLabelForwardReference(t *testing.T) {
	prog := mustParse(t, `
		jump :loop
		fork
		:loop
		exit
	`)
	j, ok := prog[0].(vm.Jump)
	if !ok {
		t.Fatalf("prog[0] = %T, want vm.Jump", prog[0])
	}
	lbl, ok := j.Target.(vm.LabelValue)
	if !ok {
		t.Fatalf("Target = %T, want vm.LabelValue", j.Target)
	}
	if lbl.Target != 2 {
		t.Errorf("label target = %d, want 2", lbl.Target)
	}
}

func TestParseLabelBackReference(t *testing.T) {
	prog := mustParse(t, `
		:loop
		fork
		jump :loop
	`)
	j, ok := prog[1].(vm.Jump)
	if !ok {
		t.Fatalf("prog[1] = %T, want vm.Jump", prog[1])
	}
	lbl, ok := j.Target.(vm.LabelValue)
	if !ok {
		t.Fatalf("Target = %T, want vm.LabelValue", j.Target)
	}
	if lbl.Target != 0 {
		t.Errorf("label target = %d, want 0", lbl.Target)
	}
}

func TestParseRelativeLabelIsPCOffset(t *testing.T) {
	prog := mustParse(t, `
		fork
		jump (:loop)
		:loop
		exit
	`)
	j, ok := prog[1].(vm.Jump)
	if !ok {
		t.Fatalf("prog[1] = %T, want vm.Jump", prog[1])
	}
	rel, ok := j.Target.(vm.Relative)
	if !ok {
		t.Fatalf("Target = %T, want vm.Relative", j.Target)
	}
	lbl, ok := rel.Inner.(vm.LabelValue)
	if !ok {
		t.Fatalf("Relative.Inner = %T, want vm.LabelValue", rel.Inner)
	}
	// label declared at instruction 2, the jump referencing it lives at
	// instruction 1, so the pc-relative offset is 2 - 1 = 1.
	if lbl.Target != 1 {
		t.Errorf("relative offset = %d, want 1", lbl.Target)
	}
}

func TestParseDuplicateLabelFails(t *testing.T) {
	_, err := ParseString(`
		:loop
		fork
		:loop
		exit
	`)
	if err == nil {
		t.Fatal("expected an error for duplicate label")
	}
}

func TestParseUndefinedLabelFails(t *testing.T) {
	_, err := ParseString(`jump :nowhere`)
	if err == nil {
		t.Fatal("expected an error for undefined label")
	}
}

func TestParseUnknownOpcodeFails(t *testing.T) {
	_, err := ParseString(`frobnicate L0`)
	if err == nil {
		t.Fatal("expected an error for unknown opcode")
	}
}

func TestParseWrongArityFails(t *testing.T) {
	_, err := ParseString(`set L0`)
	if err == nil {
		t.Fatal("expected an error for wrong operand count")
	}
}

func TestParseOperandPrefixes(t *testing.T) {
	prog := mustParse(t, `set L0 G1`)
	s, ok := prog[0].(vm.Set)
	if !ok {
		t.Fatalf("prog[0] = %T, want vm.Set", prog[0])
	}
	if _, ok := s.Dest.(vm.Register); !ok {
		t.Errorf("Dest = %T, want vm.Register", s.Dest)
	}
	if _, ok := s.Src.(vm.Global); !ok {
		t.Errorf("Src = %T, want vm.Global", s.Src)
	}
}

func TestParseNegativeConstant(t *testing.T) {
	prog := mustParse(t, `set L0 -5`)
	s := prog[0].(vm.Set)
	c, ok := s.Src.(vm.Constant)
	if !ok {
		t.Fatalf("Src = %T, want vm.Constant", s.Src)
	}
	if c != -5 {
		t.Errorf("constant = %d, want -5", c)
	}
}

func TestParseVariableOperand(t *testing.T) {
	prog := mustParse(t, `save 7 %counter`)
	s := prog[0].(vm.Save)
	v, ok := s.Loc.(vm.Variable)
	if !ok {
		t.Fatalf("Loc = %T, want vm.Variable", s.Loc)
	}
	if v.Name != "counter" {
		t.Errorf("variable name = %q, want %q", v.Name, "counter")
	}
}

func TestParseNamedConstants(t *testing.T) {
	prog := mustParse(t, `if $eq L0 $success`)
	i, ok := prog[0].(vm.If)
	if !ok {
		t.Fatalf("prog[0] = %T, want vm.If", prog[0])
	}
	mode, ok := i.Mode.(vm.Constant)
	if !ok || mode != vm.Constant(vm.Eq) {
		t.Errorf("Mode = %v, want Eq constant", i.Mode)
	}
	b, ok := i.B.(vm.Constant)
	if !ok || b != vm.Constant(vm.Success) {
		t.Errorf("B = %v, want success constant", i.B)
	}
}

func TestParseXferThreeOperands(t *testing.T) {
	prog := mustParse(t, `xfer $right 3 L0`)
	x, ok := prog[0].(vm.Xfer)
	if !ok {
		t.Fatalf("prog[0] = %T, want vm.Xfer", prog[0])
	}
	if _, ok := x.SrcIdx.(vm.Constant); !ok {
		t.Errorf("SrcIdx = %T, want vm.Constant", x.SrcIdx)
	}
	if _, ok := x.DstIdx.(vm.Register); !ok {
		t.Errorf("DstIdx = %T, want vm.Register", x.DstIdx)
	}
}

func TestParseSameLabelUsedAbsoluteAndRelative(t *testing.T) {
	prog := mustParse(t, `
		jump :loop
		fork
		jump (:loop)
		:loop
		exit
	`)
	abs := prog[0].(vm.Jump)
	if _, ok := abs.Target.(vm.LabelValue); !ok {
		t.Fatalf("absolute Target = %T, want vm.LabelValue", abs.Target)
	}
	if abs.Target.(vm.LabelValue).Target != 3 {
		t.Errorf("absolute target = %d, want 3", abs.Target.(vm.LabelValue).Target)
	}

	rel := prog[2].(vm.Jump)
	relWrap, ok := rel.Target.(vm.Relative)
	if !ok {
		t.Fatalf("relative Target = %T, want vm.Relative", rel.Target)
	}
	if relWrap.Inner.(vm.LabelValue).Target != 1 {
		t.Errorf("relative offset = %d, want 1 (3 - 2)", relWrap.Inner.(vm.LabelValue).Target)
	}
}
