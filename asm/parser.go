// Package asm turns assembly-style robot program text into a vm.Program:
// a sequence of vm.Instruction with labels resolved to absolute indices
// and relative-address wrappers rewritten to pc-relative offsets.
package asm

import (
	"strconv"
	"strings"

	"github.com/pkg/errors"

	"github.com/robotwar/robotwar/vm"
)

// Named constants recognized after a "$" prefix.
var namedConstants = map[string]vm.Value{
	"up":      vm.Constant(vm.Up),
	"right":   vm.Constant(vm.Right),
	"down":    vm.Constant(vm.Down),
	"left":    vm.Constant(vm.Left),
	"success": vm.Constant(vm.Success),
	"failure": vm.Constant(vm.Failure),
	"parent":  vm.Constant(vm.ParentResult),
	"child":   vm.Constant(vm.ChildResult),
	"eq":      vm.Constant(vm.Eq),
	"ne":      vm.Constant(vm.Ne),
	"lt":      vm.Constant(vm.Lt),
	"le":      vm.Constant(vm.Le),
	"gt":      vm.Constant(vm.Gt),
	"ge":      vm.Constant(vm.Ge),
	"id":      vm.IdentifierValue{},
	"team":    vm.TeamValue{},
	"pc":      vm.ProgramCounterValue{},
}

// opcodeNames lists the recognized opcodes so an unknown one is rejected
// before its operands are parsed; operand counts are checked in build.
var opcodeNames = map[string]bool{
	"go": true, "build": true, "jump": true, "fork": true, "exit": true,
	"if": true, "set": true, "add": true, "sub": true, "mul": true,
	"div": true, "xfer": true, "scan": true, "save": true, "load": true,
}

// Parser accumulates program text across calls to ParseLine, then
// resolves labels and relative wrappers at Finalize.
type Parser struct {
	labels    map[string]*vm.LabelValue
	relatives []vm.Relative
	relPos    []int // instruction index where each relative wrapper was parsed
	position  int
	program   []vm.Instruction
}

// NewParser returns an empty parser ready for ParseString or ParseLine.
func NewParser() *Parser {
	return &Parser{labels: make(map[string]*vm.LabelValue)}
}

// ParseString parses a whole program and finalizes it.
func ParseString(text string) ([]vm.Instruction, error) {
	p := NewParser()
	for _, line := range strings.Split(text, "\n") {
		if err := p.ParseLine(line); err != nil {
			return nil, err
		}
	}
	return p.Finalize()
}

// ParseLine parses one line of program text: a comment, a blank line, a
// label declaration, or an instruction.
func (p *Parser) ParseLine(line string) error {
	line = strings.Trim(line, " \t")
	if idx := strings.Index(line, "'"); idx >= 0 {
		line = line[:idx]
	}
	line = strings.TrimRight(line, " \t")
	if line == "" {
		return nil
	}

	if line[0] == ':' {
		return p.declareLabel(line[1:])
	}

	fields := strings.Fields(line)
	cmd := strings.ToLower(fields[0])
	if !opcodeNames[cmd] {
		return errors.Errorf("unknown opcode %q", fields[0])
	}

	args := make([]vm.Value, 0, len(fields)-1)
	for _, tok := range fields[1:] {
		v, err := p.parseArg(tok)
		if err != nil {
			return errors.Wrapf(err, "instruction %d (%s)", p.position, cmd)
		}
		args = append(args, v)
	}

	instr, err := build(cmd, args)
	if err != nil {
		return errors.Wrapf(err, "instruction %d (%s)", p.position, cmd)
	}
	p.program = append(p.program, instr)
	p.position++
	return nil
}

func (p *Parser) declareLabel(name string) error {
	if existing, ok := p.labels[name]; ok {
		if existing.Target != -1 {
			return errors.Errorf("duplicate label %q", name)
		}
		existing.Target = p.position
		return nil
	}
	p.labels[name] = &vm.LabelValue{Name: name, Target: p.position}
	return nil
}

// Finalize rewrites every relative wrapper around a label into a
// pc-relative offset (target - declaring instruction index), then
// resolves every remaining bare label reference to its absolute index.
// The parser hands out *vm.LabelValue pointers while parsing so that a
// forward reference sees the target once the label is later declared;
// Finalize flattens all of them to plain vm.LabelValue values so nothing
// downstream (gob snapshots included) ever sees a pointer operand.
// It reports an error if any label was referenced but never declared.
func (p *Parser) Finalize() ([]vm.Instruction, error) {
	for _, lbl := range p.labels {
		if lbl.Target == -1 {
			return nil, errors.Errorf("label %q never defined", lbl.Name)
		}
	}
	for i, pos := range p.relPos {
		rv := p.relatives[i]
		if lbl, ok := rv.Inner.(*vm.LabelValue); ok {
			offset := vm.LabelValue{Name: lbl.Name, Target: lbl.Target - pos}
			p.program[pos] = mapOperands(p.program[pos], relativeLabelFix(lbl.Name, offset))
		}
	}
	for i, instr := range p.program {
		p.program[i] = mapOperands(instr, bareLabelFix)
	}
	return p.program, nil
}

// relativeLabelFix rewrites a Relative wrapper around the named label into
// a Relative wrapper around its precomputed pc-relative offset.
func relativeLabelFix(name string, offset vm.LabelValue) func(vm.Value) vm.Value {
	return func(v vm.Value) vm.Value {
		if rv, ok := v.(vm.Relative); ok {
			if inner, ok := rv.Inner.(*vm.LabelValue); ok && inner.Name == name {
				return vm.Relative{Inner: offset}
			}
		}
		return v
	}
}

// bareLabelFix flattens any surviving *vm.LabelValue operand (a label used
// directly, not inside a relative wrapper) to its resolved value form.
func bareLabelFix(v vm.Value) vm.Value {
	if lbl, ok := v.(*vm.LabelValue); ok {
		return vm.LabelValue{Name: lbl.Name, Target: lbl.Target}
	}
	return v
}

// mapOperands applies fix to every Value-typed operand field of instr.
// Go instructions are immutable value types embedding Value fields
// directly, so rewriting means walking the known operand shapes.
func mapOperands(instr vm.Instruction, fix func(vm.Value) vm.Value) vm.Instruction {
	switch ins := instr.(type) {
	case vm.Move:
		ins.Direction = fix(ins.Direction)
		return ins
	case vm.Clone:
		ins.Direction = fix(ins.Direction)
		return ins
	case vm.Jump:
		ins.Target = fix(ins.Target)
		return ins
	case vm.If:
		ins.Mode, ins.A, ins.B = fix(ins.Mode), fix(ins.A), fix(ins.B)
		return ins
	case vm.Set:
		ins.Dest, ins.Src = fix(ins.Dest), fix(ins.Src)
		return ins
	case vm.Add:
		ins.Dest, ins.Src = fix(ins.Dest), fix(ins.Src)
		return ins
	case vm.Sub:
		ins.Dest, ins.Src = fix(ins.Dest), fix(ins.Src)
		return ins
	case vm.Mul:
		ins.Dest, ins.Src = fix(ins.Dest), fix(ins.Src)
		return ins
	case vm.Div:
		ins.Dest, ins.Src = fix(ins.Dest), fix(ins.Src)
		return ins
	case vm.Xfer:
		ins.Direction, ins.SrcIdx, ins.DstIdx = fix(ins.Direction), fix(ins.SrcIdx), fix(ins.DstIdx)
		return ins
	case vm.Scan:
		ins.Direction = fix(ins.Direction)
		return ins
	case vm.Save:
		ins.Value, ins.Loc = fix(ins.Value), fix(ins.Loc)
		return ins
	case vm.Load:
		ins.Dest, ins.Loc = fix(ins.Dest), fix(ins.Loc)
		return ins
	default:
		return instr
	}
}

func (p *Parser) parseArg(tok string) (vm.Value, error) {
	if tok == "" {
		return nil, errors.New("empty operand")
	}
	if tok[0] == '(' {
		if len(tok) < 3 || tok[len(tok)-1] != ')' {
			return nil, errors.Errorf("malformed relative operand %q", tok)
		}
		inner, err := p.parseScalarArg(tok[1 : len(tok)-1])
		if err != nil {
			return nil, err
		}
		rv := vm.Relative{Inner: inner}
		p.relatives = append(p.relatives, rv)
		p.relPos = append(p.relPos, p.position)
		return rv, nil
	}
	return p.parseScalarArg(tok)
}

func (p *Parser) parseScalarArg(tok string) (vm.Value, error) {
	det := tok[0]
	val := tok[1:]
	switch det {
	case 'L', 'l':
		n, err := strconv.Atoi(val)
		if err != nil {
			return nil, errors.Wrapf(err, "register operand %q", tok)
		}
		return vm.Register(n), nil
	case 'G', 'g':
		n, err := strconv.Atoi(val)
		if err != nil {
			return nil, errors.Wrapf(err, "global operand %q", tok)
		}
		return vm.Global(n), nil
	case '%':
		return vm.Variable{Name: strings.ToLower(val)}, nil
	case '$':
		c, ok := namedConstants[strings.ToLower(val)]
		if !ok {
			return nil, errors.Errorf("unknown named constant %q", tok)
		}
		return c, nil
	case ':':
		name := strings.ToLower(val)
		if lbl, ok := p.labels[name]; ok {
			return lbl, nil
		}
		lbl := &vm.LabelValue{Name: name, Target: -1}
		p.labels[name] = lbl
		return lbl, nil
	default:
		n, err := strconv.Atoi(tok)
		if err != nil {
			return nil, errors.Wrapf(err, "malformed operand %q", tok)
		}
		return vm.Constant(n), nil
	}
}

func build(cmd string, args []vm.Value) (vm.Instruction, error) {
	need := func(n int) error {
		if len(args) != n {
			return errors.Errorf("%s takes %d operand(s), got %d", cmd, n, len(args))
		}
		return nil
	}
	switch cmd {
	case "go":
		if err := need(1); err != nil {
			return nil, err
		}
		return vm.Move{Direction: args[0]}, nil
	case "build":
		if err := need(1); err != nil {
			return nil, err
		}
		return vm.Clone{Direction: args[0]}, nil
	case "jump":
		if err := need(1); err != nil {
			return nil, err
		}
		return vm.Jump{Target: args[0]}, nil
	case "fork":
		if err := need(0); err != nil {
			return nil, err
		}
		return vm.Fork{}, nil
	case "exit":
		if err := need(0); err != nil {
			return nil, err
		}
		return vm.Exit{}, nil
	case "if":
		if err := need(3); err != nil {
			return nil, err
		}
		return vm.If{Mode: args[0], A: args[1], B: args[2]}, nil
	case "set":
		if err := need(2); err != nil {
			return nil, err
		}
		return vm.Set{Dest: args[0], Src: args[1]}, nil
	case "add":
		if err := need(2); err != nil {
			return nil, err
		}
		return vm.Add{Dest: args[0], Src: args[1]}, nil
	case "sub":
		if err := need(2); err != nil {
			return nil, err
		}
		return vm.Sub{Dest: args[0], Src: args[1]}, nil
	case "mul":
		if err := need(2); err != nil {
			return nil, err
		}
		return vm.Mul{Dest: args[0], Src: args[1]}, nil
	case "div":
		if err := need(2); err != nil {
			return nil, err
		}
		return vm.Div{Dest: args[0], Src: args[1]}, nil
	case "xfer":
		if err := need(3); err != nil {
			return nil, err
		}
		return vm.Xfer{Direction: args[0], SrcIdx: args[1], DstIdx: args[2]}, nil
	case "scan":
		if err := need(1); err != nil {
			return nil, err
		}
		return vm.Scan{Direction: args[0]}, nil
	case "save":
		if err := need(2); err != nil {
			return nil, err
		}
		return vm.Save{Value: args[0], Loc: args[1]}, nil
	case "load":
		if err := need(2); err != nil {
			return nil, err
		}
		return vm.Load{Dest: args[0], Loc: args[1]}, nil
	default:
		return nil, errors.Errorf("unknown opcode %q", cmd)
	}
}
