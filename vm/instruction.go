package vm

import "strconv"

// Direction indexes the four cardinal neighbors of a grid cell.
type Direction int

const (
	Up Direction = iota
	Right
	Down
	Left
)

// DIRS maps a Direction to its (dx, dy) offset. Y grows downward.
var DIRS = [4]Pos{
	Up:    {0, -1},
	Right: {1, 0},
	Down:  {0, 1},
	Left:  {-1, 0},
}

// Comparison modes for the "if" instruction.
type Mode int

const (
	Eq Mode = iota
	Ne
	Lt
	Le
	Gt
	Ge
)

// Result register conventions.
const (
	Failure Word = 0
	Success Word = 1
)

// Fork's result-register conventions for the parent and the child.
const (
	ParentResult Word = 1
	ChildResult  Word = 2
)

// Instruction is a single opcode: how long it takes to fire, and what it
// does once it does. Every concrete instruction type lives in this file
// so the whole opcode table is enumerable in one place.
type Instruction interface {
	Duration() int
	Execute(w *World, r *Robot) error
}

func readDirection(v Value, r *Robot) (Direction, error) {
	raw, err := v.Read(r)
	if err != nil {
		return 0, err
	}
	d := Direction(raw)
	if d < Up || d > Left {
		return 0, faultf("direction", "direction %d out of range", raw)
	}
	return d, nil
}

// Nop is the no-op placeholder used to pad a robot's program when a
// transfer writes past its current end. It never appears in hand-written
// programs; the parser never emits it either.
type Nop struct{}

func (Nop) Duration() int                    { return 0 }
func (Nop) Execute(w *World, r *Robot) error { return nil }

// Move implements the "go" opcode.
type Move struct {
	Direction Value
}

func (Move) Duration() int { return 10 }

func (m Move) Execute(w *World, r *Robot) error {
	d, err := readDirection(m.Direction, r)
	if err != nil {
		return err
	}
	dest := w.PSum(r.Position, DIRS[d])
	if w.Passable(r.ID, dest) {
		w.move(r, dest)
		r.Result(Success)
	} else {
		r.Result(Failure)
	}
	return nil
}

// Clone implements the "build" opcode: spawn an empty clone at the
// destination cell.
type Clone struct {
	Direction Value
}

func (Clone) Duration() int { return 100 }

func (c Clone) Execute(w *World, r *Robot) error {
	d, err := readDirection(c.Direction, r)
	if err != nil {
		return err
	}
	dest := w.PSum(r.Position, DIRS[d])
	if !w.Passable(r.ID, dest) {
		r.Result(Failure)
		return nil
	}
	w.spawnClone(r, dest)
	r.Result(Success)
	return nil
}

// Jump implements the "jump" opcode. PC is set one short of the target
// since the generic post-execute advance adds the final 1.
type Jump struct {
	Target Value
}

func (Jump) Duration() int { return 0 }

func (j Jump) Execute(w *World, r *Robot) error {
	t, err := j.Target.Read(r)
	if err != nil {
		return err
	}
	r.CurrentThread().PC = int(t) - 1
	return nil
}

// Fork implements the "fork" opcode: clone the current thread in place.
type Fork struct{}

func (Fork) Duration() int { return 1 }

func (Fork) Execute(w *World, r *Robot) error {
	cur := r.CurrentThread()
	child := cur.Clone()
	child.PC = cur.PC + 1
	child.Locals[0] = ChildResult
	cur.Locals[0] = ParentResult
	r.Threads = append(r.Threads, child)
	return nil
}

// Exit implements the "exit" opcode. Exiting the last thread is a no-op
// that reports failure; exit is never fatal.
type Exit struct{}

func (Exit) Duration() int { return 0 }

func (Exit) Execute(w *World, r *Robot) error {
	// Slots already nulled by an earlier exit this tick do not count as
	// live threads.
	live := 0
	for _, t := range r.Threads {
		if t != nil {
			live++
		}
	}
	if live > 1 {
		r.Threads[r.CurrentThreadIndex] = nil
	} else {
		r.Result(Failure)
	}
	return nil
}

// If implements the "if" opcode: on a false comparison, the next
// instruction is skipped via one extra PC advance.
type If struct {
	Mode Value
	A, B Value
}

func (If) Duration() int { return 0 }

func (i If) Execute(w *World, r *Robot) error {
	modeWord, err := i.Mode.Read(r)
	if err != nil {
		return err
	}
	a, err := i.A.Read(r)
	if err != nil {
		return err
	}
	b, err := i.B.Read(r)
	if err != nil {
		return err
	}
	ok, err := compare(Mode(modeWord), a, b)
	if err != nil {
		return err
	}
	if !ok {
		r.CurrentThread().PC++
	}
	return nil
}

func compare(mode Mode, a, b Word) (bool, error) {
	switch mode {
	case Eq:
		return a == b, nil
	case Ne:
		return a != b, nil
	case Lt:
		return a < b, nil
	case Le:
		return a <= b, nil
	case Gt:
		return a > b, nil
	case Ge:
		return a >= b, nil
	default:
		return false, faultf("if", "unknown comparison mode %d", mode)
	}
}

// Set implements "set dst src".
type Set struct {
	Dest, Src Value
}

func (Set) Duration() int { return 0 }

func (s Set) Execute(w *World, r *Robot) error {
	v, err := s.Src.Read(r)
	if err != nil {
		return err
	}
	return s.Dest.Write(r, v)
}

// Add implements "add dst src": dst <- dst + src.
type Add struct {
	Dest, Src Value
}

func (Add) Duration() int { return 0 }

func (a Add) Execute(w *World, r *Robot) error {
	return applyArith(r, a.Dest, a.Src, func(x, y Word) (Word, error) { return x + y, nil })
}

// Sub implements "sub dst src": dst <- dst - src.
type Sub struct {
	Dest, Src Value
}

func (Sub) Duration() int { return 0 }

func (s Sub) Execute(w *World, r *Robot) error {
	return applyArith(r, s.Dest, s.Src, func(x, y Word) (Word, error) { return x - y, nil })
}

// Mul implements "mul dst src": dst <- dst * src.
type Mul struct {
	Dest, Src Value
}

func (Mul) Duration() int { return 0 }

func (m Mul) Execute(w *World, r *Robot) error {
	return applyArith(r, m.Dest, m.Src, func(x, y Word) (Word, error) { return x * y, nil })
}

// Div implements "div dst src": dst <- dst / src, truncated toward
// negative infinity, matching the reference implementation's integer
// division. Division by zero is a fatal fault.
type Div struct {
	Dest, Src Value
}

func (Div) Duration() int { return 0 }

func (d Div) Execute(w *World, r *Robot) error {
	return applyArith(r, d.Dest, d.Src, func(x, y Word) (Word, error) {
		if y == 0 {
			return 0, faultf("div", "division by zero")
		}
		return floorDiv(x, y), nil
	})
}

func floorDiv(a, b Word) Word {
	q := a / b
	if (a%b != 0) && ((a < 0) != (b < 0)) {
		q--
	}
	return q
}

func applyArith(r *Robot, dest, src Value, op func(x, y Word) (Word, error)) error {
	x, err := dest.Read(r)
	if err != nil {
		return err
	}
	y, err := src.Read(r)
	if err != nil {
		return err
	}
	result, err := op(x, y)
	if err != nil {
		return err
	}
	return dest.Write(r, result)
}

// Xfer implements "xfer dir srcIdx dstIdx": copy one instruction from this
// robot's program into a neighbor's program, extending the neighbor's
// program with Nop placeholders as needed.
type Xfer struct {
	Direction    Value
	SrcIdx, DstIdx Value
}

func (Xfer) Duration() int { return 2 }

func (x Xfer) Execute(w *World, r *Robot) error {
	d, err := readDirection(x.Direction, r)
	if err != nil {
		return err
	}
	pos := w.PSum(r.Position, DIRS[d])
	target, ok := w.At(pos)
	if !ok {
		r.Result(Failure)
		return nil
	}

	srcIdx, err := x.SrcIdx.Read(r)
	if err != nil {
		return err
	}
	dstIdx, err := x.DstIdx.Read(r)
	if err != nil {
		return err
	}
	if dstIdx < 0 {
		return faultf("xfer", "cannot transfer before start of memory")
	}
	if srcIdx < 0 || int(srcIdx) >= len(r.Program) {
		return faultf("xfer", "source index %d out of bounds", srcIdx)
	}

	for len(target.Program) <= int(dstIdx) {
		target.Program = append(target.Program, Nop{})
	}
	target.Program[dstIdx] = r.Program[srcIdx]
	r.Result(Success)
	return nil
}

// Scan implements "scan dir": report the neighbor's team and id.
type Scan struct {
	Direction Value
}

func (Scan) Duration() int { return 1 }

func (s Scan) Execute(w *World, r *Robot) error {
	d, err := readDirection(s.Direction, r)
	if err != nil {
		return err
	}
	pos := w.PSum(r.Position, DIRS[d])
	target, ok := w.At(pos)
	if !ok {
		r.Result(Failure)
		return nil
	}
	cur := r.CurrentThread()
	cur.Locals[0] = Word(target.Team)
	cur.Locals[1] = Word(target.ID)
	return nil
}

// memKey computes the save/load memory key for loc. A Variable keys by
// name ("%"+name); anything else keys by the decimal string of its
// value, so "save 7 %k" and "save 7 7" address different cells.
func memKey(loc Value, r *Robot) (string, error) {
	if v, ok := loc.(Variable); ok {
		return "%" + v.Name, nil
	}
	n, err := loc.Read(r)
	if err != nil {
		return "", err
	}
	return strconv.FormatInt(int64(n), 10), nil
}

// Save implements "save value loc".
type Save struct {
	Value Value
	Loc   Value
}

func (Save) Duration() int { return 1 }

func (s Save) Execute(w *World, r *Robot) error {
	key, err := memKey(s.Loc, r)
	if err != nil {
		return err
	}
	v, err := s.Value.Read(r)
	if err != nil {
		return err
	}
	r.Memory[key] = v
	return nil
}

// Load implements "load dst loc". A missing key is a fatal fault.
type Load struct {
	Dest Value
	Loc  Value
}

func (Load) Duration() int { return 1 }

func (l Load) Execute(w *World, r *Robot) error {
	key, err := memKey(l.Loc, r)
	if err != nil {
		return err
	}
	v, ok := r.Memory[key]
	if !ok {
		return faultf("load", "memory key %q not set", key)
	}
	return l.Dest.Write(r, v)
}
