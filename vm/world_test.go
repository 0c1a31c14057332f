package vm

import (
	"strings"
	"testing"
)

// fixedRNG always returns 0, useful for deterministic placement in tests
// that don't care where robots land.
type fixedRNG struct{}

func (fixedRNG) Intn(n int) int { return 0 }

func mustSpawn(t *testing.T, w *World, team int, pos Pos, program []Instruction) *Robot {
	t.Helper()
	r, err := w.Spawn(team, pos, program)
	if err != nil {
		t.Fatalf("spawn: %v", err)
	}
	return r
}

// S1 — move into an empty cell.
func TestMoveIntoEmptyCell(t *testing.T) {
	w := NewWorld(5, 5, fixedRNG{})
	r := mustSpawn(t, w, 1, Pos{2, 2}, []Instruction{Move{Direction: Constant(Right)}})

	for i := 0; i < 10; i++ {
		w.Tick()
	}

	if r.Position != (Pos{3, 2}) {
		t.Errorf("position = %+v, want (3,2)", r.Position)
	}
	if r.Threads[0].Locals[0] != Success {
		t.Errorf("L0 = %d, want success", r.Threads[0].Locals[0])
	}
}

// S2 — move on a 1x1 torus: destination equals the mover's own cell, which
// is passable because the mover excludes itself from the occupancy check.
func TestMoveOnUnitTorusExcludesSelf(t *testing.T) {
	w := NewWorld(1, 1, fixedRNG{})
	r := mustSpawn(t, w, 1, Pos{0, 0}, []Instruction{Move{Direction: Constant(Right)}})

	for i := 0; i < 10; i++ {
		w.Tick()
	}

	if r.Position != (Pos{0, 0}) {
		t.Errorf("position = %+v, want (0,0)", r.Position)
	}
	if r.Threads[0].Locals[0] != Success {
		t.Errorf("L0 = %d, want success (self-excluded passable check)", r.Threads[0].Locals[0])
	}
}

// S3 — division by zero kills the robot with a murder weapon description.
func TestDivisionByZeroIsFatal(t *testing.T) {
	w := NewWorld(5, 5, fixedRNG{})
	r := mustSpawn(t, w, 1, Pos{0, 0}, []Instruction{
		Set{Dest: Register(0), Src: Constant(1)},
		Set{Dest: Register(1), Src: Constant(0)},
		Div{Dest: Register(0), Src: Register(1)},
	})

	for i := 0; i < 3; i++ {
		w.Tick()
	}

	if !r.Dead {
		t.Fatal("robot should be dead")
	}
	if !strings.Contains(r.MurderWeapon, "division by zero") {
		t.Errorf("murder weapon = %q, want mention of division by zero", r.MurderWeapon)
	}
}

// S4 — fork then exit: only the parent thread survives, robot stays alive.
// The program loops back to the fork, so it runs in a three-tick cycle
// (fork; if; exit in the child and jump in the parent) and has a single
// thread after every tick count that is a multiple of three.
func TestForkAndExit(t *testing.T) {
	w := NewWorld(5, 5, fixedRNG{})
	r := mustSpawn(t, w, 1, Pos{0, 0}, []Instruction{
		Fork{},
		If{Mode: Constant(Eq), A: Register(0), B: Constant(ChildResult)},
		Exit{},
		Jump{Target: Constant(0)},
	})

	for i := 0; i < 21; i++ {
		w.Tick()
	}

	if r.Dead {
		t.Fatal("robot should still be alive")
	}
	if len(r.Threads) != 1 {
		t.Fatalf("want exactly 1 surviving thread, got %d", len(r.Threads))
	}
}

// S5 — xfer overwrites a neighbor's program slot.
func TestTransferOverwritesNeighbor(t *testing.T) {
	w := NewWorld(5, 5, fixedRNG{})
	attacker := mustSpawn(t, w, 1, Pos{0, 0}, []Instruction{
		Nop{}, Nop{}, Nop{}, Jump{Target: Constant(0)},
		Xfer{Direction: Constant(Right), SrcIdx: Constant(3), DstIdx: Constant(0)},
	})
	attacker.Threads[0].PC = 4 // start directly at the xfer instruction
	victim := mustSpawn(t, w, 2, Pos{1, 0}, []Instruction{Nop{}, Jump{Target: Constant(0)}})

	for i := 0; i < 2; i++ {
		w.Tick()
	}

	if len(victim.Program) == 0 {
		t.Fatal("victim program is empty")
	}
	if _, ok := victim.Program[0].(Jump); !ok {
		t.Errorf("victim.Program[0] = %T, want vm.Jump", victim.Program[0])
	}
}

// S6 — match ends the instant one team is eliminated.
func TestMatchEndsOnTeamElimination(t *testing.T) {
	w := NewWorld(5, 5, fixedRNG{})
	a := mustSpawn(t, w, 1, Pos{0, 0}, []Instruction{
		Set{Dest: Register(0), Src: Constant(1)},
		Set{Dest: Register(1), Src: Constant(0)},
		Div{Dest: Register(0), Src: Register(1)},
	})
	mustSpawn(t, w, 2, Pos{4, 4}, []Instruction{Jump{Target: Constant(0)}})

	if w.IsOver() {
		t.Fatal("match should not be over yet")
	}
	for i := 0; i < 3 && !a.Dead; i++ {
		w.Tick()
	}
	if !a.Dead {
		t.Fatal("team-1 robot should have died")
	}
	if !w.IsOver() {
		t.Fatal("match should be over: team 1 eliminated")
	}
}

func TestPSumIsModular(t *testing.T) {
	w := NewWorld(4, 3, fixedRNG{})
	tests := []struct {
		pos, off Pos
		want     Pos
	}{
		{Pos{0, 0}, Pos{-1, 0}, Pos{3, 0}},
		{Pos{3, 2}, Pos{1, 1}, Pos{0, 0}},
		{Pos{2, 1}, Pos{0, 0}, Pos{2, 1}},
	}
	for _, tt := range tests {
		got := w.PSum(tt.pos, tt.off)
		if got != tt.want {
			t.Errorf("PSum(%+v, %+v) = %+v, want %+v", tt.pos, tt.off, got, tt.want)
		}
		if got.X < 0 || got.X >= w.Width || got.Y < 0 || got.Y >= w.Height {
			t.Errorf("PSum(%+v, %+v) = %+v out of bounds", tt.pos, tt.off, got)
		}
	}
}

// Invariant: at most one live robot ever occupies a cell, across a
// sequence of ticks where robots actively try to collide.
func TestAtMostOneLiveRobotPerCell(t *testing.T) {
	w := NewWorld(2, 1, fixedRNG{})
	mustSpawn(t, w, 1, Pos{0, 0}, []Instruction{Move{Direction: Constant(Right)}, Jump{Target: Constant(0)}})
	mustSpawn(t, w, 2, Pos{1, 0}, []Instruction{Move{Direction: Constant(Left)}, Jump{Target: Constant(0)}})

	seen := make(map[Pos]int)
	for i := 0; i < 200; i++ {
		w.Tick()
		seen = make(map[Pos]int)
		for _, r := range w.Robots() {
			seen[r.Position]++
			if seen[r.Position] > 1 {
				t.Fatalf("tick %d: position %+v occupied by more than one robot", i, r.Position)
			}
		}
	}
}

// Clone (build) produces a robot with a different id, the same team, and
// a program that spins on jump 0 until reprogrammed.
func TestBuildProducesSpinningClone(t *testing.T) {
	w := NewWorld(5, 5, fixedRNG{})
	parent := mustSpawn(t, w, 7, Pos{0, 0}, []Instruction{Clone{Direction: Constant(Right)}})

	for i := 0; i < 100; i++ {
		w.Tick()
	}

	var child *Robot
	for _, r := range w.Robots() {
		if r.ID != parent.ID {
			child = r
		}
	}
	if child == nil {
		t.Fatal("no clone was spawned")
	}
	if child.ID == parent.ID {
		t.Error("clone id must differ from parent id")
	}
	if child.Team != parent.Team {
		t.Errorf("clone team = %d, want %d", child.Team, parent.Team)
	}
	if len(child.Program) != 1 {
		t.Fatalf("clone program length = %d, want 1", len(child.Program))
	}
	if _, ok := child.Program[0].(Jump); !ok {
		t.Errorf("clone program[0] = %T, want vm.Jump", child.Program[0])
	}
}

// After death, the world's bookkeeping never surfaces the robot again.
func TestDeadRobotNeverTickedAgain(t *testing.T) {
	w := NewWorld(3, 3, fixedRNG{})
	r := mustSpawn(t, w, 1, Pos{0, 0}, []Instruction{
		Set{Dest: Register(0), Src: Constant(1)},
		Set{Dest: Register(1), Src: Constant(0)},
		Div{Dest: Register(0), Src: Register(1)},
	})

	for i := 0; i < 3; i++ {
		w.Tick()
	}
	if !r.Dead {
		t.Fatal("robot should be dead")
	}
	for i := 0; i < 5; i++ {
		w.Tick()
		for _, live := range w.Robots() {
			if live.ID == r.ID {
				t.Fatal("dead robot resurfaced in live robot list")
			}
		}
	}
	if !w.IsOver() {
		t.Fatal("is_over should consider the dead robot removed")
	}
}
