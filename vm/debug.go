package vm

import (
	"fmt"
	"strings"
)

func debugTrace(err error) string {
	return fmt.Sprintf("%+v", err)
}

// DebugString renders a robot's full internal state: identity, liveness,
// position, registers, memory, and every thread's program counter,
// locals, and progress toward the current instruction. This mirrors the
// reference implementation's standalone debug dump.
func (r *Robot) DebugString() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Identifier: %d\n", r.ID)
	fmt.Fprintf(&b, "Team:       %d\n", r.Team)
	status := "Alive"
	if r.Dead {
		status = "Dead"
	}
	fmt.Fprintf(&b, "Status:     %s\n", status)
	if r.Dead {
		fmt.Fprintf(&b, "Reason:     %s\n", r.MurderWeapon)
	}
	fmt.Fprintf(&b, "Position:   (%d, %d)\n", r.Position.X, r.Position.Y)
	fmt.Fprintf(&b, "Globals:    %v\n", r.Globals)
	fmt.Fprintf(&b, "Memory:     %v\n", r.Memory)

	for idx, t := range r.Threads {
		if t == nil {
			continue
		}
		fmt.Fprintf(&b, "Thread %d\n", idx)
		fmt.Fprintf(&b, "  Locals:  %v\n", t.Locals)
		fmt.Fprintf(&b, "  Counter: %d\n", t.PC)
		if t.PC >= 0 && t.PC < len(r.Program) {
			instr := r.Program[t.PC]
			fmt.Fprintf(&b, "  Instruction: %T (%.0f%%)\n", instr, t.Progress.Percent(instr.Duration()))
		}
	}
	return b.String()
}

// DebugDump renders every live and recently-dead robot, draining the dead
// log the way the reference implementation's standalone run loop does to
// keep the printout from growing unbounded.
func (w *World) DebugDump() string {
	var b strings.Builder
	for _, r := range w.Robots() {
		b.WriteString(r.DebugString())
		b.WriteString("\n")
	}
	for _, r := range w.DrainDead() {
		fmt.Fprintf(&b, "%s died: %s\n", r.DebugString(), r.MurderWeaponLong)
	}
	return b.String()
}
