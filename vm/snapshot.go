package vm

import (
	"encoding/gob"
	"fmt"
	"os"
)

func init() {
	// Every concrete Instruction and Value implementation must be
	// registered so gob can encode/decode the interface-typed Program and
	// operand fields in a MatchState snapshot.
	gob.Register(Nop{})
	gob.Register(Move{})
	gob.Register(Clone{})
	gob.Register(Jump{})
	gob.Register(Fork{})
	gob.Register(Exit{})
	gob.Register(If{})
	gob.Register(Set{})
	gob.Register(Add{})
	gob.Register(Sub{})
	gob.Register(Mul{})
	gob.Register(Div{})
	gob.Register(Xfer{})
	gob.Register(Scan{})
	gob.Register(Save{})
	gob.Register(Load{})

	gob.Register(Constant(0))
	gob.Register(Register(0))
	gob.Register(Global(0))
	gob.Register(Variable{})
	gob.Register(LabelValue{})
	gob.Register(Relative{})
	gob.Register(TeamValue{})
	gob.Register(IdentifierValue{})
	gob.Register(ProgramCounterValue{})
}

// MatchState is a gob-serializable snapshot of a running match, the same
// shape as the reference implementation's generation snapshots: enough to
// resume a match exactly, including the RNG seed.
type MatchState struct {
	Width, Height int
	Ticks         int
	NextID        int
	Seed          int64
	Robots        []*Robot
	Dead          []*Robot
}

// Snapshot captures the world's current state for persistence.
func (w *World) Snapshot(seed int64) MatchState {
	return MatchState{
		Width:  w.Width,
		Height: w.Height,
		Ticks:  w.Ticks,
		NextID: w.nextID,
		Seed:   seed,
		Robots: w.Robots(),
		Dead:   w.dead,
	}
}

// RestoreWorld rebuilds a world from a previously captured snapshot.
func RestoreWorld(state MatchState, rng RNG) *World {
	w := NewWorld(state.Width, state.Height, rng)
	w.Ticks = state.Ticks
	w.nextID = state.NextID
	w.dead = state.Dead
	for _, r := range state.Robots {
		w.addLive(r)
	}
	return w
}

// SaveSnapshot gob-encodes state to filename.
func SaveSnapshot(state MatchState, filename string) error {
	file, err := os.Create(filename)
	if err != nil {
		return fmt.Errorf("create snapshot file: %w", err)
	}
	defer file.Close()

	if err := gob.NewEncoder(file).Encode(state); err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}
	return nil
}

// LoadSnapshot decodes a snapshot previously written by SaveSnapshot.
func LoadSnapshot(filename string) (MatchState, error) {
	var state MatchState
	file, err := os.Open(filename)
	if err != nil {
		return state, fmt.Errorf("open snapshot file: %w", err)
	}
	defer file.Close()

	if err := gob.NewDecoder(file).Decode(&state); err != nil {
		return state, fmt.Errorf("decode snapshot: %w", err)
	}
	return state, nil
}
