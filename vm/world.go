package vm

import (
	"errors"

	"github.com/sirupsen/logrus"
)

// Pos is a position on the toroidal grid.
type Pos struct {
	X, Y int
}

// RNG is the pluggable random source used for initial robot placement.
// Implementations must return a uniform value in [0, n).
type RNG interface {
	Intn(n int) int
}

// ErrInvalidTeam is returned by Spawn when asked to place a robot on
// team 0, which is reserved and invalid.
var ErrInvalidTeam = errors.New("team number must be positive, 0 is reserved")

// World is the grid, the live robot registry and team index, and the
// tick scheduler. Position arithmetic is modular: PSum wraps both axes.
type World struct {
	Width, Height int
	Debug         bool
	Logger        *logrus.Logger

	rng      RNG
	robots   map[int]*Robot
	order    []int
	teams    map[int]map[int]*Robot
	posIndex map[Pos]int
	dead     []*Robot
	nextID   int
	Ticks    int
}

// NewWorld creates an empty world of the given dimensions.
func NewWorld(width, height int, rng RNG) *World {
	return &World{
		Width:    width,
		Height:   height,
		Logger:   logrus.StandardLogger(),
		rng:      rng,
		robots:   make(map[int]*Robot),
		teams:    make(map[int]map[int]*Robot),
		posIndex: make(map[Pos]int),
	}
}

// PSum is the world's modular position arithmetic: p_sum((x,y),(dx,dy)).
func (w *World) PSum(pos, off Pos) Pos {
	x := ((pos.X+off.X)%w.Width + w.Width) % w.Width
	y := ((pos.Y+off.Y)%w.Height + w.Height) % w.Height
	return Pos{X: x, Y: y}
}

// Passable reports whether pos is free for selfID to move or build into.
// selfID is excluded from the occupancy check, so a robot that computes
// its own cell as a destination (possible on a 1x1 or 1xN torus) finds it
// passable.
func (w *World) Passable(selfID int, pos Pos) bool {
	id, occupied := w.posIndex[pos]
	return !occupied || id == selfID
}

// At returns the robot occupying pos, if any. Unlike Passable, At does
// not exclude any robot: scanning or transferring toward your own cell on
// a degenerate torus reports yourself.
func (w *World) At(pos Pos) (*Robot, bool) {
	id, ok := w.posIndex[pos]
	if !ok {
		return nil, false
	}
	r := w.robots[id]
	return r, r != nil
}

// RandomUnoccupiedPosition draws a position uniformly from the
// unoccupied cells of the grid.
func (w *World) RandomUnoccupiedPosition() Pos {
	for {
		p := Pos{X: w.rng.Intn(w.Width), Y: w.rng.Intn(w.Height)}
		if _, occupied := w.posIndex[p]; !occupied {
			return p
		}
	}
}

// Spawn creates a new robot with a fresh id, a single thread at PC 0, and
// adds it to the world.
func (w *World) Spawn(team int, pos Pos, program []Instruction) (*Robot, error) {
	if team <= 0 {
		return nil, ErrInvalidTeam
	}
	r := &Robot{
		ID:      w.allocID(),
		Team:    team,
		Position: pos,
		Program: program,
		Threads: []*Thread{{}},
		Memory:  make(map[string]Word),
	}
	w.addLive(r)
	return r, nil
}

// spawnClone creates the empty clone build() produces: same team, fresh
// id, a single program that spins on Jump 0 until reprogrammed via xfer.
func (w *World) spawnClone(parent *Robot, pos Pos) *Robot {
	child := &Robot{
		ID:      w.allocID(),
		Team:    parent.Team,
		Position: pos,
		Program: []Instruction{Jump{Target: Constant(0)}},
		Threads: []*Thread{{}},
		Memory:  make(map[string]Word),
	}
	w.addLive(child)
	return child
}

func (w *World) allocID() int {
	id := w.nextID
	w.nextID++
	return id
}

func (w *World) addLive(r *Robot) {
	w.robots[r.ID] = r
	w.order = append(w.order, r.ID)
	w.posIndex[r.Position] = r.ID
	if w.teams[r.Team] == nil {
		w.teams[r.Team] = make(map[int]*Robot)
	}
	w.teams[r.Team][r.ID] = r
}

func (w *World) move(r *Robot, dest Pos) {
	delete(w.posIndex, r.Position)
	r.Position = dest
	w.posIndex[dest] = r.ID
}

// Kill captures the fault, marks the robot dead, and removes it from the
// live registry and its team bucket. A fault in one robot never affects
// the tick of any other robot in the same tick.
func (w *World) Kill(r *Robot, cause error) {
	r.Dead = true
	r.MurderWeapon = cause.Error()
	if w.Debug {
		r.MurderWeaponLong = debugTrace(cause)
	}
	delete(w.robots, r.ID)
	delete(w.posIndex, r.Position)
	if team, ok := w.teams[r.Team]; ok {
		delete(team, r.ID)
	}
	w.dead = append(w.dead, r)
	if w.Logger != nil {
		w.Logger.WithField("robot", r.ID).WithError(cause).Debug("robot died")
	}
}

// DrainDead returns the robots that have died since the last call and
// clears the log, matching the standalone debug dump's "clear after
// printing" behavior.
func (w *World) DrainDead() []*Robot {
	d := w.dead
	w.dead = nil
	return d
}

// IsOver reports whether the match has ended: at most one live robot
// remains, or at most one team still has live members.
func (w *World) IsOver() bool {
	if len(w.robots) <= 1 {
		return true
	}
	active := 0
	for _, members := range w.teams {
		if len(members) > 0 {
			active++
			if active > 1 {
				return false
			}
		}
	}
	return true
}

// Tick schedules every currently live robot exactly once, in the order
// they joined the world. Robots spawned by build() during this tick are
// added to the live registry immediately (so a neighbor's scan/xfer sees
// them right away) but are not part of this tick's snapshot, so they are
// not ticked until the next call to Tick.
func (w *World) Tick() {
	snapshot := append([]int(nil), w.order...)
	for _, id := range snapshot {
		r, ok := w.robots[id]
		if !ok || r.Dead {
			continue
		}
		if err := w.tickRobot(r); err != nil {
			w.Kill(r, err)
		}
	}

	live := w.order[:0]
	for _, id := range w.order {
		if _, ok := w.robots[id]; ok {
			live = append(live, id)
		}
	}
	w.order = live
	w.Ticks++
}

// tickRobot runs one robot's Tick, converting any panic (an out-of-range
// register or global index reached by a hand-built or malformed program)
// into an ordinary fault instead of letting it escape and take down the
// whole match. This mirrors the reference implementation's blanket
// per-robot exception handler: a fault in one robot never affects any
// other robot's tick.
func (w *World) tickRobot(r *Robot) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = faultf("panic", "%v", p)
		}
	}()
	return r.Tick(w)
}

// Robots returns the currently live robots, in join order.
func (w *World) Robots() []*Robot {
	out := make([]*Robot, 0, len(w.order))
	for _, id := range w.order {
		out = append(out, w.robots[id])
	}
	return out
}
