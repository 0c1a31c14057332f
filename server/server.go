// Package server implements the line-oriented control protocol used to
// drive a match: size/debug/load/tick/status/quit commands read from a
// stream and acknowledged on another, so the same Server can be driven
// over stdin/stdout for local testing or over a TCP listener for remote
// control.
package server

import (
	"bufio"
	"fmt"
	"io"
	"net"
	"os"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/robotwar/robotwar/asm"
	"github.com/robotwar/robotwar/vm"
)

// ProgramLoader turns a path into a parsed program. The default reads the
// file from disk and assembles it; tests substitute an in-memory loader.
type ProgramLoader func(path string) ([]vm.Instruction, error)

func fileLoader(path string) ([]vm.Instruction, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "read program %q", path)
	}
	prog, err := asm.ParseString(string(data))
	if err != nil {
		return nil, errors.Wrapf(err, "assemble program %q", path)
	}
	return prog, nil
}

// Server holds one match's worth of control-protocol state. It is not
// safe for concurrent use by more than one session at a time.
type Server struct {
	world   *vm.World
	debug   bool
	ticks   int
	running bool

	rng    vm.RNG
	logger *logrus.Entry
	load   ProgramLoader

	// Spectate, if set, receives a broadcast frame after every tick batch.
	Spectate func(w *vm.World, debug bool)
}

// NewServer returns a server ready to accept a "size" command. rng seeds
// robot placement; logger may be nil to use the standard logger.
func NewServer(rng vm.RNG, logger *logrus.Logger) *Server {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Server{
		running: true,
		rng:     rng,
		logger:  logger.WithField("session", uuid.NewString()),
		load:    fileLoader,
	}
}

// Serve accepts connections on ln and runs one Server session per
// connection until ln is closed or the listener errors.
func Serve(ln net.Listener, rng vm.RNG, logger *logrus.Logger) error {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	for {
		conn, err := ln.Accept()
		if err != nil {
			return errors.Wrap(err, "accept")
		}
		go func() {
			defer conn.Close()
			srv := NewServer(rng, logger)
			if err := srv.Run(conn, conn); err != nil && err != io.EOF {
				srv.logger.WithError(err).Warn("session ended with error")
			}
		}()
	}
}

// Run drives the command loop, reading commands from r and writing
// acknowledgements to w, until a quit command arrives or r is exhausted.
func (s *Server) Run(r io.Reader, w io.Writer) error {
	in := bufio.NewScanner(r)
	in.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	out := bufio.NewWriter(w)
	defer out.Flush()

	for s.running {
		cmd, args, err := readCmd(in)
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		if err := s.dispatch(cmd, args, out); err != nil {
			s.logger.WithError(err).WithField("cmd", cmd).Warn("command failed")
			sendCmd(out, "error", []string{err.Error()})
		}
		out.Flush()
	}
	return nil
}

func (s *Server) dispatch(cmd string, args []string, out *bufio.Writer) error {
	switch cmd {
	case "size":
		return s.cmdSize(args)
	case "debug":
		return s.cmdDebug(args)
	case "load":
		return s.cmdLoad(args)
	case "tick":
		return s.cmdTick(args, out)
	case "status":
		return s.cmdStatus(args, out)
	case "quit":
		return s.cmdQuit(args)
	default:
		return errors.Errorf("unknown command %q", cmd)
	}
}

func (s *Server) cmdSize(args []string) error {
	if len(args) != 2 {
		return errors.Errorf("size takes 2 arguments, got %d", len(args))
	}
	width, err := strconv.Atoi(args[0])
	if err != nil {
		return errors.Wrap(err, "size width")
	}
	height, err := strconv.Atoi(args[1])
	if err != nil {
		return errors.Wrap(err, "size height")
	}
	s.world = vm.NewWorld(width, height, s.rng)
	s.world.Debug = s.debug
	s.world.Logger = s.logger.Logger
	return nil
}

func (s *Server) cmdDebug(args []string) error {
	switch len(args) {
	case 0:
		s.debug = true
	case 1:
		s.debug = args[0] == "true" || args[0] == "1"
	default:
		return errors.Errorf("debug takes 0 or 1 arguments, got %d", len(args))
	}
	if s.world != nil {
		s.world.Debug = s.debug
	}
	return nil
}

func (s *Server) cmdLoad(args []string) error {
	if s.world == nil {
		return errors.New("load before size")
	}
	for _, line := range args {
		teamStr, path, ok := strings.Cut(line, " ")
		if !ok {
			return errors.Errorf("malformed load line %q", line)
		}
		team, err := strconv.Atoi(teamStr)
		if err != nil {
			return errors.Wrapf(err, "load team in %q", line)
		}
		program, err := s.load(path)
		if err != nil {
			return err
		}
		pos := s.world.RandomUnoccupiedPosition()
		if _, err := s.world.Spawn(team, pos, program); err != nil {
			return errors.Wrapf(err, "spawn robot from %q", path)
		}
	}
	return nil
}

func (s *Server) cmdTick(args []string, out *bufio.Writer) error {
	if s.world == nil {
		return errors.New("tick before size")
	}
	count := 1
	if len(args) == 1 {
		n, err := strconv.Atoi(args[0])
		if err != nil {
			return errors.Wrap(err, "tick count")
		}
		count = n
	} else if len(args) > 1 {
		return errors.Errorf("tick takes 0 or 1 arguments, got %d", len(args))
	}

	for i := 0; i < count; i++ {
		s.world.Tick()
		s.ticks++
		if s.world.IsOver() {
			break
		}
	}
	if s.Spectate != nil {
		s.Spectate(s.world, s.debug)
	}

	robots := make([]string, 0, len(s.world.Robots()))
	for _, r := range s.world.Robots() {
		robots = append(robots, fmt.Sprintf("%d %d %d %d", r.ID, r.Team, r.Position.X, r.Position.Y))
	}
	sendCmd(out, "robots", robots)
	return nil
}

func (s *Server) cmdStatus(args []string, out *bufio.Writer) error {
	if len(args) != 0 {
		return errors.Errorf("status takes no arguments, got %d", len(args))
	}
	cmd := "running"
	if s.world != nil && s.world.IsOver() {
		cmd = "end"
	}
	sendCmd(out, cmd, []string{strconv.Itoa(s.ticks)})
	return nil
}

func (s *Server) cmdQuit(args []string) error {
	if len(args) != 0 {
		return errors.Errorf("quit takes no arguments, got %d", len(args))
	}
	s.running = false
	return nil
}

// readCmd reads one command off in: a plain line, or a "cmd:" line
// followed by zero or more argument lines terminated by a blank line.
func readCmd(in *bufio.Scanner) (string, []string, error) {
	var line string
	for {
		if !in.Scan() {
			if err := in.Err(); err != nil {
				return "", nil, err
			}
			return "", nil, io.EOF
		}
		line = strings.ToLower(strings.TrimSpace(in.Text()))
		if line != "" {
			break
		}
	}

	if strings.HasSuffix(line, ":") {
		cmd := strings.TrimSuffix(line, ":")
		var args []string
		for in.Scan() {
			next := in.Text()
			if strings.TrimSpace(next) == "" {
				break
			}
			args = append(args, next)
		}
		return cmd, args, nil
	}

	fields := strings.Fields(line)
	return fields[0], fields[1:], nil
}

// sendCmd writes a single-line command, or a "cmd:" block followed by its
// argument lines and a blank terminator, mirroring readCmd's framing.
func sendCmd(out *bufio.Writer, cmd string, args []string) {
	if len(args) == 0 {
		fmt.Fprintln(out, cmd)
		return
	}
	fmt.Fprintln(out, cmd+":")
	for _, a := range args {
		fmt.Fprintln(out, a)
	}
	fmt.Fprintln(out)
}
