// Command robotwar runs a multi-robot battle simulation: either a
// standalone match between programs given on the command line, or a
// line-protocol control server that lets a remote driver load programs
// and step the match tick by tick.
package main

import (
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/robotwar/robotwar/asm"
	"github.com/robotwar/robotwar/server"
	"github.com/robotwar/robotwar/spectate"
	"github.com/robotwar/robotwar/vm"
)

const snapshotInterval = 100

func main() {
	var (
		width        = flag.Int("width", 20, "grid width")
		height       = flag.Int("height", 20, "grid height")
		debug        = flag.Bool("debug", false, "print full robot state each tick and wait for enter")
		listen       = flag.String("listen", "", "if set, run the control server on this address instead of standalone mode")
		spectateAddr = flag.String("spectate", "", "if set, serve a websocket spectator feed on this address")
		snapshot     = flag.String("snapshot", "", "if set, periodically write a gob snapshot to this file")
		seed         = flag.Int64("seed", time.Now().UnixNano(), "RNG seed for robot placement")
		logLevel     = flag.String("log-level", "info", "logrus level: debug, info, warn, error")
	)
	flag.Parse()

	logger := logrus.StandardLogger()
	if lvl, err := logrus.ParseLevel(*logLevel); err == nil {
		logger.SetLevel(lvl)
	}

	rng := vm.NewMathRandRNG(*seed)

	var hub *spectate.Hub
	if *spectateAddr != "" {
		hub = spectate.NewHub(logger)
		go hub.Run()
		go func() {
			mux := http.NewServeMux()
			mux.Handle("/ws", hub)
			logger.WithField("addr", *spectateAddr).Info("serving spectator feed")
			if err := http.ListenAndServe(*spectateAddr, mux); err != nil {
				logger.WithError(err).Fatal("spectator server failed")
			}
		}()
	}

	if *listen != "" {
		runServerMode(*listen, rng, logger, hub)
		return
	}
	runStandaloneMode(*width, *height, *debug, rng, logger, hub, *snapshot, *seed)
}

func runServerMode(addr string, rng vm.RNG, logger *logrus.Logger, hub *spectate.Hub) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		logger.WithError(err).Fatal("listen failed")
	}
	logger.WithField("addr", addr).Info("control server listening")
	if err := server.Serve(ln, rng, logger); err != nil {
		logger.WithError(err).Fatal("server stopped")
	}
}

// runStandaloneMode loads one program per command-line argument (team N
// gets argv[N]), then ticks the world until the match is over, mirroring
// the reference implementation's standalone run loop.
func runStandaloneMode(width, height int, debug bool, rng vm.RNG, logger *logrus.Logger, hub *spectate.Hub, snapshotPath string, seed int64) {
	w := vm.NewWorld(width, height, rng)
	w.Debug = debug
	w.Logger = logger

	for i, path := range flag.Args() {
		team := i + 1
		data, err := os.ReadFile(path)
		if err != nil {
			logger.WithError(err).WithField("path", path).Fatal("read program")
		}
		program, err := asm.ParseString(string(data))
		if err != nil {
			logger.WithError(err).WithField("path", path).Fatal("assemble program")
		}
		pos := w.RandomUnoccupiedPosition()
		if _, err := w.Spawn(team, pos, program); err != nil {
			logger.WithError(err).Fatal("spawn robot")
		}
	}

	for !w.IsOver() {
		if debug {
			fmt.Print(w.DebugDump())
			fmt.Scanln()
		}
		w.Tick()

		if hub != nil {
			hub.BroadcastFrame(spectate.BuildFrame(w, debug))
		}
		if snapshotPath != "" && w.Ticks%snapshotInterval == 0 {
			if err := vm.SaveSnapshot(w.Snapshot(seed), snapshotPath); err != nil {
				logger.WithError(err).Warn("snapshot failed")
			}
		}
	}

	if debug {
		for _, r := range w.DrainDead() {
			fmt.Println(r.MurderWeaponLong)
		}
	}
}
