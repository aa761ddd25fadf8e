// acoustics is a CLI for running the sound propagation engine on scene files.
package main

import (
	"flag"
	"fmt"
	"os"
	"sort"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/Faultbox/midgard-acoustics/internal/acoustics/monitor"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	command := os.Args[1]
	args := os.Args[2:]

	switch command {
	case "run":
		cmdRun(args)
	case "dump":
		cmdDump(args)
	case "info":
		cmdInfo(args)
	case "stats":
		cmdStats(args)
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", command)
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println(`acoustics - sound propagation engine utility

Usage:
  acoustics <command> [options]

Commands:
  run <scene.yaml>                 Tick a scene and print the paths of every pair
  dump <scene.yaml> <out.sadb>     Tick a scene and write a monitor snapshot
  info <file.sadb>                 Show the contents of a monitor snapshot
  stats <scene.yaml>               Tick a scene and summarize path lengths

Common options:
  -config <file>   Config file (default: search standard locations)
  -ticks <n>       Ticks to run (default 1)
  -dt <seconds>    Simulated time per tick for moving objects
  -workers <n>     Scheduler workers (0 = all CPUs, 1 = serial)
  -rays <n>        Stochastic rays per cast
  -seed <n>        Ray generator seed
  -debug           Enable debug logging

Examples:
  acoustics run -ticks 5 house.yaml
  acoustics dump house.yaml house.sadb
  acoustics stats -ticks 100 -dt 0.05 -workers 1 house.yaml`)
}

func cmdRun(args []string) {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	sf := registerSessionFlags(fs)
	fs.Parse(args)

	if fs.NArg() < 1 {
		fmt.Fprintln(os.Stderr, "Usage: acoustics run [options] <scene.yaml>")
		os.Exit(1)
	}

	s, err := openSession(sf, fs.Arg(0))
	if err != nil {
		fail(err)
	}
	defer s.close()

	if err := s.run(func(st tickStats) {
		fmt.Printf("tick %d: %d commands (%d rejected), %d scenes rebuilt, %d pairs\n",
			st.Tick, st.Commands, st.Rejected, st.Rebuilt, st.PairTasks)
	}); err != nil {
		fail(err)
	}

	for _, pr := range s.pairs() {
		fmt.Printf("\nemitter %d -> listener %d\n", pr.emitter, pr.listener)
		props, _ := s.engine.PropagationPaths(pr.emitter, pr.listener)
		for _, p := range props {
			fmt.Printf("  rooms       %v via portal %d length %.2f gain %.3f\n", p.Rooms(), p.FirstPortal(), p.Length, p.Gain)
		}
		paths, _ := s.engine.DiffractionPaths(pr.emitter, pr.listener)
		for _, p := range paths {
			kind := "diffraction"
			if p.Placeholder {
				kind = "placeholder"
			}
			fmt.Printf("  %-11s nodes %d length %.2f diffraction %.3f gain %.3f\n",
				kind, p.NodeCount(), p.Length, p.Diffraction, p.Gain)
		}
		virt, _ := s.engine.ReflectionPaths(pr.emitter, pr.listener)
		for _, v := range virt {
			fmt.Printf("  reflection  order %d length %.2f diffraction %.3f image %v\n",
				v.Order, v.Length, v.Diffraction, v.Position)
		}
	}
}

func cmdDump(args []string) {
	fs := flag.NewFlagSet("dump", flag.ExitOnError)
	sf := registerSessionFlags(fs)
	fs.Parse(args)

	if fs.NArg() < 2 {
		fmt.Fprintln(os.Stderr, "Usage: acoustics dump [options] <scene.yaml> <out.sadb>")
		os.Exit(1)
	}

	s, err := openSession(sf, fs.Arg(0))
	if err != nil {
		fail(err)
	}
	defer s.close()

	if err := s.run(nil); err != nil {
		fail(err)
	}

	f, err := os.Create(fs.Arg(1))
	if err != nil {
		fail(err)
	}
	snap := s.engine.Snapshot()
	if err := monitor.Write(f, snap); err != nil {
		f.Close()
		fail(err)
	}
	if err := f.Close(); err != nil {
		fail(err)
	}

	h := snap.Header()
	fmt.Printf("Wrote %s: tick %d, %d edges, %d diffraction, %d reflection paths\n",
		fs.Arg(1), h.Tick, h.Edges, h.DiffractionPaths, h.ReflectionPaths)
}

func cmdInfo(args []string) {
	if len(args) < 1 {
		fmt.Fprintln(os.Stderr, "Usage: acoustics info <file.sadb>")
		os.Exit(1)
	}

	f, err := os.Open(args[0])
	if err != nil {
		fail(err)
	}
	defer f.Close()

	snap, err := monitor.Read(f)
	if err != nil {
		fail(err)
	}

	fmt.Printf("Snapshot: %s\n", args[0])
	fmt.Printf("Tick:     %d\n", snap.Tick)
	fmt.Printf("Rooms:    %d\n", len(snap.Rooms))
	fmt.Printf("Portals:  %d\n", len(snap.Portals))
	fmt.Printf("Edges:    %d\n", len(snap.Edges))
	fmt.Printf("Paths:    %d diffraction, %d reflection\n", len(snap.Diffraction), len(snap.Reflection))
	fmt.Println()

	for _, r := range snap.Rooms {
		fmt.Printf("  room %-4d %-16s portals %v\n", r.ID, r.Name, r.Portals)
	}
	for _, p := range snap.Portals {
		state := "open"
		if !p.Enabled {
			state = "closed"
		}
		fmt.Printf("  portal %-4d %d <-> %d %-6s gain %.3f\n", p.ID, p.FrontRoom, p.BackRoom, state, p.Gain)
	}

	var linked, openings int
	for _, e := range snap.Edges {
		if e.Portal != 0 {
			openings++
		} else if e.Visible0+e.Visible1 > 0 {
			linked++
		}
	}
	fmt.Printf("  edges with visibility %d, portal opening edges %d\n", linked, openings)
}

func cmdStats(args []string) {
	fs := flag.NewFlagSet("stats", flag.ExitOnError)
	sf := registerSessionFlags(fs)
	fs.Parse(args)

	if fs.NArg() < 1 {
		fmt.Fprintln(os.Stderr, "Usage: acoustics stats [options] <scene.yaml>")
		os.Exit(1)
	}

	s, err := openSession(sf, fs.Arg(0))
	if err != nil {
		fail(err)
	}
	defer s.close()

	var diff, refl, ticks []float64
	placeholders := 0
	if err := s.run(func(st tickStats) {
		ticks = append(ticks, st.elapsed.Seconds()*1000)
		for _, pr := range s.pairs() {
			paths, _ := s.engine.DiffractionPaths(pr.emitter, pr.listener)
			for _, p := range paths {
				if p.Placeholder {
					placeholders++
					continue
				}
				diff = append(diff, float64(p.Length))
			}
			virt, _ := s.engine.ReflectionPaths(pr.emitter, pr.listener)
			for _, v := range virt {
				refl = append(refl, float64(v.Length))
			}
		}
	}); err != nil {
		fail(err)
	}

	fmt.Printf("Scene:        %s\n", fs.Arg(0))
	fmt.Printf("Ticks:        %d\n", len(ticks))
	fmt.Printf("Pairs:        %d\n", len(s.pairs()))
	fmt.Printf("Placeholders: %d\n", placeholders)
	fmt.Println()
	fmt.Printf("  %-14s %8s %8s %8s %8s %8s\n", "", "count", "mean", "stddev", "median", "max")
	printSummary("tick ms", ticks)
	printSummary("diffraction", diff)
	printSummary("reflection", refl)
}

func printSummary(name string, x []float64) {
	if len(x) == 0 {
		fmt.Printf("  %-14s %8d\n", name, 0)
		return
	}
	sort.Float64s(x)
	mean, std := stat.MeanStdDev(x, nil)
	if len(x) == 1 {
		std = 0
	}
	median := stat.Quantile(0.5, stat.Empirical, x, nil)
	fmt.Printf("  %-14s %8d %8.2f %8.2f %8.2f %8.2f\n", name, len(x), mean, std, median, floats.Max(x))
}

func fail(err error) {
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	os.Exit(1)
}
