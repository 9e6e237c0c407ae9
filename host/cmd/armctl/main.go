// armctl drives the arm controller from a terminal.
package main

import (
	"bufio"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/google/shlex"
	"github.com/pkg/errors"

	"steparm/host/mcu"
	"steparm/host/serial"
)

var (
	device   = flag.String("device", "/dev/ttyACM0", "Serial device path")
	baud     = flag.Int("baud", serial.DefaultBaud, "Baud rate (ignored for USB CDC)")
	timeout  = flag.Duration("timeout", 30*time.Second, "How long to wait for a move to finish")
	calWait  = flag.Duration("cal-timeout", 90*time.Second, "How long to wait for calibration")
	verbose  = flag.Bool("verbose", false, "Print controller debug output")
	duration = flag.Float64("duration", mcu.DefaultDuration, "Default move duration in seconds")
	accel    = flag.Float64("accel", mcu.DefaultAccelFraction, "Default acceleration fraction of the move")
)

var errUsage = errors.New("bad arguments")

func main() {
	flag.Parse()

	arm := mcu.NewMCU()
	if *verbose {
		arm.Debug = func(line string) { fmt.Printf("# %s\n", line) }
	}

	cfg := serial.DefaultConfig(*device)
	cfg.Baud = *baud
	if err := arm.ConnectWithConfig(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "Error: failed to connect: %v\n", err)
		os.Exit(1)
	}
	defer arm.Close()

	// One-shot mode: armctl [flags] <command> [args...]
	if flag.NArg() > 0 {
		if err := run(arm, flag.Args()); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			arm.Close()
			os.Exit(1)
		}
		return
	}

	fmt.Printf("Connected to %s. Type 'help' for commands.\n", *device)
	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			break
		}
		args, err := shlex.Split(scanner.Text())
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			continue
		}
		if len(args) == 0 {
			continue
		}
		switch args[0] {
		case "quit", "exit", "q":
			return
		}
		if err := run(arm, args); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		}
	}
	if err := scanner.Err(); err != nil {
		fmt.Fprintf(os.Stderr, "Error reading input: %v\n", err)
	}
}

func run(arm *mcu.MCU, args []string) error {
	cmd, rest := args[0], args[1:]
	switch cmd {
	case "help", "?":
		printHelp()
		return nil

	case "pos":
		pos, err := arm.Positions()
		if err != nil {
			return err
		}
		for i, p := range pos {
			fmt.Printf("J%d: %d\n", i+1, p)
		}
		return nil

	case "status":
		status, err := arm.CalibrationStatus()
		if err != nil {
			return err
		}
		names := [...]string{"not calibrated", "calibrating", "calibrated"}
		for i, s := range status {
			fmt.Printf("J%d: %s\n", i+1, names[s])
		}
		return nil

	case "move", "moveby":
		if len(rest) < 2 {
			return errors.Wrapf(errUsage, "%s <joint> <degrees> [duration] [accel]", cmd)
		}
		joint, err := strconv.Atoi(rest[0])
		if err != nil {
			return errors.Wrap(errUsage, "joint must be a number")
		}
		vals, err := floats(rest[1:])
		if err != nil {
			return err
		}
		d, a := moveTiming(vals[1:])
		if cmd == "moveby" {
			return arm.MoveJointBy(joint, vals[0], d, a, *timeout)
		}
		return arm.MoveJoint(joint, vals[0], d, a, *timeout)

	case "moveall":
		// moveall <deg per joint...> [duration] [accel]
		vals, err := floats(rest)
		if err != nil {
			return err
		}
		pos, err := arm.Positions()
		if err != nil {
			return err
		}
		n := len(pos)
		if len(vals) < n || len(vals) > n+2 {
			return errors.Wrapf(errUsage, "moveall needs %d angles, then optional duration and accel", n)
		}
		d, a := moveTiming(vals[n:])
		return arm.MoveJoints(vals[:n], d, a, *timeout)

	case "cal":
		joints := make([]int, 0, len(rest))
		for _, s := range rest {
			j, err := strconv.Atoi(s)
			if err != nil {
				return errors.Wrapf(errUsage, "joint %q", s)
			}
			joints = append(joints, j)
		}
		if len(joints) == 0 {
			return errors.Wrap(errUsage, "cal <joint...>")
		}
		return arm.Calibrate(joints, *calWait)

	case "jog", "override":
		if len(rest) != 2 {
			return errors.Wrapf(errUsage, "%s <joint> <value>", cmd)
		}
		joint, err := strconv.Atoi(rest[0])
		if err != nil {
			return errors.Wrap(errUsage, "joint must be a number")
		}
		v, err := strconv.ParseFloat(rest[1], 64)
		if err != nil {
			return errors.Wrap(errUsage, "value must be a number")
		}
		if cmd == "jog" {
			return arm.Jog(joint, v)
		}
		return arm.Override(joint, v)

	case "stop":
		if len(rest) == 0 {
			return arm.StopAll()
		}
		joint, err := strconv.Atoi(rest[0])
		if err != nil {
			return errors.Wrap(errUsage, "joint must be a number")
		}
		return arm.StopJoint(joint)

	case "echo":
		line, err := arm.Echo(strings.Join(rest, " "))
		if err != nil {
			return err
		}
		fmt.Println(line)
		return nil

	case "raw":
		// raw <op> [args...]: send and print whatever comes back within a second
		if len(rest) == 0 {
			return errors.Wrap(errUsage, "raw <hex op> [args...]")
		}
		if err := arm.Send(strings.ToUpper(rest[0]), rest[1:]...); err != nil {
			return err
		}
		for {
			line, err := arm.Expect(func(string) bool { return true }, time.Second)
			if errors.Is(err, mcu.ErrTimeout) {
				return nil
			}
			if line != "" {
				fmt.Println(line)
			}
			if err != nil && !errors.Is(err, mcu.ErrRejected) {
				return err
			}
		}
	}
	return errors.Errorf("unknown command %q (type 'help')", cmd)
}

func floats(args []string) ([]float64, error) {
	out := make([]float64, len(args))
	for i, s := range args {
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return nil, errors.Wrapf(errUsage, "%q is not a number", s)
		}
		out[i] = v
	}
	return out, nil
}

func moveTiming(vals []float64) (float64, float64) {
	d, a := *duration, *accel
	if len(vals) > 0 {
		d = vals[0]
	}
	if len(vals) > 1 {
		a = vals[1]
	}
	return d, a
}

func printHelp() {
	fmt.Println("\nAvailable commands:")
	fmt.Println("  pos                               - Print joint positions (steps)")
	fmt.Println("  status                            - Print calibration status")
	fmt.Println("  cal <joint...>                    - Calibrate joints and wait")
	fmt.Println("  move <joint> <deg> [dur] [accel]  - Move one joint to an angle")
	fmt.Println("  moveby <joint> <deg> [dur] [accel]- Move one joint by an angle")
	fmt.Println("  moveall <deg...> [dur] [accel]    - Coordinated move of every joint")
	fmt.Println("  jog <joint> <deg/s>               - Rotate continuously (0 stops)")
	fmt.Println("  override <joint> <factor>         - Scale a jogging joint's speed")
	fmt.Println("  stop [joint]                      - Stop one joint or all of them")
	fmt.Println("  echo <text>                       - Round-trip text")
	fmt.Println("  raw <op> [args...]                - Send a raw request")
	fmt.Println("  quit/exit/q                       - Exit the program")
	fmt.Println()
}
