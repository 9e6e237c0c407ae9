//go:build rp2040

package main

import (
	"machine"
	"time"

	"steparm/core"
	"steparm/standalone"
	"steparm/standalone/config"
	"steparm/targets/pio"
)

// usePIO selects the PIO step generators; the SIO backend is the fallback
const usePIO = true

var (
	// Debug counters
	msgerrors uint32
)

func main() {
	// Disable watchdog on boot to clear any previous state
	if err := machine.Watchdog.Configure(machine.WatchdogConfig{TimeoutMillis: 0}); err != nil {
		return
	}

	InitUSB()
	InitClock()

	gpioDriver := NewRPGPIODriver()
	core.SetDebugWriter(usbDebug)
	core.InitAsyncDebug()

	cfg := config.DefaultArmConfig()
	manager, err := standalone.NewManagerWithConfig(cfg)
	if err != nil {
		fault()
	}

	backends := pio.NewBackends(len(cfg.Joints), usePIO, cfg.DirSettleUS)
	timers := core.NewPulseTimerPool(len(cfg.Joints))
	if err := manager.Initialize(gpioDriver, backends, timers); err != nil {
		core.DebugPrintln(err.Error())
		fault()
	}
	if err := manager.Start(); err != nil {
		return
	}

	// Main loop
	for {
		// Recover from panics in the main loop to prevent a firmware crash
		func() {
			defer func() {
				if r := recover(); r != nil {
					msgerrors++
					manager.EmergencyStop()
					core.DumpTimingRing()
				}
			}()

			UpdateSystemTime()

			for USBAvailable() > 0 {
				data, err := USBRead()
				if err != nil {
					msgerrors++
					break
				}
				if err := manager.ProcessByte(data); err != nil {
					manager.SendResponse("ERROR: " + err.Error() + "\n")
				}
			}

			// Process scheduled timers
			core.ProcessTimers()

			manager.Poll(core.GetTime())

			if output := manager.GetOutput(); len(output) > 0 {
				writeUSB(output)
			}
		}()

		// Yield to other goroutines
		time.Sleep(10 * time.Microsecond)
	}
}

// writeUSB writes everything, giving up on a stalled port
func writeUSB(data []byte) {
	written := 0
	for tries := 0; written < len(data) && tries < 10; tries++ {
		n, err := USBWriteBytes(data[written:])
		if err != nil {
			// likely disconnect; the host re-queries state on reconnect
			msgerrors++
			return
		}
		written += n
	}
}

// fault blinks the LED rapidly forever
func fault() {
	led := machine.LED
	led.Configure(machine.PinConfig{Mode: machine.PinOutput})
	for {
		led.High()
		time.Sleep(100 * time.Millisecond)
		led.Low()
		time.Sleep(100 * time.Millisecond)
	}
}
