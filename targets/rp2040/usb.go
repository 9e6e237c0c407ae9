//go:build rp2040

package main

import (
	"machine"
)

// InitUSB configures machine.Serial, which is USB CDC on the RP2040
func InitUSB() {
	_ = machine.Serial.Configure(machine.UARTConfig{})
}

// USBAvailable returns the number of bytes available to read from USB
func USBAvailable() int {
	return machine.Serial.Buffered()
}

// USBRead reads a single byte from USB
func USBRead() (byte, error) {
	return machine.Serial.ReadByte()
}

// USBWriteBytes writes multiple bytes to USB
func USBWriteBytes(data []byte) (int, error) {
	return machine.Serial.Write(data)
}

// usbDebug sends debug output over the command port as comment lines
func usbDebug(msg string) {
	_, _ = USBWriteBytes([]byte("# " + msg + "\n"))
}
