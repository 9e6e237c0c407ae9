package core

import "testing"

func TestEndstopDebounce(t *testing.T) {
	gpio := NewMockGPIODriver()
	pin := GPIOPin(23)
	SetTime(0)

	es, err := NewEndstop(gpio, pin, ESF_PIN_HIGH, 5000)
	if err != nil {
		t.Fatalf("NewEndstop: %v", err)
	}
	if es.Pressed() {
		t.Fatal("Expected released at start")
	}

	gpio.Drive(pin, true)
	if es.Update(100) {
		t.Error("State changed on first sample")
	}

	// bounce back before the interval expires
	gpio.Drive(pin, false)
	es.Update(2000)
	gpio.Drive(pin, true)
	es.Update(3000)
	if es.Update(7999) {
		t.Error("State changed before stable for the full interval")
	}
	if !es.Update(8000) {
		t.Error("Expected state change after stable interval")
	}
	if !es.Pressed() {
		t.Error("Expected pressed")
	}
	if es.Update(9000) {
		t.Error("Change reported twice")
	}
}

func TestEndstopActiveLow(t *testing.T) {
	gpio := NewMockGPIODriver()
	pin := GPIOPin(3)

	es, err := NewEndstop(gpio, pin, ESF_PULL_UP, 0)
	if err != nil {
		t.Fatalf("NewEndstop: %v", err)
	}
	if es.Pressed() {
		t.Fatal("Pulled-up active-low input should read released")
	}
	gpio.Drive(pin, false)
	es.Update(1)
	es.Update(2)
	if !es.Pressed() {
		t.Error("Expected pressed when pulled low")
	}
}

func TestEndstopPullUpActiveHigh(t *testing.T) {
	gpio := NewMockGPIODriver()
	pin := GPIOPin(26)

	// normally closed to ground: an open switch floats high on the pull-up
	es, err := NewEndstop(gpio, pin, ESF_PULL_UP|ESF_PIN_HIGH, 0)
	if err != nil {
		t.Fatalf("NewEndstop: %v", err)
	}
	if !es.Pressed() {
		t.Fatal("Open switch on the pull-up should read pressed")
	}
	gpio.Drive(pin, false)
	es.Update(1)
	es.Update(2)
	if es.Pressed() {
		t.Error("Closed switch should read released")
	}
}
