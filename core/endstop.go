// Endstop handling for GPIO-based switches
// Limit switches and the emergency-stop input share one debouncer.
package core

import "github.com/pkg/errors"

// Endstop flags
const (
	ESF_PIN_HIGH = 1 << 0 // Pin reads high when the switch is pressed
	ESF_PULL_UP  = 1 << 1 // Enable the internal pull-up
)

// Endstop is a debounced GPIO switch. The reported state only changes after
// the raw input has been stable for the debounce interval.
type Endstop struct {
	Pin          GPIOPin
	Flags        uint8
	DebounceTime uint32 // ticks

	gpio       GPIODriver
	raw        bool
	stable     bool
	lastChange uint32
	changed    bool
}

// NewEndstop configures pin as an input and returns its debouncer
func NewEndstop(gpio GPIODriver, pin GPIOPin, flags uint8, debounceTicks uint32) (*Endstop, error) {
	if gpio == nil {
		return nil, errors.New("endstop: no GPIO driver")
	}
	var err error
	if flags&ESF_PULL_UP != 0 {
		err = gpio.ConfigureInputPullUp(pin)
	} else {
		err = gpio.ConfigureInputPullDown(pin)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "endstop pin %d", pin)
	}
	es := &Endstop{Pin: pin, Flags: flags, DebounceTime: debounceTicks, gpio: gpio}
	es.raw = es.sample()
	es.stable = es.raw
	es.lastChange = GetTime()
	return es, nil
}

func (es *Endstop) sample() bool {
	level := es.gpio.ReadPin(es.Pin)
	return level == (es.Flags&ESF_PIN_HIGH != 0)
}

// Update samples the pin at time now and returns true when the debounced
// state changed.
func (es *Endstop) Update(now uint32) bool {
	es.changed = false
	v := es.sample()
	if v != es.raw {
		es.raw = v
		es.lastChange = now
		return false
	}
	if v != es.stable && now-es.lastChange >= es.DebounceTime {
		es.stable = v
		es.changed = true
	}
	return es.changed
}

// Pressed returns the debounced state
func (es *Endstop) Pressed() bool {
	return es.stable
}

// Changed reports whether the last Update flipped the state
func (es *Endstop) Changed() bool {
	return es.changed
}
