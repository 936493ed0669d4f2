// Package led drives a board LED that shows capture activity.
package led

// State is what an LED shows.
type State string

// LED states.
const (
	Off   State = "off"
	On    State = "on"
	Blink State = "blink"
)

// Controller sets board LEDs. Implementations map logical names to the
// board's LEDs.
type Controller interface {
	// Set puts the named LED in state.
	Set(name string, state State) error

	// Available returns the logical LED names the board has.
	Available() []string
}
