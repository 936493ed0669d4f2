package led

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
)

const sysfsLEDPath = "/sys/class/leds"

// sysfs implements Controller with the Linux LED class interface.
type sysfs struct {
	root string
	leds map[string]string // logical name -> sysfs directory
}

func newSysfs(root string, leds map[string]string) *sysfs {
	return &sysfs{root: root, leds: leds}
}

// Set writes the trigger first; the kernel resets brightness when the
// trigger changes.
func (s *sysfs) Set(name string, state State) error {
	dir, ok := s.leds[name]
	if !ok {
		return fmt.Errorf("LED %q not supported on this board", name)
	}
	ledPath := filepath.Join(s.root, dir)
	if _, err := os.Stat(ledPath); err != nil {
		return fmt.Errorf("LED %q: %w", name, err)
	}

	trigger, brightness := "none", "0"
	switch state {
	case Off:
	case On:
		brightness = "1"
	case Blink:
		trigger, brightness = "heartbeat", "1"
	default:
		return fmt.Errorf("unknown LED state %q", state)
	}

	if err := os.WriteFile(filepath.Join(ledPath, "trigger"), []byte(trigger), 0o644); err != nil {
		return fmt.Errorf("set LED trigger: %w", err)
	}
	if err := os.WriteFile(filepath.Join(ledPath, "brightness"), []byte(brightness), 0o644); err != nil {
		return fmt.Errorf("set LED brightness: %w", err)
	}
	return nil
}

func (s *sysfs) Available() []string {
	names := make([]string, 0, len(s.leds))
	for name := range s.leds {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
