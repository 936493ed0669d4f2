package led

import "log/slog"

// noop is the Controller for boards without a known LED.
type noop struct {
	logger *slog.Logger
}

func newNoop(logger *slog.Logger) *noop {
	return &noop{logger: logger}
}

func (n *noop) Set(name string, state State) error {
	n.logger.Debug("LED control not available (no-op)", "led", name, "state", state)
	return nil
}

func (n *noop) Available() []string {
	return []string{}
}
