package led

import (
	"log/slog"
	"os"
	"strings"
)

const deviceTreeModelPath = "/proc/device-tree/model"

// CaptureLED is the logical LED that shows capture activity.
const CaptureLED = "capture"

// boards maps a device tree model substring to the sysfs LED used as the
// capture indicator.
var boards = []struct {
	model string
	led   string
}{
	{"NanoPC-T6", "usr_led"},
	{"Orange Pi", "green_led"},
	{"Raspberry Pi", "ACT"},
}

// New returns the controller for the running board, or a no-op controller
// when the board is unknown.
func New(logger *slog.Logger) Controller {
	if logger == nil {
		logger = slog.Default()
	}
	return forBoard(detectBoard(deviceTreeModelPath), sysfsLEDPath, logger)
}

func forBoard(model, root string, logger *slog.Logger) Controller {
	for _, b := range boards {
		if strings.Contains(model, b.model) {
			logger.Info("Using sysfs LED controller", "board_model", model, "led", b.led)
			return newSysfs(root, map[string]string{CaptureLED: b.led})
		}
	}
	logger.Info("No LED support detected, using no-op controller", "board_model", model)
	return newNoop(logger)
}

// detectBoard reads the device tree model to identify the board.
func detectBoard(path string) string {
	data, err := os.ReadFile(path)
	if err != nil {
		return "unknown"
	}
	// Device tree strings are NUL terminated
	return strings.TrimRight(string(data), "\x00")
}
