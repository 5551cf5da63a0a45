package alert

import "image/color"

// Alert message and image constants
const (
	// Telegram rejects photos whose width+height exceeds 10000; stay well inside it.
	MaxPhotoDimension = 2560

	RegionOutlineWidth = 3

	TimeLayout   = "03:04:05 PM"
	PhotoCaption = "Screenshot showing detected changes (highlighted in red)"

	TestMessage = "Test message from screenwatch\n\n" +
		"If you receive this message, your Telegram configuration is working correctly.\n" +
		"Change alerts and remote commands will be delivered to this chat."
)

// RegionOutlineColor marks the monitored sub-region on the full frame.
var RegionOutlineColor = color.RGBA{B: 255, A: 255}

// Message builds the alert text for a detection at the given wall clock time.
func Message(at string) string {
	return "Change detected in monitored region!\nTime: " + at
}
