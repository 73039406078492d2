package main

import "time"

// Linux input event types and codes (from <linux/input.h>)
const (
	EV_SYN = 0x00
	EV_KEY = 0x01
	EV_REL = 0x02

	KEY_ENTER = 28
	KEY_SPACE = 57
	BTN_0     = 0x100

	// Rotary encoder relative axis codes (rotary-encoder overlay uses REL_X by default)
	REL_X     = 0x00
	REL_Y     = 0x01
	REL_DIAL  = 0x07
	REL_WHEEL = 0x08
	REL_MISC  = 0x09
)

// Input event value constants
const (
	evValueRelease = 0
	evValuePress   = 1
	evValueRepeat  = 2
)

// Rotary control defaults
const (
	defaultDetentThreshold = 4               // valid transitions per mechanical detent
	defaultLongPress       = time.Second     // hold time that turns a press into a kill request
	defaultVolumeStep      = 5               // percent per detent
	defaultBrightnessStep  = 5               // raw back-light units per detent
	defaultBacklightMax    = 31              // maximum raw back-light level
	defaultPopupTimeout    = 1500 * time.Millisecond
	defaultIntentQueueSize = 64
	defaultUIQueueSize     = 64

	// Pins are BCM names (wiringPi 8, 9, 7).
	defaultPinA      = "GPIO2"
	defaultPinB      = "GPIO3"
	defaultPinButton = "GPIO4"

	defaultBacklightPath    = "/sys/class/backlight/11-0045/brightness"
	defaultNavAppCommand    = "autoapp"
	defaultPactlBinary      = "pactl"
	defaultCommandTimeoutMS = 2000
)
