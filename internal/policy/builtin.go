package policy

import "github.com/eliteGoblin/focusd/focus_mon/internal/domain"

// NewPasswordManagerPolicy never captures credential stores.
func NewPasswordManagerPolicy() *StaticPolicy {
	return NewStaticPolicy("password-managers", "Password managers", domain.KindPrivacy,
		[]string{
			"1Password",
			"Bitwarden",
			"LastPass",
			"KeePassXC",
			"Keychain Access",
			"Passwords",
		},
		[]string{
			"password",
			"credential",
		},
	)
}

// NewVideoCallPolicy matches calling surfaces that get throttled capture.
func NewVideoCallPolicy() *StaticPolicy {
	return NewStaticPolicy("video-calls", "Video calls", domain.KindCalling,
		[]string{
			"zoom.us",
			"Zoom",
			"Microsoft Teams",
			"FaceTime",
			"Webex",
			"Skype",
			"Discord",
		},
		[]string{
			"Google Meet",
			"meet.google.com",
			"Zoom Meeting",
			"Huddle",
			"Jitsi Meet",
		},
	)
}

// NewSystemOverlayPolicy matches system UIs that make window capture fail.
// During these the scheduler skips ticks without counting failures.
func NewSystemOverlayPolicy() *StaticPolicy {
	return NewExactPolicy("system-overlays", "System overlays", domain.KindHostile,
		[]string{
			"Dock", // Mission Control, App Exposé and the app switcher run inside Dock
			"Window Server",
			"loginwindow",
			"ScreenSaverEngine",
			"screencaptureui",
			"gnome-shell",
		},
		nil,
	)
}

// NewSelfExclusionPolicy keeps the focus analyzer away from the monitor's own
// surfaces and system configuration panels.
func NewSelfExclusionPolicy() *StaticPolicy {
	return NewStaticPolicy("self", "Monitor and system settings", domain.KindAnalysisExclusion,
		[]string{
			"focusmon",
			"System Settings",
			"System Preferences",
			"Finder",
		},
		nil,
	)
}
