package app

// Key binding constants used in handleKey.
const (
	KeyQuit         = "q"
	KeyQuitUpper    = "Q"
	KeyCtrlC        = "ctrl+c"
	KeySpace        = " "
	KeyUp           = "up"
	KeyDown         = "down"
	KeyJ            = "j"
	KeyK            = "k"
	KeyEnter        = "enter"
	KeyStopPlayback = "x"
	KeyAllow        = "y"
	KeyDeny         = "n"
)
