// Package style provides shared UI styling primitives including brand colors
// and icons for consistent visual presentation across the CLI.
package style

// Color is a hex color literal understood by termenv.RGBColor.
type Color string

// Brand Colors.
const (
	Iris   Color = "#8B5CF6"
	Slate  Color = "#667085"
	White  Color = "#FFFFFF"
	Ink    Color = "#0B0F19"
	Mist   Color = "#F6F7FB"
	Green  Color = "#22A06B"
	Red    Color = "#D93025"
	Yellow Color = "#F59E0B"
)

// Icons.
const (
	Check   = "✓"
	Cross   = "✗"
	Warning = "!"
	Tilde   = "~"
	Dot     = "●"
	Circle  = "○"
)

// StatusVerbWidth is the column build status verbs are right-aligned to,
// e.g. "   Compiling serde v1.0.200".
const StatusVerbWidth = 12
