//go:build prod

package build

// Version, Commit and BuildDate are set with -ldflags at release time.
var Name = "suitekit"
var Version = "v0.0.0-production"
var BuildDate = "unknown"
var Commit = "unknown"
var CurrentMode = ModeProduction
