//go:build !prod

package build

var Name = "suitekit"
var Version = "v0.0.0-development"
var BuildDate = "unknown"
var Commit = "unknown"
var CurrentMode = ModeDevelopment
