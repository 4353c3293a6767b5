package build

// Mode distinguishes development builds from release builds.
type Mode string

const (
	ModeDevelopment Mode = "development"
	ModeProduction  Mode = "production"
)

func IsDevelopment() bool {
	return CurrentMode == ModeDevelopment
}

func IsProduction() bool {
	return CurrentMode == ModeProduction
}

// Info is the build metadata printed by the CLI.
type Info struct {
	Name      string
	Version   string
	Commit    string
	BuildDate string
	Mode      Mode
}

func Current() Info {
	return Info{
		Name:      Name,
		Version:   Version,
		Commit:    Commit,
		BuildDate: BuildDate,
		Mode:      CurrentMode,
	}
}
