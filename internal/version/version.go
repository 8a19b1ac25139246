package version

// Version is the mergegate version, overridden at build time via
// -ldflags "-X github.com/mergegate-dev/mergegate/internal/version.Version=..."
var Version = "dev"
