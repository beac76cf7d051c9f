// Package version holds the application version reported by the health
// endpoint and the version command.
package version

// Version is overridden at build time with
// -ldflags "-X github.com/iliyamo/sms-service/internal/version.Version=x.y.z".
var Version = "1.0.0"
