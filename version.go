// Package opsdeck is an operations console that runs container, cluster
// and provisioning tooling through a single supervised command runner.
package opsdeck

// Version is the opsdeck release version.
const Version = "0.3.0"
