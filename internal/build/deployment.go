// Copyright (c) 2018 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package build

// DeploymentType separates unit-test/development builds, which log as
// LoggingType selects, from the production daemon build, which routes every
// subsystem logger through whatever backend the caller of NewSubLogger
// supplies.
type DeploymentType byte

const (
	// Production is used for the daemon binary: logging is enabled only
	// when the caller passes a genSubLogger function to NewSubLogger.
	Production DeploymentType = iota

	// Development is used for go test runs: logging follows LoggingType,
	// which defaults to stdout filtered by LogLevel.
	Development
)

// Deployment describes how this binary was built. It is a var, not a
// const, so test files can flip it with a package-level init rather than
// needing a build tag per package.
var Deployment = Production

// LoggingType selects how a Development build routes its log output.
var LoggingType = LogTypeStdOut

// LogLevel is the default level assigned to loggers created while
// LoggingType is LogTypeStdOut.
var LogLevel = "info"
