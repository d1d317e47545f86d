// SPDX-License-Identifier: MIT

// Package version carries build metadata injected at link time.
package version

// Version is overridden via -ldflags at build time.
var Version = "dev"
