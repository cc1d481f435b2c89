// Package logging provides the package-wide structured logger used
// across ion-quic: a single logr.Logger variable that defaults to a
// no-op sink until the embedding application wires one in.
package logging

import "github.com/go-logr/logr"

// Logger is the module-wide structured logger. Discarded by default so
// library consumers pay nothing unless they opt in.
var Logger logr.Logger = logr.Discard()

// Set installs l as the module-wide logger. Passing the zero Logger is
// a no-op, so a caller that never configures logging can't accidentally
// clobber an already-installed one.
func Set(l logr.Logger) {
	if l == (logr.Logger{}) {
		return
	}
	Logger = l
}
