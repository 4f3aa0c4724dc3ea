package nodepool

import (
	"github.com/btcsuite/btclog/v2"
	"github.com/electrumgw/electrumgw/build"
)

const (
	// Subsystem defines the logging code for the pool manager.
	Subsystem = "POOL"

	// HealthSubsystem defines the logging code for the health monitor.
	HealthSubsystem = "HLTH"
)

var (
	// log is a logger that is initialized with no output filters. This
	// means the package will not perform any logging by default until the
	// caller requests it.
	log btclog.Logger

	// hlthLog is the logger used by the health monitor.
	hlthLog btclog.Logger
)

// The default amount of logging is none.
func init() {
	UseLogger(build.NewSubLogger(Subsystem, nil))
	UseHealthLogger(build.NewSubLogger(HealthSubsystem, nil))
}

// DisableLog disables all library log output. Logging output is disabled
// by default until UseLogger is called.
func DisableLog() {
	UseLogger(btclog.Disabled)
	UseHealthLogger(btclog.Disabled)
}

// UseLogger uses a specified Logger to output package logging info.
func UseLogger(logger btclog.Logger) {
	log = logger
}

// UseHealthLogger uses a specified Logger to output health monitor logging
// info.
func UseHealthLogger(logger btclog.Logger) {
	hlthLog = logger
}

// logClosure is used to provide a closure over expensive logging operations so
// don't have to be performed when the logging level doesn't warrant it.
type logClosure func() string

// String invokes the underlying function and returns the result.
func (c logClosure) String() string {
	return c()
}

// newLogClosure returns a new closure over a function that returns a string
// which itself provides a Stringer interface so that it can be used with the
// logging system.
func newLogClosure(c func() string) logClosure {
	return logClosure(c)
}
