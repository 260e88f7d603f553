package cmdlib

import "log"

// VerbosityKind represents logging verbosity
type VerbosityKind int

// Verbosity constants
const (
	SilentVerbosity VerbosityKind = 0
	ErrVerbosity    VerbosityKind = 1
	InfVerbosity    VerbosityKind = 2
	DbgVerbosity    VerbosityKind = 3
)

// Verbosity is the current logging verbosity
var Verbosity = InfVerbosity

// Lerr logs an error
func Lerr(format string, v ...interface{}) {
	if Verbosity >= ErrVerbosity {
		log.Printf("[ERROR] "+format, v...)
	}
}

// Linf logs an info message
func Linf(format string, v ...interface{}) {
	if Verbosity >= InfVerbosity {
		log.Printf("[INFO] "+format, v...)
	}
}

// Ldbg logs a debug message
func Ldbg(format string, v ...interface{}) {
	if Verbosity >= DbgVerbosity {
		log.Printf("[DEBUG] "+format, v...)
	}
}

// CheckErr panics on an error
func CheckErr(err error) {
	if err != nil {
		panic(err)
	}
}
