package core

import "github.com/rs/zerolog"

// Log is the logging facade the engine writes through. A *zerolog.Logger
// satisfies it directly.
type Log interface {
	Info() *zerolog.Event
	Debug() *zerolog.Event
	Warn() *zerolog.Event
	Error() *zerolog.Event
}

var _ Log = &zerolog.Logger{}
