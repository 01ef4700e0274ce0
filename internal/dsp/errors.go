package dsp

import "errors"

var (
	// ErrInvalidConfiguration is returned when the sampling geometry or the
	// filter coefficients cannot describe a working demodulator.
	ErrInvalidConfiguration = errors.New("invalid configuration")

	// ErrDegenerateParameters is returned when the run parameters resolve to an
	// unusable discriminator delay.
	ErrDegenerateParameters = errors.New("degenerate run parameters")

	// ErrNotInitialized is returned (or panicked with) when samples are fed to
	// a demodulator that has not completed Init.
	ErrNotInitialized = errors.New("demodulator not initialized")
)
