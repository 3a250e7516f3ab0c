//go:build !unix

package config

import "github.com/muesli/termenv"

const (
	UNIX = false
)

func targetSpecificInit() {
	NO_COLOR = termenv.EnvNoColor()
	SHOULD_COLORIZE = !NO_COLOR && termenv.EnvColorProfile() != termenv.Ascii
}
