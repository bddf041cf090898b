// Package main is the teleconsult entry point (API, migrations, maintenance, headless client).
package main

import (
	"github.com/preetsinghmakkar/TeleConsult/cmd"
	"github.com/rs/zerolog/log"
)

func main() {
	if err := cmd.Execute(); err != nil {
		log.Fatal().Err(err).Msg("teleconsult")
	}
}
