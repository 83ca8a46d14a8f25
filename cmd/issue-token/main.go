// Command issue-token mints a bearer token for local testing. In production
// tokens come from the school's identity provider, signed with the same secret.
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/stemsi/proctor-backend/internal/config"
	"github.com/stemsi/proctor-backend/internal/logger"
	"github.com/stemsi/proctor-backend/internal/service"
)

func main() {
	var (
		kind = flag.String("type", "participant", "token type: participant or teacher")
		id   = flag.Int("id", 0, "participant or teacher id")
	)
	flag.Parse()

	cfg := config.Load()
	log := logger.Setup(cfg.LogLevel, cfg.LogFormat)

	tokenType := service.TokenType(*kind)
	if tokenType != service.TokenTypeParticipant && tokenType != service.TokenTypeTeacher {
		log.Fatal().Str("type", *kind).Msg("Unknown token type")
	}
	if *id <= 0 {
		log.Fatal().Int("id", *id).Msg("id must be positive")
	}

	token, err := service.NewAuthService(cfg).GenerateToken(tokenType, *id)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to sign token")
	}
	fmt.Fprintln(os.Stdout, token)
}
