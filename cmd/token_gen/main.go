// token_gen mints service tokens for API callers and revokes them.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/technosupport/ts-vigil/internal/config"
	"github.com/technosupport/ts-vigil/internal/tokens"
)

func main() {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})

	configPath := flag.String("config", "configs/vigil.yaml", "Config file providing auth.signing_key and redis.addr")
	service := flag.String("service", "", "Calling service name (svc claim)")
	scopes := flag.String("scopes", tokens.ScopeTriggers, "Comma-separated scopes, or * for all")
	ttl := flag.Duration("ttl", 90*24*time.Hour, "Token lifetime; 0 for no expiry")
	revoke := flag.String("revoke", "", "Revoke the token with this jti instead of issuing one")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load config")
	}

	if *revoke != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB})
		defer rdb.Close()
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tokens.NewRedisRevocations(rdb).Revoke(ctx, *revoke, *ttl); err != nil {
			log.Fatal().Err(err).Msg("Failed to revoke token")
		}
		log.Info().Str("jti", *revoke).Msg("Token revoked")
		return
	}

	if cfg.Auth.SigningKey == "" {
		log.Fatal().Msg("auth.signing_key is not set; API auth is disabled")
	}

	mgr := tokens.NewManager(cfg.Auth.SigningKey)
	token, claims, err := mgr.IssueServiceToken(*service, strings.Split(*scopes, ","), *ttl)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to issue token")
	}

	log.Info().Str("service", claims.Service).Str("jti", claims.ID).Strs("scopes", claims.Scopes).Msg("Token issued")
	fmt.Println(token)
}
