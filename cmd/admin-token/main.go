package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/custodial-payouts/backend/internal/auth"
	"github.com/custodial-payouts/backend/internal/config"
	"go.uber.org/zap"
)

// admin-token issues a bearer token for the admin API. The admin name ends
// up as the actor of every audit entry written with the token.
func main() {
	log, _ := zap.NewProduction()
	defer log.Sync()

	cfg := config.Load()

	admin := flag.String("admin", "", "admin name recorded in the audit log")
	ttl := flag.Duration("ttl", cfg.JWTExpiration, "token lifetime")
	flag.Parse()

	if *admin == "" {
		fmt.Fprintln(os.Stderr, "usage: admin-token -admin <name> [-ttl 12h]")
		os.Exit(2)
	}
	if *ttl > 30*24*time.Hour {
		log.Fatal("ttl longer than 30 days is not allowed", zap.Duration("ttl", *ttl))
	}

	token, err := auth.GenerateJWT(cfg.JWTSecret, *admin, *ttl)
	if err != nil {
		log.Fatal("failed to sign token", zap.Error(err))
	}
	fmt.Println(token)
}
