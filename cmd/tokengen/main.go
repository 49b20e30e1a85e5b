package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/tutorlane/tutor-idm/pkg/token"
)

// Small operator utility: mints an access token for an account so the
// authenticated 2FA endpoints can be exercised without the full login flow.
func main() {
	secret := flag.String("secret", "very-secure-jwt-secret", "Secret key for signing the token")
	issuer := flag.String("issuer", "tutor-idm", "Issuer of the token")
	audience := flag.String("audience", "tutorlane", "Audience of the token")
	accountID := flag.String("account-id", "", "Account id to use as the token subject")
	expiry := flag.Duration("expiry", 30*time.Minute, "Token expiry duration (e.g., 30m, 1h)")
	flag.Parse()

	id, err := uuid.Parse(*accountID)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: invalid account id %q: %v\n", *accountID, err)
		os.Exit(1)
	}

	jwtService := token.NewJwtService(*secret, *issuer, *audience)
	jwtService.Expiry = *expiry

	tokenStr, expiresAt, err := jwtService.CreateAccessToken(id)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: failed to generate token: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Token: %s\nExpires: %s\n", tokenStr, expiresAt.Format(time.RFC3339))
}
