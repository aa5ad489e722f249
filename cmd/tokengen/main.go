// Package main provides a CLI tool for minting and inspecting access tokens
// signed with the devapi development key. They will NOT work against a real
// auth API.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"

	"sessionkit/internal/credentials"
	"sessionkit/internal/identity"
	jwttoken "sessionkit/internal/jwt_token"
)

const (
	// Dev signing key - matches config.go when JWT_SIGNING_KEY is not set
	devSigningKey = "dev-secret-key-change-in-production"

	defaultIssuer   = "sessionkit-devapi"
	defaultAudience = "sessionkit"
	defaultTokenTTL = time.Hour
)

type tokenOutput struct {
	Token     string            `json:"token"`
	Type      string            `json:"type"`
	ExpiresIn string            `json:"expires_in"`
	Claims    map[string]any    `json:"claims,omitempty"`
	Usage     map[string]string `json:"usage"`
}

func main() {
	accessCmd := flag.NewFlagSet("access", flag.ExitOnError)
	decodeCmd := flag.NewFlagSet("decode", flag.ExitOnError)

	userID := accessCmd.String("user-id", "", "User ID (UUID). Generated if empty.")
	email := accessCmd.String("email", "demo@example.com", "Email claim")
	firstName := accessCmd.String("first-name", "Demo", "First name claim")
	lastName := accessCmd.String("last-name", "User", "Last name claim")
	companyID := accessCmd.String("company-id", "acme", "Company the token acts in")
	ttl := accessCmd.Duration("ttl", defaultTokenTTL, "Token time-to-live")
	key := accessCmd.String("key", devSigningKey, "HS256 signing key")
	accessJSON := accessCmd.Bool("json", false, "Output as JSON")

	decodeJSON := decodeCmd.Bool("json", false, "Output as JSON")

	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "access":
		_ = accessCmd.Parse(os.Args[2:])
		user := identity.User{
			ID:        parseOrGenerateUUID(*userID),
			Email:     *email,
			FirstName: *firstName,
			LastName:  *lastName,
			CompanyID: *companyID,
		}
		generateAccessToken(user, *key, *ttl, *accessJSON)
	case "decode":
		_ = decodeCmd.Parse(os.Args[2:])
		if decodeCmd.NArg() != 1 {
			fmt.Fprintln(os.Stderr, "decode expects exactly one token")
			os.Exit(1)
		}
		decodeToken(decodeCmd.Arg(0), *decodeJSON)
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println(`tokengen - Mint and inspect sessionkit devapi access tokens

WARNING: Tokens are signed with the development key. Only use them locally.

Usage:
  tokengen <command> [flags]

Commands:
  access    Generate an access token (JWT)
  decode    Print the claims a tab would read from a token

Examples:
  # Generate access token with defaults
  tokengen access

  # Generate a short-lived token to watch a tab renew
  tokengen access -ttl 6m

  # Generate a token acting in another company
  tokengen access -company-id globex -json

  # Inspect a token without verifying it
  tokengen decode eyJhbGciOi...

Use "tokengen <command> -h" for more information about a command.`)
}

func generateAccessToken(user identity.User, key string, ttl time.Duration, jsonOutput bool) {
	svc := jwttoken.NewService(key, defaultIssuer, defaultAudience, ttl)

	token, expiresAt, err := svc.IssueAccessToken(user)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error generating token: %v\n", err)
		os.Exit(1)
	}

	if jsonOutput {
		printJSON(tokenOutput{
			Token:     token,
			Type:      "access_token",
			ExpiresIn: ttl.String(),
			Claims: map[string]any{
				"user_id":    user.ID,
				"email":      user.Email,
				"company_id": user.CompanyID,
				"exp":        expiresAt.Unix(),
			},
			Usage: map[string]string{
				"header": "Authorization: Bearer <token>",
			},
		})
		return
	}

	fmt.Println("Access Token (JWT)")
	fmt.Println("==================")
	fmt.Printf("Expires At:  %s\n", expiresAt.Format(time.RFC3339))
	fmt.Printf("User ID:     %s\n", user.ID)
	fmt.Printf("Email:       %s\n", user.Email)
	fmt.Printf("Company ID:  %s\n", user.CompanyID)
	fmt.Println()
	fmt.Println("Token:")
	fmt.Println(token)
	fmt.Println()
	fmt.Println("Usage:")
	fmt.Println("  curl -H \"Authorization: Bearer <token>\" http://localhost:8080/api/auth/me")
}

func decodeToken(token string, jsonOutput bool) {
	claims, ok := credentials.DecodePayload(nil, token)
	if !ok {
		fmt.Fprintln(os.Stderr, "token payload could not be decoded")
		os.Exit(1)
	}
	user := identity.FromClaims(claims)
	exp, hasExp := claims.Expiry()

	if jsonOutput {
		out := map[string]any{"user": user}
		if hasExp {
			out["exp"] = exp.Unix()
			out["expires_in"] = time.Until(exp).Round(time.Second).String()
		}
		printJSON(out)
		return
	}

	fmt.Printf("User:        %s (%s)\n", user.DisplayName(), user.ID)
	fmt.Printf("Company ID:  %s\n", user.CompanyID)
	if hasExp {
		fmt.Printf("Expires At:  %s (in %s)\n", exp.Format(time.RFC3339), time.Until(exp).Round(time.Second))
	} else {
		fmt.Println("Expires At:  no exp claim")
	}
}

func parseOrGenerateUUID(input string) string {
	if input == "" {
		return uuid.NewString()
	}
	parsed, err := uuid.Parse(input)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Invalid user-id UUID: %s\n", input)
		os.Exit(1)
	}
	return parsed.String()
}

func printJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		fmt.Fprintf(os.Stderr, "Error encoding JSON: %v\n", err)
		os.Exit(1)
	}
}
