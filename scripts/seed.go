//go:build ignore

package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"

	"github.com/joho/godotenv"

	"github.com/hugh/go-shepherd/internal/apperr"
	"github.com/hugh/go-shepherd/internal/auth"
	"github.com/hugh/go-shepherd/internal/authz"
	"github.com/hugh/go-shepherd/internal/database"
	"github.com/hugh/go-shepherd/internal/directory"
	"github.com/hugh/go-shepherd/internal/invitation"
	"github.com/hugh/go-shepherd/internal/notify"
	"github.com/hugh/go-shepherd/pkg/config"
	"github.com/hugh/go-shepherd/pkg/util"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger := util.NewLogger(cfg.Server.Env)

	db, err := database.Connect(&cfg.Database, logger)
	if err != nil {
		log.Fatalf("failed to connect to database: %v", err)
	}
	if err := database.AutoMigrate(db); err != nil {
		log.Fatalf("failed to run migrations: %v", err)
	}

	ctx := context.Background()
	clock := util.SystemClock{}
	resolver := authz.NewResolver(nil)
	dir := directory.NewService(db, resolver, clock, logger)

	tenantName := envOr("SEED_TENANT_NAME", "Demo Congregation")
	res, err := dir.BootstrapTenant(ctx, directory.BootstrapInput{
		TenantName: tenantName,
		OwnerName:  envOr("SEED_OWNER_NAME", "Owner"),
		OwnerEmail: envOr("SEED_OWNER_EMAIL", "owner@example.com"),
	})
	if err != nil {
		if errors.Is(err, apperr.ErrConflict) {
			fmt.Printf("Tenant already exists: %s\n", directory.Slugify(tenantName))
			return
		}
		log.Fatalf("failed to bootstrap tenant: %v", err)
	}

	staff, err := dir.CreatePrincipal(ctx, res.Owner.ID, directory.CreatePrincipalInput{
		Name:  "Welcome Team",
		Email: "welcome@example.com",
		Role:  authz.RoleStaff,
	})
	if err != nil {
		log.Fatalf("failed to create staff: %v", err)
	}

	invitations := invitation.NewService(db, resolver, notify.Nop{}, clock, logger, invitation.OptionsFromConfig(&cfg.Invitation))
	tok, err := invitations.Issue(ctx, staff.ID, invitation.IssueInput{
		TargetRole:     authz.RoleGuest,
		DefaultStaffID: &staff.ID,
		MaxUses:        50,
		Label:          "Visitor card",
	})
	if err != nil {
		log.Fatalf("failed to issue invitation: %v", err)
	}

	jwtService := auth.NewJWTService(cfg.JWT.Secret, cfg.JWT.Expiry())
	token, err := jwtService.GenerateToken(res.Owner.ID, res.Tenant.ID, res.Owner.Role)
	if err != nil {
		log.Fatalf("failed to sign owner token: %v", err)
	}

	fmt.Printf("Tenant created: %s (%s)\n", res.Tenant.Name, res.Tenant.Slug)
	fmt.Printf("Owner: %s\n", res.Owner.Email)
	fmt.Printf("Owner token: %s\n", token)
	fmt.Printf("Guest invitation code: %s (expires %s)\n", tok.Code, tok.ExpiresAt.Format("2006-01-02 15:04"))
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
