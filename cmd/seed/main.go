// seed inserts development sample data for local testing.
// Idempotent: skips inserts if the dev user (dev@example.com) already exists.
package main

import (
	"context"
	"log"
	"time"

	"org-auth-service/internal/config"
	"org-auth-service/internal/db"
	membershipdomain "org-auth-service/internal/membership/domain"
	membershiprepo "org-auth-service/internal/membership/repository"
	orgdomain "org-auth-service/internal/organization/domain"
	orgrepo "org-auth-service/internal/organization/repository"
	"org-auth-service/internal/security"
	userdomain "org-auth-service/internal/user/domain"
	userrepo "org-auth-service/internal/user/repository"
)

const (
	devUserEmail     = "dev@example.com"
	memberEmail      = "member@example.com"
	devPassword      = "password123"
	devUserID        = "dev-user-001"
	devUser2ID       = "dev-user-002"
	devOrgID         = "dev-org-001"
	devOrg2ID        = "dev-org-002"
	devMembershipID  = "dev-membership-001"
	devMembership2ID = "dev-membership-002"
	devMembership3ID = "dev-membership-003"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	if cfg.DatabaseURL == "" {
		log.Fatal("DATABASE_URL is not set; create a .env from .env.example or set DATABASE_URL")
	}

	conn, err := db.Open(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("db: %v", err)
	}
	defer conn.Close()

	ctx := context.Background()
	users := userrepo.NewPostgresRepository(conn)
	orgs := orgrepo.NewPostgresRepository(conn)
	memberships := membershiprepo.NewPostgresRepository(conn)

	existing, err := users.GetByEmail(ctx, devUserEmail)
	if err != nil {
		log.Fatalf("seed: %v", err)
	}
	if existing != nil {
		log.Println("seed: dev user already exists, nothing to do")
		return
	}

	hasher := security.NewHasher(cfg.BcryptCost)
	hash, err := hasher.Hash([]byte(devPassword))
	if err != nil {
		log.Fatalf("seed: %v", err)
	}

	now := time.Now().UTC()
	seedUsers := []*userdomain.User{
		{ID: devUserID, Email: devUserEmail, Name: "Dev Admin", PasswordHash: hash,
			Status: userdomain.UserStatusActive, CreatedAt: now, UpdatedAt: now},
		{ID: devUser2ID, Email: memberEmail, Name: "Dev Member", PasswordHash: hash,
			Status: userdomain.UserStatusActive, CreatedAt: now, UpdatedAt: now},
	}
	for _, u := range seedUsers {
		if err := users.Create(ctx, u); err != nil {
			log.Fatalf("seed user %s: %v", u.Email, err)
		}
	}

	seedOrgs := []*orgdomain.Org{
		{ID: devOrgID, Name: "Dev Org", Status: orgdomain.OrgStatusActive, CreatedAt: now},
		{ID: devOrg2ID, Name: "Second Org", Status: orgdomain.OrgStatusActive, CreatedAt: now},
	}
	for _, o := range seedOrgs {
		if err := orgs.Create(ctx, o); err != nil {
			log.Fatalf("seed org %s: %v", o.Name, err)
		}
	}

	// dev@example.com is org admin of Dev Org and plain member of Second Org;
	// member@example.com only belongs to Dev Org. Creation order fixes the
	// default org bound at login.
	seedMemberships := []*membershipdomain.Membership{
		{ID: devMembershipID, UserID: devUserID, OrgID: devOrgID,
			Role: membershipdomain.RoleAdmin, IsOrgAdmin: true, Active: true, CreatedAt: now},
		{ID: devMembership2ID, UserID: devUserID, OrgID: devOrg2ID,
			Role: membershipdomain.RoleMember, Active: true, CreatedAt: now.Add(time.Second)},
		{ID: devMembership3ID, UserID: devUser2ID, OrgID: devOrgID,
			Role: membershipdomain.RoleMember, Active: true, CreatedAt: now},
	}
	for _, m := range seedMemberships {
		if err := memberships.Create(ctx, m); err != nil {
			log.Fatalf("seed membership %s: %v", m.ID, err)
		}
	}

	log.Printf("seed: created %d users, %d orgs, %d memberships (password %q)",
		len(seedUsers), len(seedOrgs), len(seedMemberships), devPassword)
}
