//go:build ignore
// +build ignore

// Deploys the default campaign templates for a brand: one campaign per
// mode (email_only, linkedin_only, multi_channel) in draft status with
// the standard step counts and cross-channel settings. Existing
// campaigns with the same name are left untouched.
//
// Usage:
//
//	DATABASE_URL=postgres://... go run scripts/deploy_campaign_templates.go \
//	  --tenant=<tenant-id> --brand=<brand-id>
package main

import (
	"database/sql"
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/google/uuid"
	_ "github.com/lib/pq"
)

type template struct {
	name              string
	mode              string
	emailSteps        int
	linkedinSteps     int
	waitForConnection bool
	connectionTimeout int
	linkedinFirst     bool
}

var templates = []template{
	{name: "Email outbound", mode: "email_only", emailSteps: 7},
	{name: "LinkedIn outbound", mode: "linkedin_only", linkedinSteps: 4, waitForConnection: true, connectionTimeout: 72},
	{name: "Multi-channel outbound", mode: "multi_channel", emailSteps: 7, linkedinSteps: 3, connectionTimeout: 72, linkedinFirst: true},
}

func main() {
	tenantID := flag.String("tenant", "", "tenant id")
	brandID := flag.String("brand", "", "brand id")
	flag.Parse()

	if *tenantID == "" || *brandID == "" {
		log.Fatal("--tenant and --brand are required")
	}

	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		log.Fatal("DATABASE_URL is required")
	}
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		log.Fatalf("connect: %v", err)
	}
	defer db.Close()

	var brandName string
	if err := db.QueryRow(`SELECT name FROM brands WHERE id = $1 AND tenant_id = $2`, *brandID, *tenantID).Scan(&brandName); err != nil {
		log.Fatalf("brand %s not found under tenant %s: %v", *brandID, *tenantID, err)
	}

	created := 0
	for _, t := range templates {
		var exists bool
		if err := db.QueryRow(`SELECT EXISTS(SELECT 1 FROM campaigns WHERE tenant_id = $1 AND brand_id = $2 AND name = $3)`,
			*tenantID, *brandID, t.name).Scan(&exists); err != nil {
			log.Fatalf("check %q: %v", t.name, err)
		}
		if exists {
			fmt.Printf("  %q already deployed, skipping\n", t.name)
			continue
		}

		_, err := db.Exec(`
			INSERT INTO campaigns (id, tenant_id, brand_id, name, status, mode,
			       data_source_kind, data_source_config, email_step_count, linkedin_step_count,
			       wait_for_connection, connection_timeout_hours, linkedin_first)
			VALUES ($1,$2,$3,$4,'draft',$5,'manual','{}',$6,$7,$8,$9,$10)
		`, uuid.New().String(), *tenantID, *brandID, t.name, t.mode,
			t.emailSteps, t.linkedinSteps, t.waitForConnection, t.connectionTimeout, t.linkedinFirst)
		if err != nil {
			log.Fatalf("create %q: %v", t.name, err)
		}
		fmt.Printf("  created %q (%s)\n", t.name, t.mode)
		created++
	}

	fmt.Printf("deployed %d campaign templates for brand %q\n", created, brandName)
}
