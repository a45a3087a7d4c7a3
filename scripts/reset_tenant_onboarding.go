//go:build ignore
// +build ignore

// Resets a tenant back to a pre-onboarding state: clears ICP and
// targeting preferences, deactivates its campaigns, and removes
// pipeline state (leads, sequences, orchestration) while keeping the
// tenant row and its brands. Attribution history is preserved — it
// feeds tenant-wide baselines even across a re-onboard.
//
// Usage:
//
//	DATABASE_URL=postgres://... go run scripts/reset_tenant_onboarding.go --tenant=<tenant-id> [--yes]
package main

import (
	"database/sql"
	"flag"
	"fmt"
	"log"
	"os"

	_ "github.com/lib/pq"
)

func main() {
	tenantID := flag.String("tenant", "", "tenant id")
	confirmed := flag.Bool("yes", false, "skip confirmation prompt")
	flag.Parse()

	if *tenantID == "" {
		log.Fatal("--tenant is required")
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

	var name string
	if err := db.QueryRow(`SELECT name FROM tenants WHERE id = $1`, *tenantID).Scan(&name); err != nil {
		log.Fatalf("tenant %s not found: %v", *tenantID, err)
	}

	if !*confirmed {
		fmt.Printf("About to reset tenant %q (%s). Re-run with --yes to proceed.\n", name, *tenantID)
		return
	}

	tx, err := db.Begin()
	if err != nil {
		log.Fatalf("begin: %v", err)
	}
	defer tx.Rollback()

	steps := []struct {
		desc  string
		query string
	}{
		{"delete orchestration events", `DELETE FROM orchestration_events WHERE tenant_id = $1`},
		{"delete orchestration states", `DELETE FROM orchestration_states WHERE tenant_id = $1`},
		{"delete sequences", `DELETE FROM sequences WHERE tenant_id = $1`},
		{"delete research records", `DELETE FROM research_records WHERE tenant_id = $1`},
		{"delete pixel visits", `DELETE FROM pixel_visits WHERE tenant_id = $1`},
		{"delete leads", `DELETE FROM leads WHERE tenant_id = $1`},
		{"deactivate campaigns", `UPDATE campaigns SET status = 'draft' WHERE tenant_id = $1`},
		{"clear tenant profile", `UPDATE tenants SET icp = '{}', targeting_preferences = '{}', updated_at = now() WHERE id = $1`},
	}
	for _, s := range steps {
		res, err := tx.Exec(s.query, *tenantID)
		if err != nil {
			log.Fatalf("%s: %v", s.desc, err)
		}
		n, _ := res.RowsAffected()
		fmt.Printf("  %s: %d rows\n", s.desc, n)
	}

	if err := tx.Commit(); err != nil {
		log.Fatalf("commit: %v", err)
	}
	fmt.Printf("tenant %q reset\n", name)
}
