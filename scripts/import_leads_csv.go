//go:build ignore
// +build ignore

// Imports a CSV of leads for a manual-upload campaign and enqueues one
// lead.ingested event per row, so uploaded leads enter the pipeline
// through the same qualification path as pulled ones.
//
// Usage:
//
//	DATABASE_URL=postgres://... go run scripts/import_leads_csv.go \
//	  --tenant=<tenant-id> --campaign=<campaign-id> --file=leads.csv
//
// Expected header: email,first_name,last_name,job_title,company,industry,employee_count,revenue
package main

import (
	"database/sql"
	"encoding/csv"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq"
)

func main() {
	tenantID := flag.String("tenant", "", "tenant id")
	campaignID := flag.String("campaign", "", "campaign id")
	filePath := flag.String("file", "", "path to CSV file")
	flag.Parse()

	if *tenantID == "" || *campaignID == "" || *filePath == "" {
		log.Fatal("--tenant, --campaign and --file are required")
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

	f, err := os.Open(*filePath)
	if err != nil {
		log.Fatalf("open csv: %v", err)
	}
	defer f.Close()

	reader := csv.NewReader(f)
	header, err := reader.Read()
	if err != nil {
		log.Fatalf("read header: %v", err)
	}
	col := make(map[string]int, len(header))
	for i, name := range header {
		col[strings.ToLower(strings.TrimSpace(name))] = i
	}
	if _, ok := col["email"]; !ok {
		log.Fatal("csv must have an email column")
	}

	field := func(row []string, name string) string {
		i, ok := col[name]
		if !ok || i >= len(row) {
			return ""
		}
		return strings.TrimSpace(row[i])
	}

	imported, skipped := 0, 0
	start := time.Now()
	for {
		row, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			log.Printf("skip malformed row: %v", err)
			skipped++
			continue
		}
		email := field(row, "email")
		if email == "" || !strings.Contains(email, "@") {
			skipped++
			continue
		}

		leadID := uuid.New().String()
		now := time.Now()
		err = db.QueryRow(`
			INSERT INTO leads (id, tenant_id, campaign_id, email, first_name, last_name, title,
			       company, industry, employee_count, revenue,
			       source, status, visit_count, first_seen_at, last_seen_at, version)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,NULLIF($10,'')::int,$11,'manual','ingested',0,$12,$12,1)
			ON CONFLICT (tenant_id, email) DO UPDATE SET last_seen_at = EXCLUDED.last_seen_at
			RETURNING id
		`, leadID, *tenantID, *campaignID, email, field(row, "first_name"), field(row, "last_name"),
			field(row, "job_title"), field(row, "company"), field(row, "industry"),
			field(row, "employee_count"), field(row, "revenue"), now).Scan(&leadID)
		if err != nil {
			log.Printf("upsert %s: %v", email, err)
			skipped++
			continue
		}

		payload, _ := json.Marshal(map[string]any{
			"campaign_id": *campaignID, "lead_id": leadID, "source": "manual", "is_new_lead": true,
		})
		if _, err := db.Exec(`
			INSERT INTO event_queue (id, type, tenant_id, key, payload, attempts, max_retries, not_before, status, created_at)
			VALUES ($1, 'lead.ingested', $2, $3, $4, 0, 3, now(), 'pending', now())
		`, uuid.New().String(), *tenantID, leadID, payload); err != nil {
			log.Printf("enqueue %s: %v", email, err)
			skipped++
			continue
		}
		imported++
	}

	fmt.Printf("imported %d leads (%d skipped) in %s\n", imported, skipped, time.Since(start).Round(time.Millisecond))
}
