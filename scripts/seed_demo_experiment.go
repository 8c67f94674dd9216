//go:build ignore
// +build ignore

// Seeds a demo experiment with assignments and funnel events so the
// dashboard has data to show on a fresh database.
//
// Usage:
//   DATABASE_URL=postgres://... go run scripts/seed_demo_experiment.go
package main

import (
	"database/sql"
	"fmt"
	"log"
	"math/rand"
	"os"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq"
)

var funnelEvents = []struct {
	name string
	rate float64 // per-session probability of reaching this stage
}{
	{"search_result_view", 1.00},
	{"hotel_detail_view", 0.42},
	{"booking_start", 0.18},
	{"booking_submit", 0.09},
	{"pay_success", 0.07},
}

func main() {
	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		log.Fatal("DATABASE_URL is required")
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		log.Fatalf("connect: %v", err)
	}
	defer db.Close()
	if err := db.Ping(); err != nil {
		log.Fatalf("ping: %v", err)
	}

	expID := "exp_" + uuid.New().String()
	_, err = db.Exec(`
		INSERT INTO experiments (experiment_id, name, hypothesis, status, start_date)
		VALUES ($1, 'Policy digest placement (demo)',
		        'Surfacing the cancellation policy digest on search results lifts booking submit',
		        'running', NOW() - INTERVAL '7 days')
	`, expID)
	if err != nil {
		log.Fatalf("insert experiment: %v", err)
	}
	log.Printf("Created %s", expID)

	rng := rand.New(rand.NewSource(42))
	const sessions = 2000

	for i := 0; i < sessions; i++ {
		sessID := fmt.Sprintf("demo_sess_%04d", i)
		variant := "control"
		lift := 0.0
		if rng.Intn(2) == 1 {
			variant = "treatment"
			lift = 0.10 // demo treatment converts slightly better
		}
		assignedAt := time.Now().Add(-time.Duration(rng.Intn(7*24)) * time.Hour)

		if _, err := db.Exec(`
			INSERT INTO experiment_assignments (experiment_id, session_id, variant_id, assigned_at, exposed, exposed_at)
			VALUES ($1, $2, $3, $4, TRUE, $4)
		`, expID, sessID, variant, assignedAt); err != nil {
			log.Fatalf("insert assignment: %v", err)
		}

		for _, ev := range funnelEvents {
			rate := ev.rate * (1 + lift)
			if ev.name != "search_result_view" && rng.Float64() > rate {
				break
			}
			if _, err := db.Exec(`
				INSERT INTO tracking_events (id, event_name, session_id, timestamp, experiment_id, variant_id)
				VALUES ($1, $2, $3, $4, $5, $6)
			`, uuid.New().String(), ev.name, sessID, assignedAt.Add(time.Duration(rng.Intn(600))*time.Second), expID, variant); err != nil {
				log.Fatalf("insert event: %v", err)
			}
		}

		if (i+1)%500 == 0 {
			log.Printf("Seeded %d/%d sessions", i+1, sessions)
		}
	}

	log.Printf("Done: %d sessions seeded into %s", sessions, expID)
}
