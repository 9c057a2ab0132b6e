// Command stress floods one listing with concurrent claims and reports the
// winner count. Exactly one claim should succeed regardless of volume.
package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"sync"
	"sync/atomic"
	"time"
)

func main() {
	baseURL := flag.String("url", "http://localhost:8080", "server base URL")
	ownerID := flag.String("owner", "stress-owner", "listing owner id")
	claimants := flag.Int("claimants", 50, "number of concurrent claimants")
	flag.Parse()

	client := &http.Client{Timeout: 10 * time.Second}

	// Create a listing to fight over
	listing := struct {
		ID      string `json:"id"`
		Version int64  `json:"version"`
	}{}
	body, _ := json.Marshal(map[string]any{
		"owner_id":    *ownerID,
		"description": "stress test item",
		"lat":         49.2827,
		"lng":         -123.1207,
	})
	resp, err := client.Post(*baseURL+"/api/listings", "application/json", bytes.NewReader(body))
	if err != nil {
		log.Fatalf("create listing: %v", err)
	}
	if resp.StatusCode != http.StatusCreated {
		log.Fatalf("create listing: status %d", resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(&listing); err != nil {
		log.Fatalf("decode listing: %v", err)
	}
	resp.Body.Close()
	log.Printf("created listing %s at version %d", listing.ID, listing.Version)

	var wins, conflicts, failures atomic.Int32
	var wg sync.WaitGroup

	start := time.Now()
	for i := 0; i < *claimants; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()

			claimantID := fmt.Sprintf("claimant-%d", n)

			// report a nearby location first so proximity checks pass
			loc, _ := json.Marshal(map[string]float64{"lat": 49.2827, "lng": -123.1207})
			req, _ := http.NewRequest(http.MethodPut,
				*baseURL+"/api/locations/"+claimantID, bytes.NewReader(loc))
			req.Header.Set("Content-Type", "application/json")
			if lr, err := client.Do(req); err == nil {
				lr.Body.Close()
			}

			claim, _ := json.Marshal(map[string]any{
				"claimant_id":      claimantID,
				"expected_version": listing.Version,
			})
			resp, err := client.Post(
				*baseURL+"/api/listings/"+listing.ID+"/claim",
				"application/json", bytes.NewReader(claim))
			if err != nil {
				failures.Add(1)
				return
			}
			defer resp.Body.Close()

			switch resp.StatusCode {
			case http.StatusCreated:
				wins.Add(1)
			case http.StatusConflict:
				conflicts.Add(1)
			default:
				failures.Add(1)
			}
		}(i)
	}
	wg.Wait()

	log.Printf("%d claimants in %v: %d won, %d conflicted, %d failed",
		*claimants, time.Since(start), wins.Load(), conflicts.Load(), failures.Load())
	if wins.Load() != 1 {
		log.Fatalf("FAIL: expected exactly 1 winner, got %d", wins.Load())
	}
	log.Println("OK: exactly one claim won")
}
