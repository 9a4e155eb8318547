// Command shadow_compare replays read endpoints against the legacy
// laundry service and this API and reports response drift. Used during
// cutover to verify the Go service before traffic moves over.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"reflect"
	"time"
)

type endpoint struct {
	Method   string `json:"method"`
	Path     string `json:"path"`
	Critical bool   `json:"critical"`
}

type manifest struct {
	Targets []endpoint `json:"targets"`
}

type drift struct {
	endpoint     endpoint
	legacyStatus int
	goStatus     int
	bodiesMatch  bool
	err          error
}

func main() {
	var (
		goBase     string
		legacyBase string
		targets    string
		timeout    time.Duration
	)

	flag.StringVar(&goBase, "go-base", "http://localhost:8080", "Go API base URL")
	flag.StringVar(&legacyBase, "legacy-base", "http://localhost:3000", "legacy API base URL")
	flag.StringVar(&targets, "targets", filepath.Join("scripts", "shadow_compare", "targets.json"), "endpoint manifest")
	flag.DurationVar(&timeout, "timeout", 5*time.Second, "per-request timeout")
	flag.Parse()

	endpoints, err := loadManifest(targets)
	if err != nil {
		log.Fatalf("load manifest: %v", err)
	}

	client := &http.Client{Timeout: timeout}
	criticalDrift := 0

	for _, ep := range endpoints {
		d := compare(client, goBase, legacyBase, ep)
		report(d)
		if ep.Critical && (d.err != nil || d.legacyStatus != d.goStatus || !d.bodiesMatch) {
			criticalDrift++
		}
	}

	if criticalDrift > 0 {
		log.Fatalf("%d critical endpoint(s) drifted", criticalDrift)
	}
	fmt.Println("no critical drift")
}

func loadManifest(path string) ([]endpoint, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var m manifest
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, err
	}
	if len(m.Targets) == 0 {
		return nil, fmt.Errorf("manifest %s lists no targets", path)
	}
	return m.Targets, nil
}

func compare(client *http.Client, goBase, legacyBase string, ep endpoint) drift {
	d := drift{endpoint: ep}

	legacyBody, legacyStatus, err := fetch(client, legacyBase, ep)
	if err != nil {
		d.err = fmt.Errorf("legacy: %w", err)
		return d
	}
	goBody, goStatus, err := fetch(client, goBase, ep)
	if err != nil {
		d.err = fmt.Errorf("go: %w", err)
		return d
	}

	d.legacyStatus = legacyStatus
	d.goStatus = goStatus
	d.bodiesMatch = jsonEqual(legacyBody, goBody)
	return d
}

func fetch(client *http.Client, base string, ep endpoint) ([]byte, int, error) {
	req, err := http.NewRequest(ep.Method, base+ep.Path, nil)
	if err != nil {
		return nil, 0, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, 0, err
	}
	return body, resp.StatusCode, nil
}

// jsonEqual compares decoded JSON so key ordering and whitespace do
// not count as drift. Non-JSON bodies fall back to byte equality.
func jsonEqual(a, b []byte) bool {
	var av, bv interface{}
	if json.Unmarshal(a, &av) != nil || json.Unmarshal(b, &bv) != nil {
		return string(a) == string(b)
	}
	return reflect.DeepEqual(av, bv)
}

func report(d drift) {
	label := fmt.Sprintf("%s %s", d.endpoint.Method, d.endpoint.Path)
	switch {
	case d.err != nil:
		fmt.Printf("ERR   %-45s %v\n", label, d.err)
	case d.legacyStatus != d.goStatus:
		fmt.Printf("DRIFT %-45s status legacy=%d go=%d\n", label, d.legacyStatus, d.goStatus)
	case !d.bodiesMatch:
		fmt.Printf("DRIFT %-45s body mismatch\n", label)
	default:
		fmt.Printf("OK    %-45s status=%d\n", label, d.goStatus)
	}
}
