//go:build ignore

// Package main generates a synthetic document folder for benchmarking the
// indexing pipeline.
// Usage: go run scripts/generate-test-corpus.go -files 1000 -output testdata/bench
package main

import (
	"flag"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
)

var (
	numFiles  = flag.Int("files", 1000, "Number of files to generate")
	outputDir = flag.String("output", "testdata/bench", "Output directory")
	seed      = flag.Int64("seed", 42, "Random seed for reproducibility")
)

var mdTemplate = `# %s %s

## Summary

The %s initiative covers %s across the organization. This note collects
the current state, open decisions, and follow-ups from the last review.

## Background

%s work started as part of the %s program. The original scope covered
%s only; the team later extended it to %s after the first quarterly
review surfaced gaps in coverage.

## Current Status

- Rollout is at the **%s** stage
- The %s checklist has %d open items
- Next review scheduled with the %s group

## Decisions

1. Keep the %s pipeline on the existing schedule.
2. Move %s ownership to the platform team.
3. Revisit the %s budget once the quarter closes.

## Open Questions

- Does %s need its own escalation path?
- Should the %s report fold into the weekly summary?

## Follow-ups

| Owner | Item | Due |
|-------|------|-----|
| %s team | Draft the %s runbook | next sprint |
| %s team | Audit %s access | end of month |
`

var txtTemplate = `%s — meeting notes (%s)

Attendees: %s team, %s team

Agenda
* status of the %s rollout
* %s incident follow-up
* planning for %s

Notes
The %s rollout is proceeding on schedule. The remaining work is
concentrated in %s, where the team found %d edge cases during testing.
The %s incident from last week traced back to a configuration drift in
the %s environment; a guardrail is being added.

Planning discussion moved %s to next quarter. The %s budget stays flat.

Action items
- %s team to publish the %s summary
- review %s thresholds before the next release
`

var goTemplate = `package %s

import (
	"context"
	"fmt"
	"time"
)

// %s coordinates %s for the service.
type %s struct {
	name      string
	createdAt time.Time
	config    map[string]any
}

// New%s returns a configured %s.
func New%s(name string) *%s {
	return &%s{
		name:      name,
		createdAt: time.Now(),
		config:    make(map[string]any),
	}
}

// %s runs the main operation.
func (s *%s) %s(ctx context.Context, input string) (string, error) {
	if ctx.Err() != nil {
		return "", ctx.Err()
	}
	return fmt.Sprintf("processed %%s by %%s", input, s.name), nil
}
`

// Word pools for generating plausible document content.
var (
	topics = []string{
		"Onboarding", "Migration", "Backup", "Compliance", "Security",
		"Hiring", "Budget", "Roadmap", "Incident", "Release",
		"Vendor", "Training", "Audit", "Capacity", "Support",
	}
	domains = []string{
		"access reviews", "data retention", "deployment automation",
		"customer escalations", "invoice processing", "server provisioning",
		"contract renewals", "performance reviews", "disaster recovery",
		"knowledge sharing", "quarterly planning", "expense tracking",
	}
	groups = []string{
		"platform", "infra", "finance", "people", "legal",
		"support", "product", "design", "security", "operations",
	}
	stages = []string{
		"pilot", "rollout", "stabilization", "wrap-up", "review",
	}
	verbs = []string{
		"Process", "Reconcile", "Publish", "Archive", "Validate",
		"Schedule", "Dispatch", "Aggregate",
	}
)

func main() {
	flag.Parse()
	rng := rand.New(rand.NewSource(*seed))

	subdirs := []string{"notes", "meetings", "tools"}
	for _, subdir := range subdirs {
		if err := os.MkdirAll(filepath.Join(*outputDir, subdir), 0o755); err != nil {
			fmt.Fprintf(os.Stderr, "Error creating subdirectory %s: %v\n", subdir, err)
			os.Exit(1)
		}
	}

	fmt.Printf("Generating %d files in %s...\n", *numFiles, *outputDir)

	// A document folder is mostly prose with a sprinkle of code.
	mdFiles := *numFiles * 60 / 100
	txtFiles := *numFiles * 30 / 100
	goFiles := *numFiles - mdFiles - txtFiles

	generated := 0
	for i := 0; i < mdFiles; i++ {
		if err := generateMDFile(rng, i); err != nil {
			fmt.Fprintf(os.Stderr, "Error generating note %d: %v\n", i, err)
			continue
		}
		generated++
	}
	for i := 0; i < txtFiles; i++ {
		if err := generateTxtFile(rng, i); err != nil {
			fmt.Fprintf(os.Stderr, "Error generating meeting note %d: %v\n", i, err)
			continue
		}
		generated++
	}
	for i := 0; i < goFiles; i++ {
		if err := generateGoFile(rng, i); err != nil {
			fmt.Fprintf(os.Stderr, "Error generating tool file %d: %v\n", i, err)
			continue
		}
		generated++
	}

	fmt.Printf("Generated %d files successfully.\n", generated)
}

func pick(rng *rand.Rand, pool []string) string {
	return pool[rng.Intn(len(pool))]
}

func generateMDFile(rng *rand.Rand, index int) error {
	topic := pick(rng, topics)
	domain := pick(rng, domains)
	group := pick(rng, groups)
	other := pick(rng, groups)
	stage := pick(rng, stages)

	content := fmt.Sprintf(mdTemplate,
		topic, "Overview",
		topic, domain,
		topic, pick(rng, topics), domain, pick(rng, domains),
		stage, topic, rng.Intn(20)+1, group,
		domain, topic, domain,
		topic, group,
		group, topic,
		other, domain,
	)

	filename := filepath.Join(*outputDir, "notes", fmt.Sprintf("%s-%d.md", topic, index))
	return os.WriteFile(filename, []byte(content), 0o644)
}

func generateTxtFile(rng *rand.Rand, index int) error {
	topic := pick(rng, topics)
	group := pick(rng, groups)
	other := pick(rng, groups)

	content := fmt.Sprintf(txtTemplate,
		topic, fmt.Sprintf("week %d", rng.Intn(52)+1),
		group, other,
		topic, pick(rng, topics), pick(rng, domains),
		topic, pick(rng, domains), rng.Intn(12)+1,
		pick(rng, topics), pick(rng, groups),
		pick(rng, domains), topic,
		group, topic,
		pick(rng, domains),
	)

	filename := filepath.Join(*outputDir, "meetings", fmt.Sprintf("%s-%d.txt", topic, index))
	return os.WriteFile(filename, []byte(content), 0o644)
}

func generateGoFile(rng *rand.Rand, index int) error {
	noun := pick(rng, topics)
	verb := pick(rng, verbs)
	domain := pick(rng, domains)

	pkg := fmt.Sprintf("tool%d", index)
	content := fmt.Sprintf(goTemplate,
		pkg,
		noun, domain, noun,
		noun, noun, noun, noun, noun,
		verb, noun, verb,
	)

	filename := filepath.Join(*outputDir, "tools", fmt.Sprintf("%s_%d.go", pkg, index))
	return os.WriteFile(filename, []byte(content), 0o644)
}
