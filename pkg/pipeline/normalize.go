package pipeline

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"

	"github.com/nthiel/jobwatch/pkg/scraper"
	"github.com/nthiel/jobwatch/pkg/store"
)

var zeroWidth = strings.NewReplacer(
	"​", "", "‌", "", "‍", "", "﻿", "",
)

// cleanText strips zero-width characters and collapses runs of whitespace
// to a single space, trimming the ends.
func cleanText(s string) string {
	s = zeroWidth.Replace(s)
	return strings.Join(strings.Fields(s), " ")
}

// contentHash computes the 16-hex SHA-256 prefix identifying a posting:
// lowercased title, company, and the first 500 runes of description.
func contentHash(title, company, description string) string {
	desc := []rune(description)
	if len(desc) > 500 {
		desc = desc[:500]
	}
	key := strings.ToLower(title) + "\x00" + strings.ToLower(company) + "\x00" + string(desc)
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])[:16]
}

func containsAnyFold(s string, substrs []string) bool {
	lower := strings.ToLower(s)
	for _, sub := range substrs {
		if sub == "" {
			continue
		}
		if strings.Contains(lower, strings.ToLower(sub)) {
			return true
		}
	}
	return false
}

// locationPasses reports whether a posting's location satisfies the
// subscription's location filter: remote postings pass if the user has any
// remote location; physical postings pass if their location text contains
// any search variant, city, state, or display name of a physical location.
func locationPasses(isRemote bool, location string, locs []store.Location) bool {
	hasRemote := false
	var physical []store.Location
	for _, l := range locs {
		if l.Type == "remote" {
			hasRemote = true
		} else {
			physical = append(physical, l)
		}
	}
	if isRemote && hasRemote {
		return true
	}

	lower := strings.ToLower(location)
	if lower == "" {
		return false
	}
	for _, l := range physical {
		for _, v := range l.SearchVariants {
			if v != "" && strings.Contains(lower, strings.ToLower(v)) {
				return true
			}
		}
		if l.City != "" && strings.Contains(lower, strings.ToLower(l.City)) {
			return true
		}
		if l.State != "" && strings.Contains(lower, strings.ToLower(l.State)) {
			return true
		}
		if l.Display != "" && strings.Contains(lower, strings.ToLower(l.Display)) {
			return true
		}
	}
	return false
}

// normalizeResult is the outcome of the normalization stage.
type normalizeResult struct {
	Jobs       []*store.Job
	RawCount   int
	UniqueCount int
}

// normalize cleans, hashes, deduplicates, and filters raw postings per
// subscription. Postings sharing a content_hash are collapsed, keeping the
// first occurrence.
func normalize(postings []scraper.Posting, sub *store.Subscription, source string) normalizeResult {
	seen := make(map[string]*store.Job, len(postings))
	order := make([]string, 0, len(postings))
	now := time.Now()

	for _, p := range postings {
		title := cleanText(p.Title)
		company := cleanText(p.Company)
		description := cleanText(p.Description)
		location := cleanText(p.Location)

		hash := contentHash(title, company, description)
		if _, ok := seen[hash]; ok {
			continue
		}
		if containsAnyFold(title, sub.ExcludedTitles.Value) {
			continue
		}
		if containsAnyFold(company, sub.ExcludedCompanies.Value) {
			continue
		}
		if !locationPasses(p.IsRemote, location, sub.NormalizedLocations.Value) {
			continue
		}

		job := &store.Job{
			ContentHash:    hash,
			Title:          title,
			Company:        company,
			Description:    description,
			Location:       location,
			IsRemote:       p.IsRemote,
			SalaryMin:      p.SalaryMin,
			SalaryMax:      p.SalaryMax,
			SalaryCurrency: p.Currency,
			ApplicationURL: p.JobURL,
			Source:         source,
			SourceID:       p.JobURL,
			PostedDate:     parsePostedDate(p.PostedDate),
			FirstSeenAt:    now,
			LastSeenAt:     now,
		}
		seen[hash] = job
		order = append(order, hash)
	}

	jobs := make([]*store.Job, 0, len(order))
	for _, h := range order {
		jobs = append(jobs, seen[h])
	}
	return normalizeResult{Jobs: jobs, RawCount: len(postings), UniqueCount: len(jobs)}
}

func parsePostedDate(s *string) *time.Time {
	if s == nil || *s == "" {
		return nil
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02"} {
		if t, err := time.Parse(layout, *s); err == nil {
			return &t
		}
	}
	return nil
}
