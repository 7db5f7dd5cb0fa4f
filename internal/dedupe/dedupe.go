// Package dedupe computes the stable content hash and priority score for
// timeline entries.
//
// The hash identifies one logical activity across multiple raw events: a PR
// opened then merged, or the same webhook delivered twice, must collapse to
// the same hash so the fan-out upsert updates one row instead of forking
// duplicates. That only holds if the hash is derived purely from immutable
// coordinates. Never feed it the action verb, body text, or a timestamp.
package dedupe

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"strings"

	"github.com/pulsefeed/pulsefeed/internal/feed"
)

// BaselineScore is the score of a baseline-priority event (push). Other
// types scale it by their multiplier.
const BaselineScore = 10.0

// hashKey is the canonical JSON shape that gets hashed. Field order is fixed
// by the struct definition; encoding/json preserves it, which is what makes
// the digest bit-exact across processes.
type hashKey struct {
	Org  string `json:"org"`
	Repo string `json:"repo"`
	Type string `json:"type"`
	Key  string `json:"key"`
}

// Hash returns the SHA-256 hex digest identifying one logical activity.
//
// stableKey must be the per-type immutable identifier: PR number for pull
// requests and reviews, issue number for issues and comments, tag name for
// releases, head commit SHA for pushes. Org and repo are lowercased to match
// the directory's case-insensitive lookup.
func Hash(org, repo string, typ feed.EventType, stableKey string) string {
	k := hashKey{
		Org:  strings.ToLower(org),
		Repo: strings.ToLower(repo),
		Type: string(typ),
		Key:  stableKey,
	}
	// Marshal of a flat string struct cannot fail.
	data, _ := json.Marshal(k)
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// Score returns the priority score for an event type: baseline times the
// per-type multiplier. Pull requests and reviews rank double, issues and
// releases rank at baseline parity, pushes are the baseline itself.
func Score(typ feed.EventType) float64 {
	return BaselineScore * multiplier(typ)
}

func multiplier(typ feed.EventType) float64 {
	switch typ {
	case feed.EventPullRequest, feed.EventPullRequestReview:
		return 2
	case feed.EventIssues, feed.EventIssueComment, feed.EventRelease:
		return 1
	case feed.EventPush:
		return 1
	default:
		return 1
	}
}
