package fetchcore

import "time"

// ScoreGenerator ranks a GroupedUrlDatum for dispatch priority within its
// host's queue. A score below zero (see SkipURLScore) means the URL should
// bypass fetching entirely.
type ScoreGenerator interface {
	Score(d GroupedUrlDatum, now time.Time) float64
}

// TimeSinceFetchScorer is the default ScoreGenerator: a monotonically
// increasing function of time since last fetch, saturating at 1.0 once the
// configured window has elapsed. URLs that have never been fetched
// (LastFetchedAt is zero) always score 1.0.
type TimeSinceFetchScorer struct {
	// SaturationWindow is the elapsed time since last fetch at which the
	// score reaches 1.0.
	SaturationWindow time.Duration
}

// NewTimeSinceFetchScorer returns a TimeSinceFetchScorer saturating after
// window. A non-positive window saturates immediately for any previously
// fetched URL.
func NewTimeSinceFetchScorer(window time.Duration) TimeSinceFetchScorer {
	return TimeSinceFetchScorer{SaturationWindow: window}
}

// Score implements ScoreGenerator.
func (s TimeSinceFetchScorer) Score(d GroupedUrlDatum, now time.Time) float64 {
	if d.LastFetchedAt.IsZero() {
		return 1.0
	}
	if s.SaturationWindow <= 0 {
		return 1.0
	}
	elapsed := now.Sub(d.LastFetchedAt)
	if elapsed <= 0 {
		return 0.0
	}
	frac := float64(elapsed) / float64(s.SaturationWindow)
	if frac >= 1.0 {
		return 1.0
	}
	return frac
}

// SkipAllScorer is a ScoreGenerator that skips every URL; useful in tests
// and for dry-run pipeline stages.
type SkipAllScorer struct{}

// Score implements ScoreGenerator.
func (SkipAllScorer) Score(GroupedUrlDatum, time.Time) float64 {
	return SkipURLScore
}

// ToStatusDatum converts a skipped/bypassed GroupedUrlDatum directly into a
// StatusDatum without ever reaching HttpFetcher.
func ToStatusDatum(d GroupedUrlDatum, status Status, now time.Time) StatusDatum {
	return StatusDatum{
		URL:         d.URL,
		Status:      status,
		CompletedAt: now,
		Metadata:    d.Metadata.Clone(),
	}
}
