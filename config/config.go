// Package config loads a FetcherPolicy from a YAML file (falling back to the
// FETCHCORE_USER_AGENT environment variable when the file sets no user
// agent), using a human-editable, language-agnostic wire format so a
// policy can be handed off to other pipeline nodes.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/codepr/fetchcore"
	"github.com/codepr/fetchcore/env"
)

// fileFormat is the on-disk/wire shape of a FetcherPolicy. Durations are
// strings so the format stays human-editable and language-agnostic.
type fileFormat struct {
	UserAgent         string `yaml:"user_agent"`
	CrawlEndTime      string `yaml:"crawl_end_time"`
	MinResponseRate   float64 `yaml:"min_response_rate_bps"`
	MaxContentSize    int64  `yaml:"max_content_size_bytes"`
	DefaultCrawlDelay string `yaml:"default_crawl_delay"`
	MaxRedirects      int    `yaml:"max_redirects"`
	ThreadsPerHost    int    `yaml:"threads_per_host"`
	MaxThreads        int    `yaml:"max_threads"`
}

// Defaults returns fetchcore.DefaultPolicy for the given user agent.
func Defaults(userAgent string) fetchcore.FetcherPolicy {
	return fetchcore.DefaultPolicy(userAgent)
}

// Load reads path as YAML and returns the FetcherPolicy it describes,
// falling back to package defaults for any field left unset.
func Load(path string) (fetchcore.FetcherPolicy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return fetchcore.FetcherPolicy{}, fmt.Errorf("reading config file %s: %w", path, err)
	}

	var ff fileFormat
	if err := yaml.Unmarshal(data, &ff); err != nil {
		return fetchcore.FetcherPolicy{}, fmt.Errorf("unmarshaling config file %s: %w", path, err)
	}

	policy := fetchcore.DefaultPolicy(ff.UserAgent)
	if ff.UserAgent == "" {
		policy.UserAgent = env.GetEnv("FETCHCORE_USER_AGENT", "fetchcore/1.0")
	}
	if ff.MaxContentSize > 0 {
		policy.MaxContentSize = ff.MaxContentSize
	}
	if ff.MinResponseRate > 0 {
		policy.MinResponseRate = ff.MinResponseRate
	}
	if ff.MaxRedirects > 0 {
		policy.MaxRedirects = ff.MaxRedirects
	}
	if ff.ThreadsPerHost > 0 {
		policy.ThreadsPerHost = ff.ThreadsPerHost
	}
	if ff.MaxThreads > 0 {
		policy.MaxThreads = ff.MaxThreads
	}
	if ff.DefaultCrawlDelay != "" {
		d, perr := time.ParseDuration(ff.DefaultCrawlDelay)
		if perr != nil {
			return fetchcore.FetcherPolicy{}, fmt.Errorf("parsing default_crawl_delay: %w", perr)
		}
		policy.DefaultCrawlDelay = d
	}
	if ff.CrawlEndTime != "" {
		t, perr := time.Parse(time.RFC3339, ff.CrawlEndTime)
		if perr != nil {
			return fetchcore.FetcherPolicy{}, fmt.Errorf("parsing crawl_end_time: %w", perr)
		}
		policy.CrawlEndTime = t
	}

	return policy, nil
}

// Marshal renders policy back into the YAML wire format Load understands,
// for handing the policy to other pipeline nodes.
func Marshal(policy fetchcore.FetcherPolicy) ([]byte, error) {
	ff := fileFormat{
		UserAgent:         policy.UserAgent,
		MinResponseRate:   policy.MinResponseRate,
		MaxContentSize:    policy.MaxContentSize,
		DefaultCrawlDelay: policy.DefaultCrawlDelay.String(),
		MaxRedirects:      policy.MaxRedirects,
		ThreadsPerHost:    policy.ThreadsPerHost,
		MaxThreads:        policy.MaxThreads,
	}
	if !policy.CrawlEndTime.IsZero() {
		ff.CrawlEndTime = policy.CrawlEndTime.Format(time.RFC3339)
	}
	return yaml.Marshal(ff)
}
