// Command fetchcore wires together the HTTP fetcher, robots rules,
// grouping key generator, per-host queues and the fetch-loop manager into
// a runnable process, reading seed URLs from the command line and policy
// from a YAML file or environment variables.
package main

import (
	"bufio"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/benbjohnson/clock"

	"github.com/codepr/fetchcore"
	"github.com/codepr/fetchcore/config"
	"github.com/codepr/fetchcore/env"
	"github.com/codepr/fetchcore/grouping"
	"github.com/codepr/fetchcore/httpfetch"
	"github.com/codepr/fetchcore/manager"
	"github.com/codepr/fetchcore/messaging"
	"github.com/codepr/fetchcore/queue"
)

func main() {
	var (
		configPath = flag.String("config", "", "path to a YAML policy file (optional, falls back to env vars and defaults)")
		seedFile   = flag.String("seeds", "", "path to a newline-delimited file of seed URLs (optional, reads stdin if empty and no args)")
		groupByIP  = flag.Bool("group-by-ip", false, "group politeness by resolved IP instead of hostname")
	)
	flag.Parse()

	logger := log.New(os.Stderr, "fetchcore: ", log.LstdFlags)

	policy, err := loadPolicy(*configPath)
	if err != nil {
		logger.Fatalf("loading policy: %v", err)
	}

	seeds, err := loadSeeds(*seedFile, flag.Args())
	if err != nil {
		logger.Fatalf("loading seeds: %v", err)
	}
	if len(seeds) == 0 {
		logger.Fatal("no seed URLs given (pass as args, -seeds file, or stdin)")
	}

	clk := clock.New()

	fetcher := httpfetch.New(policy, clk)
	defer fetcher.Close()

	keyGen, err := grouping.New(fetcher, policy.UserAgent, policy.DefaultCrawlDelay, *groupByIP)
	if err != nil {
		logger.Fatalf("building grouping key generator: %v", err)
	}

	contentSink := messaging.NewChannelContentSink(policy.MaxThreads * 4)
	statusSink := messaging.NewChannelStatusSink(policy.MaxThreads * 4)
	go drainContent(contentSink, logger)
	go drainStatus(statusSink, logger)

	scorer := fetchcore.NewTimeSinceFetchScorer(policy.DefaultCrawlDelay)
	queues := queue.NewManager(clk)
	for _, seed := range seeds {
		enqueue(queues, keyGen, scorer, seed, policy, clk, statusSink, logger)
	}

	mgr := manager.New(fetcher, queues, contentSink, statusSink, policy.MaxThreads, clk)

	signalCh := make(chan os.Signal, 1)
	signal.Notify(signalCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-signalCh
		logger.Println("received shutdown signal, exiting without waiting for in-flight fetches")
		os.Exit(1)
	}()

	mgr.Run()
	logger.Println("crawl finished")
}

func loadPolicy(path string) (fetchcore.FetcherPolicy, error) {
	if path != "" {
		return config.Load(path)
	}
	userAgent := env.GetEnv("FETCHCORE_USER_AGENT", "fetchcore/1.0")
	policy := config.Defaults(userAgent)
	policy.MaxThreads = env.GetEnvAsInt("FETCHCORE_MAX_THREADS", policy.MaxThreads)
	policy.ThreadsPerHost = env.GetEnvAsInt("FETCHCORE_THREADS_PER_HOST", policy.ThreadsPerHost)
	policy.DefaultCrawlDelay = env.GetEnvAsDuration("FETCHCORE_DEFAULT_CRAWL_DELAY", policy.DefaultCrawlDelay)
	return policy, nil
}

func loadSeeds(path string, args []string) ([]string, error) {
	if len(args) > 0 {
		return args, nil
	}
	var r *os.File
	if path != "" {
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("opening seed file %s: %w", path, err)
		}
		defer f.Close()
		r = f
	} else {
		stat, err := os.Stdin.Stat()
		if err != nil || (stat.Mode()&os.ModeCharDevice) != 0 {
			return nil, nil
		}
		r = os.Stdin
	}

	var seeds []string
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		seeds = append(seeds, line)
	}
	return seeds, scanner.Err()
}

func enqueue(queues *queue.Manager, keyGen *grouping.Generator, scorer fetchcore.ScoreGenerator, seed string, policy fetchcore.FetcherPolicy, clk clock.Clock, statusSink *messaging.ChannelStatusSink, logger *log.Logger) {
	d := fetchcore.UrlDatum{URL: seed, Metadata: fetchcore.Metadata{}}
	key, err := keyGen.KeyFor(d)
	if err != nil {
		logger.Printf("skipping seed %s: %v", seed, err)
		return
	}

	grouped := fetchcore.GroupedUrlDatum{UrlDatum: d, GroupKey: key.String()}
	if key.BypassesFetch() {
		statusSink.EmitStatus(fetchcore.ToStatusDatum(grouped, key.Status(), clk.Now()))
		return
	}

	score := scorer.Score(grouped, clk.Now())
	scored := fetchcore.ScoredUrlDatum{GroupedUrlDatum: grouped, Score: score}
	if scored.ShouldSkip() {
		statusSink.EmitStatus(fetchcore.ToStatusDatum(grouped, fetchcore.StatusSkipped, clk.Now()))
		return
	}

	q := queue.New(key.String(), policy, key.CrawlDelay, clk, statusSink)
	if err := q.Offer(scored); err != nil {
		logger.Printf("skipping seed %s: %v", seed, err)
		return
	}
	queues.Offer(q)
}

func drainContent(sink *messaging.ChannelContentSink, logger *log.Logger) {
	for fetched := range sink.Chan() {
		logger.Printf("fetched %s (%d bytes, status %d)", fetched.URL, len(fetched.Content), fetched.HTTPStatusCode)
	}
}

func drainStatus(sink *messaging.ChannelStatusSink, logger *log.Logger) {
	for status := range sink.Chan() {
		if status.Status != fetchcore.StatusFetched {
			logger.Printf("%s: %s (%s)", status.URL, status.Status, status.ErrorMessage)
		}
	}
}
