package scheduler_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/benbjohnson/clock"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/multierr"

	"github.com/angeloszaimis/proxypool/internal/feed"
	"github.com/angeloszaimis/proxypool/internal/metrics"
	"github.com/angeloszaimis/proxypool/internal/registry"
	"github.com/angeloszaimis/proxypool/internal/scheduler"
)

const (
	proxyA = "http://10.0.0.1:8080"
	proxyB = "http://10.0.0.2:8080"
	proxyC = "https://10.0.0.3:443"
)

var _ = Describe("Scheduler", func() {
	var (
		ctx    context.Context
		clk    *clock.Mock
		logger *slog.Logger
		reg    *registry.Registry
		fp     *fakeProber
		ff     *fakeFeed
		events *eventRecorder
		cfg    scheduler.Config
		sched  *scheduler.Scheduler
	)

	build := func() {
		sched = scheduler.New(logger, cfg, reg, fp, ff, clk, events)
	}

	seed := func(url string, outcome registry.Outcome, times int) {
		for i := 0; i < times; i++ {
			_, err := reg.Upsert(ctx, url, "", outcome)
			Expect(err).NotTo(HaveOccurred())
		}
	}

	get := func(url string) registry.ProxyRecord {
		rec, err := reg.Get(ctx, url)
		Expect(err).NotTo(HaveOccurred())
		return rec
	}

	BeforeEach(func() {
		ctx = context.Background()
		clk = clock.NewMock()
		clk.Set(time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC))
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))

		var err error
		reg, err = registry.New(registry.Config{
			Path:         filepath.Join(GinkgoT().TempDir(), "proxies.db"),
			MaxFailures:  5,
			Retries:      0,
			RetryBackoff: time.Millisecond,
		}, clk, nil, logger)
		Expect(err).NotTo(HaveOccurred())

		fp = newFakeProber()
		ff = &fakeFeed{token: "t1", candidates: []string{proxyA, proxyB}}
		events = &eventRecorder{}
		cfg = scheduler.Config{
			TickInterval:         30 * time.Second,
			MetaInterval:         60 * time.Second,
			RevalidationInterval: 20 * time.Minute,
			MaxFailures:          5,
			Concurrency:          10,
		}
		build()
	})

	AfterEach(func() {
		_ = reg.Close()
	})

	Describe("Tick gating", func() {
		It("should run every pass on the first tick", func() {
			report, err := sched.Tick(ctx, clk.Now())
			Expect(err).NotTo(HaveOccurred())
			Expect(report.ID).NotTo(BeEmpty())
			Expect(report.Passes).To(Equal([]string{
				scheduler.PassDiscovery,
				scheduler.PassRecovery,
				scheduler.PassRevalidation,
				scheduler.PassCleanup,
			}))
		})

		It("should gate discovery and revalidation on their own intervals", func() {
			start := clk.Now()
			_, err := sched.Tick(ctx, start)
			Expect(err).NotTo(HaveOccurred())

			report, err := sched.Tick(ctx, start.Add(30*time.Second))
			Expect(err).NotTo(HaveOccurred())
			Expect(report.Passes).To(Equal([]string{scheduler.PassRecovery, scheduler.PassCleanup}))

			report, err = sched.Tick(ctx, start.Add(60*time.Second))
			Expect(err).NotTo(HaveOccurred())
			Expect(report.Passes).To(Equal([]string{scheduler.PassDiscovery, scheduler.PassRecovery, scheduler.PassCleanup}))

			report, err = sched.Tick(ctx, start.Add(20*time.Minute))
			Expect(err).NotTo(HaveOccurred())
			Expect(report.Passes).To(ContainElement(scheduler.PassRevalidation))
		})

		It("should measure intervals from the last run, not wall-clock alignment", func() {
			start := clk.Now()
			_, err := sched.Tick(ctx, start)
			Expect(err).NotTo(HaveOccurred())

			// a missed tick: the next one arrives late
			report, err := sched.Tick(ctx, start.Add(95*time.Second))
			Expect(err).NotTo(HaveOccurred())
			Expect(report.Passes).To(ContainElement(scheduler.PassDiscovery))

			report, err = sched.Tick(ctx, start.Add(125*time.Second))
			Expect(err).NotTo(HaveOccurred())
			Expect(report.Passes).NotTo(ContainElement(scheduler.PassDiscovery))
		})

		It("should treat a clock that moved backwards as due", func() {
			start := clk.Now()
			_, err := sched.Tick(ctx, start)
			Expect(err).NotTo(HaveOccurred())

			report, err := sched.Tick(ctx, start.Add(-time.Hour))
			Expect(err).NotTo(HaveOccurred())
			Expect(report.Passes).To(ContainElements(scheduler.PassDiscovery, scheduler.PassRevalidation))
		})

		It("should stop before the first pass when the context is done", func() {
			cancelled, cancel := context.WithCancel(ctx)
			cancel()

			report, err := sched.Tick(cancelled, clk.Now())
			Expect(err).To(MatchError(context.Canceled))
			Expect(report.Passes).To(BeEmpty())
			Expect(fp.tested()).To(BeEmpty())
		})
	})

	Describe("Discovery sync", func() {
		It("should test new candidates and save the token", func() {
			fp.up(proxyA, 300*time.Millisecond)

			_, err := sched.Tick(ctx, clk.Now())
			Expect(err).NotTo(HaveOccurred())

			Expect(fp.tested()[0]).To(ConsistOf(proxyA, proxyB))
			Expect(get(proxyA).Working).To(BeTrue())
			Expect(get(proxyB).Working).To(BeFalse())

			token, _, err := reg.LastChangeToken(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(token).To(Equal("t1"))
		})

		It("should skip the candidate fetch when the token is unchanged", func() {
			Expect(reg.SaveChangeToken(ctx, "t1")).To(Succeed())

			_, err := sched.Tick(ctx, clk.Now())
			Expect(err).NotTo(HaveOccurred())

			tokenCalls, listCalls := ff.calls()
			Expect(tokenCalls).To(Equal(1))
			Expect(listCalls).To(BeZero())
		})

		It("should not retest candidates that are already working", func() {
			seed(proxyA, registry.Outcome{Success: true, Latency: time.Second}, 1)

			_, err := sched.Tick(ctx, clk.Now())
			Expect(err).NotTo(HaveOccurred())

			Expect(fp.tested()[0]).To(ConsistOf(proxyB))
		})

		It("should drop urls no longer offered upstream regardless of health", func() {
			seed(proxyA, registry.Outcome{Success: true, Latency: time.Second}, 1)
			seed(proxyB, registry.Outcome{Success: false}, 1)
			Expect(reg.SaveChangeToken(ctx, "t0")).To(Succeed())
			ff.set("t1", proxyB, proxyC)

			report, err := sched.Tick(ctx, clk.Now())
			Expect(err).NotTo(HaveOccurred())
			Expect(report.Removed).To(Equal(int64(1)))

			_, err = reg.Get(ctx, proxyA)
			Expect(err).To(MatchError(registry.ErrNotFound))
			_, err = reg.Get(ctx, proxyC)
			Expect(err).NotTo(HaveOccurred())
		})

		It("should keep going after a feed failure and retry on the next due tick", func() {
			ff.tokenErr = errFeedDown
			fp.up(proxyA, time.Second)
			seed(proxyA, registry.Outcome{Success: false}, 1)

			start := clk.Now()
			report, err := sched.Tick(ctx, start)
			Expect(err).NotTo(HaveOccurred())

			var ferr *feed.FetchError
			Expect(errors.As(report.Errors, &ferr)).To(BeTrue())
			Expect(multierr.Errors(report.Errors)).To(HaveLen(1))
			Expect(report.Passes).To(ContainElements(scheduler.PassRecovery, scheduler.PassCleanup))
			Expect(get(proxyA).Working).To(BeTrue())

			token, _, err := reg.LastChangeToken(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(token).To(BeEmpty())

			ff.tokenErr = nil
			_, err = sched.Tick(ctx, start.Add(60*time.Second))
			Expect(err).NotTo(HaveOccurred())
			token, _, err = reg.LastChangeToken(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(token).To(Equal("t1"))
		})

		It("should leave the registry untouched when the candidate fetch fails", func() {
			seed(proxyA, registry.Outcome{Success: true, Latency: time.Second}, 1)
			ff.candidatesErr = &feed.FetchError{Source: "http list", Err: errors.New("502")}

			report, err := sched.Tick(ctx, clk.Now())
			Expect(err).NotTo(HaveOccurred())
			Expect(report.Errors).To(HaveOccurred())
			Expect(report.Removed).To(BeZero())
			Expect(get(proxyA).Working).To(BeTrue())
		})
	})

	Describe("Recovery probe", func() {
		It("should promote a failing record on one success", func() {
			seed(proxyA, registry.Outcome{Success: false}, 3)
			Expect(reg.SaveChangeToken(ctx, "t1")).To(Succeed())
			fp.up(proxyA, 700*time.Millisecond)

			_, err := sched.Tick(ctx, clk.Now())
			Expect(err).NotTo(HaveOccurred())

			rec := get(proxyA)
			Expect(rec.Working).To(BeTrue())
			Expect(rec.FailedCount).To(BeZero())
			Expect(rec.TimeoutSeconds).To(BeNumerically("~", 0.7, 1e-9))
		})

		It("should count another failure for a record that is still down", func() {
			seed(proxyA, registry.Outcome{Success: false}, 2)
			Expect(reg.SaveChangeToken(ctx, "t1")).To(Succeed())

			_, err := sched.Tick(ctx, clk.Now())
			Expect(err).NotTo(HaveOccurred())
			Expect(get(proxyA).FailedCount).To(Equal(3))
		})

		Context("with deep checks enabled", func() {
			BeforeEach(func() {
				cfg.DeepCheckAttempts = 3
				cfg.DeepCheckMinConfidence = 0.6
				build()

				seed(proxyA, registry.Outcome{Success: false}, 2)
				Expect(reg.SaveChangeToken(ctx, "t1")).To(Succeed())
				fp.up(proxyA, time.Second)
			})

			It("should promote when the deep check is confident", func() {
				_, err := sched.Tick(ctx, clk.Now())
				Expect(err).NotTo(HaveOccurred())

				Expect(get(proxyA).Working).To(BeTrue())
				Expect(fp.deepCalls).To(Equal(1))
			})

			It("should record a failure when confidence is too low", func() {
				fp.confidence = 1.0 / 3

				_, err := sched.Tick(ctx, clk.Now())
				Expect(err).NotTo(HaveOccurred())

				rec := get(proxyA)
				Expect(rec.Working).To(BeFalse())
				Expect(rec.FailedCount).To(Equal(3))
			})

			It("should not deep check revalidation successes", func() {
				Expect(reg.Close()).To(Succeed())
				var err error
				reg, err = registry.New(registry.Config{Path: filepath.Join(GinkgoT().TempDir(), "fresh.db")}, clk, nil, logger)
				Expect(err).NotTo(HaveOccurred())
				build()

				seed(proxyA, registry.Outcome{Success: true, Latency: time.Second}, 1)
				Expect(reg.SaveChangeToken(ctx, "t1")).To(Succeed())

				_, err = sched.Tick(ctx, clk.Now())
				Expect(err).NotTo(HaveOccurred())
				Expect(fp.deepCalls).To(BeZero())
			})
		})
	})

	Describe("Revalidation and cleanup", func() {
		It("should demote a working record after enough failed revalidations", func() {
			seed(proxyA, registry.Outcome{Success: true, Latency: time.Second}, 1)
			seed(proxyA, registry.Outcome{Success: false}, 4)
			Expect(reg.SaveChangeToken(ctx, "t1")).To(Succeed())

			report, err := sched.Tick(ctx, clk.Now())
			Expect(err).NotTo(HaveOccurred())

			// demoted by revalidation, then removed by cleanup in the same tick
			Expect(report.Cleaned).To(Equal(int64(1)))
			_, err = reg.Get(ctx, proxyA)
			Expect(err).To(MatchError(registry.ErrNotFound))
		})

		It("should never clean up working records", func() {
			seed(proxyA, registry.Outcome{Success: true, Latency: time.Second}, 1)
			fp.up(proxyA, time.Second)
			Expect(reg.SaveChangeToken(ctx, "t1")).To(Succeed())

			report, err := sched.Tick(ctx, clk.Now())
			Expect(err).NotTo(HaveOccurred())
			Expect(report.Cleaned).To(BeZero())
			Expect(report.Stats.Working).To(Equal(int64(1)))
		})
	})

	Describe("Fatal errors", func() {
		It("should escalate registry failures to a FatalWorkerError", func() {
			Expect(reg.Close()).To(Succeed())

			report, err := sched.Tick(ctx, clk.Now())

			var fatal *scheduler.FatalWorkerError
			Expect(errors.As(err, &fatal)).To(BeTrue())
			Expect(fatal.Pass).To(Equal(scheduler.PassDiscovery))

			var perr *registry.PersistenceError
			Expect(errors.As(err, &perr)).To(BeTrue())
			Expect(report.Passes).To(Equal([]string{scheduler.PassDiscovery}))
		})
	})

	Describe("Metrics", func() {
		It("should emit pass, probe and tick events", func() {
			fp.up(proxyA, 200*time.Millisecond)

			_, err := sched.Tick(ctx, clk.Now())
			Expect(err).NotTo(HaveOccurred())

			Expect(events.ofType(metrics.EventPassCompleted)).To(HaveLen(4))
			// discovery tests A and B, recovery retests B, revalidation retests A
			Expect(events.ofType(metrics.EventProbeCompleted)).To(HaveLen(4))
			ticks := events.ofType(metrics.EventTickCompleted)
			Expect(ticks).To(HaveLen(1))
			Expect(ticks[0].Working).To(Equal(int64(1)))
		})
	})

	Describe("Run", func() {
		It("should tick immediately and then on every interval until stopped", func() {
			runCtx, cancel := context.WithCancel(ctx)
			done := make(chan error, 1)
			go func() { done <- sched.Run(runCtx) }()

			Eventually(func() int {
				tokenCalls, _ := ff.calls()
				return tokenCalls
			}).Should(Equal(1))
			Eventually(func() int { return len(events.ofType(metrics.EventTickCompleted)) }).Should(Equal(1))

			clk.Add(30 * time.Second)
			Eventually(func() int { return len(events.ofType(metrics.EventTickCompleted)) }).Should(Equal(2))

			cancel()
			Eventually(done).Should(Receive(BeNil()))
		})

		It("should return the fatal error to the supervisor", func() {
			Expect(reg.Close()).To(Succeed())

			err := sched.Run(ctx)
			var fatal *scheduler.FatalWorkerError
			Expect(errors.As(err, &fatal)).To(BeTrue())
		})
	})
})
