package scheduler_test

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"time"

	"github.com/benbjohnson/clock"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/angeloszaimis/proxypool/internal/prober"
	"github.com/angeloszaimis/proxypool/internal/registry"
	"github.com/angeloszaimis/proxypool/internal/scheduler"
)

var _ = Describe("Recovery with deep checks against live proxies", func() {
	const (
		proxies       = 8
		deepAttempts  = 3
		deepInterval  = 200 * time.Millisecond
		oneDeepCheck  = (deepAttempts - 1) * deepInterval
		serialRecover = proxies * oneDeepCheck
	)

	var (
		ctx     context.Context
		clk     *clock.Mock
		reg     *registry.Registry
		p       *prober.Prober
		servers []*httptest.Server
		urls    []string
		sched   *scheduler.Scheduler
	)

	BeforeEach(func() {
		ctx = context.Background()
		clk = clock.NewMock()
		logger := slog.New(slog.NewTextHandler(io.Discard, nil))

		var err error
		reg, err = registry.New(registry.Config{
			Path:         filepath.Join(GinkgoT().TempDir(), "proxies.db"),
			MaxFailures:  5,
			RetryBackoff: time.Millisecond,
		}, clk, nil, logger)
		Expect(err).NotTo(HaveOccurred())

		p, err = prober.New(prober.Config{
			TargetURL:         "http://probe.target.test/reveal",
			Timeout:           2 * time.Second,
			Concurrency:       proxies,
			PoolSize:          100,
			PerHostLimit:      10,
			DeepCheckInterval: deepInterval,
		}, logger)
		Expect(err).NotTo(HaveOccurred())

		servers = nil
		urls = nil
		for i := 0; i < proxies; i++ {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				io.WriteString(w, `{"ok":true}`)
			}))
			servers = append(servers, srv)

			u, err := registry.NormalizeURL(srv.URL)
			Expect(err).NotTo(HaveOccurred())
			urls = append(urls, u)

			for j := 0; j < 2; j++ {
				_, err := reg.Upsert(ctx, u, "", registry.Outcome{Success: false})
				Expect(err).NotTo(HaveOccurred())
			}
		}
		Expect(reg.SaveChangeToken(ctx, "t1")).To(Succeed())

		sched = scheduler.New(logger, scheduler.Config{
			MaxFailures:            5,
			Concurrency:            proxies,
			DeepCheckAttempts:      deepAttempts,
			DeepCheckMinConfidence: 0.6,
		}, reg, p, &fakeFeed{token: "t1"}, clk, nil)
	})

	AfterEach(func() {
		for _, srv := range servers {
			srv.Close()
		}
		p.Close()
		_ = reg.Close()
	})

	It("should confirm recovering proxies in parallel", func() {
		start := time.Now()
		report, err := sched.Tick(ctx, clk.Now())
		elapsed := time.Since(start)

		Expect(err).NotTo(HaveOccurred())
		Expect(report.Passes).To(ContainElement(scheduler.PassRecovery))
		Expect(elapsed).To(BeNumerically(">=", oneDeepCheck))
		Expect(elapsed).To(BeNumerically("<", serialRecover/2))

		for _, u := range urls {
			rec, err := reg.Get(ctx, u)
			Expect(err).NotTo(HaveOccurred())
			Expect(rec.Working).To(BeTrue())
			Expect(rec.FailedCount).To(BeZero())
		}
	})
})
