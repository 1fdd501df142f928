package config_test

import (
	"os"
	"path/filepath"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/angeloszaimis/proxypool/config"
)

var _ = Describe("Config", func() {
	var (
		tempDir string
		origDir string
	)

	BeforeEach(func() {
		var err error
		origDir, err = os.Getwd()
		Expect(err).NotTo(HaveOccurred())

		tempDir, err = os.MkdirTemp("", "config-test-*")
		Expect(err).NotTo(HaveOccurred())

		Expect(os.Chdir(tempDir)).To(Succeed())
	})

	AfterEach(func() {
		Expect(os.Chdir(origDir)).To(Succeed())
		os.RemoveAll(tempDir)
		os.Unsetenv("SCHEDULER_TICK_INTERVAL")
		os.Unsetenv("SCHEDULER_MAX_FAILURES")
		os.Unsetenv("DATABASE_PATH")
		os.Unsetenv("SELECTION_STRATEGY")
	})

	writeConfig := func(content string) {
		err := os.WriteFile(filepath.Join(tempDir, "config.yaml"), []byte(content), 0644)
		Expect(err).NotTo(HaveOccurred())
	}

	Describe("Load", func() {
		Context("with valid config file", func() {
			BeforeEach(func() {
				writeConfig(`
server:
  address: ":9090"
  environment: "prod"

logging:
  level: "warn"

database:
  path: "pool.db"
  retries: 1
  retry_backoff: "10ms"

prober:
  target_url: "http://probe.example.com/check"
  timeout: "3s"
  concurrency: 50

scheduler:
  tick_interval: "15s"
  meta_interval: "45s"
  revalidation_interval: "10m"
  max_failures: 3

selection:
  strategy: "random"
`)
			})

			It("should load configuration successfully", func() {
				cfg, err := config.Load()
				Expect(err).NotTo(HaveOccurred())
				Expect(cfg).NotTo(BeNil())
				Expect(cfg.Server.Address).To(Equal(":9090"))
				Expect(cfg.Server.Environment).To(Equal(config.EnvProd))
				Expect(cfg.Logging.Level).To(Equal(config.LogLevelWarn))
				Expect(cfg.Selection.Strategy).To(Equal(config.StrategyRandom))
			})

			It("should keep defaults for sections the file omits", func() {
				cfg, err := config.Load()
				Expect(err).NotTo(HaveOccurred())
				Expect(cfg.Feed.BreakerThreshold).To(Equal(3))
				Expect(cfg.Prober.PoolSize).To(Equal(2000))
				Expect(cfg.Metrics.BufferSize).To(Equal(1000))
			})

			It("should convert sections into component configs", func() {
				cfg, err := config.Load()
				Expect(err).NotTo(HaveOccurred())

				rc := cfg.RegistryConfig()
				Expect(rc.Path).To(Equal("pool.db"))
				Expect(rc.Retries).To(Equal(1))
				Expect(rc.RetryBackoff).To(Equal(10 * time.Millisecond))
				Expect(rc.MaxFailures).To(Equal(3))

				pc := cfg.ProberConfig()
				Expect(pc.TargetURL).To(Equal("http://probe.example.com/check"))
				Expect(pc.Timeout).To(Equal(3 * time.Second))
				Expect(pc.Concurrency).To(Equal(50))

				sc := cfg.SchedulerConfig()
				Expect(sc.TickInterval).To(Equal(15 * time.Second))
				Expect(sc.MetaInterval).To(Equal(45 * time.Second))
				Expect(sc.RevalidationInterval).To(Equal(10 * time.Minute))
				Expect(sc.MaxFailures).To(Equal(3))
				Expect(sc.Concurrency).To(Equal(50))

				fc := cfg.FeedConfig()
				Expect(fc.MetaURL).To(ContainSubstring("meta/data.json"))
				Expect(fc.BreakerTimeout).To(Equal(2 * time.Minute))
			})
		})

		Context("without a config file", func() {
			It("should use defaults", func() {
				cfg, err := config.Load()
				Expect(err).NotTo(HaveOccurred())
				Expect(cfg.Server.Address).To(Equal(":8080"))
				Expect(cfg.Scheduler.TickInterval).To(Equal("30s"))
				Expect(cfg.Scheduler.MetaInterval).To(Equal("60s"))
				Expect(cfg.Scheduler.RevalidationInterval).To(Equal("20m"))
				Expect(cfg.Scheduler.MaxFailures).To(Equal(5))
				Expect(cfg.Scheduler.DeepCheckAttempts).To(BeZero())
				Expect(cfg.Prober.Timeout).To(Equal("5s"))
				Expect(cfg.Prober.Concurrency).To(Equal(500))
				Expect(cfg.Selection.Strategy).To(Equal(config.StrategyFastestBiased))
				Expect(cfg.Selection.Bias).To(Equal(0.7))
			})
		})

		Context("with environment variables", func() {
			It("should override file values", func() {
				writeConfig(`
scheduler:
  tick_interval: "15s"
`)
				os.Setenv("SCHEDULER_TICK_INTERVAL", "5s")
				os.Setenv("SCHEDULER_MAX_FAILURES", "7")

				cfg, err := config.Load()
				Expect(err).NotTo(HaveOccurred())
				Expect(cfg.Scheduler.TickInterval).To(Equal("5s"))
				Expect(cfg.Scheduler.MaxFailures).To(Equal(7))
			})

			It("should read values from a .env file", func() {
				err := os.WriteFile(filepath.Join(tempDir, ".env"), []byte("DATABASE_PATH=from-dotenv.db\n"), 0644)
				Expect(err).NotTo(HaveOccurred())

				cfg, err := config.Load()
				Expect(err).NotTo(HaveOccurred())
				Expect(cfg.Database.Path).To(Equal("from-dotenv.db"))
			})

			It("should reject an unknown strategy", func() {
				os.Setenv("SELECTION_STRATEGY", "round-robin")

				_, err := config.Load()
				Expect(err).To(HaveOccurred())
			})
		})

		Context("with invalid values", func() {
			It("should reject a malformed duration", func() {
				writeConfig(`
scheduler:
  tick_interval: "soon"
`)
				_, err := config.Load()
				Expect(err).To(HaveOccurred())
				Expect(err.Error()).To(ContainSubstring("must be a valid duration"))
			})

			It("should reject a non-http target url", func() {
				writeConfig(`
prober:
  target_url: "ftp://probe.example.com"
`)
				_, err := config.Load()
				Expect(err).To(HaveOccurred())
			})

			It("should reject an unknown environment", func() {
				writeConfig(`
server:
  environment: "qa"
`)
				_, err := config.Load()
				Expect(err).To(HaveOccurred())
			})

			It("should reject a zero failure threshold", func() {
				writeConfig(`
scheduler:
  max_failures: 0
`)
				_, err := config.Load()
				Expect(err).To(HaveOccurred())
			})
		})
	})
})
