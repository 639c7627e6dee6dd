package cmd

import (
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/section-sim/section-sim/export"
	sim "github.com/section-sim/section-sim/sim"
)

var (
	scenarioPath  string  // Path to the YAML scenario file
	maxTime       float64 // Simulated horizon (minutes)
	timeStep      float64 // Minutes per tick
	snapshotEvery float64 // Observer cadence (minutes)
	logLevel      string  // Log verbosity level
	safetyPolicy  string  // advisory or hard-stop
	metricsAddr   string  // Address for the Prometheus endpoint ("" = off)
	natsURL       string  // NATS server URL ("" = off)
	natsSubject   string  // Subject for snapshot publishing
)

// rootCmd is the base command for the CLI
var rootCmd = &cobra.Command{
	Use:   "section-sim",
	Short: "Conflict-aware train planner and discrete-time section simulator",
}

// runCmd loads a scenario, plans it, validates the plan and replays it.
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run a scenario through the section simulator",
	Run: func(cmd *cobra.Command, args []string) {
		level, err := logrus.ParseLevel(logLevel)
		if err != nil {
			logrus.Fatalf("Invalid log level: %s", logLevel)
		}
		logrus.SetLevel(level)

		if scenarioPath == "" {
			logrus.Fatalf("No scenario file provided. Exiting.")
		}
		if safetyPolicy != string(sim.PolicyAdvisory) && safetyPolicy != string(sim.PolicyHardStop) {
			logrus.Fatalf("Unknown safety policy %q", safetyPolicy)
		}
		section, trains, disruptions, err := LoadScenario(scenarioPath)
		if err != nil {
			logrus.Fatalf("Scenario rejected: %v", err)
		}
		logrus.Infof("Loaded section %s: %d blocks, %d trains, %d disruptions",
			section.ID, len(section.Blocks), len(trains), len(disruptions))

		// Pre-flight plan + validation report before committing to a run.
		schedule, err := sim.NewOptimizer(section).Optimize(trains, 0)
		if err != nil {
			logrus.Fatalf("Planning failed: %v", err)
		}
		isSafe, violations := sim.NewValidator(section).Validate(schedule, trains)
		for _, v := range violations {
			if v.Severity == sim.ViolationCritical {
				logrus.Errorf("%s: %s", v.Kind, v.Message)
			} else {
				logrus.Warnf("%s: %s", v.Kind, v.Message)
			}
		}
		if isSafe {
			logrus.Infof("Plan is safe: %d warning(s)", len(violations))
		}

		var observers sim.MultiObserver
		var collector *export.Collector
		if metricsAddr != "" {
			collector = export.NewCollector()
			observers = append(observers, collector)
			mux := http.NewServeMux()
			mux.Handle("/metrics", collector.Handler())
			go func() {
				if err := http.ListenAndServe(metricsAddr, mux); err != nil {
					logrus.Errorf("metrics server: %v", err)
				}
			}()
			logrus.Infof("Serving metrics on %s/metrics", metricsAddr)
		}
		if natsURL != "" {
			var pm export.PublisherMetrics
			if collector != nil {
				pm = collector
			}
			pub, err := export.NewPublisher(natsURL, natsSubject, pm)
			if err != nil {
				logrus.Fatalf("NATS connect failed: %v", err)
			}
			defer pub.Close()
			observers = append(observers, pub)
		}
		var obs sim.Observer
		if len(observers) > 0 {
			obs = observers
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		engine := sim.NewSimulator(section, sim.Config{
			TimeStepMin:      timeStep,
			SnapshotEveryMin: snapshotEvery,
			SafetyPolicy:     sim.SafetyPolicy(safetyPolicy),
		})
		_, kpis, events, err := engine.Simulate(ctx, trains, maxTime, disruptions, obs)
		if err != nil {
			logrus.Fatalf("Simulation failed: %v", err)
		}
		if collector != nil {
			collector.Final(kpis)
		}

		kpis.Print()
		logrus.Infof("Run produced %d events", len(events))
	},
}

// Execute runs the CLI root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// init sets up CLI flags and subcommands
func init() {
	runCmd.Flags().StringVar(&scenarioPath, "scenario", "", "Path to YAML scenario file (required)")
	runCmd.Flags().Float64Var(&maxTime, "max-time", 1440, "Simulated horizon in minutes")
	runCmd.Flags().Float64Var(&timeStep, "time-step", 0.5, "Simulated minutes per tick")
	runCmd.Flags().Float64Var(&snapshotEvery, "snapshot-every", 10, "Observer snapshot cadence in minutes")
	runCmd.Flags().StringVar(&logLevel, "log", "info", "Log level (trace, debug, info, warn, error, fatal, panic)")
	runCmd.Flags().StringVar(&safetyPolicy, "safety-policy", string(sim.PolicyAdvisory), "Safety policy (advisory, hard-stop)")
	runCmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address (e.g. :9090)")
	runCmd.Flags().StringVar(&natsURL, "nats-url", "", "Publish snapshots to this NATS server")
	runCmd.Flags().StringVar(&natsSubject, "nats-subject", "sectionsim.snapshots", "NATS subject for snapshots")

	rootCmd.AddCommand(runCmd)
}
