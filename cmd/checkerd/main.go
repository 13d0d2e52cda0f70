package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/cloudkeep/checkerd/internal/checker"
	"github.com/cloudkeep/checkerd/internal/config"
	"github.com/cloudkeep/checkerd/internal/coordinator"
	"github.com/cloudkeep/checkerd/internal/instance"
	"github.com/cloudkeep/checkerd/internal/logging"
	"github.com/cloudkeep/checkerd/internal/metadata"
	"github.com/cloudkeep/checkerd/internal/metadata/keys"
	"github.com/cloudkeep/checkerd/internal/metadata/oxia"
	"github.com/cloudkeep/checkerd/internal/metrics"
	"github.com/cloudkeep/checkerd/internal/scanner"
	"github.com/cloudkeep/checkerd/internal/vault"
	"github.com/google/uuid"
)

var (
	version   = "dev"
	buildTime = "unknown"
	gitCommit = "unknown"
)

func main() {
	if len(os.Args) > 1 && (os.Args[1] == "--version" || os.Args[1] == "-version") {
		fmt.Printf("checkerd version %s (built %s)\n", version, buildTime)
		os.Exit(0)
	}

	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "run":
		runDaemon(os.Args[2:])
	case "check-once":
		runCheckOnce(os.Args[2:])
	case "admin":
		runAdmin(os.Args[2:])
	case "version":
		fmt.Printf("checkerd version %s (built %s, commit %s)\n", version, buildTime, gitCommit)
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println(`Usage: checkerd <command> [options]

Commands:
  run          Start the checker daemon (scanner + coordinator + lease renewal + lifecycle inspection)
  check-once   Run a single forward (and optionally inverted) check pass against one instance and exit
  admin        Administrative commands (status)
  version      Print version information

Run 'checkerd <command> --help' for more information on a command.`)
}

// connectMetadataStore builds the Oxia-backed MetadataStore shared by every
// subcommand that talks to the control plane.
func connectMetadataStore(ctx context.Context, cfg *config.Config) (metadata.MetadataStore, error) {
	store, err := oxia.New(ctx, oxia.Config{
		ServiceAddress: cfg.Metadata.OxiaEndpoint,
		Namespace:      cfg.Metadata.Namespace,
		RequestTimeout: 30 * time.Second,
		SessionTimeout: 15 * time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("connect to oxia at %s: %w", cfg.Metadata.OxiaEndpoint, err)
	}
	return metadata.NewInstrumentedStore(store, metrics.NewOxiaMetrics()), nil
}

// ownerEndpoint resolves this replica's identity for lease ownership and
// admin self-identification: the configured value, or failing that, the
// admin listen address as host:port, mirroring the reference system's
// ip_port_ replica identity. When that address has no host part (such as
// the default ":8432"), a random UUID takes the host's place.
func ownerEndpoint(cfg *config.Config) string {
	if cfg.Replica.OwnerEndpoint != "" {
		return cfg.Replica.OwnerEndpoint
	}
	host, port, err := net.SplitHostPort(cfg.Replica.AdminAddr)
	if err != nil || host == "" {
		return fmt.Sprintf("%s:%s", uuid.New().String(), port)
	}
	return fmt.Sprintf("%s:%s", host, port)
}

func runDaemon(args []string) {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to configuration file")
	ownerOverride := fs.String("owner-endpoint", "", "Override this replica's lease owner identity")

	fs.Usage = func() {
		fmt.Println(`Usage: checkerd run [options]

Start the checker daemon: periodically scans instances, checks each one's
rowset metadata against its storage vaults, and alarms on stale checks.

Options:`)
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}

	cfg, err := loadConfigOrDefault(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	if *ownerOverride != "" {
		cfg.Replica.OwnerEndpoint = *ownerOverride
	}

	log := logging.New(logging.Config{
		Level:  logging.ParseLevel(cfg.Observability.LogLevel),
		Format: logging.ParseFormat(cfg.Observability.LogFormat),
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	metaStore, err := connectMetadataStore(ctx, cfg)
	if err != nil {
		log.Errorf("failed to connect metadata store", map[string]any{"error": err.Error()})
		os.Exit(1)
	}
	defer metaStore.Close()

	checkerMetrics := metrics.NewCheckerMetrics()
	backlogMetrics := metrics.NewBacklogMetrics()
	objStoreMetrics := metrics.NewObjectStoreMetrics()

	owner := ownerEndpoint(cfg)
	log.Infof("starting checkerd", map[string]any{"ownerEndpoint": owner, "version": version})

	coord := coordinator.New(coordinator.Config{
		OwnerEndpoint:         owner,
		Concurrency:           cfg.Checker.RecycleConcurrency,
		CheckObjectIntervalMs: cfg.Checker.CheckObjectIntervalSeconds * 1000,
		LeaseExpiredMs:        cfg.Checker.RecycleJobLeaseExpiredMs,
		ReservedBufferDays:    cfg.Checker.ReservedBufferDays,
		EnableInvertedCheck:   cfg.Checker.EnableInvertedCheck,
	}, metaStore, log, checkerMetrics, objStoreMetrics)
	coord.Start()

	filter := scanner.NewAllowDenyFilter(cfg.Checker.RecycleWhitelist, cfg.Checker.RecycleBlacklist)
	scan := scanner.New(metaStore, coord, filter, time.Duration(cfg.Checker.ScanInstancesIntervalSeconds)*time.Second, log)
	scan.Start()

	statsScanner := metrics.NewCheckerStatsScanner(backlogMetrics, coord, 30*time.Second)
	statsScanner.Start()

	inspector := checker.NewLifecycleInspector(metaStore, log, checkerMetrics, cfg.Checker.ReservedBufferDays)
	registryFor := func(ctx context.Context, info instance.Info) (*vault.Registry, error) {
		return vault.Build(ctx, metaStore, info.InstanceID, info.ObjInfo, objStoreMetrics)
	}
	coord.StartLifecycleInspection(inspector, listInstances(metaStore), registryFor, time.Hour)

	metricsServer := metrics.NewServer(cfg.Observability.MetricsAddr)
	go func() {
		if err := metricsServer.Start(); err != nil {
			log.Errorf("metrics server failed", map[string]any{"error": err.Error()})
		}
	}()

	admin := newAdminServer(cfg.Replica.AdminAddr, owner, coord)
	go func() {
		if err := admin.Start(); err != nil {
			log.Errorf("admin server failed", map[string]any{"error": err.Error()})
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	log.Infof("received shutdown signal", map[string]any{"signal": sig.String()})

	scan.Stop()
	statsScanner.Stop()
	coord.StopLifecycleInspection()
	coord.Stop()
	_ = admin.Close()
	_ = metricsServer.Close()

	log.Info("checkerd shutdown complete")
}

func runCheckOnce(args []string) {
	fs := flag.NewFlagSet("check-once", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to configuration file")
	inverted := fs.Bool("inverted", false, "Also run the inverted (object store to KV) reconciliation pass")
	jsonOutput := fs.Bool("json", false, "Output the check report as JSON")

	fs.Usage = func() {
		fmt.Println(`Usage: checkerd check-once [options] <instance-id>

Run a single check pass against one instance and print the report.

Options:`)
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}
	if fs.NArg() < 1 {
		fmt.Fprintln(os.Stderr, "error: instance id required")
		fs.Usage()
		os.Exit(1)
	}
	instanceID := fs.Arg(0)

	cfg, err := loadConfigOrDefault(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	log := logging.New(logging.Config{
		Level:  logging.ParseLevel(cfg.Observability.LogLevel),
		Format: logging.ParseFormat(cfg.Observability.LogFormat),
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	metaStore, err := connectMetadataStore(ctx, cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	defer metaStore.Close()

	result, err := metaStore.Get(ctx, keys.InstanceInfoKeyPath(instanceID))
	if err != nil {
		fmt.Fprintf(os.Stderr, "error reading instance: %v\n", err)
		os.Exit(1)
	}
	if !result.Exists {
		fmt.Fprintf(os.Stderr, "error: instance %q not found\n", instanceID)
		os.Exit(1)
	}
	var info instance.Info
	if err := json.Unmarshal(result.Value, &info); err != nil {
		fmt.Fprintf(os.Stderr, "error: malformed instance record: %v\n", err)
		os.Exit(1)
	}

	ic := checker.New(metaStore, instanceID, log, metrics.NewObjectStoreMetrics())
	if err := ic.Init(ctx, info.ObjInfo); err != nil {
		fmt.Fprintf(os.Stderr, "error initializing checker: %v\n", err)
		os.Exit(1)
	}

	report, err := ic.DoCheck(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error running forward check: %v\n", err)
		os.Exit(1)
	}

	if *inverted {
		invReport, err := ic.DoInvertedCheck(ctx)
		if err != nil {
			fmt.Fprintf(os.Stderr, "error running inverted check: %v\n", err)
			os.Exit(1)
		}
		report.InvertedResult = invReport.InvertedResult
		report.Orphans = invReport.Orphans
	}

	if *jsonOutput {
		data, _ := json.MarshalIndent(report, "", "  ")
		fmt.Println(string(data))
		return
	}

	fmt.Printf("Instance: %s\n", instanceID)
	fmt.Printf("  Forward result:  %s\n", report.ForwardResult)
	if *inverted {
		fmt.Printf("  Inverted result: %s\n", report.InvertedResult)
	}
	fmt.Printf("  Scanned:         %d (%d with segments)\n", report.NumScanned, report.NumScannedWithSegment)
	fmt.Printf("  Check failures:  %d\n", report.NumCheckFailed)
	fmt.Printf("  Volume bytes:    %d\n", report.InstanceVolumeBytes)
	if len(report.Missing) > 0 {
		fmt.Println("  Missing objects:")
		for _, m := range report.Missing {
			fmt.Printf("    - %s (rowset key %s)\n", m.Path, m.Key)
		}
	}
	if len(report.Orphans) > 0 {
		fmt.Println("  Orphan objects:")
		for _, o := range report.Orphans {
			fmt.Printf("    - %s\n", o.Path)
		}
	}

	if report.ForwardResult != checker.ResultOK || (*inverted && report.InvertedResult != checker.ResultOK) {
		os.Exit(1)
	}
}

func loadConfigOrDefault(path string) (*config.Config, error) {
	if path != "" {
		return config.Load(path)
	}
	cfg := config.Default()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// listInstances returns a closure enumerating every non-deleted instance,
// used by the lifecycle inspection service goroutine.
func listInstances(meta metadata.MetadataStore) func(ctx context.Context) ([]instance.Info, error) {
	return func(ctx context.Context) ([]instance.Info, error) {
		var infos []instance.Info
		begin := keys.InstanceInfoPrefix()
		end := begin + "\xff"
		start := begin
		const pageSize = 256
		for {
			page, err := meta.List(ctx, start, end, pageSize)
			if err != nil {
				return nil, err
			}
			if len(page) == 0 {
				return infos, nil
			}
			for _, kv := range page {
				if !strings.HasSuffix(kv.Key, "/info") {
					continue
				}
				var info instance.Info
				if err := json.Unmarshal(kv.Value, &info); err != nil {
					continue
				}
				if info.IsDeleted() {
					continue
				}
				infos = append(infos, info)
			}
			if len(page) < pageSize {
				return infos, nil
			}
			start = page[len(page)-1].Key + "\x00"
		}
	}
}
