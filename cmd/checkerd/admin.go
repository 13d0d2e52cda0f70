package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/cloudkeep/checkerd/internal/coordinator"
)

// adminServer exposes a minimal status page on the replica's admin address:
// it identifies the replica and reports the coordinator's current backlog so
// an operator can curl it directly instead of going through the metrics
// scrape cycle.
type adminServer struct {
	addr     string
	owner    string
	coord    *coordinator.Coordinator
	server   *http.Server
	listener net.Listener
}

func newAdminServer(addr, owner string, coord *coordinator.Coordinator) *adminServer {
	return &adminServer{addr: addr, owner: owner, coord: coord}
}

type adminStatus struct {
	OwnerEndpoint string `json:"ownerEndpoint"`
	Version       string `json:"version"`
	PendingQueue  int    `json:"pendingQueueDepth"`
	WorkingSet    int    `json:"workingSetSize"`
}

func (s *adminServer) Start() error {
	mux := http.NewServeMux()
	mux.HandleFunc("/status", s.handleStatus)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("admin: listen on %s: %w", s.addr, err)
	}
	s.listener = ln
	s.server = &http.Server{Handler: mux, ReadTimeout: 5 * time.Second, WriteTimeout: 10 * time.Second}

	go s.server.Serve(ln)
	return nil
}

func (s *adminServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	depth, _ := s.coord.PendingQueueDepth(ctx)
	working, _ := s.coord.WorkingSetSize(ctx)

	status := adminStatus{
		OwnerEndpoint: s.owner,
		Version:       version,
		PendingQueue:  depth,
		WorkingSet:    working,
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(status)
}

func (s *adminServer) Close() error {
	if s.server == nil {
		return nil
	}
	return s.server.Close()
}

// runAdmin handles the CLI-side "checkerd admin" subcommands, distinct from
// the HTTP adminServer started by "checkerd run": these talk to the
// metadata store directly rather than to a running replica's status page.
func runAdmin(args []string) {
	if len(args) < 1 {
		printAdminUsage()
		os.Exit(1)
	}

	switch args[0] {
	case "status":
		runAdminStatus(args[1:])
	case "help", "-h", "--help":
		printAdminUsage()
	default:
		fmt.Fprintf(os.Stderr, "unknown admin command: %s\n\n", args[0])
		printAdminUsage()
		os.Exit(1)
	}
}

func printAdminUsage() {
	fmt.Println(`Usage: checkerd admin <command> [options]

Admin commands for inspecting a checkerd deployment.

Commands:
  status   Show metadata store connectivity and instance count

Run 'checkerd admin <command> --help' for more information.`)
}

func runAdminStatus(args []string) {
	fs := flag.NewFlagSet("admin status", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to configuration file")
	jsonOutput := fs.Bool("json", false, "Output in JSON format")

	fs.Usage = func() {
		fmt.Println(`Usage: checkerd admin status [options]

Show metadata store connectivity and instance count.

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

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	metaStore, err := connectMetadataStore(ctx, cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	defer metaStore.Close()

	infos, err := listInstances(metaStore)(ctx)
	result := struct {
		MetadataStore string `json:"metadataStore"`
		InstanceCount int    `json:"instanceCount"`
		Error         string `json:"error,omitempty"`
	}{MetadataStore: "ok", InstanceCount: len(infos)}
	if err != nil {
		result.MetadataStore = "error"
		result.Error = err.Error()
	}

	if *jsonOutput {
		data, _ := json.MarshalIndent(result, "", "  ")
		fmt.Println(string(data))
		return
	}

	fmt.Println("Checker Status")
	fmt.Println("==============")
	fmt.Printf("Metadata Store: %s\n", result.MetadataStore)
	fmt.Printf("Instances:      %d\n", result.InstanceCount)
	if result.Error != "" {
		fmt.Printf("Error:          %s\n", result.Error)
	}
}
