// Command brd-server runs the bounded request dispatcher: a fixed-capacity
// queue, one acceptor, N workers, and a pluggable overload policy (spec.md
// §6.2).
package main

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/nahelawi/sysresource/brd"
	"github.com/nahelawi/sysresource/internal/httpserve"
	"github.com/nahelawi/sysresource/internal/logging"
)

// usage mirrors the original C getargs() contract: four positional
// arguments, exit code 1 on a malformed invocation (spec.md §6.2).
func usage() {
	fmt.Fprintf(os.Stderr, "usage: %s [-v] [-root DIR] [-cpu-affinity LIST] <port> <threads> <queue_capacity> <policy>\n", os.Args[0])
	fmt.Fprintf(os.Stderr, "  policy one of: block, dt, dh, random\n")
}

// parseCPUAffinity parses a comma-separated list of CPU indices. An empty
// string means no pinning.
func parseCPUAffinity(s string) ([]int, error) {
	if s == "" {
		return nil, nil
	}
	fields := strings.Split(s, ",")
	cpus := make([]int, 0, len(fields))
	for _, f := range fields {
		cpu, err := strconv.Atoi(strings.TrimSpace(f))
		if err != nil || cpu < 0 {
			return nil, fmt.Errorf("invalid CPU index %q", f)
		}
		cpus = append(cpus, cpu)
	}
	return cpus, nil
}

func main() {
	verbose := flag.Bool("v", false, "verbose logging")
	root := flag.String("root", "examples/static-site", "document root served by the default handler")
	cpuAffinity := flag.String("cpu-affinity", "", "comma-separated CPU indices to pin workers to, round-robin (e.g. 0,1,2,3)")
	flag.Usage = usage
	flag.Parse()

	args := flag.Args()
	if len(args) != 4 {
		usage()
		os.Exit(1)
	}

	port, err := strconv.Atoi(args[0])
	if err != nil || port <= 0 {
		fmt.Fprintf(os.Stderr, "brd-server: invalid port %q\n", args[0])
		os.Exit(1)
	}
	threads, err := strconv.Atoi(args[1])
	if err != nil || threads <= 0 {
		fmt.Fprintf(os.Stderr, "brd-server: invalid thread count %q\n", args[1])
		os.Exit(1)
	}
	capacity, err := strconv.Atoi(args[2])
	if err != nil || capacity <= 0 {
		fmt.Fprintf(os.Stderr, "brd-server: invalid queue capacity %q\n", args[2])
		os.Exit(1)
	}
	policy := brd.PolicyName(args[3])
	switch policy {
	case brd.PolicyBlock, brd.PolicyDropTail, brd.PolicyDropHead, brd.PolicyDropRandom:
	default:
		fmt.Fprintf(os.Stderr, "brd-server: invalid policy %q\n", args[3])
		os.Exit(1)
	}

	logConfig := logging.DefaultConfig()
	if *verbose {
		logConfig.Level = logging.LevelDebug
	}
	logger := logging.NewLogger(logConfig)
	logging.SetDefault(logger)

	docRoot, err := filepath.Abs(*root)
	if err != nil {
		logger.Error("resolving document root", "error", err)
		os.Exit(1)
	}

	affinity, err := parseCPUAffinity(*cpuAffinity)
	if err != nil {
		logger.Error("parsing -cpu-affinity", "error", err)
		os.Exit(1)
	}

	server, err := brd.New(brd.Options{
		Addr:          fmt.Sprintf(":%d", port),
		NumWorkers:    threads,
		QueueCapacity: capacity,
		Policy:        policy,
		Handler:       httpserve.NewHandler(docRoot, logger),
		CPUAffinity:   affinity,
		Logger:        logger,
	})
	if err != nil {
		logger.Error("constructing server", "error", err)
		os.Exit(1)
	}

	logger.Info("starting brd-server", "port", port, "threads", threads, "queue_capacity", capacity, "policy", string(policy), "root", docRoot)

	if err := server.ListenAndServe(); err != nil {
		logger.Error("serve failed", "error", err)
		os.Exit(1)
	}
}
