// hpo-report posts progress of the current trial to the sweeps service.
//
//	hpo-report [-best score] [step=value ...]
//
// The report URL and token come from HPO_REPORT_URL and HPO_TOKEN, which every
// launched trial receives.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/animus-labs/animus-hpo/internal/domain"
	"github.com/animus-labs/animus-hpo/internal/reportclient"
)

func main() {
	var best *float64
	flag.Func("best", "best model score of the trial", func(v string) error {
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return err
		}
		best = &f
		return nil
	})
	flag.Parse()

	reports, err := parseReports(flag.Args())
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	cfg, err := reportclient.ConfigFromEnv()
	if err != nil {
		fmt.Fprintln(os.Stderr, "invalid env:", err)
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	client, err := reportclient.New(ctx, cfg)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	n, err := client.Send(ctx, reports, best)
	if err != nil {
		fmt.Fprintln(os.Stderr, "report failed:", err)
		os.Exit(1)
	}
	fmt.Printf("accepted %d report(s)\n", n)
}

// parseReports reads "step=value" pairs.
func parseReports(args []string) ([]domain.Report, error) {
	out := make([]domain.Report, 0, len(args))
	for _, arg := range args {
		stepRaw, valueRaw, ok := strings.Cut(arg, "=")
		if !ok {
			return nil, fmt.Errorf("report %q: want step=value", arg)
		}
		step, err := strconv.Atoi(strings.TrimSpace(stepRaw))
		if err != nil || step < 0 {
			return nil, fmt.Errorf("report %q: invalid step", arg)
		}
		value, err := strconv.ParseFloat(strings.TrimSpace(valueRaw), 64)
		if err != nil {
			return nil, fmt.Errorf("report %q: invalid value", arg)
		}
		out = append(out, domain.Report{Step: step, Value: value})
	}
	return out, nil
}
