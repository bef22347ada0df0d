package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/basket/scout/internal/config"
	"github.com/basket/scout/internal/doctor"
)

func runDoctorCommand(ctx context.Context, args []string) int {
	fs := flag.NewFlagSet("doctor", flag.ContinueOnError)
	jsonOutput := fs.Bool("json", false, "print the report as JSON")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config load: %v\n", err)
		return 1
	}

	diag := doctor.Run(ctx, &cfg, Version)

	if *jsonOutput {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(diag); err != nil {
			fmt.Fprintf(os.Stderr, "encode: %v\n", err)
			return 1
		}
	} else {
		fmt.Printf("scout doctor (%s)\n", diag.Timestamp.Format(time.RFC3339))
		fmt.Printf("system: %s/%s (%s)\n", diag.System.OS, diag.System.Arch, diag.System.Go)
		fmt.Println("---")
		for _, res := range diag.Results {
			fmt.Printf("[%s] %-13s %s\n", res.Status, res.Name, res.Message)
			if res.Detail != "" {
				fmt.Printf("       %s\n", res.Detail)
			}
		}
	}

	if diag.Failed() {
		return 1
	}
	return 0
}
