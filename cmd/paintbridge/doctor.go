package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/basket/paintbridge/internal/config"
	"github.com/basket/paintbridge/internal/doctor"
)

func runDoctorCommand(ctx context.Context, args []string) int {
	jsonOutput := false
	for _, arg := range args {
		if arg == "-json" || arg == "--json" {
			jsonOutput = true
		}
	}

	cfg, err := config.Load()
	if err != nil {
		// Keep going; the report shows what is wrong.
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
	}

	diag := doctor.Run(ctx, &cfg, Version)

	if jsonOutput {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(diag); err != nil {
			fmt.Fprintf(os.Stderr, "Error encoding json: %v\n", err)
			return 1
		}
		if diag.Failed() > 0 {
			return 1
		}
		return 0
	}

	fmt.Printf("paintbridge doctor (%s)\n", diag.Timestamp.Format(time.RFC3339))
	fmt.Printf("System: %s/%s (%s) %s\n", diag.System.OS, diag.System.Arch, diag.System.Go, diag.System.Version)
	fmt.Println("---")
	for _, res := range diag.Results {
		fmt.Printf("%-4s %-12s: %s\n", res.Status, res.Name, res.Message)
		if res.Detail != "" {
			fmt.Printf("     %s\n", res.Detail)
		}
	}
	if diag.Failed() > 0 {
		return 1
	}
	return 0
}
