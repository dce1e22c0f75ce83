package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/matheus3301/socialchat/internal/app"
	"github.com/matheus3301/socialchat/internal/lock"
	"github.com/matheus3301/socialchat/internal/profile"
	"github.com/spf13/cobra"
	"google.golang.org/protobuf/encoding/protojson"
)

var statusJSON bool

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the state of a running `chat open` for this profile",
	Args:  cobra.NoArgs,
	RunE:  runStatus,
}

func init() {
	statusCmd.Flags().BoolVar(&statusJSON, "json", false, "output in JSON format")
}

func runStatus(cmd *cobra.Command, _ []string) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), 2*time.Second)
	defer cancel()

	results, err := app.Probe(ctx, profile.SocketPath(profileName))
	if err != nil {
		if pid := lock.Holder(profile.Dir(profileName)); pid != 0 {
			return fmt.Errorf("profile %q is held by PID %d but its health socket does not answer: %w", profileName, pid, err)
		}
		fmt.Printf("Profile %q: no client running.\n", profileName)
		return nil
	}

	if statusJSON {
		return outputJSON(results)
	}
	fmt.Printf("Profile: %s\n", profileName)
	for _, r := range results {
		name := r.Service
		if name == "" {
			name = "process"
		}
		name = strings.TrimPrefix(name, "socialchat.")
		fmt.Printf("  %-10s %s\n", name, r.Response.GetStatus())
	}
	return nil
}

func outputJSON(results []app.ServiceHealth) error {
	type line struct {
		Service string          `json:"service"`
		Health  json.RawMessage `json:"health"`
	}
	out := make([]line, 0, len(results))
	for _, r := range results {
		raw, err := protojson.Marshal(r.Response)
		if err != nil {
			return fmt.Errorf("encode %q: %w", r.Service, err)
		}
		out = append(out, line{Service: r.Service, Health: raw})
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}
