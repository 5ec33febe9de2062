package cmd

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/polarops/snowdesk/internal/turn"
)

var (
	askLatitude  float64
	askLongitude float64
	askVerbose   bool
)

var askCmd = &cobra.Command{
	Use:   "ask [question]",
	Short: "Answer a single question from the command line",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runAsk,
}

func init() {
	askCmd.Flags().Float64Var(&askLatitude, "lat", 0, "latitude for location-aware answers")
	askCmd.Flags().Float64Var(&askLongitude, "lon", 0, "longitude for location-aware answers")
	askCmd.Flags().BoolVar(&askVerbose, "verbose", false, "print turn details after the answer")
	rootCmd.AddCommand(askCmd)
}

func runAsk(cmd *cobra.Command, args []string) error {
	ctx, a, err := setupFromConfig(cmd)
	if err != nil {
		return err
	}
	defer closeApp(a)

	q := turn.Query{Text: strings.Join(args, " ")}
	if cmd.Flags().Changed("lat") && cmd.Flags().Changed("lon") {
		q.Latitude = &askLatitude
		q.Longitude = &askLongitude
	}

	rec, err := a.Orchestrator.Answer(ctx, q)
	if rec == nil {
		return fmt.Errorf("answering question: %w", err)
	}

	fmt.Println(rec.Answer)

	if askVerbose {
		fmt.Println()
		fmt.Printf("Turn:     %s\n", rec.ID)
		fmt.Printf("State:    %s\n", rec.State)
		fmt.Printf("Tools:    %s\n", strings.Join(rec.ToolNames(), ", "))
		fmt.Printf("Duration: %s\n", rec.Duration.Round(time.Millisecond))
	}

	return nil
}
