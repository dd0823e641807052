package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/kozaktomas/face-attendance/internal/constants"
	"github.com/kozaktomas/face-attendance/internal/database"
)

var eventsCmd = &cobra.Command{
	Use:   "events",
	Short: "Attendance event commands",
}

var eventsRecentCmd = &cobra.Command{
	Use:   "recent",
	Short: "Show the newest attendance events",
	RunE:  runEventsRecent,
}

func init() {
	rootCmd.AddCommand(eventsCmd)
	eventsCmd.AddCommand(eventsRecentCmd)

	eventsRecentCmd.Flags().Int("limit", constants.DefaultRecentEvents, "Number of events to show")
	eventsRecentCmd.Flags().Bool("json", false, "Output as JSON")
}

// EventItem is the JSON form of one event.
type EventItem struct {
	ID          string    `json:"id"`
	IdentityID  string    `json:"identity_id"`
	DisplayName string    `json:"display_name"`
	Timestamp   time.Time `json:"timestamp"`
	Kind        string    `json:"kind"`
	FirstOfDay  bool      `json:"first_of_day"`
	Distance    float64   `json:"distance"`
	EvidenceRef string    `json:"evidence_ref,omitempty"`
}

func runEventsRecent(cmd *cobra.Command, args []string) error {
	limit := mustGetInt(cmd, "limit")
	if limit < 1 || limit > constants.MaxRecentEvents {
		return fmt.Errorf("--limit must be between 1 and %d", constants.MaxRecentEvents)
	}
	jsonOutput := mustGetBool(cmd, "json")

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	ctx := context.Background()
	store, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	events, err := store.RecentEvents(ctx, limit)
	if err != nil {
		return err
	}

	if jsonOutput {
		items := make([]EventItem, 0, len(events))
		for _, e := range events {
			items = append(items, eventItem(e))
		}
		return outputJSON(items)
	}

	if len(events) == 0 {
		fmt.Println("No attendance events recorded yet.")
		return nil
	}
	rows := make([][]string, 0, len(events))
	for _, e := range events {
		first := ""
		if e.FirstOfDay {
			first = "yes"
		}
		rows = append(rows, []string{
			e.Timestamp.Local().Format("2006-01-02 15:04:05"),
			e.IdentityID,
			e.DisplayName,
			e.Kind,
			first,
			fmt.Sprintf("%.4f", e.Distance),
			orDash(e.EvidenceRef),
		})
	}
	fmt.Println(renderTable([]string{"TIME", "ID", "NAME", "KIND", "FIRST", "DISTANCE", "EVIDENCE"}, rows, 5))
	return nil
}

func eventItem(e database.StoredEvent) EventItem {
	return EventItem{
		ID:          e.ID,
		IdentityID:  e.IdentityID,
		DisplayName: e.DisplayName,
		Timestamp:   e.Timestamp,
		Kind:        e.Kind,
		FirstOfDay:  e.FirstOfDay,
		Distance:    e.Distance,
		EvidenceRef: e.EvidenceRef,
	}
}
