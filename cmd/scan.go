package cmd

import (
	"context"
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/kozaktomas/face-attendance/internal/attendance"
	"github.com/kozaktomas/face-attendance/internal/embedding"
	"github.com/kozaktomas/face-attendance/internal/gallery"
	"github.com/kozaktomas/face-attendance/internal/imaging"
	"github.com/kozaktomas/face-attendance/internal/logging"
	"github.com/kozaktomas/face-attendance/internal/notify"
	"github.com/kozaktomas/face-attendance/internal/pipeline"
)

var scanCmd = &cobra.Command{
	Use:   "scan <image>",
	Short: "Recognize the faces of one image and record attendance",
	Long: `Run detection, matching and recording on a single image, the way the
/api/v1/scan endpoint does. Recognized people are recorded as UPLOAD events
subject to the same cooldown (empty unless cooldown_seed is "today").

Examples:
  face-attendance scan visitor.jpg
  face-attendance scan visitor.jpg --json`,
	Args: cobra.ExactArgs(1),
	RunE: runScan,
}

func init() {
	rootCmd.AddCommand(scanCmd)
	scanCmd.Flags().Bool("json", false, "Output as JSON")
}

func runScan(cmd *cobra.Command, args []string) error {
	jsonOutput := mustGetBool(cmd, "json")
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	data, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("reading image: %w", err)
	}
	img, err := imaging.Decode(data)
	if err != nil {
		return err
	}

	ctx := context.Background()
	store, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	client := embedding.NewClient(cfg.Embedding.URL)
	g := gallery.NewStore(store, client, cfg.Storage.ImageDir, logging.Module("gallery"))
	if _, err := g.Load(ctx); err != nil {
		return err
	}

	evidence, err := attendance.NewFileEvidence(cfg.Storage.EvidenceDir)
	if err != nil {
		return err
	}
	recorder := attendance.NewRecorder(store, store, evidence, attendance.Options{
		Cooldown:       cfg.Recognition.Cooldown(),
		EnableCooldown: cfg.Recognition.EnableCooldown,
	}, logging.Module("attendance"))
	if _, err := recorder.Seed(ctx, cfg.Recognition.CooldownSeed); err != nil {
		return err
	}

	deps := pipeline.Deps{Gallery: g, Detector: client, Embedder: client, Recorder: recorder}
	var dispatcher *notify.Dispatcher
	if cfg.Recognition.EnableNotification {
		sinks, err := buildSinks(cfg.Notification)
		if err != nil {
			return err
		}
		dispatcher = notify.NewDispatcher(sinks, notify.Options{
			Timeout:   cfg.Notification.Timeout(),
			FirstOnly: cfg.Notification.FirstOnly,
		}, nil, logging.Module("notify"))
		defer dispatcher.Close(cfg.Notification.Timeout())
		deps.Notifier = dispatcher
	}

	p := pipeline.New(deps, pipeline.Options{
		Threshold:          cfg.Recognition.Threshold,
		ProcessInterval:    1,
		ResizeFactor:       cfg.Recognition.ResizeFactor,
		EnableNotification: dispatcher != nil,
	}, logging.Module("pipeline"))

	result := p.Scan(ctx, img)
	if jsonOutput {
		return outputJSON(result)
	}
	if result.Error != "" {
		return fmt.Errorf("scan failed: %s", result.Error)
	}
	if len(result.Faces) == 0 {
		fmt.Println("No faces found.")
		return nil
	}

	rows := make([][]string, 0, len(result.Faces))
	for _, f := range result.Faces {
		rows = append(rows, []string{
			f.Label,
			string(f.Status),
			orDash(f.IdentityID),
			strconv.FormatFloat(f.Distance, 'f', 4, 64),
			fmt.Sprintf("%d,%d %dx%d", f.Box[0], f.Box[1], f.Box[2]-f.Box[0], f.Box[3]-f.Box[1]),
			orDash(f.Error),
		})
	}
	fmt.Println(renderTable([]string{"LABEL", "STATUS", "ID", "DISTANCE", "BOX", "ERROR"}, rows, 3))
	return nil
}
