package cmd

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"os"
	"slices"
	"strconv"
	"time"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/kozaktomas/face-attendance/internal/database"
	"github.com/kozaktomas/face-attendance/internal/embedding"
	"github.com/kozaktomas/face-attendance/internal/facematch"
	"github.com/kozaktomas/face-attendance/internal/gallery"
	"github.com/kozaktomas/face-attendance/internal/logging"
)

var galleryCmd = &cobra.Command{
	Use:   "gallery",
	Short: "Inspect and maintain the identity gallery",
}

var galleryListCmd = &cobra.Command{
	Use:   "list",
	Short: "Load the gallery and list the enrolled identities",
	RunE:  runGalleryList,
}

var galleryCheckCmd = &cobra.Command{
	Use:   "check",
	Short: "Report enrolled identities that are too similar to each other",
	Long: `Load the gallery and report identity pairs closer than the match threshold.
Either identity of such a pair may be recorded for the other's face, so their
reference images should be replaced.

Examples:
  face-attendance gallery check
  face-attendance gallery check --threshold 0.4 --json`,
	RunE: runGalleryCheck,
}

var galleryAddCmd = &cobra.Command{
	Use:   "add <image>",
	Short: "Enroll or update an identity from a reference image",
	Long: `Detect the best face in the reference image, embed it and store the identity
with its precomputed embedding. Running gallery reload (or restarting serve)
publishes the change.

Examples:
  face-attendance gallery add --id EMP001 --name "Jan Novak" --role staff jan.jpg`,
	Args: cobra.ExactArgs(1),
	RunE: runGalleryAdd,
}

var gallerySearchCmd = &cobra.Command{
	Use:   "search <image>",
	Short: "List the identities closest to the best face of an image",
	Args:  cobra.ExactArgs(1),
	RunE:  runGallerySearch,
}

func init() {
	rootCmd.AddCommand(galleryCmd)
	galleryCmd.AddCommand(galleryListCmd, galleryCheckCmd, galleryAddCmd, gallerySearchCmd)

	galleryListCmd.Flags().Bool("json", false, "Output as JSON")

	galleryCheckCmd.Flags().Float64("threshold", 0, "Distance below which two identities are reported (defaults to the match threshold)")
	galleryCheckCmd.Flags().Bool("json", false, "Output as JSON")

	galleryAddCmd.Flags().String("id", "", "Identity id (required)")
	galleryAddCmd.Flags().String("name", "", "Display name (required)")
	galleryAddCmd.Flags().String("role", "", "Role")
	galleryAddCmd.Flags().Bool("store-image-ref", true, "Store the image path as the reference image")

	gallerySearchCmd.Flags().Int("limit", 5, "Number of candidates to show")
	gallerySearchCmd.Flags().Bool("json", false, "Output as JSON")
}

// loadGallery opens the store and loads a snapshot, with a progress bar on terminals.
func loadGallery(ctx context.Context, jsonOutput bool) (*gallery.Snapshot, database.Store, float64, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, 0, err
	}
	store, err := openStore(ctx, cfg)
	if err != nil {
		return nil, nil, 0, err
	}

	g := gallery.NewStore(store, embedding.NewClient(cfg.Embedding.URL), cfg.Storage.ImageDir, logging.Module("gallery"))
	var bar *progressbar.ProgressBar
	g.Progress = func(done, total int) {
		if bar == nil {
			bar = newProgressBar(total, "Loading gallery", jsonOutput)
		}
		if bar != nil {
			_ = bar.Set(done)
		}
	}

	snap, err := g.Load(ctx)
	if bar != nil {
		fmt.Println()
	}
	if err != nil {
		store.Close()
		return nil, nil, 0, err
	}
	return snap, store, cfg.Recognition.Threshold, nil
}

// IdentityListItem is one row of gallery list.
type IdentityListItem struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name"`
	ImageRef    string `json:"image_ref,omitempty"`
	Dimensions  int    `json:"dimensions"`
}

// GalleryListOutput is the JSON form of gallery list.
type GalleryListOutput struct {
	Count      int                `json:"count"`
	Skipped    int                `json:"skipped"`
	Identities []IdentityListItem `json:"identities"`
}

func runGalleryList(cmd *cobra.Command, args []string) error {
	jsonOutput := mustGetBool(cmd, "json")
	snap, store, _, err := loadGallery(context.Background(), jsonOutput)
	if err != nil {
		return err
	}
	defer store.Close()

	out := GalleryListOutput{Count: snap.Len(), Skipped: snap.Skipped, Identities: []IdentityListItem{}}
	for _, id := range snap.Identities {
		out.Identities = append(out.Identities, IdentityListItem{
			ID: id.ID, DisplayName: id.DisplayName, ImageRef: id.ImageRef, Dimensions: len(id.Embedding),
		})
	}
	if jsonOutput {
		return outputJSON(out)
	}

	if snap.Len() == 0 {
		fmt.Println("Gallery is empty.")
		return nil
	}
	rows := make([][]string, 0, len(out.Identities))
	for _, id := range out.Identities {
		rows = append(rows, []string{id.ID, id.DisplayName, orDash(id.ImageRef), strconv.Itoa(id.Dimensions)})
	}
	fmt.Println(renderTable([]string{"ID", "NAME", "REFERENCE", "DIM"}, rows, 3))
	fmt.Printf("\n%d identities loaded", snap.Len())
	if snap.Skipped > 0 {
		fmt.Printf(", %d skipped (see log)", snap.Skipped)
	}
	fmt.Println()
	return nil
}

// LookalikeItem is one pair reported by gallery check.
type LookalikeItem struct {
	A        string  `json:"a"`
	AName    string  `json:"a_name"`
	B        string  `json:"b"`
	BName    string  `json:"b_name"`
	Distance float64 `json:"distance"`
}

// GalleryCheckOutput is the JSON form of gallery check.
type GalleryCheckOutput struct {
	Identities int             `json:"identities"`
	Threshold  float64         `json:"threshold"`
	Pairs      []LookalikeItem `json:"pairs"`
	DurationMs int64           `json:"duration_ms"`
}

func runGalleryCheck(cmd *cobra.Command, args []string) error {
	jsonOutput := mustGetBool(cmd, "json")
	start := time.Now()

	snap, store, threshold, err := loadGallery(context.Background(), jsonOutput)
	if err != nil {
		return err
	}
	defer store.Close()
	if t := mustGetFloat64(cmd, "threshold"); t > 0 {
		threshold = t
	}

	out := GalleryCheckOutput{Identities: snap.Len(), Threshold: threshold, Pairs: []LookalikeItem{}}
	for _, p := range gallery.FindLookalikes(snap, threshold) {
		out.Pairs = append(out.Pairs, LookalikeItem{
			A: p.A.ID, AName: p.A.DisplayName, B: p.B.ID, BName: p.B.DisplayName, Distance: p.Distance,
		})
	}
	out.DurationMs = time.Since(start).Milliseconds()

	if jsonOutput {
		return outputJSON(out)
	}

	if len(out.Pairs) == 0 {
		fmt.Printf("No lookalikes among %d identities (threshold %.2f, %s)\n",
			snap.Len(), threshold, formatDuration(time.Since(start)))
		return nil
	}
	rows := make([][]string, 0, len(out.Pairs))
	for _, p := range out.Pairs {
		rows = append(rows, []string{p.A, p.AName, p.B, p.BName, fmt.Sprintf("%.4f", p.Distance)})
	}
	fmt.Println(renderTable([]string{"ID", "NAME", "ID", "NAME", "DISTANCE"}, rows, 4))
	fmt.Printf("\n%d lookalike pairs below %.2f\n", len(out.Pairs), threshold)
	return nil
}

func runGalleryAdd(cmd *cobra.Command, args []string) error {
	id := mustGetString(cmd, "id")
	name := mustGetString(cmd, "name")
	if id == "" || name == "" {
		return errors.New("--id and --name are required")
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	data, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("reading reference image: %w", err)
	}

	ctx := context.Background()
	vec, err := gallery.EmbedReference(ctx, embedding.NewClient(cfg.Embedding.URL), data)
	if err != nil {
		return err
	}

	store, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	writer, ok := store.(database.IdentityWriter)
	if !ok {
		return fmt.Errorf("database driver %q does not support enrollment", cfg.Database.Driver)
	}

	identity := database.StoredIdentity{ID: id, DisplayName: name, Role: mustGetString(cmd, "role"), Embedding: vec}
	if mustGetBool(cmd, "store-image-ref") {
		identity.ImageRef = args[0]
	}
	if err := writer.UpsertIdentity(ctx, identity); err != nil {
		return err
	}
	fmt.Printf("Enrolled %s (%s) with a %d-dimensional embedding\n", name, id, len(vec))
	return nil
}

// SearchCandidate is one identity returned by gallery search.
type SearchCandidate struct {
	ID          string  `json:"id"`
	DisplayName string  `json:"display_name"`
	Distance    float64 `json:"distance"`
	Match       bool    `json:"match"`
}

func runGallerySearch(cmd *cobra.Command, args []string) error {
	jsonOutput := mustGetBool(cmd, "json")
	limit := mustGetInt(cmd, "limit")
	ctx := context.Background()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	data, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("reading image: %w", err)
	}
	vec, err := gallery.EmbedReference(ctx, embedding.NewClient(cfg.Embedding.URL), data)
	if err != nil {
		return err
	}

	store, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	candidates, err := searchCandidates(ctx, store, vec, limit)
	if err != nil {
		return err
	}
	for i := range candidates {
		candidates[i].Match = candidates[i].Distance < cfg.Recognition.Threshold
	}

	if jsonOutput {
		return outputJSON(candidates)
	}
	if len(candidates) == 0 {
		fmt.Println("Gallery is empty.")
		return nil
	}
	rows := make([][]string, 0, len(candidates))
	for _, c := range candidates {
		match := ""
		if c.Match {
			match = "yes"
		}
		rows = append(rows, []string{c.ID, c.DisplayName, fmt.Sprintf("%.4f", c.Distance), match})
	}
	fmt.Println(renderTable([]string{"ID", "NAME", "DISTANCE", "MATCH"}, rows, 2))
	return nil
}

// searchCandidates asks the backend's vector index when it has one and
// otherwise ranks the stored embeddings in memory.
func searchCandidates(ctx context.Context, store database.Store, vec []float32, limit int) ([]SearchCandidate, error) {
	if finder, ok := store.(database.NearestFinder); ok {
		ids, distances, err := finder.NearestIdentities(ctx, vec, limit)
		if err != nil {
			return nil, err
		}
		out := make([]SearchCandidate, 0, len(ids))
		for i, id := range ids {
			out = append(out, SearchCandidate{ID: id.ID, DisplayName: id.DisplayName, Distance: distances[i]})
		}
		return out, nil
	}

	rows, err := store.ListIdentities(ctx)
	if err != nil {
		return nil, err
	}
	identities := make([]facematch.Identity, 0, len(rows))
	for _, r := range rows {
		if len(r.Embedding) > 0 {
			identities = append(identities, facematch.Identity{ID: r.ID, DisplayName: r.DisplayName, Embedding: r.Embedding})
		}
	}
	return rankCandidates(vec, identities, limit), nil
}

func rankCandidates(vec []float32, identities []facematch.Identity, limit int) []SearchCandidate {
	out := make([]SearchCandidate, 0, len(identities))
	for _, id := range identities {
		out = append(out, SearchCandidate{ID: id.ID, DisplayName: id.DisplayName, Distance: facematch.CosineDistance(vec, id.Embedding)})
	}
	slices.SortStableFunc(out, func(a, b SearchCandidate) int {
		return cmp.Compare(a.Distance, b.Distance)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}
