package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"siteattend/internal/bootstrap"
	"siteattend/internal/config"
	"siteattend/internal/facedir"
	"siteattend/internal/logging"
	"siteattend/internal/store"
	"siteattend/internal/workforce"
)

var reconcileCmd = &cobra.Command{
	Use:   "reconcile-faces",
	Short: "Report drift between workers and the face directory",
	Long: `Compare the face references stored on workers with the faces held by the
self-hosted vector directory.

Dangling references belong to workers whose face is no longer in the
directory; those workers can never be verified. Orphaned faces are in the
directory without a worker; a verification matching one reports
worker_not_found.

Only FACE_BACKEND=vector can be listed.

Examples:
  siteadmin reconcile-faces
  siteadmin reconcile-faces --fix
  siteadmin reconcile-faces --json`,
	RunE: runReconcile,
}

func init() {
	rootCmd.AddCommand(reconcileCmd)

	reconcileCmd.Flags().Bool("fix", false, "Clear dangling references and delete orphaned faces")
	reconcileCmd.Flags().Bool("json", false, "Output as JSON")
}

// DriftReport is the result of a reconciliation.
type DriftReport struct {
	Dangling []DanglingRef  `json:"dangling"`
	Orphans  []OrphanedFace `json:"orphans"`
	Fixed    bool           `json:"fixed"`
}

type DanglingRef struct {
	WorkerID string `json:"worker_id"`
	Name     string `json:"name"`
	FaceRef  string `json:"face_ref"`
}

type OrphanedFace struct {
	FaceRef   string `json:"face_ref"`
	SubjectID string `json:"subject_id"`
}

// diffFaces compares workers with enrolled faces against directory entries.
func diffFaces(workers []workforce.Worker, entries []facedir.Entry) DriftReport {
	inDirectory := make(map[string]bool, len(entries))
	for _, e := range entries {
		inDirectory[e.FaceRef] = true
	}
	referenced := make(map[string]bool, len(workers))

	report := DriftReport{Dangling: []DanglingRef{}, Orphans: []OrphanedFace{}}
	for _, w := range workers {
		if !w.HasFace() {
			continue
		}
		referenced[*w.FaceRef] = true
		if !inDirectory[*w.FaceRef] {
			report.Dangling = append(report.Dangling, DanglingRef{WorkerID: w.ID, Name: w.Name, FaceRef: *w.FaceRef})
		}
	}
	for _, e := range entries {
		if !referenced[e.FaceRef] {
			report.Orphans = append(report.Orphans, OrphanedFace{FaceRef: e.FaceRef, SubjectID: e.SubjectID})
		}
	}
	return report
}

func runReconcile(cmd *cobra.Command, args []string) error {
	fix := mustGetBool(cmd, "fix")
	jsonOutput := mustGetBool(cmd, "json")
	ctx := cmd.Context()

	cfg := config.Load()
	if cfg.Face.Backend != "vector" {
		return errors.New("reconcile-faces needs FACE_BACKEND=vector; the face service cannot list its gallery")
	}
	log := logging.Must(cfg.Env)
	defer log.Sync()

	db, err := store.NewDB(cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer db.Close()

	faces, err := bootstrap.OpenFaces(ctx, cfg.Face, db.Client, log)
	if err != nil {
		return err
	}
	repo := workforce.NewRepository(db.Client)

	workers, err := repo.WorkersWithFace(ctx)
	if err != nil {
		return err
	}
	entries, err := faces.Vector.Entries(ctx)
	if err != nil {
		return err
	}
	report := diffFaces(workers, entries)

	if fix {
		for _, d := range report.Dangling {
			if err := repo.ClearFace(ctx, d.WorkerID, d.FaceRef); err != nil {
				return fmt.Errorf("clear face of %s: %w", d.WorkerID, err)
			}
		}
		for _, o := range report.Orphans {
			if err := faces.Directory.Delete(ctx, o.FaceRef); err != nil {
				return fmt.Errorf("delete face %s: %w", o.FaceRef, err)
			}
		}
		report.Fixed = true
		log.Info("face drift fixed", zap.Int("dangling", len(report.Dangling)), zap.Int("orphans", len(report.Orphans)))
	}

	if jsonOutput {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(report)
	}

	fmt.Printf("%d workers with faces, %d faces in directory\n", len(workers), len(entries))
	if len(report.Dangling) == 0 && len(report.Orphans) == 0 {
		fmt.Println("No drift found.")
		return nil
	}
	for _, d := range report.Dangling {
		fmt.Printf("dangling  %-24s %-30s %s\n", d.WorkerID, d.Name, d.FaceRef)
	}
	for _, o := range report.Orphans {
		fmt.Printf("orphan    %-24s subject=%s\n", o.FaceRef, o.SubjectID)
	}
	if !fix {
		fmt.Println("\nRun with --fix to repair.")
	}
	return nil
}
