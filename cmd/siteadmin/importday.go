package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"siteattend/internal/attendance"
	"siteattend/internal/calendar"
	"siteattend/internal/config"
	"siteattend/internal/logging"
	"siteattend/internal/store"
	"siteattend/internal/workforce"
)

var importDayCmd = &cobra.Command{
	Use:   "import-day FILE",
	Short: "Import manual day sheets from YAML",
	Long: `Import day sheets kept on paper at the site office.

Each sheet replaces the listed workers' entries for one project and day.
Workers are given by id or by name; names are matched ignoring case and
accents and must be unambiguous.

  sheets:
    - project: tower-b
      day: 2024-03-05
      entries:
        - worker_id: w-17
          present: true
          hours_worked: 8
          overtime_hours: 2
        - name: Jose Nunez
          present: false

Examples:
  siteadmin import-day march.yaml
  siteadmin import-day march.yaml --dry-run`,
	Args: cobra.ExactArgs(1),
	RunE: runImportDay,
}

func init() {
	rootCmd.AddCommand(importDayCmd)

	importDayCmd.Flags().Bool("dry-run", false, "Validate and resolve workers without writing")
}

type sheetFile struct {
	Sheets []sheet `yaml:"sheets"`
}

type sheet struct {
	Project string       `yaml:"project"`
	Day     string       `yaml:"day"`
	Entries []sheetEntry `yaml:"entries"`
}

type sheetEntry struct {
	WorkerID      string  `yaml:"worker_id"`
	Name          string  `yaml:"name"`
	Present       bool    `yaml:"present"`
	HoursWorked   float64 `yaml:"hours_worked"`
	OvertimeHours float64 `yaml:"overtime_hours"`
}

// parseSheets decodes a sheet file, rejecting unknown keys.
func parseSheets(r io.Reader) ([]sheet, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	var f sheetFile
	if err := dec.Decode(&f); err != nil {
		return nil, fmt.Errorf("parse sheets: %w", err)
	}
	if len(f.Sheets) == 0 {
		return nil, errors.New("no sheets in file")
	}
	for i, s := range f.Sheets {
		if s.Project == "" {
			return nil, fmt.Errorf("sheet %d: project is required", i+1)
		}
		if _, err := calendar.Parse(s.Day); err != nil {
			return nil, fmt.Errorf("sheet %d: %w", i+1, err)
		}
		for j, e := range s.Entries {
			if (e.WorkerID == "") == (e.Name == "") {
				return nil, fmt.Errorf("sheet %d entry %d: give exactly one of worker_id or name", i+1, j+1)
			}
		}
	}
	return f.Sheets, nil
}

// nameFinder looks workers up by name.
type nameFinder interface {
	FindByName(ctx context.Context, name string) ([]workforce.Worker, error)
}

// resolveEntries turns sheet entries into ledger entries.
func resolveEntries(ctx context.Context, finder nameFinder, entries []sheetEntry) ([]attendance.DayEntry, error) {
	out := make([]attendance.DayEntry, 0, len(entries))
	for _, e := range entries {
		id := e.WorkerID
		if id == "" {
			matches, err := finder.FindByName(ctx, e.Name)
			if err != nil {
				return nil, err
			}
			switch len(matches) {
			case 0:
				return nil, fmt.Errorf("no worker named %q", e.Name)
			case 1:
				id = matches[0].ID
			default:
				return nil, fmt.Errorf("%d workers named %q, use worker_id", len(matches), e.Name)
			}
		}
		out = append(out, attendance.DayEntry{
			WorkerID:      id,
			Present:       e.Present,
			HoursWorked:   e.HoursWorked,
			OvertimeHours: e.OvertimeHours,
		})
	}
	return out, nil
}

func runImportDay(cmd *cobra.Command, args []string) error {
	dryRun := mustGetBool(cmd, "dry-run")
	ctx := cmd.Context()

	f, err := os.Open(args[0])
	if err != nil {
		return err
	}
	defer f.Close()
	sheets, err := parseSheets(f)
	if err != nil {
		return err
	}

	cfg := config.Load()
	log := logging.Must(cfg.Env)
	defer log.Sync()

	db, err := store.NewDB(cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer db.Close()

	workers := workforce.NewRepository(db.Client)
	svc := attendance.NewService(attendance.NewRepository(db.Client), workers, nil, nil, attendance.Policy{
		Location: cfg.Attendance.Location(),
	}, log)

	start := time.Now()
	bar := progressbar.NewOptions(len(sheets),
		progressbar.OptionSetDescription("Importing sheets"),
		progressbar.OptionShowCount(),
		progressbar.OptionShowElapsedTimeOnFinish(),
		progressbar.OptionFullWidth(),
	)

	var written, failed int
	for _, s := range sheets {
		day, _ := calendar.Parse(s.Day)
		entries, err := resolveEntries(ctx, workers, s.Entries)
		if err == nil && !dryRun {
			var records []attendance.Record
			records, err = svc.UpsertDay(ctx, s.Project, day, entries)
			written += len(records)
		}
		if err != nil {
			failed++
			log.Error("sheet rejected", zap.String("project", s.Project), zap.String("day", s.Day), zap.Error(err))
		}
		bar.Add(1)
	}
	bar.Finish()

	fmt.Printf("\n%d sheets, %d records written, %d sheets rejected in %s\n",
		len(sheets), written, failed, time.Since(start).Round(time.Millisecond))
	if failed > 0 {
		return fmt.Errorf("%d sheets rejected", failed)
	}
	return nil
}
