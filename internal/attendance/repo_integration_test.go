//go:build integration

package attendance_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"siteattend/internal/attendance"
	"siteattend/internal/store/storetest"
	"siteattend/internal/workforce"
)

func TestRepository_Postgres(t *testing.T) {
	db := storetest.NewPostgres(t)
	ctx := context.Background()

	people := workforce.NewRepository(db.Client)
	if _, err := people.CreateProject(ctx, workforce.Project{ID: "P", Name: "Tower A"}); err != nil {
		t.Fatalf("CreateProject: %v", err)
	}
	for _, id := range []string{"W", "X"} {
		if _, err := people.CreateWorker(ctx, workforce.NewWorker{ID: id, Name: id, PayMode: workforce.PayDaily, PayRate: 700}); err != nil {
			t.Fatalf("CreateWorker %s: %v", id, err)
		}
	}

	repo := attendance.NewRepository(db.Client)
	today := time.Date(2024, 3, 5, 0, 0, 0, 0, time.UTC)

	t.Run("ConcurrentMarkPresentCreatesOneRow", func(t *testing.T) {
		const n = 8
		var wg sync.WaitGroup
		created := make([]bool, n)
		ids := make([]string, n)
		errs := make([]error, n)
		for i := 0; i < n; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				rec, ok, err := repo.MarkPresent(ctx, attendance.Record{WorkerID: "W", ProjectID: "P", Day: today, HoursWorked: 8})
				created[i], ids[i], errs[i] = ok, rec.ID, err
			}(i)
		}
		wg.Wait()

		count := 0
		for i := range created {
			if errs[i] != nil {
				t.Fatalf("MarkPresent %d: %v", i, errs[i])
			}
			if created[i] {
				count++
			}
			if ids[i] != ids[0] {
				t.Errorf("call %d returned record %s, want %s", i, ids[i], ids[0])
			}
		}
		if count != 1 {
			t.Errorf("created: got %d, want 1", count)
		}

		recs, err := repo.ListDay(ctx, "P", today)
		if err != nil {
			t.Fatalf("ListDay: %v", err)
		}
		if len(recs) != 1 || !recs[0].Present || recs[0].HoursWorked != 8 {
			t.Errorf("ListDay: got %+v", recs)
		}
	})

	t.Run("AbsentRowIsFlipped", func(t *testing.T) {
		day := today.AddDate(0, 0, 1)
		if _, err := repo.UpsertDay(ctx, "P", day, []attendance.DayEntry{{WorkerID: "X", Present: false}}); err != nil {
			t.Fatalf("UpsertDay: %v", err)
		}
		rec, created, err := repo.MarkPresent(ctx, attendance.Record{WorkerID: "X", ProjectID: "P", Day: day, HoursWorked: 8})
		if err != nil {
			t.Fatalf("MarkPresent: %v", err)
		}
		if !created || !rec.Present {
			t.Errorf("absent row not flipped: created=%v %+v", created, rec)
		}
	})

	t.Run("UpsertDayKeepsFacePhoto", func(t *testing.T) {
		photo := "https://photos.test/w.jpg"
		day := today.AddDate(0, 0, 2)
		marked, _, err := repo.MarkPresent(ctx, attendance.Record{WorkerID: "W", ProjectID: "P", Day: day, HoursWorked: 8, PhotoURL: &photo})
		if err != nil {
			t.Fatalf("MarkPresent: %v", err)
		}
		recs, err := repo.UpsertDay(ctx, "P", day, []attendance.DayEntry{
			{WorkerID: "W", Present: true, HoursWorked: 5, OvertimeHours: 1},
		})
		if err != nil {
			t.Fatalf("UpsertDay: %v", err)
		}
		if recs[0].ID != marked.ID || recs[0].PhotoURL == nil || *recs[0].PhotoURL != photo {
			t.Errorf("upsert replaced the record: %+v", recs[0])
		}
		if recs[0].HoursWorked != 5 || recs[0].OvertimeHours != 1 {
			t.Errorf("hours: got %+v", recs[0])
		}
	})

	t.Run("UpsertDayUnknownWorkerRollsBack", func(t *testing.T) {
		day := today.AddDate(0, 0, 3)
		_, err := repo.UpsertDay(ctx, "P", day, []attendance.DayEntry{
			{WorkerID: "X", Present: true, HoursWorked: 8},
			{WorkerID: "ghost", Present: true, HoursWorked: 8},
		})
		if err == nil {
			t.Fatal("expected error for unknown worker")
		}
		recs, err := repo.ListDay(ctx, "P", day)
		if err != nil {
			t.Fatalf("ListDay: %v", err)
		}
		if len(recs) != 0 {
			t.Errorf("partial sheet committed: %+v", recs)
		}
	})

	t.Run("SetCheckoutOnce", func(t *testing.T) {
		rec, err := repo.Find(ctx, "W", "P", today)
		if err != nil || rec == nil {
			t.Fatalf("Find: %v %v", rec, err)
		}
		url := "https://photos.test/out.jpg"
		_, updated, err := repo.SetCheckout(ctx, rec.ID, &url, time.Now())
		if err != nil || !updated {
			t.Fatalf("SetCheckout: updated=%v err=%v", updated, err)
		}
		again, updated, err := repo.SetCheckout(ctx, rec.ID, &url, time.Now())
		if err != nil || updated {
			t.Fatalf("second SetCheckout: updated=%v err=%v", updated, err)
		}
		if !again.CheckedOut() {
			t.Error("stored record not checked out")
		}
	})

	t.Run("Devices", func(t *testing.T) {
		if err := repo.UpsertDevice(ctx, "kiosk-1", "P"); err != nil {
			t.Fatalf("UpsertDevice: %v", err)
		}
		d, err := repo.GetDevice(ctx, "kiosk-1")
		if err != nil || d == nil || d.ProjectID == nil || *d.ProjectID != "P" {
			t.Fatalf("GetDevice: %+v %v", d, err)
		}
		if err := repo.SaveRefreshToken(ctx, "kiosk-1", "tok", time.Now().Add(time.Hour)); err != nil {
			t.Fatalf("SaveRefreshToken: %v", err)
		}
		if ok, err := repo.RevokeRefreshToken(ctx, "tok"); err != nil || !ok {
			t.Fatalf("first revoke: %v %v", ok, err)
		}
		if ok, _ := repo.RevokeRefreshToken(ctx, "tok"); ok {
			t.Error("token revoked twice")
		}
	})
}
