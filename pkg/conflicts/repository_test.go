package conflicts

import (
	"context"
	"errors"
	"reflect"
	"sync/atomic"
	"testing"
	"time"

	"github.com/vectorwatch/platform/pkg/common/apperrors"
	"github.com/vectorwatch/platform/pkg/common/models"
	"github.com/vectorwatch/platform/pkg/gateway/auth"
	"github.com/vectorwatch/platform/pkg/storage"
	"github.com/vectorwatch/platform/pkg/storage/storagetest"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

func create(t *testing.T, db *gorm.DB, value interface{}) {
	t.Helper()
	if err := db.Create(value).Error; err != nil {
		t.Fatalf("create %T: %v", value, err)
	}
}

func at(y int, m time.Month, d, h, min int) *time.Time {
	t := time.Date(y, m, d, h, min, 0, 0, time.UTC)
	return &t
}

// seedResolutionRows inserts four audit rows and returns their ids in insert
// order. Rows 3 and 4 share a timestamp.
func seedResolutionRows(t *testing.T, db *gorm.DB) []int64 {
	t.Helper()
	base := time.Date(2024, time.April, 1, 8, 0, 0, 0, time.UTC)
	rows := []storage.ResolutionRow{
		{SessionIDs: datatypes.JSONSlice[int64]{10, 11}, SiteID: 1, Month: 3, Year: 2024, CreatedAt: base},
		{SessionIDs: datatypes.JSONSlice[int64]{110, 12}, SiteID: 1, Month: 3, Year: 2024, CreatedAt: base.Add(time.Hour)},
		{SessionIDs: datatypes.JSONSlice[int64]{12, 10}, SiteID: 1, Month: 2, Year: 2024, CreatedAt: base.Add(2 * time.Hour)},
		{SessionIDs: datatypes.JSONSlice[int64]{20, 21}, SiteID: 2, Month: 3, Year: 2024, CreatedAt: base.Add(2 * time.Hour)},
	}
	ids := make([]int64, 0, len(rows))
	for i := range rows {
		rows[i].BeforeData = datatypes.JSON(`{"sessions":[]}`)
		rows[i].AfterData = datatypes.JSON(`{"resolvedData":{}}`)
		create(t, db, &rows[i])
		ids = append(ids, rows[i].ID)
	}
	return ids
}

func resolutionIDs(items []models.SessionConflictResolution) []int64 {
	ids := make([]int64, 0, len(items))
	for _, item := range items {
		ids = append(ids, item.ID)
	}
	return ids
}

func TestRepositoryListResolutions(t *testing.T) {
	db := storagetest.OpenPostgres(t)
	ids := seedResolutionRows(t, db)
	repo := NewRepository(db)

	session10, site1, month3, year2024 := int64(10), int64(1), 3, 2024
	tests := []struct {
		name      string
		filter    models.ConflictLogFilter
		scope     []int64
		page      models.Page
		wantIDs   []int64
		wantTotal int64
	}{
		{
			name:      "newest first with id tiebreak",
			page:      models.Page{Page: 1, Size: 20},
			wantIDs:   []int64{ids[3], ids[2], ids[1], ids[0]},
			wantTotal: 4,
		},
		{
			name:      "second page",
			page:      models.Page{Page: 2, Size: 3},
			wantIDs:   []int64{ids[0]},
			wantTotal: 4,
		},
		{
			name:      "session membership is exact",
			filter:    models.ConflictLogFilter{SessionID: &session10},
			page:      models.Page{Page: 1, Size: 20},
			wantIDs:   []int64{ids[2], ids[0]},
			wantTotal: 2,
		},
		{
			name:      "site month and year",
			filter:    models.ConflictLogFilter{SiteID: &site1, Month: &month3, Year: &year2024},
			page:      models.Page{Page: 1, Size: 20},
			wantIDs:   []int64{ids[1], ids[0]},
			wantTotal: 2,
		},
		{
			name:      "scope",
			scope:     []int64{2},
			page:      models.Page{Page: 1, Size: 20},
			wantIDs:   []int64{ids[3]},
			wantTotal: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			items, total, err := repo.ListResolutions(context.Background(), tt.filter, tt.scope, tt.page)
			if err != nil {
				t.Fatalf("ListResolutions: %v", err)
			}
			if total != tt.wantTotal {
				t.Fatalf("expected total %d, got %d", tt.wantTotal, total)
			}
			if got := resolutionIDs(items); !reflect.DeepEqual(got, tt.wantIDs) {
				t.Fatalf("expected ids %v, got %v", tt.wantIDs, got)
			}
		})
	}

	items, _, err := repo.ListResolutions(context.Background(), models.ConflictLogFilter{SessionID: &session10}, nil, models.Page{Page: 1, Size: 1})
	if err != nil {
		t.Fatalf("ListResolutions: %v", err)
	}
	if !reflect.DeepEqual(items[0].SessionIDs, []int64{12, 10}) || items[0].BeforeData["sessions"] == nil {
		t.Fatalf("row decoded incorrectly: %+v", items[0])
	}
}

func TestRepositoryFindConflictGroupsBucketsInUTC(t *testing.T) {
	db := storagetest.OpenPostgres(t)
	create(t, db, &storage.SiteRow{ID: 1, Name: "House 1", District: "Kisumu"})
	create(t, db, &storage.SiteRow{ID: 2, Name: "House 2", District: "Kisumu"})
	sessions := []storage.SessionRow{
		{ID: 1, SiteID: 1, CollectionDate: at(2024, time.March, 2, 9, 0)},
		// Already April in the connection's time zone, still March in UTC.
		{ID: 2, SiteID: 1, CollectionDate: at(2024, time.March, 31, 23, 30)},
		{ID: 3, SiteID: 1, CreatedAt: at(2024, time.April, 1, 1, 0)},
		{ID: 4, SiteID: 2, CollectionDate: at(2024, time.March, 10, 9, 0)},
		{ID: 5, SiteID: 1},
	}
	for i := range sessions {
		create(t, db, &sessions[i])
	}
	repo := NewRepository(db)

	groups, err := repo.FindConflictGroups(context.Background(), models.ConflictLogFilter{}, nil)
	if err != nil {
		t.Fatalf("FindConflictGroups: %v", err)
	}
	want := []models.ConflictGroup{{SiteID: 1, Month: 3, Year: 2024, SessionIDs: []int64{1, 2}}}
	if !reflect.DeepEqual(groups, want) {
		t.Fatalf("expected %+v, got %+v", want, groups)
	}

	scoped, err := repo.FindConflictGroups(context.Background(), models.ConflictLogFilter{}, []int64{2})
	if err != nil {
		t.Fatalf("FindConflictGroups: %v", err)
	}
	if len(scoped) != 0 {
		t.Fatalf("expected no groups for site 2, got %+v", scoped)
	}
}

func seedPostgresMarch(t *testing.T, db *gorm.DB) {
	t.Helper()
	create(t, db, &storage.SiteRow{ID: 1, Name: "House 1", District: "Kisumu"})
	create(t, db, &storage.SessionRow{ID: 10, SiteID: 1, Type: "SURVEILLANCE", CollectionMethod: "hld", Notes: "first", CollectionDate: at(2024, time.March, 5, 12, 0)})
	create(t, db, &storage.SessionRow{ID: 11, SiteID: 1, Type: "SURVEILLANCE", CollectionMethod: "cdc", Notes: "second", CollectionDate: at(2024, time.March, 20, 12, 0)})
	llins := 3
	create(t, db, &storage.SurveillanceFormRow{SessionID: 10, NumLlinsAvailable: &llins})
}

func TestRepositoryWithSiteLockRollsBack(t *testing.T) {
	db := storagetest.OpenPostgres(t)
	seedPostgresMarch(t, db)
	repo := NewRepository(db)

	errAbort := errors.New("abort")
	err := repo.WithSiteLock(context.Background(), 1, func(tx Tx) error {
		if _, err := tx.LockSessions(context.Background(), []int64{10, 11}); err != nil {
			return err
		}
		if _, err := tx.UpdateSessions(context.Background(), []int64{10, 11}, map[string]interface{}{"notes": "changed"}); err != nil {
			return err
		}
		if err := tx.InsertResolution(context.Background(), &models.SessionConflictResolution{SessionIDs: []int64{10, 11}, SiteID: 1, Month: 3, Year: 2024}); err != nil {
			return err
		}
		return errAbort
	})
	if !errors.Is(err, errAbort) {
		t.Fatalf("expected abort error, got %v", err)
	}

	sessions, err := repo.FindSessions(context.Background(), []int64{10, 11})
	if err != nil {
		t.Fatalf("FindSessions: %v", err)
	}
	if sessions[0].Notes != "first" || sessions[1].Notes != "second" {
		t.Fatalf("updates must roll back, got %q and %q", sessions[0].Notes, sessions[1].Notes)
	}
	var count int64
	db.Model(&storage.ResolutionRow{}).Count(&count)
	if count != 0 {
		t.Fatalf("audit row must roll back, found %d", count)
	}
}

func TestRepositoryWithSiteLockSerializes(t *testing.T) {
	db := storagetest.OpenPostgres(t)
	seedPostgresMarch(t, db)
	repo := NewRepository(db)

	held := make(chan struct{})
	release := make(chan struct{})
	firstDone := make(chan error, 1)
	go func() {
		firstDone <- repo.WithSiteLock(context.Background(), 1, func(Tx) error {
			close(held)
			<-release
			return nil
		})
	}()
	<-held

	var entered atomic.Bool
	secondDone := make(chan error, 1)
	go func() {
		secondDone <- repo.WithSiteLock(context.Background(), 1, func(Tx) error {
			entered.Store(true)
			return nil
		})
	}()

	time.Sleep(200 * time.Millisecond)
	if entered.Load() {
		t.Fatal("second transaction entered while the site lock was held")
	}

	// Other sites are not blocked.
	if err := repo.WithSiteLock(context.Background(), 2, func(Tx) error { return nil }); err != nil {
		t.Fatalf("lock on another site: %v", err)
	}

	close(release)
	if err := <-firstDone; err != nil {
		t.Fatalf("first: %v", err)
	}
	if err := <-secondDone; err != nil {
		t.Fatalf("second: %v", err)
	}
	if !entered.Load() {
		t.Fatal("second transaction never ran")
	}
}

func TestResolveConflictAgainstPostgres(t *testing.T) {
	db := storagetest.OpenPostgres(t)
	seedPostgresMarch(t, db)
	svc := NewService(NewRepository(db))

	llins := 6
	result, err := svc.ResolveConflict(context.Background(), auth.Admin(), models.ResolveConflictRequest{
		SessionIDs:               []int64{11, 10},
		ResolvedData:             models.ResolvedSessionData{CollectionMethod: strPtr("net")},
		ResolvedSurveillanceForm: &models.ResolvedSurveillanceForm{NumLlinsAvailable: &llins},
	})
	if err != nil {
		t.Fatalf("ResolveConflict: %v", err)
	}

	sessions, err := NewRepository(db).FindSessions(context.Background(), []int64{10, 11})
	if err != nil {
		t.Fatalf("FindSessions: %v", err)
	}
	for _, s := range sessions {
		if s.CollectionMethod != "net" {
			t.Fatalf("session %d: expected method net, got %q", s.ID, s.CollectionMethod)
		}
	}
	if sessions[0].Notes != "first" {
		t.Fatalf("notes must be untouched, got %q", sessions[0].Notes)
	}

	var forms []storage.SurveillanceFormRow
	db.Find(&forms)
	if len(forms) != 1 || *forms[0].NumLlinsAvailable != 6 {
		t.Fatalf("expected the one existing form updated and none created, got %+v", forms)
	}

	session11 := int64(11)
	page, err := svc.ConflictLogs(context.Background(), auth.Admin(), models.ConflictLogFilter{SessionID: &session11}, models.Page{})
	if err != nil {
		t.Fatalf("ConflictLogs: %v", err)
	}
	if len(page.Items) != 1 || page.Items[0].ID != result.ResolutionID {
		t.Fatalf("expected resolution %d in logs, got %+v", result.ResolutionID, page.Items)
	}
	row := page.Items[0]
	if !reflect.DeepEqual(row.SessionIDs, []int64{11, 10}) || row.Month != 3 || row.Year != 2024 || row.SiteID != 1 {
		t.Fatalf("unexpected audit row %+v", row)
	}
	before, _ := row.BeforeData["sessions"].([]interface{})
	if len(before) != 2 {
		t.Fatalf("expected two sessions in before data, got %v", row.BeforeData)
	}

	_, err = svc.ResolveConflict(context.Background(), auth.Admin(), models.ResolveConflictRequest{SessionIDs: []int64{10, 99}})
	if !apperrors.IsNotFound(err) {
		t.Fatalf("expected NotFoundError, got %v", err)
	}
}
