package conflicts

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/vectorwatch/platform/pkg/common/apperrors"
	"github.com/vectorwatch/platform/pkg/common/models"
)

var errInjected = errors.New("injected fault")

// memStore is an in-memory Store. Writes made through a Tx are staged and
// only become visible when the callback returns nil.
type memStore struct {
	mu          sync.Mutex
	sites       map[int64]models.Site
	sessions    map[int64]models.Session
	forms       map[int64]models.SurveillanceForm
	resolutions []models.SessionConflictResolution
	nextID      int64

	locksMu   sync.Mutex
	siteLocks map[int64]*sync.Mutex

	// fault injection
	failOn      string
	shortUpdate bool
	insideLock  func(siteID int64)

	inFlight    map[int64]int
	maxInFlight int
	listCalls   int
}

func newMemStore() *memStore {
	return &memStore{
		sites:     make(map[int64]models.Site),
		sessions:  make(map[int64]models.Session),
		forms:     make(map[int64]models.SurveillanceForm),
		siteLocks: make(map[int64]*sync.Mutex),
		inFlight:  make(map[int64]int),
		nextID:    1,
	}
}

func (m *memStore) addSite(id int64, district string) {
	m.sites[id] = models.Site{ID: id, District: district, IsActive: true}
}

func (m *memStore) addSession(s models.Session) {
	m.sessions[s.ID] = s
}

func (m *memStore) addForm(f models.SurveillanceForm) {
	m.forms[f.SessionID] = f
}

func (m *memStore) session(id int64) models.Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sessions[id]
}

func (m *memStore) form(sessionID int64) (models.SurveillanceForm, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	f, ok := m.forms[sessionID]
	return f, ok
}

func (m *memStore) auditRows() []models.SessionConflictResolution {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]models.SessionConflictResolution(nil), m.resolutions...)
}

func (m *memStore) FindSessions(_ context.Context, ids []int64) ([]models.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Session
	for _, id := range ids {
		if s, ok := m.sessions[id]; ok {
			out = append(out, s)
		}
	}
	return out, nil
}

func (m *memStore) SiteDistrict(_ context.Context, siteID int64) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	site, ok := m.sites[siteID]
	if !ok {
		return "", &apperrors.NotFoundError{Entity: "site", IDs: []int64{siteID}}
	}
	return site.District, nil
}

func (m *memStore) siteLock(siteID int64) *sync.Mutex {
	m.locksMu.Lock()
	defer m.locksMu.Unlock()
	l, ok := m.siteLocks[siteID]
	if !ok {
		l = &sync.Mutex{}
		m.siteLocks[siteID] = l
	}
	return l
}

func (m *memStore) WithSiteLock(ctx context.Context, siteID int64, fn func(tx Tx) error) error {
	lock := m.siteLock(siteID)
	lock.Lock()
	defer lock.Unlock()

	m.mu.Lock()
	m.inFlight[siteID]++
	if m.inFlight[siteID] > m.maxInFlight {
		m.maxInFlight = m.inFlight[siteID]
	}
	m.mu.Unlock()
	defer func() {
		m.mu.Lock()
		m.inFlight[siteID]--
		m.mu.Unlock()
	}()

	if m.insideLock != nil {
		m.insideLock(siteID)
	}

	tx := &memTx{
		store:    m,
		sessions: make(map[int64]models.Session),
		forms:    make(map[int64]models.SurveillanceForm),
	}
	if err := fn(tx); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for id, s := range tx.sessions {
		m.sessions[id] = s
	}
	for id, f := range tx.forms {
		m.forms[id] = f
	}
	for _, r := range tx.resolutions {
		r.ID = m.nextID
		m.nextID++
		m.resolutions = append(m.resolutions, r)
		if tx.inserted != nil {
			tx.inserted.ID = r.ID
		}
	}
	return nil
}

func (m *memStore) ListResolutions(_ context.Context, filter models.ConflictLogFilter, scope []int64, page models.Page) ([]models.SessionConflictResolution, int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listCalls++

	var matched []models.SessionConflictResolution
	for _, r := range m.resolutions {
		if filter.SiteID != nil && r.SiteID != *filter.SiteID {
			continue
		}
		if filter.Month != nil && r.Month != *filter.Month {
			continue
		}
		if filter.Year != nil && r.Year != *filter.Year {
			continue
		}
		if filter.SessionID != nil && !containsID(r.SessionIDs, *filter.SessionID) {
			continue
		}
		if scope != nil && !containsID(scope, r.SiteID) {
			continue
		}
		matched = append(matched, r)
	}
	sort.Slice(matched, func(i, j int) bool {
		if !matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].CreatedAt.After(matched[j].CreatedAt)
		}
		return matched[i].ID > matched[j].ID
	})

	total := int64(len(matched))
	start := page.Offset()
	if start > len(matched) {
		start = len(matched)
	}
	end := start + page.Size
	if end > len(matched) {
		end = len(matched)
	}
	return matched[start:end], total, nil
}

func (m *memStore) FindConflictGroups(_ context.Context, filter models.ConflictLogFilter, scope []int64) ([]models.ConflictGroup, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	buckets := make(map[partition][]int64)
	for _, s := range m.sessions {
		bucket, ok := s.BucketDate()
		if !ok {
			continue
		}
		p := partition{SiteID: s.SiteID, Month: int(bucket.Month()), Year: bucket.Year()}
		if filter.SiteID != nil && p.SiteID != *filter.SiteID {
			continue
		}
		if filter.Month != nil && p.Month != *filter.Month {
			continue
		}
		if filter.Year != nil && p.Year != *filter.Year {
			continue
		}
		if scope != nil && !containsID(scope, p.SiteID) {
			continue
		}
		buckets[p] = append(buckets[p], s.ID)
	}

	var groups []models.ConflictGroup
	for p, ids := range buckets {
		if len(ids) < 2 {
			continue
		}
		sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
		groups = append(groups, models.ConflictGroup{SiteID: p.SiteID, Month: p.Month, Year: p.Year, SessionIDs: ids})
	}
	sort.Slice(groups, func(i, j int) bool {
		if groups[i].Year != groups[j].Year {
			return groups[i].Year > groups[j].Year
		}
		if groups[i].Month != groups[j].Month {
			return groups[i].Month > groups[j].Month
		}
		return groups[i].SiteID < groups[j].SiteID
	})
	return groups, nil
}

type memTx struct {
	store       *memStore
	sessions    map[int64]models.Session
	forms       map[int64]models.SurveillanceForm
	resolutions []models.SessionConflictResolution
	inserted    *models.SessionConflictResolution
}

func (t *memTx) current(id int64) (models.Session, bool) {
	if s, ok := t.sessions[id]; ok {
		return s, true
	}
	t.store.mu.Lock()
	defer t.store.mu.Unlock()
	s, ok := t.store.sessions[id]
	return s, ok
}

func (t *memTx) currentForm(sessionID int64) (models.SurveillanceForm, bool) {
	if f, ok := t.forms[sessionID]; ok {
		return f, true
	}
	t.store.mu.Lock()
	defer t.store.mu.Unlock()
	f, ok := t.store.forms[sessionID]
	return f, ok
}

func (t *memTx) LockSessions(ctx context.Context, ids []int64) ([]models.Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var out []models.Session
	for _, id := range ids {
		if s, ok := t.current(id); ok {
			out = append(out, s)
		}
	}
	return out, nil
}

func (t *memTx) FormsForSessions(ctx context.Context, sessionIDs []int64) ([]models.SurveillanceForm, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var out []models.SurveillanceForm
	for _, id := range sessionIDs {
		if f, ok := t.currentForm(id); ok {
			out = append(out, f)
		}
	}
	return out, nil
}

func (t *memTx) UpdateSessions(ctx context.Context, ids []int64, updates map[string]interface{}) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if t.store.failOn == "sessions" {
		return 0, errInjected
	}
	var n int64
	for _, id := range ids {
		s, ok := t.current(id)
		if !ok {
			continue
		}
		if err := applySessionColumns(&s, updates); err != nil {
			return n, err
		}
		t.sessions[id] = s
		n++
	}
	if t.store.shortUpdate {
		n--
	}
	return n, nil
}

func (t *memTx) UpdateForms(ctx context.Context, sessionIDs []int64, updates map[string]interface{}) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if t.store.failOn == "forms" {
		return 0, errInjected
	}
	var n int64
	for _, id := range sessionIDs {
		f, ok := t.currentForm(id)
		if !ok {
			continue
		}
		if err := applyFormColumns(&f, updates); err != nil {
			return n, err
		}
		t.forms[id] = f
		n++
	}
	return n, nil
}

func (t *memTx) InsertResolution(ctx context.Context, resolution *models.SessionConflictResolution) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if t.store.failOn == "insert" {
		return errInjected
	}
	t.resolutions = append(t.resolutions, *resolution)
	t.inserted = resolution
	return nil
}

func applySessionColumns(s *models.Session, updates map[string]interface{}) error {
	for column, value := range updates {
		switch column {
		case "collector_title":
			s.CollectorTitle = value.(string)
		case "collector_name":
			s.CollectorName = value.(string)
		case "collection_date":
			v := value.(time.Time)
			s.CollectionDate = &v
		case "collection_method":
			s.CollectionMethod = value.(string)
		case "specimen_condition":
			s.SpecimenCondition = value.(string)
		case "created_at":
			v := value.(time.Time)
			s.CreatedAt = &v
		case "completed_at":
			v := value.(time.Time)
			s.CompletedAt = &v
		case "notes":
			s.Notes = value.(string)
		case "latitude":
			v := value.(float64)
			s.Latitude = &v
		case "longitude":
			v := value.(float64)
			s.Longitude = &v
		case "type":
			s.Type = models.SessionType(value.(string))
		case "collector_last_trained_on":
			v := value.(time.Time)
			s.CollectorLastTrainedOn = &v
		case "hardware_id":
			s.HardwareID = value.(string)
		case "total_specimens":
			s.TotalSpecimens = value.(int)
		default:
			return fmt.Errorf("unknown session column %q", column)
		}
	}
	return nil
}

func applyFormColumns(f *models.SurveillanceForm, updates map[string]interface{}) error {
	for column, value := range updates {
		switch column {
		case "num_people_slept_in_house":
			v := value.(int)
			f.NumPeopleSleptInHouse = &v
		case "was_irs_conducted":
			f.WasIrsConducted = value.(string)
		case "months_since_irs":
			v := value.(int)
			f.MonthsSinceIrs = &v
		case "num_llins_available":
			v := value.(int)
			f.NumLlinsAvailable = &v
		case "llin_type":
			f.LlinType = value.(string)
		case "llin_brand":
			f.LlinBrand = value.(string)
		case "num_people_slept_under_llin":
			v := value.(int)
			f.NumPeopleSleptUnderLlin = &v
		default:
			return fmt.Errorf("unknown form column %q", column)
		}
	}
	return nil
}

func containsID(ids []int64, id int64) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []map[string]interface{}
	fail   bool
}

func (p *recordingPublisher) PublishEvent(_ context.Context, eventType, _, _ string, data map[string]interface{}) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.fail {
		return errors.New("broker unavailable")
	}
	copied := map[string]interface{}{"type": eventType}
	for k, v := range data {
		copied[k] = v
	}
	p.events = append(p.events, copied)
	return nil
}

func (p *recordingPublisher) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.events)
}

type recordingCache struct {
	mu        sync.Mutex
	districts []string
}

func (c *recordingCache) InvalidateDistrict(_ context.Context, district string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.districts = append(c.districts, district)
	return nil
}
