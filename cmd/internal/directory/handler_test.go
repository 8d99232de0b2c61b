package directory

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"
)

// fakeStore is an in-memory Store used to exercise the HTTP surface.
type fakeStore struct {
	mu      sync.Mutex
	gyms    map[string]Gym
	reviews map[string]Review
	nextID  int
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		gyms:    map[string]Gym{},
		reviews: map[string]Review{},
	}
}

func (f *fakeStore) id(prefix string) string {
	f.nextID++
	return fmt.Sprintf("%s-%d", prefix, f.nextID)
}

func (f *fakeStore) CreateGym(_ context.Context, g Gym) (Gym, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	g.Name = strings.TrimSpace(g.Name)
	g.City = strings.TrimSpace(g.City)
	g.OwnerID = strings.TrimSpace(g.OwnerID)
	if g.Name == "" || g.City == "" || g.OwnerID == "" {
		return Gym{}, fmt.Errorf("%w: name, city and owner required", ErrInvalidInput)
	}
	if len(g.Pictures) == 0 {
		return Gym{}, fmt.Errorf("%w: at least one picture required", ErrInvalidInput)
	}
	g.ID = f.id("gym")
	g.CreatedAt = time.Now().UTC()
	f.gyms[g.ID] = g
	return g, nil
}

func (f *fakeStore) GetGymByID(_ context.Context, gymID string) (Gym, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	g, ok := f.gyms[gymID]
	if !ok {
		return Gym{}, ErrNotFound
	}
	return g, nil
}

func (f *fakeStore) ListGyms(_ context.Context, ownerID, search string) ([]Gym, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var out []Gym
	for _, g := range f.gyms {
		if ownerID != "" && g.OwnerID != ownerID {
			continue
		}
		if search != "" && !strings.Contains(strings.ToLower(g.Name), strings.ToLower(search)) {
			continue
		}
		out = append(out, g)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (f *fakeStore) UpdateGym(_ context.Context, g Gym) (Gym, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	existing, ok := f.gyms[g.ID]
	if !ok {
		return Gym{}, ErrNotFound
	}
	g.OwnerID = existing.OwnerID
	g.CreatedAt = existing.CreatedAt
	f.gyms[g.ID] = g
	return g, nil
}

func (f *fakeStore) DeleteGym(_ context.Context, gymID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if _, ok := f.gyms[gymID]; !ok {
		return ErrNotFound
	}
	delete(f.gyms, gymID)
	return nil
}

func (f *fakeStore) CreateReview(_ context.Context, r Review) (Review, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if r.Rating < 1 || r.Rating > 5 {
		return Review{}, fmt.Errorf("%w: rating must be between 1 and 5", ErrInvalidInput)
	}
	if strings.TrimSpace(r.Content) == "" {
		return Review{}, fmt.Errorf("%w: content required", ErrInvalidInput)
	}
	r.ID = f.id("rev")
	r.CreatedAt = time.Now().UTC()
	f.reviews[r.ID] = r

	g := f.gyms[r.GymID]
	g.AmountOfReviews++
	f.gyms[r.GymID] = g
	return r, nil
}

func (f *fakeStore) ListReviewsForGym(_ context.Context, gymID string) ([]Review, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var out []Review
	for _, r := range f.reviews {
		if r.GymID == gymID {
			out = append(out, r)
		}
	}
	return out, nil
}

func (f *fakeStore) UpdateReview(_ context.Context, reviewID string, rating int, content string) (Review, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	r, ok := f.reviews[reviewID]
	if !ok {
		return Review{}, ErrNotFound
	}
	r.Rating = rating
	r.Content = content
	f.reviews[reviewID] = r
	return r, nil
}

func (f *fakeStore) DeleteReview(_ context.Context, reviewID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if _, ok := f.reviews[reviewID]; !ok {
		return ErrNotFound
	}
	delete(f.reviews, reviewID)
	return nil
}

// fakeRenamer records scope relabel calls.
type fakeRenamer struct {
	calls []renameCall
	count int64
	err   error
}

type renameCall struct {
	ownerID, oldScope, newScope string
}

func (f *fakeRenamer) RenameGymScope(_ context.Context, ownerID, oldScope, newScope string) (int64, error) {
	f.calls = append(f.calls, renameCall{ownerID, oldScope, newScope})
	return f.count, f.err
}

func newDirectoryHandler(t *testing.T, store Store, renamer ScopeRenamer) http.Handler {
	t.Helper()

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	h := NewHandler(log, store, renamer)
	mux := http.NewServeMux()
	h.Register(mux)
	return mux
}

func doJSON(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()

	var rd io.Reader
	if body != "" {
		rd = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, rd)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func mustCreateGym(t *testing.T, h http.Handler, name, owner string) Gym {
	t.Helper()

	body := fmt.Sprintf(`{"name":%q,"city":"Berlin","pictures":["p1.jpg"],"owner_id":%q}`, name, owner)
	rec := doJSON(t, h, http.MethodPost, "/api/gyms", body)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create gym: status %d body=%s", rec.Code, rec.Body.String())
	}
	var resp struct {
		Gym Gym `json:"gym"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode create response: %v", err)
	}
	return resp.Gym
}

func TestCreateAndGetGym(t *testing.T) {
	t.Parallel()

	h := newDirectoryHandler(t, newFakeStore(), nil)
	gym := mustCreateGym(t, h, "Iron Temple", "owner-1")

	rec := doJSON(t, h, http.MethodGet, "/api/gyms/"+gym.ID, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("get gym: status %d", rec.Code)
	}
	var resp struct {
		Gym Gym `json:"gym"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Gym.Name != "Iron Temple" || resp.Gym.OwnerID != "owner-1" {
		t.Fatalf("gym: %+v", resp.Gym)
	}
}

func TestCreateGym_ValidationRejected(t *testing.T) {
	t.Parallel()

	h := newDirectoryHandler(t, newFakeStore(), nil)

	rec := doJSON(t, h, http.MethodPost, "/api/gyms", `{"name":"","city":"Berlin","pictures":["p.jpg"],"owner_id":"o1"}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status: got %d want 400, body=%s", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, h, http.MethodPost, "/api/gyms", `{"name":"No Pics","city":"Berlin","pictures":[],"owner_id":"o1"}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status: got %d want 400, body=%s", rec.Code, rec.Body.String())
	}
}

func TestGetGym_NotFound(t *testing.T) {
	t.Parallel()

	h := newDirectoryHandler(t, newFakeStore(), nil)
	rec := doJSON(t, h, http.MethodGet, "/api/gyms/nope", "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status: got %d want 404", rec.Code)
	}
}

func TestListGyms_OwnerAndSearchFilters(t *testing.T) {
	t.Parallel()

	h := newDirectoryHandler(t, newFakeStore(), nil)
	mustCreateGym(t, h, "Iron Temple", "owner-1")
	mustCreateGym(t, h, "Iron Works", "owner-1")
	mustCreateGym(t, h, "Flex Freaks", "owner-2")

	rec := doJSON(t, h, http.MethodGet, "/api/gyms?owner=owner-1&search=iron", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status: %d", rec.Code)
	}
	var resp struct {
		Gyms []Gym `json:"gyms"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(resp.Gyms) != 2 {
		t.Fatalf("gyms: got %d want 2: %+v", len(resp.Gyms), resp.Gyms)
	}

	// Empty result stays a JSON array, never null.
	rec = doJSON(t, h, http.MethodGet, "/api/gyms?search=nosuchgym", "")
	if !strings.Contains(rec.Body.String(), `"gyms":[]`) {
		t.Fatalf("empty list body: %s", rec.Body.String())
	}
}

func TestUpdateGym_NameChangeRelabelsChatScope(t *testing.T) {
	t.Parallel()

	store := newFakeStore()
	renamer := &fakeRenamer{count: 3}
	h := newDirectoryHandler(t, store, renamer)
	gym := mustCreateGym(t, h, "Old Name", "owner-1")

	body := `{"name":"New Name","city":"Berlin","pictures":["p1.jpg"]}`
	rec := doJSON(t, h, http.MethodPut, "/api/gyms/"+gym.ID, body)
	if rec.Code != http.StatusOK {
		t.Fatalf("status: %d body=%s", rec.Code, rec.Body.String())
	}

	if len(renamer.calls) != 1 {
		t.Fatalf("renamer calls: got %d want 1", len(renamer.calls))
	}
	call := renamer.calls[0]
	if call.ownerID != "owner-1" || call.oldScope != "Old Name" || call.newScope != "New Name" {
		t.Fatalf("renamer call: %+v", call)
	}
}

func TestUpdateGym_SameNameSkipsRelabel(t *testing.T) {
	t.Parallel()

	renamer := &fakeRenamer{}
	h := newDirectoryHandler(t, newFakeStore(), renamer)
	gym := mustCreateGym(t, h, "Steady Name", "owner-1")

	body := `{"name":"Steady Name","city":"Hamburg","pictures":["p1.jpg"]}`
	rec := doJSON(t, h, http.MethodPut, "/api/gyms/"+gym.ID, body)
	if rec.Code != http.StatusOK {
		t.Fatalf("status: %d", rec.Code)
	}
	if len(renamer.calls) != 0 {
		t.Fatalf("relabel must not run for unchanged name: %+v", renamer.calls)
	}
}

func TestRenameGym_ReportsConversationsUpdated(t *testing.T) {
	t.Parallel()

	renamer := &fakeRenamer{count: 2}
	h := newDirectoryHandler(t, newFakeStore(), renamer)
	gym := mustCreateGym(t, h, "Old Name", "owner-1")

	rec := doJSON(t, h, http.MethodPost, "/api/gyms/"+gym.ID+"/rename", `{"name":"New Name"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status: %d body=%s", rec.Code, rec.Body.String())
	}

	var resp struct {
		Gym                  Gym   `json:"gym"`
		ConversationsUpdated int64 `json:"conversations_updated"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Gym.Name != "New Name" {
		t.Fatalf("gym name: %q", resp.Gym.Name)
	}
	if resp.Gym.City != "Berlin" {
		t.Fatalf("rename must preserve city, got %q", resp.Gym.City)
	}
	if resp.ConversationsUpdated != 2 {
		t.Fatalf("conversations_updated: got %d want 2", resp.ConversationsUpdated)
	}
}

func TestRenameGym_BlankNameRejected(t *testing.T) {
	t.Parallel()

	h := newDirectoryHandler(t, newFakeStore(), &fakeRenamer{})
	gym := mustCreateGym(t, h, "Has Name", "owner-1")

	rec := doJSON(t, h, http.MethodPost, "/api/gyms/"+gym.ID+"/rename", `{"name":"  "}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status: got %d want 400", rec.Code)
	}
}

func TestReviewLifecycle(t *testing.T) {
	t.Parallel()

	h := newDirectoryHandler(t, newFakeStore(), nil)
	gym := mustCreateGym(t, h, "Review Me", "owner-1")

	body := fmt.Sprintf(`{"rating":5,"content":"great squat racks","user_id":"u1","gym_id":%q}`, gym.ID)
	rec := doJSON(t, h, http.MethodPost, "/api/reviews", body)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create review: status %d body=%s", rec.Code, rec.Body.String())
	}
	var created struct {
		Review Review `json:"review"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &created); err != nil {
		t.Fatalf("decode: %v", err)
	}

	rec = doJSON(t, h, http.MethodPut, "/api/reviews/"+created.Review.ID, `{"rating":3,"content":"racks got crowded"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("update review: status %d", rec.Code)
	}

	rec = doJSON(t, h, http.MethodGet, "/api/gyms/"+gym.ID+"/reviews", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("list reviews: status %d", rec.Code)
	}
	var listed struct {
		Reviews []Review `json:"reviews"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &listed); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(listed.Reviews) != 1 || listed.Reviews[0].Rating != 3 {
		t.Fatalf("reviews: %+v", listed.Reviews)
	}

	rec = doJSON(t, h, http.MethodDelete, "/api/reviews/"+created.Review.ID, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("delete review: status %d", rec.Code)
	}
	rec = doJSON(t, h, http.MethodDelete, "/api/reviews/"+created.Review.ID, "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("double delete: status %d want 404", rec.Code)
	}
}

func TestCreateReview_RatingOutOfRange(t *testing.T) {
	t.Parallel()

	h := newDirectoryHandler(t, newFakeStore(), nil)
	rec := doJSON(t, h, http.MethodPost, "/api/reviews", `{"rating":6,"content":"too good","user_id":"u1","gym_id":"g1"}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status: got %d want 400", rec.Code)
	}
}
