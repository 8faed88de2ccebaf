package handlers

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http/httptest"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"battletrails/database"
	"battletrails/feed"
	"battletrails/maps"
	"battletrails/middleware"
	"battletrails/models"
	"battletrails/push"
	"battletrails/storage"

	"github.com/SherClockHolmes/webpush-go"
	"github.com/gin-gonic/gin"
	"github.com/goccy/go-json"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type fakePosts struct {
	mu     sync.Mutex
	posts  map[primitive.ObjectID]*models.Post
	routes map[primitive.ObjectID]*models.Route
}

func newFakePosts() *fakePosts {
	return &fakePosts{
		posts:  make(map[primitive.ObjectID]*models.Post),
		routes: make(map[primitive.ObjectID]*models.Route),
	}
}

func (f *fakePosts) add(p models.Post, wps ...models.Waypoint) primitive.ObjectID {
	f.mu.Lock()
	defer f.mu.Unlock()
	if p.ID.IsZero() {
		p.ID = primitive.NewObjectID()
	}
	f.posts[p.ID] = &p
	f.routes[p.ID] = &models.Route{ID: p.ID, Waypoints: wps}
	return p.ID
}

func (f *fakePosts) CreatePost(_ context.Context, post *models.Post, route *models.Route) error {
	post.ID = primitive.NewObjectID()
	route.ID = post.ID
	f.add(*post, route.Waypoints...)
	return nil
}

func (f *fakePosts) GetPost(_ context.Context, id primitive.ObjectID) (*models.Post, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.posts[id]
	if !ok {
		return nil, database.ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (f *fakePosts) GetRoute(_ context.Context, id primitive.ObjectID) (*models.Route, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.routes[id]
	if !ok {
		return nil, database.ErrNotFound
	}
	cp := *r
	return &cp, nil
}

func (f *fakePosts) FirstWaypoint(_ context.Context, id primitive.ObjectID) (models.GeoPoint, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.routes[id]
	if !ok || len(r.Waypoints) == 0 {
		return models.GeoPoint{}, database.ErrNotFound
	}
	return r.Waypoints[0].Location, nil
}

// list returns posts matching keep, in insertion-independent id order.
func (f *fakePosts) list(keep func(*models.Post) bool) []models.Post {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.Post
	for _, p := range f.posts {
		if keep(p) {
			out = append(out, *p)
		}
	}
	slices.SortFunc(out, func(a, b models.Post) int { return strings.Compare(a.ID.Hex(), b.ID.Hex()) })
	return out
}

func (f *fakePosts) ListPosts(context.Context) ([]models.Post, error) {
	return f.list(func(*models.Post) bool { return true }), nil
}

func (f *fakePosts) ListPostsByUser(_ context.Context, userID primitive.ObjectID) ([]models.Post, error) {
	return f.list(func(p *models.Post) bool { return p.UserID == userID }), nil
}

func (f *fakePosts) ListPostsByIDs(_ context.Context, ids []primitive.ObjectID) ([]models.Post, error) {
	return f.list(func(p *models.Post) bool { return slices.Contains(ids, p.ID) }), nil
}

func (f *fakePosts) owned(postID, userID primitive.ObjectID) (*models.Post, error) {
	p, ok := f.posts[postID]
	if !ok {
		return nil, database.ErrNotFound
	}
	if p.UserID != userID {
		return nil, database.ErrForbidden
	}
	return p, nil
}

func (f *fakePosts) UpdatePost(_ context.Context, postID, userID primitive.ObjectID, upd database.PostUpdate) (*models.Post, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, err := f.owned(postID, userID)
	if err != nil {
		return nil, err
	}
	p.Title, p.Description, p.Location, p.Images = upd.Title, upd.Description, upd.Location, upd.Images
	f.routes[postID] = &models.Route{ID: postID, Waypoints: upd.Waypoints}
	cp := *p
	return &cp, nil
}

func (f *fakePosts) DeletePost(_ context.Context, postID, userID primitive.ObjectID) (*models.Post, *models.Route, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, err := f.owned(postID, userID)
	if err != nil {
		return nil, nil, err
	}
	r := f.routes[postID]
	delete(f.posts, postID)
	delete(f.routes, postID)
	return p, r, nil
}

func (f *fakePosts) LikePost(_ context.Context, postID, userID primitive.ObjectID) (*models.Post, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.posts[postID]
	if !ok {
		return nil, false, database.ErrNotFound
	}
	changed := !p.LikedByUser(userID)
	if changed {
		p.LikedBy = append(p.LikedBy, userID)
		p.Likes++
	}
	cp := *p
	return &cp, changed, nil
}

func (f *fakePosts) UnlikePost(_ context.Context, postID, userID primitive.ObjectID) (*models.Post, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.posts[postID]
	if !ok {
		return nil, false, database.ErrNotFound
	}
	changed := p.LikedByUser(userID)
	if changed {
		p.LikedBy = slices.DeleteFunc(p.LikedBy, func(id primitive.ObjectID) bool { return id == userID })
		p.Likes--
	}
	cp := *p
	return &cp, changed, nil
}

func (f *fakePosts) ViewPost(_ context.Context, postID primitive.ObjectID) (*models.Post, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.posts[postID]
	if !ok {
		return nil, database.ErrNotFound
	}
	p.Views++
	cp := *p
	return &cp, nil
}

type fakeUsers struct {
	mu    sync.Mutex
	users map[primitive.ObjectID]*models.User
	now   func() time.Time
}

func newFakeUsers() *fakeUsers {
	return &fakeUsers{users: make(map[primitive.ObjectID]*models.User), now: time.Now}
}

func (f *fakeUsers) add(u models.User) primitive.ObjectID {
	f.mu.Lock()
	defer f.mu.Unlock()
	if u.ID.IsZero() {
		u.ID = primitive.NewObjectID()
	}
	f.users[u.ID] = &u
	return u.ID
}

func (f *fakeUsers) byEmail(email string) *models.User {
	for _, u := range f.users {
		if strings.EqualFold(u.Email, email) {
			return u
		}
	}
	return nil
}

func (f *fakeUsers) CreateUser(_ context.Context, user *models.User) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.byEmail(user.Email) != nil {
		return database.ErrAlreadyExists
	}
	user.ID = primitive.NewObjectID()
	cp := *user
	f.users[user.ID] = &cp
	return nil
}

func (f *fakeUsers) GetUser(_ context.Context, id primitive.ObjectID) (*models.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[id]
	if !ok {
		return nil, database.ErrNotFound
	}
	cp := *u
	return &cp, nil
}

func (f *fakeUsers) GetUserByEmail(_ context.Context, email string) (*models.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	u := f.byEmail(email)
	if u == nil {
		return nil, database.ErrNotFound
	}
	cp := *u
	return &cp, nil
}

func (f *fakeUsers) GetUsersByIDs(_ context.Context, ids []primitive.ObjectID) (map[primitive.ObjectID]models.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[primitive.ObjectID]models.User)
	for _, id := range ids {
		if u, ok := f.users[id]; ok {
			out[id] = *u
		}
	}
	return out, nil
}

func (f *fakeUsers) UpdateProfile(_ context.Context, id primitive.ObjectID, upd database.ProfileUpdate) (*models.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[id]
	if !ok {
		return nil, database.ErrNotFound
	}
	if upd.Name != nil {
		u.Name = *upd.Name
	}
	if upd.Username != nil {
		u.Username = *upd.Username
	}
	if upd.Avatar != nil {
		u.Avatar = *upd.Avatar
	}
	cp := *u
	return &cp, nil
}

func (f *fakeUsers) RecordGoogleLogin(_ context.Context, p database.GoogleProfile) (*models.User, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if u := f.byEmail(p.Email); u != nil {
		u.GoogleID = &p.GoogleID
		cp := *u
		return &cp, false, nil
	}
	u := &models.User{
		ID:           primitive.NewObjectID(),
		Email:        p.Email,
		AuthProvider: models.ProviderGoogle,
		GoogleID:     &p.GoogleID,
		Name:         p.Name,
		Username:     p.Username,
		Avatar:       p.Picture,
	}
	f.users[u.ID] = u
	cp := *u
	return &cp, true, nil
}

func (f *fakeUsers) TouchUser(context.Context, primitive.ObjectID) error { return nil }

func (f *fakeUsers) SavePost(_ context.Context, userID, postID primitive.ObjectID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[userID]
	if !ok {
		return database.ErrNotFound
	}
	if !u.HasSaved(postID) {
		u.Saved = append(u.Saved, postID)
	}
	return nil
}

func (f *fakeUsers) UnsavePost(_ context.Context, userID, postID primitive.ObjectID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[userID]
	if !ok {
		return database.ErrNotFound
	}
	u.Saved = slices.DeleteFunc(u.Saved, func(id primitive.ObjectID) bool { return id == postID })
	return nil
}

func (f *fakeUsers) SetResetToken(_ context.Context, userID primitive.ObjectID, tokenHash string, expires int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[userID]
	if !ok {
		return database.ErrNotFound
	}
	u.ResetTokenHash, u.ResetExpires = tokenHash, expires
	return nil
}

func (f *fakeUsers) ResetPassword(_ context.Context, tokenHash, passwordHash string) (*models.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, u := range f.users {
		if u.ResetTokenHash == tokenHash && u.ResetExpires > f.now().Unix() {
			u.PasswordHash = &passwordHash
			u.ResetTokenHash, u.ResetExpires = "", 0
			cp := *u
			return &cp, nil
		}
	}
	return nil, database.ErrNotFound
}

type fakeSubs struct {
	mu   sync.Mutex
	subs map[primitive.ObjectID][]webpush.Subscription
}

func (f *fakeSubs) SaveSubscription(_ context.Context, userID primitive.ObjectID, sub webpush.Subscription) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.subs == nil {
		f.subs = make(map[primitive.ObjectID][]webpush.Subscription)
	}
	f.subs[userID] = append(f.subs[userID], sub)
	return nil
}

type fakeImages struct {
	mu      sync.Mutex
	deleted []string
	fail    map[string]bool
	err     error
}

func (f *fakeImages) Upload(_ context.Context, file io.Reader, owner string) (*storage.Image, error) {
	if f.err != nil {
		return nil, f.err
	}
	if _, err := io.Copy(io.Discard, file); err != nil {
		return nil, err
	}
	id := "battletrails/" + owner + "_1"
	return &storage.Image{URL: "https://res.cloudinary.com/demo/image/upload/v1/" + id + ".jpg", PublicID: id}, nil
}

func (f *fakeImages) Delete(_ context.Context, url string) error {
	if f.err != nil {
		return f.err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail[url] {
		return errors.New("destroy failed")
	}
	f.deleted = append(f.deleted, url)
	return nil
}

type fakePlaces struct {
	err        error
	directions *maps.Directions
	points     []models.GeoPoint
}

func (f *fakePlaces) Autocomplete(_ context.Context, input string) ([]maps.Prediction, error) {
	if f.err != nil {
		return nil, f.err
	}
	return []maps.Prediction{{Description: input + ", España", PlaceID: "p1"}}, nil
}

func (f *fakePlaces) Details(_ context.Context, placeID string) (*maps.Place, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &maps.Place{PlaceID: placeID, Name: "Covadonga"}, nil
}

func (f *fakePlaces) Directions(_ context.Context, points []models.GeoPoint) (*maps.Directions, error) {
	f.points = points
	if f.err != nil {
		return nil, f.err
	}
	return f.directions, nil
}

type published struct {
	subject string
	v       any
}

type fakeEvents struct {
	mu     sync.Mutex
	events []published
}

func (f *fakeEvents) Publish(subject string, v any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, published{subject, v})
}

func (f *fakeEvents) subjects() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, e := range f.events {
		out = append(out, e.subject)
	}
	return out
}

type fakeHub struct {
	mu     sync.Mutex
	events []string
}

func (f *fakeHub) Broadcast(eventType string, _ any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, eventType)
}

type notified struct {
	userID primitive.ObjectID
	note   push.Notification
}

type fakePush struct {
	mu   sync.Mutex
	sent []notified
	key  string
}

func (f *fakePush) Notify(userID primitive.ObjectID, note push.Notification) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, notified{userID, note})
}

func (f *fakePush) PublicKey() string { return f.key }

type fixture struct {
	h      *Handler
	posts  *fakePosts
	users  *fakeUsers
	subs   *fakeSubs
	images *fakeImages
	places *fakePlaces
	events *fakeEvents
	hub    *fakeHub
	push   *fakePush
	now    time.Time
}

const testSecret = "test-secret"

func newFixture() *fixture {
	f := &fixture{
		posts:  newFakePosts(),
		users:  newFakeUsers(),
		subs:   &fakeSubs{},
		images: &fakeImages{},
		places: &fakePlaces{},
		events: &fakeEvents{},
		hub:    &fakeHub{},
		push:   &fakePush{key: "BPublicKey"},
		now:    time.Unix(1_700_000_000, 0),
	}
	f.users.now = func() time.Time { return f.now }
	f.h = New(Handler{
		Posts:     f.posts,
		Users:     f.users,
		Subs:      f.subs,
		Images:    f.images,
		Places:    f.places,
		Feed:      feed.NewEngine(f.posts, 4, 0),
		Events:    f.events,
		Hub:       f.hub,
		Push:      f.push,
		JWTSecret: testSecret,
		ResetURL:  "https://battletrails.app/reset",
		Now:       func() time.Time { return f.now },
	})
	return f
}

// serve runs one request through a single route. A non-zero userID is set as
// the authenticated caller.
func serve(method, pattern string, handler gin.HandlerFunc, userID primitive.ObjectID, path string, body any) *httptest.ResponseRecorder {
	r := gin.New()
	r.Handle(method, pattern, func(c *gin.Context) {
		if !userID.IsZero() {
			c.Set(middleware.UserIDKey, userID.Hex())
		}
		c.Next()
	}, handler)

	var reader io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		reader = strings.NewReader(b)
	default:
		raw, _ := json.Marshal(b)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.Unmarshal(w.Body.Bytes(), v); err != nil {
		t.Fatalf("decode %q: %v", w.Body.String(), err)
	}
}

func expectStatus(t *testing.T, w *httptest.ResponseRecorder, want int) {
	t.Helper()
	if w.Code != want {
		t.Fatalf("status = %d, want %d, body %s", w.Code, want, w.Body.String())
	}
}
