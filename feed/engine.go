// Package feed narrows and orders the home feed.
//
// Each active filter selects a percentile bucket of the searched list and
// combining filters keeps the intersection of those buckets in input order.
package feed

import (
	"cmp"
	"context"
	"fmt"
	"math"
	"slices"
	"time"

	"battletrails/logging"
	"battletrails/metrics"
	"battletrails/models"

	"github.com/rs/zerolog"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"golang.org/x/sync/errgroup"
)

// Bucket sizes in percent of the current list.
var percentiles = map[Tag]int{
	Popular:    20,
	MostViewed: 30,
	Discover:   20,
	Nearby:     30,
}

// Locator resolves the coordinates of a post's first waypoint.
type Locator interface {
	FirstWaypoint(ctx context.Context, postID primitive.ObjectID) (models.GeoPoint, error)
}

type Engine struct {
	locator Locator
	workers int
	timeout time.Duration
	log     zerolog.Logger
}

// NewEngine returns an engine that resolves at most workers locations at once.
// A zero timeout leaves lookups bounded only by the caller's context.
func NewEngine(locator Locator, workers int, timeout time.Duration) *Engine {
	if workers < 1 {
		workers = 1
	}
	return &Engine{
		locator: locator,
		workers: workers,
		timeout: timeout,
		log:     logging.WithComponent("feed"),
	}
}

// BucketSize is ceil(n*pct/100), never more than n.
func BucketSize(n, pct int) int {
	if n <= 0 {
		return 0
	}
	return min((n*pct+99)/100, n)
}

// Apply returns the posts visible under sel. A single active filter returns
// its ranked bucket. Several active filters each pick a bucket from the same
// input list, and only posts present in all of them are kept, in input order.
// viewer may be nil, in which case every post is treated as unreachable by
// the distance filter. Apply never fails; lookups that error are ranked last.
func (e *Engine) Apply(ctx context.Context, posts []models.Post, sel Selection, viewer *models.GeoPoint) []models.Post {
	start := time.Now()
	defer func() { metrics.RecordFeedFilter(sel.String(), time.Since(start)) }()

	var buckets [][]models.Post
	for _, tag := range Tags {
		if !sel.Has(tag) {
			continue
		}
		if len(posts) == 0 {
			return []models.Post{}
		}
		buckets = append(buckets, e.bucket(ctx, tag, posts, viewer))
	}
	switch len(buckets) {
	case 0:
		return posts
	case 1:
		return buckets[0]
	}

	sets := make([]map[primitive.ObjectID]bool, len(buckets))
	for i, bucket := range buckets {
		sets[i] = make(map[primitive.ObjectID]bool, len(bucket))
		for _, p := range bucket {
			sets[i][p.ID] = true
		}
	}
	kept := make([]models.Post, 0, len(buckets[0]))
	for _, p := range posts {
		if inAll(sets, p.ID) {
			kept = append(kept, p)
		}
	}
	return kept
}

// bucket ranks posts for tag and keeps its percentile.
func (e *Engine) bucket(ctx context.Context, tag Tag, posts []models.Post, viewer *models.GeoPoint) []models.Post {
	size := BucketSize(len(posts), percentiles[tag])
	switch tag {
	case Popular:
		return ranked(posts, size, func(a, b models.Post) int { return cmp.Compare(b.Likes, a.Likes) })
	case MostViewed:
		return ranked(posts, size, func(a, b models.Post) int { return cmp.Compare(b.Views, a.Views) })
	case Discover:
		return ranked(posts, size, func(a, b models.Post) int { return cmp.Compare(a.Likes, b.Likes) })
	case Nearby:
		return e.nearest(ctx, posts, size, viewer)
	}
	return posts
}

func inAll(sets []map[primitive.ObjectID]bool, id primitive.ObjectID) bool {
	for _, set := range sets {
		if !set[id] {
			return false
		}
	}
	return true
}

// ranked stable-sorts a copy of posts and keeps the first size entries.
func ranked(posts []models.Post, size int, compare func(a, b models.Post) int) []models.Post {
	sorted := slices.Clone(posts)
	slices.SortStableFunc(sorted, compare)
	return sorted[:size]
}

type scored struct {
	post models.Post
	km   float64
}

func (e *Engine) nearest(ctx context.Context, posts []models.Post, size int, viewer *models.GeoPoint) []models.Post {
	dist := e.distances(ctx, posts, viewer)

	items := make([]scored, len(posts))
	for i, p := range posts {
		items[i] = scored{post: p, km: dist[i]}
	}
	slices.SortStableFunc(items, func(a, b scored) int { return cmp.Compare(a.km, b.km) })

	out := make([]models.Post, size)
	for i := range out {
		out[i] = items[i].post
	}
	return out
}

// distances resolves every post concurrently and waits for all of them.
// Unresolved posts stay at +Inf.
func (e *Engine) distances(ctx context.Context, posts []models.Post, viewer *models.GeoPoint) []float64 {
	dist := make([]float64, len(posts))
	for i := range dist {
		dist[i] = math.Inf(1)
	}
	if viewer == nil || e.locator == nil {
		return dist
	}

	var g errgroup.Group
	g.SetLimit(e.workers)
	for i, p := range posts {
		g.Go(func() error {
			defer func() {
				if r := recover(); r != nil {
					e.lookupFailed(p.ID, fmt.Errorf("panic: %v", r))
				}
			}()

			lctx := ctx
			if e.timeout > 0 {
				var cancel context.CancelFunc
				lctx, cancel = context.WithTimeout(ctx, e.timeout)
				defer cancel()
			}

			point, err := e.locator.FirstWaypoint(lctx, p.ID)
			if err != nil {
				e.lookupFailed(p.ID, err)
				return nil
			}
			dist[i] = Distance(*viewer, point)
			return nil
		})
	}
	_ = g.Wait()
	return dist
}

func (e *Engine) lookupFailed(postID primitive.ObjectID, err error) {
	metrics.FeedLookupFailures.Inc()
	e.log.Warn().Err(err).Str("post_id", postID.Hex()).Msg("route lookup failed, ranking post last")
}
