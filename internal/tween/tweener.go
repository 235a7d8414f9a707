package tween

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/go-gl/mathgl/mgl64"
)

// Apply receives eased progress in [0,1].
type Apply func(p float64)

type animation struct {
	start      time.Time
	duration   time.Duration
	ease       Ease
	apply      Apply
	onComplete func()
	finishing  bool // reached its end, completion pending
}

// Tweener owns the in-flight animations. Step advances them; Run drives Step
// from a ticker. Callbacks run outside the lock so they may start new tweens.
type Tweener struct {
	mu     sync.Mutex
	active map[string]*animation
	now    func() time.Time
}

// New creates a tweener using the wall clock.
func New() *Tweener {
	return NewWithClock(time.Now)
}

// NewWithClock creates a tweener reading time from now.
func NewWithClock(now func() time.Time) *Tweener {
	return &Tweener{
		active: make(map[string]*animation),
		now:    now,
	}
}

// Animate starts an animation on key, replacing any in-flight one on the
// same key without firing its completion. A non-positive duration applies
// the final value immediately.
func (t *Tweener) Animate(key string, d time.Duration, ease Ease, apply Apply, onComplete func()) {
	if ease == nil {
		ease = Linear
	}
	if d <= 0 {
		t.Cancel(key)
		apply(1)
		if onComplete != nil {
			onComplete()
		}
		return
	}

	t.mu.Lock()
	if _, ok := t.active[key]; ok {
		slog.Debug("tween: preempting in-flight animation", "key", key)
	}
	t.active[key] = &animation{
		start:      t.now(),
		duration:   d,
		ease:       ease,
		apply:      apply,
		onComplete: onComplete,
	}
	t.mu.Unlock()
}

// Cancel drops the animation on key, if any, leaving the property where the
// last step put it.
func (t *Tweener) Cancel(key string) {
	t.mu.Lock()
	delete(t.active, key)
	t.mu.Unlock()
}

// CancelAll drops every animation.
func (t *Tweener) CancelAll() {
	t.mu.Lock()
	t.active = make(map[string]*animation)
	t.mu.Unlock()
}

// Active reports whether key is animating.
func (t *Tweener) Active(key string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.active[key]
	return ok
}

// Len returns the number of in-flight animations.
func (t *Tweener) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.active)
}

type step struct {
	key  string
	a    *animation
	p    float64
	done bool
}

// Step advances every animation to now. A finished animation fires its
// completion only if it still owns its key once every apply has run.
func (t *Tweener) Step(now time.Time) {
	t.mu.Lock()
	steps := make([]step, 0, len(t.active))
	for key, a := range t.active {
		if a.finishing {
			continue
		}
		p := float64(now.Sub(a.start)) / float64(a.duration)
		if p < 0 {
			p = 0
		}
		done := p >= 1
		if done {
			p = 1
			a.finishing = true
		}
		steps = append(steps, step{key: key, a: a, p: a.ease(p), done: done})
	}
	t.mu.Unlock()

	for _, s := range steps {
		s.a.apply(s.p)
	}

	var completions []func()
	t.mu.Lock()
	for _, s := range steps {
		if !s.done || t.active[s.key] != s.a {
			continue
		}
		delete(t.active, s.key)
		if s.a.onComplete != nil {
			completions = append(completions, s.a.onComplete)
		}
	}
	t.mu.Unlock()

	for _, fn := range completions {
		fn()
	}
}

// Run steps the animations every interval until ctx is done.
func (t *Tweener) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			t.Step(t.now())
		}
	}
}

// Lerp interpolates scalars.
func Lerp(from, to, p float64) float64 {
	return from + (to-from)*p
}

// Vec3 builds an Apply that interpolates from → to and hands the value to set.
func Vec3(from, to mgl64.Vec3, set func(mgl64.Vec3)) Apply {
	return func(p float64) {
		set(from.Add(to.Sub(from).Mul(p)))
	}
}

// Scalar builds an Apply for a single value.
func Scalar(from, to float64, set func(float64)) Apply {
	return func(p float64) {
		set(Lerp(from, to, p))
	}
}
