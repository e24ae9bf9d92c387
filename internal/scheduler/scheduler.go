package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"sync"
	"time"

	"incidentwatch/internal/bus"
	"incidentwatch/internal/correlate"
	"incidentwatch/internal/incidents"
	"incidentwatch/internal/metrics"
	"incidentwatch/internal/monitor"
)

var ErrUnknownProfile = errors.New("unknown scan profile")

// Profile is a scan the registry repeats every Interval. Cooldown is the
// minimum time between two notifications for the same incident id; zero
// means an incident is announced once per worker lifetime.
type Profile struct {
	Name        string
	DeviceID    string
	Threshold   float64
	MinDuration time.Duration
	Interval    time.Duration
	Cooldown    time.Duration
}

func (p Profile) Query() incidents.Query {
	return incidents.Query{DeviceID: p.DeviceID, Threshold: p.Threshold, MinDuration: p.MinDuration}
}

type Scanner interface {
	ListIncidents(ctx context.Context, q incidents.Query) ([]correlate.Incident, error)
}

type Publisher interface {
	Publish(subject string, payload any) error
}

type Registry struct {
	mu         sync.Mutex
	jobs       map[string]*Job
	queue      chan string
	scanner    Scanner
	publisher  Publisher
	ctx        context.Context
	cancel     context.CancelFunc
	jobTimeout time.Duration
	logger     *slog.Logger
	now        func() time.Time
}

type Job struct {
	profile  Profile
	cooldown *monitor.Cooldown
	stop     chan struct{}
	last     RunResult
}

type JobInfo struct {
	Name            string    `json:"name"`
	DeviceID        string    `json:"deviceId,omitempty"`
	Threshold       float64   `json:"threshold"`
	MinDuration     string    `json:"minDuration"`
	IntervalSeconds int       `json:"intervalSeconds"`
	LastRun         time.Time `json:"lastRun,omitempty"`
	LastIncidents   int       `json:"lastIncidents"`
	LastError       string    `json:"lastError,omitempty"`
}

type RunResult struct {
	Profile    string    `json:"profile"`
	At         time.Time `json:"at"`
	Incidents  int       `json:"incidents"`
	Published  int       `json:"published"`
	Suppressed int       `json:"suppressed"`
	Failed     int       `json:"failed"`
	Err        string    `json:"error,omitempty"`
}

// NewRegistry starts workers goroutines that run queued scans. publisher may
// be nil, in which case scans run but nothing is announced.
func NewRegistry(scanner Scanner, publisher Publisher, workers int, jobTimeout time.Duration, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	if workers <= 0 {
		workers = 1
	}
	ctx, cancel := context.WithCancel(context.Background())
	reg := &Registry{
		jobs:       map[string]*Job{},
		queue:      make(chan string, 128),
		scanner:    scanner,
		publisher:  publisher,
		ctx:        ctx,
		cancel:     cancel,
		jobTimeout: jobTimeout,
		logger:     logger,
		now:        func() time.Time { return time.Now().UTC() },
	}
	for i := 0; i < workers; i++ {
		go reg.worker()
	}
	return reg
}

func (r *Registry) Stop() {
	r.cancel()
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, job := range r.jobs {
		close(job.stop)
	}
	r.jobs = map[string]*Job{}
}

// Schedule starts or replaces the ticker of a profile. Replacing a profile
// resets its cooldown state.
func (r *Registry) Schedule(profile Profile) error {
	if profile.Name == "" {
		return errors.New("profile name is required")
	}
	if profile.Interval <= 0 {
		return fmt.Errorf("profile %s: interval must be positive", profile.Name)
	}
	period := profile.Cooldown
	if period <= 0 {
		period = time.Duration(math.MaxInt64)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.jobs[profile.Name]; ok {
		close(existing.stop)
	}
	job := &Job{profile: profile, cooldown: monitor.NewCooldown(period), stop: make(chan struct{})}
	r.jobs[profile.Name] = job
	go r.runTicker(job)
	return nil
}

func (r *Registry) Unschedule(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if job, ok := r.jobs[name]; ok {
		close(job.stop)
		delete(r.jobs, name)
	}
}

func (r *Registry) ListJobs() []JobInfo {
	r.mu.Lock()
	defer r.mu.Unlock()
	jobs := make([]JobInfo, 0, len(r.jobs))
	for name, job := range r.jobs {
		jobs = append(jobs, JobInfo{
			Name:            name,
			DeviceID:        job.profile.DeviceID,
			Threshold:       job.profile.Threshold,
			MinDuration:     job.profile.MinDuration.String(),
			IntervalSeconds: int(job.profile.Interval / time.Second),
			LastRun:         job.last.At,
			LastIncidents:   job.last.Incidents,
			LastError:       job.last.Err,
		})
	}
	sort.Slice(jobs, func(i, j int) bool { return jobs[i].Name < jobs[j].Name })
	return jobs
}

func (r *Registry) runTicker(job *Job) {
	ticker := time.NewTicker(job.profile.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			select {
			case r.queue <- job.profile.Name:
			default:
				r.logger.Warn("scan queue full, skipping tick", slog.String("profile", job.profile.Name))
			}
		case <-job.stop:
			return
		case <-r.ctx.Done():
			return
		}
	}
}

func (r *Registry) worker() {
	for {
		select {
		case name := <-r.queue:
			if _, err := r.RunOnce(r.ctx, name); err != nil && !errors.Is(err, ErrUnknownProfile) {
				r.logger.Error("scan failed", slog.String("profile", name), slog.String("error", err.Error()))
			}
		case <-r.ctx.Done():
			return
		}
	}
}

// RunOnce scans one profile now and announces incidents that are outside
// their cooldown. The cooldown starts only once an announcement is published,
// so a failed publish is retried on the next run.
func (r *Registry) RunOnce(ctx context.Context, name string) (RunResult, error) {
	r.mu.Lock()
	job, ok := r.jobs[name]
	r.mu.Unlock()
	if !ok {
		return RunResult{}, fmt.Errorf("%s: %w", name, ErrUnknownProfile)
	}
	if r.jobTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.jobTimeout)
		defer cancel()
	}
	now := r.now()
	result := RunResult{Profile: name, At: now}
	found, err := r.scanner.ListIncidents(ctx, job.profile.Query())
	if err != nil {
		result.Err = err.Error()
		r.record(job, result)
		return result, err
	}
	result.Incidents = len(found)
	for _, inc := range found {
		if !job.cooldown.Ready(inc.ID, now) {
			result.Suppressed++
			metrics.NotificationsPublishedTotal.WithLabelValues("suppressed").Inc()
			continue
		}
		if r.publisher == nil {
			continue
		}
		if err := r.publisher.Publish(bus.SubjectIncidentDetected, notification(name, inc, now)); err != nil {
			result.Failed++
			metrics.NotificationsPublishedTotal.WithLabelValues("failed").Inc()
			r.logger.Error("publish incident failed", slog.String("incident", inc.ID), slog.String("error", err.Error()))
			continue
		}
		job.cooldown.Mark(inc.ID, now)
		result.Published++
		metrics.NotificationsPublishedTotal.WithLabelValues("published").Inc()
	}
	job.cooldown.Forget(now)
	r.record(job, result)
	if result.Published > 0 {
		r.logger.Info("incidents announced", slog.String("profile", name), slog.Int("published", result.Published), slog.Int("suppressed", result.Suppressed))
	}
	return result, nil
}

func (r *Registry) record(job *Job, result RunResult) {
	r.mu.Lock()
	defer r.mu.Unlock()
	job.last = result
}

func notification(profile string, inc correlate.Incident, now time.Time) bus.IncidentNotification {
	n := bus.IncidentNotification{
		ID:          bus.NewNotificationID(),
		Profile:     profile,
		IncidentID:  inc.ID,
		DeviceID:    inc.DeviceID,
		Start:       inc.Start,
		End:         inc.End,
		Duration:    inc.Duration.String(),
		MaxScore:    inc.MaxScore,
		PublishedAt: now,
	}
	seen := map[string]bool{}
	for _, a := range inc.SensorAnomalies {
		if !seen[a.Sensor] {
			seen[a.Sensor] = true
			n.Sensors = append(n.Sensors, a.Sensor)
		}
	}
	for _, e := range inc.Events {
		n.Events = append(n.Events, e.Identifier)
	}
	return n
}
