package mongobase

import (
	"sort"
	"sync"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
)

// DefaultMaxProfiles bounds how many finished commands a CommandProfiler keeps
const DefaultMaxProfiles = 10000

// CommandProfile tracks execution details for a single driver command
type CommandProfile struct {
	RequestID    int64
	Command      string // "find", "aggregate", "commitTransaction"
	Database     string
	Collection   string   // empty for commands that do not target a collection
	FilterFields []string // top-level keys of the command's filter, if any
	StartTime    time.Time
	Duration     time.Duration
	Error        error
}

// CommandProfiler collects driver command timings reported by the command
// monitor of every client built from a Config that carries it.
type CommandProfiler struct {
	mu                   sync.RWMutex
	pending              map[int64]CommandProfile
	profiles             []CommandProfile
	slowCommandThreshold time.Duration
	maxProfiles          int
	enabled              bool
}

// NewCommandProfiler creates a new command profiler
func NewCommandProfiler() *CommandProfiler {
	return &CommandProfiler{
		pending:              make(map[int64]CommandProfile),
		profiles:             make([]CommandProfile, 0),
		slowCommandThreshold: DefaultSlowCommandThreshold,
		maxProfiles:          DefaultMaxProfiles,
		enabled:              true,
	}
}

// SetSlowCommandThreshold sets the duration threshold for slow commands
func (p *CommandProfiler) SetSlowCommandThreshold(d time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.slowCommandThreshold = d
}

// SetEnabled enables or disables profiling
func (p *CommandProfiler) SetEnabled(enabled bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.enabled = enabled
	if !enabled {
		p.pending = make(map[int64]CommandProfile)
	}
}

func (p *CommandProfiler) started(requestID int64, command, database string, body bson.Raw) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.enabled {
		return
	}

	profile := CommandProfile{
		RequestID: requestID,
		Command:   command,
		Database:  database,
		StartTime: time.Now(),
	}
	if body != nil {
		if v, err := body.LookupErr(command); err == nil {
			profile.Collection, _ = v.StringValueOK()
		}
		if v, err := body.LookupErr("filter"); err == nil {
			if doc, ok := v.DocumentOK(); ok {
				profile.FilterFields = topLevelKeys(doc)
			}
		}
	}
	p.pending[requestID] = profile
}

func (p *CommandProfiler) finished(requestID int64, command string, duration time.Duration, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.enabled {
		return
	}

	profile, ok := p.pending[requestID]
	if !ok {
		// Started before the profiler was enabled
		profile = CommandProfile{RequestID: requestID, Command: command, StartTime: time.Now().Add(-duration)}
	}
	delete(p.pending, requestID)

	profile.Duration = duration
	profile.Error = err
	p.profiles = append(p.profiles, profile)
	if over := len(p.profiles) - p.maxProfiles; over > 0 {
		p.profiles = append(p.profiles[:0:0], p.profiles[over:]...)
	}
}

// Profiles returns all recorded profiles
func (p *CommandProfiler) Profiles() []CommandProfile {
	p.mu.RLock()
	defer p.mu.RUnlock()

	result := make([]CommandProfile, len(p.profiles))
	copy(result, p.profiles)
	return result
}

// SlowCommands returns commands that exceeded the slow command threshold
func (p *CommandProfiler) SlowCommands() []CommandProfile {
	p.mu.RLock()
	defer p.mu.RUnlock()

	slow := make([]CommandProfile, 0)
	for _, profile := range p.profiles {
		if profile.Duration > p.slowCommandThreshold {
			slow = append(slow, profile)
		}
	}
	return slow
}

// FailedCommands returns commands the server or driver rejected
func (p *CommandProfiler) FailedCommands() []CommandProfile {
	p.mu.RLock()
	defer p.mu.RUnlock()

	failed := make([]CommandProfile, 0)
	for _, profile := range p.profiles {
		if profile.Error != nil {
			failed = append(failed, profile)
		}
	}
	return failed
}

// Reset clears all recorded and in-flight profiles
func (p *CommandProfiler) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.pending = make(map[int64]CommandProfile)
	p.profiles = make([]CommandProfile, 0)
}

// ProfileSummary is a statistical summary of recorded commands
type ProfileSummary struct {
	TotalCommands   int
	SlowCommands    int
	FailedCommands  int
	AverageDuration time.Duration
	P50Duration     time.Duration
	P95Duration     time.Duration
	P99Duration     time.Duration
	ByCommand       map[string]CommandStats
}

type CommandStats struct {
	Count           int
	Failures        int
	TotalDuration   time.Duration
	AverageDuration time.Duration
	MaxDuration     time.Duration
	MinDuration     time.Duration
}

// Summary returns a statistical summary of all profiles
func (p *CommandProfiler) Summary() ProfileSummary {
	p.mu.RLock()
	defer p.mu.RUnlock()

	summary := ProfileSummary{
		TotalCommands: len(p.profiles),
		ByCommand:     make(map[string]CommandStats),
	}

	if len(p.profiles) == 0 {
		return summary
	}

	var totalDuration time.Duration
	durations := make([]time.Duration, 0, len(p.profiles))

	for _, profile := range p.profiles {
		totalDuration += profile.Duration
		durations = append(durations, profile.Duration)

		if profile.Duration > p.slowCommandThreshold {
			summary.SlowCommands++
		}
		if profile.Error != nil {
			summary.FailedCommands++
		}

		stats := summary.ByCommand[profile.Command]
		stats.Count++
		stats.TotalDuration += profile.Duration
		if stats.Count == 1 || profile.Duration > stats.MaxDuration {
			stats.MaxDuration = profile.Duration
		}
		if stats.Count == 1 || profile.Duration < stats.MinDuration {
			stats.MinDuration = profile.Duration
		}
		if profile.Error != nil {
			stats.Failures++
		}
		summary.ByCommand[profile.Command] = stats
	}

	summary.AverageDuration = totalDuration / time.Duration(len(p.profiles))
	for command, stats := range summary.ByCommand {
		stats.AverageDuration = stats.TotalDuration / time.Duration(stats.Count)
		summary.ByCommand[command] = stats
	}

	sort.Slice(durations, func(i, j int) bool {
		return durations[i] < durations[j]
	})
	summary.P50Duration = durations[len(durations)*50/100]
	summary.P95Duration = durations[len(durations)*95/100]
	summary.P99Duration = durations[len(durations)*99/100]

	return summary
}

func topLevelKeys(doc bson.Raw) []string {
	elems, err := doc.Elements()
	if err != nil {
		return nil
	}
	keys := make([]string, 0, len(elems))
	for _, e := range elems {
		keys = append(keys, e.Key())
	}
	return keys
}
