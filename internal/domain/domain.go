// Package domain holds the entities shared across components (spec §3
// DATA MODEL): Site, Event, Job and their enumerations. Settings lives in
// its own package since it owns its cache; everything else that crosses
// a component boundary lives here so C5/C6/C8/C9 agree on shape.
package domain

import "time"

// SiteStatus is whether a site is currently offered to the public.
type SiteStatus string

const (
	SiteActive     SiteStatus = "active"
	SiteRestricted SiteStatus = "restricted"
)

// Site is a ground observation point (spec §3 Site).
type Site struct {
	ID               int64
	Name             string
	Prefecture       string
	Latitude         float64
	Longitude        float64
	ElevationMeters  float64
	Notes            string
	Status           SiteStatus

	// Derived, recomputed whenever Latitude/Longitude/ElevationMeters change.
	AzimuthToApexDeg   float64
	ElevationToApexDeg float64
	DistanceToApexM    float64

	CreatedAt time.Time
	UpdatedAt time.Time
}

// EventType is one of the four alignment kinds the solver can emit.
type EventType string

const (
	DiamondSunrise EventType = "diamond-sunrise"
	DiamondSunset  EventType = "diamond-sunset"
	PearlRising    EventType = "pearl-rising"
	PearlSetting   EventType = "pearl-setting"
)

// IsPearl reports whether an event type carries moon fields.
func (t EventType) IsPearl() bool {
	return t == PearlRising || t == PearlSetting
}

// Accuracy is a coarsening of an Event's qualityScore (spec §4.3).
type Accuracy string

const (
	AccuracyPerfect   Accuracy = "perfect"
	AccuracyExcellent Accuracy = "excellent"
	AccuracyGood      Accuracy = "good"
	AccuracyFair      Accuracy = "fair"
)

// accuracyRank orders accuracy from best to worst so "worse of" (spec
// §4.3 emitted-attributes rule) can be computed with a simple max.
var accuracyRank = map[Accuracy]int{
	AccuracyPerfect:   0,
	AccuracyExcellent: 1,
	AccuracyGood:      2,
	AccuracyFair:      3,
}

// WorseAccuracy returns whichever of a, b ranks worse.
func WorseAccuracy(a, b Accuracy) Accuracy {
	if accuracyRank[a] >= accuracyRank[b] {
		return a
	}
	return b
}

// Event is a computed alignment occurrence (spec §3 Event). Created only
// by the event cache component; never mutated after insertion.
type Event struct {
	ID                int64
	SiteID            int64
	EventDate         time.Time // calendar day, site-local
	EventTime         time.Time // precise instant, UTC
	EventType         EventType
	CelestialAzimuth  float64
	ApexElevation     float64
	QualityScore      int
	Accuracy          Accuracy
	MoonPhaseDegrees  *float64
	MoonIllumination  *float64
	CalculationYear   int
}

// JobKind distinguishes the three kinds of deferred work C6 runs.
type JobKind string

const (
	JobSiteCalculation    JobKind = "site-calculation"
	JobMonthlyCalculation JobKind = "monthly-calculation"
	JobDataCleanup        JobKind = "data-cleanup"
)

// JobPriority is the three-level priority band spec §3 Job defines.
type JobPriority string

const (
	PriorityLow    JobPriority = "low"
	PriorityNormal JobPriority = "normal"
	PriorityHigh   JobPriority = "high"
)

// JobState is the lifecycle state of a Job.
type JobState string

const (
	JobWaiting   JobState = "waiting"
	JobActive    JobState = "active"
	JobCompleted JobState = "completed"
	JobFailed    JobState = "failed"
	JobDelayed   JobState = "delayed"
)

// Job is a unit of deferred work (spec §3 Job).
type Job struct {
	ID            string
	Kind          JobKind
	DedupKey      string // e.g. "monthly-2026-3"; empty means not deduplicated
	Payload       map[string]any
	Priority      JobPriority
	Attempts      int
	MaxAttempts   int
	State         JobState
	ScheduledAt   time.Time
	LastError     string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Admin is a minimal credential principal (spec §3 Admin); refresh tokens
// and hashing live with the external auth collaborator, not here.
type Admin struct {
	ID           int64
	Username     string
	PasswordHash string
	CreatedAt    time.Time
}
