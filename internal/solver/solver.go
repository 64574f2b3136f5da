// Package solver implements the alignment search (spec component C3):
// for a site and a UTC date, sweep the ephemeris port across a search
// window and emit candidate Events wherever the body's azimuth and
// altitude fall within tolerance of the apex geometry.
package solver

import (
	"context"
	"math"
	"time"

	"github.com/skytower/alignments/internal/domain"
	"github.com/skytower/alignments/internal/ephemeris"
	"github.com/skytower/alignments/internal/geometry"
	"github.com/skytower/alignments/internal/log"
	"github.com/skytower/alignments/internal/observability"
)

var logger = log.Logger()

// PrecisionMode selects the (azimuth, elevation) tolerance pair (spec §4.3
// step 2/4). It does not change the sweep step: that is Options.Step when
// set, otherwise stepForRange for a one-day window (30s).
type PrecisionMode string

const (
	PrecisionHigh   PrecisionMode = "high"
	PrecisionMedium PrecisionMode = "medium"
	PrecisionLow    PrecisionMode = "low"
)

// tolerances is the (azimuth, elevation) pair in degrees for a mode.
type tolerances struct {
	azimuth   float64
	elevation float64
}

var toleranceByMode = map[PrecisionMode]tolerances{
	PrecisionHigh:   {azimuth: 1.0, elevation: 0.5},
	PrecisionMedium: {azimuth: 2.0, elevation: 1.0},
	PrecisionLow:    {azimuth: 3.0, elevation: 2.0},
}

// ModeForRange picks a precision mode from a date-range length, spec
// §4.3 step 2's automatic selection.
func ModeForRange(days int) PrecisionMode {
	switch {
	case days <= 180:
		return PrecisionMedium // maps to the 30s step table entry alongside medium-band tolerance
	case days <= 730:
		return PrecisionLow
	default:
		return PrecisionLow
	}
}

// stepForRange returns the sweep step spec §4.3 step 2 assigns by range.
func stepForRange(days int) time.Duration {
	switch {
	case days <= 180:
		return 30 * time.Second
	case days <= 730:
		return 120 * time.Second
	default:
		return 300 * time.Second
	}
}

const (
	minVisibleAltitude = -6.0
	maxAltitudeSun     = 35.0
	maxAltitudeMoon    = 65.0
	elevationBandWidth = 5.0
)

// AccuracyThresholds are the four step-function cutoffs (spec §4.3),
// passed in through Options. DefaultOptions fills them with the
// hard-coded defaults; nothing in this module reads them from Settings.
type AccuracyThresholds struct {
	Perfect, Excellent, Good, Fair float64
}

// Options parameterizes a single Solve call. Zero-value Options uses
// sane defaults (medium precision, default thresholds, no explicit step).
type Options struct {
	Mode               PrecisionMode
	Step               time.Duration // overrides the mode/range-derived step when non-zero
	AzimuthThresholds  AccuracyThresholds
	ElevationThresholds AccuracyThresholds
	MinMoonIllumination float64
}

func defaultThresholds() AccuracyThresholds {
	return AccuracyThresholds{Perfect: 0.1, Excellent: 0.25, Good: 0.4, Fair: 0.6}
}

// DefaultOptions returns the hard-coded fallbacks spec §4.4's settings
// table uses when nothing overrides them.
func DefaultOptions() Options {
	return Options{
		Mode:                PrecisionMedium,
		AzimuthThresholds:   defaultThresholds(),
		ElevationThresholds: defaultThresholds(),
		MinMoonIllumination: 0.1,
	}
}

// Solver sweeps the ephemeris port for alignment candidates.
type Solver struct {
	ephemeris ephemeris.Provider
	observer  observability.ObserverInterface
}

// New constructs a Solver against the given ephemeris capability port.
func New(provider ephemeris.Provider) *Solver {
	return &Solver{ephemeris: provider, observer: observability.Observer()}
}

type candidate struct {
	instant          time.Time
	azimuthDiff      float64
	elevationDiff    float64
	bodyAzimuth      float64
	bodyAltitude     float64
	moonPhase        float64
	moonIllumination float64
}

// Solve produces candidate Events for one site and one calendar day in
// the site's local timezone, per spec §4.3's search/group/select
// procedure. eventTypes restricts which of the four kinds to search for.
func (s *Solver) Solve(ctx context.Context, site domain.Site, day time.Time, loc *time.Location, eventTypes []domain.EventType, opts Options) ([]domain.Event, error) {
	_, span := s.observer.CreateSpan(ctx, "solver.Solve")
	defer span.End()

	// Apex geometry (azimuth/elevation-to-apex) is pre-baked into site by C9;
	// the solver only validates it is finite before sweeping.
	if math.IsNaN(site.AzimuthToApexDeg) || math.IsInf(site.AzimuthToApexDeg, 0) ||
		math.IsNaN(site.ElevationToApexDeg) || math.IsInf(site.ElevationToApexDeg, 0) {
		return nil, &geometry.InvalidGeometryError{Operation: "solver.Solve", Reason: "site apex geometry is not finite"}
	}

	if opts.AzimuthThresholds == (AccuracyThresholds{}) {
		opts.AzimuthThresholds = defaultThresholds()
	}
	if opts.ElevationThresholds == (AccuracyThresholds{}) {
		opts.ElevationThresholds = defaultThresholds()
	}
	if opts.MinMoonIllumination == 0 {
		opts.MinMoonIllumination = 0.1
	}

	var events []domain.Event
	for _, et := range eventTypes {
		evs, err := s.solveOne(ctx, site, day, loc, et, opts)
		if err != nil {
			return nil, err
		}
		events = append(events, evs...)
	}
	return events, nil
}

func (s *Solver) solveOne(ctx context.Context, site domain.Site, day time.Time, loc *time.Location, et domain.EventType, opts Options) ([]domain.Event, error) {
	body := ephemeris.Sun
	maxAlt := maxAltitudeSun
	direction := ephemeris.Rising
	if et.IsPearl() {
		body = ephemeris.Moon
		maxAlt = maxAltitudeMoon
	}
	if et == domain.DiamondSunset || et == domain.PearlSetting {
		direction = ephemeris.Setting
	}

	windowStart, windowEnd := s.searchWindow(ctx, body, day, loc, site, direction)

	rangeDays := 1
	step := opts.Step
	if step == 0 {
		step = stepForRange(rangeDays)
	}
	tol, ok := toleranceByMode[opts.Mode]
	if !ok {
		tol = toleranceByMode[PrecisionMedium]
	}

	var accepted []candidate
	for t := windowStart; t.Before(windowEnd); t = t.Add(step) {
		pos, phase, illum, err := s.position(ctx, body, t, site)
		if err != nil {
			logger.WarnContext(ctx, "ephemeris position unavailable, skipping instant", "error", err, "instant", t)
			continue
		}
		if pos.Altitude <= minVisibleAltitude {
			continue
		}

		azimuthDiff := geometry.AzimuthDifference(pos.Azimuth, site.AzimuthToApexDeg)
		elevationDiff := elevationOvershoot(pos.Altitude, maxAlt)

		if azimuthDiff <= tol.azimuth && elevationDiff <= tol.elevation {
			accepted = append(accepted, candidate{
				instant:          t,
				azimuthDiff:      azimuthDiff,
				elevationDiff:    elevationDiff,
				bodyAzimuth:      pos.Azimuth,
				bodyAltitude:     pos.Altitude,
				moonPhase:        phase,
				moonIllumination: illum,
			})
		}
	}

	groups := s.groupCandidates(ctx, accepted, site, body, maxAlt)
	events := make([]domain.Event, 0, len(groups))
	for key, group := range groups {
		// Only groups whose rise/set class matches the requested event
		// type yield an event of that type.
		if key.rising != (direction == ephemeris.Rising) {
			continue
		}
		best := selectBest(group)

		if et.IsPearl() && best.moonIllumination < opts.MinMoonIllumination {
			continue
		}

		azAcc := stepAccuracy(best.azimuthDiff, opts.AzimuthThresholds)
		elAcc := stepAccuracy(best.elevationDiff, opts.ElevationThresholds)
		accuracy := domain.WorseAccuracy(azAcc, elAcc)

		quality := qualityScore(best.azimuthDiff, tol.azimuth, best.bodyAltitude)

		ev := domain.Event{
			SiteID:           site.ID,
			EventDate:        day,
			EventTime:        best.instant,
			EventType:        et,
			CelestialAzimuth: best.bodyAzimuth,
			ApexElevation:    site.ElevationToApexDeg,
			QualityScore:     quality,
			Accuracy:         accuracy,
			CalculationYear:  day.In(loc).Year(),
		}
		if et.IsPearl() {
			phase := best.moonPhase
			illum := best.moonIllumination
			ev.MoonPhaseDegrees = &phase
			ev.MoonIllumination = &illum
		}
		events = append(events, ev)
	}

	return events, nil
}

// searchWindow computes the sweep bounds for one event type, per spec
// §4.3 step 1: full local day for diamond events, a ±6h window around
// moonrise/moonset for pearl events (falling back to a half-day split).
func (s *Solver) searchWindow(ctx context.Context, body ephemeris.Body, day time.Time, loc *time.Location, site domain.Site, direction ephemeris.Direction) (time.Time, time.Time) {
	localMidnight := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, loc)

	if body == ephemeris.Sun {
		return localMidnight.UTC(), localMidnight.Add(24 * time.Hour).UTC()
	}

	crossing, err := s.ephemeris.RiseSet(ctx, body, localMidnight, site.Latitude, site.Longitude, direction, 1)
	if err == nil && crossing != nil {
		return crossing.Add(-6 * time.Hour), crossing.Add(6 * time.Hour)
	}

	if direction == ephemeris.Rising {
		return localMidnight.UTC(), localMidnight.Add(12 * time.Hour).UTC()
	}
	return localMidnight.Add(12 * time.Hour).UTC(), localMidnight.Add(24 * time.Hour).UTC()
}

func (s *Solver) position(ctx context.Context, body ephemeris.Body, t time.Time, site domain.Site) (ephemeris.Position, float64, float64, error) {
	if body == ephemeris.Sun {
		pos, err := s.ephemeris.SunPosition(ctx, t, site.Latitude, site.Longitude)
		return pos, 0, 0, err
	}
	moon, err := s.ephemeris.MoonPosition(ctx, t, site.Latitude, site.Longitude)
	return moon.Position, moon.PhaseDegrees, moon.Illumination, err
}

// elevationOvershoot is 0 inside [0, maxAlt], else the (non-negative)
// distance outside that band (spec §4.3 step 3).
func elevationOvershoot(altitude, maxAlt float64) float64 {
	if altitude < 0 {
		return -altitude
	}
	if altitude > maxAlt {
		return altitude - maxAlt
	}
	return 0
}

// groupKey partitions by elevation band and rise/set class (spec §4.3 step 5).
type groupKey struct {
	band    int
	rising  bool
}

// altitudeSampleWindow is the ±window spec §4.3 step 5 uses to classify a
// Moon candidate's rise/set direction ("the sign of altitude change
// between 10 min before and after the candidate").
const altitudeSampleWindow = 10 * time.Minute

// groupCandidates partitions accepted candidates by (elevation band,
// rise/set class), spec §4.3 step 5. The Sun is classified by the
// site's apex bearing alone; the Moon is classified by the sign of its
// altitude change across a ±10 minute window around the candidate,
// falling back to bearing when that sample is unavailable.
func (s *Solver) groupCandidates(ctx context.Context, candidates []candidate, site domain.Site, body ephemeris.Body, maxAlt float64) map[groupKey][]candidate {
	groups := make(map[groupKey][]candidate)
	bearingRising := site.AzimuthToApexDeg < 180

	for _, c := range candidates {
		band := int(math.Min(c.bodyAltitude, maxAlt) / elevationBandWidth)

		rising := bearingRising
		if body == ephemeris.Moon {
			rising = s.moonRisingAt(ctx, site, c.instant, bearingRising)
		}

		key := groupKey{band: band, rising: rising}
		groups[key] = append(groups[key], c)
	}
	return groups
}

// moonRisingAt samples the Moon's altitude 10 minutes before and after t
// and reports whether it is climbing (spec §4.3 step 5's primary rule),
// falling back to bearingRising when either sample fails.
func (s *Solver) moonRisingAt(ctx context.Context, site domain.Site, t time.Time, bearingRising bool) bool {
	before, err := s.ephemeris.MoonPosition(ctx, t.Add(-altitudeSampleWindow), site.Latitude, site.Longitude)
	if err != nil {
		return bearingRising
	}
	after, err := s.ephemeris.MoonPosition(ctx, t.Add(altitudeSampleWindow), site.Latitude, site.Longitude)
	if err != nil {
		return bearingRising
	}
	return after.Position.Altitude > before.Position.Altitude
}

// selectBest picks the candidate minimizing totalScore = azimuthDiff +
// 2*elevationDiff within a group (spec §4.3 step 6).
func selectBest(group []candidate) candidate {
	best := group[0]
	bestScore := best.azimuthDiff + 2*best.elevationDiff
	for _, c := range group[1:] {
		score := c.azimuthDiff + 2*c.elevationDiff
		if score < bestScore {
			best, bestScore = c, score
		}
	}
	return best
}

func stepAccuracy(diff float64, th AccuracyThresholds) domain.Accuracy {
	switch {
	case diff <= th.Perfect:
		return domain.AccuracyPerfect
	case diff <= th.Excellent:
		return domain.AccuracyExcellent
	case diff <= th.Good:
		return domain.AccuracyGood
	default:
		return domain.AccuracyFair
	}
}

// qualityScore implements spec §4.3's exact formula.
func qualityScore(azimuthDiff, azimuthTolerance, bodyAltitude float64) int {
	azimuthTerm := math.Max(0, 50-50*azimuthDiff/azimuthTolerance)
	altitudeTerm := math.Min(30, math.Max(0, bodyAltitude+2)*15)
	bonusTerm := math.Min(20, math.Max(0, bodyAltitude)*2)
	return int(math.Round(azimuthTerm + altitudeTerm + bonusTerm))
}
