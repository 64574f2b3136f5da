package ephemeris

import (
	"context"
	"math"
	"time"

	"github.com/skytower/alignments/internal/observability"
)

// obliquityOfEcliptic is the (slowly varying, here treated as constant)
// tilt of Earth's axis used to convert ecliptic to equatorial coordinates.
const obliquityOfEcliptic = 23.4392911

// AlgorithmicProvider computes Sun and Moon positions from low-precision
// series (solar: Meeus-style mean elements; lunar: truncated Meeus ch.47
// perturbation series), the same formulas the teacher's astronomy package
// uses for sunrise/sunset and lunar phase, extended here to the full
// topocentric azimuth/altitude the solver needs at arbitrary instants.
type AlgorithmicProvider struct {
	observer observability.ObserverInterface
}

// NewAlgorithmicProvider constructs the default production ephemeris port.
func NewAlgorithmicProvider() *AlgorithmicProvider {
	return &AlgorithmicProvider{observer: observability.Observer()}
}

func (p *AlgorithmicProvider) SunPosition(ctx context.Context, instant time.Time, lat, lon float64) (Position, error) {
	_, span := p.observer.CreateSpan(ctx, "ephemeris.SunPosition")
	defer span.End()

	jd := julianDay(instant)
	n := jd - 2451545.0

	meanLongitude := math.Mod(280.460+0.9856474*n, 360.0)
	meanAnomaly := math.Mod(357.528+0.9856003*n, 360.0) * degToRad
	eclipticLongitude := meanLongitude + 1.915*math.Sin(meanAnomaly) + 0.020*math.Sin(2*meanAnomaly)
	obliquityRad := obliquityOfEcliptic * degToRad
	lambdaRad := eclipticLongitude * degToRad

	rightAscension := math.Atan2(math.Cos(obliquityRad)*math.Sin(lambdaRad), math.Cos(lambdaRad)) * radToDeg
	if rightAscension < 0 {
		rightAscension += 360
	}
	declination := math.Asin(math.Sin(obliquityRad)*math.Sin(lambdaRad)) * radToDeg

	// Earth-Sun distance from the elliptical orbit equation, AU.
	distanceAU := 1.00014 - 0.01671*math.Cos(meanAnomaly) - 0.00014*math.Cos(2*meanAnomaly)

	az, alt := horizontal(jd, rightAscension, declination, lat, lon)
	alt = applyRefraction(alt)

	return Position{Azimuth: az, Altitude: alt, DistanceAU: distanceAU}, nil
}

func (p *AlgorithmicProvider) MoonPosition(ctx context.Context, instant time.Time, lat, lon float64) (MoonPosition, error) {
	_, span := p.observer.CreateSpan(ctx, "ephemeris.MoonPosition")
	defer span.End()

	jd := julianDay(instant)
	t := (jd - 2451545.0) / 36525.0

	meanLongitude := math.Mod(218.3164477+481267.88123421*t-0.0015786*t*t+t*t*t/538841.0-t*t*t*t/65194000.0, 360.0)
	elongation := math.Mod(297.8501921+445267.1114034*t-0.0018819*t*t+t*t*t/545868.0-t*t*t*t/113065000.0, 360.0)
	sunAnomaly := math.Mod(357.5291092+35999.0502909*t-0.0001536*t*t+t*t*t/24490000.0, 360.0)
	moonAnomaly := math.Mod(134.9633964+477198.8675055*t+0.0087414*t*t+t*t*t/69699.0-t*t*t*t/14712000.0, 360.0)
	argLat := math.Mod(93.2720950+483202.0175233*t-0.0036539*t*t-t*t*t/3526000.0+t*t*t*t/863310000.0, 360.0)

	dRad := elongation * degToRad
	mRad := sunAnomaly * degToRad
	mpRad := moonAnomaly * degToRad
	fRad := argLat * degToRad

	lonCorrection := 6.288774*math.Sin(mpRad) +
		1.274027*math.Sin(2*dRad-mpRad) +
		0.658314*math.Sin(2*dRad) +
		0.213618*math.Sin(2*mpRad) -
		0.185116*math.Sin(mRad) -
		0.114332*math.Sin(2*fRad) +
		0.058793*math.Sin(2*(dRad-mpRad)) +
		0.057066*math.Sin(2*dRad-mRad-mpRad) +
		0.053322*math.Sin(2*dRad+mpRad) +
		0.045758*math.Sin(2*dRad-mRad)

	latCorrection := 5.128122*math.Sin(fRad) +
		0.280602*math.Sin(mpRad+fRad) +
		0.277693*math.Sin(mpRad-fRad) +
		0.173237*math.Sin(2*dRad-fRad) +
		0.055413*math.Sin(2*dRad-mpRad+fRad) +
		0.046271*math.Sin(2*dRad-mpRad-fRad) +
		0.032573*math.Sin(2*dRad+fRad)

	distCorrection := -20905.355*math.Cos(mpRad) -
		3699.111*math.Cos(2*dRad-mpRad) -
		2955.968*math.Cos(2*dRad) -
		569.925*math.Cos(2*mpRad) +
		246.158*math.Cos(mRad) -
		204.586*math.Cos(2*fRad) -
		170.733*math.Cos(2*(dRad-mpRad)) -
		152.138*math.Cos(2*dRad-mRad-mpRad)

	eclipticLongitude := meanLongitude + lonCorrection
	eclipticLatitude := latCorrection
	distanceKM := 385000.56 + distCorrection

	obliquityRad := obliquityOfEcliptic * degToRad
	lambdaRad := eclipticLongitude * degToRad
	betaRad := eclipticLatitude * degToRad

	rightAscension := math.Atan2(
		math.Sin(lambdaRad)*math.Cos(obliquityRad)-math.Tan(betaRad)*math.Sin(obliquityRad),
		math.Cos(lambdaRad),
	) * radToDeg
	if rightAscension < 0 {
		rightAscension += 360
	}
	declination := math.Asin(math.Sin(betaRad)*math.Cos(obliquityRad)+math.Cos(betaRad)*math.Sin(obliquityRad)*math.Sin(lambdaRad)) * radToDeg

	// Phase angle: 0 at new moon, 180 at full moon, derived from elongation.
	phaseDegrees := math.Mod(elongation+360, 360)

	az, alt := horizontal(jd, rightAscension, declination, lat, lon)
	alt = applyRefraction(alt)

	return MoonPosition{
		Position:     Position{Azimuth: az, Altitude: alt, DistanceAU: distanceKM / 149597870.7},
		DistanceKM:   distanceKM,
		PhaseDegrees: phaseDegrees,
		Illumination: MoonIllumination(phaseDegrees),
	}, nil
}

// applyRefraction applies a simple standard-atmosphere refraction
// correction near the horizon, the same order of magnitude the teacher's
// sunrise calculation bakes into its 0.833 degree depression constant.
func applyRefraction(trueAltitude float64) float64 {
	if trueAltitude < -5 {
		return trueAltitude
	}
	// Bennett's formula, minutes of arc.
	h := trueAltitude
	if h < -1 {
		h = -1
	}
	refractionArcmin := 1.0 / math.Tan((h+7.31/(h+4.4))*degToRad)
	return trueAltitude + refractionArcmin/60.0
}

// RiseSet locates the instant body crosses the horizon (altitude == 0,
// after refraction) in the requested direction, searching forward from
// instant across searchDays using coarse sampling followed by bisection.
// Returns nil if no crossing is found in the window (polar day/night).
func (p *AlgorithmicProvider) RiseSet(ctx context.Context, body Body, instant time.Time, lat, lon float64, direction Direction, searchDays int) (*time.Time, error) {
	_, span := p.observer.CreateSpan(ctx, "ephemeris.RiseSet")
	defer span.End()

	altitudeAt := func(t time.Time) (float64, error) {
		switch body {
		case Sun:
			pos, err := p.SunPosition(ctx, t, lat, lon)
			return pos.Altitude, err
		default:
			pos, err := p.MoonPosition(ctx, t, lat, lon)
			return pos.Altitude, err
		}
	}

	const sampleStep = 10 * time.Minute
	end := instant.Add(time.Duration(searchDays) * 24 * time.Hour)

	prevAlt, err := altitudeAt(instant)
	if err != nil {
		return nil, err
	}
	prevT := instant

	for t := instant.Add(sampleStep); !t.After(end); t = t.Add(sampleStep) {
		alt, err := altitudeAt(t)
		if err != nil {
			return nil, err
		}

		crossesUp := prevAlt <= 0 && alt > 0
		crossesDown := prevAlt >= 0 && alt < 0
		wanted := (direction == Rising && crossesUp) || (direction == Setting && crossesDown)

		if wanted {
			crossing := bisectCrossing(prevT, t, prevAlt, alt, altitudeAt)
			return &crossing, nil
		}

		prevAlt, prevT = alt, t
	}

	return nil, nil
}

// bisectCrossing refines a rise/set bracket to ~1 second precision.
func bisectCrossing(t0, t1 time.Time, alt0, alt1 float64, altitudeAt func(time.Time) (float64, error)) time.Time {
	for i := 0; i < 20 && t1.Sub(t0) > time.Second; i++ {
		mid := t0.Add(t1.Sub(t0) / 2)
		altMid, err := altitudeAt(mid)
		if err != nil {
			break
		}
		if (alt0 <= 0) == (altMid <= 0) {
			t0, alt0 = mid, altMid
		} else {
			t1, alt1 = mid, altMid
		}
	}
	_ = alt1
	return t0.Add(t1.Sub(t0) / 2)
}
