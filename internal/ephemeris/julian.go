package ephemeris

import (
	"math"
	"time"
)

const (
	degToRad = math.Pi / 180
	radToDeg = 180 / math.Pi
)

// julianDay converts a time.Time (in any location) to a Julian day number,
// the same algorithm the teacher's ephemeris.TimeToJulianDay uses.
func julianDay(t time.Time) float64 {
	utc := t.UTC()
	year, month, day := utc.Year(), int(utc.Month()), utc.Day()

	if month <= 2 {
		year--
		month += 12
	}

	a := year / 100
	b := 2 - a + a/4

	jd := math.Floor(365.25*float64(year+4716)) +
		math.Floor(30.6001*float64(month+1)) +
		float64(day) + float64(b) - 1524.5

	hour := float64(utc.Hour())
	minute := float64(utc.Minute())
	second := float64(utc.Second()) + float64(utc.Nanosecond())/1e9

	jd += (hour-12.0)/24.0 + minute/1440.0 + second/86400.0

	return jd
}

// greenwichMeanSiderealTime returns GMST in degrees for the given Julian day.
func greenwichMeanSiderealTime(jd float64) float64 {
	t := (jd - 2451545.0) / 36525.0
	gmst := 280.46061837 + 360.98564736629*(jd-2451545.0) +
		0.000387933*t*t - t*t*t/38710000.0
	return math.Mod(gmst, 360)
}

// horizontal converts equatorial right ascension/declination (degrees) at
// the given Julian day and observer longitude/latitude into topocentric
// azimuth/altitude (degrees), using the standard hour-angle transform.
func horizontal(jd, rightAscension, declination, lat, lon float64) (azimuth, altitude float64) {
	lst := math.Mod(greenwichMeanSiderealTime(jd)+lon+360*4, 360)
	hourAngle := math.Mod(lst-rightAscension+360, 360)

	haRad := hourAngle * degToRad
	decRad := declination * degToRad
	latRad := lat * degToRad

	sinAlt := math.Sin(decRad)*math.Sin(latRad) + math.Cos(decRad)*math.Cos(latRad)*math.Cos(haRad)
	altRad := math.Asin(clamp(sinAlt, -1, 1))

	cosAz := (math.Sin(decRad) - math.Sin(altRad)*math.Sin(latRad)) / (math.Cos(altRad) * math.Cos(latRad))
	sinAz := -math.Sin(haRad) * math.Cos(decRad) / math.Cos(altRad)
	azRad := math.Atan2(sinAz, clamp(cosAz, -1, 1))

	azimuth = math.Mod(radToDeg*azRad+360, 360)
	altitude = radToDeg * altRad
	return azimuth, altitude
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
