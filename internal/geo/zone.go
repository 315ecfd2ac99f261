package geo

// InTollCountry reports whether a fix lies inside the coarse bounding
// shape of the toll country (Poland): a longitude interval plus two
// diagonal cuts trimming the north-west and north-east corners.
func InTollCountry(lat, lon float64) bool {
	if lon < 14.116667 || lon > 24.15 {
		return false
	}
	if lat < 49.0 {
		return false
	}
	if 54.9-lat-0.3*lon > 0 {
		return false
	}
	if 1.25*lon+20.375-lat > 0 {
		return false
	}
	return true
}
