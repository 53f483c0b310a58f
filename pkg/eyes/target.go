package eyes

// CheckSettings describes what a checkpoint captures and how it is matched.
type CheckSettings struct {
	region     string
	fully      bool
	matchLevel MatchLevel
}

// Window checks the whole page.
func Window() CheckSettings {
	return CheckSettings{}
}

// Region checks only the element matched by selector.
func Region(selector string) CheckSettings {
	return CheckSettings{region: selector}
}

// Fully captures the full scrollable page rather than the viewport.
func (s CheckSettings) Fully() CheckSettings {
	s.fully = true
	return s
}

func (s CheckSettings) MatchLevel(level MatchLevel) CheckSettings {
	s.matchLevel = level
	return s
}

// Layout is shorthand for MatchLevel(Layout).
func (s CheckSettings) Layout() CheckSettings {
	return s.MatchLevel(Layout)
}

func (s CheckSettings) IsFully() bool {
	return s.fully
}

func (s CheckSettings) RegionSelector() string {
	return s.region
}

func (s CheckSettings) Level() MatchLevel {
	return s.matchLevel
}
