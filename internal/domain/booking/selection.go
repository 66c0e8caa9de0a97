package booking

// Candidates returns the available observations for hour, one per court, in
// the priority order of courts. Courts missing from the scan or not available
// are skipped: they are detection facts, not booking attempts.
func Candidates(scan Scan, courts []Court, hour int) []SlotObservation {
	var out []SlotObservation
	for _, c := range courts {
		o, ok := scan.Lookup(c.Name, hour)
		if !ok || o.Availability != AvailabilityAvailable {
			continue
		}
		o.Court = c
		out = append(out, o)
	}
	return out
}
