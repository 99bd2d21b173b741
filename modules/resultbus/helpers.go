package resultbus

// CalculateDropRate returns the drop rate for a subscriber (0.0 to 1.0).
// For DropOld subscribers a drop is a result replaced before it was read.
// Returns 0.0 if nothing has been sent.
func CalculateDropRate(stats *SubscriberStats) float64 {
	if stats == nil {
		return 0.0
	}

	var total uint64
	switch stats.Policy {
	case DropOld:
		total = stats.Sent
	default:
		total = stats.Sent + stats.Dropped
	}
	if total == 0 {
		return 0.0
	}
	return float64(stats.Dropped) / float64(total)
}
