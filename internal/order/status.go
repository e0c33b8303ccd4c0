package order

var fulfillmentRank = map[Fulfillment]int{
	FulfillmentPending:    0,
	FulfillmentProcessing: 1,
	FulfillmentShipped:    2,
	FulfillmentDelivered:  3,
}

var fulfillmentOrder = []Fulfillment{
	FulfillmentPending,
	FulfillmentProcessing,
	FulfillmentShipped,
	FulfillmentDelivered,
}

// nextFulfillment returns the stage after f, or false when f is final.
func nextFulfillment(f Fulfillment) (Fulfillment, bool) {
	r, ok := fulfillmentRank[f]
	if !ok || r+1 >= len(fulfillmentOrder) {
		return "", false
	}
	return fulfillmentOrder[r+1], true
}

func stageStatus(f Fulfillment) Status {
	return Status(f)
}

// DeriveStatus reduces item states to the order status. Priority:
// full cancellation or return, then return requested, then partial return,
// then the fulfillment progression of the live items, with partial
// cancellation shown while that progression has not shipped.
func DeriveStatus(items []Item) Status {
	var (
		live         int
		requested    int
		anyReturned  bool
		anyCancelled bool
		minRank      = len(fulfillmentOrder)
		maxRank      = -1
	)

	for i := range items {
		it := &items[i]
		switch it.Status {
		case ItemReturned:
			anyReturned = true
			continue
		case ItemCancelled:
			anyCancelled = true
			continue
		case ItemReturnRequested:
			requested++
		}
		live++
		r := fulfillmentRank[it.Fulfillment]
		if r < minRank {
			minRank = r
		}
		if r > maxRank {
			maxRank = r
		}
	}

	if live == 0 {
		if anyReturned {
			return StatusReturned
		}
		return StatusCancelled
	}
	if requested == live {
		return StatusReturnRequested
	}
	if anyReturned {
		return StatusPartiallyReturned
	}

	var progression Status
	switch {
	case minRank == maxRank:
		progression = stageStatus(fulfillmentOrder[minRank])
	case fulfillmentOrder[maxRank] == FulfillmentDelivered:
		progression = StatusPartiallyDelivered
	default:
		progression = stageStatus(fulfillmentOrder[minRank])
	}

	if anyCancelled && (progression == StatusPending || progression == StatusProcessing) {
		return StatusPartiallyCancelled
	}
	return progression
}

// cancellable reports whether unshipped items of an order in state s may
// still be cancelled.
func cancellable(s Status) bool {
	switch s {
	case StatusShipped, StatusDelivered, StatusReturnRequested, StatusReturned,
		StatusCancelled, StatusPartiallyReturned:
		return false
	}
	return true
}

// adminCancellable is the narrower set an admin may move to CANCELLED from.
func adminCancellable(s Status) bool {
	return s == StatusPending || s == StatusProcessing || s == StatusPartiallyCancelled
}

// leastLiveStage is the least advanced fulfillment among active items.
func leastLiveStage(items []Item) (Fulfillment, bool) {
	best := -1
	for i := range items {
		if items[i].Status != ItemActive {
			continue
		}
		r := fulfillmentRank[items[i].Fulfillment]
		if best == -1 || r < best {
			best = r
		}
	}
	if best == -1 {
		return "", false
	}
	return fulfillmentOrder[best], true
}

// forwardTarget is the only progression status an admin may move to from s.
func forwardTarget(s Status, items []Item) (Status, bool) {
	switch s {
	case StatusPending:
		return StatusProcessing, true
	case StatusProcessing:
		return StatusShipped, true
	case StatusShipped:
		return StatusDelivered, true
	case StatusPartiallyCancelled, StatusPartiallyDelivered:
		least, ok := leastLiveStage(items)
		if !ok {
			return "", false
		}
		next, ok := nextFulfillment(least)
		if !ok {
			return "", false
		}
		return stageStatus(next), true
	}
	return "", false
}

func isStage(s Status) bool {
	_, ok := fulfillmentRank[Fulfillment(s)]
	return ok
}
