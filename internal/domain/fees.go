package domain

// FeeSchedule is the per-venue fee model. Maker and taker fees are fractions
// of notional (0.001 = 0.1%); the withdrawal fee is a fixed amount in quote
// currency per transfer.
type FeeSchedule struct {
	MakerFee      float64
	TakerFee      float64
	WithdrawalFee float64
}

// DefaultFeeSchedule is used for venues without an explicit schedule.
var DefaultFeeSchedule = FeeSchedule{MakerFee: 0.001, TakerFee: 0.001}

// FeeTable is a static, read-only lookup of fee schedules by venue.
type FeeTable map[string]FeeSchedule

// Lookup returns the venue's schedule, or DefaultFeeSchedule when the venue
// is unknown.
func (t FeeTable) Lookup(venue string) FeeSchedule {
	if s, ok := t[venue]; ok {
		return s
	}
	return DefaultFeeSchedule
}
