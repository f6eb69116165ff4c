package timeutil

import "time"

// BillDateLayout is the channel's yyyyMMdd date format for statements and settlement dates
const BillDateLayout = "20060102"

// channelZone is the channel's business day timezone (UTC+8, no DST)
var channelZone = time.FixedZone("CST", 8*60*60)

// Now returns the current time in UTC
func Now() time.Time {
	return time.Now().UTC()
}

// BillDate formats t as the channel business day it falls on
func BillDate(t time.Time) string {
	return t.In(channelZone).Format(BillDateLayout)
}

// PreviousBillDate returns the channel business day before the one now falls on,
// the newest day a statement can exist for
func PreviousBillDate(now time.Time) string {
	return BillDate(now.In(channelZone).AddDate(0, 0, -1))
}

// ParseBillDate parses a yyyyMMdd channel business day, returning its start in UTC
func ParseBillDate(value string) (time.Time, error) {
	t, err := time.ParseInLocation(BillDateLayout, value, channelZone)
	if err != nil {
		return time.Time{}, err
	}
	return t.UTC(), nil
}

// SettleDate extracts the yyyyMMdd settlement date from a channel yyyyMMddHHmmss
// timestamp, or "" when the value is too short to carry one
func SettleDate(channelTime string) string {
	if len(channelTime) < len(BillDateLayout) {
		return ""
	}
	return channelTime[:len(BillDateLayout)]
}
