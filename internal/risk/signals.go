package risk

import (
	"fmt"
	"math"
	"net/netip"
	"strings"
	"time"

	"github.com/BradenHooton/vigil/internal/config"
	"github.com/BradenHooton/vigil/internal/models"
)

// Per-signal penalties. Each evaluator caps its own contribution; the engine
// clamps the aggregate to [0,100].
const (
	// Count and amount together must clear the review threshold on their
	// own: a sustained burst of spending is reviewable even when every
	// other signal is clean.
	penaltyVelocityCount  = 25
	penaltyVelocityAmount = 35

	penaltyGeoDistance    = 15
	penaltyGeoImplausible = 25

	penaltyDeviceMissing      = 10
	penaltyDeviceUnseen       = 20
	penaltyDeviceDiffPerField = 5
	deviceDiffCap             = 15

	penaltyBehaviorHours = 10
	penaltyRapidRepeat   = 15

	penaltyPrivateNetwork  = 5
	penaltyKnownBadNetwork = 30

	penaltyQuietHours      = 10
	penaltyWeekendBusiness = 10
)

// Financial action classes carry monetary amounts and share a velocity class.
var financialActions = map[string]bool{
	"payment":    true,
	"transfer":   true,
	"withdrawal": true,
	"payout":     true,
	"refund":     true,
}

func isFinancialAction(action string) bool {
	return financialActions[action]
}

func isLoginAction(action string) bool {
	return action == "login"
}

// sameActionClass reports whether a historical event belongs to the same
// velocity class as the action under assessment.
func sameActionClass(ev models.SecurityEvent, action string) bool {
	if isLoginAction(action) {
		return ev.Type == models.EventLoginSuccess || ev.Type == models.EventLoginFailed
	}

	detail, ok := ev.Detail.(models.ActionDetail)
	if !ok {
		return false
	}
	if isFinancialAction(action) {
		return isFinancialAction(detail.Action)
	}
	return detail.Action == action
}

// evaluateVelocity scores the trailing-window action rate and, for financial
// actions, the summed amount.
func evaluateVelocity(policy *config.RiskConfig, history []models.SecurityEvent, action string, amount float64, now time.Time) models.SignalScore {
	s := models.SignalScore{Name: "velocity"}

	cutoff := now.Add(-policy.VelocityWindow)
	count := 0
	var total float64

	for _, ev := range history {
		if ev.Timestamp.Before(cutoff) || !sameActionClass(ev, action) {
			continue
		}
		count++
		if detail, ok := ev.Detail.(models.ActionDetail); ok {
			total += detail.Amount
		}
	}

	if count > policy.VelocityCountLimit {
		s.Score += penaltyVelocityCount
		s.Reasons = append(s.Reasons, fmt.Sprintf("%d actions of this class in the last %s", count, policy.VelocityWindow))
	}

	if isFinancialAction(action) {
		total += amount
		if total > policy.VelocityAmountLimit {
			s.Score += penaltyVelocityAmount
			s.Reasons = append(s.Reasons, fmt.Sprintf("$%.2f moved in the last %s", total, policy.VelocityWindow))
		}
	}

	return s
}

// evaluateGeo compares the declared location against locations recorded in
// the lookback window. Absent input degrades to zero contribution.
func evaluateGeo(policy *config.RiskConfig, history []models.SecurityEvent, location *models.GeoPoint, now time.Time) models.SignalScore {
	s := models.SignalScore{Name: "geography"}
	if location == nil {
		return s
	}

	cutoff := now.Add(-policy.GeoLookback)
	minDistance := math.MaxFloat64
	var lastKnown *models.SecurityEvent

	for i := range history {
		ev := history[i]
		if ev.Timestamp.Before(cutoff) || ev.Location == nil {
			continue
		}
		if d := haversineMiles(*location, *ev.Location); d < minDistance {
			minDistance = d
		}
		if lastKnown == nil || ev.Timestamp.After(lastKnown.Timestamp) {
			lastKnown = &history[i]
		}
	}

	if lastKnown == nil {
		// no known locations to compare against
		return s
	}

	if minDistance > policy.GeoDistanceMiles {
		s.Score += penaltyGeoDistance
		s.Reasons = append(s.Reasons, fmt.Sprintf("%.0f miles from any known location", minDistance))
	}

	jump := haversineMiles(*location, *lastKnown.Location)
	if jump > policy.GeoDistanceMiles && now.Sub(lastKnown.Timestamp) < policy.GeoJumpWindow {
		s.Score += penaltyGeoImplausible
		s.Reasons = append(s.Reasons, fmt.Sprintf("%.0f mile jump within %s of previous activity", jump, policy.GeoJumpWindow))
	}

	return s
}

// evaluateDevice scores fingerprint recognition against the lookback window.
func evaluateDevice(policy *config.RiskConfig, history []models.SecurityEvent, fingerprint string, now time.Time) models.SignalScore {
	s := models.SignalScore{Name: "device"}

	if fingerprint == "" {
		s.Score = penaltyDeviceMissing
		s.Reasons = append(s.Reasons, "no device fingerprint supplied")
		return s
	}

	cutoff := now.Add(-policy.DeviceLookback)
	var mostRecent string
	var mostRecentAt time.Time
	known := false

	for _, ev := range history {
		if ev.Timestamp.Before(cutoff) || ev.DeviceFingerprint == "" {
			continue
		}
		if ev.DeviceFingerprint == fingerprint {
			known = true
		}
		if ev.Timestamp.After(mostRecentAt) {
			mostRecent = ev.DeviceFingerprint
			mostRecentAt = ev.Timestamp
		}
	}

	if known {
		return s
	}

	s.Score = penaltyDeviceUnseen
	s.Reasons = append(s.Reasons, "unrecognized device")

	if mostRecent != "" {
		diff := fingerprintDiff(fingerprint, mostRecent)
		extra := diff * penaltyDeviceDiffPerField
		if extra > deviceDiffCap {
			extra = deviceDiffCap
		}
		if extra > 0 {
			s.Score += extra
			s.Reasons = append(s.Reasons, fmt.Sprintf("%d fingerprint components differ from last known device", diff))
		}
	}

	return s
}

// fingerprintDiff counts differing components between two pipe-delimited
// fingerprints (os|browser|screen|timezone|...).
func fingerprintDiff(a, b string) int {
	fieldsA := strings.Split(a, "|")
	fieldsB := strings.Split(b, "|")

	n := len(fieldsA)
	if len(fieldsB) > n {
		n = len(fieldsB)
	}

	diff := 0
	for i := 0; i < n; i++ {
		var fa, fb string
		if i < len(fieldsA) {
			fa = fieldsA[i]
		}
		if i < len(fieldsB) {
			fb = fieldsB[i]
		}
		if fa != fb {
			diff++
		}
	}
	return diff
}

// evaluateBehavior scores deviation from the principal's usual hour of
// activity plus rapid same-type repetition.
func evaluateBehavior(policy *config.RiskConfig, history []models.SecurityEvent, action string, now time.Time) models.SignalScore {
	s := models.SignalScore{Name: "behavior"}

	cutoff := now.Add(-policy.BehaviorLookback)
	var hourSum float64
	hourCount := 0
	rapidCutoff := now.Add(-policy.RapidRepeatWindow)
	rapid := 0

	for _, ev := range history {
		if !ev.Timestamp.Before(cutoff) {
			hourSum += float64(ev.Timestamp.Hour())
			hourCount++
		}
		if !ev.Timestamp.Before(rapidCutoff) && sameActionClass(ev, action) {
			rapid++
		}
	}

	if hourCount > 0 {
		mean := hourSum / float64(hourCount)
		deviation := math.Abs(float64(now.Hour()) - mean)
		if deviation > 12 {
			deviation = 24 - deviation
		}
		if deviation > policy.BehaviorHourDeviation {
			s.Score += penaltyBehaviorHours
			s.Reasons = append(s.Reasons, fmt.Sprintf("activity %.1f hours outside the usual pattern", deviation))
		}
	}

	if rapid > policy.RapidRepeatLimit {
		s.Score += penaltyRapidRepeat
		s.Reasons = append(s.Reasons, fmt.Sprintf("%d same-type actions within %s", rapid, policy.RapidRepeatWindow))
	}

	return s
}

// scoreNetwork computes a fresh reputation sub-score for an address. Called
// by the engine only on cache miss or stale entry.
func scoreNetwork(policy *config.RiskConfig, address string) (models.SignalScore, error) {
	s := models.SignalScore{Name: "network"}

	addr, err := netip.ParseAddr(address)
	if err != nil {
		return s, fmt.Errorf("%w: unparseable address %q", models.ErrSignalUnavailable, address)
	}

	if addr.IsPrivate() || addr.IsLoopback() || addr.IsLinkLocalUnicast() || addr.IsUnspecified() {
		s.Score += penaltyPrivateNetwork
		s.Reasons = append(s.Reasons, "private or reserved address range")
	}

	for _, pattern := range policy.KnownBadPatterns {
		if pattern != "" && strings.HasPrefix(address, pattern) {
			s.Score += penaltyKnownBadNetwork
			s.Reasons = append(s.Reasons, "address matches known-bad pattern")
			break
		}
	}

	return s, nil
}

// evaluateTemporal scores the local-time context of the action.
func evaluateTemporal(policy *config.RiskConfig, kind models.PrincipalKind, now time.Time) models.SignalScore {
	s := models.SignalScore{Name: "temporal"}

	hour := now.Hour()
	if hour >= policy.QuietHoursStart && hour < policy.QuietHoursEnd {
		s.Score += penaltyQuietHours
		s.Reasons = append(s.Reasons, fmt.Sprintf("activity at %02d:00 local time", hour))
	}

	weekday := now.Weekday()
	if kind == models.KindBusinessOwner && (weekday == time.Saturday || weekday == time.Sunday) {
		s.Score += penaltyWeekendBusiness
		s.Reasons = append(s.Reasons, "business account active on a weekend")
	}

	return s
}
