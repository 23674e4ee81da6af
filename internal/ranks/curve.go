package ranks

import "math"

// DaysPerMonth is the month length the setup curve assumes.
const DaysPerMonth = 30

// Activity describes what an active member earns per day.
type Activity struct {
	MessagesPerDay     int64
	ChatXPPerMessage   int64
	VoiceMinutesPerDay int64
	VoiceXPPerMinute   int64
}

// DailyXP is the XP a member following the activity profile earns per day.
func (a Activity) DailyXP() int64 {
	return a.MessagesPerDay*a.ChatXPPerMessage + a.VoiceMinutesPerDay*a.VoiceXPPerMinute
}

// TotalXP is the XP earned over months of that activity.
func (a Activity) TotalXP(months float64) float64 {
	return float64(a.DailyXP()) * months * DaysPerMonth
}

// Curve spreads total XP across n ranks on a quadratic curve: rank i (1..n)
// starts at floor(total/n² * i²), so the last rank lands on total.
func Curve(total float64, n int) []int64 {
	if n <= 0 {
		return nil
	}
	a := total / float64(n*n)
	out := make([]int64, n)
	for i := 1; i <= n; i++ {
		out[i-1] = int64(math.Floor(a * float64(i*i)))
	}
	return out
}
