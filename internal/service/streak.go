package service

import (
	"sort"
	"time"
)

// LongestStreak 有通过记录的不同日历日中最长的连续天数。
// 日期按 loc 所在时区切分，计算时统一换算成 UTC 零点避免夏令时影响。
func LongestStreak(passedAt []time.Time, loc *time.Location) int {
	if loc == nil {
		loc = time.UTC
	}

	seen := make(map[time.Time]struct{}, len(passedAt))
	days := make([]time.Time, 0, len(passedAt))
	for _, t := range passedAt {
		y, m, d := t.In(loc).Date()
		day := time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
		if _, ok := seen[day]; ok {
			continue
		}
		seen[day] = struct{}{}
		days = append(days, day)
	}
	if len(days) == 0 {
		return 0
	}

	sort.Slice(days, func(i, j int) bool { return days[i].Before(days[j]) })

	best, current := 1, 1
	for i := 1; i < len(days); i++ {
		if days[i].Sub(days[i-1]) == 24*time.Hour {
			current++
		} else {
			current = 1
		}
		if current > best {
			best = current
		}
	}
	return best
}
