/**
 * @description
 * Package progression holds the pure parts of the progression engine: the
 * level curve, level titles and the daily streak transition. Everything that
 * touches storage lives in internal/app.
 */

package progression

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
)

// DefaultThresholds is the cumulative XP required to reach levels 1..50.
var DefaultThresholds = []int64{
	0, 100, 300, 600, 1000, 1500, 2100, 2800, 3600, 4500,
	5500, 6600, 7800, 9100, 10500, 12000, 13600, 15300, 17100, 19000,
	21000, 23100, 25300, 27600, 30000, 32500, 35100, 37800, 40600, 43500,
	46500, 49600, 52800, 56100, 59500, 63000, 66600, 70300, 74100, 78000,
	82000, 86100, 90300, 94600, 99000, 103500, 108100, 112800, 117600, 122500,
}

// TitleBand names every level >= MinLevel until the next band.
type TitleBand struct {
	MinLevel int
	Title    string
}

// DefaultTitles are the level titles shown to collectors.
var DefaultTitles = []TitleBand{
	{1, "Newcomer"},
	{5, "Explorer"},
	{10, "Mapper"},
	{15, "Scout"},
	{20, "Pathfinder"},
	{25, "Surveyor"},
	{30, "Navigator"},
	{35, "Trailblazer"},
	{40, "Pioneer"},
	{45, "Master"},
	{50, "Legend"},
}

// Curve maps total XP to a level and a level to a title.
type Curve struct {
	thresholds []int64
	titles     []TitleBand
}

// NewCurve validates that thresholds start at 0 and strictly increase.
func NewCurve(thresholds []int64, titles []TitleBand) (*Curve, error) {
	if len(thresholds) == 0 || thresholds[0] != 0 {
		return nil, fmt.Errorf("level curve must start at 0 xp")
	}
	for i := 1; i < len(thresholds); i++ {
		if thresholds[i] <= thresholds[i-1] {
			return nil, fmt.Errorf("level threshold %d (%d) must exceed level %d (%d)", i+1, thresholds[i], i, thresholds[i-1])
		}
	}
	bands := append([]TitleBand(nil), titles...)
	sort.Slice(bands, func(i, j int) bool { return bands[i].MinLevel < bands[j].MinLevel })
	return &Curve{thresholds: append([]int64(nil), thresholds...), titles: bands}, nil
}

// DefaultCurve returns the production curve.
func DefaultCurve() *Curve {
	c, err := NewCurve(DefaultThresholds, DefaultTitles)
	if err != nil {
		panic(err)
	}
	return c
}

// ParseThresholds reads a comma separated list of cumulative XP values.
func ParseThresholds(raw string) ([]int64, error) {
	var out []int64
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		v, err := strconv.ParseInt(part, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid level threshold %q: %w", part, err)
		}
		out = append(out, v)
	}
	return out, nil
}

// MaxLevel is the highest reachable level.
func (c *Curve) MaxLevel() int {
	return len(c.thresholds)
}

// LevelFromXP returns the highest level whose threshold totalXP reaches.
func (c *Curve) LevelFromXP(totalXP int64) int {
	idx := sort.Search(len(c.thresholds), func(i int) bool { return c.thresholds[i] > totalXP })
	if idx == 0 {
		return 1
	}
	return idx
}

// XPForLevel returns the cumulative XP needed to reach level.
func (c *Curve) XPForLevel(level int) int64 {
	if level <= 1 {
		return 0
	}
	if level > len(c.thresholds) {
		level = len(c.thresholds)
	}
	return c.thresholds[level-1]
}

// TitleForLevel returns the title of the highest band level reaches.
func (c *Curve) TitleForLevel(level int) string {
	title := ""
	for _, band := range c.titles {
		if level >= band.MinLevel {
			title = band.Title
		}
	}
	if title == "" && len(c.titles) > 0 {
		title = c.titles[0].Title
	}
	return title
}

// StreakTransition computes the streak after activity at now. lastActivity
// is the stored calendar day of the previous activity (see CalendarDay), nil
// if there was none.
// changed is false when the user was already active on now's calendar day.
func StreakTransition(current int, lastActivity *time.Time, now time.Time, loc *time.Location) (next int, changed bool) {
	if loc == nil {
		loc = time.UTC
	}
	if lastActivity == nil {
		return 1, true
	}
	diff := DaysSince(*lastActivity, now, loc)
	switch {
	case diff <= 0:
		return current, false
	case diff == 1:
		return current + 1, true
	default:
		return 1, true
	}
}

// DaysSince counts calendar days from the stored day to now's day in loc.
func DaysSince(day time.Time, now time.Time, loc *time.Location) int {
	y, m, d := day.UTC().Date()
	from := time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
	return int(CalendarDay(now, loc).Sub(from).Hours() / 24)
}

// CalendarDay truncates t to midnight in loc, expressed as a UTC date.
func CalendarDay(t time.Time, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	y, m, d := t.In(loc).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// StreakBonusXP is perDay XP per streak day, capped at maxBonus when maxBonus > 0.
// A first-day streak earns nothing.
func StreakBonusXP(streak int, perDay, maxBonus int64) int64 {
	if streak <= 1 {
		return 0
	}
	bonus := int64(streak) * perDay
	if maxBonus > 0 && bonus > maxBonus {
		bonus = maxBonus
	}
	return bonus
}
