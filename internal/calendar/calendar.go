// Package calendar computes the day, week and month grids shown by the
// scheduling UI and packs overlapping appointments into side-by-side columns.
package calendar

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

type View string

const (
	ViewDay   View = "day"
	ViewWeek  View = "week"
	ViewMonth View = "month"
)

func ParseView(value string) (View, error) {
	switch View(strings.ToLower(strings.TrimSpace(value))) {
	case "", ViewWeek:
		return ViewWeek, nil
	case ViewDay:
		return ViewDay, nil
	case ViewMonth:
		return ViewMonth, nil
	default:
		return "", fmt.Errorf("unknown calendar view %q", value)
	}
}

type Event struct {
	ID    string    `json:"id"`
	Title string    `json:"title"`
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
	Kind  string    `json:"kind,omitempty"`
}

func (e Event) overlaps(other Event) bool {
	return e.Start.Before(other.End) && other.Start.Before(e.End)
}

// Placed is an event positioned inside its overlap group.
type Placed struct {
	Event
	Column  int `json:"column"`
	Columns int `json:"columns"`
}

type Day struct {
	Date    string   `json:"date"`
	InMonth bool     `json:"inMonth"`
	Events  []Placed `json:"events"`
}

func startOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

func startOfWeek(t time.Time, weekStart time.Weekday) time.Time {
	day := startOfDay(t)
	offset := (int(day.Weekday()) - int(weekStart) + 7) % 7
	return day.AddDate(0, 0, -offset)
}

func DayGrid(date time.Time) []time.Time {
	return []time.Time{startOfDay(date)}
}

func WeekGrid(date time.Time, weekStart time.Weekday) []time.Time {
	first := startOfWeek(date, weekStart)
	days := make([]time.Time, 7)
	for i := range days {
		days[i] = first.AddDate(0, 0, i)
	}
	return days
}

// MonthGrid covers whole weeks from the week holding the 1st through the week
// holding the last day of the month.
func MonthGrid(date time.Time, weekStart time.Weekday) []time.Time {
	y, m, _ := date.Date()
	firstOfMonth := time.Date(y, m, 1, 0, 0, 0, 0, date.Location())
	lastOfMonth := firstOfMonth.AddDate(0, 1, -1)
	first := startOfWeek(firstOfMonth, weekStart)
	last := startOfWeek(lastOfMonth, weekStart).AddDate(0, 0, 6)
	var days []time.Time
	for d := first; !d.After(last); d = d.AddDate(0, 0, 1) {
		days = append(days, d)
	}
	return days
}

func Grid(view View, date time.Time, weekStart time.Weekday) []time.Time {
	switch view {
	case ViewDay:
		return DayGrid(date)
	case ViewMonth:
		return MonthGrid(date, weekStart)
	default:
		return WeekGrid(date, weekStart)
	}
}

// Range returns the half-open [from, to) interval covered by a view.
func Range(view View, date time.Time, weekStart time.Weekday) (time.Time, time.Time) {
	days := Grid(view, date, weekStart)
	return days[0], days[len(days)-1].AddDate(0, 0, 1)
}

// GroupOverlapping splits events into connected components of the overlap
// graph. Events that merely touch do not overlap. Groups are ordered by their
// earliest start.
func GroupOverlapping(events []Event) [][]Event {
	n := len(events)
	adjacency := make([][]int, n)
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			if events[i].overlaps(events[j]) {
				adjacency[i] = append(adjacency[i], j)
				adjacency[j] = append(adjacency[j], i)
			}
		}
	}

	visited := make([]bool, n)
	var groups [][]Event
	for i := 0; i < n; i++ {
		if visited[i] {
			continue
		}
		var group []Event
		stack := []int{i}
		visited[i] = true
		for len(stack) > 0 {
			current := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			group = append(group, events[current])
			for _, next := range adjacency[current] {
				if !visited[next] {
					visited[next] = true
					stack = append(stack, next)
				}
			}
		}
		sortEvents(group)
		groups = append(groups, group)
	}
	sort.SliceStable(groups, func(a, b int) bool {
		return groups[a][0].Start.Before(groups[b][0].Start)
	})
	return groups
}

func sortEvents(events []Event) {
	sort.SliceStable(events, func(a, b int) bool {
		if !events[a].Start.Equal(events[b].Start) {
			return events[a].Start.Before(events[b].Start)
		}
		return events[a].End.After(events[b].End)
	})
}

// Layout places each event in the first column whose last event ended at or
// before its start.
func Layout(events []Event) []Placed {
	var placed []Placed
	for _, group := range GroupOverlapping(events) {
		var columnEnds []time.Time
		start := len(placed)
		for _, event := range group {
			column := -1
			for i, end := range columnEnds {
				if !end.After(event.Start) {
					column = i
					break
				}
			}
			if column < 0 {
				column = len(columnEnds)
				columnEnds = append(columnEnds, event.End)
			} else {
				columnEnds[column] = event.End
			}
			placed = append(placed, Placed{Event: event, Column: column})
		}
		for i := start; i < len(placed); i++ {
			placed[i].Columns = len(columnEnds)
		}
	}
	return placed
}

// BuildView clips events into every grid day they touch and lays each day
// out independently.
func BuildView(view View, date time.Time, weekStart time.Weekday, events []Event) []Day {
	grid := Grid(view, date, weekStart)
	month := date.Month()
	days := make([]Day, 0, len(grid))
	for _, day := range grid {
		dayStart := day
		dayEnd := day.AddDate(0, 0, 1)
		var clipped []Event
		for _, event := range events {
			if !event.End.After(event.Start) {
				continue
			}
			if !event.Start.Before(dayEnd) || !event.End.After(dayStart) {
				continue
			}
			if event.Start.Before(dayStart) {
				event.Start = dayStart
			}
			if event.End.After(dayEnd) {
				event.End = dayEnd
			}
			clipped = append(clipped, event)
		}
		placed := Layout(clipped)
		if placed == nil {
			placed = []Placed{}
		}
		days = append(days, Day{
			Date:    day.Format("2006-01-02"),
			InMonth: view != ViewMonth || day.Month() == month,
			Events:  placed,
		})
	}
	return days
}
