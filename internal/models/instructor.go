package models

import (
	"sort"

	"github.com/lib/pq"
)

// InstructorCategory is the seniority tier controlling distance eligibility and quota priority.
type InstructorCategory string

const (
	CategoryMain      InstructorCategory = "MAIN"
	CategoryCo        InstructorCategory = "CO"
	CategoryAssistant InstructorCategory = "ASSISTANT"
	CategoryPracticum InstructorCategory = "PRACTICUM"
)

// CategoryPriority lists categories in quota filling order.
var CategoryPriority = []InstructorCategory{CategoryMain, CategoryCo, CategoryAssistant, CategoryPracticum}

// Valid reports whether the category is known.
func (c InstructorCategory) Valid() bool {
	return c.Rank() >= 0
}

// Rank returns the priority index of the category, -1 when unknown.
func (c InstructorCategory) Rank() int {
	for i, candidate := range CategoryPriority {
		if candidate == c {
			return i
		}
	}
	return -1
}

// Instructor is read from the profile store; this service never mutates it.
type Instructor struct {
	ID             string             `db:"id" json:"id"`
	Name           string             `db:"name" json:"name"`
	Category       InstructorCategory `db:"category" json:"category"`
	AvailableDates pq.StringArray     `db:"available_dates" json:"availableDates"`
	Latitude       float64            `db:"latitude" json:"latitude"`
	Longitude      float64            `db:"longitude" json:"longitude"`
	Address        string             `db:"address" json:"address,omitempty"`
}

// AvailableOn reports whether the instructor declared the given date.
func (i Instructor) AvailableOn(date string) bool {
	for _, d := range i.AvailableDates {
		if d == date {
			return true
		}
	}
	return false
}

// SortInstructors orders instructors by id.
func SortInstructors(list []Instructor) {
	sort.Slice(list, func(a, b int) bool { return list[a].ID < list[b].ID })
}
