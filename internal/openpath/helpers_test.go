package openpath

import "github.com/asmbly/odvclock/internal/volunteer"

func volunteerFor(id int) volunteer.Volunteer {
	return volunteer.New(id, "Test", "Volunteer", "test@example.com")
}
