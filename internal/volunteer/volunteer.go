package volunteer

import "strconv"

// Volunteer is an Openpath user who clocks in and out of on-duty shifts.
//
// FullName is used as the human-facing key for timesheet names and master
// log tabs. It is built verbatim from the identity record, so two people who
// share a first and last name share those documents. Internal state (the
// shift side index) is keyed by ID instead.
type Volunteer struct {
	ID        int
	FirstName string
	LastName  string
	FullName  string
	Email     string
}

func New(id int, firstName, lastName, email string) Volunteer {
	return Volunteer{
		ID:        id,
		FirstName: firstName,
		LastName:  lastName,
		FullName:  firstName + " " + lastName,
		Email:     email,
	}
}

// Key is the stable internal key for the volunteer.
func (v Volunteer) Key() string {
	return strconv.Itoa(v.ID)
}
