package openpath

type userResponse struct {
	Data User `json:"data"`
}

// User is the subset of an Openpath user record the pipeline needs.
type User struct {
	ID       int      `json:"id"`
	Status   string   `json:"status"`
	Identity Identity `json:"identity"`
}

type Identity struct {
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
	Email     string `json:"email"`
}
