package alarm

// Actor identifies who issued a command.
type Actor struct {
	// Hostname is the machine name where the command originated.
	Hostname string `json:"hostname"`
	// Username is the user or integration that issued it.
	Username string `json:"username"`
}

// Clone returns a deep copy of the actor.
func (a *Actor) Clone() *Actor {
	if a == nil {
		return nil
	}

	cloned := *a

	return &cloned
}

// String renders the actor as username@hostname.
func (a *Actor) String() string {
	if a == nil {
		return "<unknown>"
	}

	return a.Username + "@" + a.Hostname
}
