package domain

// Identity is a candidate user profile for one registration attempt.
// Immutable once generated.
type Identity struct {
	FirstName      string
	LastName       string
	EmailLocalPart string
	Password       string
	Company        string
	Country        string
}

func (i Identity) FullName() string {
	if i.FirstName == "" {
		return i.LastName
	}
	if i.LastName == "" {
		return i.FirstName
	}
	return i.FirstName + " " + i.LastName
}
