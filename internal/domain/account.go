package domain

import "time"

// RegisteredAccount is the durable record of a successful run.
type RegisteredAccount struct {
	Email        string
	Password     string
	FirstName    string
	LastName     string
	Country      string
	APIKey       string
	RegisteredAt time.Time
}
