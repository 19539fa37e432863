package models

// Alphabet used for generated board and item ids.
const Alphabet = "0123456789abcdefghijklmnopqrstuvwxyz"

// DefaultMaxVotesPerUser applies when a board is created without a cap.
const DefaultMaxVotesPerUser = 5

type ErrorResponse struct {
	Error string `json:"error"`
}
