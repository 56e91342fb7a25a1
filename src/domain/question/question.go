package question

import (
	"context"
	"errors"
)

// Question is one multiple-choice ritual question.
type Question struct {
	ID           string   `json:"id"`
	Text         string   `json:"question"`
	Options      []string `json:"options"`
	CorrectIndex *int     `json:"correct_index"`
	Explanation  string   `json:"explanation"`
	Domain       string   `json:"domaine"`
	Level        string   `json:"niveau"`
}

const (
	DefaultDrawSize = 15
	MaxDrawSize     = 50
)

var ErrBankUnavailable = errors.New("question bank unavailable")

// Repository draws questions from the bank.
type Repository interface {
	Random(ctx context.Context, count int) ([]Question, error)
}
