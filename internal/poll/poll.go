// Package poll implements the voting rules of poll messages. Everything here
// is pure; persistence and per-message serialisation belong to messaging.
package poll

import (
	"fmt"
	"slices"
	"strings"

	"github.com/R3E-Network/walletchat/internal/domain"
	"github.com/R3E-Network/walletchat/internal/domain/chat"
)

// MinOptions is the smallest number of options a poll may offer.
const MinOptions = 2

// New validates and builds a poll with an empty voter set per option.
func New(question string, options []string) (*chat.Poll, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return nil, fmt.Errorf("%w: question is required", domain.ErrInvalidPoll)
	}
	if len(options) < MinOptions {
		return nil, fmt.Errorf("%w: need at least %d options", domain.ErrInvalidPoll, MinOptions)
	}

	p := &chat.Poll{
		Question: question,
		Options:  make([]string, 0, len(options)),
		Votes:    make(map[string][]string, len(options)),
	}
	for _, opt := range options {
		opt = strings.TrimSpace(opt)
		if opt == "" {
			return nil, fmt.Errorf("%w: empty option", domain.ErrInvalidPoll)
		}
		if _, dup := p.Votes[opt]; dup {
			return nil, fmt.Errorf("%w: duplicate option %q", domain.ErrInvalidPoll, opt)
		}
		p.Options = append(p.Options, opt)
		p.Votes[opt] = []string{}
	}
	return p, nil
}

// HasVoted reports whether voter appears in any option's set.
func HasVoted(p *chat.Poll, voter string) bool {
	for _, voters := range p.Votes {
		if slices.Contains(voters, voter) {
			return true
		}
	}
	return false
}

// Vote records voter's choice in p. A voter who already voted anywhere is
// left untouched and changed is false; re-voting is not an error.
func Vote(p *chat.Poll, voter, option string) (bool, error) {
	if p == nil {
		return false, fmt.Errorf("%w: message has no poll", domain.ErrInvalidPoll)
	}
	if !slices.Contains(p.Options, option) {
		return false, fmt.Errorf("%w: unknown option %q", domain.ErrInvalidPoll, option)
	}
	if HasVoted(p, voter) {
		return false, nil
	}
	if p.Votes == nil {
		p.Votes = make(map[string][]string, len(p.Options))
	}
	p.Votes[option] = append(p.Votes[option], voter)
	return true, nil
}

// Result is the tally of one option.
type Result struct {
	Option  string  `json:"option"`
	Count   int     `json:"count"`
	Percent float64 `json:"percent"`
}

// Tally counts votes per option in option order. Percentages are 0 when
// nobody has voted.
func Tally(p *chat.Poll) []Result {
	if p == nil {
		return nil
	}
	total := 0
	for _, opt := range p.Options {
		total += len(p.Votes[opt])
	}
	out := make([]Result, len(p.Options))
	for i, opt := range p.Options {
		count := len(p.Votes[opt])
		out[i] = Result{Option: opt, Count: count}
		if total > 0 {
			out[i].Percent = float64(count) * 100 / float64(total)
		}
	}
	return out
}
