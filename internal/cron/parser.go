// Package cron parses scheduler expressions. Besides standard 5-field cron
// expressions it understands the one-shot at(YYYY-MM-DDTHH:MM:SS) form used
// by EventBridge Scheduler, where the timestamp is UTC without a zone suffix.
package cron

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// AtLayout is the timestamp layout inside an at(...) expression.
const AtLayout = "2006-01-02T15:04:05"

var ErrNotAtExpression = errors.New("not an at() expression")

// FormatAt renders t as a one-shot at(...) expression in UTC.
func FormatAt(t time.Time) string {
	return "at(" + t.UTC().Format(AtLayout) + ")"
}

// ParseAt reads the instant out of an at(...) expression.
func ParseAt(expr string) (time.Time, error) {
	expr = strings.TrimSpace(expr)
	if !strings.HasPrefix(expr, "at(") || !strings.HasSuffix(expr, ")") {
		return time.Time{}, ErrNotAtExpression
	}
	inner := expr[len("at(") : len(expr)-1]
	t, err := time.ParseInLocation(AtLayout, inner, time.UTC)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse at: %w", err)
	}
	return t, nil
}

type Parser struct {
	parser cron.Parser
}

func NewParser() *Parser {
	return &Parser{
		parser: cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow),
	}
}

// Parse returns a schedule for either an at(...) or a cron expression.
// timezone applies to cron expressions only; at(...) is always UTC.
func (p *Parser) Parse(expression string, timezone string) (cron.Schedule, error) {
	if at, err := ParseAt(expression); err == nil {
		return Once(at), nil
	} else if !errors.Is(err, ErrNotAtExpression) {
		return nil, err
	}

	sched, err := p.parser.Parse(expression)
	if err != nil {
		return nil, fmt.Errorf("parse cron: %w", err)
	}

	loc, err := time.LoadLocation(timezone)
	if err != nil {
		return nil, fmt.Errorf("load timezone: %w", err)
	}

	return &schedule{sched: sched, loc: loc}, nil
}

type schedule struct {
	sched cron.Schedule
	loc   *time.Location
}

func (s *schedule) Next(after time.Time) time.Time {
	return s.sched.Next(after.In(s.loc))
}

// OnceSchedule fires a single time. Next returns the zero time once the
// instant has passed, which robfig/cron treats as "never again".
type OnceSchedule struct {
	At time.Time
}

func Once(at time.Time) OnceSchedule {
	return OnceSchedule{At: at.UTC()}
}

func (o OnceSchedule) Next(after time.Time) time.Time {
	if after.Before(o.At) {
		return o.At
	}
	return time.Time{}
}
