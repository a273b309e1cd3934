package models

import (
	"fmt"
	"time"
)

// ResponderKind distinguishes the two kinds of responder a policy step
// can target.
type ResponderKind string

const (
	ResponderIndividual ResponderKind = "individual"
	ResponderRotation   ResponderKind = "rotation"
)

// ChannelKind identifies the notification channel for a policy step.
// Delivery mechanics are the notifier's concern; the engine only
// records the intent.
type ChannelKind string

const (
	ChannelEmail ChannelKind = "email"
	ChannelSMS   ChannelKind = "sms"
	ChannelChat  ChannelKind = "chat"
	ChannelPager ChannelKind = "pager"
)

// Valid reports whether the channel is one of the known kinds.
func (c ChannelKind) Valid() bool {
	switch c {
	case ChannelEmail, ChannelSMS, ChannelChat, ChannelPager:
		return true
	}
	return false
}

// ResponderRef points at either a named individual or an on-call
// schedule to be resolved at fire time.
type ResponderRef struct {
	Kind ResponderKind `json:"kind" yaml:"kind"`
	ID   string        `json:"id" yaml:"id"`
}

// PolicyStep is one rung of an escalation ladder: wait this long in
// the step, then notify the responder over the channel.
type PolicyStep struct {
	Wait      time.Duration `json:"wait" yaml:"wait"`
	Responder ResponderRef  `json:"responder" yaml:"responder"`
	Channel   ChannelKind   `json:"channel" yaml:"channel"`
}

// EscalationPolicy is an ordered list of steps. Waits are non-negative
// but need not be monotonic.
type EscalationPolicy struct {
	ID        string       `json:"id"`
	Name      string       `json:"name"`
	Steps     []PolicyStep `json:"steps"`
	CreatedAt time.Time    `json:"created_at"`
	UpdatedAt time.Time    `json:"updated_at"`
}

// Validate checks the policy for structural errors.
func (p *EscalationPolicy) Validate() error {
	if p.Name == "" {
		return fmt.Errorf("policy name is required")
	}
	if len(p.Steps) == 0 {
		return fmt.Errorf("policy must have at least one step")
	}
	for i, step := range p.Steps {
		if step.Wait < 0 {
			return fmt.Errorf("step %d: wait must be non-negative", i)
		}
		switch step.Responder.Kind {
		case ResponderIndividual, ResponderRotation:
		default:
			return fmt.Errorf("step %d: unknown responder kind %q", i, step.Responder.Kind)
		}
		if step.Responder.ID == "" {
			return fmt.Errorf("step %d: responder id is required", i)
		}
		if !step.Channel.Valid() {
			return fmt.Errorf("step %d: unknown channel %q", i, step.Channel)
		}
	}
	return nil
}
