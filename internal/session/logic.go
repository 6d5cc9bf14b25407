package session

import "context"

// Logic is one pluggable unit of hosted game logic. The host calls every
// method through the governor, so each call is budgeted and may be preempted.
// Calls for the same room are not serialised by the host.
type Logic interface {
	// Init runs once, right after construction, as part of the budgeted
	// construction call.
	Init(ctx context.Context, room *Room) error
	// Started runs once when the room reaches capacity.
	Started(ctx context.Context) error
	// Closed runs once when the room is torn down.
	Closed(ctx context.Context) error
	// Allow decides whether p may join. p is not yet a member.
	Allow(ctx context.Context, p *Participant) bool
	Joined(ctx context.Context, p *Participant) error
	Left(ctx context.Context, p *Participant) error
	Message(ctx context.Context, p *Participant, msg Message) error
}

// BaseLogic implements every Logic hook as a no-op that allows all joins.
// Embed it to override only the hooks you need.
type BaseLogic struct{}

func (BaseLogic) Init(context.Context, *Room) error { return nil }

func (BaseLogic) Started(context.Context) error { return nil }

func (BaseLogic) Closed(context.Context) error { return nil }

func (BaseLogic) Allow(context.Context, *Participant) bool { return true }

func (BaseLogic) Joined(context.Context, *Participant) error { return nil }

func (BaseLogic) Left(context.Context, *Participant) error { return nil }

func (BaseLogic) Message(context.Context, *Participant, Message) error { return nil }
